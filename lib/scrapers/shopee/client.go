// Package shopee queries the Shopee store-to-store (SPX) tracking page.
// The page is rendered entirely by JavaScript, so a headless browser
// loads each detail URL and the settled DOM is parsed offline. No
// CAPTCHA, but the markup shifts between rollouts so the parser walks a
// set of selector fallbacks.
package shopee

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"package-tracker/lib/browserutil"
	"package-tracker/lib/textutil"
	"package-tracker/lib/track"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("lib/scrapers/shopee")

const detailUrlPrefix = "https://spx.tw/detail/"

// waitSelectors settle the page: any one of them appearing means the
// SPA has rendered its tracking view.
const waitSelectors = `.detail-list-item, .order-status-title, [class*="tracking"], [class*="status"]`

var descriptor = track.Descriptor{
	Name:             "蝦皮店到店",
	Icon:             "",
	MaxBatch:         5,
	SupportsParallel: false,
}

type Client struct {
	// NewBrowser is swapped out in tests. Defaults to browserutil.Launch.
	NewBrowser func() (browserutil.Browser, error)
}

type Options struct {
	Browser browserutil.Options
}

func NewClient(opts Options) *Client {
	browserOpts := opts.Browser
	if browserOpts.PageTimeout <= 0 {
		browserOpts.PageTimeout = 15 * time.Second
	}
	return &Client{
		NewBrowser: func() (browserutil.Browser, error) {
			return browserutil.Launch(browserOpts)
		},
	}
}

func (c *Client) Descriptor() track.Descriptor {
	return descriptor
}

// QueryBatch loads one detail page per tracking number in a single
// browser session. Failures are folded into per-number rows: one dead
// page should not sink the rest of the batch.
func (c *Client) QueryBatch(ctx context.Context, trackingNumbers []string) ([]track.QueryResult, error) {
	ctx, span := tracer.Start(ctx, "shopee.QueryBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(trackingNumbers)))

	browser, err := c.NewBrowser()
	if err != nil {
		err = fmt.Errorf("%w: %v", track.ErrResource, err)
		span.RecordError(err)
		slog.ErrorContext(ctx, "browser launch failed", "carrier", descriptor.Name, "err", err)
		return track.FailureRows(trackingNumbers, "瀏覽器錯誤: "+err.Error()), nil
	}
	defer browser.Close()

	var results []track.QueryResult
	for i, trackingNo := range trackingNumbers {
		trackingNo = strings.TrimSpace(trackingNo)
		if trackingNo == "" {
			continue
		}

		results = append(results, c.querySingle(ctx, browser, trackingNo))

		if i < len(trackingNumbers)-1 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}
	}
	return results, nil
}

func (c *Client) querySingle(ctx context.Context, browser browserutil.Browser, trackingNo string) track.QueryResult {
	status, err := c.fetchStatus(ctx, browser, trackingNo)
	if err != nil {
		slog.WarnContext(ctx, "detail page query failed",
			"carrier", descriptor.Name,
			"tracking_number", trackingNo,
			"err", err,
		)
		return track.NewResult(trackingNo, track.FailureStatus(textutil.Truncate(err.Error(), 40)))
	}
	return track.NewResult(trackingNo, status)
}

func (c *Client) fetchStatus(ctx context.Context, browser browserutil.Browser, trackingNo string) (string, error) {
	page, err := browser.NewPage(ctx)
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	err = page.Navigate(detailUrlPrefix + trackingNo)
	if err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}

	// ignore the error: a page that never settles is still worth a
	// parse attempt, the fallbacks below handle an empty DOM
	if has, _, hasErr := page.Has(waitSelectors); hasErr == nil && !has {
		_ = page.WaitStable(2 * time.Second)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}

	status, err := parseStatus(html)
	if err != nil {
		return "", err
	}
	return status, nil
}

// parseStatus walks the selector fallbacks from the current markup to
// the oldest observed one, then falls back on a dated line of raw text.
func parseStatus(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	status := ""

	// newest markup: a timeline where the first item is the latest
	if item := doc.Find(".detail-list-item").First(); item.Length() > 0 {
		date := textutil.NormalizeSpace(item.Find(".item-date").Text())
		info := textutil.NormalizeSpace(item.Find(".item-text-box").Text())
		status = strings.TrimSpace(date + " " + info)
	}

	if status == "" {
		for _, selector := range []string{
			".order-status-title",
			`[class*="tracking"]`,
			`[class*="status"]`,
		} {
			if el := doc.Find(selector).First(); el.Length() > 0 {
				status = textutil.NormalizeSpace(el.Text())
				if status != "" {
					break
				}
			}
		}
	}

	if status == "" {
		status = textutil.FirstEnglishDateLine(doc.Find("body").Text())
	}
	if status == "" {
		status = "⚠️ 無法取得物流狀態"
	}

	return textutil.Truncate(status, 80), nil
}

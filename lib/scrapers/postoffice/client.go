// Package postoffice queries the Chunghwa Post registered-mail tracker.
// The page is an AngularJS SPA with no usable API surface, so a
// headless browser fills the form, solves the on-page CAPTCHA from an
// element screenshot, and the rendered result page is parsed offline.
package postoffice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"package-tracker/lib/backoff"
	"package-tracker/lib/browserutil"
	"package-tracker/lib/captcha"
	"package-tracker/lib/textutil"
	"package-tracker/lib/track"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("lib/scrapers/postoffice")

const (
	queryUrl = "https://postserv.post.gov.tw/pstmail/main_mail.html"

	formSlots = 5
)

var descriptor = track.Descriptor{
	Name:             "郵局掛號",
	Icon:             "📮",
	MaxBatch:         formSlots,
	SupportsParallel: false,
}

// statusKeywords mark table rows that carry a delivery state.
var statusKeywords = []string{"送達", "投遞", "招領", "退回", "處理", "運送"}

type Client struct {
	classifier captcha.Classifier
	retry      backoff.Config
	// NewBrowser is swapped out in tests. Defaults to browserutil.Launch.
	NewBrowser func() (browserutil.Browser, error)
}

type Options struct {
	Classifier captcha.Classifier
	Browser    browserutil.Options
	// MaxRetries bounds CAPTCHA attempts per batch. Defaults to 5.
	MaxRetries int
}

func NewClient(opts Options) *Client {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	browserOpts := opts.Browser
	return &Client{
		classifier: opts.Classifier,
		retry: backoff.Config{
			Base:       time.Second,
			MaxRetries: maxRetries,
			Retryable:  track.Retryable,
		},
		NewBrowser: func() (browserutil.Browser, error) {
			return browserutil.Launch(browserOpts)
		},
	}
}

func (c *Client) Descriptor() track.Descriptor {
	return descriptor
}

// QueryBatch drives one browser session through the form for up to five
// tracking numbers. A browser that cannot be launched is reported as
// per-number failure rows since nothing about a retry would change it.
func (c *Client) QueryBatch(ctx context.Context, trackingNumbers []string) ([]track.QueryResult, error) {
	ctx, span := tracer.Start(ctx, "postoffice.QueryBatch")
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
	err = backoff.Do(ctx, c.retry, func() error {
		var opErr error
		results, opErr = c.queryOnce(ctx, browser, trackingNumbers)
		return opErr
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", track.ErrBatchUnrecoverable, err)
	}
	return results, nil
}

func (c *Client) queryOnce(ctx context.Context, browser browserutil.Browser, trackingNumbers []string) ([]track.QueryResult, error) {
	page, err := browser.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open page: %v", track.ErrNetwork, err)
	}
	defer page.Close()

	err = page.Navigate(queryUrl)
	if err != nil {
		return nil, fmt.Errorf("%w: navigate: %v", track.ErrNetwork, err)
	}
	err = page.WaitStable(time.Second)
	if err != nil {
		return nil, fmt.Errorf("%w: wait for page: %v", track.ErrNetwork, err)
	}

	for i, trackingNo := range trackingNumbers {
		if i >= formSlots {
			break
		}
		trackingNo = strings.TrimSpace(trackingNo)
		if trackingNo == "" {
			continue
		}
		field, err := page.Element(fmt.Sprintf(`input[name="MAILNO%d"]`, i+1))
		if err != nil {
			return nil, fmt.Errorf("%w: mail number field %d: %v", track.ErrParse, i+1, err)
		}
		err = field.Input(trackingNo)
		if err != nil {
			return nil, fmt.Errorf("%w: fill field %d: %v", track.ErrNetwork, i+1, err)
		}
	}

	err = c.solveCaptcha(ctx, page)
	if err != nil {
		return nil, err
	}

	err = c.submit(page)
	if err != nil {
		return nil, err
	}
	err = page.WaitStable(2 * time.Second)
	if err != nil {
		return nil, fmt.Errorf("%w: wait for result: %v", track.ErrNetwork, err)
	}

	err = c.checkCaptchaRejected(page)
	if err != nil {
		return nil, err
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("%w: read result page: %v", track.ErrNetwork, err)
	}

	return parseResults(html, trackingNumbers)
}

// solveCaptcha screenshots the challenge image off the page and types
// the classifier's guess into the matching input. A page without any
// recognizable challenge is submitted as-is.
func (c *Client) solveCaptcha(ctx context.Context, page browserutil.Page) error {
	img, err := findCaptchaImage(page)
	if err != nil {
		return err
	}
	if img == nil {
		return nil
	}

	image, err := img.Screenshot()
	if err != nil {
		return fmt.Errorf("%w: captcha screenshot: %v", track.ErrNetwork, err)
	}
	guess, err := c.classifier.Classify(ctx, image)
	if err != nil {
		return fmt.Errorf("classify captcha: %w", err)
	}
	guess = captcha.Normalize(guess)
	slog.DebugContext(ctx, "captcha recognized", "carrier", descriptor.Name, "guess", guess)

	for _, selector := range []string{
		`input[name="captcha"]`,
		`#captcha`,
		`input[type="text"][maxlength="4"]`,
	} {
		has, input, err := page.Has(selector)
		if err != nil {
			continue
		}
		if has {
			return input.Input(guess)
		}
	}
	return nil
}

func findCaptchaImage(page browserutil.Page) (browserutil.Element, error) {
	for _, selector := range []string{
		`img[alt*="驗證碼"]`,
		`img[src*="captcha"]`,
		`.captcha-img img`,
	} {
		has, img, err := page.Has(selector)
		if err != nil {
			continue
		}
		if has {
			return img, nil
		}
	}

	// last resort, sniff every image source on the page
	imgs, err := page.Elements("img")
	if err != nil {
		return nil, nil
	}
	for _, img := range imgs {
		src, err := img.Attr("src")
		if err != nil {
			continue
		}
		src = strings.ToLower(src)
		if strings.Contains(src, "captcha") ||
			strings.Contains(src, "validate") ||
			strings.Contains(src, "checkno") {
			return img, nil
		}
	}
	return nil, nil
}

func (c *Client) submit(page browserutil.Page) error {
	for _, selector := range []string{
		"a.css_btn_class",
		`button[type="submit"]`,
		`input[type="submit"]`,
	} {
		has, btn, err := page.Has(selector)
		if err != nil {
			continue
		}
		if has {
			return btn.Click()
		}
	}
	return page.PressEnter()
}

func (c *Client) checkCaptchaRejected(page browserutil.Page) error {
	els, err := page.Elements(`.error, .errorMsg, [class*="error"]`)
	if err != nil {
		return nil
	}
	for _, el := range els {
		text, err := el.Text()
		if err != nil {
			continue
		}
		if strings.Contains(text, "驗證碼") {
			return fmt.Errorf("%w: %s", track.ErrCaptchaRejected, textutil.NormalizeSpace(text))
		}
	}
	return nil
}

// parseResults extracts one status per tracking number from the
// rendered result page. The markup is unstable, so matching walks from
// the most structured shape down to a bare dated line of text.
func parseResults(html string, trackingNumbers []string) ([]track.QueryResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: parse result page: %v", track.ErrParse, err)
	}

	var results []track.QueryResult
	for _, trackingNo := range trackingNumbers {
		trackingNo = strings.TrimSpace(trackingNo)
		if trackingNo == "" {
			continue
		}

		status := findTableStatus(doc, trackingNo)
		if status == "" {
			status = textutil.FirstDateLine(doc.Find("body").Text())
		}
		if status == "" {
			status = "⚠️ 查無資料或無法解析"
		}
		results = append(results, track.NewResult(trackingNo, textutil.Truncate(status, 80)))
	}
	return results, nil
}

func findTableStatus(doc *goquery.Document, trackingNo string) string {
	status := ""
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		text := table.Text()
		if !strings.Contains(text, trackingNo) &&
			!strings.Contains(text, "郵件狀態") &&
			!strings.Contains(text, "投遞") {
			return true
		}
		table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
			rowText := textutil.NormalizeSpace(row.Text())
			if textutil.ContainsAny(rowText, statusKeywords) {
				status = rowText
				return false
			}
			return true
		})
		return status == ""
	})
	return status
}

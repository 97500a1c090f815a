// Package tcat queries the 黑貓宅急便 (T-cat) parcel trace form. No
// CAPTCHA here: one ASP.NET form post carries up to ten numbers and
// the answer comes back as a set of labelled definition lists.
package tcat

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"package-tracker/lib/backoff"
	"package-tracker/lib/htmlutil"
	"package-tracker/lib/restyutil"
	"package-tracker/lib/textutil"
	"package-tracker/lib/track"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("lib/scrapers/tcat")

const (
	defaultTraceUrl = "https://www.t-cat.com.tw/Inquire/Trace.aspx"

	formSlots = 10
)

var descriptor = track.Descriptor{
	Name:             "宅急便",
	Icon:             "",
	MaxBatch:         formSlots,
	SupportsParallel: true,
}

type Client struct {
	http     *resty.Client
	retry    backoff.Config
	traceUrl string
}

type Options struct {
	// MaxRetries bounds attempts per batch. Defaults to 3.
	MaxRetries int
	// BaseURL overrides the production endpoint.
	BaseURL string
}

func NewClient(opts Options) *Client {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	traceUrl := defaultTraceUrl
	if opts.BaseURL != "" {
		traceUrl = opts.BaseURL + "/Inquire/Trace.aspx"
	}
	return &Client{
		http: restyutil.NewScraperClient(restyutil.ClientOptions{}),
		retry: backoff.Config{
			Base:       500 * time.Millisecond,
			MaxRetries: maxRetries,
			Retryable:  track.Retryable,
		},
		traceUrl: traceUrl,
	}
}

func (c *Client) Descriptor() track.Descriptor {
	return descriptor
}

// QueryBatch posts up to ten tracking numbers in one form submission.
// Only network failures are retried; a well-formed page that names no
// parcels is a real "not found" answer.
func (c *Client) QueryBatch(ctx context.Context, trackingNumbers []string) ([]track.QueryResult, error) {
	ctx, span := tracer.Start(ctx, "tcat.QueryBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(trackingNumbers)))

	var results []track.QueryResult
	err := backoff.Do(ctx, c.retry, func() error {
		var opErr error
		results, opErr = c.queryOnce(ctx, trackingNumbers)
		return opErr
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", track.ErrBatchUnrecoverable, err)
	}
	return results, nil
}

func (c *Client) queryOnce(ctx context.Context, trackingNumbers []string) ([]track.QueryResult, error) {
	fields, err := c.fetchFormFields(ctx)
	if err != nil {
		return nil, err
	}

	data := map[string]string{}
	for name, value := range fields {
		data[name] = value
	}
	for i := 0; i < formSlots; i++ {
		value := ""
		if i < len(trackingNumbers) {
			value = trackingNumbers[i]
		}
		data[fmt.Sprintf("ctl00$ContentPlaceHolder1$txtQuery%d", i+1)] = value
	}
	data["ctl00$ContentPlaceHolder1$btnSend"] = "確認送出"

	res, err := c.http.R().SetContext(ctx).SetFormData(data).Post(c.traceUrl)
	if err != nil {
		return nil, fmt.Errorf("%w: submit trace form: %v", track.ErrNetwork, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: submit trace form: status %d", track.ErrNetwork, res.StatusCode())
	}

	return c.parseResults(res.String(), trackingNumbers)
}

func (c *Client) fetchFormFields(ctx context.Context) (map[string]string, error) {
	res, err := c.http.R().SetContext(ctx).Get(c.traceUrl)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch trace form: %v", track.ErrNetwork, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: fetch trace form: status %d", track.ErrNetwork, res.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.String()))
	if err != nil {
		return nil, fmt.Errorf("%w: parse trace form: %v", track.ErrParse, err)
	}

	return htmlutil.HiddenInputs(doc,
		"__VIEWSTATE", "__VIEWSTATEGENERATOR", "__EVENTVALIDATION",
	), nil
}

var statusLine = regexp.MustCompile(`目前狀態[：:]\s*(.+)`)

func (c *Client) parseResults(html string, trackingNumbers []string) ([]track.QueryResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: parse result page: %v", track.ErrParse, err)
	}

	var results []track.QueryResult
	doc.Find("div.orderlist-box").Each(func(_ int, box *goquery.Selection) {
		trackingNo := ""
		status := ""
		box.Find("ul.order-list li").Each(func(_ int, item *goquery.Selection) {
			label := textutil.NormalizeSpace(item.Find("div.col-1").Text())
			value := textutil.NormalizeSpace(item.Find("div.col-2").Text())
			switch {
			case strings.Contains(label, "包裹查詢號碼"):
				trackingNo = value
			case strings.Contains(label, "目前狀態"):
				status = value
			case strings.Contains(label, "資料登入時間") && status != "":
				status += fmt.Sprintf(" (%s)", value)
			}
		})
		if trackingNo != "" {
			results = append(results, track.NewResult(trackingNo, status))
		}
	})
	if len(results) > 0 {
		return results, nil
	}

	// no structured result boxes, fall back on the page's error text
	errText := ""
	if alert := doc.Find("div.alert"); alert.Length() > 0 {
		errText = textutil.NormalizeSpace(alert.Text())
	}
	bodyText := doc.Text()
	if strings.Contains(bodyText, "很抱歉") {
		errText = "查無訂單資料"
	}

	if errText == "" && strings.Contains(bodyText, "查詢結果如下") {
		if content := doc.Find("#ContentPlaceHolder1_pnlResult"); content.Length() > 0 {
			text := content.Text()
			for _, trackingNo := range trackingNumbers {
				if !strings.Contains(text, trackingNo) {
					continue
				}
				status := "狀態解析中"
				if m := statusLine.FindStringSubmatch(text); m != nil {
					status = textutil.NormalizeSpace(m[1])
				}
				results = append(results, track.NewResult(trackingNo, status))
			}
			if len(results) > 0 {
				return results, nil
			}
		}
	}

	if errText == "" {
		errText = "查無訂單資料"
	}
	for _, trackingNo := range trackingNumbers {
		results = append(results, track.NewResult(trackingNo, textutil.Truncate(errText, 80)))
	}
	return results, nil
}

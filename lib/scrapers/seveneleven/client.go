// Package seveneleven queries the 7-ELEVEN 交貨便 parcel tracking form.
// The backend is a classic ASP.NET page: anti-forgery hidden fields
// must be harvested and echoed back, and every submission needs a fresh
// 4-character CAPTCHA bound to the session cookie.
package seveneleven

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"package-tracker/lib/backoff"
	"package-tracker/lib/captcha"
	"package-tracker/lib/htmlutil"
	"package-tracker/lib/restyutil"
	"package-tracker/lib/textutil"
	"package-tracker/lib/track"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("lib/scrapers/seveneleven")

const (
	defaultBaseUrl = "https://eservice.7-11.com.tw/e-tracking"

	captchaLength = 4
)

var descriptor = track.Descriptor{
	Name:             "7-11 交貨便",
	Icon:             "🏪",
	MaxBatch:         1,
	SupportsParallel: true,
}

type Client struct {
	http       *resty.Client
	classifier captcha.Classifier
	retry      backoff.Config
	queryUrl   string
	captchaUrl string
}

type Options struct {
	Classifier captcha.Classifier
	// MaxRetries bounds CAPTCHA attempts per tracking number. Defaults
	// to 5; recognition on this backend's images is hit or miss.
	MaxRetries int
	// BaseURL overrides the production endpoint.
	BaseURL string
}

func NewClient(opts Options) *Client {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	baseUrl := opts.BaseURL
	if baseUrl == "" {
		baseUrl = defaultBaseUrl
	}
	queryUrl := baseUrl + "/search.aspx"
	return &Client{
		http: restyutil.NewScraperClient(restyutil.ClientOptions{
			Referer: queryUrl,
		}),
		classifier: opts.Classifier,
		retry: backoff.Config{
			Base:       500 * time.Millisecond,
			MaxRetries: maxRetries,
			Retryable:  track.Retryable,
		},
		queryUrl:   queryUrl,
		captchaUrl: baseUrl + "/ValidateImage.aspx",
	}
}

func (c *Client) Descriptor() track.Descriptor {
	return descriptor
}

// QueryBatch queries each tracking number individually, the only mode
// this backend supports. Exhausting CAPTCHA retries fails the whole
// batch since later numbers would hit the same wall.
func (c *Client) QueryBatch(ctx context.Context, trackingNumbers []string) ([]track.QueryResult, error) {
	ctx, span := tracer.Start(ctx, "seveneleven.QueryBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(trackingNumbers)))

	var results []track.QueryResult
	for i, trackingNo := range trackingNumbers {
		trackingNo = strings.TrimSpace(trackingNo)
		if trackingNo == "" {
			continue
		}

		var result track.QueryResult
		err := backoff.Do(ctx, c.retry, func() error {
			var opErr error
			result, opErr = c.queryOne(ctx, trackingNo)
			return opErr
		})
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("%w: %s: %v", track.ErrBatchUnrecoverable, trackingNo, err)
		}
		results = append(results, result)

		if i < len(trackingNumbers)-1 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
	return results, nil
}

func (c *Client) queryOne(ctx context.Context, trackingNo string) (track.QueryResult, error) {
	fields, err := c.fetchFormFields(ctx)
	if err != nil {
		return track.QueryResult{}, err
	}

	guess, err := c.solveCaptcha(ctx)
	if err != nil {
		return track.QueryResult{}, err
	}

	html, err := c.submitQuery(ctx, trackingNo, guess, fields)
	if err != nil {
		return track.QueryResult{}, err
	}

	return c.parseResult(html, trackingNo)
}

// fetchFormFields loads the search page and harvests the ASP.NET
// anti-forgery fields for the next submission.
func (c *Client) fetchFormFields(ctx context.Context) (map[string]string, error) {
	res, err := c.http.R().SetContext(ctx).Get(c.queryUrl)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch form: %v", track.ErrNetwork, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: fetch form: status %d", track.ErrNetwork, res.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.String()))
	if err != nil {
		return nil, fmt.Errorf("%w: parse form page: %v", track.ErrParse, err)
	}

	return htmlutil.HiddenInputs(doc,
		"__VIEWSTATE", "__VIEWSTATEGENERATOR", "__EVENTVALIDATION",
	), nil
}

func (c *Client) solveCaptcha(ctx context.Context) (string, error) {
	// the timestamp busts any cache in front of the image handler
	url := fmt.Sprintf("%s?ts=%d", c.captchaUrl, time.Now().UnixMilli())
	res, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", fmt.Errorf("%w: fetch captcha: %v", track.ErrNetwork, err)
	}
	if res.IsError() {
		return "", fmt.Errorf("%w: fetch captcha: status %d", track.ErrNetwork, res.StatusCode())
	}

	guess, err := c.classifier.Classify(ctx, res.Body())
	if err != nil {
		return "", fmt.Errorf("classify captcha: %w", err)
	}
	guess = captcha.Normalize(guess)
	if len(guess) > captchaLength {
		guess = guess[:captchaLength]
	}
	if len(guess) != captchaLength {
		return "", fmt.Errorf("%w: guess %q is not %d characters",
			track.ErrCaptchaRejected, guess, captchaLength)
	}

	slog.DebugContext(ctx, "captcha recognized", "carrier", descriptor.Name, "guess", guess)
	return guess, nil
}

func (c *Client) submitQuery(ctx context.Context, trackingNo, guess string, fields map[string]string) (string, error) {
	data := map[string]string{
		"__EVENTTARGET":        "submit",
		"__EVENTARGUMENT":      "",
		"__VIEWSTATE":          fields["__VIEWSTATE"],
		"__VIEWSTATEGENERATOR": fields["__VIEWSTATEGENERATOR"],
		"txtProductNum":        trackingNo,
		"tbChkCode":            guess,
		"txtPage":              "1",
	}
	if data["__VIEWSTATEGENERATOR"] == "" {
		// observed constant for this page, used when harvesting fails
		data["__VIEWSTATEGENERATOR"] = "3E7313DB"
	}
	if v, ok := fields["__EVENTVALIDATION"]; ok {
		data["__EVENTVALIDATION"] = v
	}

	res, err := c.http.R().SetContext(ctx).SetFormData(data).Post(c.queryUrl)
	if err != nil {
		return "", fmt.Errorf("%w: submit query: %v", track.ErrNetwork, err)
	}
	if res.IsError() {
		return "", fmt.Errorf("%w: submit query: status %d", track.ErrNetwork, res.StatusCode())
	}
	return res.String(), nil
}

func (c *Client) parseResult(html, trackingNo string) (track.QueryResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return track.QueryResult{}, fmt.Errorf("%w: parse result page: %v", track.ErrParse, err)
	}

	// the error span carries both CAPTCHA rejection and backend errors
	errText := textutil.NormalizeSpace(doc.Find("span#lbErrMessage").Text())
	if errText != "" {
		if strings.Contains(errText, "驗證碼") {
			return track.QueryResult{}, fmt.Errorf("%w: %s", track.ErrCaptchaRejected, errText)
		}
		return track.NewResult(trackingNo, "⚠️ "+errText), nil
	}

	table := doc.Find("table.listTb")
	if table.Length() == 0 {
		if div := doc.Find("div.result"); div.Length() > 0 {
			status := textutil.NormalizeSpace(div.Text())
			if status != "" {
				return track.NewResult(trackingNo, textutil.Truncate(status, 80)), nil
			}
		}
		return track.NewResult(trackingNo, "⚠️ 查無資料"), nil
	}

	status := ""
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 || status != "" {
			return
		}
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		text := textutil.NormalizeSpace(cells.Last().Text())
		if text != "" {
			status = text
		}
	})
	if status == "" {
		status = "已查詢"
	}

	return track.NewResult(trackingNo, status), nil
}

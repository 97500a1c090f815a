// Package familymart queries the FamilyMart parcel tracking API. The
// backend is an ASP.NET ajax surface: every payload is a JSON string
// wrapped in a {"d": "..."} envelope, and a server-side CAPTCHA check
// must pass before the order lookup accepts the session.
package familymart

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"package-tracker/lib/backoff"
	"package-tracker/lib/captcha"
	"package-tracker/lib/restyutil"
	"package-tracker/lib/track"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("lib/scrapers/familymart")

const (
	defaultBaseUrl = "https://ecfme.fme.com.tw/FMEDCFPWebV2_II"
	refererUrl     = "https://fmec.famiport.com.tw/FP_Entrance/QueryBox"

	minCaptchaLength = 4
)

var descriptor = track.Descriptor{
	Name:             "全家便利商店",
	Icon:             "",
	MaxBatch:         5,
	SupportsParallel: true,
}

type Client struct {
	http       *resty.Client
	classifier captcha.Classifier
	retry      backoff.Config
	baseUrl    string
}

type Options struct {
	Classifier captcha.Classifier
	// MaxRetries bounds CAPTCHA attempts per batch. Defaults to 5.
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
	return &Client{
		http: restyutil.NewScraperClient(restyutil.ClientOptions{
			Referer: refererUrl,
		}),
		classifier: opts.Classifier,
		retry: backoff.Config{
			Base:       500 * time.Millisecond,
			MaxRetries: maxRetries,
			Retryable:  track.Retryable,
		},
		baseUrl: baseUrl,
	}
}

func (c *Client) Descriptor() track.Descriptor {
	return descriptor
}

// envelope is the {"d": "<json string>"} wrapper every ajax endpoint
// on this backend responds with.
type envelope struct {
	D string `json:"d"`
}

func decodeEnvelope(body []byte, out any) error {
	var env envelope
	err := json.Unmarshal(body, &env)
	if err != nil {
		return fmt.Errorf("%w: decode envelope: %v", track.ErrParse, err)
	}
	if env.D == "" {
		return fmt.Errorf("%w: empty envelope", track.ErrParse)
	}
	err = json.Unmarshal([]byte(env.D), out)
	if err != nil {
		return fmt.Errorf("%w: decode payload: %v", track.ErrParse, err)
	}
	return nil
}

type orderRecord struct {
	TrackingNo  string `json:"EC_ORDER_NO"`
	OrderNo     string `json:"ORDER_NO"`
	Message     string `json:"ORDERMESSAGE"`
	RecordCount int    `json:"CNT"`
}

type inquiryResponse struct {
	ErrorCode    string        `json:"ErrorCode"`
	ErrorMessage string        `json:"ErrorMessage"`
	List         []orderRecord `json:"List"`
}

// QueryBatch queries up to MaxBatch tracking numbers in one CAPTCHA
// round trip. An application-level rejection from the lookup endpoint
// produces per-number failure rows rather than an error, since a fresh
// CAPTCHA would not change the answer.
func (c *Client) QueryBatch(ctx context.Context, trackingNumbers []string) ([]track.QueryResult, error) {
	ctx, span := tracer.Start(ctx, "familymart.QueryBatch")
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
	code, image, err := c.fetchChallenge(ctx)
	if err != nil {
		return nil, err
	}

	guess, err := c.classifier.Classify(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("classify captcha: %w", err)
	}
	guess = captcha.Normalize(guess)
	if len(guess) < minCaptchaLength {
		return nil, fmt.Errorf("%w: guess %q too short", track.ErrCaptchaRejected, guess)
	}

	ok, err := c.verifyChallenge(ctx, guess, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: backend rejected guess %q", track.ErrCaptchaRejected, guess)
	}

	return c.inquireOrders(ctx, trackingNumbers)
}

// fetchChallenge establishes the session, asks the backend for a
// challenge code, and downloads the matching CAPTCHA image.
func (c *Client) fetchChallenge(ctx context.Context) (code string, image []byte, err error) {
	res, err := c.http.R().SetContext(ctx).
		SetQueryParam("orderno", "").
		Get(c.baseUrl + "/index.aspx")
	if err != nil {
		return "", nil, fmt.Errorf("%w: load index: %v", track.ErrNetwork, err)
	}
	if res.IsError() {
		return "", nil, fmt.Errorf("%w: load index: status %d", track.ErrNetwork, res.StatusCode())
	}

	res, err = c.ajax(ctx).
		SetBody("{}").
		Post(c.baseUrl + "/index.aspx/GetVerificationCode")
	if err != nil {
		return "", nil, fmt.Errorf("%w: get challenge: %v", track.ErrNetwork, err)
	}
	if res.IsError() {
		return "", nil, fmt.Errorf("%w: get challenge: status %d", track.ErrNetwork, res.StatusCode())
	}

	var challenge struct {
		Code string `json:"Code"`
	}
	err = decodeEnvelope(res.Body(), &challenge)
	if err != nil {
		return "", nil, err
	}
	if challenge.Code == "" {
		return "", nil, fmt.Errorf("%w: empty challenge code", track.ErrParse)
	}

	res, err = c.http.R().SetContext(ctx).
		Get(c.baseUrl + "/CodeHandler.ashx?Code=" + url.QueryEscape(challenge.Code))
	if err != nil {
		return "", nil, fmt.Errorf("%w: fetch captcha image: %v", track.ErrNetwork, err)
	}
	if res.IsError() {
		return "", nil, fmt.Errorf("%w: fetch captcha image: status %d", track.ErrNetwork, res.StatusCode())
	}

	return challenge.Code, res.Body(), nil
}

func (c *Client) verifyChallenge(ctx context.Context, guess, code string) (bool, error) {
	res, err := c.ajax(ctx).
		SetBody(map[string]string{"P_CODE": guess, "P_VCODE": code}).
		Post(c.baseUrl + "/index.aspx/ChkVerificationCode")
	if err != nil {
		return false, fmt.Errorf("%w: verify captcha: %v", track.ErrNetwork, err)
	}
	if res.IsError() {
		return false, nil
	}

	var verdict struct {
		Success string `json:"success"`
	}
	err = decodeEnvelope(res.Body(), &verdict)
	if err != nil {
		return false, nil
	}
	return verdict.Success == "1", nil
}

func (c *Client) inquireOrders(ctx context.Context, trackingNumbers []string) ([]track.QueryResult, error) {
	joined := strings.Join(trackingNumbers, ",")

	// list.aspx must see the order numbers before the ajax endpoint
	// will answer for them
	_, err := c.http.R().SetContext(ctx).
		SetFormData(map[string]string{"ORDER_NO": joined}).
		Post(c.baseUrl + "/list.aspx")
	if err != nil {
		return nil, fmt.Errorf("%w: prime order list: %v", track.ErrNetwork, err)
	}

	res, err := c.ajax(ctx).
		SetBody(map[string]string{"ListEC_ORDER_NO": joined}).
		Post(c.baseUrl + "/list.aspx/InquiryOrders")
	if err != nil {
		return nil, fmt.Errorf("%w: inquire orders: %v", track.ErrNetwork, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: inquire orders: status %d", track.ErrNetwork, res.StatusCode())
	}

	var inquiry inquiryResponse
	err = decodeEnvelope(res.Body(), &inquiry)
	if err != nil {
		return nil, err
	}

	if inquiry.ErrorCode != "000" {
		message := inquiry.ErrorMessage
		if message == "" {
			message = "未知錯誤"
		}
		var results []track.QueryResult
		for _, tn := range trackingNumbers {
			results = append(results, track.NewResult(tn, track.FailureStatus(message)))
		}
		return results, nil
	}

	var results []track.QueryResult
	for _, record := range inquiry.List {
		result := track.QueryResult{
			TrackingNumber: record.TrackingNo,
			OrderNumber:    record.OrderNo,
			Status:         record.Message,
			CapturedAt:     time.Now(),
		}
		if result.OrderNumber == "" {
			result.OrderNumber = "-"
		}
		if record.RecordCount == 0 {
			result.Status = "查無訂單資料"
		}
		results = append(results, result)
	}
	return results, nil
}

func (c *Client) ajax(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json; charset=utf-8").
		SetHeader("X-Requested-With", "XMLHttpRequest")
}

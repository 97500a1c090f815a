// Package restyutil builds the resty clients the HTTP-backed carrier
// adapters share: browser-like headers, a cookie jar carried across the
// challenge handshake, and an anti-bot transport.
package restyutil

import (
	"net/http"
	"net/http/cookiejar"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

// Carrier frontends fingerprint obviously non-browser clients, so every
// request claims to be desktop Chrome.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type ClientOptions struct {
	BaseURL string
	Referer string
	// Timeout applies per request. Defaults to 30s.
	Timeout time.Duration
}

var defaultInstrumentOutput InstrumentOutput

// SetInstrumentOutput captures every HTTP exchange made by clients
// created after the call. Used by debug tooling to reverse engineer a
// carrier frontend that changed.
func SetInstrumentOutput(out InstrumentOutput) {
	defaultInstrumentOutput = out
}

// NewScraperClient returns a resty client dressed up as a browser. The
// cookie jar is mandatory: the ASP.NET backends bind the CAPTCHA
// challenge to the session cookie, so the image fetch and the form
// submission must share it.
func NewScraperClient(opts ClientOptions) *resty.Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		panic(err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetCookieJar(jar).
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8").
		SetHeader("Accept-Language", "zh-TW,zh;q=0.9,en;q=0.8")

	if opts.BaseURL != "" {
		client.SetBaseURL(opts.BaseURL)
	}
	if opts.Referer != "" {
		client.SetHeader("Referer", opts.Referer)
	}

	client.SetTransport(cloudflarebp.AddCloudFlareByPass(&http.Transport{}))

	InstrumentClient(client, nil, defaultInstrumentOutput)

	return client
}

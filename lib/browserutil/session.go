// Package browserutil wraps headless Chrome behind small interfaces.
// Carrier adapters that must drive a real browser depend on Browser and
// Page rather than on rod directly, which keeps their parsing logic
// testable without a Chrome binary.
package browserutil

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

type Options struct {
	// Bin overrides the browser binary path. Empty lets the launcher
	// find or download one.
	Bin string
	// PageTimeout bounds every page operation. Defaults to 30s.
	PageTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PageTimeout <= 0 {
		o.PageTimeout = 30 * time.Second
	}
	return o
}

type Element interface {
	Text() (string, error)
	Attr(name string) (string, error)
	Input(text string) error
	Click() error
	Screenshot() ([]byte, error)
}

type Page interface {
	Navigate(url string) error
	WaitStable(d time.Duration) error
	Element(selector string) (Element, error)
	Has(selector string) (bool, Element, error)
	Elements(selector string) ([]Element, error)
	PressEnter() error
	HTML() (string, error)
	Close() error
}

type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Launch starts a headless Chrome and connects to it. The caller owns
// the returned Browser and must Close it to reap the process.
func Launch(opts Options) (Browser, error) {
	opts = opts.withDefaults()

	l := launcher.New().
		Headless(true).
		Set(flags.Flag("disable-gpu")).
		Set(flags.Flag("no-sandbox")).
		Set(flags.Flag("disable-dev-shm-usage"))
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}

	controlUrl, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlUrl)
	err = b.Connect()
	if err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	return &rodBrowser{browser: b, launcher: l, opts: opts}, nil
}

type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	opts     Options
}

func (b *rodBrowser) NewPage(ctx context.Context) (Page, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	page = page.Context(ctx).Timeout(b.opts.PageTimeout)
	return rodPage{page: page}, nil
}

func (b *rodBrowser) Close() error {
	err := b.browser.Close()
	b.launcher.Cleanup()
	return err
}

type rodPage struct {
	page *rod.Page
}

func (p rodPage) Navigate(url string) error {
	err := p.page.Navigate(url)
	if err != nil {
		return err
	}
	return p.page.WaitLoad()
}

func (p rodPage) WaitStable(d time.Duration) error {
	return p.page.WaitStable(d)
}

func (p rodPage) Element(selector string) (Element, error) {
	el, err := p.page.Element(selector)
	if err != nil {
		return nil, err
	}
	return rodElement{el: el}, nil
}

func (p rodPage) Has(selector string) (bool, Element, error) {
	has, el, err := p.page.Has(selector)
	if err != nil || !has {
		return false, nil, err
	}
	return true, rodElement{el: el}, nil
}

func (p rodPage) Elements(selector string) ([]Element, error) {
	els, err := p.page.Elements(selector)
	if err != nil {
		return nil, err
	}
	var out []Element
	for _, el := range els {
		out = append(out, rodElement{el: el})
	}
	return out, nil
}

func (p rodPage) PressEnter() error {
	return p.page.Keyboard.Press(input.Enter)
}

func (p rodPage) HTML() (string, error) {
	return p.page.HTML()
}

func (p rodPage) Close() error {
	return p.page.Close()
}

type rodElement struct {
	el *rod.Element
}

func (e rodElement) Text() (string, error) {
	return e.el.Text()
}

func (e rodElement) Attr(name string) (string, error) {
	value, err := e.el.Attribute(name)
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", nil
	}
	return *value, nil
}

// Input replaces the element's current content rather than appending.
func (e rodElement) Input(text string) error {
	err := e.el.SelectAllText()
	if err != nil {
		return err
	}
	return e.el.Input(text)
}

func (e rodElement) Click() error {
	return e.el.Click(proto.InputMouseButtonLeft, 1)
}

func (e rodElement) Screenshot() ([]byte, error) {
	return e.el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}

package shopee

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"package-tracker/lib/browserutil"
	"package-tracker/lib/track"

	"github.com/stretchr/testify/require"
)

type fakePage struct {
	html    string
	navErr  error
	lastUrl string
	closed  bool
}

func (p *fakePage) Navigate(url string) error {
	p.lastUrl = url
	return p.navErr
}

func (p *fakePage) WaitStable(d time.Duration) error { return nil }

func (p *fakePage) Element(selector string) (browserutil.Element, error) {
	return nil, errors.New("not scripted")
}

func (p *fakePage) Has(selector string) (bool, browserutil.Element, error) {
	return strings.Contains(p.html, "detail-list-item"), nil, nil
}

func (p *fakePage) Elements(selector string) ([]browserutil.Element, error) { return nil, nil }

func (p *fakePage) PressEnter() error { return nil }

func (p *fakePage) HTML() (string, error) { return p.html, nil }

func (p *fakePage) Close() error {
	p.closed = true
	return nil
}

type fakeBrowser struct {
	pages      []*fakePage
	pageIndex  int
	closeCount int
}

func (b *fakeBrowser) NewPage(ctx context.Context) (browserutil.Page, error) {
	if b.pageIndex >= len(b.pages) {
		return nil, errors.New("no more pages scripted")
	}
	page := b.pages[b.pageIndex]
	b.pageIndex++
	return page, nil
}

func (b *fakeBrowser) Close() error {
	b.closeCount++
	return nil
}

func newTestClient(browser browserutil.Browser) *Client {
	client := NewClient(Options{})
	client.NewBrowser = func() (browserutil.Browser, error) { return browser, nil }
	return client
}

const timelineHtml = `<html><body>
<div class="detail-list-item">
	<div class="item-date">20 Aug 2025 10:31</div>
	<div class="item-text-box">包裹已到達門市，請儘速領取</div>
</div>
<div class="detail-list-item">
	<div class="item-date">19 Aug 2025 08:00</div>
	<div class="item-text-box">包裹運送中</div>
</div>
</body></html>`

func TestQueryBatchParsesLatestTimelineItem(t *testing.T) {
	page := &fakePage{html: timelineHtml}
	browser := &fakeBrowser{pages: []*fakePage{page}}

	client := newTestClient(browser)

	results, err := client.QueryBatch(context.Background(), []string{"TW254618236452X"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "TW254618236452X", results[0].TrackingNumber)
	require.Equal(t, "20 Aug 2025 10:31 包裹已到達門市，請儘速領取", results[0].Status)

	require.Equal(t, "https://spx.tw/detail/TW254618236452X", page.lastUrl)
	require.True(t, page.closed)
	require.Equal(t, 1, browser.closeCount)
}

func TestQueryBatchStatusTitleFallback(t *testing.T) {
	page := &fakePage{html: `<html><body>
		<div class="order-status-title">已寄達</div>
	</body></html>`}
	browser := &fakeBrowser{pages: []*fakePage{page}}

	results, err := newTestClient(browser).QueryBatch(context.Background(), []string{"TW1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "已寄達", results[0].Status)
}

func TestQueryBatchDatedTextFallback(t *testing.T) {
	page := &fakePage{html: `<html><body>
		<p>SPX Express</p>
		<p>20 Aug 2025 10:31 Parcel has arrived at the store</p>
	</body></html>`}
	browser := &fakeBrowser{pages: []*fakePage{page}}

	results, err := newTestClient(browser).QueryBatch(context.Background(), []string{"TW1"})
	require.NoError(t, err)
	require.Equal(t, "20 Aug 2025 10:31 Parcel has arrived at the store", results[0].Status)
}

func TestQueryBatchUnparsablePage(t *testing.T) {
	page := &fakePage{html: `<html><body><p>nothing here</p></body></html>`}
	browser := &fakeBrowser{pages: []*fakePage{page}}

	results, err := newTestClient(browser).QueryBatch(context.Background(), []string{"TW1"})
	require.NoError(t, err)
	require.Equal(t, "⚠️ 無法取得物流狀態", results[0].Status)
}

func TestQueryBatchTruncatesLongStatus(t *testing.T) {
	long := strings.Repeat("狀", 120)
	page := &fakePage{html: `<html><body>
		<div class="order-status-title">` + long + `</div>
	</body></html>`}
	browser := &fakeBrowser{pages: []*fakePage{page}}

	results, err := newTestClient(browser).QueryBatch(context.Background(), []string{"TW1"})
	require.NoError(t, err)
	require.Len(t, []rune(results[0].Status), 80)
	require.True(t, strings.HasSuffix(results[0].Status, "..."))
}

func TestQueryBatchFoldsPerNumberFailures(t *testing.T) {
	dead := &fakePage{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	alive := &fakePage{html: timelineHtml}
	browser := &fakeBrowser{pages: []*fakePage{dead, alive}}

	results, err := newTestClient(browser).QueryBatch(context.Background(), []string{"TW1", "TW2"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.True(t, track.IsFailureStatus(results[0].Status))
	require.Contains(t, results[1].Status, "包裹已到達門市")
	require.Equal(t, 1, browser.closeCount)
}

func TestQueryBatchBrowserLaunchFailureYieldsFailureRows(t *testing.T) {
	client := newTestClient(&fakeBrowser{})
	client.NewBrowser = func() (browserutil.Browser, error) {
		return nil, errors.New("chrome binary not found")
	}

	results, err := client.QueryBatch(context.Background(), []string{"TW1", "TW2"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.True(t, track.IsFailureStatus(r.Status))
	}
}

package seveneleven

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"package-tracker/lib/captcha"
	"package-tracker/lib/telemetry"
	"package-tracker/lib/track"

	"github.com/stretchr/testify/require"
)

const formPage = `<html><body><form>
	<input type="hidden" name="__VIEWSTATE" value="viewstate-token" />
	<input type="hidden" name="__VIEWSTATEGENERATOR" value="3E7313DB" />
	<input type="hidden" name="__EVENTVALIDATION" value="validation-token" />
</form></body></html>`

const resultPage = `<html><body>
	<span id="lbErrMessage"></span>
	<table class="listTb">
		<tr><th>時間</th><th>狀態</th></tr>
		<tr><td>2025/08/20 10:00</td><td>包裹已送達門市</td></tr>
		<tr><td>2025/08/19 08:00</td><td>包裹運送中</td></tr>
	</table>
</body></html>`

func newBackend(t *testing.T, onSubmit func(r *http.Request) string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/search.aspx", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(formPage))
			return
		}
		require.NoError(t, r.ParseForm())
		w.Write([]byte(onSubmit(r)))
	})
	mux.HandleFunc("/ValidateImage.aspx", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("fake-png"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func fixedClassifier(guess string) captcha.Classifier {
	return captcha.Func(func(ctx context.Context, image []byte) (string, error) {
		return guess, nil
	})
}

func TestQueryBatchParsesStatusTable(t *testing.T) {
	defer telemetry.SetupForTesting(t, "scrapers/seveneleven")()

	var submitted *http.Request
	server := newBackend(t, func(r *http.Request) string {
		submitted = r
		return resultPage
	})

	client := NewClient(Options{
		Classifier: fixedClassifier("AB12"),
		BaseURL:    server.URL,
	})

	results, err := client.QueryBatch(context.Background(), []string{"12345678"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "12345678", results[0].TrackingNumber)
	require.Equal(t, "-", results[0].OrderNumber)
	require.Equal(t, "包裹已送達門市", results[0].Status)

	require.Equal(t, "viewstate-token", submitted.PostFormValue("__VIEWSTATE"))
	require.Equal(t, "validation-token", submitted.PostFormValue("__EVENTVALIDATION"))
	require.Equal(t, "AB12", submitted.PostFormValue("tbChkCode"))
	require.Equal(t, "12345678", submitted.PostFormValue("txtProductNum"))
	require.Equal(t, "submit", submitted.PostFormValue("__EVENTTARGET"))
}

func TestQueryBatchRetriesRejectedCaptcha(t *testing.T) {
	attempts := 0
	server := newBackend(t, func(r *http.Request) string {
		attempts++
		if attempts == 1 {
			return `<html><body><span id="lbErrMessage">驗證碼錯誤</span></body></html>`
		}
		return resultPage
	})

	client := NewClient(Options{
		Classifier: fixedClassifier("AB12"),
		BaseURL:    server.URL,
		MaxRetries: 3,
	})

	results, err := client.QueryBatch(context.Background(), []string{"12345678"})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.Len(t, results, 1)
	require.Equal(t, "包裹已送達門市", results[0].Status)
}

func TestQueryBatchFailsAfterCaptchaExhaustion(t *testing.T) {
	server := newBackend(t, func(r *http.Request) string {
		t.Error("must not submit with an undersized captcha guess")
		return ""
	})

	// the classifier never produces a 4-character guess, so every
	// attempt is rejected before submission
	client := NewClient(Options{
		Classifier: fixedClassifier("ab1"),
		BaseURL:    server.URL,
		MaxRetries: 2,
	})

	results, err := client.QueryBatch(context.Background(), []string{"12345678"})
	require.ErrorIs(t, err, track.ErrBatchUnrecoverable)
	require.Nil(t, results)
}

func TestQueryBatchReportsBackendError(t *testing.T) {
	server := newBackend(t, func(r *http.Request) string {
		return `<html><body><span id="lbErrMessage">查詢系統維護中</span></body></html>`
	})

	client := NewClient(Options{
		Classifier: fixedClassifier("AB12"),
		BaseURL:    server.URL,
	})

	results, err := client.QueryBatch(context.Background(), []string{"12345678"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "⚠️ 查詢系統維護中", results[0].Status)
}

func TestQueryBatchNoDataFallback(t *testing.T) {
	server := newBackend(t, func(r *http.Request) string {
		return `<html><body><span id="lbErrMessage"></span><p>something else</p></body></html>`
	})

	client := NewClient(Options{
		Classifier: fixedClassifier("AB12"),
		BaseURL:    server.URL,
	})

	results, err := client.QueryBatch(context.Background(), []string{"12345678"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "⚠️ 查無資料", results[0].Status)
}

package familymart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"package-tracker/lib/captcha"
	"package-tracker/lib/telemetry"
	"package-tracker/lib/track"

	"github.com/stretchr/testify/require"
)

type backend struct {
	server *httptest.Server

	verifyResponses []string
	verifyCalls     int
	inquiryPayloads []string
	inquiryResponse string
}

func envelope(t *testing.T, payload any) string {
	inner, err := json.Marshal(payload)
	require.NoError(t, err)
	outer, err := json.Marshal(map[string]string{"d": string(inner)})
	require.NoError(t, err)
	return string(outer)
}

func newBackend(t *testing.T) *backend {
	b := &backend{}

	mux := http.NewServeMux()
	mux.HandleFunc("/index.aspx", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html></html>"))
	})
	mux.HandleFunc("/index.aspx/GetVerificationCode", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
		w.Write([]byte(envelope(t, map[string]string{"Code": "challenge-1"})))
	})
	mux.HandleFunc("/CodeHandler.ashx", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "challenge-1", r.URL.Query().Get("Code"))
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("fake-jpg"))
	})
	mux.HandleFunc("/index.aspx/ChkVerificationCode", func(w http.ResponseWriter, r *http.Request) {
		response := `{"d":"{\"success\":\"1\"}"}`
		if b.verifyCalls < len(b.verifyResponses) {
			response = b.verifyResponses[b.verifyCalls]
		}
		b.verifyCalls++
		w.Write([]byte(response))
	})
	mux.HandleFunc("/list.aspx", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html></html>"))
	})
	mux.HandleFunc("/list.aspx/InquiryOrders", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ListECOrderNo string `json:"ListEC_ORDER_NO"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		b.inquiryPayloads = append(b.inquiryPayloads, body.ListECOrderNo)
		w.Write([]byte(b.inquiryResponse))
	})

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func fixedClassifier(guess string) captcha.Classifier {
	return captcha.Func(func(ctx context.Context, image []byte) (string, error) {
		return guess, nil
	})
}

func TestQueryBatchMapsOrderRecords(t *testing.T) {
	defer telemetry.SetupForTesting(t, "scrapers/familymart")()

	b := newBackend(t)
	b.inquiryResponse = envelope(t, inquiryResponse{
		ErrorCode: "000",
		List: []orderRecord{
			{TrackingNo: "A1", OrderNo: "ORD-1", Message: "包裹已到店", RecordCount: 1},
			{TrackingNo: "B2", OrderNo: "", Message: "ignored", RecordCount: 0},
		},
	})

	client := NewClient(Options{
		Classifier: fixedClassifier("wxyz"),
		BaseURL:    b.server.URL,
	})

	results, err := client.QueryBatch(context.Background(), []string{"A1", "B2"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Equal(t, "A1", results[0].TrackingNumber)
	require.Equal(t, "ORD-1", results[0].OrderNumber)
	require.Equal(t, "包裹已到店", results[0].Status)

	// CNT of zero means the backend knows nothing about the number
	require.Equal(t, "B2", results[1].TrackingNumber)
	require.Equal(t, "-", results[1].OrderNumber)
	require.Equal(t, "查無訂單資料", results[1].Status)

	require.Equal(t, []string{"A1,B2"}, b.inquiryPayloads)
}

func TestQueryBatchRetriesRejectedCaptcha(t *testing.T) {
	b := newBackend(t)
	b.verifyResponses = []string{`{"d":"{\"success\":\"0\"}"}`}
	b.inquiryResponse = envelope(t, inquiryResponse{
		ErrorCode: "000",
		List:      []orderRecord{{TrackingNo: "A1", Message: "ok", RecordCount: 1}},
	})

	client := NewClient(Options{
		Classifier: fixedClassifier("wxyz"),
		BaseURL:    b.server.URL,
		MaxRetries: 3,
	})

	results, err := client.QueryBatch(context.Background(), []string{"A1"})
	require.NoError(t, err)
	require.Equal(t, 2, b.verifyCalls)
	require.Len(t, results, 1)
	require.Equal(t, "ok", results[0].Status)
}

func TestQueryBatchShortGuessExhaustsRetries(t *testing.T) {
	b := newBackend(t)

	client := NewClient(Options{
		Classifier: fixedClassifier("ab"),
		BaseURL:    b.server.URL,
		MaxRetries: 2,
	})

	results, err := client.QueryBatch(context.Background(), []string{"A1"})
	require.ErrorIs(t, err, track.ErrBatchUnrecoverable)
	require.Nil(t, results)
	require.Zero(t, b.verifyCalls)
}

func TestQueryBatchApplicationErrorYieldsFailureRows(t *testing.T) {
	b := newBackend(t)
	b.inquiryResponse = envelope(t, inquiryResponse{
		ErrorCode:    "999",
		ErrorMessage: "系統忙碌中",
	})

	client := NewClient(Options{
		Classifier: fixedClassifier("wxyz"),
		BaseURL:    b.server.URL,
	})

	results, err := client.QueryBatch(context.Background(), []string{"A1", "B2"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.True(t, track.IsFailureStatus(r.Status))
		require.Contains(t, r.Status, "系統忙碌中")
	}
	// an application-level rejection is final, no second CAPTCHA round
	require.Equal(t, 1, b.verifyCalls)
}

func TestDispatcherChunksOverMaxBatch(t *testing.T) {
	b := newBackend(t)
	b.inquiryResponse = envelope(t, inquiryResponse{ErrorCode: "000"})

	client := NewClient(Options{
		Classifier: fixedClassifier("wxyz"),
		BaseURL:    b.server.URL,
	})

	track.Dispatcher{Pace: time.Millisecond}.Run(
		context.Background(), client,
		[]string{"1", "2", "3", "4", "5", "6"},
	)

	require.Len(t, b.inquiryPayloads, 2)
	require.Equal(t, "1,2,3,4,5", b.inquiryPayloads[0])
	require.Equal(t, "6", b.inquiryPayloads[1])
	require.Len(t, strings.Split(b.inquiryPayloads[0], ","), 5)
}

package track

import (
	"strings"
	"time"
)

// QueryResult is the uniform record every carrier adapter reduces its
// backend's response to. A failed lookup is encoded in Status, never by
// omitting the record.
type QueryResult struct {
	TrackingNumber string
	OrderNumber    string
	Status         string
	CapturedAt     time.Time
}

func NewResult(trackingNumber, status string) QueryResult {
	return QueryResult{
		TrackingNumber: trackingNumber,
		OrderNumber:    "-",
		Status:         status,
		CapturedAt:     time.Now(),
	}
}

// Row projects the record into its fixed display order:
// tracking number, order number, status, capture time.
func (r QueryResult) Row() []string {
	return []string{
		r.TrackingNumber,
		r.OrderNumber,
		r.Status,
		r.CapturedAt.Format("15:04:05"),
	}
}

const (
	// StatusNoResult marks a tracking number the backend returned
	// nothing for, so every requested number still yields one row.
	StatusNoResult = "⚠️ 查無結果"

	failurePrefix = "❌ 查詢失敗: "
)

// FailureStatus encodes an error message as a status string with a
// distinct prefix, so failed rows are distinguishable from real states.
func FailureStatus(message string) string {
	return failurePrefix + message
}

func IsFailureStatus(status string) bool {
	return len(status) >= len(failurePrefix) && status[:len(failurePrefix)] == failurePrefix
}

// FailureRows folds one shared failure into a row per tracking number,
// skipping blanks. Used when a whole batch fails for one reason, such
// as a browser that could not be launched.
func FailureRows(trackingNumbers []string, message string) []QueryResult {
	var results []QueryResult
	for _, tn := range trackingNumbers {
		tn = strings.TrimSpace(tn)
		if tn == "" {
			continue
		}
		results = append(results, NewResult(tn, FailureStatus(message)))
	}
	return results
}

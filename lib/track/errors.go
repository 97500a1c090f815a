package track

import "errors"

// Failure kinds shared across all carrier adapters. Adapters wrap these
// with %w so callers can classify with errors.Is.
var (
	// ErrNetwork covers connection failures and transport timeouts,
	// including headless-browser navigation timeouts.
	ErrNetwork = errors.New("network failure")

	// ErrCaptchaRejected means the backend refused the classified
	// CAPTCHA text (or the guess was obviously unusable). The challenge
	// cycle restarts from the beginning on retry.
	ErrCaptchaRejected = errors.New("captcha rejected")

	// ErrParse means the backend answered but the document did not have
	// the expected shape. Not retryable: the same document would fail
	// the same way.
	ErrParse = errors.New("unexpected document shape")

	// ErrResource means the transport session or browser could not be
	// created at all.
	ErrResource = errors.New("failed to create transport session")

	// ErrBatchUnrecoverable is the uniform signal that a whole batch
	// could not be resolved (typically after exhausting retries). The
	// caller synthesizes one failure row per requested tracking number.
	// A legitimate "nothing found" is NOT this error: it is a normal
	// result list with not-found statuses.
	ErrBatchUnrecoverable = errors.New("batch unrecoverable")
)

// Retryable reports whether an adapter's retry loop may re-attempt
// after this failure. Only transient kinds qualify.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrCaptchaRejected)
}

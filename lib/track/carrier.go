package track

import (
	"context"
	"fmt"
)

// Descriptor describes one carrier backend. Immutable once registered.
type Descriptor struct {
	Name string
	Icon string
	// MaxBatch is the largest number of tracking numbers the backend
	// accepts in one submission.
	MaxBatch int
	// SupportsParallel is false for adapters whose underlying session
	// object (a headless-browser page) is not safe for concurrent use.
	SupportsParallel bool
}

// DisplayName returns the icon-prefixed name shown to users.
func (d Descriptor) DisplayName() string {
	if d.Icon == "" {
		return d.Name
	}
	return fmt.Sprintf("%s %s", d.Icon, d.Name)
}

// Carrier is the protocol-specific client for one backend.
//
// QueryBatch submits at most Descriptor().MaxBatch tracking numbers in
// one protocol exchange. It must not let failures escape except as the
// ErrBatchUnrecoverable signal: transient failures are retried
// internally, everything else is folded into failure-status results.
// It must release any transport session or browser it created before
// returning.
type Carrier interface {
	Descriptor() Descriptor
	QueryBatch(ctx context.Context, trackingNumbers []string) ([]QueryResult, error)
}

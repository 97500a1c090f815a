package track

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("lib/track")

// Chunk splits items into consecutive chunks of at most size elements.
// The last chunk may be shorter; order is preserved.
func Chunk(items []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var chunks [][]string
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Dispatcher implements the shared chunk-and-pace query loop over any
// Carrier. Retry is NOT layered here: only the adapter knows which of
// its protocol's failures are safe to retry.
type Dispatcher struct {
	// Pace is the pause between consecutive chunks (never after the
	// last), to avoid tripping backend rate limiting. Defaults to 1s.
	Pace time.Duration
}

// Run splits trackingNumbers into MaxBatch-sized chunks and queries the
// adapter once per chunk. A chunk whose query signals unrecoverable
// failure contributes zero results.
func (d Dispatcher) Run(ctx context.Context, c Carrier, trackingNumbers []string) []QueryResult {
	ctx, span := tracer.Start(ctx, "Dispatcher.Run")
	defer span.End()

	desc := c.Descriptor()
	span.SetAttributes(
		attribute.String("carrier", desc.Name),
		attribute.Int("requested", len(trackingNumbers)),
	)

	pace := d.Pace
	if pace == 0 {
		pace = time.Second
	}

	chunks := Chunk(trackingNumbers, desc.MaxBatch)

	var all []QueryResult
	for i, chunk := range chunks {
		slog.DebugContext(ctx, "querying chunk",
			"carrier", desc.Name,
			"chunk", i+1,
			"chunks", len(chunks),
			"size", len(chunk),
		)

		results, err := c.QueryBatch(ctx, chunk)
		if err != nil {
			span.RecordError(err)
			slog.ErrorContext(ctx, "batch query failed",
				"carrier", desc.Name,
				"chunk", i+1,
				"err", err,
			)
		} else {
			all = append(all, results...)
		}

		if i < len(chunks)-1 {
			select {
			case <-ctx.Done():
				return all
			case <-time.After(pace):
			}
		}
	}
	return all
}

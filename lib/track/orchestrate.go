package track

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
)

// ProgressSink receives progress from one query run. It is consumed by
// the presentation layer; implementations must tolerate being called
// from multiple goroutines during a parallel run.
type ProgressSink interface {
	// Status receives a free-text progress message.
	Status(message string)
	// Progress receives a (completed, total) pair.
	Progress(completed, total int)
	// Result receives one record as it becomes available. Arrival
	// order is completion order, not submission order.
	Result(r QueryResult)
	// Finished is called exactly once per run, after all items are
	// accounted for, regardless of how many failed.
	Finished()
}

type nopSink struct{}

func (nopSink) Status(string)      {}
func (nopSink) Progress(int, int)  {}
func (nopSink) Result(QueryResult) {}
func (nopSink) Finished()          {}

// Orchestrator decides the execution mode for one query run: a bounded
// worker pool for parallel-safe carriers, strict sequential order for
// browser-backed ones whose session object must not be shared.
type Orchestrator struct {
	Sink ProgressSink
	// MaxWorkers bounds the pool for parallel runs. Defaults to 4; the
	// effective size is min(MaxWorkers, item count).
	MaxWorkers int
}

func (o Orchestrator) sink() ProgressSink {
	if o.Sink == nil {
		return nopSink{}
	}
	return o.Sink
}

// Run queries each tracking number as a single-item batch, reporting
// results through the sink. Adapter failures never propagate: every
// requested number yields exactly one result.
func (o Orchestrator) Run(ctx context.Context, c Carrier, trackingNumbers []string) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Run")
	defer span.End()

	sink := o.sink()
	defer sink.Finished()

	desc := c.Descriptor()
	total := len(trackingNumbers)
	span.SetAttributes(
		attribute.String("carrier", desc.Name),
		attribute.Int("total", total),
		attribute.Bool("parallel", desc.SupportsParallel),
	)

	if desc.SupportsParallel && total > 1 {
		o.runParallel(ctx, c, trackingNumbers, sink)
	} else {
		o.runSequential(ctx, c, trackingNumbers, sink)
	}
}

func (o Orchestrator) runParallel(ctx context.Context, c Carrier, trackingNumbers []string, sink ProgressSink) {
	total := len(trackingNumbers)
	workers := o.MaxWorkers
	if workers <= 0 {
		workers = 4
	}
	if workers > total {
		workers = total
	}

	sink.Status(fmt.Sprintf("⚡ 並行查詢 %d 個包裹...", total))
	sink.Progress(0, total)

	jobs := make(chan string)
	results := make(chan QueryResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tn := range jobs {
				results <- o.querySingle(ctx, c, tn)
			}
		}()
	}
	go func() {
		for _, tn := range trackingNumbers {
			jobs <- tn
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	completed := 0
	for r := range results {
		completed++
		sink.Progress(completed, total)
		sink.Status(fmt.Sprintf("⚡ 並行查詢 %d/%d", completed, total))
		sink.Result(r)
	}
}

func (o Orchestrator) runSequential(ctx context.Context, c Carrier, trackingNumbers []string, sink ProgressSink) {
	total := len(trackingNumbers)
	for i, tn := range trackingNumbers {
		sink.Status(fmt.Sprintf("查詢 %d/%d: %s", i+1, total, tn))
		sink.Progress(i+1, total)
		sink.Result(o.querySingle(ctx, c, tn))
	}
}

// querySingle wraps one tracking number as a singleton batch. An empty
// adapter response synthesizes a not-found row instead of silently
// dropping the number, and any adapter error or panic becomes a
// failure-status row.
func (o Orchestrator) querySingle(ctx context.Context, c Carrier, trackingNumber string) (result QueryResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "adapter panicked",
				"carrier", c.Descriptor().Name,
				"tracking_number", trackingNumber,
				"panic", r,
			)
			result = NewResult(trackingNumber, FailureStatus(fmt.Sprint(r)))
		}
	}()

	results, err := c.QueryBatch(ctx, []string{trackingNumber})
	if err != nil {
		return NewResult(trackingNumber, FailureStatus(err.Error()))
	}
	if len(results) == 0 {
		return NewResult(trackingNumber, StatusNoResult)
	}
	return results[0]
}

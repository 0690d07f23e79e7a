package payments

import (
	"context"
	"log/slog"
	"time"

	"payrelay/internal/payments/queue"
)

const (
	drainTimeout = 15 * time.Second
	settleDelay  = 100 * time.Millisecond
)

// PaymentReader loads persisted payments for summarization.
type PaymentReader interface {
	GetAll(ctx context.Context) []ProcessedPayment
}

// SummaryCoordinator produces consistent summaries. Before reading it waits
// for the ingress queue to drain and forces a buffer flush, so payments
// accepted before the call are visible in the result.
type SummaryCoordinator struct {
	ingress *queue.Queue[Payment]
	buffer  *WriteBuffer
	store   PaymentReader
	logger  *slog.Logger

	drainTimeout time.Duration
	settleDelay  time.Duration
}

func NewSummaryCoordinator(ingress *queue.Queue[Payment], buffer *WriteBuffer, store PaymentReader, logger *slog.Logger) *SummaryCoordinator {
	return &SummaryCoordinator{
		ingress:      ingress,
		buffer:       buffer,
		store:        store,
		logger:       logger,
		drainTimeout: drainTimeout,
		settleDelay:  settleDelay,
	}
}

// Summarize totals persisted payments per processor inside the inclusive
// [from, to] window. A nil from means no lower bound; a nil to defaults to
// now. When the queue cannot drain within its timeout the summary proceeds
// with whatever has been persisted so far.
func (sc *SummaryCoordinator) Summarize(ctx context.Context, from, to *time.Time) Summary {
	if drained, outstanding := sc.ingress.Join(sc.drainTimeout); !drained {
		sc.logger.Warn("queue did not drain before summary", "outstanding", outstanding)
	}

	sc.buffer.ForceFlush(ctx)
	time.Sleep(sc.settleDelay)

	lower := time.Time{}
	if from != nil {
		lower = *from
	}
	upper := time.Now().UTC()
	if to != nil {
		upper = *to
	}

	var summary Summary
	for _, p := range sc.store.GetAll(ctx) {
		if p.RequestedAt.Before(lower) || p.RequestedAt.After(upper) {
			continue
		}
		switch p.Processor {
		case ProcessorTypeDefault:
			summary.Default.add(p.Amount)
		case ProcessorTypeFallback:
			summary.Fallback.add(p.Amount)
		}
	}
	return summary
}

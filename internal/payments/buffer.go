package payments

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BatchSaver persists batches of processed payments.
type BatchSaver interface {
	SaveBatch(ctx context.Context, batch []ProcessedPayment) error
}

const defaultFlushInterval = 1500 * time.Millisecond

// WriteBuffer batches processed payments so storage writes stay off the
// dispatch path. A batch is flushed when it reaches batchSize or when the
// oldest entry has waited longer than flushInterval. Only one storage write
// runs at a time; a failed batch is put back at the head of the buffer so
// the next flush retries it first. Every write is registered while it runs,
// which lets ForceFlush wait for flushes that are already in flight.
type WriteBuffer struct {
	store         BatchSaver
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	mu        sync.Mutex
	pending   []ProcessedPayment
	lastFlush time.Time
	inFlight  int
	settled   chan struct{}

	flushMu sync.Mutex
}

func NewWriteBuffer(store BatchSaver, batchSize int, flushInterval time.Duration, logger *slog.Logger) *WriteBuffer {
	// The age ticker runs at half the interval, which must stay positive.
	if flushInterval <= time.Nanosecond {
		flushInterval = defaultFlushInterval
	}
	return &WriteBuffer{
		store:         store,
		logger:        logger,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		lastFlush:     time.Now(),
	}
}

// Add appends one processed payment and kicks off an asynchronous flush
// when a threshold is crossed. It never blocks on storage.
func (b *WriteBuffer) Add(p ProcessedPayment) {
	b.mu.Lock()
	b.pending = append(b.pending, p)
	if len(b.pending) >= b.batchSize || time.Since(b.lastFlush) > b.flushInterval {
		batch := b.take()
		b.beginWrite()
		b.mu.Unlock()
		go func() {
			defer b.endWrite()
			b.write(context.Background(), batch)
		}()
		return
	}
	b.mu.Unlock()
}

// ForceFlush writes out everything currently buffered, then waits until no
// write is in flight anymore. When it returns, every payment added before
// the call has either reached storage or been put back after a failed write.
func (b *WriteBuffer) ForceFlush(ctx context.Context) {
	b.mu.Lock()
	batch := b.take()
	b.beginWrite()
	b.mu.Unlock()

	b.write(ctx, batch)
	b.endWrite()

	b.waitForWrites()
}

// Run flushes aged batches in the background until ctx is cancelled. It
// covers quiet periods where Add is called too rarely to cross a threshold.
func (b *WriteBuffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			var batch []ProcessedPayment
			if len(b.pending) > 0 && time.Since(b.lastFlush) > b.flushInterval {
				batch = b.take()
				b.beginWrite()
			}
			b.mu.Unlock()

			if len(batch) > 0 {
				b.write(ctx, batch)
				b.endWrite()
			}
		case <-ctx.Done():
			return
		}
	}
}

// Len reports how many payments are buffered and not yet written.
func (b *WriteBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// take snapshots and clears the buffer. Caller must hold mu.
func (b *WriteBuffer) take() []ProcessedPayment {
	batch := b.pending
	b.pending = nil
	b.lastFlush = time.Now()
	return batch
}

// beginWrite registers a write that is about to start. Caller must hold mu.
func (b *WriteBuffer) beginWrite() {
	if b.inFlight == 0 {
		b.settled = make(chan struct{})
	}
	b.inFlight++
}

// endWrite retires one write and wakes waiters once none remain.
func (b *WriteBuffer) endWrite() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inFlight--
	if b.inFlight == 0 {
		close(b.settled)
		b.settled = nil
	}
}

// waitForWrites blocks until every registered write has finished.
func (b *WriteBuffer) waitForWrites() {
	for {
		b.mu.Lock()
		if b.inFlight == 0 {
			b.mu.Unlock()
			return
		}
		settled := b.settled
		b.mu.Unlock()
		<-settled
	}
}

var bufferTracer = otel.Tracer("write-buffer")

func (b *WriteBuffer) write(ctx context.Context, batch []ProcessedPayment) {
	if len(batch) == 0 {
		return
	}

	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	ctx, span := bufferTracer.Start(ctx, "write_buffer.flush", trace.WithAttributes(
		attribute.Int("batch.size", len(batch)),
	))
	defer span.End()

	if err := b.store.SaveBatch(ctx, batch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.logger.Error("failed to flush payments, requeueing batch", "batchSize", len(batch), "error", err)

		b.mu.Lock()
		b.pending = append(batch, b.pending...)
		b.mu.Unlock()
		return
	}

	span.SetStatus(codes.Ok, "")
	b.logger.Debug("flushed payments", "batchSize", len(batch))
}

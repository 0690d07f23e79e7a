package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"payrelay/internal/payments"
	"payrelay/internal/payments/queue"
)

const (
	maxAttempts      = 3
	retryTrackerSize = 4096
)

// retryEntry carries a payment through the retry queue together with how
// many attempts it has burned so far.
type retryEntry struct {
	payment  payments.Payment
	attempts int
}

// WorkerPool drains the ingress queue with a fixed number of workers plus
// one dedicated worker for retries. A payment gets maxAttempts dispatches
// in total; attempts are tracked per correlationId in an LRU map so the
// tracker stays bounded no matter how many payments flow through.
type WorkerPool struct {
	workers      int
	retryBackoff time.Duration

	ingress    *queue.Queue[payments.Payment]
	retries    *queue.Queue[retryEntry]
	dispatcher *Dispatcher
	attempts   *lru.Cache
	logger     *slog.Logger

	wg sync.WaitGroup
}

type PoolConfig struct {
	Workers       int
	RetryCapacity int
	RetryBackoff  time.Duration
}

func NewWorkerPool(ingress *queue.Queue[payments.Payment], dispatcher *Dispatcher, cfg PoolConfig, logger *slog.Logger) *WorkerPool {
	attempts, _ := lru.New(retryTrackerSize)
	return &WorkerPool{
		workers:      cfg.Workers,
		retryBackoff: cfg.RetryBackoff,
		ingress:      ingress,
		retries:      queue.New[retryEntry](cfg.RetryCapacity),
		dispatcher:   dispatcher,
		attempts:     attempts,
		logger:       logger,
	}
}

// Start launches all workers. They exit when ctx is cancelled.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.wg.Add(1)
	go p.retryLoop(ctx)
}

// Stop waits for every worker to finish its current payment.
func (p *WorkerPool) Stop() {
	p.wg.Wait()
}

func (p *WorkerPool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		payment, ok := p.ingress.Dequeue(ctx)
		if !ok {
			return
		}
		p.process(ctx, payment)
		p.ingress.TaskDone()
	}
}

func (p *WorkerPool) retryLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		entry, ok := p.retries.Dequeue(ctx)
		if !ok {
			return
		}

		select {
		case <-time.After(p.retryBackoff):
		case <-ctx.Done():
			p.retries.TaskDone()
			return
		}

		p.logger.Debug("retrying payment", "correlationId", entry.payment.CorrelationID, "attempt", entry.attempts+1)
		p.process(ctx, entry.payment)
		p.retries.TaskDone()
	}
}

func (p *WorkerPool) process(ctx context.Context, payment payments.Payment) {
	if err := p.dispatcher.Dispatch(ctx, payment); err != nil {
		p.scheduleRetry(payment)
		return
	}
	p.attempts.Remove(payment.CorrelationID)
}

func (p *WorkerPool) scheduleRetry(payment payments.Payment) {
	attempts := 1
	if prev, ok := p.attempts.Get(payment.CorrelationID); ok {
		attempts = prev.(int) + 1
	}

	if attempts >= maxAttempts {
		p.attempts.Remove(payment.CorrelationID)
		p.logger.Error("payment failed after all attempts, dropping", "correlationId", payment.CorrelationID, "attempts", attempts)
		return
	}
	p.attempts.Add(payment.CorrelationID, attempts)

	if err := p.retries.Enqueue(retryEntry{payment: payment, attempts: attempts}); err != nil {
		p.attempts.Remove(payment.CorrelationID)
		p.logger.Error("retry queue is full, dropping payment", "correlationId", payment.CorrelationID)
	}
}

// RetryQueueLen reports how many payments are waiting for a retry.
func (p *WorkerPool) RetryQueueLen() int {
	return p.retries.Len()
}

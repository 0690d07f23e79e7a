package workers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payrelay/internal/payments"
	"payrelay/internal/payments/queue"
)

type poolFixture struct {
	ingress *queue.Queue[payments.Payment]
	pool    *WorkerPool
	saver   *stubSaver
}

func newPoolFixture(t *testing.T, defaultHandler, fallbackHandler http.HandlerFunc, cfg PoolConfig) *poolFixture {
	t.Helper()

	defaultSrv := httptest.NewServer(defaultHandler)
	t.Cleanup(defaultSrv.Close)
	fallbackSrv := httptest.NewServer(fallbackHandler)
	t.Cleanup(fallbackSrv.Close)

	logger := testLogger()
	saver := &stubSaver{}
	buffer := payments.NewWriteBuffer(saver, 1, time.Hour, logger)

	monitor := NewHealthMonitor(defaultSrv.URL, fallbackSrv.URL, http.DefaultClient, nil, 0, logger)
	monitor.defaultHealth.Store(snapshot(false, 10))
	monitor.fallbackHealth.Store(snapshot(false, 50))

	dispatcher := NewDispatcher(
		payments.NewPaymentProcessor(http.DefaultClient, defaultSrv.URL, payments.ProcessorTypeDefault, logger),
		payments.NewPaymentProcessor(http.DefaultClient, fallbackSrv.URL, payments.ProcessorTypeFallback, logger),
		monitor,
		buffer,
		logger,
	)

	ingress := queue.New[payments.Payment](100)
	pool := NewWorkerPool(ingress, dispatcher, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Stop()
	})

	return &poolFixture{ingress: ingress, pool: pool, saver: saver}
}

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

func countingHandler(status int) (http.HandlerFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(status)
	}, &calls
}

func failFirstN(n int32) (http.HandlerFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= n {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}, &calls
}

func TestWorkerPool_ProcessesAllQueuedPayments(t *testing.T) {
	f := newPoolFixture(t, okHandler(), okHandler(), PoolConfig{
		Workers:       4,
		RetryCapacity: 10,
		RetryBackoff:  10 * time.Millisecond,
	})

	const total = 20
	for i := 0; i < total; i++ {
		require.NoError(t, f.ingress.Enqueue(newQueuedPayment()))
	}

	drained, outstanding := f.ingress.Join(5 * time.Second)
	assert.True(t, drained)
	assert.Equal(t, 0, outstanding)

	assert.Eventually(t, func() bool { return len(f.saver.saved()) == total }, 5*time.Second, 10*time.Millisecond)

	seen := make(map[string]bool)
	for _, row := range f.saver.saved() {
		seen[row.CorrelationID.String()] = true
		assert.Equal(t, payments.ProcessorTypeDefault, row.Processor)
	}
	assert.Len(t, seen, total, "every payment must be persisted exactly once")
}

func TestWorkerPool_SucceedsOnFinalAttempt(t *testing.T) {
	// Two whole dispatch rounds fail, the third succeeds on default.
	defaultHandler, defaultCalls := failFirstN(2)
	fallbackHandler, fallbackCalls := countingHandler(http.StatusInternalServerError)

	f := newPoolFixture(t, defaultHandler, fallbackHandler, PoolConfig{
		Workers:       1,
		RetryCapacity: 10,
		RetryBackoff:  10 * time.Millisecond,
	})

	require.NoError(t, f.ingress.Enqueue(newQueuedPayment()))

	assert.Eventually(t, func() bool { return len(f.saver.saved()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, payments.ProcessorTypeDefault, f.saver.saved()[0].Processor)
	assert.Equal(t, int32(3), defaultCalls.Load())
	assert.Equal(t, int32(2), fallbackCalls.Load(), "fallback is tried on each failed round, not after the success")
}

func TestWorkerPool_DropsPaymentAfterMaxAttempts(t *testing.T) {
	defaultHandler, defaultCalls := countingHandler(http.StatusInternalServerError)
	fallbackHandler, fallbackCalls := countingHandler(http.StatusInternalServerError)

	f := newPoolFixture(t, defaultHandler, fallbackHandler, PoolConfig{
		Workers:       1,
		RetryCapacity: 10,
		RetryBackoff:  10 * time.Millisecond,
	})

	require.NoError(t, f.ingress.Enqueue(newQueuedPayment()))

	assert.Eventually(t, func() bool {
		return defaultCalls.Load() == 3 && fallbackCalls.Load() == 3
	}, 5*time.Second, 10*time.Millisecond, "one initial attempt plus two retries, each trying both processors")

	assert.Never(t, func() bool {
		return defaultCalls.Load() > 3 || fallbackCalls.Load() > 3
	}, 300*time.Millisecond, 25*time.Millisecond, "no fourth attempt after the cap")

	assert.Empty(t, f.saver.saved())
}

func TestWorkerPool_IndependentPaymentsDoNotShareAttempts(t *testing.T) {
	// Each payment fails its first dispatch round and succeeds on retry.
	var calls atomic.Int32
	seen := make(map[string]*atomic.Int32)
	var mu sync.Mutex
	defaultHandler := func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body struct {
			CorrelationID string `json:"correlationId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		mu.Lock()
		counter, ok := seen[body.CorrelationID]
		if !ok {
			counter = &atomic.Int32{}
			seen[body.CorrelationID] = counter
		}
		mu.Unlock()

		if counter.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
	fallbackHandler, _ := countingHandler(http.StatusInternalServerError)

	f := newPoolFixture(t, defaultHandler, fallbackHandler, PoolConfig{
		Workers:       4,
		RetryCapacity: 10,
		RetryBackoff:  10 * time.Millisecond,
	})

	const total = 5
	for i := 0; i < total; i++ {
		require.NoError(t, f.ingress.Enqueue(newQueuedPayment()))
	}

	assert.Eventually(t, func() bool { return len(f.saver.saved()) == total }, 5*time.Second, 10*time.Millisecond,
		"every payment gets its own attempt budget")
}

func TestScheduleRetry_DropsWhenRetryQueueFull(t *testing.T) {
	logger := testLogger()
	buffer := payments.NewWriteBuffer(&stubSaver{}, 1, time.Hour, logger)
	monitor := NewHealthMonitor("http://default", "http://fallback", http.DefaultClient, nil, 0, logger)
	dispatcher := NewDispatcher(nil, nil, monitor, buffer, logger)

	pool := NewWorkerPool(queue.New[payments.Payment](1), dispatcher, PoolConfig{
		Workers:       1,
		RetryCapacity: 1,
		RetryBackoff:  time.Millisecond,
	}, logger)

	first := newQueuedPayment()
	second := newQueuedPayment()

	pool.scheduleRetry(first)
	assert.Equal(t, 1, pool.RetryQueueLen())

	pool.scheduleRetry(second)
	assert.Equal(t, 1, pool.RetryQueueLen(), "overflowing retry must be dropped")

	_, tracked := pool.attempts.Get(second.CorrelationID)
	assert.False(t, tracked, "dropped payment must not leave a stale attempt count")
}

func TestScheduleRetry_AttemptAccounting(t *testing.T) {
	logger := testLogger()
	buffer := payments.NewWriteBuffer(&stubSaver{}, 1, time.Hour, logger)
	monitor := NewHealthMonitor("http://default", "http://fallback", http.DefaultClient, nil, 0, logger)
	dispatcher := NewDispatcher(nil, nil, monitor, buffer, logger)

	pool := NewWorkerPool(queue.New[payments.Payment](1), dispatcher, PoolConfig{
		Workers:       1,
		RetryCapacity: 10,
		RetryBackoff:  time.Millisecond,
	}, logger)

	payment := newQueuedPayment()

	pool.scheduleRetry(payment)
	assert.Equal(t, 1, pool.RetryQueueLen())

	pool.scheduleRetry(payment)
	assert.Equal(t, 2, pool.RetryQueueLen())

	// Third failure hits the cap: nothing is queued and the counter is gone.
	pool.scheduleRetry(payment)
	assert.Equal(t, 2, pool.RetryQueueLen())
	_, tracked := pool.attempts.Get(payment.CorrelationID)
	assert.False(t, tracked)
}

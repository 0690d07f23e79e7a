package workers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"payrelay/internal/payments"
)

const (
	healthCheckInterval = 5 * time.Second
	healthProbeTimeout  = 2 * time.Second
	healthMirrorTimeout = time.Second
)

// HealthSnapshot is one processor's health as reported by its
// /payments/service-health endpoint. A failed probe yields the degraded
// snapshot: failing with an infinite response time.
type HealthSnapshot struct {
	Failing         bool    `json:"failing"`
	MinResponseTime float64 `json:"minResponseTime"`
}

func degradedSnapshot() *HealthSnapshot {
	return &HealthSnapshot{Failing: true, MinResponseTime: math.Inf(1)}
}

// healthMirror is the cache representation. MinResponseTime is nil when the
// snapshot carries an infinite response time, which JSON cannot express.
type healthMirror struct {
	Failing         bool     `json:"failing"`
	MinResponseTime *float64 `json:"minResponseTime"`
}

// ProcessorHealthMonitor probes both processors on a fixed interval and
// keeps the latest snapshot of each. Snapshots are swapped atomically so
// workers read them without locking. Each snapshot is also mirrored into
// the cache for other consumers; the mirror is advisory and its failures
// never affect routing.
type ProcessorHealthMonitor struct {
	logger            *slog.Logger
	defaultHealthURL  string
	fallbackHealthURL string
	httpClient        *http.Client
	cache             *redis.Client
	interval          time.Duration

	defaultHealth  atomic.Pointer[HealthSnapshot]
	fallbackHealth atomic.Pointer[HealthSnapshot]
}

func NewHealthMonitor(defaultURL, fallbackURL string, httpClient *http.Client, cache *redis.Client, probeInterval time.Duration, logger *slog.Logger) *ProcessorHealthMonitor {
	if probeInterval <= 0 {
		probeInterval = healthCheckInterval
	}
	m := &ProcessorHealthMonitor{
		logger:            logger,
		defaultHealthURL:  defaultURL + "/payments/service-health",
		fallbackHealthURL: fallbackURL + "/payments/service-health",
		httpClient:        httpClient,
		cache:             cache,
		interval:          probeInterval,
	}
	m.defaultHealth.Store(degradedSnapshot())
	m.fallbackHealth.Store(degradedSnapshot())
	return m
}

// Run probes both processors immediately and then on every tick until ctx
// is cancelled.
func (m *ProcessorHealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.ProbeNow(ctx)

	for {
		select {
		case <-ticker.C:
			m.ProbeNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProbeNow checks both processors once.
func (m *ProcessorHealthMonitor) ProbeNow(ctx context.Context) {
	m.probe(ctx, payments.ProcessorTypeDefault, m.defaultHealthURL)
	m.probe(ctx, payments.ProcessorTypeFallback, m.fallbackHealthURL)
}

func (m *ProcessorHealthMonitor) probe(ctx context.Context, processor payments.ProcessorType, healthURL string) {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	snapshot, err := m.fetchHealth(ctx, healthURL)
	if err != nil {
		m.logger.Warn("health check failed, marking processor degraded", "processor", processor, "url", healthURL, "error", err)
		snapshot = degradedSnapshot()
	}
	m.publish(processor, snapshot)
}

func (m *ProcessorHealthMonitor) fetchHealth(ctx context.Context, healthURL string) (*HealthSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var snapshot HealthSnapshot
	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (m *ProcessorHealthMonitor) publish(processor payments.ProcessorType, snapshot *HealthSnapshot) {
	m.snapshotFor(processor).Store(snapshot)

	if m.cache == nil {
		return
	}

	mirror := healthMirror{Failing: snapshot.Failing}
	if !math.IsInf(snapshot.MinResponseTime, 1) {
		mirror.MinResponseTime = &snapshot.MinResponseTime
	}
	payload, err := sonic.ConfigFastest.Marshal(mirror)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthMirrorTimeout)
	defer cancel()
	if err := m.cache.Set(ctx, "health_"+string(processor), payload, 0).Err(); err != nil {
		m.logger.Debug("failed to mirror processor health", "processor", processor, "error", err)
	}
}

func (m *ProcessorHealthMonitor) snapshotFor(processor payments.ProcessorType) *atomic.Pointer[HealthSnapshot] {
	if processor == payments.ProcessorTypeDefault {
		return &m.defaultHealth
	}
	return &m.fallbackHealth
}

// Snapshot returns the latest health snapshot for a processor.
func (m *ProcessorHealthMonitor) Snapshot(processor payments.ProcessorType) HealthSnapshot {
	return *m.snapshotFor(processor).Load()
}

// ChooseBestProcessor picks which processor to try first. The default wins
// whenever it is healthy and not slower than a healthy fallback; otherwise
// a healthy fallback wins. With both failing the default is returned so
// traffic keeps probing the cheaper side.
func (m *ProcessorHealthMonitor) ChooseBestProcessor() payments.ProcessorType {
	defaultHealth := m.defaultHealth.Load()
	fallbackHealth := m.fallbackHealth.Load()

	if !defaultHealth.Failing && (fallbackHealth.Failing || defaultHealth.MinResponseTime <= fallbackHealth.MinResponseTime) {
		return payments.ProcessorTypeDefault
	}
	if !fallbackHealth.Failing {
		return payments.ProcessorTypeFallback
	}
	return payments.ProcessorTypeDefault
}

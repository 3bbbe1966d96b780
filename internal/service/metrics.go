package service

import (
	"sync"
	"time"

	"github.com/shopfabric/mesh/internal/domain"
)

// LatencyWindowSize is the capacity of the per-service latency sample ring
const LatencyWindowSize = 100

// ServiceMetrics records per-service call outcomes: total requests, total
// errors, a fixed-capacity ring of recent latencies (oldest evicted first)
// and the last-request timestamp. Written only on call completion; read by
// introspection.
type ServiceMetrics struct {
	mu          sync.Mutex
	requests    int64
	errors      int64
	latencies   [LatencyWindowSize]time.Duration
	next        int
	size        int
	lastRequest time.Time
}

// NewServiceMetrics creates an all-zero metrics record
func NewServiceMetrics() *ServiceMetrics {
	return &ServiceMetrics{}
}

// Record registers one completed call
func (m *ServiceMetrics) Record(latency time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	if failed {
		m.errors++
	}

	m.latencies[m.next] = latency
	m.next = (m.next + 1) % LatencyWindowSize
	if m.size < LatencyWindowSize {
		m.size++
	}
	m.lastRequest = time.Now()
}

// Requests returns the total request count
func (m *ServiceMetrics) Requests() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// Errors returns the total error count
func (m *ServiceMetrics) Errors() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors
}

// ErrorRate returns errors/requests, 0 when no requests were recorded
func (m *ServiceMetrics) ErrorRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorRateLocked()
}

// AvgLatencyMs returns the arithmetic mean of the current ring contents in
// milliseconds, 0 when the ring is empty
func (m *ServiceMetrics) AvgLatencyMs() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avgLatencyMsLocked()
}

// Snapshot returns a consistent read-only view; CircuitState is filled in by
// the caller since the breaker owns that field
func (m *ServiceMetrics) Snapshot() domain.ServiceMetricsView {
	m.mu.Lock()
	defer m.mu.Unlock()

	return domain.ServiceMetricsView{
		Requests:     m.requests,
		Errors:       m.errors,
		ErrorRate:    m.errorRateLocked(),
		AvgLatencyMs: m.avgLatencyMsLocked(),
		LastRequest:  m.lastRequest,
	}
}

func (m *ServiceMetrics) errorRateLocked() float64 {
	if m.requests == 0 {
		return 0
	}
	return float64(m.errors) / float64(m.requests)
}

func (m *ServiceMetrics) avgLatencyMsLocked() float64 {
	if m.size == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < m.size; i++ {
		total += m.latencies[i]
	}
	return float64(total.Microseconds()) / float64(m.size) / 1000
}

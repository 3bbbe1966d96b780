package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopfabric/mesh/internal/domain"
	mesherrors "github.com/shopfabric/mesh/internal/errors"
	"github.com/shopfabric/mesh/pkg/logger"
)

// Mesh is the orchestrator behind CallService. It composes the registry,
// health checker, load balancer, retry executor, circuit breaker and metrics
// collector into one request lifecycle and exposes the introspection API
// consumed by route handlers.
type Mesh struct {
	registry  *Registry
	health    *HealthChecker
	transport domain.Transport
	retry     *RetryExecutor
	exporter  *Exporter
	logger    *logger.Logger

	obsMu     sync.RWMutex
	observers []domain.MeshObserver

	startTime time.Time
}

// NewMesh wires the orchestrator. The transport and probe are injected
// collaborators; the mesh never assumes a wire protocol. The registry must
// be empty: the mesh installs the breaker state-change hook, which only
// applies to services registered afterwards.
func NewMesh(registry *Registry, transport domain.Transport, probe domain.Probe, probeTimeout time.Duration, log *logger.Logger) *Mesh {
	m := &Mesh{
		registry:  registry,
		health:    NewHealthChecker(probe, probeTimeout, log),
		transport: transport,
		retry:     NewRetryExecutor(log),
		logger:    log.WithField("component", "mesh"),
		startTime: time.Now(),
	}
	registry.SetStateChangeFunc(m.handleStateChange)
	return m
}

// SetExporter attaches an optional prometheus projection of the call metrics
func (m *Mesh) SetExporter(e *Exporter) {
	m.exporter = e
}

// AddObserver appends a synchronous lifecycle observer
func (m *Mesh) AddObserver(o domain.MeshObserver) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers, o)
}

// RegisterService registers or hot-replaces a service
func (m *Mesh) RegisterService(name string, config domain.ServiceConfig) error {
	if err := m.registry.Register(name, config); err != nil {
		return err
	}

	m.obsMu.RLock()
	observers := m.observers
	m.obsMu.RUnlock()
	for _, o := range observers {
		o.OnServiceRegistered(name, config)
	}
	return nil
}

// UnregisterService removes a service from the mesh
func (m *Mesh) UnregisterService(name string) {
	m.registry.Unregister(name)
}

// CallService routes one call to the named service: admission through the
// circuit breaker, a fresh health-probe round, instance selection, then the
// retried transport call. Balancer bookkeeping is released and the outcome
// is recorded on every path once an instance has been selected.
func (m *Mesh) CallService(ctx context.Context, name, method string, payload interface{}) (interface{}, error) {
	svc, ok := m.registry.get(name)
	if !ok {
		return nil, mesherrors.NewServiceNotFound(name)
	}

	if svc.limiter != nil && !svc.limiter.Allow() {
		return nil, mesherrors.NewRateLimited(name)
	}

	if !svc.breaker.CanExecute() {
		m.logger.WithField("service", name).Debug("Call rejected by open circuit")
		return nil, mesherrors.NewCircuitOpen(name)
	}

	cfg := svc.descriptor.Config

	healthy := m.health.HealthyInstances(ctx, name, cfg.Instances)
	if len(healthy) == 0 {
		svc.breaker.ReleaseTrial()
		return nil, mesherrors.NewNoHealthyInstance(name)
	}

	instance, selected := svc.balancer.Select(healthy)
	if !selected {
		svc.breaker.ReleaseTrial()
		return nil, mesherrors.NewNoHealthyInstance(name)
	}
	defer svc.balancer.Release(instance.ID)

	start := time.Now()
	result, attempts, err := m.retry.Do(ctx, cfg.Retry, cfg.CallTimeout, func(ctx context.Context) (interface{}, error) {
		return m.transport.Call(ctx, instance, method, payload)
	})
	latency := time.Since(start)

	if err != nil {
		svc.breaker.RecordFailure()
		svc.metrics.Record(latency, true)
		if m.exporter != nil {
			m.exporter.ObserveCall(name, latency, true)
		}
		m.notifyCallCompleted(name, instance.ID, latency, err)

		m.logger.WithError(err).WithFields(map[string]interface{}{
			"service":     name,
			"instance_id": instance.ID,
			"method":      method,
			"attempts":    attempts,
			"latency_ms":  latency.Milliseconds(),
		}).Warn("Service call failed")

		if errors.Is(err, context.DeadlineExceeded) {
			return nil, mesherrors.NewCallTimeout(name, instance.ID, attempts, err)
		}
		return nil, mesherrors.NewCallFailed(name, instance.ID, attempts, err)
	}

	svc.breaker.RecordSuccess()
	svc.metrics.Record(latency, false)
	if m.exporter != nil {
		m.exporter.ObserveCall(name, latency, false)
	}
	m.notifyCallCompleted(name, instance.ID, latency, nil)

	m.logger.WithFields(map[string]interface{}{
		"service":     name,
		"instance_id": instance.ID,
		"method":      method,
		"attempts":    attempts,
		"latency_ms":  latency.Milliseconds(),
	}).Debug("Service call succeeded")

	return result, nil
}

// GetServiceMetrics returns the metrics view for one service, or nil if the
// name was never registered
func (m *Mesh) GetServiceMetrics(name string) *domain.ServiceMetricsView {
	svc, ok := m.registry.get(name)
	if !ok {
		return nil
	}

	view := svc.metrics.Snapshot()
	view.CircuitState = svc.breaker.State().String()
	return &view
}

// GetAllMetrics returns the metrics view for every registered service
func (m *Mesh) GetAllMetrics() map[string]domain.ServiceMetricsView {
	views := make(map[string]domain.ServiceMetricsView)
	for _, name := range m.registry.Names() {
		if view := m.GetServiceMetrics(name); view != nil {
			views[name] = *view
		}
	}
	return views
}

// GetMeshStatus returns the mesh-level introspection snapshot
func (m *Mesh) GetMeshStatus() domain.MeshStatus {
	status := domain.MeshStatus{
		IsRunning:    true,
		ServiceCount: m.registry.Count(),
		Services:     make(map[string]domain.ServiceStatus),
	}

	for _, name := range m.registry.Names() {
		svc, ok := m.registry.get(name)
		if !ok {
			continue
		}
		status.Services[name] = domain.ServiceStatus{
			CircuitState:     svc.breaker.State().String(),
			LoadBalancerType: string(svc.balancer.Type()),
			InstanceCount:    len(svc.descriptor.Config.Instances),
		}
	}
	return status
}

// StartTime returns when the mesh was constructed
func (m *Mesh) StartTime() time.Time {
	return m.startTime
}

func (m *Mesh) handleStateChange(service string, from, to domain.CircuitState) {
	if m.exporter != nil {
		m.exporter.SetCircuitState(service, to)
	}

	m.obsMu.RLock()
	observers := m.observers
	m.obsMu.RUnlock()
	for _, o := range observers {
		o.OnStateChange(service, from, to)
	}
}

func (m *Mesh) notifyCallCompleted(service, instanceID string, latency time.Duration, err error) {
	m.obsMu.RLock()
	observers := m.observers
	m.obsMu.RUnlock()
	for _, o := range observers {
		o.OnCallCompleted(service, instanceID, latency, err)
	}
}

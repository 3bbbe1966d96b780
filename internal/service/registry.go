package service

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/shopfabric/mesh/internal/domain"
	mesherrors "github.com/shopfabric/mesh/internal/errors"
	"github.com/shopfabric/mesh/pkg/logger"
)

// managedService bundles a descriptor with the per-service state objects the
// registry owns: circuit breaker, balancer state, metrics record and the
// optional outbound rate limiter. All of them are created fresh at
// registration time and live for the process lifetime.
type managedService struct {
	descriptor domain.ServiceDescriptor
	breaker    *CircuitBreaker
	balancer   BalancerStrategy
	metrics    *ServiceMetrics
	limiter    *rate.Limiter
}

// Registry holds the per-service configuration and state. Registration is
// idempotent per name: re-registering replaces the descriptor and resets all
// dependent state rather than merging, so instance lists can be hot-reloaded.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*managedService

	logger        *logger.Logger
	baseLogger    *logger.Logger
	onStateChange StateChangeFunc
}

// NewRegistry creates an empty registry
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		services:   make(map[string]*managedService),
		logger:     log.RegistryLogger(),
		baseLogger: log,
	}
}

// SetStateChangeFunc installs the callback wired into every breaker created
// from now on. Must be called before services are registered.
func (r *Registry) SetStateChangeFunc(fn StateChangeFunc) {
	r.onStateChange = fn
}

// Register validates and stores a service. Duplicate registration is not an
// error: last write wins and all per-service state starts over.
func (r *Registry) Register(name string, config domain.ServiceConfig) error {
	if name == "" {
		return mesherrors.NewInvalidService(name, "name must not be empty")
	}
	if len(config.Instances) == 0 {
		return mesherrors.NewInvalidService(name, "at least one instance is required")
	}
	if config.LoadBalancer == "" {
		config.LoadBalancer = domain.RoundRobinStrategy
	}
	if !config.LoadBalancer.Valid() {
		return mesherrors.NewInvalidStrategy(string(config.LoadBalancer))
	}
	seen := make(map[string]struct{}, len(config.Instances))
	for _, inst := range config.Instances {
		if inst.ID == "" {
			return mesherrors.NewInvalidService(name, "instance id must not be empty")
		}
		if _, dup := seen[inst.ID]; dup {
			return mesherrors.NewInvalidService(name, "duplicate instance id "+inst.ID)
		}
		seen[inst.ID] = struct{}{}
	}

	balancer, err := NewStrategy(config.LoadBalancer, config.Instances)
	if err != nil {
		return err
	}

	svc := &managedService{
		descriptor: domain.ServiceDescriptor{Name: name, Config: config},
		breaker:    NewCircuitBreaker(name, config.CircuitBreaker, r.baseLogger, r.onStateChange),
		balancer:   balancer,
		metrics:    NewServiceMetrics(),
	}
	if config.RateLimit.Enabled {
		svc.limiter = rate.NewLimiter(rate.Limit(config.RateLimit.RequestsPerSecond), config.RateLimit.BurstSize)
	}

	r.mu.Lock()
	_, replaced := r.services[name]
	r.services[name] = svc
	r.mu.Unlock()

	r.logger.WithFields(map[string]interface{}{
		"service":   name,
		"instances": len(config.Instances),
		"strategy":  string(config.LoadBalancer),
		"replaced":  replaced,
	}).Info("Service registered")

	return nil
}

// Unregister removes a service; removing an unknown name is a no-op
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	_, existed := r.services[name]
	delete(r.services, name)
	r.mu.Unlock()

	if existed {
		r.logger.WithField("service", name).Info("Service unregistered")
	}
}

// get returns the managed service for a name
func (r *Registry) get(name string) (*managedService, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// Names returns the registered service names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered services
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Descriptor returns a copy of the registered descriptor for a name
func (r *Registry) Descriptor(name string) (domain.ServiceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[name]
	if !ok {
		return domain.ServiceDescriptor{}, false
	}
	return svc.descriptor, true
}

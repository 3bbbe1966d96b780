package domain

import (
	"context"
	"time"
)

// CircuitState represents the state of a service's circuit breaker
type CircuitState int

const (
	// StateClosed - calls are admitted normally
	StateClosed CircuitState = iota
	// StateOpen - calls are rejected without reaching the transport
	StateOpen
	// StateHalfOpen - a single trial call is admitted to test recovery
	StateHalfOpen
)

// String returns the string representation of CircuitState
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Strategy identifies a load-balancing strategy
type Strategy string

const (
	// RoundRobinStrategy rotates through healthy instances in order
	RoundRobinStrategy Strategy = "round-robin"
	// LeastConnectionsStrategy routes to the instance with fewest active calls
	LeastConnectionsStrategy Strategy = "least-connections"
	// WeightedStrategy selects instances randomly in proportion to weight
	WeightedStrategy Strategy = "weighted"
)

// Valid reports whether the tag names a known strategy
func (s Strategy) Valid() bool {
	switch s {
	case RoundRobinStrategy, LeastConnectionsStrategy, WeightedStrategy:
		return true
	}
	return false
}

// Instance is one addressable backend of a logical service. Weight is
// optional; the zero value means "use the default of 1". Instances are
// never shared across services.
type Instance struct {
	ID      string  `json:"id" yaml:"id"`
	Address string  `json:"address" yaml:"address"`
	Weight  float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// EffectiveWeight returns the instance weight with the default applied
func (i Instance) EffectiveWeight() float64 {
	if i.Weight == 0 {
		return 1
	}
	return i.Weight
}

// CircuitBreakerConfig configures the per-service failure-tracking gate
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout" yaml:"open_timeout"`
}

// RetryPolicy bounds transport retries against a single selected instance
type RetryPolicy struct {
	MaxRetries  int           `json:"max_retries" yaml:"max_retries"`
	BaseBackoff time.Duration `json:"base_backoff" yaml:"base_backoff"`
}

// RateLimitConfig optionally throttles outbound calls to a service
type RateLimitConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int     `json:"burst_size" yaml:"burst_size"`
}

// ServiceConfig is the caller-supplied configuration for one logical service
type ServiceConfig struct {
	Instances      []Instance           `json:"instances" yaml:"instances"`
	LoadBalancer   Strategy             `json:"load_balancer" yaml:"load_balancer"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
	Retry          RetryPolicy          `json:"retry" yaml:"retry"`
	CallTimeout    time.Duration        `json:"call_timeout" yaml:"call_timeout"`
	RateLimit      RateLimitConfig      `json:"rate_limit" yaml:"rate_limit"`
}

// ServiceDescriptor is the registered form of a service. The instance list
// is immutable after registration; hot changes go through re-registration.
type ServiceDescriptor struct {
	Name   string        `json:"name"`
	Config ServiceConfig `json:"config"`
}

// Transport performs the actual call against one instance. It is injected
// by the route layer; the mesh never assumes a particular wire protocol.
type Transport interface {
	Call(ctx context.Context, instance Instance, method string, payload interface{}) (interface{}, error)
}

// TransportFunc adapts a function to the Transport interface
type TransportFunc func(ctx context.Context, instance Instance, method string, payload interface{}) (interface{}, error)

// Call implements Transport
func (f TransportFunc) Call(ctx context.Context, instance Instance, method string, payload interface{}) (interface{}, error) {
	return f(ctx, instance, method, payload)
}

// Probe checks whether a single instance is currently able to serve. A nil
// return marks the instance healthy for the current selection round.
type Probe interface {
	Check(ctx context.Context, instance Instance) error
}

// ProbeFunc adapts a function to the Probe interface
type ProbeFunc func(ctx context.Context, instance Instance) error

// Check implements Probe
func (f ProbeFunc) Check(ctx context.Context, instance Instance) error {
	return f(ctx, instance)
}

// ServiceMetricsView is the read-only projection of one service's metrics
type ServiceMetricsView struct {
	Requests     int64     `json:"requests"`
	Errors       int64     `json:"errors"`
	ErrorRate    float64   `json:"error_rate"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	LastRequest  time.Time `json:"last_request"`
	CircuitState string    `json:"circuit_state"`
}

// ServiceStatus summarizes one service for mesh-level introspection
type ServiceStatus struct {
	CircuitState     string `json:"circuit_state"`
	LoadBalancerType string `json:"load_balancer_type"`
	InstanceCount    int    `json:"instance_count"`
}

// MeshStatus is the mesh-level introspection snapshot
type MeshStatus struct {
	IsRunning    bool                     `json:"is_running"`
	ServiceCount int                      `json:"service_count"`
	Services     map[string]ServiceStatus `json:"services"`
}

// MeshObserver receives synchronous lifecycle notifications. Callbacks run
// inline on the calling goroutine, in registration order; implementations
// must not block.
type MeshObserver interface {
	// OnServiceRegistered fires after a service is registered or replaced
	OnServiceRegistered(name string, config ServiceConfig)
	// OnStateChange fires on every circuit breaker transition
	OnStateChange(service string, from, to CircuitState)
	// OnCallCompleted fires after a call finishes, before the result returns
	OnCallCompleted(service, instanceID string, latency time.Duration, err error)
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/shopfabric/mesh/internal/domain"
)

// Config is the top-level configuration for the mesh daemon. Durations are
// expressed as millisecond integers, matching the registration API shape.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Admin       AdminConfig       `yaml:"admin"`
	HealthCheck HealthCheckConfig `yaml:"health_check"`
	Services    []ServiceConfig   `yaml:"services"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// AdminConfig contains the admin/introspection HTTP server configuration
type AdminConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// HealthCheckConfig bounds individual health probes
type HealthCheckConfig struct {
	ProbeTimeoutMs int `yaml:"probe_timeout_ms"`
}

// ServiceConfig declares one mesh service to register at startup
type ServiceConfig struct {
	Name           string               `yaml:"name"`
	Instances      []InstanceConfig     `yaml:"instances"`
	LoadBalancer   string               `yaml:"load_balancer"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
	TimeoutMs      int                  `yaml:"timeout_ms"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

// InstanceConfig declares one instance of a service
type InstanceConfig struct {
	ID      string  `yaml:"id"`
	Address string  `yaml:"address"`
	Weight  float64 `yaml:"weight"`
}

// CircuitBreakerConfig declares per-service breaker settings
type CircuitBreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	TimeoutMs        int `yaml:"timeout_ms"`
}

// RetryConfig declares per-service retry settings
type RetryConfig struct {
	MaxRetries int `yaml:"max_retries"`
	BackoffMs  int `yaml:"backoff_ms"`
}

// RateLimitConfig declares optional outbound throttling for a service
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Admin: AdminConfig{
			Enabled: true,
			Port:    9090,
		},
		HealthCheck: HealthCheckConfig{
			ProbeTimeoutMs: 2000,
		},
	}
}

// Load reads and validates a configuration file, applying defaults for
// fields the file omits
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 9090
	}
	if c.HealthCheck.ProbeTimeoutMs == 0 {
		c.HealthCheck.ProbeTimeoutMs = 2000
	}
	for i := range c.Services {
		svc := &c.Services[i]
		if svc.LoadBalancer == "" {
			svc.LoadBalancer = string(domain.RoundRobinStrategy)
		}
		if svc.CircuitBreaker.FailureThreshold == 0 {
			svc.CircuitBreaker.FailureThreshold = 5
		}
		if svc.CircuitBreaker.TimeoutMs == 0 {
			svc.CircuitBreaker.TimeoutMs = 30000
		}
		if svc.Retry.BackoffMs == 0 {
			svc.Retry.BackoffMs = 100
		}
		if svc.TimeoutMs == 0 {
			svc.TimeoutMs = 5000
		}
	}
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Services))
	for _, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("service name must not be empty")
		}
		if _, dup := seen[svc.Name]; dup {
			return fmt.Errorf("duplicate service name %q", svc.Name)
		}
		seen[svc.Name] = struct{}{}

		if len(svc.Instances) == 0 {
			return fmt.Errorf("service %q must declare at least one instance", svc.Name)
		}
		if !domain.Strategy(svc.LoadBalancer).Valid() {
			return fmt.Errorf("service %q: unsupported load balancer strategy %q", svc.Name, svc.LoadBalancer)
		}
		for _, inst := range svc.Instances {
			if inst.ID == "" {
				return fmt.Errorf("service %q: instance id must not be empty", svc.Name)
			}
			if inst.Address == "" {
				return fmt.Errorf("service %q: instance %q has no address", svc.Name, inst.ID)
			}
		}
		if svc.Retry.MaxRetries < 0 {
			return fmt.Errorf("service %q: max_retries must not be negative", svc.Name)
		}
	}
	return nil
}

// ProbeTimeout returns the probe timeout as a duration
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.HealthCheck.ProbeTimeoutMs) * time.Millisecond
}

// ToDomain converts a declared service into its registration form
func (s ServiceConfig) ToDomain() domain.ServiceConfig {
	instances := make([]domain.Instance, 0, len(s.Instances))
	for _, inst := range s.Instances {
		instances = append(instances, domain.Instance{
			ID:      inst.ID,
			Address: inst.Address,
			Weight:  inst.Weight,
		})
	}

	return domain.ServiceConfig{
		Instances:    instances,
		LoadBalancer: domain.Strategy(s.LoadBalancer),
		CircuitBreaker: domain.CircuitBreakerConfig{
			FailureThreshold: s.CircuitBreaker.FailureThreshold,
			OpenTimeout:      time.Duration(s.CircuitBreaker.TimeoutMs) * time.Millisecond,
		},
		Retry: domain.RetryPolicy{
			MaxRetries:  s.Retry.MaxRetries,
			BaseBackoff: time.Duration(s.Retry.BackoffMs) * time.Millisecond,
		},
		CallTimeout: time.Duration(s.TimeoutMs) * time.Millisecond,
		RateLimit: domain.RateLimitConfig{
			Enabled:           s.RateLimit.Enabled,
			RequestsPerSecond: s.RateLimit.RequestsPerSecond,
			BurstSize:         s.RateLimit.BurstSize,
		},
	}
}

package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopfabric/mesh/internal/domain"
	mesherrors "github.com/shopfabric/mesh/internal/errors"
	"github.com/shopfabric/mesh/pkg/logger"
)

func validServiceConfig() domain.ServiceConfig {
	return domain.ServiceConfig{
		Instances:      makeInstances(2),
		LoadBalancer:   domain.RoundRobinStrategy,
		CircuitBreaker: domain.CircuitBreakerConfig{FailureThreshold: 3, OpenTimeout: time.Second},
		Retry:          domain.RetryPolicy{MaxRetries: 2, BaseBackoff: 100 * time.Millisecond},
		CallTimeout:    time.Second,
	}
}

func TestRegistryRegisterValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		svcName  string
		mutate   func(*domain.ServiceConfig)
		wantCode mesherrors.ErrorCode
	}{
		{
			name:     "empty name",
			svcName:  "",
			mutate:   func(c *domain.ServiceConfig) {},
			wantCode: mesherrors.ErrCodeInvalidService,
		},
		{
			name:     "no instances",
			svcName:  "pricing",
			mutate:   func(c *domain.ServiceConfig) { c.Instances = nil },
			wantCode: mesherrors.ErrCodeInvalidService,
		},
		{
			name:     "unknown strategy",
			svcName:  "pricing",
			mutate:   func(c *domain.ServiceConfig) { c.LoadBalancer = "ip-hash" },
			wantCode: mesherrors.ErrCodeInvalidStrategy,
		},
		{
			name:    "empty instance id",
			svcName: "pricing",
			mutate: func(c *domain.ServiceConfig) {
				c.Instances[1].ID = ""
			},
			wantCode: mesherrors.ErrCodeInvalidService,
		},
		{
			name:    "duplicate instance id",
			svcName: "pricing",
			mutate: func(c *domain.ServiceConfig) {
				c.Instances[1].ID = c.Instances[0].ID
			},
			wantCode: mesherrors.ErrCodeInvalidService,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(logger.NewNop())
			cfg := validServiceConfig()
			tt.mutate(&cfg)

			err := r.Register(tt.svcName, cfg)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, mesherrors.CodeOf(err))
			assert.Equal(t, 0, r.Count())
		})
	}
}

func TestRegistryDefaultsStrategy(t *testing.T) {
	t.Parallel()

	r := NewRegistry(logger.NewNop())
	cfg := validServiceConfig()
	cfg.LoadBalancer = ""

	require.NoError(t, r.Register("pricing", cfg))

	svc, ok := r.get("pricing")
	require.True(t, ok)
	assert.Equal(t, domain.RoundRobinStrategy, svc.balancer.Type())
}

func TestRegistryReRegisterReplacesState(t *testing.T) {
	t.Parallel()

	r := NewRegistry(logger.NewNop())
	cfg := validServiceConfig()
	cfg.CircuitBreaker.FailureThreshold = 1

	require.NoError(t, r.Register("pricing", cfg))

	svc, ok := r.get("pricing")
	require.True(t, ok)
	svc.breaker.RecordFailure()
	svc.metrics.Record(time.Millisecond, true)
	require.Equal(t, domain.StateOpen, svc.breaker.State())

	// Re-registration is not an error: last write wins and the breaker,
	// balancer and metrics all start over.
	replacement := validServiceConfig()
	replacement.Instances = makeInstances(3)
	require.NoError(t, r.Register("pricing", replacement))
	assert.Equal(t, 1, r.Count())

	svc, ok = r.get("pricing")
	require.True(t, ok)
	assert.Equal(t, domain.StateClosed, svc.breaker.State())
	assert.Equal(t, 0, svc.breaker.Failures())
	assert.Equal(t, int64(0), svc.metrics.Requests())
	assert.Len(t, svc.descriptor.Config.Instances, 3)
}

func TestRegistryRateLimiterConstruction(t *testing.T) {
	t.Parallel()

	r := NewRegistry(logger.NewNop())

	cfg := validServiceConfig()
	require.NoError(t, r.Register("plain", cfg))
	svc, _ := r.get("plain")
	assert.Nil(t, svc.limiter, "limiter is only built when rate limiting is enabled")

	cfg = validServiceConfig()
	cfg.RateLimit = domain.RateLimitConfig{Enabled: true, RequestsPerSecond: 10, BurstSize: 5}
	require.NoError(t, r.Register("throttled", cfg))
	svc, _ = r.get("throttled")
	assert.NotNil(t, svc.limiter)
}

func TestRegistryUnregister(t *testing.T) {
	t.Parallel()

	r := NewRegistry(logger.NewNop())
	require.NoError(t, r.Register("pricing", validServiceConfig()))

	r.Unregister("pricing")
	assert.Equal(t, 0, r.Count())

	_, ok := r.get("pricing")
	assert.False(t, ok)

	// Unregistering an unknown name is a no-op.
	r.Unregister("ghost")
}

func TestRegistryDescriptorAndNames(t *testing.T) {
	t.Parallel()

	r := NewRegistry(logger.NewNop())
	require.NoError(t, r.Register("pricing", validServiceConfig()))
	require.NoError(t, r.Register("inventory", validServiceConfig()))

	desc, ok := r.Descriptor("pricing")
	require.True(t, ok)
	assert.Equal(t, "pricing", desc.Name)
	assert.Len(t, desc.Config.Instances, 2)

	assert.ElementsMatch(t, []string{"pricing", "inventory"}, r.Names())

	_, ok = r.Descriptor("ghost")
	assert.False(t, ok)
}

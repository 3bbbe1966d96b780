package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shopfabric/mesh/internal/domain"
	"github.com/shopfabric/mesh/pkg/logger"
)

func TestHealthCheckerFiltersFailedProbes(t *testing.T) {
	t.Parallel()

	probe := domain.ProbeFunc(func(ctx context.Context, inst domain.Instance) error {
		if inst.ID == "inst-2" {
			return errors.New("connection refused")
		}
		return nil
	})

	hc := NewHealthChecker(probe, time.Second, logger.NewNop())
	healthy := hc.HealthyInstances(context.Background(), "pricing", makeInstances(3))

	assert.Equal(t, []string{"inst-1", "inst-3"}, instanceIDs(healthy))
}

func TestHealthCheckerPreservesOrder(t *testing.T) {
	t.Parallel()

	// Probes finish in reverse order; the healthy set must still follow the
	// registered instance order.
	probe := domain.ProbeFunc(func(ctx context.Context, inst domain.Instance) error {
		if inst.ID == "inst-1" {
			time.Sleep(30 * time.Millisecond)
		}
		return nil
	})

	hc := NewHealthChecker(probe, time.Second, logger.NewNop())
	healthy := hc.HealthyInstances(context.Background(), "pricing", makeInstances(3))

	assert.Equal(t, []string{"inst-1", "inst-2", "inst-3"}, instanceIDs(healthy))
}

func TestHealthCheckerAllUnhealthy(t *testing.T) {
	t.Parallel()

	probe := domain.ProbeFunc(func(ctx context.Context, inst domain.Instance) error {
		return errors.New("down")
	})

	hc := NewHealthChecker(probe, time.Second, logger.NewNop())
	healthy := hc.HealthyInstances(context.Background(), "pricing", makeInstances(2))

	assert.Empty(t, healthy)
}

func TestHealthCheckerProbeTimeout(t *testing.T) {
	t.Parallel()

	probe := domain.ProbeFunc(func(ctx context.Context, inst domain.Instance) error {
		if inst.ID == "inst-1" {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	hc := NewHealthChecker(probe, 20*time.Millisecond, logger.NewNop())

	start := time.Now()
	healthy := hc.HealthyInstances(context.Background(), "pricing", makeInstances(2))

	assert.Equal(t, []string{"inst-2"}, instanceIDs(healthy), "a timed-out probe excludes only its instance")
	assert.Less(t, time.Since(start), time.Second)
}

func TestHealthCheckerStatelessBetweenCalls(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	down := true

	probe := domain.ProbeFunc(func(ctx context.Context, inst domain.Instance) error {
		mu.Lock()
		defer mu.Unlock()
		if down {
			return errors.New("down")
		}
		return nil
	})

	hc := NewHealthChecker(probe, time.Second, logger.NewNop())
	instances := makeInstances(1)

	assert.Empty(t, hc.HealthyInstances(context.Background(), "pricing", instances))

	mu.Lock()
	down = false
	mu.Unlock()

	// No caching: the instance is healthy again on the very next round.
	assert.Len(t, hc.HealthyInstances(context.Background(), "pricing", instances), 1)
}

func instanceIDs(instances []domain.Instance) []string {
	ids := make([]string, 0, len(instances))
	for _, inst := range instances {
		ids = append(ids, inst.ID)
	}
	return ids
}

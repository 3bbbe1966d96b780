package service

import (
	"context"
	"sync"
	"time"

	"github.com/shopfabric/mesh/internal/domain"
	mesherrors "github.com/shopfabric/mesh/internal/errors"
	"github.com/shopfabric/mesh/pkg/logger"
)

// DefaultProbeTimeout bounds a single probe when no explicit timeout is set
const DefaultProbeTimeout = 2 * time.Second

// HealthChecker computes the healthy subset of a service's instances. It is
// stateless per call: the healthy set is recomputed fresh on every
// invocation, trading probe overhead for freshness. A failed probe only
// excludes that instance from the current round; it is never fatal.
type HealthChecker struct {
	probe   domain.Probe
	timeout time.Duration
	logger  *logger.Logger
}

// NewHealthChecker creates a health checker around an injected probe
func NewHealthChecker(probe domain.Probe, timeout time.Duration, log *logger.Logger) *HealthChecker {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HealthChecker{
		probe:   probe,
		timeout: timeout,
		logger:  log.HealthCheckLogger(),
	}
}

// HealthyInstances probes every instance concurrently and returns the ones
// that passed, preserving the original list order. Order matters: the
// least-connections tie break and the round-robin cursor both key off it.
func (hc *HealthChecker) HealthyInstances(ctx context.Context, service string, instances []domain.Instance) []domain.Instance {
	if len(instances) == 0 {
		return nil
	}

	passed := make([]bool, len(instances))
	var wg sync.WaitGroup

	for i, inst := range instances {
		wg.Add(1)
		go func(i int, inst domain.Instance) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, hc.timeout)
			defer cancel()

			start := time.Now()
			err := hc.probe.Check(probeCtx, inst)
			if err != nil {
				hc.logger.WithError(mesherrors.NewHealthCheckFailed(service, inst.ID, err)).
					WithFields(map[string]interface{}{
						"service":     service,
						"instance_id": inst.ID,
						"duration_ms": time.Since(start).Milliseconds(),
					}).Warn("Health probe failed, excluding instance")
				return
			}
			passed[i] = true
		}(i, inst)
	}
	wg.Wait()

	healthy := make([]domain.Instance, 0, len(instances))
	for i, ok := range passed {
		if ok {
			healthy = append(healthy, instances[i])
		}
	}

	hc.logger.WithFields(map[string]interface{}{
		"service": service,
		"probed":  len(instances),
		"healthy": len(healthy),
	}).Debug("Computed healthy instance set")

	return healthy
}

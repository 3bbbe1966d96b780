package service

import (
	"math/rand"
	"sync"
	"time"

	"github.com/shopfabric/mesh/internal/domain"
	mesherrors "github.com/shopfabric/mesh/internal/errors"
)

// BalancerStrategy selects one instance out of the current healthy subset.
// Select returns false when no instance is selectable; callers treat that as
// "no instance available", not as a strategy bug. Release must be called for
// every successful Select once the call completes, regardless of outcome.
type BalancerStrategy interface {
	Select(healthy []domain.Instance) (domain.Instance, bool)
	Release(instanceID string)
	Type() domain.Strategy
}

// NewStrategy builds the strategy state for a service at registration time
func NewStrategy(tag domain.Strategy, instances []domain.Instance) (BalancerStrategy, error) {
	switch tag {
	case domain.RoundRobinStrategy:
		return NewRoundRobinStrategy(), nil
	case domain.LeastConnectionsStrategy:
		return NewLeastConnectionsStrategy(instances), nil
	case domain.WeightedStrategy:
		return NewWeightedRandomStrategy(), nil
	default:
		return nil, mesherrors.NewInvalidStrategy(string(tag))
	}
}

// RoundRobinStrategy rotates a cursor over the healthy instance list. If the
// healthy set shrinks between calls the cursor is clamped modulo the new
// size; an instance may be skipped or repeated after a membership change.
// Documented limitation, not corrected.
type RoundRobinStrategy struct {
	mu     sync.Mutex
	cursor int
}

// NewRoundRobinStrategy creates a round-robin strategy with the cursor at 0
func NewRoundRobinStrategy() *RoundRobinStrategy {
	return &RoundRobinStrategy{}
}

func (s *RoundRobinStrategy) Select(healthy []domain.Instance) (domain.Instance, bool) {
	if len(healthy) == 0 {
		return domain.Instance{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor >= len(healthy) {
		s.cursor = s.cursor % len(healthy)
	}
	selected := healthy[s.cursor]
	s.cursor = (s.cursor + 1) % len(healthy)
	return selected, true
}

func (s *RoundRobinStrategy) Release(instanceID string) {}

func (s *RoundRobinStrategy) Type() domain.Strategy {
	return domain.RoundRobinStrategy
}

// LeastConnectionsStrategy tracks an active-call count per instance id and
// picks the healthy instance with the minimum count, first instance winning
// ties. The count is incremented on selection and decremented on release;
// the orchestrator defers the release so it runs on every path.
type LeastConnectionsStrategy struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewLeastConnectionsStrategy initializes every known instance count to 0
func NewLeastConnectionsStrategy(instances []domain.Instance) *LeastConnectionsStrategy {
	counts := make(map[string]int, len(instances))
	for _, inst := range instances {
		counts[inst.ID] = 0
	}
	return &LeastConnectionsStrategy{counts: counts}
}

func (s *LeastConnectionsStrategy) Select(healthy []domain.Instance) (domain.Instance, bool) {
	if len(healthy) == 0 {
		return domain.Instance{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	selected := healthy[0]
	min := s.counts[selected.ID]
	for _, inst := range healthy[1:] {
		if c := s.counts[inst.ID]; c < min {
			min = c
			selected = inst
		}
	}

	s.counts[selected.ID]++
	return selected, true
}

func (s *LeastConnectionsStrategy) Release(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counts[instanceID] > 0 {
		s.counts[instanceID]--
	}
}

func (s *LeastConnectionsStrategy) Type() domain.Strategy {
	return domain.LeastConnectionsStrategy
}

// ActiveConnections returns the current count for an instance id
func (s *LeastConnectionsStrategy) ActiveConnections(instanceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[instanceID]
}

// WeightedRandomStrategy draws a uniform value in [0, totalWeight) and walks
// the healthy list subtracting each instance's weight until the remainder
// goes negative. Instances with weight <= 0 are never selected.
type WeightedRandomStrategy struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewWeightedRandomStrategy creates a weighted-random strategy
func NewWeightedRandomStrategy() *WeightedRandomStrategy {
	return &WeightedRandomStrategy{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *WeightedRandomStrategy) Select(healthy []domain.Instance) (domain.Instance, bool) {
	if len(healthy) == 0 {
		return domain.Instance{}, false
	}

	total := 0.0
	for _, inst := range healthy {
		if w := inst.EffectiveWeight(); w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return domain.Instance{}, false
	}

	s.mu.Lock()
	remainder := s.rnd.Float64() * total
	s.mu.Unlock()

	for _, inst := range healthy {
		w := inst.EffectiveWeight()
		if w <= 0 {
			continue
		}
		remainder -= w
		if remainder < 0 {
			return inst, true
		}
	}

	// Float underflow on the last subtraction; the walk is exhaustive over
	// positive weights, so fall back to the last selectable instance.
	for i := len(healthy) - 1; i >= 0; i-- {
		if healthy[i].EffectiveWeight() > 0 {
			return healthy[i], true
		}
	}
	return domain.Instance{}, false
}

func (s *WeightedRandomStrategy) Release(instanceID string) {}

func (s *WeightedRandomStrategy) Type() domain.Strategy {
	return domain.WeightedStrategy
}

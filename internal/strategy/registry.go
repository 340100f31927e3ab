package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Registry maps strategy kinds to evaluators. It is safe for concurrent use.
type Registry struct {
	evaluators map[domain.StrategyKind]Evaluator
	mu         sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		evaluators: make(map[domain.StrategyKind]Evaluator),
	}
}

// DefaultRegistry returns a registry holding the accumulation, value and
// scalp evaluators.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Accumulation{})
	r.Register(Value{})
	r.Register(Scalp{})
	return r
}

// Register adds an evaluator under its kind, replacing any existing one.
func (r *Registry) Register(e Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[e.Kind()] = e
}

// Get retrieves an evaluator by kind.
func (r *Registry) Get(kind domain.StrategyKind) (Evaluator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.evaluators[kind]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", kind)
	}
	return e, nil
}

// List returns the registered kinds in sorted order.
func (r *Registry) List() []domain.StrategyKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]domain.StrategyKind, 0, len(r.evaluators))
	for k := range r.evaluators {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

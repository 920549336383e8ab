// Package strategy defines the Strategy interface for single-asset signal
// strategies and provides a Registry for looking them up by name.
package strategy

import (
	"errors"
	"fmt"
	"slices"

	"folio/internal/domain"
)

// Strategy turns one symbol's price history into a per-day signal stream.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Warmup returns the number of leading bars on which the strategy can
	// only emit hold.
	Warmup() int

	// Signals returns one signal per bar. Element i may depend only on
	// bars[0..i].
	Signals(bars []domain.Bar) []domain.Signal
}

// Registry maps strategy names to implementations and remembers the order
// they were added in, which is the order comparisons report them.
type Registry struct {
	byName map[string]Strategy
	order  []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Strategy)}
}

// Register adds s under s.Name(). Empty and duplicate names are rejected.
func (r *Registry) Register(s Strategy) error {
	name := s.Name()
	if name == "" {
		return errors.New("strategy has an empty name")
	}
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("strategy %q already registered", name)
	}
	r.byName[name] = s
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register for built-in strategies; it panics on error.
func (r *Registry) MustRegister(s Strategy) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Get retrieves a strategy by name.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// List returns the registered names in registration order.
func (r *Registry) List() []string {
	return slices.Clone(r.order)
}

// Closes extracts close prices from bars.
func Closes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

package strategy

import (
	"testing"

	"folio/internal/domain"
)

// stubStrategy is a minimal Strategy implementation used in registry tests.
type stubStrategy struct {
	name string
}

func (s *stubStrategy) Name() string                              { return s.name }
func (s *stubStrategy) Warmup() int                               { return 0 }
func (s *stubStrategy) Signals(bars []domain.Bar) []domain.Signal { return make([]domain.Signal, len(bars)) }

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	s := &stubStrategy{name: "test-strategy"}

	if err := r.Register(s); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, ok := r.Get("test-strategy")
	if !ok {
		t.Fatal("Get returned false for registered strategy")
	}
	if got.Name() != "test-strategy" {
		t.Errorf("Get returned strategy with Name() = %q, want %q", got.Name(), "test-strategy")
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nonexistent")
	if ok {
		t.Error("Get returned true for unregistered strategy")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&stubStrategy{name: "beta"})
	r.MustRegister(&stubStrategy{name: "alpha"})

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	// List keeps registration order.
	if names[0] != "beta" || names[1] != "alpha" {
		t.Errorf("List returned %v, want [beta alpha]", names)
	}

	names[0] = "mutated"
	if r.List()[0] != "beta" {
		t.Error("List must return a copy")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&stubStrategy{name: "ma"})
	if err := r.Register(&stubStrategy{name: "ma"}); err == nil {
		t.Error("Register accepted a duplicate name")
	}
	if err := r.Register(&stubStrategy{name: ""}); err == nil {
		t.Error("Register accepted an empty name")
	}
}

func TestCloses(t *testing.T) {
	got := Closes([]domain.Bar{{Close: 1}, {Close: 2.5}})
	if len(got) != 2 || got[1] != 2.5 {
		t.Errorf("Closes = %v, want [1 2.5]", got)
	}
}

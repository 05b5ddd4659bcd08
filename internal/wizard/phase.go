package wizard

import (
	"errors"
	"fmt"
	"sync"
)

type Phase string

const (
	PhaseEditing    Phase = "editing"
	PhaseValidating Phase = "validating"
	PhaseSubmitting Phase = "submitting"
	PhasePublished  Phase = "published"
	PhaseFailed     Phase = "failed"
)

var ErrInvalidTransition = errors.New("invalid phase transition")

var transitions = map[Phase][]Phase{
	PhaseEditing:    {PhaseValidating},
	PhaseValidating: {PhaseEditing, PhaseSubmitting},
	PhaseSubmitting: {PhasePublished, PhaseFailed},
	PhaseFailed:     {PhaseEditing},
}

func (p Phase) CanTransition(to Phase) bool {
	for _, next := range transitions[p] {
		if next == to {
			return true
		}
	}
	return false
}

// Busy reports whether a publish attempt is in flight.
func (p Phase) Busy() bool {
	return p == PhaseValidating || p == PhaseSubmitting
}

// Machine tracks the submission phase of one session.
type Machine struct {
	mu    sync.Mutex
	phase Phase
}

func NewMachine() *Machine {
	return &Machine{phase: PhaseEditing}
}

func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Machine) Transition(to Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.phase.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.phase, to)
	}
	m.phase = to
	return nil
}

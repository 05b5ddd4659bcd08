package wizard

import (
	"slices"
	"sync"
)

// Store holds the in-memory wizard state of one session.
type Store struct {
	mu    sync.RWMutex
	state State
}

func NewStore(vehicle VehicleType) *Store {
	return &Store{state: NewState(vehicle)}
}

// FromState wraps a rehydrated state.
func FromState(s State) *Store {
	st := s.Clone()
	return &Store{state: st}
}

// Update sets one field of a step record, keeping the others.
func (s *Store) Update(step Step, field string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.update(step, field, value)
}

// Merge applies several field updates to one step.
func (s *Store) Merge(step Step, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range fields {
		s.update(step, k, v)
	}
}

func (s *Store) update(step Step, field string, value any) {
	rec, ok := s.state.Steps[step]
	if !ok {
		rec = StepRecord{}
		s.state.Steps[step] = rec
	}
	rec[field] = normalizeValue(value)
}

// Step returns a copy of the record for step, or an empty record.
func (s *Store) Step(step Step) StepRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Step(step).clone()
}

func (s *Store) VehicleType() VehicleType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.VehicleType
}

// SetVehicleType switches the active vehicle type. Switching to a
// different type discards every step record and top-level field.
// It reports whether anything was discarded.
func (s *Store) SetVehicleType(v VehicleType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.VehicleType == v {
		return false
	}
	s.state = NewState(v)
	return true
}

func (s *Store) SetCity(city string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.City = city
}

func (s *Store) SetSellerPrice(price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SellerPrice = price
}

func (s *Store) SetKeyFeatures(features []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.KeyFeatures = slices.Clone(features)
}

func (s *Store) SetPhotos(p PhotoCollection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Photos = p.clone()
}

func (s *Store) SetLocation(loc Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Location = &loc
}

// Snapshot returns a deep copy of the whole state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

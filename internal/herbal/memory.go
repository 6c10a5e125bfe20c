package herbal

import (
	"context"
	"sync"
)

// MemoryStore holds the catalogue in process. Used by tests and local
// development without Postgres.
type MemoryStore struct {
	mu         sync.RWMutex
	diagnoses  []Diagnosis
	symptoms   []Symptom
	conditions []SpecialCondition
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty catalogue.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load replaces the catalogue contents.
func (s *MemoryStore) Load(d []Diagnosis, sy []Symptom, c []SpecialCondition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagnoses = append([]Diagnosis(nil), d...)
	s.symptoms = append([]Symptom(nil), sy...)
	s.conditions = append([]SpecialCondition(nil), c...)
}

func (s *MemoryStore) ListDiagnoses(ctx context.Context) ([]Diagnosis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := min(len(s.diagnoses), listLimit)
	out := make([]Diagnosis, n)
	copy(out, s.diagnoses[:n])
	for i := range out {
		out[i].HerbalName = FormatHerbalName(out[i].HerbalName)
	}
	return out, nil
}

func (s *MemoryStore) ListSymptoms(ctx context.Context) ([]Symptom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := min(len(s.symptoms), listLimit)
	out := make([]Symptom, n)
	copy(out, s.symptoms[:n])
	for i := range out {
		out[i].HerbalName = FormatHerbalName(out[i].HerbalName)
	}
	return out, nil
}

func (s *MemoryStore) ListSpecialConditions(ctx context.Context, filter ConditionFilter) ([]SpecialCondition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SpecialCondition
	for _, c := range s.conditions {
		if filter.Matches(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

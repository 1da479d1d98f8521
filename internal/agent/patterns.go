package agent

import (
	"sync"

	"auditflow/internal/domain"
)

const (
	maxHistory    = 100
	maxInputBytes = 500
)

// patternStore accumulates per-(type,priority) success statistics and
// a bounded ring of recent executions.
type patternStore struct {
	mu       sync.Mutex
	patterns map[string]domain.Pattern
	history  []domain.ExecutionRecord
}

func newPatternStore() *patternStore {
	return &patternStore{patterns: make(map[string]domain.Pattern)}
}

// Record folds one execution into the pattern for its type and
// priority with an incremental mean, and appends it to the history.
func (s *patternStore) Record(rec domain.ExecutionRecord) {
	if len(rec.Input) > maxInputBytes {
		rec.Input = rec.Input[:maxInputBytes]
	}
	key := rec.Type + "_" + rec.Priority

	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.patterns[key]
	p.Count++
	p.AvgSuccess = (p.AvgSuccess*float64(p.Count-1) + rec.SuccessRate) / float64(p.Count)
	s.patterns[key] = p

	s.history = append(s.history, rec)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
}

// Patterns returns a copy of the accumulated statistics.
func (s *patternStore) Patterns() map[string]domain.Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Pattern, len(s.patterns))
	for k, v := range s.patterns {
		out[k] = v
	}
	return out
}

// History returns the recent executions, oldest first.
func (s *patternStore) History() []domain.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ExecutionRecord(nil), s.history...)
}

// Size returns the current history length.
func (s *patternStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

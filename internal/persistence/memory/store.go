// Package memory provides an in-process step repository for tests and local runs.
package memory

import (
	"context"
	"sync"

	"example.com/steptracker/internal/domain"
)

// Store keeps the daily record in memory.
type Store struct {
	mu     sync.RWMutex
	record domain.DailyStepRecord
	found  bool
	writes int
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{}
}

// NewStoreWith constructs a Store seeded with record.
func NewStoreWith(record domain.DailyStepRecord) *Store {
	return &Store{record: record, found: true}
}

// Load implements domain.StepRepository.
func (s *Store) Load(context.Context) (domain.DailyStepRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record, s.found, nil
}

// Save implements domain.StepRepository.
func (s *Store) Save(_ context.Context, record domain.DailyStepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = record
	s.found = true
	s.writes++
	return nil
}

// Writes reports how many times Save was called.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

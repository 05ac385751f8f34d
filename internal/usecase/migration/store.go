package migration

import (
	"sync"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// Store holds the records of completed migrations for the life of the
// process. It is safe for concurrent use; the lock is never held across an
// engine call.
type Store struct {
	mu      sync.Mutex
	records []domain.MigratedDatabase
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Append records a completed migration.
func (s *Store) Append(record domain.MigratedDatabase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
}

// List returns a copy of all records in insertion order.
func (s *Store) List() []domain.MigratedDatabase {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MigratedDatabase, len(s.records))
	copy(out, s.records)
	return out
}

// Find returns the record for containerID.
func (s *Store) Find(containerID string) (domain.MigratedDatabase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ContainerID == containerID {
			return r, true
		}
	}
	return domain.MigratedDatabase{}, false
}

// Remove drops every record for containerID and reports whether any existed.
func (s *Store) Remove(containerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	for _, r := range s.records {
		if r.ContainerID != containerID {
			kept = append(kept, r)
		}
	}
	removed := len(kept) != len(s.records)
	clear(s.records[len(kept):])
	s.records = kept
	return removed
}

package checkpoint

import (
	"context"
	"sync"

	"github.com/sha1n/svn-river/internal/domain"
)

// MemoryStore keeps checkpoints in memory.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]domain.Revision
	history map[string][]domain.Revision
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]domain.Revision),
		history: make(map[string][]domain.Revision),
	}
}

func (s *MemoryStore) Get(_ context.Context, identity domain.Identity) (domain.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[identity.ID], nil
}

func (s *MemoryStore) Set(_ context.Context, identity domain.Identity, rev domain.Revision) error {
	if err := validate(rev); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[identity.ID] = rev
	s.history[identity.ID] = append(s.history[identity.ID], rev)
	return nil
}

// History returns every value set for an identity, oldest first.
func (s *MemoryStore) History(identity domain.Identity) []domain.Revision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Revision(nil), s.history[identity.ID]...)
}

func (s *MemoryStore) Close() error {
	return nil
}

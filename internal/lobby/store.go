// internal/lobby/store.go
package lobby

import (
	"context"
	"sync"

	"github.com/jason-s-yu/courier/internal/models"
)

//go:generate mockgen -destination=../mocks/mock_store.go -package=mocks github.com/jason-s-yu/courier/internal/lobby Store

// Store persists the whole registry document. Save replaces the previous
// document atomically; Load returns models.ErrNoSnapshot when nothing was saved yet.
type Store interface {
	Load(ctx context.Context) (*models.RegistrySnapshot, error)
	Save(ctx context.Context, snap *models.RegistrySnapshot) error
}

// MemoryStore keeps the encoded document in process memory. It is used when
// STORE_BACKEND=memory and by tests.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (*models.RegistrySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, models.ErrNoSnapshot
	}
	return models.DecodeSnapshot(s.data)
}

func (s *MemoryStore) Save(_ context.Context, snap *models.RegistrySnapshot) error {
	data, err := models.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

package memory

import (
	"context"
	"sync"

	"github.com/satindergrewal/snaptracks/internal/track"
)

// Store keeps the track record in process memory.
type Store struct {
	mu   sync.RWMutex
	data []byte
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Save(ctx context.Context, data []byte) error {
	s.mu.Lock()
	s.data = append([]byte(nil), data...)
	s.mu.Unlock()
	return nil
}

func (s *Store) Load(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, track.ErrNoRecord
	}
	return append([]byte(nil), s.data...), nil
}

func (s *Store) Close() error { return nil }

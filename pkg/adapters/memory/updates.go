// Package memory provides in-process implementations of the core storage
// contracts, used by tests and by workspaces that do not persist history.
package memory

import (
	"context"
	"sync"

	"github.com/aretw0/gluedoc/pkg/core"
)

// UpdateStore implements core.UpdateStore in memory.
type UpdateStore struct {
	mu      sync.RWMutex
	updates map[string][][]byte
	closed  bool
}

// NewUpdateStore creates an empty update store.
func NewUpdateStore() *UpdateStore {
	return &UpdateStore{updates: make(map[string][][]byte)}
}

func (s *UpdateStore) AppendUpdate(ctx context.Context, sessionID string, update []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrClosed
	}
	s.updates[sessionID] = append(s.updates[sessionID], append([]byte(nil), update...))
	return nil
}

func (s *UpdateStore) Updates(ctx context.Context, sessionID string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, core.ErrClosed
	}
	stored := s.updates[sessionID]
	out := make([][]byte, len(stored))
	for i, u := range stored {
		out[i] = append([]byte(nil), u...)
	}
	return out, nil
}

func (s *UpdateStore) Compact(ctx context.Context, sessionID string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrClosed
	}
	s.updates[sessionID] = [][]byte{append([]byte(nil), snapshot...)}
	return nil
}

func (s *UpdateStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrClosed
	}
	delete(s.updates, sessionID)
	return nil
}

func (s *UpdateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ core.UpdateStore = (*UpdateStore)(nil)

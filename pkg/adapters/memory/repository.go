package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/gluedoc/pkg/core"
)

// Repository implements core.Repository in memory. Sessions are stored as
// deep copies so callers cannot mutate stored state.
type Repository struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{sessions: make(map[string][]byte)}
}

func (r *Repository) Initialize(ctx context.Context) error {
	return nil
}

func (r *Repository) Save(ctx context.Context, s core.Session) error {
	if s.ID == "" {
		return fmt.Errorf("session has no ID")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = data
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (core.Session, error) {
	r.mu.RLock()
	data, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return core.Session{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	s := core.NewSession(id)
	if err := json.Unmarshal(data, &s); err != nil {
		return core.Session{}, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	s.ID = id
	return s, nil
}

func (r *Repository) List(ctx context.Context) ([]core.Summary, error) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	out := make([]core.Summary, 0, len(ids))
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, s.Summarize())
	}
	return out, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	delete(r.sessions, id)
	return nil
}

var _ core.Repository = (*Repository)(nil)

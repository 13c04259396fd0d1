package fs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/gluedoc/pkg/core"
)

// ErrTransactionClosed is returned when a committed or rolled back transaction is used.
var ErrTransactionClosed = errors.New("transaction closed")

// Transaction implements core.Transaction for the filesystem.
type Transaction struct {
	repo    *Repository
	staged  map[string]core.Session // ID -> Session
	deleted map[string]bool         // ID -> bool
	mu      sync.Mutex
	closed  bool
}

// NewTransaction creates a new transaction.
func NewTransaction(repo *Repository) *Transaction {
	return &Transaction{
		repo:    repo,
		staged:  make(map[string]core.Session),
		deleted: make(map[string]bool),
	}
}

// Save stages a session for saving.
func (t *Transaction) Save(ctx context.Context, s core.Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransactionClosed
	}
	if err := validID(s.ID); err != nil {
		return err
	}

	t.staged[s.ID] = s
	delete(t.deleted, s.ID)
	return nil
}

// Get retrieves a session, favoring staged changes.
func (t *Transaction) Get(ctx context.Context, id string) (core.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return core.Session{}, ErrTransactionClosed
	}
	if t.deleted[id] {
		return core.Session{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	if s, ok := t.staged[id]; ok {
		return s, nil
	}
	return t.repo.Get(ctx, id)
}

// Delete stages a session for deletion.
func (t *Transaction) Delete(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransactionClosed
	}

	t.deleted[id] = true
	delete(t.staged, id)
	return nil
}

// Commit writes staged sessions and removes deleted ones. Each file write is
// atomic; a failure part way leaves earlier files written.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransactionClosed
	}
	if t.repo.isReadOnly() {
		return core.ErrReadOnly
	}

	ids := make([]string, 0, len(t.staged))
	for id := range t.staged {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.repo.write(t.staged[id]); err != nil {
			return fmt.Errorf("failed to write session %s: %w", id, err)
		}
	}

	for id := range t.deleted {
		if err := t.repo.remove(id); err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}
	}

	if err := t.repo.cache.Save(); err != nil {
		t.repo.config.Logger.Warn("failed to save index", "error", err)
	}

	t.closed = true
	return nil
}

// Rollback discards all staged changes.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.staged = nil
	t.deleted = nil
	t.closed = true
	return nil
}

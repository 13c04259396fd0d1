package core

import "context"

// Repository defines the contract for storing and retrieving sessions.
type Repository interface {
	// Save persists a session. It creates if not exists, or updates if it does.
	Save(ctx context.Context, s Session) error

	// Get retrieves a session by its ID. Missing sessions wrap ErrNotFound.
	Get(ctx context.Context, id string) (Session, error)

	// List returns summaries of all available sessions.
	List(ctx context.Context) ([]Summary, error)

	// Delete removes a session by its ID.
	Delete(ctx context.Context, id string) error

	// Initialize ensures the underlying storage is ready (e.g., create directories).
	Initialize(ctx context.Context) error
}

// Transaction defines the contract for a unit of work.
// Changes made within a transaction are applied together on Commit.
type Transaction interface {
	// Save stages a session for persistence.
	Save(ctx context.Context, s Session) error

	// Get retrieves a session, preferring the staged version if it exists in the transaction.
	Get(ctx context.Context, id string) (Session, error)

	// Delete stages a session for removal.
	Delete(ctx context.Context, id string) error

	// Commit applies all staged changes.
	Commit(ctx context.Context) error

	// Rollback discards all staged changes.
	Rollback(ctx context.Context) error
}

// TransactionalRepository extends Repository to support transactions.
type TransactionalRepository interface {
	Repository

	// Begin starts a new transaction.
	Begin(ctx context.Context) (Transaction, error)
}

// Watchable is implemented by repositories that report external changes.
type Watchable interface {
	// Watch emits an event for every session matching pattern that changes
	// until ctx is cancelled.
	Watch(ctx context.Context, pattern string) (<-chan Event, error)
}

// UpdateStore persists the replicated update history of sessions, so a
// session can be rebuilt from its last snapshot plus the updates after it.
type UpdateStore interface {
	// AppendUpdate records one encoded update for the session.
	AppendUpdate(ctx context.Context, sessionID string, update []byte) error

	// Updates returns every stored update for the session in append order.
	Updates(ctx context.Context, sessionID string) ([][]byte, error)

	// Compact replaces the session's history with a single snapshot update.
	Compact(ctx context.Context, sessionID string, snapshot []byte) error

	// Delete drops the session's history.
	Delete(ctx context.Context, sessionID string) error

	// Close releases the store.
	Close() error
}

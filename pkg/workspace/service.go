// Package workspace manages the sessions of a workspace: it opens shared
// documents from their persisted snapshot and update history, keeps one live
// document per session, and writes changes back.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/gluedoc/internal/metrics"
	"github.com/aretw0/gluedoc/pkg/core"
	"github.com/aretw0/gluedoc/pkg/crdt"
	"github.com/aretw0/gluedoc/pkg/session"
)

// StoreOrigin is the origin of updates replayed from the update store.
const StoreOrigin = "store"

// Service handles the lifecycle of session documents.
type Service struct {
	repo            core.Repository
	updates         core.UpdateStore
	logger          *slog.Logger
	metrics         *metrics.Metrics
	eventBufferSize int
	docOpts         []session.Option

	mu   sync.RWMutex
	open map[string]*openDoc
}

type openDoc struct {
	doc  *session.Document
	refs int
}

// New creates a Service over repo.
func New(repo core.Repository, opts ...Option) *Service {
	s := &Service{
		repo:            repo,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		eventBufferSize: 100,
		open:            make(map[string]*openDoc),
	}
	for _, opt := range opts {
		opt(s)
	}
	// Explicit document options come last and win.
	s.docOpts = append([]session.Option{
		session.WithLogger(s.logger),
		session.WithMetrics(s.metrics),
	}, s.docOpts...)
	return s
}

// Initialize prepares the underlying repository.
func (s *Service) Initialize(ctx context.Context) error {
	return s.repo.Initialize(ctx)
}

func validate(id string) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}
	return nil
}

// Create saves a new empty session and opens it. It fails with core.ErrExists
// when the session is already stored or open.
func (s *Service) Create(ctx context.Context, id string) (*session.Document, error) {
	if err := validate(id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.open[id]; ok {
		return nil, fmt.Errorf("%w: %s", core.ErrExists, id)
	}
	if _, err := s.repo.Get(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrExists, id)
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	doc := session.New(id, s.docOpts...)
	if err := s.repo.Save(ctx, doc.Snapshot()); err != nil {
		doc.Dispose()
		return nil, fmt.Errorf("failed to save session %s: %w", id, err)
	}
	if s.updates != nil {
		// Drop history left behind by an earlier session with the same ID.
		if err := s.updates.Delete(ctx, id); err != nil {
			doc.Dispose()
			return nil, fmt.Errorf("failed to reset history of %s: %w", id, err)
		}
	}
	s.attach(id, doc)
	s.logger.Info("session created", "id", id)
	return doc, nil
}

// Open returns the live document of a session, loading it on first use. Each
// Open must be paired with a Close.
//
// When the update store holds history for the session, the document is rebuilt
// from it alone; the history always starts with a full state. Otherwise the
// stored snapshot is loaded and becomes the start of the history.
func (s *Service) Open(ctx context.Context, id string) (*session.Document, error) {
	if err := validate(id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if od, ok := s.open[id]; ok {
		od.refs++
		return od.doc, nil
	}

	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.attach(id, doc)
	s.logger.Debug("session opened", "id", id)
	return doc, nil
}

func (s *Service) load(ctx context.Context, id string) (*session.Document, error) {
	if s.updates != nil {
		history, err := s.updates.Updates(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read history of %s: %w", id, err)
		}
		if len(history) > 0 {
			doc := session.New(id, s.docOpts...)
			for i, raw := range history {
				u, err := crdt.DecodeUpdate(raw)
				if err != nil {
					doc.Dispose()
					return nil, fmt.Errorf("history of %s, entry %d: %w", id, i, err)
				}
				if err := doc.ApplyUpdate(u, StoreOrigin); err != nil {
					doc.Dispose()
					return nil, err
				}
			}
			return doc, nil
		}
	}

	snap, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := session.FromSnapshot(snap, s.docOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if err := s.compact(ctx, id, doc); err != nil {
		doc.Dispose()
		return nil, err
	}
	return doc, nil
}

// attach registers doc as open and starts persisting its updates. Callers hold s.mu.
func (s *Service) attach(id string, doc *session.Document) {
	s.open[id] = &openDoc{doc: doc, refs: 1}
	s.metrics.DocumentOpened()
	if s.updates == nil {
		return
	}
	doc.OnUpdate(func(u crdt.Update, origin any) {
		if origin == StoreOrigin {
			return
		}
		data, err := u.Encode()
		if err != nil {
			s.logger.Error("failed to encode update", "id", id, "error", err)
			return
		}
		if err := s.updates.AppendUpdate(context.Background(), id, data); err != nil {
			s.logger.Error("failed to store update", "id", id, "error", err)
			return
		}
		s.metrics.RecordStoredUpdate()
	})
}

func (s *Service) compact(ctx context.Context, id string, doc *session.Document) error {
	if s.updates == nil {
		return nil
	}
	data, err := doc.EncodeState().Encode()
	if err != nil {
		return fmt.Errorf("failed to encode state of %s: %w", id, err)
	}
	if err := s.updates.Compact(ctx, id, data); err != nil {
		return fmt.Errorf("failed to compact history of %s: %w", id, err)
	}
	s.metrics.RecordCompaction()
	return nil
}

// Document returns the live document of an open session.
func (s *Service) Document(id string) (*session.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	od, ok := s.open[id]
	if !ok {
		return nil, false
	}
	return od.doc, true
}

// Save writes the snapshot of an open session to the repository and compacts
// its update history.
func (s *Service) Save(ctx context.Context, id string) error {
	doc, ok := s.Document(id)
	if !ok {
		return fmt.Errorf("%w: %s is not open", core.ErrNotFound, id)
	}
	if err := s.repo.Save(ctx, doc.Snapshot()); err != nil {
		return fmt.Errorf("failed to save session %s: %w", id, err)
	}
	if err := s.compact(ctx, id, doc); err != nil {
		return err
	}
	s.logger.Debug("session saved", "id", id)
	return nil
}

// Close releases one reference to an open session. The last Close disposes
// the document; its history stays in the update store.
func (s *Service) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	od, ok := s.open[id]
	if !ok {
		return fmt.Errorf("%w: %s is not open", core.ErrNotFound, id)
	}
	od.refs--
	if od.refs > 0 {
		return nil
	}
	delete(s.open, id)
	od.doc.Dispose()
	s.metrics.DocumentClosed()
	s.logger.Debug("session closed", "id", id)
	return nil
}

// Shutdown disposes every open document and closes the update store.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for id, od := range s.open {
		od.doc.Dispose()
		s.metrics.DocumentClosed()
		delete(s.open, id)
	}
	s.mu.Unlock()

	if s.updates != nil {
		return s.updates.Close()
	}
	return nil
}

// List returns summaries of all stored sessions.
func (s *Service) List(ctx context.Context) ([]core.Summary, error) {
	return s.repo.List(ctx)
}

// Delete removes a session and its history. An open document is disposed first.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := validate(id); err != nil {
		return err
	}

	s.mu.Lock()
	if od, ok := s.open[id]; ok {
		od.doc.Dispose()
		delete(s.open, id)
		s.metrics.DocumentClosed()
	}
	s.mu.Unlock()

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.updates != nil {
		if err := s.updates.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete history of %s: %w", id, err)
		}
	}
	return nil
}

// WithTransaction executes a function within a repository transaction.
func (s *Service) WithTransaction(ctx context.Context, fn func(tx core.Transaction) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

// Begin initiates a transaction manually.
func (s *Service) Begin(ctx context.Context) (core.Transaction, error) {
	tr, ok := s.repo.(core.TransactionalRepository)
	if !ok {
		return nil, fmt.Errorf("transactions: %w", core.ErrUnsupported)
	}
	return tr.Begin(ctx)
}

// Watch observes changes in the repository if supported. Events pass through
// a buffer of the configured size; when a consumer falls behind and the
// buffer is full, new events are dropped and logged.
func (s *Service) Watch(ctx context.Context, pattern string) (<-chan core.Event, error) {
	w, ok := s.repo.(core.Watchable)
	if !ok {
		return nil, fmt.Errorf("watching: %w", core.ErrUnsupported)
	}
	src, err := w.Watch(ctx, pattern)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, s.eventBufferSize)
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-src:
				if !ok {
					return nil
				}
				select {
				case out <- e:
				default:
					s.logger.Warn("event buffer full, dropping event", "event", e.String())
				}
			}
		}
	})
	return out, nil
}

func (s *Service) openIDs() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.open))
	for id, od := range s.open {
		out[id] = od.refs
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

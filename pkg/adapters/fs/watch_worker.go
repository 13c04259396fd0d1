package fs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/aretw0/gluedoc/pkg/core"
)

type watchWorker struct {
	*worker.BaseWorker
	repo      *Repository
	pattern   string
	events    chan<- core.Event
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	cancel    context.CancelFunc
}

func newWatchWorker(repo *Repository, pattern string, events chan<- core.Event) *watchWorker {
	return &watchWorker{
		BaseWorker: worker.NewBaseWorker("fs-watcher"),
		repo:       repo,
		pattern:    pattern,
		events:     events,
	}
}

func (w *watchWorker) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := w.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("watcher already started (status: %s)", status)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := w.repo.recursiveAdd(watcher); err != nil {
		_ = watcher.Close()
		return err
	}

	w.watcher = watcher
	w.debouncer = newDebouncer(50 * time.Millisecond)
	w.repo.setWatcherActive(true)

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

func (w *watchWorker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.StopRequested = true
		w.cancel()
	}

	return w.BaseWorker.Stop(ctx)
}

func (w *watchWorker) State() worker.State {
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
		}
	})
}

// reconcile is spawned as a goroutine to recover events the watcher missed.
func (w *watchWorker) reconcile(ctx context.Context) {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		reconciledEvents, err := w.repo.Reconcile(ctx)
		if err != nil {
			w.repo.config.Logger.Error("reconcile failed", "error", err)
			return err
		}
		for _, e := range reconciledEvents {
			if w.matches(e.ID) {
				w.sendEvent(ctx, e, "reconciliation")
			}
		}
		return nil
	}, lifecycle.WithErrorHandler(func(err error) {
		w.repo.reportError(fmt.Errorf("reconcile panic: %w", err))
	}))
}

func (w *watchWorker) matches(id string) bool {
	if w.pattern == "" {
		return true
	}
	ok, _ := doublestar.Match(w.pattern, id)
	return ok
}

// processFilesystemEvent handles filtering, mapping, and debouncing of filesystem events.
// Returns true if event was processed, false if should be ignored.
func (w *watchWorker) processFilesystemEvent(ctx context.Context, event fsnotify.Event) (processed bool) {
	w.repo.config.Logger.Debug("event received", "name", event.Name)

	// New directories are watched too, so sessions created inside them are seen.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.repo.skipDir(filepath.Base(event.Name)) {
				if err := w.watcher.Add(event.Name); err != nil {
					w.repo.reportError(fmt.Errorf("failed to watch %s: %w", event.Name, err))
				}
			}
			return false
		}
	}

	if w.repo.shouldIgnore(event, w.pattern) {
		return false
	}

	eType := w.repo.mapEventType(event)
	if eType == "" {
		return false
	}

	id, err := w.repo.resolveID(event.Name)
	if err != nil {
		w.repo.reportError(fmt.Errorf("failed to resolve ID for %s: %w", event.Name, err))
		return false
	}

	w.sendEvent(ctx, core.Event{
		Type:      eType,
		ID:        id,
		Timestamp: time.Now().Unix(),
	}, "filesystem")

	return true
}

// sendEvent enqueues an event via the debouncer, protecting against channel closure during shutdown.
// source param is for logging/debugging (e.g., "filesystem", "reconciliation").
func (w *watchWorker) sendEvent(ctx context.Context, event core.Event, source string) {
	w.repo.config.Logger.Debug("event queued", "event", event.String(), "source", source)
	w.debouncer.add(event, func(e core.Event) {
		defer func() {
			// Recover from panic if channel was closed (worker stopping)
			_ = recover()
		}()
		select {
		case w.events <- e:
		case <-ctx.Done():
		}
	})
}

// handleWatcherError processes errors from the fsnotify watcher. A queue
// overflow means events were lost, so the workspace is reconciled.
func (w *watchWorker) handleWatcherError(ctx context.Context, err error) (shouldContinue bool) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		w.repo.config.Logger.Warn("fsnotify queue overflow, reconciling")
		w.reconcile(ctx)
		return true
	}
	w.repo.reportError(err)
	return true
}

// run is the main event loop for the watcher worker.
func (w *watchWorker) run(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			panicErr := fmt.Errorf("watcher panic: %v", recovered)

			// The stack is only captured when debug logging is enabled.
			var stack string
			if w.repo.config.Logger.Enabled(ctx, slog.LevelDebug) {
				stack = string(debug.Stack())
			}

			// Log panic with optional stack
			if stack != "" {
				w.repo.config.Logger.Error("watcher panic",
					"error", panicErr,
					"stack", stack,
				)
			} else {
				w.repo.config.Logger.Error("watcher panic", "error", panicErr)
			}
			// Returning the panic as an error lets a supervisor restart us.
			err = panicErr
		}
	}()
	defer w.repo.setWatcherActive(false)
	defer w.watcher.Close()
	defer w.debouncer.stopAndWait(5 * time.Second)

	err = w.mainEventLoop(ctx)

	return err
}

// mainEventLoop is the core select loop that processes filesystem and watcher events.
func (w *watchWorker) mainEventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}

			w.processFilesystemEvent(ctx, event)

		case wErr, ok := <-w.watcher.Errors:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			w.handleWatcherError(ctx, wErr)
		}
	}
}

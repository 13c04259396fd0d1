package fs

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/supervisor"
	"github.com/aretw0/lifecycle/pkg/core/worker"

	"github.com/aretw0/gluedoc/pkg/core"
)

var fastBackoff = supervisor.Backoff{
	InitialInterval: 10 * time.Millisecond,
	MaxInterval:     50 * time.Millisecond,
	Multiplier:      1,
	ResetDuration:   50 * time.Millisecond,
	MaxRestarts:     2,
	MaxDuration:     200 * time.Millisecond,
}

// A session saved after the watcher crashed still reaches the consumer through
// the restarted worker.
func TestWatcherRestartKeepsDelivering(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := NewRepository(Config{Path: t.TempDir(), AutoInit: true, SystemDir: ".gluedoc"})
	if err := repo.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	events := make(chan core.Event, 8)
	started := make(chan *watchWorker, 2)

	spec := repo.watcherSpec("**", events, fastBackoff)
	build := spec.Factory
	spec.Factory = func() (worker.Worker, error) {
		w, err := build()
		if err == nil {
			started <- w.(*watchWorker)
		}
		return w, err
	}

	sup := supervisor.New("session-watch", supervisor.StrategyOneForOne, spec)
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("supervisor start failed: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		if err := sup.Stop(stopCtx); err != nil {
			t.Errorf("supervisor stop failed: %v", err)
		}
	}()

	crashed := nextWorker(t, started)
	awaitFSWatcher(t, crashed)
	_ = crashed.watcher.Close()

	restarted := nextWorker(t, started)
	if restarted == crashed {
		t.Fatal("expected a fresh worker after the crash")
	}
	awaitFSWatcher(t, restarted)
	awaitWatcherActive(t, repo)

	if err := repo.Save(ctx, core.NewSession("after-restart")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	select {
	case e := <-events:
		if e.ID != "after-restart" {
			t.Errorf("expected an event for after-restart, got %s", e)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event from the restarted watcher")
	}
}

func nextWorker(t *testing.T, ch <-chan *watchWorker) *watchWorker {
	t.Helper()
	select {
	case w := <-ch:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not start a watcher")
		return nil
	}
}

func awaitFSWatcher(t *testing.T, w *watchWorker) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for w.watcher == nil {
		if time.Now().After(deadline) {
			t.Fatal("watcher never opened its fsnotify handle")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func awaitWatcherActive(t *testing.T, repo *Repository) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if st, ok := repo.State().(RepositoryState); ok && st.WatcherActive {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("repository never reported an active watcher")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

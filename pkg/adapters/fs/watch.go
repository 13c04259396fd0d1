package fs

import (
	"context"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/aretw0/lifecycle/pkg/core/supervisor"
	"github.com/aretw0/lifecycle/pkg/core/worker"

	"github.com/aretw0/gluedoc/pkg/core"
)

// watchBackoff bounds how often a failing watcher is restarted.
var watchBackoff = supervisor.Backoff{
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	Multiplier:      2,
	ResetDuration:   30 * time.Second,
	MaxRestarts:     5,
	MaxDuration:     time.Minute,
}

// Watch reports changes to session files whose ID or path matches pattern
// (doublestar syntax, empty matches everything). The watcher runs under a
// supervisor that restarts it on failure. The channel is closed once ctx is
// cancelled and the watcher has stopped.
func (r *Repository) Watch(ctx context.Context, pattern string) (<-chan core.Event, error) {
	events := make(chan core.Event, r.config.EventBuffer)

	sup := supervisor.New("fs-watch", supervisor.StrategyOneForOne, r.watcherSpec(pattern, events, watchBackoff))
	if err := sup.Start(ctx); err != nil {
		close(events)
		return nil, err
	}

	lifecycle.Go(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := sup.Stop(stopCtx)
		close(events)
		return err
	}, lifecycle.WithErrorHandler(r.reportError))

	return events, nil
}

// watcherSpec describes one restartable watcher feeding events. Every restart
// gets a fresh fsnotify watcher over the same output channel.
func (r *Repository) watcherSpec(pattern string, events chan<- core.Event, backoff supervisor.Backoff) supervisor.Spec {
	return supervisor.Spec{
		Name: "fs-watcher",
		Type: string(worker.TypeGoroutine),
		Factory: func() (worker.Worker, error) {
			return newWatchWorker(r, pattern, events), nil
		},
		Backoff:       backoff,
		RestartPolicy: supervisor.RestartOnFailure,
	}
}

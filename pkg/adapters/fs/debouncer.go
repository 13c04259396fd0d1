package fs

import (
	"sync"
	"time"

	"github.com/aretw0/gluedoc/pkg/core"
)

// debouncer coalesces bursts of events for the same session ID. Editors tend
// to write a file several times in a row; only the last event of a burst
// within the window is delivered.
type debouncer struct {
	window time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	wg      sync.WaitGroup
	stopped bool
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window: window,
		timers: make(map[string]*time.Timer),
	}
}

// add schedules fn(event) after the window, replacing any pending event with
// the same ID.
func (d *debouncer) add(event core.Event, fn func(core.Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if t, ok := d.timers[event.ID]; ok && t.Stop() {
		// The pending callback will never run; release its slot.
		d.wg.Done()
	}

	d.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(d.window, func() {
		defer d.wg.Done()
		d.mu.Lock()
		if d.timers[event.ID] == t {
			delete(d.timers, event.ID)
		}
		d.mu.Unlock()
		fn(event)
	})
	d.timers[event.ID] = t
}

// stopAndWait stops accepting events and waits up to timeout for in-flight
// callbacks to finish. Pending events that have not fired are dropped.
func (d *debouncer) stopAndWait(timeout time.Duration) bool {
	d.mu.Lock()
	d.stopped = true
	for id, t := range d.timers {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.timers, id)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

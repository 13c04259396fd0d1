package crdt

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Awareness tracks ephemeral per-client state (selection, cursor, presence).
// It is never part of the document history: a client's state is gone once it
// is removed or the client disconnects.
type Awareness struct {
	client ClientID

	mu     sync.RWMutex
	states map[ClientID]map[string]any
	meta   map[ClientID]*awarenessMeta

	hooksMu  sync.Mutex
	nextHook uint64
	handlers []*awarenessHandler
}

type awarenessMeta struct {
	clock       uint64
	lastUpdated time.Time
}

type awarenessHandler struct {
	id uint64
	fn func(AwarenessChange)
}

// AwarenessChange reports which clients were touched by one awareness write.
// Updated includes clients whose state was republished unchanged.
type AwarenessChange struct {
	Added   []ClientID
	Updated []ClientID
	Removed []ClientID
	Origin  any
	Local   bool
}

// AwarenessEntry is one client's state on the wire. A null State removes it.
type AwarenessEntry struct {
	Client ClientID        `json:"client"`
	Clock  uint64          `json:"clock"`
	State  json.RawMessage `json:"state"`
}

// AwarenessUpdate carries the states of a set of clients.
type AwarenessUpdate struct {
	Entries []AwarenessEntry `json:"entries"`
}

// NewAwareness creates an awareness registry whose local client starts with an empty state.
func NewAwareness(client ClientID) *Awareness {
	a := &Awareness{
		client: client,
		states: make(map[ClientID]map[string]any),
		meta:   make(map[ClientID]*awarenessMeta),
	}
	a.SetLocalState(map[string]any{})
	return a
}

// ClientID returns the local client id.
func (a *Awareness) ClientID() ClientID {
	return a.client
}

// LocalState returns a copy of the local state, or nil when it was removed.
func (a *Awareness) LocalState() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.states[a.client]
	if !ok {
		return nil
	}
	return deepCopy(st).(map[string]any)
}

// SetLocalState publishes the local state. A nil state marks the client offline.
func (a *Awareness) SetLocalState(state map[string]any) {
	var norm map[string]any
	if state != nil {
		v, _, err := normalize(state)
		if err != nil {
			return
		}
		norm, _ = v.(map[string]any)
	}

	a.mu.Lock()
	m := a.meta[a.client]
	clock := uint64(0)
	if m != nil {
		clock = m.clock + 1
	}
	_, existed := a.states[a.client]
	if norm == nil {
		delete(a.states, a.client)
	} else {
		a.states[a.client] = norm
	}
	a.meta[a.client] = &awarenessMeta{clock: clock, lastUpdated: time.Now()}
	a.mu.Unlock()

	change := AwarenessChange{Local: true}
	switch {
	case norm == nil && existed:
		change.Removed = []ClientID{a.client}
	case norm != nil && !existed:
		change.Added = []ClientID{a.client}
	case norm != nil:
		change.Updated = []ClientID{a.client}
	}
	a.emit(change)
}

// SetLocalStateField sets one field of the local state and republishes it.
func (a *Awareness) SetLocalStateField(field string, value any) {
	st := a.LocalState()
	if st == nil {
		st = map[string]any{}
	}
	st[field] = value
	a.SetLocalState(st)
}

// States returns a copy of every known client's state.
func (a *Awareness) States() map[ClientID]map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[ClientID]map[string]any, len(a.states))
	for id, st := range a.states {
		out[id] = deepCopy(st).(map[string]any)
	}
	return out
}

// Clients returns the ids of clients with a live state, sorted.
func (a *Awareness) Clients() []ClientID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]ClientID, 0, len(a.states))
	for id := range a.states {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RemoveStates drops the given remote clients, e.g. when their connection closes.
func (a *Awareness) RemoveStates(clients []ClientID, origin any) {
	var removed []ClientID
	a.mu.Lock()
	for _, id := range clients {
		if _, ok := a.states[id]; !ok {
			continue
		}
		delete(a.states, id)
		if id == a.client {
			a.meta[id] = &awarenessMeta{clock: a.meta[id].clock + 1, lastUpdated: time.Now()}
		}
		removed = append(removed, id)
	}
	a.mu.Unlock()
	if len(removed) > 0 {
		a.emit(AwarenessChange{Removed: removed, Origin: origin})
	}
}

// EncodeUpdate encodes the states of clients, or of every known client when none are given.
func (a *Awareness) EncodeUpdate(clients ...ClientID) AwarenessUpdate {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(clients) == 0 {
		for id := range a.meta {
			clients = append(clients, id)
		}
		sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	}
	var u AwarenessUpdate
	for _, id := range clients {
		m, ok := a.meta[id]
		if !ok {
			continue
		}
		raw := json.RawMessage("null")
		if st, ok := a.states[id]; ok {
			if b, err := json.Marshal(st); err == nil {
				raw = b
			}
		}
		u.Entries = append(u.Entries, AwarenessEntry{Client: id, Clock: m.clock, State: raw})
	}
	return u
}

// ApplyUpdate merges remote awareness states. Newer clocks win; an equal clock
// carrying a removal also wins so that disconnects propagate.
func (a *Awareness) ApplyUpdate(u AwarenessUpdate, origin any) {
	change := AwarenessChange{Origin: origin}
	now := time.Now()

	a.mu.Lock()
	for _, e := range u.Entries {
		var st map[string]any
		if len(e.State) > 0 && string(e.State) != "null" {
			if err := json.Unmarshal(e.State, &st); err != nil {
				continue
			}
		}
		m := a.meta[e.Client]
		_, exists := a.states[e.Client]
		newer := m == nil || m.clock < e.Clock || (m.clock == e.Clock && st == nil && exists)
		if !newer {
			continue
		}
		if e.Client == a.client && st == nil {
			// Another peer saw us as gone; we are still here.
			continue
		}
		a.meta[e.Client] = &awarenessMeta{clock: e.Clock, lastUpdated: now}
		switch {
		case st == nil && exists:
			delete(a.states, e.Client)
			change.Removed = append(change.Removed, e.Client)
		case st != nil && !exists:
			a.states[e.Client] = st
			change.Added = append(change.Added, e.Client)
		case st != nil:
			a.states[e.Client] = st
			change.Updated = append(change.Updated, e.Client)
		}
	}
	a.mu.Unlock()

	if len(change.Added)+len(change.Updated)+len(change.Removed) > 0 {
		a.emit(change)
	}
}

// OnChange registers fn for every awareness write, local or remote.
func (a *Awareness) OnChange(fn func(AwarenessChange)) (off func()) {
	a.hooksMu.Lock()
	defer a.hooksMu.Unlock()
	a.nextHook++
	id := a.nextHook
	a.handlers = append(a.handlers, &awarenessHandler{id: id, fn: fn})
	return func() {
		a.hooksMu.Lock()
		defer a.hooksMu.Unlock()
		for i, h := range a.handlers {
			if h.id == id {
				a.handlers = append(a.handlers[:i:i], a.handlers[i+1:]...)
				return
			}
		}
	}
}

func (a *Awareness) emit(change AwarenessChange) {
	a.hooksMu.Lock()
	handlers := append([]*awarenessHandler(nil), a.handlers...)
	a.hooksMu.Unlock()
	for _, h := range handlers {
		h.fn(change)
	}
}

package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
)

// entry is one key slot of a Map. Deleted entries stay as tombstones so that
// older writes arriving late cannot resurrect the key.
type entry struct {
	stamp   Stamp
	created Stamp
	deleted bool
	value   any
	child   *Map
}

func (e *entry) live() bool {
	return e != nil && !e.deleted
}

// Map is a replicated string-keyed map. Reads take the document's shared lock;
// writes outside a transaction open one of their own.
//
// Inside Doc.Transact use the Txn methods instead: the document lock is not
// reentrant.
type Map struct {
	doc     *Doc
	name    string
	parent  *Map
	birth   Stamp
	entries map[string]*entry
}

func newMap(doc *Doc, name string, parent *Map, birth Stamp) *Map {
	return &Map{
		doc:     doc,
		name:    name,
		parent:  parent,
		birth:   birth,
		entries: make(map[string]*entry),
	}
}

// Name returns the key this map lives under (or the root name).
func (m *Map) Name() string {
	return m.name
}

// Path returns the keys leading from the root to this map, root name first.
func (m *Map) Path() []string {
	var rev []string
	for cur := m; cur != nil; cur = cur.parent {
		rev = append(rev, cur.name)
	}
	path := make([]string, len(rev))
	for i := range rev {
		path[i] = rev[len(rev)-1-i]
	}
	return path
}

// isWithin reports whether m is anc or one of its descendants.
func (m *Map) isWithin(anc *Map) bool {
	for cur := m; cur != nil; cur = cur.parent {
		if cur == anc {
			return true
		}
	}
	return false
}

// Get returns a deep copy of the value under key. Nested maps are returned as *Map.
func (m *Map) Get(key string) (any, bool) {
	m.doc.mu.RLock()
	defer m.doc.mu.RUnlock()
	return m.get(key)
}

// Has reports whether key holds a live value.
func (m *Map) Has(key string) bool {
	m.doc.mu.RLock()
	defer m.doc.mu.RUnlock()
	return m.entries[key].live()
}

// Keys returns the live keys ordered by creation stamp.
func (m *Map) Keys() []string {
	m.doc.mu.RLock()
	defer m.doc.mu.RUnlock()
	return m.keys()
}

// Len returns the number of live keys.
func (m *Map) Len() int {
	m.doc.mu.RLock()
	defer m.doc.mu.RUnlock()
	return m.len()
}

// ToJSON returns a deep copy of the map, nested maps included.
func (m *Map) ToJSON() map[string]any {
	m.doc.mu.RLock()
	defer m.doc.mu.RUnlock()
	return m.toJSON()
}

// Set stores value under key in its own transaction.
func (m *Map) Set(key string, value any) error {
	return m.doc.Transact(nil, func(tx *Txn) error {
		return tx.Set(m, key, value)
	})
}

// SetMap stores a new empty child map under key in its own transaction.
func (m *Map) SetMap(key string) *Map {
	var child *Map
	_ = m.doc.Transact(nil, func(tx *Txn) error {
		child = tx.SetMap(m, key)
		return nil
	})
	return child
}

// Delete removes key in its own transaction.
func (m *Map) Delete(key string) {
	_ = m.doc.Transact(nil, func(tx *Txn) error {
		tx.Delete(m, key)
		return nil
	})
}

// Observe registers fn for changes to this map's own keys.
func (m *Map) Observe(fn func(ev *MapEvent, c *Commit)) (unobserve func()) {
	return m.doc.addObserver(m, false, func(evs []*MapEvent, c *Commit) {
		for _, ev := range evs {
			fn(ev, c)
		}
	})
}

// ObserveDeep registers fn for changes to this map or any map nested below it.
// fn runs once per transaction with every affected map's event.
func (m *Map) ObserveDeep(fn func(evs []*MapEvent, c *Commit)) (unobserve func()) {
	return m.doc.addObserver(m, true, fn)
}

// --- unlocked helpers, callers hold doc.mu ---

func (m *Map) get(key string) (any, bool) {
	e := m.entries[key]
	if !e.live() {
		return nil, false
	}
	if e.child != nil {
		return e.child, true
	}
	return deepCopy(e.value), true
}

func (m *Map) keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if e.live() {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := m.entries[keys[i]].created, m.entries[keys[j]].created
		if a == b {
			return keys[i] < keys[j]
		}
		return b.After(a)
	})
	return keys
}

func (m *Map) len() int {
	n := 0
	for _, e := range m.entries {
		if e.live() {
			n++
		}
	}
	return n
}

func (m *Map) toJSON() map[string]any {
	out := make(map[string]any, len(m.entries))
	for k, e := range m.entries {
		if !e.live() {
			continue
		}
		if e.child != nil {
			out[k] = e.child.toJSON()
			continue
		}
		out[k] = deepCopy(e.value)
	}
	return out
}

// snapshot returns the JSON form of an entry, used as an event's old value.
func (e *entry) snapshot() any {
	if !e.live() {
		return nil
	}
	if e.child != nil {
		return e.child.toJSON()
	}
	return deepCopy(e.value)
}

// normalize converts v into the JSON data model and returns its encoding.
func normalize(v any) (any, json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("value is not JSON encodable: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil, err
	}
	return out, raw, nil
}

// deepCopy copies a value that is already in the JSON data model.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return t
	}
}

// DeepCopy copies a JSON data model value (maps, slices, scalars).
func DeepCopy(v any) any {
	return deepCopy(v)
}

package crdt

import (
	"encoding/json"
	"errors"
)

// ErrReadOnly is returned by writes attempted inside Doc.View.
var ErrReadOnly = errors.New("crdt: write inside a read-only view")

// Action describes what happened to a key within one transaction.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// KeyChange is the net effect of a transaction on one key.
type KeyChange struct {
	Action   Action
	OldValue any
}

// MapEvent lists the keys of Target changed by one transaction.
type MapEvent struct {
	Target *Map
	Keys   map[string]KeyChange
}

// Commit describes a finished transaction as seen by observers.
type Commit struct {
	Origin any
	Local  bool
	Events []*MapEvent
	Update Update
}

type touched struct {
	prev *entry
	live bool
	old  any
}

// Txn is the handle passed to Doc.Transact. It reads and writes without taking
// the document lock, which the transaction already holds.
type Txn struct {
	doc     *Doc
	origin  any
	local   bool
	view    bool
	client  ClientID
	ops     []Op
	changes map[*Map]map[string]touched
	order   []*Map
}

func newTxn(doc *Doc, origin any, local bool) *Txn {
	return &Txn{
		doc:     doc,
		origin:  origin,
		local:   local,
		client:  doc.client,
		changes: make(map[*Map]map[string]touched),
	}
}

// Origin returns the value passed to Transact.
func (tx *Txn) Origin() any {
	return tx.origin
}

// Get returns a deep copy of the value under key, or the child *Map.
func (tx *Txn) Get(m *Map, key string) (any, bool) {
	return m.get(key)
}

// Has reports whether key holds a live value.
func (tx *Txn) Has(m *Map, key string) bool {
	return m.entries[key].live()
}

// Keys returns the live keys of m ordered by creation.
func (tx *Txn) Keys(m *Map) []string {
	return m.keys()
}

// ToJSON returns a deep copy of m, nested maps included.
func (tx *Txn) ToJSON(m *Map) map[string]any {
	return m.toJSON()
}

// Child returns the nested map stored under key, if any.
func (tx *Txn) Child(m *Map, key string) (*Map, bool) {
	e := m.entries[key]
	if !e.live() || e.child == nil {
		return nil, false
	}
	return e.child, true
}

// Set stores a JSON encodable value under key.
func (tx *Txn) Set(m *Map, key string, value any) error {
	if tx.view {
		return ErrReadOnly
	}
	norm, raw, err := normalize(value)
	if err != nil {
		return err
	}
	tx.touch(m, key)
	stamp := tx.doc.tick()
	created := createdFor(m.entries[key], stamp)
	m.entries[key] = &entry{stamp: stamp, created: created, value: norm}
	tx.ops = append(tx.ops, Op{Path: m.Path(), Key: key, Stamp: stamp, Parent: m.birth, Created: created, Value: raw})
	return nil
}

// SetMap stores a new, empty child map under key and returns it. It returns nil
// inside a read-only view.
func (tx *Txn) SetMap(m *Map, key string) *Map {
	if tx.view {
		return nil
	}
	tx.touch(m, key)
	stamp := tx.doc.tick()
	created := createdFor(m.entries[key], stamp)
	child := newMap(tx.doc, key, m, stamp)
	m.entries[key] = &entry{stamp: stamp, created: created, child: child}
	tx.ops = append(tx.ops, Op{Path: m.Path(), Key: key, Stamp: stamp, Parent: m.birth, Created: created, Map: true})
	return child
}

// Delete removes key. Deleting a missing key is a no-op.
func (tx *Txn) Delete(m *Map, key string) {
	if tx.view || !m.entries[key].live() {
		return
	}
	tx.touch(m, key)
	stamp := tx.doc.tick()
	m.entries[key] = &entry{stamp: stamp, created: stamp, deleted: true}
	tx.ops = append(tx.ops, Op{Path: m.Path(), Key: key, Stamp: stamp, Parent: m.birth, Created: stamp, Deleted: true})
}

func createdFor(old *entry, stamp Stamp) Stamp {
	if old.live() {
		return old.created
	}
	return stamp
}

// touch records the pre-transaction state of a key the first time it is written.
func (tx *Txn) touch(m *Map, key string) {
	keys, ok := tx.changes[m]
	if !ok {
		keys = make(map[string]touched)
		tx.changes[m] = keys
		tx.order = append(tx.order, m)
	}
	if _, seen := keys[key]; seen {
		return
	}
	e := m.entries[key]
	keys[key] = touched{prev: e, live: e.live(), old: e.snapshot()}
}

// rollback puts every key written by the transaction back the way it was and
// discards the transaction's operations.
func (tx *Txn) rollback() {
	for m, keys := range tx.changes {
		for k, before := range keys {
			if before.prev == nil {
				delete(m.entries, k)
				continue
			}
			m.entries[k] = before.prev
		}
	}
	tx.changes = make(map[*Map]map[string]touched)
	tx.order = nil
	tx.ops = nil
}

// apply merges one remote operation. It reports false when the operation's
// parent map is not known yet and it must be retried later.
func (tx *Txn) apply(op Op) bool {
	d := tx.doc
	d.observe(op.Stamp.Clock)

	m, ok := d.resolve(op.Path, op.Parent)
	if !ok {
		return false
	}
	if m == nil || m.birth.After(op.Stamp) {
		return true
	}
	old := m.entries[op.Key]
	if old != nil && !op.Stamp.After(old.stamp) {
		return true
	}

	var value any
	if !op.Map && !op.Deleted {
		if err := json.Unmarshal(op.Value, &value); err != nil {
			d.logger.Warn("dropping undecodable operation", "path", op.Path, "key", op.Key, "error", err)
			return true
		}
	}

	created := op.Created
	if created.IsZero() || op.Deleted {
		created = op.Stamp
	}
	tx.touch(m, op.Key)
	e := &entry{stamp: op.Stamp, created: created}
	switch {
	case op.Deleted:
		e.deleted = true
	case op.Map:
		e.child = newMap(d, op.Key, m, op.Stamp)
		if old != nil && old.child != nil {
			migrate(old.child, e.child)
		}
	default:
		e.value = value
	}
	m.entries[op.Key] = e
	tx.ops = append(tx.ops, op)
	return true
}

// migrate moves entries written after the new incarnation's birth from a
// replaced map into its successor.
func migrate(from, to *Map) {
	for k, e := range from.entries {
		if !e.stamp.After(to.birth) {
			continue
		}
		to.entries[k] = e
		if e.child != nil {
			e.child.parent = to
		}
	}
}

func (tx *Txn) commit() *Commit {
	var events []*MapEvent
	for _, m := range tx.order {
		keys := make(map[string]KeyChange)
		for k, before := range tx.changes[m] {
			nowLive := m.entries[k].live()
			switch {
			case !before.live && nowLive:
				keys[k] = KeyChange{Action: ActionAdd}
			case before.live && !nowLive:
				keys[k] = KeyChange{Action: ActionDelete, OldValue: before.old}
			case before.live && nowLive:
				keys[k] = KeyChange{Action: ActionUpdate, OldValue: before.old}
			}
		}
		if len(keys) > 0 {
			events = append(events, &MapEvent{Target: m, Keys: keys})
		}
	}
	if len(events) == 0 && len(tx.ops) == 0 {
		return nil
	}
	return &Commit{
		Origin: tx.origin,
		Local:  tx.local,
		Events: events,
		Update: Update{Client: tx.client, Ops: tx.ops},
	}
}

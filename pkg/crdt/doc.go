package crdt

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
)

// Doc is one replica of a replicated document.
//
// Transactions are serialized by a write lock. Observers and update handlers run
// after the lock is released, in commit order, on whichever goroutine drains the
// dispatch queue. A transaction opened from inside an observer is queued behind
// the one being dispatched rather than nested into it.
type Doc struct {
	client ClientID
	logger *slog.Logger

	mu      sync.RWMutex
	clock   uint64
	roots   map[string]*Map
	pending []Op

	hooksMu   sync.Mutex
	nextHook  uint64
	observers []*observer
	handlers  []*updateHandler

	queueMu  sync.Mutex
	queue    []*Commit
	draining bool
}

type observer struct {
	id     uint64
	target *Map
	deep   bool
	fn     func([]*MapEvent, *Commit)
}

type updateHandler struct {
	id uint64
	fn func(Update, any)
}

// Option configures a Doc.
type Option func(*Doc)

// WithClientID fixes the replica's client id (random by default).
func WithClientID(id ClientID) Option {
	return func(d *Doc) {
		d.client = id
	}
}

// WithLogger sets the logger used for recovered observer panics and dropped operations.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Doc) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDoc creates an empty document replica.
func NewDoc(opts ...Option) *Doc {
	d := &Doc{
		client: NewClientID(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		roots:  make(map[string]*Map),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ClientID returns the id this replica stamps its writes with.
func (d *Doc) ClientID() ClientID {
	return d.client
}

// Clock returns the current Lamport clock.
func (d *Doc) Clock() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.clock
}

// Map returns the root map with the given name, creating it on first use.
func (d *Doc) Map(name string) *Map {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.root(name)
}

func (d *Doc) root(name string) *Map {
	m, ok := d.roots[name]
	if !ok {
		m = newMap(d, name, nil, Stamp{})
		d.roots[name] = m
	}
	return m
}

func (d *Doc) tick() Stamp {
	d.clock++
	return Stamp{Clock: d.clock, Client: d.client}
}

func (d *Doc) observe(clock uint64) {
	if clock > d.clock {
		d.clock = clock
	}
}

// resolve walks path to the map an operation targets. parent is the birth of
// the map the operation was made in. It returns ok=false when the path is not
// known yet, and a nil map when a write newer than parent removed or replaced
// one of the containers: that incarnation is gone for good, since any later
// one is born after the removal.
func (d *Doc) resolve(path []string, parent Stamp) (*Map, bool) {
	if len(path) == 0 {
		return nil, true
	}
	m := d.root(path[0])
	for _, seg := range path[1:] {
		e := m.entries[seg]
		switch {
		case e == nil:
			return nil, false
		case e.live() && e.child != nil:
			m = e.child
		case e.stamp.After(parent):
			return nil, true
		default:
			return nil, false
		}
	}
	return m, true
}

// Transact runs fn as one atomic transaction with the given origin. When fn
// returns an error every write it made is undone and nothing is dispatched.
func (d *Doc) Transact(origin any, fn func(tx *Txn) error) error {
	return d.transact(origin, true, fn)
}

func (d *Doc) transact(origin any, local bool, fn func(tx *Txn) error) (err error) {
	var c *Commit
	func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		tx := newTxn(d, origin, local)
		defer func() {
			if err != nil {
				tx.rollback()
			}
			c = tx.commit()
		}()
		err = fn(tx)
	}()
	if c != nil {
		d.enqueue(c)
	}
	return err
}

// View runs fn under the shared lock with a read-only transaction handle, so
// that several reads see one consistent state. Writes through tx are rejected.
func (d *Doc) View(fn func(tx *Txn)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	tx := newTxn(d, nil, true)
	tx.view = true
	fn(tx)
}

// ApplyUpdate merges a remote update. Applying the same update twice, or
// updates in a different order, converges to the same state.
func (d *Doc) ApplyUpdate(u Update, origin any) error {
	return d.transact(origin, false, func(tx *Txn) error {
		tx.client = u.Client
		for _, op := range u.Ops {
			if !tx.apply(op) {
				d.pending = append(d.pending, op)
			}
		}
		d.retryPending(tx)
		return nil
	})
}

// retryPending re-applies buffered operations until no more make progress.
func (d *Doc) retryPending(tx *Txn) {
	for len(d.pending) > 0 {
		var rest []Op
		for _, op := range d.pending {
			if !tx.apply(op) {
				rest = append(rest, op)
			}
		}
		progressed := len(rest) < len(d.pending)
		d.pending = rest
		if !progressed {
			return
		}
	}
}

// PendingLen returns the number of buffered operations waiting for their parent map.
func (d *Doc) PendingLen() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pending)
}

// EncodeState returns the whole document, tombstones included, as one update.
func (d *Doc) EncodeState() Update {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.roots))
	for name := range d.roots {
		names = append(names, name)
	}
	sort.Strings(names)

	u := Update{Client: d.client}
	for _, name := range names {
		u.Ops = appendMapOps(u.Ops, d.roots[name])
	}
	return u
}

func appendMapOps(ops []Op, m *Map) []Op {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return m.entries[keys[j]].stamp.After(m.entries[keys[i]].stamp)
	})
	path := m.Path()
	for _, k := range keys {
		e := m.entries[k]
		op := Op{Path: path, Key: k, Stamp: e.stamp, Parent: m.birth, Created: e.created}
		switch {
		case e.deleted:
			op.Deleted = true
		case e.child != nil:
			op.Map = true
		default:
			raw, err := marshalValue(e.value)
			if err != nil {
				continue
			}
			op.Value = raw
		}
		ops = append(ops, op)
		if e.live() && e.child != nil {
			ops = appendMapOps(ops, e.child)
		}
	}
	return ops
}

// OnUpdate registers fn for every committed transaction that changed state,
// local or remote. origin is the value given to Transact or ApplyUpdate.
func (d *Doc) OnUpdate(fn func(u Update, origin any)) (off func()) {
	d.hooksMu.Lock()
	defer d.hooksMu.Unlock()
	d.nextHook++
	id := d.nextHook
	d.handlers = append(d.handlers, &updateHandler{id: id, fn: fn})
	return func() {
		d.hooksMu.Lock()
		defer d.hooksMu.Unlock()
		for i, h := range d.handlers {
			if h.id == id {
				d.handlers = append(d.handlers[:i:i], d.handlers[i+1:]...)
				return
			}
		}
	}
}

func (d *Doc) addObserver(target *Map, deep bool, fn func([]*MapEvent, *Commit)) func() {
	d.hooksMu.Lock()
	defer d.hooksMu.Unlock()
	d.nextHook++
	id := d.nextHook
	d.observers = append(d.observers, &observer{id: id, target: target, deep: deep, fn: fn})
	return func() {
		d.hooksMu.Lock()
		defer d.hooksMu.Unlock()
		for i, o := range d.observers {
			if o.id == id {
				d.observers = append(d.observers[:i:i], d.observers[i+1:]...)
				return
			}
		}
	}
}

func (d *Doc) enqueue(c *Commit) {
	d.queueMu.Lock()
	d.queue = append(d.queue, c)
	if d.draining {
		d.queueMu.Unlock()
		return
	}
	d.draining = true
	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		d.queueMu.Unlock()
		d.dispatch(next)
		d.queueMu.Lock()
	}
	d.draining = false
	d.queueMu.Unlock()
}

type delivery struct {
	fn  func([]*MapEvent, *Commit)
	evs []*MapEvent
}

func (d *Doc) dispatch(c *Commit) {
	d.hooksMu.Lock()
	observers := append([]*observer(nil), d.observers...)
	handlers := append([]*updateHandler(nil), d.handlers...)
	d.hooksMu.Unlock()

	var deliveries []delivery
	d.mu.RLock()
	for _, o := range observers {
		var evs []*MapEvent
		for _, ev := range c.Events {
			if ev.Target == o.target || (o.deep && ev.Target.isWithin(o.target)) {
				evs = append(evs, ev)
			}
		}
		if len(evs) > 0 {
			deliveries = append(deliveries, delivery{fn: o.fn, evs: evs})
		}
	}
	d.mu.RUnlock()

	for _, dl := range deliveries {
		d.safely("observer", func() { dl.fn(dl.evs, c) })
	}
	if len(c.Update.Ops) == 0 {
		return
	}
	for _, h := range handlers {
		d.safely("update handler", func() { h.fn(c.Update, c.Origin) })
	}
}

func (d *Doc) safely(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("recovered panic in "+kind, "error", fmt.Sprint(r))
		}
	}()
	fn()
}

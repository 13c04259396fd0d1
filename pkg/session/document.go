// Package session implements the shared session document: contents,
// attributes, dataset, links and tabs held in a replicated document, with typed
// change signals and per-client awareness.
package session

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/aretw0/gluedoc/internal/metrics"
	"github.com/aretw0/gluedoc/pkg/core"
	"github.com/aretw0/gluedoc/pkg/crdt"
	"github.com/aretw0/gluedoc/pkg/signal"
)

const (
	rootContents   = "contents"
	rootAttributes = "attributes"
	rootDataset    = "dataset"
	rootLinks      = "links"
	rootTabs       = "tabs"

	selectedTabField = "selectedTab"
)

// Document is one open session document.
//
// Mutations are transactional and fan out to the signals once per transaction.
// After Dispose every mutation is a no-op and every signal is disconnected.
type Document struct {
	id      string
	logger  *slog.Logger
	metrics *metrics.Metrics

	doc       *crdt.Doc
	awareness *crdt.Awareness

	contents   *crdt.Map
	attributes *crdt.Map
	dataset    *crdt.Map
	links      *crdt.Map
	tabs       *crdt.Map

	ContentsChanged   *signal.Signal[core.MapChange]
	AttributesChanged *signal.Signal[core.MapChange]
	DatasetChanged    *signal.Signal[core.MapChange]
	LinksChanged      *signal.Signal[core.MapChange]
	TabChanged        *signal.Signal[core.TabChange]
	TabsChanged       *signal.Signal[core.TabsChange]
	LocalStateChanged *signal.Signal[core.LocalStateChange]

	disposed atomic.Bool
	mu       sync.Mutex
	offs     []func()
}

// New creates an empty document.
func New(id string, opts ...Option) *Document {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	docOpts := []crdt.Option{crdt.WithLogger(o.logger)}
	if o.client != "" {
		docOpts = append(docOpts, crdt.WithClientID(o.client))
	}
	doc := crdt.NewDoc(docOpts...)

	d := &Document{
		id:                id,
		logger:            o.logger.With("session", id),
		metrics:           o.metrics,
		doc:               doc,
		awareness:         crdt.NewAwareness(doc.ClientID()),
		contents:          doc.Map(rootContents),
		attributes:        doc.Map(rootAttributes),
		dataset:           doc.Map(rootDataset),
		links:             doc.Map(rootLinks),
		tabs:              doc.Map(rootTabs),
		ContentsChanged:   signal.New[core.MapChange]("contentsChanged", o.logger),
		AttributesChanged: signal.New[core.MapChange]("attributesChanged", o.logger),
		DatasetChanged:    signal.New[core.MapChange]("datasetChanged", o.logger),
		LinksChanged:      signal.New[core.MapChange]("linksChanged", o.logger),
		TabChanged:        signal.New[core.TabChange]("tabChanged", o.logger),
		TabsChanged:       signal.New[core.TabsChange]("tabsChanged", o.logger),
		LocalStateChanged: signal.New[core.LocalStateChange]("localStateChanged", o.logger),
	}

	d.offs = []func(){
		d.contents.Observe(d.mapObserver(d.ContentsChanged)),
		d.attributes.Observe(d.mapObserver(d.AttributesChanged)),
		d.dataset.Observe(d.mapObserver(d.DatasetChanged)),
		d.links.Observe(d.mapObserver(d.LinksChanged)),
		d.tabs.ObserveDeep(d.onTabs),
	}
	return d
}

// FromSnapshot creates a document holding the content of s.
func FromSnapshot(s core.Session, opts ...Option) (*Document, error) {
	d := New(s.ID, opts...)
	if err := d.Load(s); err != nil {
		d.Dispose()
		return nil, err
	}
	return d, nil
}

// ID returns the session id the document was created with.
func (d *Document) ID() string {
	return d.id
}

// ClientID returns the replica id stamped on local writes.
func (d *Document) ClientID() crdt.ClientID {
	return d.doc.ClientID()
}

// Awareness returns the per-client ephemeral state registry.
func (d *Document) Awareness() *crdt.Awareness {
	return d.awareness
}

// IsDisposed reports whether Dispose was called.
func (d *Document) IsDisposed() bool {
	return d.disposed.Load()
}

// Dispose releases every observer and signal connection. Later mutations are no-ops.
func (d *Document) Dispose() {
	if !d.disposed.CompareAndSwap(false, true) {
		return
	}
	d.mu.Lock()
	offs := d.offs
	d.offs = nil
	d.mu.Unlock()
	for _, off := range offs {
		off()
	}

	d.ContentsChanged.DisconnectAll()
	d.AttributesChanged.DisconnectAll()
	d.DatasetChanged.DisconnectAll()
	d.LinksChanged.DisconnectAll()
	d.TabChanged.DisconnectAll()
	d.TabsChanged.DisconnectAll()
	d.LocalStateChanged.DisconnectAll()
	d.awareness.SetLocalState(nil)
	d.logger.Debug("document disposed")
}

// Transact runs fn as one atomic transaction. All changes made through tx
// become visible to observers and peers together. If fn returns an error the
// changes are discarded: no signal fires and no update is sent.
func (d *Document) Transact(fn func(tx *Txn) error) error {
	return d.TransactWithOrigin(nil, fn)
}

// TransactWithOrigin is Transact with an origin value passed to update handlers.
func (d *Document) TransactWithOrigin(origin any, fn func(tx *Txn) error) error {
	if d.disposed.Load() {
		return nil
	}
	err := d.doc.Transact(origin, func(tx *crdt.Txn) error {
		return fn(&Txn{d: d, tx: tx})
	})
	if err == nil {
		d.metrics.RecordTransaction(true)
	}
	return err
}

func (d *Document) view(fn func(tx *Txn)) {
	d.doc.View(func(tx *crdt.Txn) {
		fn(&Txn{d: d, tx: tx})
	})
}

// --- Document store ---

// GetValue returns a deep copy of contents[key].
func (d *Document) GetValue(key string) (any, bool) {
	return d.contents.Get(key)
}

// SetValue replaces contents[key].
func (d *Document) SetValue(key string, value any) error {
	return d.Transact(func(tx *Txn) error {
		return tx.SetValue(key, value)
	})
}

// RemoveValue deletes contents[key] if present.
func (d *Document) RemoveValue(key string) {
	_ = d.Transact(func(tx *Txn) error {
		tx.RemoveValue(key)
		return nil
	})
}

// Contents returns a deep copy of the contents map.
func (d *Document) Contents() map[string]any {
	return d.contents.ToJSON()
}

// Attributes returns a deep copy of the attribute map.
func (d *Document) Attributes() (out map[string]core.Attribute) {
	d.view(func(tx *Txn) { out = tx.Attributes() })
	return out
}

// SetAttribute stores attr under its attribute id.
func (d *Document) SetAttribute(id string, attr core.Attribute) error {
	return d.Transact(func(tx *Txn) error {
		return tx.SetAttribute(id, attr)
	})
}

// RemoveAttribute deletes the attribute if present.
func (d *Document) RemoveAttribute(id string) {
	_ = d.Transact(func(tx *Txn) error {
		tx.RemoveAttribute(id)
		return nil
	})
}

// Dataset returns a deep copy of the dataset map.
func (d *Document) Dataset() (out map[string]core.DatasetInfo) {
	d.view(func(tx *Txn) { out = tx.Dataset() })
	return out
}

// SetDataset replaces the description of one dataset.
func (d *Document) SetDataset(name string, info core.DatasetInfo) error {
	return d.Transact(func(tx *Txn) error {
		return tx.SetDataset(name, info)
	})
}

// RemoveDataset deletes the dataset entry if present.
func (d *Document) RemoveDataset(name string) {
	_ = d.Transact(func(tx *Txn) error {
		tx.RemoveDataset(name)
		return nil
	})
}

// Links returns a copy of every link.
func (d *Document) Links() (out map[string]core.Link) {
	d.view(func(tx *Txn) { out = tx.Links() })
	return out
}

// LinkNames returns the link names in insertion order.
func (d *Document) LinkNames() []string {
	return d.links.Keys()
}

// GetLink returns a copy of the link stored under name.
func (d *Document) GetLink(name string) (l core.Link, ok bool) {
	d.view(func(tx *Txn) { l, ok = tx.GetLink(name) })
	return l, ok
}

// SetLink inserts or replaces the link under name.
func (d *Document) SetLink(name string, link core.Link) error {
	return d.Transact(func(tx *Txn) error {
		return tx.SetLink(name, link)
	})
}

// RemoveLink deletes the link under name if present.
func (d *Document) RemoveLink(name string) {
	_ = d.Transact(func(tx *Txn) error {
		tx.RemoveLink(name)
		return nil
	})
}

// AddLink inserts link under a collision-free generated name and returns it.
// It returns "" after Dispose.
func (d *Document) AddLink(link core.Link) (name string, err error) {
	err = d.Transact(func(tx *Txn) error {
		name, err = tx.AddLink(link)
		return err
	})
	return name, err
}

// --- Tab collection ---

// TabNames returns the tab names in creation order.
func (d *Document) TabNames() []string {
	return d.tabs.Keys()
}

// HasTab reports whether a tab called name exists.
func (d *Document) HasTab(name string) (ok bool) {
	d.view(func(tx *Txn) { ok = tx.HasTab(name) })
	return ok
}

// AddTab creates "Tab n" for the smallest unused n and returns its name.
// It returns "" after Dispose.
func (d *Document) AddTab() (name string) {
	_ = d.Transact(func(tx *Txn) error {
		name = tx.AddTab()
		return nil
	})
	return name
}

// RemoveTab deletes the tab if present.
func (d *Document) RemoveTab(name string) {
	_ = d.Transact(func(tx *Txn) error {
		tx.RemoveTab(name)
		return nil
	})
}

// TabData returns a copy of the tab's items, or false when the tab does not exist.
func (d *Document) TabData(name string) (items map[string]core.ViewerItem, ok bool) {
	d.view(func(tx *Txn) { items, ok = tx.TabData(name) })
	return items, ok
}

// TabItem returns a copy of the item, or an empty item when it does not exist.
func (d *Document) TabItem(tab, id string) (item core.ViewerItem) {
	d.view(func(tx *Txn) { item = tx.TabItem(tab, id) })
	return item
}

// SetTabItem inserts or overwrites an item. A missing tab is left untouched.
func (d *Document) SetTabItem(tab, id string, item core.ViewerItem) error {
	return d.Transact(func(tx *Txn) error {
		return tx.SetTabItem(tab, id, item)
	})
}

// UpdateTabItem shallow-merges partial onto an existing item.
func (d *Document) UpdateTabItem(tab, id string, partial map[string]any) error {
	return d.Transact(func(tx *Txn) error {
		return tx.UpdateTabItem(tab, id, partial)
	})
}

// RemoveTabItem deletes the item if present.
func (d *Document) RemoveTabItem(tab, id string) {
	_ = d.Transact(func(tx *Txn) error {
		tx.RemoveTabItem(tab, id)
		return nil
	})
}

// MoveTabItem moves an item from one tab to another in a single transaction.
// Observers never see the item in both tabs or in neither.
func (d *Document) MoveTabItem(id, from, to string) (moved bool) {
	_ = d.Transact(func(tx *Txn) error {
		moved = tx.MoveTabItem(id, from, to)
		return nil
	})
	return moved
}

// --- Awareness ---

// SetSelectedTab publishes the local selected tab index. LocalStateChanged
// fires on every call, including when the index did not change.
func (d *Document) SetSelectedTab(index int, emitter string) {
	if d.disposed.Load() {
		return
	}
	d.awareness.SetLocalStateField(selectedTabField, index)
	d.emitLocalState(core.LocalStateChange{Keys: []string{selectedTabField}, Emitter: emitter})
}

// SelectedTab returns the index last published by this client.
func (d *Document) SelectedTab() (int, bool) {
	v, ok := d.awareness.LocalState()[selectedTabField].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

// --- Replication ---

// EncodeState returns the full replicated state as one update.
func (d *Document) EncodeState() crdt.Update {
	return d.doc.EncodeState()
}

// ApplyUpdate merges an update from another replica. It is ignored after Dispose.
func (d *Document) ApplyUpdate(u crdt.Update, origin any) error {
	if d.disposed.Load() {
		return nil
	}
	err := d.doc.ApplyUpdate(u, origin)
	d.metrics.RecordTransaction(false)
	return err
}

// OnUpdate registers fn for every committed update, local or remote.
func (d *Document) OnUpdate(fn func(u crdt.Update, origin any)) (off func()) {
	off = d.doc.OnUpdate(fn)
	d.track(off)
	return off
}

func (d *Document) track(off func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed.Load() {
		off()
		return
	}
	d.offs = append(d.offs, off)
}

// --- Observers ---

func (d *Document) mapObserver(sig *signal.Signal[core.MapChange]) func(*crdt.MapEvent, *crdt.Commit) {
	return func(ev *crdt.MapEvent, _ *crdt.Commit) {
		d.metrics.RecordSignal(sig.Name())
		sig.Emit(core.MapChange{Keys: convertKeys(ev.Keys)})
	}
}

// onTabs splits one transaction's tab events into per-tab TabChanged
// notifications and a TabsChanged notification when tab names come or go.
func (d *Document) onTabs(evs []*crdt.MapEvent, _ *crdt.Commit) {
	var top *crdt.MapEvent
	inner := make(map[*crdt.Map]*crdt.MapEvent)
	for _, ev := range evs {
		if ev.Target == d.tabs {
			top = ev
			continue
		}
		inner[ev.Target] = ev
	}

	if len(inner) > 0 {
		for _, name := range d.tabs.Keys() {
			v, _ := d.tabs.Get(name)
			child, ok := v.(*crdt.Map)
			if !ok {
				continue
			}
			if ev, ok := inner[child]; ok {
				d.metrics.RecordSignal(d.TabChanged.Name())
				d.TabChanged.Emit(core.TabChange{Tab: name, Items: convertKeys(ev.Keys)})
			}
		}
	}

	if top == nil {
		return
	}
	var added, removed []string
	for name, ch := range top.Keys {
		switch ch.Action {
		case crdt.ActionAdd:
			added = append(added, name)
		case crdt.ActionDelete:
			removed = append(removed, name)
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	sort.Strings(added)
	sort.Strings(removed)
	d.metrics.RecordSignal(d.TabsChanged.Name())
	d.TabsChanged.Emit(core.TabsChange{Names: d.tabs.Keys(), Added: added, Removed: removed})
}

func (d *Document) emitLocalState(change core.LocalStateChange) {
	d.metrics.RecordSignal(d.LocalStateChanged.Name())
	d.LocalStateChanged.Emit(change)
}

func convertKeys(keys map[string]crdt.KeyChange) map[string]core.KeyChange {
	out := make(map[string]core.KeyChange, len(keys))
	for k, ch := range keys {
		out[k] = core.KeyChange{Action: string(ch.Action), OldValue: ch.OldValue}
	}
	return out
}

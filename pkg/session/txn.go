package session

import (
	"encoding/json"

	"github.com/aretw0/gluedoc/pkg/core"
	"github.com/aretw0/gluedoc/pkg/crdt"
)

// Txn reads and mutates a Document inside one atomic transaction. Every
// mutation made through the same Txn reaches observers and peers as one update.
//
// Do not call Document methods from inside Transact: the document lock is held.
type Txn struct {
	d  *Document
	tx *crdt.Txn
}

// GetValue returns a deep copy of contents[key].
func (t *Txn) GetValue(key string) (any, bool) {
	return t.tx.Get(t.d.contents, key)
}

// SetValue replaces contents[key].
func (t *Txn) SetValue(key string, value any) error {
	return t.tx.Set(t.d.contents, key, value)
}

// RemoveValue deletes contents[key] if present.
func (t *Txn) RemoveValue(key string) {
	t.tx.Delete(t.d.contents, key)
}

// Contents returns a deep copy of the contents map.
func (t *Txn) Contents() map[string]any {
	return t.tx.ToJSON(t.d.contents)
}

// Attributes returns a deep copy of the attribute map.
func (t *Txn) Attributes() map[string]core.Attribute {
	out := make(map[string]core.Attribute)
	for k, v := range t.tx.ToJSON(t.d.attributes) {
		if m, ok := v.(map[string]any); ok {
			out[k] = core.Attribute(m)
		}
	}
	return out
}

// SetAttribute stores attr under its attribute id.
func (t *Txn) SetAttribute(id string, attr core.Attribute) error {
	return t.tx.Set(t.d.attributes, id, map[string]any(attr))
}

// RemoveAttribute deletes the attribute if present.
func (t *Txn) RemoveAttribute(id string) {
	t.tx.Delete(t.d.attributes, id)
}

// Dataset returns a deep copy of the dataset map.
func (t *Txn) Dataset() map[string]core.DatasetInfo {
	out := make(map[string]core.DatasetInfo)
	for k, v := range t.tx.ToJSON(t.d.dataset) {
		if m, ok := v.(map[string]any); ok {
			out[k] = core.DatasetInfo(m)
		}
	}
	return out
}

// SetDataset replaces the description of one dataset.
func (t *Txn) SetDataset(name string, info core.DatasetInfo) error {
	return t.tx.Set(t.d.dataset, name, map[string]any(info))
}

// RemoveDataset deletes the dataset entry if present.
func (t *Txn) RemoveDataset(name string) {
	t.tx.Delete(t.d.dataset, name)
}

// Links returns every link that decodes as a core.Link.
func (t *Txn) Links() map[string]core.Link {
	out := make(map[string]core.Link)
	for k, v := range t.tx.ToJSON(t.d.links) {
		if l, ok := decodeLink(v); ok {
			out[k] = l
		}
	}
	return out
}

// LinkNames returns the link names in insertion order.
func (t *Txn) LinkNames() []string {
	return t.tx.Keys(t.d.links)
}

// GetLink returns the link stored under name, if it decodes as a core.Link.
func (t *Txn) GetLink(name string) (core.Link, bool) {
	v, ok := t.tx.Get(t.d.links, name)
	if !ok {
		return core.Link{}, false
	}
	return decodeLink(v)
}

// SetLink inserts or replaces the link under name.
func (t *Txn) SetLink(name string, link core.Link) error {
	return t.tx.Set(t.d.links, name, link)
}

// RemoveLink deletes the link under name if present.
func (t *Txn) RemoveLink(name string) {
	t.tx.Delete(t.d.links, name)
}

// AddLink stores link under a generated name that does not collide with any
// existing link and returns that name.
func (t *Txn) AddLink(link core.Link) (string, error) {
	name := UniqueName(t.tx.Keys(t.d.links), LinkBase(link))
	if err := t.SetLink(name, link); err != nil {
		return "", err
	}
	return name, nil
}

// TabNames returns the tab names in creation order.
func (t *Txn) TabNames() []string {
	return t.tx.Keys(t.d.tabs)
}

// HasTab reports whether a tab called name exists.
func (t *Txn) HasTab(name string) bool {
	_, ok := t.tx.Child(t.d.tabs, name)
	return ok
}

// AddTab creates an empty tab named "Tab n" with the smallest free n and returns the name.
func (t *Txn) AddTab() string {
	name := nextTabName(t.tx.Keys(t.d.tabs))
	if t.tx.SetMap(t.d.tabs, name) == nil {
		return ""
	}
	return name
}

// RemoveTab deletes the tab and its items. Removing a missing tab is a no-op.
func (t *Txn) RemoveTab(name string) {
	t.tx.Delete(t.d.tabs, name)
}

// TabData returns a copy of the tab's items.
func (t *Txn) TabData(name string) (map[string]core.ViewerItem, bool) {
	tab, ok := t.tx.Child(t.d.tabs, name)
	if !ok {
		return nil, false
	}
	out := make(map[string]core.ViewerItem)
	for id, v := range t.tx.ToJSON(tab) {
		out[id] = toViewerItem(v)
	}
	return out, true
}

// TabItem returns a copy of the item, or an empty item when the tab or item is missing.
func (t *Txn) TabItem(tabName, id string) core.ViewerItem {
	tab, ok := t.tx.Child(t.d.tabs, tabName)
	if !ok {
		return core.ViewerItem{}
	}
	v, _ := t.tx.Get(tab, id)
	return toViewerItem(v)
}

func (t *Txn) hasItem(tabName, id string) bool {
	tab, ok := t.tx.Child(t.d.tabs, tabName)
	return ok && t.tx.Has(tab, id)
}

// SetTabItem inserts or overwrites an item. It does nothing when the tab does not exist.
func (t *Txn) SetTabItem(tabName, id string, item core.ViewerItem) error {
	tab, ok := t.tx.Child(t.d.tabs, tabName)
	if !ok {
		return nil
	}
	return t.tx.Set(tab, id, map[string]any(item))
}

// UpdateTabItem merges partial onto the top-level fields of an existing item.
// It does nothing when the item does not exist.
func (t *Txn) UpdateTabItem(tabName, id string, partial map[string]any) error {
	if !t.hasItem(tabName, id) {
		return nil
	}
	item := t.TabItem(tabName, id)
	for k, v := range partial {
		item[k] = v
	}
	return t.SetTabItem(tabName, id, item)
}

// RemoveTabItem deletes the item if present.
func (t *Txn) RemoveTabItem(tabName, id string) {
	tab, ok := t.tx.Child(t.d.tabs, tabName)
	if !ok {
		return
	}
	t.tx.Delete(tab, id)
}

// MoveTabItem moves an item between two existing tabs and reports whether it
// moved. Both tabs must exist, differ, and the item must be in from.
func (t *Txn) MoveTabItem(id, from, to string) bool {
	if from == to {
		return false
	}
	src, ok := t.tx.Child(t.d.tabs, from)
	if !ok {
		return false
	}
	dst, ok := t.tx.Child(t.d.tabs, to)
	if !ok {
		return false
	}
	value, ok := t.tx.Get(src, id)
	if !ok {
		return false
	}
	t.tx.Delete(src, id)
	if err := t.tx.Set(dst, id, value); err != nil {
		// Only a read-only view rejects the write.
		return false
	}
	return true
}

func toViewerItem(v any) core.ViewerItem {
	m, ok := v.(map[string]any)
	if !ok {
		return core.ViewerItem{}
	}
	return core.ViewerItem(m)
}

func decodeLink(v any) (core.Link, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return core.Link{}, false
	}
	var l core.Link
	if err := json.Unmarshal(raw, &l); err != nil {
		return core.Link{}, false
	}
	return l, true
}

package session

import (
	"fmt"

	"github.com/aretw0/gluedoc/pkg/core"
)

// Snapshot returns the persisted projection of the document.
func (d *Document) Snapshot() core.Session {
	var s core.Session
	d.view(func(tx *Txn) {
		s = tx.Snapshot()
	})
	s.ID = d.id
	return s
}

// Load replaces the document content with s in one transaction. Keys absent
// from s are removed; tabs present in s are recreated with exactly its items.
func (d *Document) Load(s core.Session) error {
	return d.Transact(func(tx *Txn) error {
		return tx.Load(s)
	})
}

// Snapshot returns the persisted projection of the state seen by tx.
func (t *Txn) Snapshot() core.Session {
	s := core.Session{
		Contents:   t.Contents(),
		Attributes: t.Attributes(),
		Dataset:    t.Dataset(),
		Links:      t.Links(),
		Tabs:       core.Tabs{},
	}
	for _, name := range t.TabNames() {
		items, _ := t.TabData(name)
		s.Tabs = append(s.Tabs, core.Tab{Name: name, Items: items})
	}
	return s
}

// Load replaces the content seen by tx with s.
func (t *Txn) Load(s core.Session) error {
	keep := func(keys []string, want func(string) bool, remove func(string)) {
		for _, k := range keys {
			if !want(k) {
				remove(k)
			}
		}
	}

	keep(t.tx.Keys(t.d.contents), func(k string) bool { _, ok := s.Contents[k]; return ok }, t.RemoveValue)
	for k, v := range s.Contents {
		if err := t.SetValue(k, v); err != nil {
			return fmt.Errorf("contents %q: %w", k, err)
		}
	}

	keep(t.tx.Keys(t.d.attributes), func(k string) bool { _, ok := s.Attributes[k]; return ok }, t.RemoveAttribute)
	for k, v := range s.Attributes {
		if err := t.SetAttribute(k, v); err != nil {
			return fmt.Errorf("attribute %q: %w", k, err)
		}
	}

	keep(t.tx.Keys(t.d.dataset), func(k string) bool { _, ok := s.Dataset[k]; return ok }, t.RemoveDataset)
	for k, v := range s.Dataset {
		if err := t.SetDataset(k, v); err != nil {
			return fmt.Errorf("dataset %q: %w", k, err)
		}
	}

	keep(t.tx.Keys(t.d.links), func(k string) bool { _, ok := s.Links[k]; return ok }, t.RemoveLink)
	for k, v := range s.Links {
		if err := t.SetLink(k, v); err != nil {
			return fmt.Errorf("link %q: %w", k, err)
		}
	}

	keep(t.TabNames(), func(k string) bool { _, ok := s.Tabs.Get(k); return ok }, t.RemoveTab)
	for _, tab := range s.Tabs {
		t.tx.SetMap(t.d.tabs, tab.Name)
		for id, item := range tab.Items {
			if err := t.SetTabItem(tab.Name, id, item); err != nil {
				return fmt.Errorf("tab %q item %q: %w", tab.Name, id, err)
			}
		}
	}
	return nil
}

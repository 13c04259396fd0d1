// Package typed provides type-safe views over the opaque contents of a session
// document.
package typed

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/gluedoc/pkg/core"
	"github.com/aretw0/gluedoc/pkg/session"
)

// Model wraps one contents entry with a typed Data field.
type Model[T any] struct {
	Key   string
	Data  T
	Saver Saver[T] // Active Record reference
}

// Saver writes a model back to where it came from.
type Saver[T any] interface {
	Save(m *Model[T]) error
}

// Save persists the model using the attached saver.
func (m *Model[T]) Save() error {
	if m.Saver == nil {
		return fmt.Errorf("model %q is detached (missing Saver)", m.Key)
	}
	return m.Saver.Save(m)
}

// Contents gives typed access to the contents map of a document.
type Contents[T any] struct {
	doc *session.Document
}

// NewContents creates a typed view over doc's contents.
func NewContents[T any](doc *session.Document) *Contents[T] {
	return &Contents[T]{doc: doc}
}

// Save stores m.Data under m.Key.
func (c *Contents[T]) Save(m *Model[T]) error {
	if m.Key == "" {
		return fmt.Errorf("model has no key")
	}
	if m.Saver == nil {
		m.Saver = c
	}
	if err := c.doc.SetValue(m.Key, m.Data); err != nil {
		return fmt.Errorf("failed to store %q: %w", m.Key, err)
	}
	return nil
}

// Get decodes contents[key] into T.
func (c *Contents[T]) Get(key string) (*Model[T], error) {
	v, ok := c.doc.GetValue(key)
	if !ok {
		return nil, fmt.Errorf("contents %q: %w", key, core.ErrNotFound)
	}
	return decode[T](key, v, c)
}

// List decodes every entry whose key passes filter. A nil filter keeps all keys.
func (c *Contents[T]) List(filter func(key string) bool) ([]*Model[T], error) {
	var result []*Model[T]
	for key, v := range c.doc.Contents() {
		if filter != nil && !filter(key) {
			continue
		}
		m, err := decode[T](key, v, c)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, nil
}

// Delete removes contents[key].
func (c *Contents[T]) Delete(key string) {
	c.doc.RemoveValue(key)
}

// Watch calls fn with the new value of every added or updated key, and with a
// nil model for deleted keys. Entries that do not decode into T are skipped.
func (c *Contents[T]) Watch(fn func(key string, m *Model[T])) (disconnect func()) {
	return c.doc.ContentsChanged.Connect(func(change core.MapChange) {
		for key, kc := range change.Keys {
			if kc.Action == "delete" {
				fn(key, nil)
				continue
			}
			m, err := c.Get(key)
			if err != nil {
				continue
			}
			fn(key, m)
		}
	})
}

func decode[T any](key string, v any, saver Saver[T]) (*Model[T], error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("contents %q marshal failed: %w", key, err)
	}
	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("contents %q: unmarshal to target type failed: %w", key, err)
	}
	return &Model[T]{Key: key, Data: data, Saver: saver}, nil
}

package gluedoc

import (
	"github.com/aretw0/gluedoc/pkg/session"
	"github.com/aretw0/gluedoc/pkg/typed"
)

// Model wraps one contents entry with a typed Data field.
type Model[T any] = typed.Model[T]

// Contents gives typed access to the contents map of a document.
type Contents[T any] = typed.Contents[T]

// NewContents creates a typed view over the contents of doc.
func NewContents[T any](doc *session.Document) *Contents[T] {
	return typed.NewContents[T](doc)
}

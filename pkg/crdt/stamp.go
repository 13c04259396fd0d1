// Package crdt implements the replicated map substrate behind a session document.
//
// A Doc owns a set of named root maps. Maps nest: an entry holds either a plain
// JSON value or a child map. Every write carries a Stamp (Lamport clock plus the
// writing client) and concurrent writes to the same key resolve last-writer-wins
// by stamp, so replicas that have seen the same set of updates hold the same state
// regardless of delivery order or duplication.
//
// All writes happen inside Doc.Transact. When a transaction ends the Doc computes
// one MapEvent per changed map, dispatches observers and update handlers in commit
// order, and exposes the applied operations as an Update for replication.
package crdt

import (
	"github.com/google/uuid"
)

// ClientID identifies one replica of a document.
type ClientID string

// NewClientID returns a random client id.
func NewClientID() ClientID {
	return ClientID(uuid.NewString())
}

// Stamp orders writes across replicas.
type Stamp struct {
	Clock  uint64   `json:"c"`
	Client ClientID `json:"a"`
}

// After reports whether s wins over o. Clock ties break on the client id.
func (s Stamp) After(o Stamp) bool {
	if s.Clock != o.Clock {
		return s.Clock > o.Clock
	}
	return s.Client > o.Client
}

// IsZero reports whether the stamp was never assigned.
func (s Stamp) IsZero() bool {
	return s.Clock == 0 && s.Client == ""
}

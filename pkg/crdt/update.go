package crdt

import (
	"encoding/json"
	"fmt"
)

// Op is one replicated write: a value, a child map, or a delete of Key in the
// map found at Path.
//
// Parent is the birth stamp of the map the write was made in. Created is the
// stamp that first made Key live; every replica orders keys by the Created of
// the winning write.
type Op struct {
	Path    []string        `json:"p"`
	Key     string          `json:"k"`
	Stamp   Stamp           `json:"s"`
	Parent  Stamp           `json:"b,omitzero"`
	Created Stamp           `json:"cr,omitzero"`
	Map     bool            `json:"m,omitempty"`
	Deleted bool            `json:"d,omitempty"`
	Value   json.RawMessage `json:"v,omitempty"`
}

// Update is the set of operations produced by one transaction, or a full state
// snapshot produced by Doc.EncodeState.
type Update struct {
	Client ClientID `json:"client,omitempty"`
	Ops    []Op     `json:"ops"`
}

// IsEmpty reports whether the update carries no operations.
func (u Update) IsEmpty() bool {
	return len(u.Ops) == 0
}

// Encode serializes the update for the wire or for storage.
func (u Update) Encode() ([]byte, error) {
	return json.Marshal(u)
}

// DecodeUpdate parses an update produced by Encode.
func DecodeUpdate(data []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return Update{}, fmt.Errorf("invalid update: %w", err)
	}
	return u, nil
}

// MergeUpdates concatenates updates into one. Applying the result is equivalent
// to applying each update in turn.
func MergeUpdates(updates ...Update) Update {
	var merged Update
	for _, u := range updates {
		merged.Ops = append(merged.Ops, u.Ops...)
	}
	return merged
}

func marshalValue(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

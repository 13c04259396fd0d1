package core

import "fmt"

// KeyChange is the net change of one key within a transaction.
type KeyChange struct {
	Action   string `json:"action"`
	OldValue any    `json:"oldValue,omitempty"`
}

// MapChange is emitted when contents, attributes, dataset or links change.
// Subscribers should re-read the map rather than rely on Keys being complete.
type MapChange struct {
	Keys map[string]KeyChange
}

// TabChange is emitted when items inside one tab change.
type TabChange struct {
	Tab   string
	Items map[string]KeyChange
}

// TabsChange is emitted when the set of tab names changes.
type TabsChange struct {
	Names   []string
	Added   []string
	Removed []string
}

// LocalStateChange is emitted whenever the local awareness state is republished.
type LocalStateChange struct {
	Keys    []string
	Emitter string
}

// EventType represents the type of change in the workspace.
type EventType string

const (
	EventCreate EventType = "CREATE"
	EventModify EventType = "MODIFY"
	EventDelete EventType = "DELETE"
)

// Event represents a change to a session file in the workspace.
type Event struct {
	Type      EventType
	ID        string
	Timestamp int64 // Unix timestamp
}

// String implements lifecycle.Event.
func (e Event) String() string {
	return fmt.Sprintf("%s %s", e.Type, e.ID)
}

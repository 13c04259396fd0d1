package session

import (
	"github.com/aretw0/introspection"
)

// DocumentState exposes internal state for observability.
type DocumentState struct {
	ID          string         `json:"id"`
	ClientID    string         `json:"client_id"`
	Clock       uint64         `json:"clock"`
	Tabs        []string       `json:"tabs"`
	Links       int            `json:"links"`
	Datasets    int            `json:"datasets"`
	Pending     int            `json:"pending_ops"`
	Peers       int            `json:"awareness_peers"`
	Disposed    bool           `json:"disposed"`
	Subscribers map[string]int `json:"subscribers"`
}

// State implements introspection.Introspectable.
func (d *Document) State() any {
	return DocumentState{
		ID:       d.id,
		ClientID: string(d.doc.ClientID()),
		Clock:    d.doc.Clock(),
		Tabs:     d.tabs.Keys(),
		Links:    d.links.Len(),
		Datasets: d.dataset.Len(),
		Pending:  d.doc.PendingLen(),
		Peers:    len(d.awareness.Clients()),
		Disposed: d.disposed.Load(),
		Subscribers: map[string]int{
			d.ContentsChanged.Name():   d.ContentsChanged.Len(),
			d.AttributesChanged.Name(): d.AttributesChanged.Len(),
			d.DatasetChanged.Name():    d.DatasetChanged.Len(),
			d.LinksChanged.Name():      d.LinksChanged.Len(),
			d.TabChanged.Name():        d.TabChanged.Len(),
			d.TabsChanged.Name():       d.TabsChanged.Len(),
			d.LocalStateChanged.Name(): d.LocalStateChanged.Len(),
		},
	}
}

// ComponentType implements introspection.Component.
func (d *Document) ComponentType() string {
	return "session"
}

var _ introspection.Introspectable = (*Document)(nil)
var _ introspection.Component = (*Document)(nil)

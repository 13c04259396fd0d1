// Package core holds the domain types shared by the session document, its
// storage adapters and the workspace service.
package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

const (
	// IdentityLinkType is the _type of a one-to-one attribute link.
	IdentityLinkType = "glue.core.component_link.ComponentLink"
	// IdentityFunction is the link helper used by identity links in both directions.
	IdentityFunction = "glue.core.link_helpers.identity"
	// FunctionType is the _type of a function descriptor.
	FunctionType = "types.FunctionType"
	// IdentityLinkBase is the base name for generated identity link names.
	IdentityLinkBase = "ComponentLink"
)

// ViewerItem is one visualization placed in a tab.
type ViewerItem map[string]any

// Type returns the viewer kind discriminator.
func (v ViewerItem) Type() string {
	s, _ := v["_type"].(string)
	return s
}

// Pos returns the item position, zero when missing or malformed.
func (v ViewerItem) Pos() [2]float64 {
	return pair(v["pos"])
}

// Size returns the item size, zero when missing or malformed.
func (v ViewerItem) Size() [2]float64 {
	return pair(v["size"])
}

// State returns the viewer configuration object, or nil.
func (v ViewerItem) State() map[string]any {
	s, _ := v["state"].(map[string]any)
	return s
}

// Layer returns state.values.layer when it is set.
func (v ViewerItem) Layer() (string, bool) {
	values, _ := v.State()["values"].(map[string]any)
	layer, ok := values["layer"].(string)
	return layer, ok
}

// NewViewerItem builds an item with the given kind, placement and layer.
func NewViewerItem(kind string, pos, size [2]float64, layer string) ViewerItem {
	var l any
	if layer != "" {
		l = layer
	}
	return ViewerItem{
		"_type": kind,
		"pos":   []any{pos[0], pos[1]},
		"size":  []any{size[0], size[1]},
		"state": map[string]any{"values": map[string]any{"layer": l}},
	}
}

func pair(v any) [2]float64 {
	var out [2]float64
	s, ok := v.([]any)
	if !ok || len(s) != 2 {
		return out
	}
	for i := range out {
		switch n := s[i].(type) {
		case float64:
			out[i] = n
		case int:
			out[i] = float64(n)
		}
	}
	return out
}

// Attribute describes one dataset component.
type Attribute map[string]any

// Label returns the human readable attribute name.
func (a Attribute) Label() string {
	s, _ := a["label"].(string)
	return s
}

// DatasetInfo describes one dataset.
type DatasetInfo map[string]any

// PrimaryOwner returns the ordered ids of the attributes owned by the dataset.
func (d DatasetInfo) PrimaryOwner() []string {
	raw, _ := d["primary_owner"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// FunctionRef names a link helper function.
type FunctionRef struct {
	Type     string `json:"_type" yaml:"_type"`
	Function string `json:"function" yaml:"function"`
}

// Link relates attributes of two datasets.
type Link struct {
	Type        string       `json:"_type" yaml:"_type"`
	Cids1       []string     `json:"cids1" yaml:"cids1"`
	Cids2       []string     `json:"cids2" yaml:"cids2"`
	Cids1Labels []string     `json:"cids1_labels" yaml:"cids1_labels"`
	Cids2Labels []string     `json:"cids2_labels" yaml:"cids2_labels"`
	Data1       string       `json:"data1" yaml:"data1"`
	Data2       string       `json:"data2" yaml:"data2"`
	Using       *FunctionRef `json:"using,omitempty" yaml:"using,omitempty"`
	Inverse     *FunctionRef `json:"inverse,omitempty" yaml:"inverse,omitempty"`
}

// IdentityLink links attribute cid1 of data1 to cid2 of data2 one to one.
func IdentityLink(data1, cid1, label1, data2, cid2, label2 string) Link {
	identity := &FunctionRef{Type: FunctionType, Function: IdentityFunction}
	inverse := *identity
	return Link{
		Type:        IdentityLinkType,
		Cids1:       []string{cid1},
		Cids2:       []string{cid2},
		Cids1Labels: []string{label1},
		Cids2Labels: []string{label2},
		Data1:       data1,
		Data2:       data2,
		Using:       identity,
		Inverse:     &inverse,
	}
}

// IsIdentity reports whether the link is a plain identity link.
func (l Link) IsIdentity() bool {
	return l.Type == IdentityLinkType && l.Using != nil && l.Using.Function == IdentityFunction
}

// Tab is a named group of viewer items.
type Tab struct {
	Name  string
	Items map[string]ViewerItem
}

// Tabs is an ordered tab list. It encodes as a JSON/YAML object whose key order
// is the tab order.
type Tabs []Tab

// Names returns the tab names in order.
func (t Tabs) Names() []string {
	names := make([]string, len(t))
	for i, tab := range t {
		names[i] = tab.Name
	}
	return names
}

// Get returns the tab with the given name.
func (t Tabs) Get(name string) (Tab, bool) {
	for _, tab := range t {
		if tab.Name == name {
			return tab, true
		}
	}
	return Tab{}, false
}

func (t Tabs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, tab := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(tab.Name)
		if err != nil {
			return nil, err
		}
		items := tab.Items
		if items == nil {
			items = map[string]ViewerItem{}
		}
		val, err := json.Marshal(items)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (t *Tabs) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*t = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("tabs: expected object, got %v", tok)
	}
	var out Tabs
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var items map[string]ViewerItem
		if err := dec.Decode(&items); err != nil {
			return fmt.Errorf("tab %q: %w", name, err)
		}
		out = append(out, Tab{Name: name, Items: items})
	}
	*t = out
	return nil
}

func (t Tabs) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, tab := range t {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: tab.Name}
		val := &yaml.Node{}
		items := tab.Items
		if items == nil {
			items = map[string]ViewerItem{}
		}
		if err := val.Encode(items); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, key, val)
	}
	return node, nil
}

func (t *Tabs) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("tabs: expected mapping, got kind %d", value.Kind)
	}
	var out Tabs
	for i := 0; i+1 < len(value.Content); i += 2 {
		name := value.Content[i].Value
		var items map[string]ViewerItem
		if err := value.Content[i+1].Decode(&items); err != nil {
			return fmt.Errorf("tab %q: %w", name, err)
		}
		out = append(out, Tab{Name: name, Items: items})
	}
	*t = out
	return nil
}

// Session is the persisted projection of a session document.
type Session struct {
	ID         string                 `json:"-" yaml:"-"`
	Contents   map[string]any         `json:"contents" yaml:"contents"`
	Attributes map[string]Attribute   `json:"attributes" yaml:"attributes"`
	Dataset    map[string]DatasetInfo `json:"dataset" yaml:"dataset"`
	Links      map[string]Link        `json:"links" yaml:"links"`
	Tabs       Tabs                   `json:"tabs" yaml:"tabs"`
}

// NewSession returns an empty session with every collection initialized.
func NewSession(id string) Session {
	return Session{
		ID:         id,
		Contents:   map[string]any{},
		Attributes: map[string]Attribute{},
		Dataset:    map[string]DatasetInfo{},
		Links:      map[string]Link{},
		Tabs:       Tabs{},
	}
}

// Summary is the lightweight description of a session kept by listings and indexes.
type Summary struct {
	ID       string   `json:"id"`
	Tabs     []string `json:"tabs,omitempty"`
	Datasets []string `json:"datasets,omitempty"`
	Links    int      `json:"links"`
}

// Summarize builds the listing summary of s.
func (s Session) Summarize() Summary {
	datasets := make([]string, 0, len(s.Dataset))
	for name := range s.Dataset {
		datasets = append(datasets, name)
	}
	sort.Strings(datasets)
	return Summary{
		ID:       s.ID,
		Tabs:     s.Tabs.Names(),
		Datasets: datasets,
		Links:    len(s.Links),
	}
}

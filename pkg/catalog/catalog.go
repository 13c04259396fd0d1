// Package catalog serves and fetches the catalog of advanced link functions
// offered by the link editor.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/gluedoc/pkg/core"
)

// Kinds of advanced link entries.
const (
	KindFunction = "function"
	KindHelper   = "helper"
)

// AdvancedLinkDescription describes one advanced link function. Its JSON form
// is shared with link editor clients and must not change.
type AdvancedLinkDescription struct {
	Function    string   `json:"function" yaml:"function"`
	Type        string   `json:"_type" yaml:"_type"`
	Display     string   `json:"display" yaml:"display"`
	Description string   `json:"description" yaml:"description"`
	Labels1     []string `json:"labels1" yaml:"labels1"`
	Labels2     []string `json:"labels2" yaml:"labels2"`
}

// Catalog groups descriptions by category.
type Catalog map[string][]AdvancedLinkDescription

//go:embed advanced_links.yaml
var defaultCatalog []byte

// Default returns the built-in catalog.
func Default() Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded catalog is invalid: %v", err))
	}
	return c
}

// Parse reads a catalog from YAML (or JSON, which is valid YAML).
func Parse(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	for category, entries := range c {
		for i, e := range entries {
			if e.Function == "" {
				return nil, fmt.Errorf("invalid catalog: %s[%d] has no function", category, i)
			}
			if e.Type != KindFunction && e.Type != KindHelper {
				return nil, fmt.Errorf("invalid catalog: %s has unknown _type %q", e.Function, e.Type)
			}
		}
	}
	return c, nil
}

// Categories returns the category names, sorted.
func (c Catalog) Categories() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Find returns the description of the given function.
func (c Catalog) Find(function string) (AdvancedLinkDescription, bool) {
	for _, entries := range c {
		for _, e := range entries {
			if e.Function == function {
				return e, true
			}
		}
	}
	return AdvancedLinkDescription{}, false
}

// Link builds a link that applies the described function to cids1 of data1,
// producing cids2 of data2. Helpers are stored under their own type; plain
// functions become component links using the function.
func (d AdvancedLinkDescription) Link(data1 string, cids1, labels1 []string, data2 string, cids2, labels2 []string) core.Link {
	l := core.Link{
		Type:        core.IdentityLinkType,
		Cids1:       cids1,
		Cids2:       cids2,
		Cids1Labels: labels1,
		Cids2Labels: labels2,
		Data1:       data1,
		Data2:       data2,
	}
	if d.Type == KindHelper {
		l.Type = d.Function
		return l
	}
	l.Using = &core.FunctionRef{Type: core.FunctionType, Function: d.Function}
	return l
}

package fs

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/aretw0/gluedoc/pkg/core"
)

func sampleSession(id string) core.Session {
	s := core.NewSession(id)
	s.Contents["__main__"] = map[string]any{"_type": "glue.app.qt.application.GlueApplication"}
	s.Attributes["cid1"] = core.Attribute{"label": "x"}
	s.Attributes["cid2"] = core.Attribute{"label": "y"}
	s.Dataset["data1"] = core.DatasetInfo{"primary_owner": []any{"cid1"}}
	s.Dataset["data2"] = core.DatasetInfo{"primary_owner": []any{"cid2"}}
	s.Links["ComponentLink"] = core.IdentityLink("data1", "cid1", "x", "data2", "cid2", "y")
	s.Tabs = core.Tabs{
		{Name: "Tab 2", Items: map[string]core.ViewerItem{
			"viewer": core.NewViewerItem("glue.viewers.scatter", [2]float64{0, 0}, [2]float64{600, 400}, "data1"),
		}},
		{Name: "Tab 1", Items: map[string]core.ViewerItem{}},
	}
	return s
}

func TestSerializers(t *testing.T) {
	want := sampleSession("demo")

	for _, ext := range []string{".glu", ".json", ".yaml", ".yml"} {
		t.Run(ext, func(t *testing.T) {
			s, ok := serializerFor(ext)
			if !ok {
				t.Fatalf("no serializer for %s", ext)
			}

			data, err := s.Serialize(want)
			if err != nil {
				t.Fatalf("Serialize failed: %v", err)
			}

			got, err := s.Parse(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}

			if !reflect.DeepEqual(got.Tabs.Names(), []string{"Tab 2", "Tab 1"}) {
				t.Errorf("tab order lost: %v", got.Tabs.Names())
			}
			if !reflect.DeepEqual(got.Links, want.Links) {
				t.Errorf("links mismatch:\n got %+v\nwant %+v", got.Links, want.Links)
			}
			tab, _ := got.Tabs.Get("Tab 2")
			if tab.Items["viewer"].Size() != [2]float64{600, 400} {
				t.Errorf("viewer size lost: %v", tab.Items["viewer"])
			}
			if layer, _ := tab.Items["viewer"].Layer(); layer != "data1" {
				t.Errorf("viewer layer lost: %q", layer)
			}
			if got.Attributes["cid1"].Label() != "x" {
				t.Errorf("attribute label lost: %v", got.Attributes)
			}
		})
	}
}

func TestSerializerExtensionCase(t *testing.T) {
	if _, ok := serializerFor(".GLU"); !ok {
		t.Error("expected .GLU to be readable")
	}
	if _, ok := serializerFor(".md"); ok {
		t.Error("expected .md to be unsupported")
	}
}

func TestParseFillsMissingCollections(t *testing.T) {
	s, err := JSONSerializer{}.Parse(strings.NewReader(`{"contents": {"a": 1}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if s.Links == nil || s.Dataset == nil || s.Attributes == nil || s.Tabs == nil {
		t.Errorf("expected empty collections, got %+v", s)
	}
	if s.Contents["a"] != 1.0 {
		t.Errorf("expected contents.a = 1, got %v", s.Contents["a"])
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := (JSONSerializer{}).Parse(strings.NewReader("not json")); err == nil {
		t.Error("expected error for invalid json")
	}
	if _, err := (YAMLSerializer{}).Parse(strings.NewReader("tabs: [unclosed")); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

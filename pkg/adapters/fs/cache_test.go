package fs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/gluedoc/pkg/core"
)

func TestCache_Load(t *testing.T) {
	t.Run("Starts Empty if File Missing", func(t *testing.T) {
		c := newCache(t.TempDir(), ".gluedoc")

		if err := c.Load(); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if c.Len() != 0 {
			t.Errorf("Expected empty entries, got %d", c.Len())
		}
	})

	t.Run("Loads Valid JSON", func(t *testing.T) {
		tmpDir := t.TempDir()
		cacheDir := filepath.Join(tmpDir, ".gluedoc")
		os.MkdirAll(cacheDir, 0755)

		jsonContent := `{
			"version": 1,
			"entries": {
				"demo.glu": {
					"summary": {"id": "demo", "tabs": ["Tab 1"], "links": 2},
					"lastModified": "2026-01-02T03:04:05.000000006Z"
				}
			}
		}`
		os.WriteFile(filepath.Join(cacheDir, "index.json"), []byte(jsonContent), 0644)

		c := newCache(tmpDir, ".gluedoc")
		if err := c.Load(); err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		entry, ok := c.Lookup("demo.glu")
		if !ok {
			t.Fatal("Expected entry demo.glu not found")
		}
		if entry.Summary.ID != "demo" || entry.Summary.Links != 2 {
			t.Errorf("unexpected summary: %+v", entry.Summary)
		}
		if entry.LastModified.Nanosecond() != 6 {
			t.Errorf("expected nanoseconds to survive, got %v", entry.LastModified)
		}
	})

	t.Run("Resets on Corrupted JSON", func(t *testing.T) {
		tmpDir := t.TempDir()
		cacheDir := filepath.Join(tmpDir, ".gluedoc")
		os.MkdirAll(cacheDir, 0755)
		os.WriteFile(filepath.Join(cacheDir, "index.json"), []byte("{ invalid json"), 0644)

		c := newCache(tmpDir, ".gluedoc")
		if err := c.Load(); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if c.Len() != 0 {
			t.Errorf("Expected empty entries after corruption, got %d", c.Len())
		}
	})
}

func TestCache_Save(t *testing.T) {
	t.Run("Does Not Save if Not Dirty", func(t *testing.T) {
		c := newCache(t.TempDir(), ".gluedoc")

		if err := c.Save(); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if _, err := os.Stat(c.Path); !os.IsNotExist(err) {
			t.Error("Expected index.json NOT to exist")
		}
	})

	t.Run("Round Trips", func(t *testing.T) {
		tmpDir := t.TempDir()
		c := newCache(tmpDir, ".gluedoc")
		mtime := time.Now()
		c.Set("demo.glu", &indexEntry{Summary: core.Summary{ID: "demo"}, LastModified: mtime})

		if err := c.Save(); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if c.index.dirty {
			t.Error("Expected dirty to be false after save")
		}

		reloaded := newCache(tmpDir, ".gluedoc")
		if err := reloaded.Load(); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if _, hit := reloaded.Get("demo.glu", mtime); !hit {
			t.Error("Expected hit after reload with the same mtime")
		}
	})
}

func TestCache_Get_Set(t *testing.T) {
	c := newCache(t.TempDir(), ".gluedoc")

	now := time.Now()
	c.Set("demo.glu", &indexEntry{Summary: core.Summary{ID: "demo"}, LastModified: now})

	t.Run("Hit with Same Mtime", func(t *testing.T) {
		got, hit := c.Get("demo.glu", now)
		if !hit {
			t.Fatal("Expected cache hit")
		}
		if got.Summary.ID != "demo" {
			t.Errorf("Expected ID 'demo', got '%s'", got.Summary.ID)
		}
	})

	t.Run("Miss with Different Mtime", func(t *testing.T) {
		if _, hit := c.Get("demo.glu", now.Add(time.Hour)); hit {
			t.Error("Expected cache miss due to mtime mismatch")
		}
	})

	t.Run("Miss with Missing Key", func(t *testing.T) {
		if _, hit := c.Get("ghost.glu", now); hit {
			t.Error("Expected cache miss for missing key")
		}
	})
}

func TestCache_Prune(t *testing.T) {
	c := newCache(t.TempDir(), ".gluedoc")

	c.Set("keep.glu", &indexEntry{Summary: core.Summary{ID: "keep"}})
	c.Set("drop.glu", &indexEntry{Summary: core.Summary{ID: "drop"}})
	c.index.dirty = false

	c.Prune(map[string]bool{"keep.glu": true})

	if _, ok := c.Lookup("keep.glu"); !ok {
		t.Error("Expected keep.glu to remain")
	}
	if _, ok := c.Lookup("drop.glu"); ok {
		t.Error("Expected drop.glu to be removed")
	}
	if !c.index.dirty {
		t.Error("Expected dirty to be true after pruning")
	}
}

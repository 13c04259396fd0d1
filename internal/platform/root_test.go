package platform

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFindRoot(t *testing.T) {
	tests := []struct {
		name   string
		marker string
		dir    bool
	}{
		{name: "System Dir", marker: ".gluedoc", dir: true},
		{name: "Config File", marker: ConfigFileName},
		{name: "Git Checkout", marker: ".git", dir: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workspace := filepath.Join(t.TempDir(), "sessions")
			nested := filepath.Join(workspace, "2024", "march")
			if err := os.MkdirAll(nested, 0755); err != nil {
				t.Fatal(err)
			}
			marker := filepath.Join(workspace, tt.marker)
			if tt.dir {
				if err := os.Mkdir(marker, 0755); err != nil {
					t.Fatal(err)
				}
			} else if err := os.WriteFile(marker, nil, 0644); err != nil {
				t.Fatal(err)
			}

			for _, start := range []string{workspace, nested} {
				got, err := FindRoot(start)
				if err != nil {
					t.Fatalf("FindRoot(%s) failed: %v", start, err)
				}
				if filepath.Clean(got) != filepath.Clean(workspace) {
					t.Errorf("FindRoot(%s) = %s, want %s", start, got, workspace)
				}
			}
		})
	}

	t.Run("Closest Marker Wins", func(t *testing.T) {
		outer := t.TempDir()
		inner := filepath.Join(outer, "project", "sessions")
		if err := os.MkdirAll(filepath.Join(inner, ".gluedoc"), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.Mkdir(filepath.Join(outer, ".git"), 0755); err != nil {
			t.Fatal(err)
		}

		got, err := FindRoot(filepath.Join(inner, ".gluedoc"))
		if err != nil {
			t.Fatalf("FindRoot failed: %v", err)
		}
		if filepath.Clean(got) != filepath.Clean(inner) {
			t.Errorf("Expected %s, got %s", inner, got)
		}
	})
}

func TestFindRootWithoutMarker(t *testing.T) {
	// Temp dirs live outside any checkout on the test machines; skip otherwise.
	start := t.TempDir()
	if root, err := FindRoot(start); err == nil {
		t.Skipf("a marker above the temp dir was found at %s", root)
	} else if !errors.Is(err, ErrNoWorkspace) {
		t.Errorf("Expected ErrNoWorkspace, got %v", err)
	}
}

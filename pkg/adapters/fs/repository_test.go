package fs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aretw0/gluedoc/pkg/adapters/fs"
	"github.com/aretw0/gluedoc/pkg/core"
)

// setupRepo helps create a repository for testing.
// It returns the repository and the root path of the workspace.
func setupRepo(t *testing.T, opts ...func(*fs.Config)) (*fs.Repository, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "workspace")
	cfg := fs.Config{
		Path:      path,
		AutoInit:  true,
		SystemDir: ".gluedoc",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return fs.NewRepository(cfg), path
}

func session(id string) core.Session {
	s := core.NewSession(id)
	s.Dataset["data1"] = core.DatasetInfo{"primary_owner": []any{"cid1"}}
	s.Tabs = core.Tabs{{Name: "Tab 1", Items: map[string]core.ViewerItem{}}}
	return s
}

func TestInitialize(t *testing.T) {
	t.Run("Creates Directory if Missing", func(t *testing.T) {
		repo, path := setupRepo(t)

		if err := repo.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(path, ".gluedoc")); err != nil {
			t.Errorf("expected system directory to be created: %v", err)
		}
	})

	t.Run("Fails if MustExist and Missing", func(t *testing.T) {
		repo, _ := setupRepo(t, func(c *fs.Config) {
			c.MustExist = true
			c.AutoInit = false
		})

		if err := repo.Initialize(context.Background()); err == nil {
			t.Error("expected Initialize to fail when directory is missing and MustExist=true")
		}
	})

	t.Run("Ignores System Dir in Git Checkouts", func(t *testing.T) {
		repo, path := setupRepo(t)
		os.MkdirAll(filepath.Join(path, ".git"), 0755)
		os.WriteFile(filepath.Join(path, ".gitignore"), []byte("*.tmp"), 0644)

		for i := 0; i < 2; i++ {
			if err := repo.Initialize(context.Background()); err != nil {
				t.Fatalf("Initialize failed: %v", err)
			}
		}

		data, _ := os.ReadFile(filepath.Join(path, ".gitignore"))
		if got := strings.Count(string(data), ".gluedoc/"); got != 1 {
			t.Errorf("expected one ignore entry, got %d in %q", got, data)
		}
	})
}

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()

	t.Run("Defaults to .glu", func(t *testing.T) {
		repo, path := setupRepo(t)
		repo.Initialize(ctx)

		if err := repo.Save(ctx, session("demo")); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(path, "demo.glu")); err != nil {
			t.Fatalf("expected demo.glu on disk: %v", err)
		}

		got, err := repo.Get(ctx, "demo")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.ID != "demo" {
			t.Errorf("expected ID demo, got %q", got.ID)
		}
		if names := got.Tabs.Names(); len(names) != 1 || names[0] != "Tab 1" {
			t.Errorf("unexpected tabs %v", names)
		}
	})

	t.Run("Keeps Explicit Extensions", func(t *testing.T) {
		repo, path := setupRepo(t)
		repo.Initialize(ctx)

		if err := repo.Save(ctx, session("nested/demo.yaml")); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		data, err := os.ReadFile(filepath.Join(path, "nested", "demo.yaml"))
		if err != nil {
			t.Fatalf("expected nested/demo.yaml on disk: %v", err)
		}
		if !strings.Contains(string(data), "tabs:") {
			t.Errorf("expected yaml content, got %s", data)
		}
		if _, err := repo.Get(ctx, "nested/demo.yaml"); err != nil {
			t.Errorf("Get failed: %v", err)
		}
	})

	t.Run("Missing Session", func(t *testing.T) {
		repo, _ := setupRepo(t)
		repo.Initialize(ctx)

		_, err := repo.Get(ctx, "ghost")
		if !errors.Is(err, core.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Rejects IDs Outside the Workspace", func(t *testing.T) {
		repo, _ := setupRepo(t)
		repo.Initialize(ctx)

		if err := repo.Save(ctx, session("../escape")); err == nil {
			t.Error("expected error for escaping ID")
		}
		if err := repo.Save(ctx, core.Session{}); err == nil {
			t.Error("expected error for empty ID")
		}
	})

	t.Run("Read Only", func(t *testing.T) {
		repo, _ := setupRepo(t)
		repo.Initialize(ctx)
		repo.SetReadOnly(true)

		if err := repo.Save(ctx, session("demo")); !errors.Is(err, core.ErrReadOnly) {
			t.Errorf("expected ErrReadOnly, got %v", err)
		}
		if err := repo.Delete(ctx, "demo"); !errors.Is(err, core.ErrReadOnly) {
			t.Errorf("expected ErrReadOnly, got %v", err)
		}
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	repo, path := setupRepo(t)
	repo.Initialize(ctx)

	repo.Save(ctx, session("b"))
	repo.Save(ctx, session("a"))
	repo.Save(ctx, session("sub/c.json"))
	os.WriteFile(filepath.Join(path, "README.md"), []byte("# not a session"), 0644)
	os.WriteFile(filepath.Join(path, "broken.glu"), []byte("{"), 0644)
	os.WriteFile(filepath.Join(path, fs.TempFilePrefix+"123"), []byte("{}"), 0644)

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	var ids []string
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	want := []string{"a", "b", "sub/c.json"}
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, ids)
	}
	if len(list[0].Datasets) != 1 || list[0].Datasets[0] != "data1" {
		t.Errorf("unexpected summary %+v", list[0])
	}

	if _, err := os.Stat(filepath.Join(path, ".gluedoc", "index.json")); err != nil {
		t.Errorf("expected index to be persisted: %v", err)
	}

	// A second listing is served from the index and sees the same sessions.
	again, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(again) != len(list) {
		t.Errorf("expected %d summaries, got %d", len(list), len(again))
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	repo, path := setupRepo(t)
	repo.Initialize(ctx)
	repo.Save(ctx, session("demo"))

	if err := repo.Delete(ctx, "demo"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "demo.glu")); !os.IsNotExist(err) {
		t.Error("expected file to be removed")
	}
	if err := repo.Delete(ctx, "demo"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	repo, path := setupRepo(t)
	repo.Initialize(ctx)
	repo.Save(ctx, session("kept"))
	repo.Save(ctx, session("gone"))

	// Changes made behind the repository's back.
	os.Remove(filepath.Join(path, "gone.glu"))
	os.WriteFile(filepath.Join(path, "new.glu"), []byte(`{"tabs": {}}`), 0644)

	events, err := repo.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	got := map[string]core.EventType{}
	for _, e := range events {
		got[e.ID] = e.Type
	}
	if got["gone"] != core.EventDelete || got["new"] != core.EventCreate {
		t.Errorf("unexpected events %v", events)
	}
	if _, ok := got["kept"]; ok {
		t.Errorf("unchanged session reported: %v", events)
	}

	state := repo.State().(fs.RepositoryState)
	if state.LastReconcile == nil {
		t.Error("expected last reconcile to be recorded")
	}
	if state.CacheSize != 2 {
		t.Errorf("expected 2 indexed sessions, got %d", state.CacheSize)
	}
}

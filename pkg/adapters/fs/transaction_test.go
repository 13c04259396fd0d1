package fs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/gluedoc/pkg/core"
)

func TestTransaction(t *testing.T) {
	tmpDir := t.TempDir()
	repo := NewRepository(Config{
		Path:     tmpDir,
		AutoInit: true,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx := context.Background()
	if err := repo.Initialize(ctx); err != nil {
		t.Fatalf("failed to init repo: %v", err)
	}

	assertFileExists := func(id string, wantExists bool) {
		t.Helper()
		_, err := os.Stat(filepath.Join(tmpDir, id+DefaultExtension))
		exists := err == nil
		if exists != wantExists {
			t.Errorf("file %s exists: %v, want: %v", id, exists, wantExists)
		}
	}

	t.Run("Isolation and Atomicity", func(t *testing.T) {
		tx, err := repo.Begin(ctx)
		if err != nil {
			t.Fatalf("failed to begin tx: %v", err)
		}

		if err := tx.Save(ctx, core.NewSession("tx-1")); err != nil {
			t.Fatalf("failed to save in tx: %v", err)
		}
		assertFileExists("tx-1", false)

		got, err := tx.Get(ctx, "tx-1")
		if err != nil || got.ID != "tx-1" {
			t.Errorf("expected staged session, got %+v, %v", got, err)
		}

		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit failed: %v", err)
		}
		assertFileExists("tx-1", true)

		if _, ok := repo.cache.Lookup("tx-1.glu"); !ok {
			t.Error("expected committed session in the index")
		}
	})

	t.Run("Staged Delete", func(t *testing.T) {
		repo.Save(ctx, core.NewSession("tx-2"))

		tx, _ := repo.Begin(ctx)
		tx.Delete(ctx, "tx-2")
		if _, err := tx.Get(ctx, "tx-2"); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("expected ErrNotFound for staged delete, got %v", err)
		}
		assertFileExists("tx-2", true)

		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit failed: %v", err)
		}
		assertFileExists("tx-2", false)
	})

	t.Run("Rollback", func(t *testing.T) {
		tx, _ := repo.Begin(ctx)
		tx.Save(ctx, core.NewSession("tx-3"))

		if err := tx.Rollback(ctx); err != nil {
			t.Fatalf("rollback failed: %v", err)
		}
		assertFileExists("tx-3", false)

		if err := tx.Save(ctx, core.NewSession("tx-3")); !errors.Is(err, ErrTransactionClosed) {
			t.Errorf("expected ErrTransactionClosed, got %v", err)
		}
		if err := tx.Commit(ctx); !errors.Is(err, ErrTransactionClosed) {
			t.Errorf("expected ErrTransactionClosed, got %v", err)
		}
	})

	t.Run("Read Only Commit", func(t *testing.T) {
		tx, _ := repo.Begin(ctx)
		tx.Save(ctx, core.NewSession("tx-4"))

		repo.SetReadOnly(true)
		defer repo.SetReadOnly(false)

		if err := tx.Commit(ctx); !errors.Is(err, core.ErrReadOnly) {
			t.Errorf("expected ErrReadOnly, got %v", err)
		}
		assertFileExists("tx-4", false)
	})
}

package workspace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/gluedoc/pkg/adapters/fs"
	"github.com/aretw0/gluedoc/pkg/adapters/memory"
	"github.com/aretw0/gluedoc/pkg/core"
)

func newService(t *testing.T) (*Service, *memory.Repository, *memory.UpdateStore) {
	t.Helper()
	repo := memory.NewRepository()
	store := memory.NewUpdateStore()
	return New(repo, WithUpdateStore(store)), repo, store
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newService(t)

	doc, err := svc.Create(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "demo", doc.ID())

	_, err = repo.Get(ctx, "demo")
	require.NoError(t, err, "create persists an empty snapshot")

	_, err = svc.Create(ctx, "demo")
	assert.ErrorIs(t, err, core.ErrExists)

	_, err = svc.Create(ctx, "")
	assert.Error(t, err)
}

func TestOpenReferenceCounting(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	created, err := svc.Create(ctx, "demo")
	require.NoError(t, err)

	again, err := svc.Open(ctx, "demo")
	require.NoError(t, err)
	assert.Same(t, created, again)

	require.NoError(t, svc.Close(ctx, "demo"))
	assert.False(t, created.IsDisposed(), "one reference is still held")

	require.NoError(t, svc.Close(ctx, "demo"))
	assert.True(t, created.IsDisposed())
	_, ok := svc.Document("demo")
	assert.False(t, ok)

	assert.ErrorIs(t, svc.Close(ctx, "demo"), core.ErrNotFound)
}

func TestOpenMissing(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Open(context.Background(), "ghost")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestHistorySurvivesReopen(t *testing.T) {
	ctx := context.Background()
	svc, _, store := newService(t)

	doc, err := svc.Create(ctx, "demo")
	require.NoError(t, err)
	tab := doc.AddTab()
	require.NoError(t, doc.SetTabItem(tab, "v1", core.NewViewerItem("scatter", [2]float64{1, 2}, [2]float64{3, 4}, "data1")))
	require.NoError(t, svc.Close(ctx, "demo"))

	history, err := store.Updates(ctx, "demo")
	require.NoError(t, err)
	assert.Len(t, history, 2, "one update per transaction")

	// The snapshot was never saved, the history alone rebuilds the document.
	reopened, err := svc.Open(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"Tab 1"}, reopened.TabNames())
	assert.Equal(t, "scatter", reopened.TabItem(tab, "v1").Type())
}

func TestSaveCompacts(t *testing.T) {
	ctx := context.Background()
	svc, repo, store := newService(t)

	doc, err := svc.Create(ctx, "demo")
	require.NoError(t, err)
	doc.AddTab()
	doc.AddTab()
	require.NoError(t, doc.SetDataset("data1", core.DatasetInfo{"primary_owner": []any{"cid1"}}))

	require.NoError(t, svc.Save(ctx, "demo"))

	history, err := store.Updates(ctx, "demo")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	snap, err := repo.Get(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"Tab 1", "Tab 2"}, snap.Tabs.Names())
	assert.Contains(t, snap.Dataset, "data1")

	assert.ErrorIs(t, svc.Save(ctx, "ghost"), core.ErrNotFound)
}

func TestOpenFromSnapshotStartsHistory(t *testing.T) {
	ctx := context.Background()
	svc, repo, store := newService(t)

	s := core.NewSession("imported")
	s.Tabs = core.Tabs{{Name: "Main", Items: map[string]core.ViewerItem{}}}
	require.NoError(t, repo.Save(ctx, s))

	doc, err := svc.Open(ctx, "imported")
	require.NoError(t, err)
	assert.Equal(t, []string{"Main"}, doc.TabNames())

	history, err := store.Updates(ctx, "imported")
	require.NoError(t, err)
	assert.Len(t, history, 1, "the snapshot becomes the first history entry")
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc, repo, store := newService(t)

	doc, err := svc.Create(ctx, "demo")
	require.NoError(t, err)
	doc.AddTab()

	require.NoError(t, svc.Delete(ctx, "demo"))
	assert.True(t, doc.IsDisposed())

	_, err = repo.Get(ctx, "demo")
	assert.ErrorIs(t, err, core.ErrNotFound)
	history, _ := store.Updates(ctx, "demo")
	assert.Empty(t, history)
}

func TestWithoutUpdateStore(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.NewRepository())

	doc, err := svc.Create(ctx, "demo")
	require.NoError(t, err)
	doc.AddTab()
	require.NoError(t, svc.Save(ctx, "demo"))
	require.NoError(t, svc.Close(ctx, "demo"))

	reopened, err := svc.Open(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"Tab 1"}, reopened.TabNames())
}

func TestTransactionsAndWatchNeedSupport(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.NewRepository())

	err := svc.WithTransaction(ctx, func(core.Transaction) error { return nil })
	assert.ErrorIs(t, err, core.ErrUnsupported)

	_, err = svc.Watch(ctx, "")
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestWithTransaction(t *testing.T) {
	ctx := context.Background()
	repo := fs.NewRepository(fs.Config{Path: t.TempDir()})
	svc := New(repo)
	require.NoError(t, svc.Initialize(ctx))

	err := svc.WithTransaction(ctx, func(tx core.Transaction) error {
		if err := tx.Save(ctx, core.NewSession("a")); err != nil {
			return err
		}
		return tx.Save(ctx, core.NewSession("b"))
	})
	require.NoError(t, err)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	boom := errors.New("boom")
	err = svc.WithTransaction(ctx, func(tx core.Transaction) error {
		_ = tx.Save(ctx, core.NewSession("c"))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	list, _ = svc.List(ctx)
	assert.Len(t, list, 2, "rolled back sessions are not written")
}

func TestWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := fs.NewRepository(fs.Config{Path: t.TempDir()})
	svc := New(repo, WithEventBuffer(4))
	require.NoError(t, svc.Initialize(ctx))

	events, err := svc.Watch(ctx, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return repo.State().(fs.RepositoryState).WatcherActive
	}, 2*time.Second, 10*time.Millisecond)

	_, err = svc.Create(ctx, "watched")
	require.NoError(t, err)

	select {
	case e := <-events:
		assert.Equal(t, "watched", e.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestState(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	_, err := svc.Create(ctx, "b")
	require.NoError(t, err)
	_, err = svc.Open(ctx, "b")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "a")
	require.NoError(t, err)

	state := svc.State().(ServiceState)
	assert.Equal(t, []string{"a", "b"}, state.OpenSessions)
	assert.Equal(t, 2, state.References["b"])
	assert.True(t, state.UpdateStore)
	assert.Equal(t, "workspace", svc.ComponentType())
}

func TestShutdown(t *testing.T) {
	ctx := context.Background()
	svc, _, store := newService(t)
	doc, err := svc.Create(ctx, "demo")
	require.NoError(t, err)

	require.NoError(t, svc.Shutdown(ctx))
	assert.True(t, doc.IsDisposed())
	assert.ErrorIs(t, store.AppendUpdate(ctx, "demo", []byte("x")), core.ErrClosed)
}

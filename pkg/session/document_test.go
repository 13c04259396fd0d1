package session

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/gluedoc/pkg/core"
	"github.com/aretw0/gluedoc/pkg/crdt"
)

const scatter = "glue_jupyter.bqplot.scatter.viewer.BqplotScatterView"

func item(layer string) core.ViewerItem {
	return core.NewViewerItem(scatter, [2]float64{0, 0}, [2]float64{400, 300}, layer)
}

func setupDoc(t *testing.T) *Document {
	t.Helper()
	d := New("demo.glu")
	t.Cleanup(d.Dispose)
	return d
}

func TestMoveTabItemIsAtomic(t *testing.T) {
	d := setupDoc(t)
	t1, t2 := d.AddTab(), d.AddTab()
	require.NoError(t, d.SetTabItem(t1, "viewer", item("w5")))
	before := d.TabItem(t1, "viewer")

	updates := 0
	d.OnUpdate(func(crdt.Update, any) { updates++ })

	var seen []string
	d.TabChanged.Connect(func(c core.TabChange) {
		seen = append(seen, c.Tab)
		// Whatever tab reports first, the item is already in exactly one place.
		inFrom := len(d.TabItem(t1, "viewer")) > 0
		inTo := len(d.TabItem(t2, "viewer")) > 0
		assert.True(t, inFrom != inTo, "item must be in exactly one tab")
		assert.True(t, inTo)
	})

	require.True(t, d.MoveTabItem("viewer", t1, t2))

	assert.Equal(t, core.ViewerItem{}, d.TabItem(t1, "viewer"))
	assert.Equal(t, before, d.TabItem(t2, "viewer"))
	assert.ElementsMatch(t, []string{t1, t2}, seen)
	assert.Equal(t, 1, updates)
}

func TestMoveTabItemGuards(t *testing.T) {
	d := setupDoc(t)
	t1, t2 := d.AddTab(), d.AddTab()
	require.NoError(t, d.SetTabItem(t1, "viewer", item("w5")))

	fired := 0
	d.TabChanged.Connect(func(core.TabChange) { fired++ })

	assert.False(t, d.MoveTabItem("missing", t1, t2))
	assert.False(t, d.MoveTabItem("viewer", t1, "Tab 99"))
	assert.False(t, d.MoveTabItem("viewer", "Tab 99", t2))
	assert.False(t, d.MoveTabItem("viewer", t1, t1))
	assert.Equal(t, 0, fired)
	assert.Equal(t, item("w5").Type(), d.TabItem(t1, "viewer").Type())
}

func TestAddTabUsesSmallestUnusedNumber(t *testing.T) {
	d := setupDoc(t)
	for i := 0; i < 3; i++ {
		d.AddTab()
	}
	assert.Equal(t, []string{"Tab 1", "Tab 2", "Tab 3"}, d.TabNames())

	d2 := setupDoc(t)
	assert.Equal(t, "Tab 1", d2.AddTab())
	assert.Equal(t, "Tab 2", d2.AddTab())
	d2.RemoveTab("Tab 1")
	assert.Equal(t, []string{"Tab 2"}, d2.TabNames())
	assert.Equal(t, "Tab 1", d2.AddTab())
	assert.ElementsMatch(t, []string{"Tab 1", "Tab 2"}, d2.TabNames())
	assert.Equal(t, "Tab 3", d2.AddTab())
}

func TestRemoveMissingTabIsNoop(t *testing.T) {
	d := setupDoc(t)
	d.AddTab()
	fired := false
	d.TabsChanged.Connect(func(core.TabsChange) { fired = true })
	d.RemoveTab("Tab 42")
	assert.False(t, fired)
	assert.Equal(t, []string{"Tab 1"}, d.TabNames())
}

func TestAddLinkNaming(t *testing.T) {
	d := setupDoc(t)
	link := core.IdentityLink("w5", "ra", "RA", "w6", "ra_2", "RA")

	require.NoError(t, d.SetLink("ComponentLink", link))
	require.NoError(t, d.SetLink("ComponentLink_2", link))

	name, err := d.AddLink(link)
	require.NoError(t, err)
	assert.Equal(t, "ComponentLink_3", name)

	got, ok := d.GetLink(name)
	require.True(t, ok)
	assert.Equal(t, link, got)
	assert.Equal(t, []string{"ComponentLink", "ComponentLink_2", "ComponentLink_3"}, d.LinkNames())
}

func TestUniqueName(t *testing.T) {
	tests := []struct {
		existing []string
		base     string
		want     string
	}{
		{nil, "ComponentLink", "ComponentLink"},
		{[]string{"ComponentLink"}, "ComponentLink", "ComponentLink_1"},
		{[]string{"ComponentLink", "ComponentLink_2"}, "ComponentLink", "ComponentLink_3"},
		{[]string{"ComponentLink_7", "ComponentLinkX", "Other_9"}, "ComponentLink", "ComponentLink_8"},
		{[]string{"a.b"}, "a.b", "a.b_1"},
		{[]string{"aXb"}, "a.b", "a.b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UniqueName(tt.existing, tt.base), "existing=%v", tt.existing)
	}
}

func TestLinkBase(t *testing.T) {
	assert.Equal(t, "ComponentLink", LinkBase(core.IdentityLink("a", "x", "x", "b", "y", "y")))
	assert.Equal(t, "Galactic_to_FK5", LinkBase(core.Link{Type: "glue.plugins.coordinate_helpers.link_helpers.Galactic_to_FK5"}))
	assert.Equal(t, "ComponentLink", LinkBase(core.Link{}))
}

func TestSetTabItemOnMissingTabIsSilent(t *testing.T) {
	d := setupDoc(t)
	d.AddTab()

	tabChanged, tabsChanged := 0, 0
	d.TabChanged.Connect(func(core.TabChange) { tabChanged++ })
	d.TabsChanged.Connect(func(core.TabsChange) { tabsChanged++ })

	require.NoError(t, d.SetTabItem("Tab 9", "viewer", item("w5")))

	assert.Equal(t, []string{"Tab 1"}, d.TabNames())
	assert.Equal(t, 0, tabChanged)
	assert.Equal(t, 0, tabsChanged)
	_, ok := d.TabData("Tab 9")
	assert.False(t, ok)
}

func TestTransactionCoalescesTabChanged(t *testing.T) {
	d := setupDoc(t)
	tab := d.AddTab()

	var changes []core.TabChange
	d.TabChanged.Connect(func(c core.TabChange) { changes = append(changes, c) })
	tabsChanged := 0
	d.TabsChanged.Connect(func(core.TabsChange) { tabsChanged++ })

	err := d.Transact(func(tx *Txn) error {
		for _, id := range []string{"a", "b", "c"} {
			if err := tx.SetTabItem(tab, id, item(id)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	require.Len(t, changes, 1)
	assert.Equal(t, tab, changes[0].Tab)
	assert.Len(t, changes[0].Items, 3)
	assert.Equal(t, 0, tabsChanged)
}

func TestTabsChangedReportsNameChanges(t *testing.T) {
	d := setupDoc(t)
	var got []core.TabsChange
	d.TabsChanged.Connect(func(c core.TabsChange) { got = append(got, c) })

	d.AddTab()
	d.AddTab()
	d.RemoveTab("Tab 1")

	require.Len(t, got, 3)
	assert.Equal(t, []string{"Tab 1"}, got[0].Added)
	assert.Equal(t, []string{"Tab 1", "Tab 2"}, got[1].Names)
	assert.Equal(t, []string{"Tab 1"}, got[2].Removed)
	assert.Equal(t, []string{"Tab 2"}, got[2].Names)
}

func TestMapSignals(t *testing.T) {
	d := setupDoc(t)
	counts := map[string]int{}
	d.ContentsChanged.Connect(func(core.MapChange) { counts["contents"]++ })
	d.AttributesChanged.Connect(func(core.MapChange) { counts["attributes"]++ })
	d.DatasetChanged.Connect(func(core.MapChange) { counts["dataset"]++ })
	var links core.MapChange
	d.LinksChanged.Connect(func(c core.MapChange) { counts["links"]++; links = c })

	require.NoError(t, d.Transact(func(tx *Txn) error {
		if err := tx.SetValue("__main__", map[string]any{"_type": "glue.app"}); err != nil {
			return err
		}
		if err := tx.SetValue("w5", map[string]any{"label": "w5"}); err != nil {
			return err
		}
		if err := tx.SetAttribute("ra", core.Attribute{"label": "RA"}); err != nil {
			return err
		}
		if err := tx.SetDataset("w5", core.DatasetInfo{"primary_owner": []string{"ra"}}); err != nil {
			return err
		}
		_, err := tx.AddLink(core.IdentityLink("w5", "ra", "RA", "w6", "ra", "RA"))
		return err
	}))

	assert.Equal(t, map[string]int{"contents": 1, "attributes": 1, "dataset": 1, "links": 1}, counts)
	assert.Equal(t, "add", links.Keys["ComponentLink"].Action)

	d.RemoveLink("ComponentLink")
	assert.Equal(t, "delete", links.Keys["ComponentLink"].Action)
	d.RemoveLink("ComponentLink")
	assert.Equal(t, 2, counts["links"])
}

func TestGettersReturnCopies(t *testing.T) {
	d := setupDoc(t)
	tab := d.AddTab()
	require.NoError(t, d.SetTabItem(tab, "v", item("w5")))
	require.NoError(t, d.SetAttribute("ra", core.Attribute{"label": "RA"}))
	require.NoError(t, d.SetDataset("w5", core.DatasetInfo{"primary_owner": []string{"ra"}}))
	require.NoError(t, d.SetValue("cfg", map[string]any{"a": []any{1}}))

	d.Attributes()["ra"]["label"] = "changed"
	d.Dataset()["w5"]["primary_owner"] = nil
	d.TabItem(tab, "v")["_type"] = "other"
	data, _ := d.TabData(tab)
	data["v"]["pos"] = nil
	v, _ := d.GetValue("cfg")
	v.(map[string]any)["a"] = "x"
	d.Contents()["cfg"] = nil

	assert.Equal(t, "RA", d.Attributes()["ra"].Label())
	assert.Equal(t, []string{"ra"}, d.Dataset()["w5"].PrimaryOwner())
	assert.Equal(t, scatter, d.TabItem(tab, "v").Type())
	assert.Equal(t, [2]float64{0, 0}, d.TabItem(tab, "v").Pos())
	again, _ := d.GetValue("cfg")
	assert.Equal(t, map[string]any{"a": []any{1.0}}, again)
}

func TestTabItemMissingIsEmpty(t *testing.T) {
	d := setupDoc(t)
	tab := d.AddTab()
	assert.Equal(t, core.ViewerItem{}, d.TabItem(tab, "missing"))
	assert.NotNil(t, d.TabItem("Tab 9", "missing"))
}

func TestUpdateTabItemMerges(t *testing.T) {
	d := setupDoc(t)
	tab := d.AddTab()
	require.NoError(t, d.SetTabItem(tab, "v", item("w5")))

	require.NoError(t, d.UpdateTabItem(tab, "v", map[string]any{"pos": []any{10, 20}}))
	got := d.TabItem(tab, "v")
	assert.Equal(t, [2]float64{10, 20}, got.Pos())
	assert.Equal(t, scatter, got.Type())
	layer, _ := got.Layer()
	assert.Equal(t, "w5", layer)

	fired := 0
	d.TabChanged.Connect(func(core.TabChange) { fired++ })
	require.NoError(t, d.UpdateTabItem(tab, "missing", map[string]any{"pos": []any{1, 1}}))
	assert.Equal(t, 0, fired)
	assert.Equal(t, core.ViewerItem{}, d.TabItem(tab, "missing"))
}

func TestRemoveTabItem(t *testing.T) {
	d := setupDoc(t)
	tab := d.AddTab()
	require.NoError(t, d.SetTabItem(tab, "v", item("w5")))
	d.RemoveTabItem(tab, "v")
	d.RemoveTabItem(tab, "v")
	d.RemoveTabItem("Tab 9", "v")
	items, ok := d.TabData(tab)
	require.True(t, ok)
	assert.Empty(t, items)
}

func TestSnapshotRoundTrip(t *testing.T) {
	d := setupDoc(t)
	require.NoError(t, d.SetValue("__main__", map[string]any{"_type": "glue.core.application_base.Application"}))
	require.NoError(t, d.SetAttribute("ra", core.Attribute{"label": "RA"}))
	require.NoError(t, d.SetDataset("w5", core.DatasetInfo{"primary_owner": []string{"ra", "dec"}}))
	link := core.IdentityLink("w5", "ra", "RA", "w6", "ra", "RA")
	link.Cids1 = []string{"z", "a", "m"}
	require.NoError(t, d.SetLink("ComponentLink", link))
	t2 := d.AddTab()
	t1 := d.AddTab()
	require.NoError(t, d.SetTabItem(t2, "v", item("w5")))
	require.NoError(t, d.SetTabItem(t1, "w", item("")))

	data, err := json.Marshal(d.Snapshot())
	require.NoError(t, err)
	var s core.Session
	require.NoError(t, json.Unmarshal(data, &s))
	s.ID = "copy.glu"

	clone, err := FromSnapshot(s)
	require.NoError(t, err)
	defer clone.Dispose()

	want, got := d.Snapshot(), clone.Snapshot()
	assert.Equal(t, want.Contents, got.Contents)
	assert.Equal(t, want.Attributes, got.Attributes)
	assert.Equal(t, want.Dataset, got.Dataset)
	assert.Equal(t, want.Links, got.Links)
	assert.Equal(t, want.Tabs, got.Tabs)
	assert.Equal(t, []string{"z", "a", "m"}, got.Links["ComponentLink"].Cids1)
	assert.Equal(t, "copy.glu", got.ID)
}

func TestLoadReplacesContent(t *testing.T) {
	d := setupDoc(t)
	d.AddTab()
	d.AddTab()
	require.NoError(t, d.SetValue("stale", true))

	s := core.NewSession("demo.glu")
	s.Contents["fresh"] = 1
	s.Tabs = core.Tabs{{Name: "Tab 2", Items: map[string]core.ViewerItem{"v": item("w5")}}}
	require.NoError(t, d.Load(s))

	assert.Equal(t, map[string]any{"fresh": 1.0}, d.Contents())
	assert.Equal(t, []string{"Tab 2"}, d.TabNames())
	assert.Equal(t, scatter, d.TabItem("Tab 2", "v").Type())
}

func TestSelectedTabIsPerClient(t *testing.T) {
	a := New("demo.glu", WithClientID("a"))
	b := New("demo.glu", WithClientID("b"))
	defer a.Dispose()
	defer b.Dispose()

	a.SetSelectedTab(2, "panel")
	b.Awareness().ApplyUpdate(a.Awareness().EncodeUpdate(), "relay")

	_, ok := b.SelectedTab()
	assert.False(t, ok)

	b.SetSelectedTab(1, "panel")
	a.Awareness().ApplyUpdate(b.Awareness().EncodeUpdate(), "relay")

	got, ok := a.SelectedTab()
	require.True(t, ok)
	assert.Equal(t, 2, got)
	got, _ = b.SelectedTab()
	assert.Equal(t, 1, got)
	assert.Equal(t, 2.0, b.Awareness().States()["a"][selectedTabField])
}

func TestLocalStateChangedFiresOnRepublish(t *testing.T) {
	d := setupDoc(t)
	var got []core.LocalStateChange
	d.LocalStateChanged.Connect(func(c core.LocalStateChange) { got = append(got, c) })

	d.SetSelectedTab(1, "toolbar")
	d.SetSelectedTab(1, "toolbar")

	require.Len(t, got, 2)
	assert.Equal(t, core.LocalStateChange{Keys: []string{"selectedTab"}, Emitter: "toolbar"}, got[1])
}

func TestDisposeGuardsMutations(t *testing.T) {
	d := New("demo.glu")
	tab := d.AddTab()
	fired := 0
	d.TabsChanged.Connect(func(core.TabsChange) { fired++ })
	d.LocalStateChanged.Connect(func(core.LocalStateChange) { fired++ })

	d.Dispose()
	d.Dispose()
	assert.True(t, d.IsDisposed())

	assert.Equal(t, "", d.AddTab())
	d.RemoveTab(tab)
	assert.NoError(t, d.SetValue("k", 1))
	assert.NoError(t, d.SetTabItem(tab, "v", item("w5")))
	assert.False(t, d.MoveTabItem("v", tab, "Tab 2"))
	d.SetSelectedTab(3, "late")
	name, err := d.AddLink(core.Link{})
	assert.NoError(t, err)
	assert.Equal(t, "", name)

	assert.Equal(t, 0, fired)
	assert.Equal(t, []string{tab}, d.TabNames())
	_, ok := d.GetValue("k")
	assert.False(t, ok)
	assert.Equal(t, 0, d.TabsChanged.Len())
}

func TestRemoteUpdatesDriveSignals(t *testing.T) {
	a := New("demo.glu", WithClientID("a"))
	b := New("demo.glu", WithClientID("b"))
	defer a.Dispose()
	defer b.Dispose()
	a.OnUpdate(func(u crdt.Update, origin any) {
		require.NoError(t, b.ApplyUpdate(u, a))
	})

	var tabs []core.TabsChange
	var tab []core.TabChange
	b.TabsChanged.Connect(func(c core.TabsChange) { tabs = append(tabs, c) })
	b.TabChanged.Connect(func(c core.TabChange) { tab = append(tab, c) })

	name := a.AddTab()
	require.NoError(t, a.SetTabItem(name, "v", item("w5")))

	require.Len(t, tabs, 1)
	require.Len(t, tab, 1)
	assert.Equal(t, name, tab[0].Tab)
	assert.Equal(t, a.Snapshot().Tabs, b.Snapshot().Tabs)
}

func TestSignalHandlersMayMutate(t *testing.T) {
	d := setupDoc(t)
	d.TabsChanged.Connect(func(c core.TabsChange) {
		for _, name := range c.Added {
			require.NoError(t, d.SetTabItem(name, "placeholder", item("")))
		}
	})
	tab := d.AddTab()
	assert.Equal(t, scatter, d.TabItem(tab, "placeholder").Type())
}

func TestFailedTransactionChangesNothing(t *testing.T) {
	d := setupDoc(t)
	first := d.AddTab()
	require.NoError(t, d.SetTabItem(first, "v1", item("data1")))
	before := d.Snapshot()

	updates, signals := 0, 0
	d.OnUpdate(func(crdt.Update, any) { updates++ })
	d.TabsChanged.Connect(func(core.TabsChange) { signals++ })
	d.TabChanged.Connect(func(core.TabChange) { signals++ })
	d.ContentsChanged.Connect(func(core.MapChange) { signals++ })

	boom := errors.New("boom")
	err := d.Transact(func(tx *Txn) error {
		second := tx.AddTab()
		tx.MoveTabItem("v1", first, second)
		if err := tx.SetValue("title", "half done"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, before, d.Snapshot())
	assert.Equal(t, []string{first}, d.TabNames())
	assert.Equal(t, 0, updates)
	assert.Equal(t, 0, signals)

	// A value that cannot be encoded aborts the same way.
	assert.Error(t, d.SetValue("bad", make(chan int)))
	_, ok := d.GetValue("bad")
	assert.False(t, ok)
	assert.Equal(t, 0, updates)
}

func TestState(t *testing.T) {
	d := New("demo.glu", WithClientID("a"))
	d.AddTab()
	d.TabChanged.Connect(func(core.TabChange) {})

	st := d.State().(DocumentState)
	assert.Equal(t, "demo.glu", st.ID)
	assert.Equal(t, "a", st.ClientID)
	assert.Equal(t, []string{"Tab 1"}, st.Tabs)
	assert.Equal(t, 1, st.Subscribers["tabChanged"])
	assert.Equal(t, "session", d.ComponentType())
	d.Dispose()
	assert.True(t, d.State().(DocumentState).Disposed)
}

func TestFailedLoadLeavesDocumentUntouched(t *testing.T) {
	d := setupDoc(t)
	tab := d.AddTab()
	require.NoError(t, d.SetTabItem(tab, "v1", item("data1")))
	require.NoError(t, d.SetValue("title", "kept"))
	before := d.Snapshot()

	updates := 0
	d.OnUpdate(func(crdt.Update, any) { updates++ })

	s := core.NewSession("demo.glu")
	s.Contents["ok"] = "fine"
	s.Contents["bad"] = make(chan int)
	assert.Error(t, d.Load(s))

	assert.Equal(t, before, d.Snapshot())
	assert.Equal(t, 0, updates)
}

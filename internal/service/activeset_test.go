package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-atlas/internal/urlstate"
)

func payload(layers ...Layer) CatalogPayload {
	p := CatalogPayload{Entities: CatalogEntities{Layers: map[string]Layer{}, Sources: map[string]Source{}}}
	for _, l := range layers {
		p.Entities.Layers[l.ID] = l
		p.Result = append(p.Result, l.ID)
	}
	return p
}

func lyr(id string, defaultActive bool) Layer {
	return Layer{ID: id, GroupID: "10", Published: true, DefaultActive: defaultActive, Opacity: 1}
}

func loadedState(t *testing.T, ids ...string) *MapState {
	t.Helper()
	layers := make([]Layer, 0, len(ids))
	for _, id := range ids {
		layers = append(layers, lyr(id, false))
	}
	s := NewMapState()
	s.LoadCatalog(payload(layers...))
	return s
}

func TestMapState_concreteScenario(t *testing.T) {
	s := NewMapState()
	s.LoadCatalog(payload(lyr("1", true), lyr("2", false)))
	assert.Equal(t, []string{"1"}, s.ActiveIDs())

	on, err := s.Toggle("2")
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, []string{"2", "1"}, s.ActiveIDs())

	require.NoError(t, s.Reorder(0, 1))
	assert.Equal(t, []string{"1", "2"}, s.ActiveIDs())
}

func TestMapState_toggleIdempotent(t *testing.T) {
	s := loadedState(t, "a", "b", "c", "d")
	s.SetActives([]string{"c", "a"})

	for _, id := range []string{"b", "d"} {
		before := s.ActiveIDs()
		on, err := s.Toggle(id)
		require.NoError(t, err)
		assert.True(t, on)
		on, err = s.Toggle(id)
		require.NoError(t, err)
		assert.False(t, on)
		assert.Equal(t, before, s.ActiveIDs(), id)
	}
}

func TestMapState_toggleUnknownAfterLoad(t *testing.T) {
	s := loadedState(t, "a")

	_, err := s.Toggle("zzz")
	assert.ErrorIs(t, err, ErrLayerNotFound)
	assert.Empty(t, s.ActiveIDs())
}

func TestMapState_noDuplicates(t *testing.T) {
	s := NewMapState()
	s.Hydrate([]string{"x", "a", "x", "a"}, nil, nil)
	assert.Equal(t, []string{"x", "a"}, s.ActiveIDs())

	ops := []string{"a", "b", "a", "c", "b", "b", "c", "a"}
	s.LoadCatalog(payload(lyr("a", true), lyr("b", true), lyr("c", false)))
	for i, id := range ops {
		_, err := s.Toggle(id)
		require.NoError(t, err)
		if i%3 == 0 {
			s.LoadCatalog(payload(lyr("a", true), lyr("b", true), lyr("c", false)))
		}
		ids := s.ActiveIDs()
		seen := map[string]bool{}
		for _, v := range ids {
			require.False(t, seen[v], "duplicate %s in %v", v, ids)
			seen[v] = true
		}
	}
}

func TestMapState_compareAwareInsert(t *testing.T) {
	s := loadedState(t, "L", "R", "o", "X")
	s.SetActives([]string{"L", "R", "o"})
	s.EnableCompare()
	s.SetLeft("L")
	s.SetRight("R")
	require.True(t, s.Compare().Ready())

	_, err := s.Toggle("X")
	require.NoError(t, err)
	assert.Equal(t, []string{"L", "R", "X", "o"}, s.ActiveIDs())
}

func TestMapState_toggleOffComparedLayerDisablesCompare(t *testing.T) {
	s := loadedState(t, "L", "R")
	s.SetActives([]string{"L", "R"})
	s.EnableCompare()
	s.SetLeft("L")
	s.SetRight("R")

	on, err := s.Toggle("R")
	require.NoError(t, err)
	assert.False(t, on)
	assert.Equal(t, []string{"L"}, s.ActiveIDs())
	c := s.Compare()
	assert.False(t, c.Enabled)
	assert.Empty(t, c.LeftLayerID)
	assert.Empty(t, c.RightLayerID)
}

func TestMapState_pruneOnReload(t *testing.T) {
	s := NewMapState()
	s.Hydrate([]string{"gone", "3", "1"}, map[string]PersistedLayerEntry{
		"gone": {Opacity: ptr(0.2)},
		"3":    {Opacity: ptr(0.4)},
	}, &CompareState{Enabled: true, LeftLayerID: "gone", RightLayerID: "3", SliderPosition: 30})

	s.LoadCatalog(payload(lyr("1", false), lyr("2", true), lyr("3", false), lyr("4", true)))

	assert.Equal(t, []string{"3", "1", "2", "4"}, s.ActiveIDs())
	assert.NotContains(t, s.Overrides(), "gone")
	c := s.Compare()
	assert.Empty(t, c.LeftLayerID)
	assert.Equal(t, "3", c.RightLayerID)
	assert.Equal(t, float64(30), c.SliderPosition)

	layers := s.Actives()
	require.Len(t, layers, 4)
	assert.InDelta(t, 0.4, layers[0].Opacity, 1e-9)
	assert.InDelta(t, 1.0, layers[1].Opacity, 1e-9)
}

func TestMapState_reorderOutOfRange(t *testing.T) {
	s := loadedState(t, "a", "b")
	s.SetActives([]string{"a", "b"})

	for _, mv := range [][2]int{{-1, 0}, {0, 2}, {2, 0}, {0, -1}} {
		err := s.Reorder(mv[0], mv[1])
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
	}
	assert.Equal(t, []string{"a", "b"}, s.ActiveIDs())
}

func TestMapState_reorderMovesSingleElement(t *testing.T) {
	s := loadedState(t, "a", "b", "c", "d")
	s.SetActives([]string{"a", "b", "c", "d"})

	require.NoError(t, s.Reorder(3, 1))
	assert.Equal(t, []string{"a", "d", "b", "c"}, s.ActiveIDs())
	require.NoError(t, s.Reorder(0, 3))
	assert.Equal(t, []string{"d", "b", "c", "a"}, s.ActiveIDs())
}

func TestMapState_fieldUpdatesIgnoreInactive(t *testing.T) {
	s := loadedState(t, "a", "b")
	s.SetActives([]string{"a"})

	assert.False(t, s.SetOpacity("b", 0.5))
	assert.False(t, s.SetDate("b", "2020-01-01"))
	assert.False(t, s.SetChartLimit("b", 3))
	assert.Empty(t, s.Overrides())

	assert.True(t, s.SetOpacity("a", 1.7))
	assert.True(t, s.SetDate("a", "2020-01-01"))
	assert.True(t, s.SetChartLimit("a", 3))

	got := s.Actives()[0]
	assert.Equal(t, 1.0, got.Opacity)
	require.NotNil(t, got.Date)
	assert.Equal(t, "2020-01-01", *got.Date)
	require.NotNil(t, got.ChartLimit)
	assert.Equal(t, 3, *got.ChartLimit)

	s.SetOpacity("a", -3)
	assert.Equal(t, 0.0, s.Actives()[0].Opacity)

	assert.True(t, s.SetDate("a", ""))
	assert.Nil(t, s.Overrides()["a"].Date)
	assert.NotContains(t, urlstate.EncodeLayers(s.Persisted()), `"date"`)
}

func TestMapState_setActives(t *testing.T) {
	s := loadedState(t, "a", "b")
	s.SetActives([]string{"b", "nope", "b", "a"})
	assert.Equal(t, []string{"b", "a"}, s.ActiveIDs())
}

func TestMapState_persisted(t *testing.T) {
	s := loadedState(t, "a", "b")
	s.SetActives([]string{"b", "a"})
	s.SetOpacity("a", 0.25)

	assert.Equal(t, []PersistedLayerEntry{
		{ID: "b"},
		{ID: "a", Opacity: ptr(0.25)},
	}, s.Persisted())
}

func TestMapState_moveCompareLayersToTop(t *testing.T) {
	s := loadedState(t, "a", "b", "c", "d")
	s.SetActives([]string{"a", "b", "c", "d"})

	s.MoveCompareLayersToTop("c", "a")
	assert.Equal(t, []string{"c", "a", "b", "d"}, s.ActiveIDs())

	s.MoveCompareLayersToTop("c", "a")
	assert.Equal(t, []string{"c", "a", "b", "d"}, s.ActiveIDs())

	s.MoveCompareLayersToTop("c", "missing")
	assert.Equal(t, []string{"c", "a", "b", "d"}, s.ActiveIDs())
}

func ptr[T any](v T) *T { return &v }

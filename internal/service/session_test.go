package service

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-atlas/internal/urlstate"
)

func staticFetcher(c Catalog) Fetcher {
	return FetcherFunc(func(context.Context, string, string) (Catalog, error) { return c, nil })
}

func newTestManager(t *testing.T, f Fetcher) (*SessionManager, *EventBus) {
	t.Helper()
	bus := NewEventBus()
	t.Cleanup(bus.Close)
	m := NewSessionManager(f, bus, zerolog.Nop(), nil, SessionOptions{
		Scope:   "global",
		Locale:  "en",
		URLWait: 10 * time.Millisecond,
	})
	return m, bus
}

func TestSession_hydrateFromURL(t *testing.T) {
	cat := testCatalog(lyr("1", true), lyr("2", false), lyr("3", false))
	m, _ := newTestManager(t, staticFetcher(cat))

	q := url.Values{}
	q.Set(urlstate.ParamLayers, `[{"id":"3","opacity":0.3},{"id":"ghost"},{"id":"2"}]`)
	q.Set(urlstate.ParamCompare, `{"enabled":true,"left":"3","right":"2","pos":20}`)
	q.Set(ParamLocale, "es")

	s, err := m.Create(context.Background(), q)
	require.NoError(t, err)

	v := s.View()
	assert.Equal(t, []string{"3", "2", "1"}, v.Active)
	assert.Equal(t, "global", v.Scope)
	assert.Equal(t, "es", v.Locale)
	assert.True(t, v.Compare.Ready())
	assert.Equal(t, float64(20), v.Compare.SliderPosition)
	require.Len(t, v.Layers, 3)
	assert.InDelta(t, 0.3, v.Layers[0].Opacity, 1e-9)
	assert.True(t, v.Catalog.Loaded)
}

func TestSession_mutationsMirrorToURL(t *testing.T) {
	cat := testCatalog(lyr("1", true), lyr("2", false))
	m, bus := newTestManager(t, staticFetcher(cat))
	events := bus.Subscribe()

	s, err := m.Create(context.Background(), url.Values{})
	require.NoError(t, err)

	on, err := s.Toggle("2")
	require.NoError(t, err)
	assert.True(t, on)
	require.NoError(t, s.SetOpacity("2", 0.5))
	require.NoError(t, s.Reorder(0, 1))

	s.FlushURL()
	got := urlstate.DecodeLayers(s.URL().Get(urlstate.ParamLayers))
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "2", got[1].ID)
	require.NotNil(t, got[1].Opacity)
	assert.InDelta(t, 0.5, *got[1].Opacity, 1e-9)
	assert.Empty(t, s.URL().Get(urlstate.ParamCompare))

	var actions []string
	for len(events) > 0 {
		e := <-events
		if e.ID == s.ID && e.Resource == "session" {
			actions = append(actions, e.Action)
		}
	}
	assert.Contains(t, actions, "created")
	assert.Contains(t, actions, "toggled")
	assert.Contains(t, actions, "opacity")
	assert.Contains(t, actions, "reordered")
}

func TestSession_compareFlow(t *testing.T) {
	cat := testCatalog(lyr("1", true), lyr("2", true), lyr("3", true))
	m, _ := newTestManager(t, staticFetcher(cat))
	s, err := m.Create(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2", "3"}, s.View().Active)

	s.ToggleCompareLayer("3")
	c := s.ToggleCompareLayer("2")
	assert.True(t, c.Ready())
	assert.Equal(t, []string{"3", "2", "1"}, s.View().Active)

	s.SetSliderPosition(75)
	s.FlushURL()
	dc, ok := urlstate.DecodeCompare(s.URL().Get(urlstate.ParamCompare))
	require.True(t, ok)
	assert.Equal(t, urlstate.Compare{Enabled: true, Left: "3", Right: "2", Pos: 75}, dc)

	_, err = s.Toggle("2")
	require.NoError(t, err)
	assert.False(t, s.View().Compare.Enabled)
	s.FlushURL()
	assert.Empty(t, s.URL().Get(urlstate.ParamCompare))

	s.ToggleCompareLayer("1")
	s.ClearCompareSide("left")
	s.DisableCompare()
	assert.Equal(t, CompareState{SliderPosition: 75}, s.View().Compare)
}

func TestSession_overrideOnInactiveLayer(t *testing.T) {
	m, _ := newTestManager(t, staticFetcher(testCatalog(lyr("1", false))))
	s, err := m.Create(context.Background(), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, s.SetOpacity("1", 0.2), ErrLayerNotFound)
	assert.ErrorIs(t, s.SetDate("1", "2020"), ErrLayerNotFound)
	assert.ErrorIs(t, s.SetChartLimit("1", 2), ErrLayerNotFound)
	assert.ErrorIs(t, s.Reorder(0, 1), ErrIndexOutOfRange)
	_, err = s.Toggle("nope")
	assert.ErrorIs(t, err, ErrLayerNotFound)
}

func TestSession_catalogFailureKeepsState(t *testing.T) {
	fail := false
	f := FetcherFunc(func(context.Context, string, string) (Catalog, error) {
		if fail {
			return Catalog{}, errors.New("catalog offline")
		}
		return testCatalog(lyr("1", true)), nil
	})
	m, _ := newTestManager(t, f)
	s, err := m.Create(context.Background(), nil)
	require.NoError(t, err)

	fail = true
	err = s.Reload(context.Background(), "africa", "en")
	require.Error(t, err)

	v := s.View()
	assert.True(t, v.Catalog.Error)
	assert.Equal(t, []string{"1"}, v.Active)
}

func TestSession_reloadPrunes(t *testing.T) {
	catalogs := map[string]Catalog{
		"global": testCatalog(lyr("1", false), lyr("2", false)),
		"africa": testCatalog(lyr("2", false), lyr("9", true)),
	}
	f := FetcherFunc(func(_ context.Context, scope, _ string) (Catalog, error) {
		return catalogs[scope], nil
	})
	m, _ := newTestManager(t, f)
	s, err := m.Create(context.Background(), nil)
	require.NoError(t, err)
	_, _ = s.Toggle("1")
	_, _ = s.Toggle("2")

	require.NoError(t, s.Reload(context.Background(), "africa", "en"))
	assert.Equal(t, []string{"2", "9"}, s.View().Active)

	require.NoError(t, s.Reload(context.Background(), "africa", "en"), "no-op when already loaded")
}

func TestSession_tree(t *testing.T) {
	cat := Catalog{
		Payload: payload(
			Layer{ID: "1", GroupID: "c", Published: true, Opacity: 1},
			Layer{ID: "2", GroupID: "c", Published: true, Opacity: 1},
		),
		Groups: []LayerGroup{
			grp("g", GroupTypeGroup, 0, ""),
			grp("c", GroupTypeCategory, 0, "g"),
		},
	}
	m, _ := newTestManager(t, staticFetcher(cat))
	s, err := m.Create(context.Background(), nil)
	require.NoError(t, err)

	tree := s.Tree(Resolver{Logger: zerolog.Nop()})
	c, ok := tree.Find("c")
	require.True(t, ok)
	assert.False(t, c.Active)

	_, _ = s.Toggle("2")
	require.NoError(t, s.SetOpacity("2", 0.5))
	tree = s.Tree(Resolver{Logger: zerolog.Nop()})
	c, _ = tree.Find("c")
	assert.True(t, c.Active)
	assert.True(t, tree[0].Active)
	require.Len(t, c.Layers, 2)
	assert.Equal(t, 50, c.Layers[1].OpacityText)
}

func TestSessionManager_lifecycle(t *testing.T) {
	m, bus := newTestManager(t, staticFetcher(testCatalog(lyr("1", true))))
	events := bus.Subscribe()

	a, err := m.Create(context.Background(), nil)
	require.NoError(t, err)
	b, err := m.Create(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, m.Len())
	assert.Len(t, m.List(), 2)

	got, err := m.Get(a.ID)
	require.NoError(t, err)
	assert.Same(t, a, got)

	require.NoError(t, m.Close(a.ID))
	_, err = m.Get(a.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Close(a.ID), ErrSessionNotFound)

	m.CloseAll()
	assert.Zero(t, m.Len())

	closed := 0
	for len(events) > 0 {
		if e := <-events; e.Action == "closed" {
			closed++
		}
	}
	assert.Equal(t, 2, closed)
}

func TestSessionManager_createCancelled(t *testing.T) {
	f := FetcherFunc(func(ctx context.Context, _, _ string) (Catalog, error) {
		return Catalog{}, ctx.Err()
	})
	m, _ := newTestManager(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Create(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, m.Len())
}

package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-atlas/internal/metrics"
	"github.com/joeblew999/plat-atlas/internal/urlstate"
)

// Query parameters read when a session is created.
const (
	ParamSiteScope = "site_scope"
	ParamLocale    = "locale"
)

// SessionOptions configures a SessionManager.
type SessionOptions struct {
	// Scope and Locale are used when the creating query names none.
	Scope  string
	Locale string
	// URLWait is the debounce period for URL writes.
	URLWait time.Duration
}

// SessionManager owns the open map sessions.
type SessionManager struct {
	fetcher Fetcher
	bus     *EventBus
	logger  zerolog.Logger
	metrics *metrics.Metrics
	opts    SessionOptions

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates a manager. Every session fetches its catalog
// through fetcher and publishes its changes on bus.
func NewSessionManager(fetcher Fetcher, bus *EventBus, logger zerolog.Logger, m *metrics.Metrics, opts SessionOptions) *SessionManager {
	return &SessionManager{
		fetcher:  fetcher,
		bus:      bus,
		logger:   logger,
		metrics:  m,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Create opens a session from a map view URL query: the layers and compare
// parameters seed its state, and site_scope/locale pick the catalog. A
// failed catalog fetch does not fail creation; it shows in the session's
// catalog status.
func (m *SessionManager) Create(ctx context.Context, query url.Values) (*Session, error) {
	scope := query.Get(ParamSiteScope)
	if scope == "" {
		scope = m.opts.Scope
	}
	locale := query.Get(ParamLocale)
	if locale == "" {
		locale = m.opts.Locale
	}

	id := uuid.NewString()
	logger := m.logger.With().Str("session", id).Logger()
	store := NewCatalogStore()
	s := &Session{
		ID:      id,
		Created: time.Now().UTC(),
		State:   NewMapState(),
		store:   store,
		loader:  NewCatalogLoader(m.fetcher, store, logger, m.metrics),
		bus:     m.bus,
		logger:  logger,
		scope:   scope,
		locale:  locale,
		current: cloneQuery(query),
		done:    make(chan struct{}),
	}
	s.url = urlstate.NewDebouncer(urlstate.NavigatorFunc(s.replaceURL), query, m.opts.URLWait, m.metrics)
	s.hydrate(query)
	s.loader.OnLoad(func(Catalog) {
		s.State.LoadCatalog(store.Payload())
	})

	m.mu.Lock()
	m.sessions[id] = s
	n := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetSessions(n)

	logger.Info().
		Str("site_scope", scope).
		Str("locale", locale).
		Int("actives", len(s.State.ActiveIDs())).
		Msg("session created")
	m.bus.Publish(Event{Resource: "session", Action: "created", ID: id})

	if err := s.Reload(ctx, scope, locale); err != nil && ctx.Err() != nil {
		_ = m.Close(id)
		return nil, ctx.Err()
	}
	return s, nil
}

// Get returns an open session.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns the open sessions, oldest first.
func (m *SessionManager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close discards a session and any URL write still pending for it.
func (m *SessionManager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.url.Stop()
	close(s.done)
	m.metrics.SetSessions(n)
	s.logger.Debug().Msg("session closed")
	m.bus.Publish(Event{Resource: "session", Action: "closed", ID: id})
	return nil
}

// CloseAll flushes pending URL writes and closes every session.
func (m *SessionManager) CloseAll() {
	for _, s := range m.List() {
		s.url.Flush()
		_ = m.Close(s.ID)
	}
}

// Session is one visitor's map view: its catalog, active set, compare
// state and mirrored URL.
type Session struct {
	ID      string
	Created time.Time
	State   *MapState

	store  *CatalogStore
	loader *CatalogLoader
	url    *urlstate.Debouncer
	bus    *EventBus
	logger zerolog.Logger
	done   chan struct{}

	mu      sync.RWMutex
	scope   string
	locale  string
	current url.Values
}

// SessionView is the JSON form of a session.
type SessionView struct {
	ID      string        `json:"id" doc:"Session identifier"`
	Scope   string        `json:"siteScope,omitempty" doc:"Catalog site scope"`
	Locale  string        `json:"locale,omitempty" doc:"Catalog locale"`
	Active  []string      `json:"active" doc:"Active layer ids, top first"`
	Layers  []Layer       `json:"layers" doc:"Active layers with overrides applied"`
	Compare CompareState  `json:"compare"`
	Catalog CatalogStatus `json:"catalog"`
	Query   string        `json:"query" doc:"Current URL query"`
}

// View snapshots the session.
func (s *Session) View() SessionView {
	s.mu.RLock()
	scope, locale, query := s.scope, s.locale, s.current.Encode()
	s.mu.RUnlock()
	return SessionView{
		ID:      s.ID,
		Scope:   scope,
		Locale:  locale,
		Active:  s.State.ActiveIDs(),
		Layers:  s.State.Actives(),
		Compare: s.State.Compare(),
		Catalog: s.store.Status(),
		Query:   query,
	}
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Location returns the site scope and locale the session was last
// pointed at.
func (s *Session) Location() (scope, locale string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scope, s.locale
}

// Catalog returns the session's catalog store.
func (s *Session) Catalog() *CatalogStore {
	return s.store
}

// Reload fetches the catalog when scope or locale differ from the loaded
// ones. Active-set pruning happens as part of applying the response.
func (s *Session) Reload(ctx context.Context, scope, locale string) error {
	if !s.store.NeedsReload(scope, locale) {
		return nil
	}
	s.mu.Lock()
	s.scope, s.locale = scope, locale
	s.mu.Unlock()

	if _, err := s.loader.Load(ctx, scope, locale); err != nil {
		if !errors.Is(err, ErrStaleResponse) {
			s.publish("catalog", "failed", "")
		}
		return err
	}
	s.publish("catalog", "loaded", "")
	s.persist()
	return nil
}

// Toggle switches a layer on or off.
func (s *Session) Toggle(layerID string) (bool, error) {
	on, err := s.State.Toggle(layerID)
	if err != nil {
		return false, err
	}
	s.changed("toggled", layerID)
	return on, nil
}

// Reorder moves an active layer.
func (s *Session) Reorder(from, to int) error {
	if err := s.State.Reorder(from, to); err != nil {
		return err
	}
	s.changed("reordered", "")
	return nil
}

// SetOpacity sets an active layer's opacity.
func (s *Session) SetOpacity(layerID string, v float64) error {
	return s.override(layerID, "opacity", s.State.SetOpacity(layerID, v))
}

// SetDate sets an active layer's timeline date.
func (s *Session) SetDate(layerID, date string) error {
	return s.override(layerID, "date", s.State.SetDate(layerID, date))
}

// SetChartLimit sets an active layer's chart limit.
func (s *Session) SetChartLimit(layerID string, limit int) error {
	return s.override(layerID, "chart-limit", s.State.SetChartLimit(layerID, limit))
}

func (s *Session) override(layerID, action string, ok bool) error {
	if !ok {
		return fmt.Errorf("%w: %s is not active", ErrLayerNotFound, layerID)
	}
	s.changed(action, layerID)
	return nil
}

// ToggleCompareLayer assigns a layer to a compare slot.
func (s *Session) ToggleCompareLayer(layerID string) CompareState {
	c := s.State.ToggleCompareLayer(layerID)
	s.changed("compare", layerID)
	return c
}

// DisableCompare leaves compare mode.
func (s *Session) DisableCompare() {
	s.State.DisableCompare()
	s.changed("compare", "")
}

// ClearCompareSide empties one compare slot.
func (s *Session) ClearCompareSide(side string) {
	s.State.ClearSide(side)
	s.changed("compare", "")
}

// SetSliderPosition commits a divider position.
func (s *Session) SetSliderPosition(p float64) {
	s.State.SetSliderPosition(p)
	s.changed("slider", "")
}

// InteractionLayers returns the active layers with popup configuration.
func (s *Session) InteractionLayers() []InteractionLayer {
	return s.store.InteractionLayers(s.State.ActiveIDs())
}

// Tree resolves the layer tree for the session's catalog and active set.
func (s *Session) Tree(r Resolver) Tree {
	return s.store.Tree(r, s.State.Actives())
}

// URL returns the query as last written by the debouncer.
func (s *Session) URL() url.Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneQuery(s.current)
}

// FlushURL writes any pending URL change now.
func (s *Session) FlushURL() {
	s.url.Flush()
}

func (s *Session) hydrate(query url.Values) {
	entries := urlstate.DecodeLayers(query.Get(urlstate.ParamLayers))
	ids := make([]string, 0, len(entries))
	overrides := make(map[string]PersistedLayerEntry, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
		overrides[e.ID] = e
	}
	var compare *CompareState
	if c, ok := urlstate.DecodeCompare(query.Get(urlstate.ParamCompare)); ok {
		compare = &CompareState{
			Enabled:        c.Enabled,
			LeftLayerID:    c.Left,
			RightLayerID:   c.Right,
			SliderPosition: c.Pos,
		}
	}
	s.State.Hydrate(ids, overrides, compare)
}

func (s *Session) changed(action, layerID string) {
	s.publish("session", action, layerID)
	s.persist()
}

func (s *Session) publish(resource, action, layerID string) {
	s.bus.Publish(Event{Resource: resource, Action: action, ID: s.ID, LayerID: layerID})
}

func (s *Session) persist() {
	c := s.State.Compare()
	s.url.Set(urlstate.ParamLayers, urlstate.EncodeLayers(s.State.Persisted()))
	s.url.Set(urlstate.ParamCompare, urlstate.EncodeCompare(urlstate.Compare{
		Enabled: c.Enabled,
		Left:    c.LeftLayerID,
		Right:   c.RightLayerID,
		Pos:     c.SliderPosition,
	}))
}

func (s *Session) replaceURL(values url.Values) {
	s.mu.Lock()
	s.current = values
	s.mu.Unlock()
	s.publish("url", "replaced", "")
}

func cloneQuery(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

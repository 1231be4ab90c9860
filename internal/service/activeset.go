package service

import (
	"fmt"
	"sync"
)

// DefaultSliderPosition is the divider position when none was chosen.
const DefaultSliderPosition = 50

// MapState is the active-set store: the ordered set of active layer ids,
// per-layer transient overrides, and the compare state. Every mutation goes
// through its methods.
type MapState struct {
	mu        sync.RWMutex
	layers    map[string]Layer
	all       []string
	loaded    bool
	actives   []string
	overrides map[string]PersistedLayerEntry
	compare   CompareState
}

// NewMapState creates an empty store.
func NewMapState() *MapState {
	return &MapState{
		layers:    make(map[string]Layer),
		overrides: make(map[string]PersistedLayerEntry),
		compare:   CompareState{SliderPosition: DefaultSliderPosition},
	}
}

// Hydrate seeds the store from URL state before the catalog arrives.
// Unknown ids are kept until the next LoadCatalog prunes them.
func (s *MapState) Hydrate(actives []string, overrides map[string]PersistedLayerEntry, compare *CompareState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actives = dedupe(actives)
	s.overrides = make(map[string]PersistedLayerEntry, len(overrides))
	for id, o := range overrides {
		o.ID = id
		s.overrides[id] = o
	}
	if compare != nil {
		c := *compare
		c.SliderPosition = clampPercent(c.SliderPosition)
		s.compare = c
	}
}

// LoadCatalog replaces the catalog. The active set becomes the surviving
// previous ids, in their previous order, followed by newly default-active
// ids in catalog order. Overrides and compare slots for vanished layers are
// dropped.
func (s *MapState) LoadCatalog(p CatalogPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.layers = make(map[string]Layer, len(p.Entities.Layers))
	for id, l := range p.Entities.Layers {
		s.layers[id] = l
	}
	s.all = append([]string(nil), p.Result...)
	s.loaded = true

	present := make(map[string]bool, len(s.actives))
	actives := make([]string, 0, len(s.actives))
	for _, id := range s.actives {
		if _, ok := s.layers[id]; ok && !present[id] {
			present[id] = true
			actives = append(actives, id)
		}
	}
	for _, id := range p.Result {
		if l, ok := s.layers[id]; ok && l.DefaultActive && !present[id] {
			present[id] = true
			actives = append(actives, id)
		}
	}
	s.actives = actives

	for id := range s.overrides {
		if _, ok := s.layers[id]; !ok {
			delete(s.overrides, id)
		}
	}
	if _, ok := s.layers[s.compare.LeftLayerID]; !ok {
		s.compare.LeftLayerID = ""
	}
	if _, ok := s.layers[s.compare.RightLayerID]; !ok {
		s.compare.RightLayerID = ""
	}
}

// Toggle switches a layer on or off and reports whether it is now active.
// Switching off a compared layer leaves compare mode first. Switching on
// inserts at the front, or right after the two compared layers when
// comparison is ready.
func (s *MapState) Toggle(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := indexOf(s.actives, id); i >= 0 {
		if s.compare.Enabled && (s.compare.LeftLayerID == id || s.compare.RightLayerID == id) {
			s.disableCompareLocked()
		}
		s.actives = append(s.actives[:i:i], s.actives[i+1:]...)
		return false, nil
	}

	if s.loaded {
		if _, ok := s.layers[id]; !ok {
			return false, fmt.Errorf("%w: %s", ErrLayerNotFound, id)
		}
	}
	at := 0
	if s.compare.Ready() {
		at = min(2, len(s.actives))
	}
	s.actives = insertAt(s.actives, at, id)
	return true, nil
}

// Reorder moves the id at from to position to.
func (s *MapState) Reorder(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.actives)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("%w: move %d -> %d of %d", ErrIndexOutOfRange, from, to, n)
	}
	id := s.actives[from]
	rest := append(s.actives[:from:from], s.actives[from+1:]...)
	s.actives = insertAt(rest, to, id)
	return nil
}

// SetActives replaces the active set wholesale, dropping duplicates and,
// once the catalog is loaded, unknown ids.
func (s *MapState) SetActives(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids = dedupe(ids)
	if s.loaded {
		kept := ids[:0]
		for _, id := range ids {
			if _, ok := s.layers[id]; ok {
				kept = append(kept, id)
			}
		}
		ids = kept
	}
	s.actives = ids
}

// SetOpacity sets an active layer's opacity, clamped to [0,1].
func (s *MapState) SetOpacity(id string, v float64) bool {
	v = max(0, min(1, v))
	return s.updateOverride(id, func(o *PersistedLayerEntry) { o.Opacity = &v })
}

// SetDate sets an active layer's timeline date. An empty date drops the
// override.
func (s *MapState) SetDate(id, date string) bool {
	return s.updateOverride(id, func(o *PersistedLayerEntry) {
		if date == "" {
			o.Date = nil
			return
		}
		o.Date = &date
	})
}

// SetChartLimit sets an active layer's chart limit.
func (s *MapState) SetChartLimit(id string, limit int) bool {
	return s.updateOverride(id, func(o *PersistedLayerEntry) { o.ChartLimit = &limit })
}

func (s *MapState) updateOverride(id string, fn func(*PersistedLayerEntry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if indexOf(s.actives, id) < 0 {
		return false
	}
	o := s.overrides[id]
	o.ID = id
	fn(&o)
	s.overrides[id] = o
	return true
}

// MoveCompareLayersToTop puts left and right at positions 0 and 1. Nothing
// happens unless both are active.
func (s *MapState) MoveCompareLayersToTop(left, right string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moveCompareLayersToTopLocked(left, right)
}

func (s *MapState) moveCompareLayersToTopLocked(left, right string) {
	if left == right || indexOf(s.actives, left) < 0 || indexOf(s.actives, right) < 0 {
		return
	}
	if s.actives[0] == left && s.actives[1] == right {
		return
	}
	out := make([]string, 0, len(s.actives)+2)
	out = append(out, left, right)
	for _, id := range s.actives {
		if id != left && id != right {
			out = append(out, id)
		}
	}
	s.actives = out
}

// IsActive reports whether id is in the active set.
func (s *MapState) IsActive(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return indexOf(s.actives, id) >= 0
}

// ActiveIDs returns a copy of the active set.
func (s *MapState) ActiveIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.actives...)
}

// Overrides returns a copy of the per-layer overrides.
func (s *MapState) Overrides() map[string]PersistedLayerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]PersistedLayerEntry, len(s.overrides))
	for k, v := range s.overrides {
		out[k] = v
	}
	return out
}

// Actives returns the active layers with overrides applied. Ids not
// in the catalog are skipped.
func (s *MapState) Actives() []Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Layer, 0, len(s.actives))
	for _, id := range s.actives {
		l, ok := s.layers[id]
		if !ok {
			continue
		}
		out = append(out, applyOverride(l, s.overrides[id]))
	}
	return out
}

// Persisted returns the URL-serializable entries of the active layers.
func (s *MapState) Persisted() []PersistedLayerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PersistedLayerEntry, 0, len(s.actives))
	for _, id := range s.actives {
		e := s.overrides[id]
		e.ID = id
		out = append(out, e)
	}
	return out
}

// Loaded reports whether a catalog has been applied.
func (s *MapState) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

func applyOverride(l Layer, o PersistedLayerEntry) Layer {
	if o.Opacity != nil {
		l.Opacity = *o.Opacity
	}
	if o.Order != nil {
		l.Order = *o.Order
	}
	if o.Date != nil {
		d := *o.Date
		l.Date = &d
	}
	if o.ChartLimit != nil {
		c := *o.ChartLimit
		l.ChartLimit = &c
	}
	return l
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func insertAt(ids []string, at int, id string) []string {
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:at]...)
	out = append(out, id)
	return append(out, ids[at:]...)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

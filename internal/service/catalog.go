package service

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/joeblew999/plat-atlas/internal/slug"
)

// CatalogStatus reports the load state of a catalog store.
type CatalogStatus struct {
	Loading      bool   `json:"loading"`
	Loaded       bool   `json:"loaded"`
	Error        bool   `json:"error"`
	LoadedScope  string `json:"loadedScope,omitempty"`
	LoadedLocale string `json:"loadedLocale,omitempty"`
}

// CatalogStore holds the raw layer, group and source records of the most
// recent successful catalog fetch.
type CatalogStore struct {
	mu      sync.RWMutex
	layers  map[string]Layer
	all     []string
	sources map[string]Source
	groups  map[string]LayerGroup
	status  CatalogStatus
}

// NewCatalogStore creates an empty catalog store.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		layers:  make(map[string]Layer),
		sources: make(map[string]Source),
		groups:  make(map[string]LayerGroup),
	}
}

// Replace swaps in a freshly fetched catalog. Records without a slug get
// one derived from their name.
func (s *CatalogStore) Replace(c Catalog, scope, locale string) {
	layers := make(map[string]Layer, len(c.Payload.Entities.Layers))
	for id, l := range c.Payload.Entities.Layers {
		if l.ID == "" {
			l.ID = id
		}
		if l.Slug == "" {
			l.Slug = slug.From(l.Name)
		}
		layers[id] = l
	}
	sources := make(map[string]Source, len(c.Payload.Entities.Sources))
	for id, src := range c.Payload.Entities.Sources {
		if src.ID == "" {
			src.ID = id
		}
		sources[id] = src
	}
	groups := make(map[string]LayerGroup, len(c.Groups))
	for _, g := range c.Groups {
		if g.Slug == "" {
			g.Slug = slug.From(g.Name)
		}
		groups[g.ID] = g
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = layers
	s.sources = sources
	s.groups = groups
	s.all = append([]string(nil), c.Payload.Result...)
	s.status = CatalogStatus{Loaded: true, LoadedScope: scope, LoadedLocale: locale}
}

// MarkLoading flags a fetch in flight. Existing data is kept.
func (s *CatalogStore) MarkLoading() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Loading = true
	s.status.Error = false
}

// MarkFailed flags a failed fetch. Existing data is kept.
func (s *CatalogStore) MarkFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Loading = false
	s.status.Error = true
}

// Status returns the current load flags.
func (s *CatalogStore) Status() CatalogStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// NeedsReload reports whether the store was not loaded for scope/locale.
func (s *CatalogStore) NeedsReload(scope, locale string) bool {
	st := s.Status()
	return !st.Loaded || st.LoadedScope != scope || st.LoadedLocale != locale
}

// Layer returns a layer by ID.
func (s *CatalogStore) Layer(id string) (Layer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.layers[id]
	return l, ok
}

// Layers returns a copy of all layers keyed by ID.
func (s *CatalogStore) Layers() map[string]Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Layer, len(s.layers))
	for k, v := range s.layers {
		out[k] = v
	}
	return out
}

// All returns layer ids in catalog order.
func (s *CatalogStore) All() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.all...)
}

// Published returns published layers in catalog order.
func (s *CatalogStore) Published() []Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Layer, 0, len(s.all))
	for _, id := range s.all {
		if l, ok := s.layers[id]; ok && l.Published {
			out = append(out, l)
		}
	}
	return out
}

// Groups returns all layer groups ordered by (Order, ID).
func (s *CatalogStore) Groups() []LayerGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LayerGroup, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GroupsByID returns a copy of the group table.
func (s *CatalogStore) GroupsByID() map[string]LayerGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]LayerGroup, len(s.groups))
	for k, v := range s.groups {
		out[k] = v
	}
	return out
}

// Payload rebuilds the normalized wire payload from the store.
func (s *CatalogStore) Payload() CatalogPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := CatalogPayload{
		Entities: CatalogEntities{
			Layers:  make(map[string]Layer, len(s.layers)),
			Sources: make(map[string]Source, len(s.sources)),
		},
		Result: append([]string{}, s.all...),
	}
	for k, v := range s.layers {
		p.Entities.Layers[k] = v
	}
	for k, v := range s.sources {
		p.Entities.Sources[k] = v
	}
	return p
}

// Info returns the description and first-source citation for a layer.
func (s *CatalogStore) Info(l Layer) LayerInfo {
	info := LayerInfo{Description: l.Description}
	if len(l.SourceIDs) == 0 || l.SourceIDs[0] == "" {
		return info
	}
	s.mu.RLock()
	src, ok := s.sources[l.SourceIDs[0]]
	s.mu.RUnlock()
	if !ok {
		return info
	}
	info.Source = src.ReferenceShort
	info.Link = src.URL
	return info
}

// DefaultActives returns the published layers that are on by default, in
// catalog order.
func (s *CatalogStore) DefaultActives() []Layer {
	var out []Layer
	for _, l := range s.Published() {
		if l.DefaultActive {
			out = append(out, l)
		}
	}
	return out
}

// Tree resolves the layer tree over the stored catalog. actives are the
// active layers, top first, with any overrides applied; they replace the
// stored records and open their ancestor groups.
func (s *CatalogStore) Tree(r Resolver, actives []Layer) Tree {
	in := SplitByType(s.Groups())
	layers := s.Layers()
	in.ActiveIDs = make([]string, 0, len(actives))
	for _, l := range actives {
		layers[l.ID] = l
		in.ActiveIDs = append(in.ActiveIDs, l.ID)
	}
	for _, id := range s.All() {
		if l, ok := layers[id]; ok {
			in.Layers = append(in.Layers, l)
		}
	}
	if r.Info == nil {
		r.Info = s.Info
	}
	return r.Resolve(in)
}

// InteractionLayer is an active layer with its parsed popup configuration.
type InteractionLayer struct {
	Layer             Layer          `json:"layer"`
	InteractionConfig map[string]any `json:"interactionConfig"`
}

// InteractionLayers returns the layers among ids that carry a non-empty
// interaction config. Configs that do not parse are skipped.
func (s *CatalogStore) InteractionLayers(ids []string) []InteractionLayer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []InteractionLayer
	for _, id := range ids {
		l, ok := s.layers[id]
		if !ok || l.InteractionConfig == "" {
			continue
		}
		var cfg map[string]any
		if err := json.Unmarshal([]byte(l.InteractionConfig), &cfg); err != nil || len(cfg) == 0 {
			continue
		}
		out = append(out, InteractionLayer{Layer: l, InteractionConfig: cfg})
	}
	return out
}

// Package viewer contains Datastar SSE handlers for the map viewer UI.
package viewer

import (
	"context"
	"math"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-atlas/internal/humastar"
	"github.com/joeblew999/plat-atlas/internal/service"
	"github.com/joeblew999/plat-atlas/internal/templates"
)

// Selectors the viewer page exposes for patches.
const (
	TreeSelector   = "#layer-tree"
	ActiveSelector = "#active-layers"
)

// Handler streams session state to the viewer and accepts its actions.
type Handler struct {
	humastar.Handler
	sessions *service.SessionManager
	bus      *service.EventBus
	resolver service.Resolver
}

// NewHandler creates a viewer handler.
func NewHandler(sessions *service.SessionManager, bus *service.EventBus, renderer *templates.Renderer, logger zerolog.Logger) *Handler {
	return &Handler{
		Handler:  humastar.Handler{Renderer: renderer},
		sessions: sessions,
		bus:      bus,
		resolver: service.Resolver{Logger: logger},
	}
}

func (h *Handler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags("viewer")
	huma.Get(api, "/api/v1/viewer/sessions/{id}/events", h.Events, tags)
	huma.Post(api, "/api/v1/viewer/sessions/{id}/layers/{layerId}/toggle", h.Toggle, tags)
	huma.Post(api, "/api/v1/viewer/sessions/{id}/compare/{layerId}", h.Compare, tags)
	huma.Post(api, "/api/v1/viewer/sessions/{id}/slider", h.Slider, tags)
}

type SessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

type LayerInput struct {
	SessionInput
	LayerID string `path:"layerId" doc:"Layer ID"`
}

// SliderInput carries the Datastar signals of the divider control.
type SliderInput struct {
	SessionInput
	RawBody []byte
}

// TreeView is the data of the layer-tree fragment.
type TreeView struct {
	Session string
	Tree    service.Tree
	Active  map[string]bool
}

// ActiveLayerView is the data of one active-layer fragment.
type ActiveLayerView struct {
	Session string
	ID      string
	Name    string
	Opacity int
	Date    string
	Side    string
}

// Events pushes the session's tree, active list and signals on connect and
// after every change to the session, until the client goes away or the
// session is closed.
func (h *Handler) Events(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	s, err := h.sessions.Get(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	ch := h.bus.Subscribe()

	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			defer h.bus.Unsubscribe(ch)
			sse := humastar.NewSSE(humaCtx)
			h.push(sse, s)

			for {
				select {
				case <-ctx.Done():
					return
				case <-s.Done():
					sse.Signals(map[string]any{"closed": true})
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					if ev.ID != s.ID {
						continue
					}
					if ev.Resource == "session" && ev.Action == "closed" {
						sse.Signals(map[string]any{"closed": true})
						return
					}
					h.push(sse, s)
					sse.DispatchCustomEvent("session-changed", map[string]any{
						"resource": ev.Resource,
						"action":   ev.Action,
						"layerId":  ev.LayerID,
					})
				}
			}
		},
	}, nil
}

// Toggle switches a layer from the tree.
func (h *Handler) Toggle(ctx context.Context, input *LayerInput) (*huma.StreamResponse, error) {
	return h.act(input.ID, func(s *service.Session) error {
		_, err := s.Toggle(input.LayerID)
		return err
	})
}

// Compare assigns a layer to a compare slot.
func (h *Handler) Compare(ctx context.Context, input *LayerInput) (*huma.StreamResponse, error) {
	return h.act(input.ID, func(s *service.Session) error {
		s.ToggleCompareLayer(input.LayerID)
		return nil
	})
}

// Slider commits the divider position from the sliderPosition signal.
func (h *Handler) Slider(ctx context.Context, input *SliderInput) (*huma.StreamResponse, error) {
	signals, err := (&humastar.SignalsInput{RawBody: input.RawBody}).MustParse()
	if err != nil {
		return nil, err
	}
	if !signals.Has("sliderPosition") {
		return nil, huma.Error400BadRequest("sliderPosition is required")
	}
	return h.act(input.ID, func(s *service.Session) error {
		s.SetSliderPosition(signals.Float("sliderPosition"))
		return nil
	})
}

func (h *Handler) act(id string, fn func(*service.Session) error) (*huma.StreamResponse, error) {
	s, err := h.sessions.Get(id)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return h.Stream(func(sse humastar.SSE) {
		if err := fn(s); err != nil {
			sse.Error(err.Error())
			return
		}
		h.push(sse, s)
	}), nil
}

func (h *Handler) push(sse humastar.SSE, s *service.Session) {
	v := s.View()
	sse.Signals(map[string]any{
		"active":         v.Active,
		"compare":        v.Compare,
		"catalogLoading": v.Catalog.Loading,
		"catalogError":   v.Catalog.Error,
		"query":          v.Query,
	})
	sse.Patch(h.renderTree(s, v), TreeSelector)
	sse.Patch(h.renderActive(v), ActiveSelector)
}

func (h *Handler) renderTree(s *service.Session, v service.SessionView) string {
	active := make(map[string]bool, len(v.Active))
	for _, id := range v.Active {
		active[id] = true
	}
	return h.Render("layer-tree", TreeView{
		Session: s.ID,
		Tree:    s.Tree(h.resolver),
		Active:  active,
	})
}

func (h *Handler) renderActive(v service.SessionView) string {
	items := make([]any, 0, len(v.Layers))
	for _, l := range v.Layers {
		item := ActiveLayerView{
			Session: v.ID,
			ID:      l.ID,
			Name:    l.Name,
			Opacity: int(math.Round(l.Opacity * 100)),
			Side:    v.Compare.Side(l.ID),
		}
		if l.Date != nil {
			item.Date = *l.Date
		}
		items = append(items, item)
	}
	return h.RenderList("active-layer", items, "No active layers", "Pick a layer from the tree.")
}

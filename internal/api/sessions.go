package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-atlas/internal/compare"
	"github.com/joeblew999/plat-atlas/internal/humastar"
	"github.com/joeblew999/plat-atlas/internal/service"
	"github.com/joeblew999/plat-atlas/internal/urlstate"
)

// RegisterSessions registers the map session routes.
func (h *APIHandler) RegisterSessions(api huma.API) {
	tags := huma.OperationTags("sessions")
	huma.Post(api, "/api/v1/sessions", h.CreateSession, tags, func(o *huma.Operation) {
		o.DefaultStatus = http.StatusCreated
	})
	huma.Get(api, "/api/v1/sessions", h.ListSessions, tags)
	huma.Get(api, "/api/v1/sessions/{id}", h.GetSession, tags)
	huma.Delete(api, "/api/v1/sessions/{id}", h.DeleteSession, tags)
	huma.Post(api, "/api/v1/sessions/{id}/reload", h.ReloadSession, tags)
	huma.Post(api, "/api/v1/sessions/{id}/layers/{layerId}/toggle", h.ToggleLayer, tags)
	huma.Post(api, "/api/v1/sessions/{id}/reorder", h.ReorderLayers, tags)
	huma.Put(api, "/api/v1/sessions/{id}/layers/{layerId}/opacity", h.PutOpacity, tags)
	huma.Put(api, "/api/v1/sessions/{id}/layers/{layerId}/date", h.PutDate, tags)
	huma.Put(api, "/api/v1/sessions/{id}/layers/{layerId}/chart-limit", h.PutChartLimit, tags)
	huma.Get(api, "/api/v1/sessions/{id}/url", h.GetURL, tags)
	huma.Get(api, "/api/v1/sessions/{id}/tree", h.GetSessionTree, tags)
	huma.Get(api, "/api/v1/sessions/{id}/interactions", h.GetInteractions, tags)
}

// RegisterCompare registers the compare routes of a session.
func (h *APIHandler) RegisterCompare(api huma.API) {
	tags := huma.OperationTags("compare")
	huma.Post(api, "/api/v1/sessions/{id}/compare/toggle/{layerId}", h.ToggleCompareLayer, tags)
	huma.Post(api, "/api/v1/sessions/{id}/compare/disable", h.DisableCompare, tags)
	huma.Delete(api, "/api/v1/sessions/{id}/compare/{side}", h.ClearCompareSide, tags)
	huma.Put(api, "/api/v1/sessions/{id}/compare/slider", h.PutSlider, tags)
	huma.Get(api, "/api/v1/sessions/{id}/compare/masks", h.GetMasks, tags)
}

// Types

type SessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

type SessionLayerInput struct {
	SessionInput
	LayerID string `path:"layerId" doc:"Layer ID" example:"1"`
}

type CreateSessionInput struct {
	Layers    string `query:"layers" doc:"Persisted layers parameter" example:"[{\"id\":\"1\",\"opacity\":0.5}]"`
	Compare   string `query:"compare" doc:"Persisted compare parameter" example:"{\"enabled\":true,\"left\":\"1\",\"right\":\"2\",\"pos\":50}"`
	SiteScope string `query:"site_scope" doc:"Catalog site scope"`
	Locale    string `query:"locale" doc:"Catalog locale"`
}

// SessionBody is a session snapshot with the actions its state allows.
type SessionBody struct {
	service.SessionView
}

var (
	sessionActions = []humastar.ActionDef{
		{Rel: "reorder", Pattern: "/api/v1/sessions/%s/reorder", Method: http.MethodPost, Title: "Reorder layers"},
		{Rel: "url", Pattern: "/api/v1/sessions/%s/url", Method: http.MethodGet, Title: "Current URL"},
		{Rel: "tree", Pattern: "/api/v1/sessions/%s/tree", Method: http.MethodGet, Title: "Layer tree"},
		{Rel: "delete", Pattern: "/api/v1/sessions/%s", Method: http.MethodDelete, Title: "Close session"},
	}
	compareEnabledActions = []humastar.ActionDef{
		{Rel: "compare-disable", Pattern: "/api/v1/sessions/%s/compare/disable", Method: http.MethodPost, Title: "Leave compare mode"},
	}
	compareReadyActions = []humastar.ActionDef{
		{Rel: "compare-slider", Pattern: "/api/v1/sessions/%s/compare/slider", Method: http.MethodPut, Title: "Move divider"},
		{Rel: "compare-masks", Pattern: "/api/v1/sessions/%s/compare/masks", Method: http.MethodGet, Title: "Clip rectangles"},
	}
)

// Actions implements humastar.Actor.
func (b SessionBody) Actions() []humastar.Action {
	actions := humastar.ActionsFor(b.ID, sessionActions...)
	if b.Compare.Enabled {
		actions = append(actions, humastar.ActionsFor(b.ID, compareEnabledActions...)...)
	}
	if b.Compare.Ready() {
		actions = append(actions, humastar.ActionsFor(b.ID, compareReadyActions...)...)
	}
	return actions
}

type SessionOutput struct {
	Body SessionBody
}

type ToggleBody struct {
	Active  bool                `json:"active" doc:"Whether the layer is now active"`
	Session service.SessionView `json:"session"`
}

type ReorderInput struct {
	SessionInput
	Body struct {
		From int `json:"from" minimum:"0" doc:"Current index in the active list"`
		To   int `json:"to" minimum:"0" doc:"Target index in the active list"`
	}
}

type OpacityInput struct {
	SessionLayerInput
	Body struct {
		Opacity float64 `json:"opacity" minimum:"0" maximum:"1" doc:"Layer opacity (0-1)"`
	}
}

type DateInput struct {
	SessionLayerInput
	Body struct {
		Date string `json:"date" minLength:"1" doc:"Timeline date" example:"2020-01-01"`
	}
}

type ChartLimitInput struct {
	SessionLayerInput
	Body struct {
		ChartLimit int `json:"chartLimit" minimum:"1" doc:"Number of series shown in widgets"`
	}
}

type ReloadInput struct {
	SessionInput
	SiteScope string `query:"site_scope" doc:"Catalog site scope"`
	Locale    string `query:"locale" doc:"Catalog locale"`
}

type SideInput struct {
	SessionInput
	Side string `path:"side" enum:"left,right" doc:"Compare slot"`
}

type SliderInput struct {
	SessionInput
	Body struct {
		Position float64 `json:"position" minimum:"0" maximum:"100" doc:"Divider position in percent"`
	}
}

type URLInput struct {
	SessionInput
	Flush bool `query:"flush" doc:"Write pending changes before reading"`
}

type URLBody struct {
	Query   string `json:"query" doc:"Encoded query string"`
	Layers  string `json:"layers,omitempty" doc:"Layers parameter"`
	Compare string `json:"compare,omitempty" doc:"Compare parameter"`
}

type MasksInput struct {
	SessionInput
	Width   float64 `query:"width" minimum:"1" required:"true" doc:"Viewport width in pixels"`
	Height  float64 `query:"height" minimum:"1" required:"true" doc:"Viewport height in pixels"`
	OriginX float64 `query:"originX" doc:"Layer-space x of the viewport's top-left corner"`
	OriginY float64 `query:"originY" doc:"Layer-space y of the viewport's top-left corner"`
}

type MaskBody struct {
	Clip   string     `json:"clip" doc:"CSS clip value" example:"rect(0px, 400px, 600px, 0px)"`
	Bounds [4]float64 `json:"bounds" doc:"minX, minY, maxX, maxY in layer space"`
}

type MasksBody struct {
	Position float64  `json:"position" doc:"Divider position in percent"`
	Left     MaskBody `json:"left"`
	Right    MaskBody `json:"right"`
}

// Handlers

func (h *APIHandler) session(id string) (*service.Session, error) {
	if h.svc == nil || h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("sessions not available")
	}
	s, err := h.svc.Sessions.Get(id)
	if err != nil {
		return nil, statusError(err)
	}
	return s, nil
}

func sessionOutput(s *service.Session) *SessionOutput {
	return &SessionOutput{Body: SessionBody{s.View()}}
}

func (h *APIHandler) CreateSession(ctx context.Context, input *CreateSessionInput) (*SessionOutput, error) {
	if h.svc == nil || h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("sessions not available")
	}
	q := url.Values{}
	for k, v := range map[string]string{
		urlstate.ParamLayers:   input.Layers,
		urlstate.ParamCompare:  input.Compare,
		service.ParamSiteScope: input.SiteScope,
		service.ParamLocale:    input.Locale,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	s, err := h.svc.Sessions.Create(ctx, q)
	if err != nil {
		return nil, statusError(err)
	}
	return sessionOutput(s), nil
}

func (h *APIHandler) ListSessions(ctx context.Context, input *struct{}) (*struct{ Body []service.SessionView }, error) {
	views := []service.SessionView{}
	if h.svc != nil && h.svc.Sessions != nil {
		for _, s := range h.svc.Sessions.List() {
			views = append(views, s.View())
		}
	}
	return &struct{ Body []service.SessionView }{Body: views}, nil
}

func (h *APIHandler) GetSession(ctx context.Context, input *SessionInput) (*SessionOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return sessionOutput(s), nil
}

func (h *APIHandler) DeleteSession(ctx context.Context, input *SessionInput) (*struct{}, error) {
	if _, err := h.session(input.ID); err != nil {
		return nil, err
	}
	if err := h.svc.Sessions.Close(input.ID); err != nil {
		return nil, statusError(err)
	}
	return &struct{}{}, nil
}

func (h *APIHandler) ReloadSession(ctx context.Context, input *ReloadInput) (*SessionOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	// A reload naming only one of the two keeps the other.
	scope, locale := s.Location()
	if input.SiteScope != "" {
		scope = input.SiteScope
	}
	if input.Locale != "" {
		locale = input.Locale
	}
	if err := s.Reload(ctx, scope, locale); err != nil {
		return nil, huma.Error502BadGateway("catalog reload failed", err)
	}
	return sessionOutput(s), nil
}

func (h *APIHandler) ToggleLayer(ctx context.Context, input *SessionLayerInput) (*struct{ Body ToggleBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	active, err := s.Toggle(input.LayerID)
	if err != nil {
		return nil, statusError(err)
	}
	return &struct{ Body ToggleBody }{Body: ToggleBody{Active: active, Session: s.View()}}, nil
}

func (h *APIHandler) ReorderLayers(ctx context.Context, input *ReorderInput) (*SessionOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	if err := s.Reorder(input.Body.From, input.Body.To); err != nil {
		return nil, statusError(err)
	}
	return sessionOutput(s), nil
}

func (h *APIHandler) PutOpacity(ctx context.Context, input *OpacityInput) (*SessionOutput, error) {
	return h.update(input.ID, func(s *service.Session) error {
		return s.SetOpacity(input.LayerID, input.Body.Opacity)
	})
}

func (h *APIHandler) PutDate(ctx context.Context, input *DateInput) (*SessionOutput, error) {
	return h.update(input.ID, func(s *service.Session) error {
		return s.SetDate(input.LayerID, input.Body.Date)
	})
}

func (h *APIHandler) PutChartLimit(ctx context.Context, input *ChartLimitInput) (*SessionOutput, error) {
	return h.update(input.ID, func(s *service.Session) error {
		return s.SetChartLimit(input.LayerID, input.Body.ChartLimit)
	})
}

func (h *APIHandler) update(id string, fn func(*service.Session) error) (*SessionOutput, error) {
	s, err := h.session(id)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, statusError(err)
	}
	return sessionOutput(s), nil
}

func (h *APIHandler) GetURL(ctx context.Context, input *URLInput) (*struct{ Body URLBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	if input.Flush {
		s.FlushURL()
	}
	q := s.URL()
	return &struct{ Body URLBody }{Body: URLBody{
		Query:   q.Encode(),
		Layers:  q.Get(urlstate.ParamLayers),
		Compare: q.Get(urlstate.ParamCompare),
	}}, nil
}

func (h *APIHandler) GetSessionTree(ctx context.Context, input *SessionInput) (*struct{ Body service.Tree }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return &struct{ Body service.Tree }{Body: s.Tree(service.Resolver{Logger: h.svc.Logger})}, nil
}

func (h *APIHandler) GetInteractions(ctx context.Context, input *SessionInput) (*struct{ Body []service.InteractionLayer }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	layers := s.InteractionLayers()
	if layers == nil {
		layers = []service.InteractionLayer{}
	}
	return &struct{ Body []service.InteractionLayer }{Body: layers}, nil
}

func (h *APIHandler) ToggleCompareLayer(ctx context.Context, input *SessionLayerInput) (*SessionOutput, error) {
	return h.update(input.ID, func(s *service.Session) error {
		s.ToggleCompareLayer(input.LayerID)
		return nil
	})
}

func (h *APIHandler) DisableCompare(ctx context.Context, input *SessionInput) (*SessionOutput, error) {
	return h.update(input.ID, func(s *service.Session) error {
		s.DisableCompare()
		return nil
	})
}

func (h *APIHandler) ClearCompareSide(ctx context.Context, input *SideInput) (*SessionOutput, error) {
	return h.update(input.ID, func(s *service.Session) error {
		s.ClearCompareSide(input.Side)
		return nil
	})
}

func (h *APIHandler) PutSlider(ctx context.Context, input *SliderInput) (*SessionOutput, error) {
	return h.update(input.ID, func(s *service.Session) error {
		s.SetSliderPosition(input.Body.Position)
		return nil
	})
}

// GetMasks computes the clip rectangles of the compared layers for a
// viewport of the given size whose top-left corner sits at origin.
func (h *APIHandler) GetMasks(ctx context.Context, input *MasksInput) (*struct{ Body MasksBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	c := s.State.Compare()
	if !c.Ready() {
		return nil, huma.Error409Conflict("compare needs two distinct layers")
	}
	snap := compare.NewSnapshot(
		orb.Point{input.Width, input.Height},
		orb.Point{input.OriginX, input.OriginY},
		c.LeftLayerID, c.RightLayerID,
	)
	scissor := compare.NewScissorMasker()
	engine := compare.NewEngine(snap, compare.Maskers{compare.CSSClipMasker{}, scissor}, compare.Options{Logger: h.svc.Logger})
	defer engine.Close()
	engine.Sync(compare.State{
		Enabled:  true,
		Left:     c.LeftLayerID,
		Right:    c.RightLayerID,
		Position: c.SliderPosition,
	})

	left, lok := maskBody(snap.Pane(c.LeftLayerID), scissor)
	right, rok := maskBody(snap.Pane(c.RightLayerID), scissor)
	if !lok || !rok {
		return nil, huma.Error500InternalServerError("compare masks were not applied")
	}
	return &struct{ Body MasksBody }{Body: MasksBody{
		Position: engine.Position(),
		Left:     left,
		Right:    right,
	}}, nil
}

func maskBody(p *compare.Pane, scissor *compare.ScissorMasker) (MaskBody, bool) {
	b, ok := scissor.Scissor(p)
	if !ok {
		return MaskBody{}, false
	}
	return MaskBody{
		Clip:   p.Style("clip"),
		Bounds: [4]float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()},
	}, true
}

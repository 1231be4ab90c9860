// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"database/sql"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-atlas/internal/service"
)

// Version is reported by /health and /api/v1/info.
const Version = "0.1.0"

// Services holds the service dependencies for API handlers.
type Services struct {
	// Catalog answers the catalog service routes.
	Catalog  service.Fetcher
	Sessions *service.SessionManager
	// Dir lists catalog files. Optional.
	Dir *service.CatalogDir
	// DB is the catalog database. Optional.
	DB     *sql.DB
	Logger zerolog.Logger
	// DataDir and CatalogSource are reported by /api/v1/info.
	DataDir       string
	CatalogSource string
}

// NewConfig returns the Huma config shared by the server and tests. The
// $schema hook is dropped so response bodies reach LinkTransformer as the
// handler returned them.
func NewConfig(title string) huma.Config {
	cfg := huma.DefaultConfig(title, Version)
	cfg.Info.Description = "Map layer catalog, layer tree and map session API."
	cfg.CreateHooks = []func(huma.Config) huma.Config{}
	cfg.Transformers = append(cfg.Transformers, LinkTransformer())
	return cfg
}

// RegisterRoutes registers every REST route on api.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
	NewInfoHandler(svc).RegisterRoutes(api)
	NewDBHandler(svc.DB).RegisterRoutes(api)
}

// Types

type CatalogInput struct {
	SiteScope string `query:"site_scope" doc:"Site scope" example:"global"`
	Locale    string `query:"locale" doc:"Locale" example:"en"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterCatalog registers the catalog service routes.
func (h *APIHandler) RegisterCatalog(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("catalog"))
	huma.Get(api, "/api/v1/layer_groups", h.GetLayerGroups, huma.OperationTags("catalog"))
	huma.Get(api, "/api/v1/tree", h.GetTree, huma.OperationTags("catalog"))
	huma.Get(api, "/api/v1/catalogs", h.GetCatalogFiles, huma.OperationTags("catalog"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) GetLayers(ctx context.Context, input *CatalogInput) (*struct{ Body service.CatalogPayload }, error) {
	c, err := h.fetch(ctx, input)
	if err != nil {
		return nil, err
	}
	return &struct{ Body service.CatalogPayload }{Body: c.Payload}, nil
}

func (h *APIHandler) GetLayerGroups(ctx context.Context, input *CatalogInput) (*struct{ Body []service.LayerGroup }, error) {
	c, err := h.fetch(ctx, input)
	if err != nil {
		return nil, err
	}
	groups := c.Groups
	if groups == nil {
		groups = []service.LayerGroup{}
	}
	return &struct{ Body []service.LayerGroup }{Body: groups}, nil
}

// GetTree resolves the catalog's layer tree with the default layers active.
func (h *APIHandler) GetTree(ctx context.Context, input *CatalogInput) (*struct{ Body service.Tree }, error) {
	c, err := h.fetch(ctx, input)
	if err != nil {
		return nil, err
	}
	store := service.NewCatalogStore()
	store.Replace(c, input.SiteScope, input.Locale)
	tree := store.Tree(service.Resolver{Logger: h.svc.Logger}, store.DefaultActives())
	return &struct{ Body service.Tree }{Body: tree}, nil
}

func (h *APIHandler) GetCatalogFiles(ctx context.Context, input *struct{}) (*struct{ Body []service.CatalogFileInfo }, error) {
	if h.svc == nil || h.svc.Dir == nil {
		return &struct{ Body []service.CatalogFileInfo }{Body: []service.CatalogFileInfo{}}, nil
	}
	files, err := h.svc.Dir.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list catalogs", err)
	}
	return &struct{ Body []service.CatalogFileInfo }{Body: files}, nil
}

func (h *APIHandler) fetch(ctx context.Context, input *CatalogInput) (service.Catalog, error) {
	if h.svc == nil || h.svc.Catalog == nil {
		return service.Catalog{}, huma.Error503ServiceUnavailable("catalog not configured")
	}
	c, err := h.svc.Catalog.Fetch(ctx, input.SiteScope, input.Locale)
	if err != nil {
		return service.Catalog{}, huma.Error502BadGateway("catalog fetch failed", err)
	}
	return c, nil
}

// statusError maps service errors to Huma errors.
func statusError(err error) error {
	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrLayerNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrIndexOutOfRange):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}

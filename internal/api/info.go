package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	svc *Services
}

func NewInfoHandler(svc *Services) *InfoHandler {
	return &InfoHandler{svc: svc}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"data_dir" doc:"Data directory path"`
	Catalog  string   `json:"catalog" doc:"Where catalogs are read from" example:"dir"`
	DB       bool     `json:"db" doc:"Whether the catalog database is available"`
	Sessions int      `json:"sessions" doc:"Open map sessions"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	body := InfoBody{
		Name:     "plat-atlas",
		Version:  Version,
		DataDir:  h.svc.DataDir,
		Catalog:  h.svc.CatalogSource,
		DB:       h.svc.DB != nil,
		Features: []string{"catalog", "layer-tree", "sessions", "url-state", "compare", "datastar"},
	}
	if h.svc.DB != nil {
		body.Features = append(body.Features, "duckdb")
	}
	if h.svc.Sessions != nil {
		body.Sessions = h.svc.Sessions.Len()
	}
	return &struct{ Body InfoBody }{Body: body}, nil
}

package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-atlas/internal/api"
	"github.com/joeblew999/plat-atlas/internal/api/viewer"
	"github.com/joeblew999/plat-atlas/internal/db"
	"github.com/joeblew999/plat-atlas/internal/logging"
	"github.com/joeblew999/plat-atlas/internal/metrics"
	"github.com/joeblew999/plat-atlas/internal/service"
	"github.com/joeblew999/plat-atlas/internal/templates"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	WebDir  string // Path to web/ directory for static files and templates
	// Catalog is a catalog file served for every scope. Optional.
	Catalog string
	// CatalogURL is the base URL of a remote catalog service. Optional.
	CatalogURL string
	LogLevel   string
	// SiteScope and Locale are used by sessions whose URL names neither.
	SiteScope string
	Locale    string
	// URLWait is the debounce period for session URL writes; zero keeps
	// the debouncer's default.
	URLWait time.Duration
	// Logger overrides the logger built from LogLevel.
	Logger *zerolog.Logger
}

// Server is the atlas HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	handler  http.Handler
	humaAPI  huma.API
	db       *sql.DB
	bus      *service.EventBus
	metrics  *metrics.Metrics
	services *api.Services
	renderer *templates.Renderer
	logger   zerolog.Logger
}

// New creates a new atlas server.
func New(cfg Config) *Server {
	logger := logging.New(cfg.LogLevel)
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	mux := http.NewServeMux()

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := api.NewConfig("plat-atlas API")
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	humaAPI := humago.New(mux, humaConfig)

	s := &Server{
		config:  cfg,
		mux:     mux,
		humaAPI: humaAPI,
		bus:     service.NewEventBus(),
		metrics: metrics.New(),
		logger:  logger,
	}

	// Catalog database. The server runs without it.
	if cfg.DataDir != "" {
		conn, err := db.Open(context.Background(), db.Config{DataDir: cfg.DataDir})
		if err != nil {
			logger.Warn().Err(err).Msg("catalog database unavailable")
		} else {
			s.db = conn
		}
	}

	fetcher, source := s.catalogFetcher()
	s.services = &api.Services{
		Catalog: fetcher,
		Sessions: service.NewSessionManager(fetcher, s.bus, logger, s.metrics, service.SessionOptions{
			Scope:   cfg.SiteScope,
			Locale:  cfg.Locale,
			URLWait: cfg.URLWait,
		}),
		DB:            s.db,
		Logger:        logger,
		DataDir:       cfg.DataDir,
		CatalogSource: source,
	}
	if cfg.DataDir != "" {
		s.services.Dir = service.NewCatalogDir(cfg.DataDir)
	}

	s.renderer = s.loadRenderer()
	s.routes()
	s.handler = s.metrics.Middleware(mux)

	logger.Info().
		Str("catalog", source).
		Bool("db", s.db != nil).
		Msg("server configured")
	return s
}

// catalogFetcher picks where catalogs come from: an explicit file, a
// remote service, the catalog database when something has been imported,
// and otherwise the catalog directory under DataDir.
func (s *Server) catalogFetcher() (service.Fetcher, string) {
	switch {
	case s.config.Catalog != "":
		return service.NewFileFetcher(s.config.Catalog), "file"
	case s.config.CatalogURL != "":
		return service.NewHTTPFetcher(s.config.CatalogURL), "http"
	}
	if s.db != nil {
		keys, err := db.Keys(context.Background(), s.db)
		if err != nil {
			s.logger.Warn().Err(err).Msg("listing imported catalogs")
		} else if len(keys) > 0 {
			return db.NewFetcher(s.db), "duckdb"
		}
	}
	return service.NewCatalogDir(s.config.DataDir), "dir"
}

func (s *Server) loadRenderer() *templates.Renderer {
	if s.config.WebDir != "" {
		fragmentsDir := filepath.Join(s.config.WebDir, "templates", "fragments")
		if _, err := os.Stat(fragmentsDir); err == nil {
			r, err := templates.New(fragmentsDir)
			if err == nil {
				s.logger.Info().Str("dir", fragmentsDir).Msg("loaded fragment templates")
				return r
			}
			s.logger.Warn().Err(err).Str("dir", fragmentsDir).Msg("falling back to built-in templates")
		}
	}
	r, err := templates.Default()
	if err != nil {
		s.logger.Error().Err(err).Msg("built-in templates failed to parse")
		return nil
	}
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// OpenAPI returns the OpenAPI document of the REST and viewer routes.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Services exposes the API dependencies, for commands sharing the server's
// wiring.
func (s *Server) Services() *api.Services {
	return s.services
}

// Close closes every session, the event bus and the database.
func (s *Server) Close() error {
	s.services.Sessions.CloseAll()
	s.bus.Close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Server) routes() {
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, s.services)

	// Register viewer SSE routes using Huma + Datastar SDK
	if s.renderer != nil {
		viewer.NewHandler(s.services.Sessions, s.bus, s.renderer, s.logger).RegisterRoutes(s.humaAPI)
	}

	s.mux.Handle("GET /metrics", s.metrics.Handler())

	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}

	// Page routes
	s.mux.HandleFunc("GET /viewer", s.handleViewer)
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	for _, link := range []string{
		`</health>; rel="health"`,
		`</api/v1/sessions>; rel="sessions"`,
		`</viewer>; rel="viewer"`,
		`</openapi.json>; rel="service-desc"`,
	} {
		w.Header().Add("Link", link)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-atlas",
		"status":  "running",
	})
}

type viewerPage struct {
	Title          string
	Session        string
	SliderPosition float64
}

// handleViewer opens a session from the page URL (layers, compare,
// site_scope, locale) and serves the page that streams it.
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	if s.renderer == nil {
		http.Error(w, "viewer templates unavailable", http.StatusServiceUnavailable)
		return
	}
	// TODO: expire viewer sessions whose event stream stays disconnected.
	sess, err := s.services.Sessions.Create(r.Context(), r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	html, err := s.renderer.Render("viewer-page", viewerPage{
		Title:          "plat-atlas",
		Session:        sess.ID,
		SliderPosition: sess.State.Compare().SliderPosition,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("rendering viewer page")
		http.Error(w, "rendering viewer page failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Add("Link", fmt.Sprintf(`</api/v1/sessions/%s>; rel="session"`, sess.ID))
	_, _ = w.Write([]byte(html))
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Fetcher retrieves the catalog for a site scope and locale.
type Fetcher interface {
	Fetch(ctx context.Context, scope, locale string) (Catalog, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, scope, locale string) (Catalog, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, scope, locale string) (Catalog, error) {
	return f(ctx, scope, locale)
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

// HTTPFetcher reads the catalog from a remote catalog service.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPFetcher creates a fetcher for the service at baseURL.
func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch issues GET /layers and GET /layer_groups.
func (f *HTTPFetcher) Fetch(ctx context.Context, scope, locale string) (Catalog, error) {
	var c Catalog
	if err := f.get(ctx, "/layers", scope, locale, &c.Payload); err != nil {
		return Catalog{}, err
	}
	if err := f.get(ctx, "/layer_groups", scope, locale, &c.Groups); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

func (f *HTTPFetcher) get(ctx context.Context, path, scope, locale string, dst any) error {
	q := url.Values{}
	if scope != "" {
		q.Set("site_scope", scope)
	}
	if locale != "" {
		q.Set("locale", locale)
	}
	u := f.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fetching %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// File
// ---------------------------------------------------------------------------

// CatalogFile is the on-disk catalog format (YAML or JSON).
type CatalogFile struct {
	Layers  []Layer      `json:"layers" yaml:"layers"`
	Groups  []LayerGroup `json:"layer_groups" yaml:"layer_groups"`
	Sources []Source     `json:"sources" yaml:"sources"`
}

// Catalog converts the file into the normalized form. The result order is
// by Order, then by position in the file.
func (f CatalogFile) Catalog() Catalog {
	layers := append([]Layer(nil), f.Layers...)
	sort.SliceStable(layers, func(i, j int) bool { return layers[i].Order < layers[j].Order })

	c := Catalog{
		Payload: CatalogPayload{
			Entities: CatalogEntities{
				Layers:  make(map[string]Layer, len(layers)),
				Sources: make(map[string]Source, len(f.Sources)),
			},
			Result: make([]string, 0, len(layers)),
		},
		Groups: append([]LayerGroup(nil), f.Groups...),
	}
	for _, l := range layers {
		if _, dup := c.Payload.Entities.Layers[l.ID]; dup {
			continue
		}
		c.Payload.Entities.Layers[l.ID] = l
		c.Payload.Result = append(c.Payload.Result, l.ID)
	}
	for _, s := range f.Sources {
		c.Payload.Entities.Sources[s.ID] = s
	}
	return c
}

// FileFetcher reads the catalog from a YAML or JSON file on every fetch.
// Scope and locale are ignored: a file holds a single catalog.
type FileFetcher struct {
	path string
}

// NewFileFetcher creates a fetcher for the catalog file at path.
func NewFileFetcher(path string) *FileFetcher {
	return &FileFetcher{path: path}
}

// Fetch reads and parses the file.
func (f *FileFetcher) Fetch(ctx context.Context, scope, locale string) (Catalog, error) {
	if err := ctx.Err(); err != nil {
		return Catalog{}, err
	}
	file, err := ReadCatalogFile(f.path)
	if err != nil {
		return Catalog{}, err
	}
	return file.Catalog(), nil
}

// ReadCatalogFile parses a catalog file, choosing the decoder by extension.
func ReadCatalogFile(path string) (CatalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CatalogFile{}, fmt.Errorf("reading catalog: %w", err)
	}

	var file CatalogFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return CatalogFile{}, fmt.Errorf("parsing catalog %s: %w", filepath.Base(path), err)
	}
	return file, nil
}

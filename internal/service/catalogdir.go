package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CatalogFileInfo describes a catalog file found in a catalog directory.
type CatalogFileInfo struct {
	Name   string `json:"name" doc:"File name" example:"africa.fr.yaml"`
	Scope  string `json:"siteScope" doc:"Site scope served by the file" example:"africa"`
	Locale string `json:"locale,omitempty" doc:"Locale served by the file, empty for any" example:"fr"`
	Size   string `json:"size" doc:"Human readable file size" example:"12.4 KB"`
	Format string `json:"format" enum:"yaml,json" doc:"Encoding"`
}

var catalogExts = map[string]string{
	".yaml": "yaml",
	".yml":  "yaml",
	".json": "json",
}

// CatalogDir serves one catalog file per site scope and, optionally,
// locale. Files are named {scope}.yaml or {scope}.{locale}.yaml (or .yml,
// .json); a file named default.* answers scopes without their own file.
type CatalogDir struct {
	dir string
}

// NewCatalogDir creates a fetcher over {dataDir}/catalogs.
func NewCatalogDir(dataDir string) *CatalogDir {
	return &CatalogDir{dir: filepath.Join(dataDir, "catalogs")}
}

// Dir returns the directory scanned for catalogs.
func (d *CatalogDir) Dir() string {
	return d.dir
}

// List returns the catalog files in the directory, by name.
func (d *CatalogDir) List() ([]CatalogFileInfo, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []CatalogFileInfo{}, nil
		}
		return nil, err
	}

	files := []CatalogFileInfo{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		format, ok := catalogExts[ext]
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		scope, locale, _ := strings.Cut(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())), ".")
		files = append(files, CatalogFileInfo{
			Name:   entry.Name(),
			Scope:  scope,
			Locale: locale,
			Size:   formatSize(info.Size()),
			Format: format,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Fetch reads the most specific file for scope and locale.
func (d *CatalogDir) Fetch(ctx context.Context, scope, locale string) (Catalog, error) {
	if err := ctx.Err(); err != nil {
		return Catalog{}, err
	}
	path, err := d.resolve(scope, locale)
	if err != nil {
		return Catalog{}, err
	}
	file, err := ReadCatalogFile(path)
	if err != nil {
		return Catalog{}, err
	}
	return file.Catalog(), nil
}

func (d *CatalogDir) resolve(scope, locale string) (string, error) {
	var candidates []string
	for _, base := range []string{scope, "default"} {
		if base == "" || strings.ContainsAny(base, `/\.`) {
			continue
		}
		if locale != "" && !strings.ContainsAny(locale, `/\.`) {
			candidates = append(candidates, base+"."+locale)
		}
		candidates = append(candidates, base)
	}
	for _, name := range candidates {
		for _, ext := range []string{".yaml", ".yml", ".json"} {
			path := filepath.Join(d.dir, name+ext)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("no catalog for scope %q locale %q in %s", scope, locale, d.dir)
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

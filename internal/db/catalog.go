package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/joeblew999/plat-atlas/internal/service"
)

// Every catalog row is keyed by (site_scope, locale). Empty strings mark
// the fallback catalog.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS layer_groups (
		site_scope VARCHAR NOT NULL DEFAULT '',
		locale     VARCHAR NOT NULL DEFAULT '',
		seq        INTEGER NOT NULL,
		id         VARCHAR NOT NULL,
		slug       VARCHAR,
		name       VARCHAR,
		sort_order INTEGER NOT NULL DEFAULT 0,
		father_id  VARCHAR,
		group_type VARCHAR NOT NULL,
		active     BOOLEAN,
		info       VARCHAR,
		icon_class VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS layers (
		site_scope         VARCHAR NOT NULL DEFAULT '',
		locale             VARCHAR NOT NULL DEFAULT '',
		seq                INTEGER NOT NULL,
		id                 VARCHAR NOT NULL,
		group_id           VARCHAR,
		name               VARCHAR,
		slug               VARCHAR,
		published          BOOLEAN NOT NULL DEFAULT false,
		default_active     BOOLEAN NOT NULL DEFAULT false,
		sort_order         INTEGER NOT NULL DEFAULT 0,
		dashboard_order    INTEGER NOT NULL DEFAULT 0,
		opacity            DOUBLE NOT NULL DEFAULT 1,
		layer_date         VARCHAR,
		chart_limit        INTEGER,
		timeline           VARCHAR,
		source_ids         VARCHAR,
		interaction_config VARCHAR,
		layer_type         VARCHAR,
		layer_provider     VARCHAR,
		description        VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS sources (
		site_scope      VARCHAR NOT NULL DEFAULT '',
		locale          VARCHAR NOT NULL DEFAULT '',
		id              VARCHAR NOT NULL,
		reference_short VARCHAR,
		url             VARCHAR
	)`,
}

var catalogTables = []string{"layers", "layer_groups", "sources"}

// Migrate creates the catalog tables.
func Migrate(ctx context.Context, conn *sql.DB) error {
	for _, stmt := range schema {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating catalog tables: %w", err)
		}
	}
	return nil
}

// CatalogKey identifies one imported catalog.
type CatalogKey struct {
	Scope  string `json:"siteScope" doc:"Site scope, empty for the fallback catalog"`
	Locale string `json:"locale" doc:"Locale, empty for the fallback catalog"`
	Layers int    `json:"layers" doc:"Number of layers"`
}

// Keys lists the imported catalogs ordered by scope and locale.
func Keys(ctx context.Context, conn *sql.DB) ([]CatalogKey, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT site_scope, locale, count(*)
		FROM layers
		GROUP BY site_scope, locale
		ORDER BY site_scope, locale`)
	if err != nil {
		return nil, fmt.Errorf("listing catalogs: %w", err)
	}
	defer rows.Close()

	keys := []CatalogKey{}
	for rows.Next() {
		var k CatalogKey
		if err := rows.Scan(&k.Scope, &k.Locale, &k.Layers); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Import replaces the catalog stored under (scope, locale) with file.
func Import(ctx context.Context, conn *sql.DB, file service.CatalogFile, scope, locale string) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting import: %w", err)
	}
	defer tx.Rollback()

	for _, table := range catalogTables {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE site_scope = ? AND locale = ?", scope, locale); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	for i, g := range file.Groups {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO layer_groups
				(site_scope, locale, seq, id, slug, name, sort_order, father_id, group_type, active, info, icon_class)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			scope, locale, i, g.ID, g.Slug, g.Name, g.Order,
			nullString(g.FatherID), string(g.Type), nullBool(g.Active), g.Info, g.IconClass,
		); err != nil {
			return fmt.Errorf("inserting layer group %s: %w", g.ID, err)
		}
	}

	for i, l := range file.Layers {
		timeline, err := jsonText(l.Timeline)
		if err != nil {
			return fmt.Errorf("encoding timeline of layer %s: %w", l.ID, err)
		}
		sources, err := jsonText(l.SourceIDs)
		if err != nil {
			return fmt.Errorf("encoding sources of layer %s: %w", l.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO layers
				(site_scope, locale, seq, id, group_id, name, slug, published, default_active,
				 sort_order, dashboard_order, opacity, layer_date, chart_limit, timeline,
				 source_ids, interaction_config, layer_type, layer_provider, description)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			scope, locale, i, l.ID, l.GroupID, l.Name, l.Slug, l.Published, l.DefaultActive,
			l.Order, l.DashboardOrder, l.Opacity, nullString(l.Date), nullInt(l.ChartLimit), timeline,
			sources, l.InteractionConfig, l.LayerType, l.Provider, l.Description,
		); err != nil {
			return fmt.Errorf("inserting layer %s: %w", l.ID, err)
		}
	}

	for _, s := range file.Sources {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sources (site_scope, locale, id, reference_short, url)
			VALUES (?, ?, ?, ?, ?)`,
			scope, locale, s.ID, s.ReferenceShort, s.URL,
		); err != nil {
			return fmt.Errorf("inserting source %s: %w", s.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing import: %w", err)
	}
	return nil
}

// Fetcher serves catalogs from the catalog tables. A request for (scope,
// locale) falls back to (scope, "") and then ("", "") when nothing was
// imported under the exact key.
type Fetcher struct {
	conn *sql.DB
}

// NewFetcher creates a fetcher over conn.
func NewFetcher(conn *sql.DB) *Fetcher {
	return &Fetcher{conn: conn}
}

// Fetch reads the catalog for scope and locale.
func (f *Fetcher) Fetch(ctx context.Context, scope, locale string) (service.Catalog, error) {
	scope, locale, err := f.resolve(ctx, scope, locale)
	if err != nil {
		return service.Catalog{}, err
	}

	var file service.CatalogFile
	if file.Groups, err = f.groups(ctx, scope, locale); err != nil {
		return service.Catalog{}, err
	}
	if file.Layers, err = f.layers(ctx, scope, locale); err != nil {
		return service.Catalog{}, err
	}
	if file.Sources, err = f.sources(ctx, scope, locale); err != nil {
		return service.Catalog{}, err
	}
	return file.Catalog(), nil
}

func (f *Fetcher) resolve(ctx context.Context, scope, locale string) (string, string, error) {
	candidates := [][2]string{{scope, locale}, {scope, ""}, {"", ""}}
	for _, c := range candidates {
		var n int
		err := f.conn.QueryRowContext(ctx,
			"SELECT count(*) FROM layers WHERE site_scope = ? AND locale = ?", c[0], c[1]).Scan(&n)
		if err != nil {
			return "", "", fmt.Errorf("resolving catalog: %w", err)
		}
		if n > 0 {
			return c[0], c[1], nil
		}
	}
	return "", "", fmt.Errorf("no catalog imported for site scope %q, locale %q", scope, locale)
}

func (f *Fetcher) groups(ctx context.Context, scope, locale string) ([]service.LayerGroup, error) {
	rows, err := f.conn.QueryContext(ctx, `
		SELECT id, slug, name, sort_order, father_id, group_type, active, info, icon_class
		FROM layer_groups
		WHERE site_scope = ? AND locale = ?
		ORDER BY seq`, scope, locale)
	if err != nil {
		return nil, fmt.Errorf("querying layer groups: %w", err)
	}
	defer rows.Close()

	var out []service.LayerGroup
	for rows.Next() {
		var (
			g                     service.LayerGroup
			slug, name, info, ico sql.NullString
			father                sql.NullString
			active                sql.NullBool
			typ                   string
		)
		if err := rows.Scan(&g.ID, &slug, &name, &g.Order, &father, &typ, &active, &info, &ico); err != nil {
			return nil, fmt.Errorf("scanning layer group: %w", err)
		}
		g.Slug, g.Name, g.Info, g.IconClass = slug.String, name.String, info.String, ico.String
		g.Type = service.GroupType(typ)
		if father.Valid {
			g.FatherID = &father.String
		}
		if active.Valid {
			g.Active = &active.Bool
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (f *Fetcher) layers(ctx context.Context, scope, locale string) ([]service.Layer, error) {
	rows, err := f.conn.QueryContext(ctx, `
		SELECT id, group_id, name, slug, published, default_active, sort_order, dashboard_order,
		       opacity, layer_date, chart_limit, timeline, source_ids, interaction_config,
		       layer_type, layer_provider, description
		FROM layers
		WHERE site_scope = ? AND locale = ?
		ORDER BY seq`, scope, locale)
	if err != nil {
		return nil, fmt.Errorf("querying layers: %w", err)
	}
	defer rows.Close()

	var out []service.Layer
	for rows.Next() {
		var (
			l                                service.Layer
			group, name, slug                sql.NullString
			date, timeline, sources, ic      sql.NullString
			layerType, provider, description sql.NullString
			chartLimit                       sql.NullInt64
		)
		if err := rows.Scan(&l.ID, &group, &name, &slug, &l.Published, &l.DefaultActive,
			&l.Order, &l.DashboardOrder, &l.Opacity, &date, &chartLimit, &timeline, &sources,
			&ic, &layerType, &provider, &description); err != nil {
			return nil, fmt.Errorf("scanning layer: %w", err)
		}
		l.GroupID, l.Name, l.Slug = group.String, name.String, slug.String
		l.InteractionConfig, l.LayerType, l.Provider, l.Description = ic.String, layerType.String, provider.String, description.String
		if date.Valid {
			l.Date = &date.String
		}
		if chartLimit.Valid {
			n := int(chartLimit.Int64)
			l.ChartLimit = &n
		}
		if timeline.Valid && timeline.String != "" {
			l.Timeline = new(service.Timeline)
			if err := json.Unmarshal([]byte(timeline.String), l.Timeline); err != nil {
				return nil, fmt.Errorf("decoding timeline of layer %s: %w", l.ID, err)
			}
		}
		if sources.Valid && sources.String != "" {
			if err := json.Unmarshal([]byte(sources.String), &l.SourceIDs); err != nil {
				return nil, fmt.Errorf("decoding sources of layer %s: %w", l.ID, err)
			}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (f *Fetcher) sources(ctx context.Context, scope, locale string) ([]service.Source, error) {
	rows, err := f.conn.QueryContext(ctx, `
		SELECT id, reference_short, url
		FROM sources
		WHERE site_scope = ? AND locale = ?`, scope, locale)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer rows.Close()

	var out []service.Source
	for rows.Next() {
		var (
			s        service.Source
			ref, url sql.NullString
		)
		if err := rows.Scan(&s.ID, &ref, &url); err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		s.ReferenceShort, s.URL = ref.String, url.String
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

// jsonText encodes v for a VARCHAR column, storing NULL for nil values.
func jsonText[T any](v T) (sql.NullString, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// Package service contains the map-view state engine: catalog store,
// hierarchy resolution, the active-set store, compare state and sessions.
package service

import "github.com/joeblew999/plat-atlas/internal/urlstate"

// GroupType is the level of a layer group node in the hierarchy.
type GroupType string

const (
	GroupTypeGroup       GroupType = "group"
	GroupTypeCategory    GroupType = "category"
	GroupTypeSubcategory GroupType = "subcategory"
	GroupTypeSubgroup    GroupType = "subgroup"
)

// depth returns the expected father-chain length for a node of this type.
func (t GroupType) depth() int {
	switch t {
	case GroupTypeGroup:
		return 0
	case GroupTypeCategory:
		return 1
	case GroupTypeSubcategory:
		return 2
	case GroupTypeSubgroup:
		return 3
	}
	return -1
}

// LayerGroup is one node of the layer-group forest.
type LayerGroup struct {
	ID        string    `json:"id" yaml:"id" doc:"Unique group identifier" example:"10"`
	Slug      string    `json:"slug" yaml:"slug" doc:"URL slug" example:"climate"`
	Name      string    `json:"name,omitempty" yaml:"name" doc:"Display name" example:"Climate"`
	Order     int       `json:"order" yaml:"order" doc:"Sort order among siblings"`
	FatherID  *string   `json:"father,omitempty" yaml:"father" doc:"Parent group id"`
	Type      GroupType `json:"layer_group_type" yaml:"type" enum:"group,category,subcategory,subgroup" doc:"Hierarchy level"`
	Active    *bool     `json:"active,omitempty" yaml:"active" doc:"Explicit open/closed flag"`
	Info      string    `json:"info,omitempty" yaml:"info" doc:"Description"`
	IconClass string    `json:"icon_class,omitempty" yaml:"icon_class" doc:"Icon CSS class"`
}

// Timeline describes the dates a temporal layer can be shown at.
type Timeline struct {
	Steps       []string `json:"steps,omitempty" yaml:"steps" doc:"Selectable dates"`
	StartDate   string   `json:"startDate,omitempty" yaml:"start_date" doc:"First date"`
	EndDate     string   `json:"endDate,omitempty" yaml:"end_date" doc:"Last date"`
	DefaultDate string   `json:"defaultDate,omitempty" yaml:"default_date" doc:"Date shown when none is selected"`
	Period      string   `json:"period,omitempty" yaml:"period" doc:"Step period" example:"monthly"`
}

// Layer is a map layer record from the catalog.
type Layer struct {
	ID                string    `json:"id" yaml:"id" doc:"Unique layer identifier" example:"1"`
	GroupID           string    `json:"group" yaml:"group" doc:"Owning layer group id" example:"10"`
	Name              string    `json:"name" yaml:"name" doc:"Display name" example:"Mangroves"`
	Slug              string    `json:"slug,omitempty" yaml:"slug" doc:"URL slug"`
	Published         bool      `json:"published" yaml:"published" doc:"Whether layer is published"`
	DefaultActive     bool      `json:"active" yaml:"active" doc:"Whether layer is on by default"`
	Order             int       `json:"order" yaml:"order" doc:"Sort order"`
	DashboardOrder    int       `json:"dashboard_order" yaml:"dashboard_order" doc:"Sort order inside subcategories"`
	Opacity           float64   `json:"opacity" yaml:"opacity" minimum:"0" maximum:"1" doc:"Layer opacity (0-1)" example:"0.7"`
	Date              *string   `json:"date,omitempty" yaml:"date" doc:"Selected timeline date"`
	ChartLimit        *int      `json:"chartLimit,omitempty" yaml:"chart_limit" doc:"Number of series shown in widgets"`
	Timeline          *Timeline `json:"timeline,omitempty" yaml:"timeline" doc:"Timeline configuration"`
	SourceIDs         []string  `json:"sourceIds,omitempty" yaml:"sources" doc:"Source ids"`
	InteractionConfig string    `json:"interactionConfig,omitempty" yaml:"interaction_config" doc:"Popup configuration (JSON string)"`
	LayerType         string    `json:"layer_type,omitempty" yaml:"layer_type" doc:"Renderer type" example:"raster"`
	Provider          string    `json:"layer_provider,omitempty" yaml:"layer_provider" doc:"Tile provider" example:"cartodb"`
	Description       string    `json:"description,omitempty" yaml:"description" doc:"Layer description"`
}

// Source is a dataset citation attached to layers.
type Source struct {
	ID             string `json:"id" yaml:"id" doc:"Unique source identifier"`
	ReferenceShort string `json:"reference_short,omitempty" yaml:"reference_short" doc:"Short citation"`
	URL            string `json:"url,omitempty" yaml:"url" doc:"Citation link"`
}

// LayerInfo is the description and citation shown next to a layer.
type LayerInfo struct {
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
	Link        string `json:"link,omitempty"`
}

// CatalogEntities is the entity table of a normalized catalog payload.
type CatalogEntities struct {
	Layers  map[string]Layer  `json:"layers" doc:"Layers keyed by id"`
	Sources map[string]Source `json:"sources" doc:"Sources keyed by id"`
}

// CatalogPayload is the normalized response of the catalog service.
type CatalogPayload struct {
	Entities CatalogEntities `json:"entities"`
	Result   []string        `json:"result" doc:"Layer ids in catalog order"`
}

// Catalog is everything one catalog fetch returns.
type Catalog struct {
	Payload CatalogPayload
	Groups  []LayerGroup
}

// PersistedLayerEntry is the URL-serializable subset of a layer's state.
type PersistedLayerEntry = urlstate.Entry

// CompareState is the side-by-side comparison state.
type CompareState struct {
	Enabled        bool    `json:"enabled" doc:"Whether compare mode is on"`
	LeftLayerID    string  `json:"leftLayerId,omitempty" doc:"Layer shown left of the divider"`
	RightLayerID   string  `json:"rightLayerId,omitempty" doc:"Layer shown right of the divider"`
	SliderPosition float64 `json:"sliderPosition" minimum:"0" maximum:"100" doc:"Divider position in percent"`
}

// Ready reports whether both sides are chosen and distinct.
func (c CompareState) Ready() bool {
	return c.Enabled && c.LeftLayerID != "" && c.RightLayerID != "" && c.LeftLayerID != c.RightLayerID
}

// Side returns "left", "right" or "" for a layer id.
func (c CompareState) Side(id string) string {
	switch id {
	case "":
		return ""
	case c.LeftLayerID:
		return "left"
	case c.RightLayerID:
		return "right"
	}
	return ""
}

package service

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
)

// Place is a geocoding match.
type Place struct {
	Name   string   `json:"name"`
	Center orb.Point `json:"center"`
	Bound  orb.Bound `json:"bound"`
}

// Geocoder resolves free-text place names.
type Geocoder interface {
	Geocode(ctx context.Context, query string) ([]Place, error)
}

// SearchArea looks up query and returns the first match's bounds. Lookup
// failures are logged and yield nil; the caller keeps its current view.
func SearchArea(ctx context.Context, g Geocoder, logger zerolog.Logger, query string) *orb.Bound {
	if g == nil || query == "" {
		return nil
	}
	places, err := g.Geocode(ctx, query)
	if err != nil {
		logger.Warn().Err(err).Str("query", query).Msg("area search failed")
		return nil
	}
	if len(places) == 0 {
		logger.Warn().Str("query", query).Msg("area search found no places")
		return nil
	}
	b := places[0].Bound
	if b.IsZero() {
		b = places[0].Center.Bound()
	}
	return &b
}

package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-atlas/internal/humastar"
)

// links maps operation paths to their RFC 8288 Link header values.
// Enables restish hypermedia navigation via `restish links <url>`.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/layers>; rel="layers"`,
		`</api/v1/layer_groups>; rel="layer_groups"`,
		`</api/v1/sessions>; rel="sessions"`,
		`</openapi.json>; rel="service-desc"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/catalogs>; rel="catalogs"`,
	},
	"/api/v1/layers": {
		`</api/v1/layer_groups>; rel="layer_groups"`,
		`</api/v1/tree>; rel="tree"`,
	},
	"/api/v1/layer_groups": {
		`</api/v1/layers>; rel="layers"`,
		`</api/v1/tree>; rel="tree"`,
	},
	"/api/v1/tree": {
		`</api/v1/layers>; rel="layers"`,
		`</api/v1/layer_groups>; rel="layer_groups"`,
	},
	"/api/v1/catalogs": {
		`</api/v1/catalogs/imported>; rel="imported"`,
	},
	"/api/v1/sessions": {
		`</api/v1/sessions>; rel="create-form"`,
	},
	"/api/v1/sessions/{id}": {
		`</api/v1/sessions>; rel="collection"`,
	},
	"/api/v1/tables": {
		`</api/v1/catalogs/imported>; rel="imported"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link
// headers: the static links of the operation, a self link on item
// endpoints, and the actions of response bodies implementing
// humastar.Actor.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		// Item endpoints get a self link
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		if a, ok := v.(humastar.Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}

		return v, nil
	}
}

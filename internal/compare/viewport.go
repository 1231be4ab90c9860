// Package compare keeps a side-by-side layer comparison in sync with a map
// viewport: it finds the two layers' rendered containers, clips each to its
// side of the divider, and follows pans, zooms and divider moves.
package compare

import "github.com/paulmach/orb"

// Viewport events the engine subscribes to.
const (
	EventMove     = "move"
	EventZoom     = "zoom"
	EventLayerAdd = "layeradd"
)

// Element is a handle to a rendered container, such as a DOM node.
// Handles must be comparable; two layers drawn into the same element
// cannot be compared.
type Element any

// Viewport is the map surface hosting the rendered layers.
type Viewport interface {
	// Size is the viewport size in pixels.
	Size() orb.Point
	// ContainerPointToLayerPoint converts a viewport pixel to the layer
	// coordinate space masks are expressed in.
	ContainerPointToLayerPoint(p orb.Point) orb.Point
	DisableDragging()
	EnableDragging()
	// On subscribes fn to a viewport event and returns its unsubscribe.
	// fn may be called synchronously, from inside any Viewport or Masker
	// method.
	On(event string, fn func()) (off func())
	// Observe calls fn whenever the viewport's element tree changes.
	Observe(fn func()) (disconnect func())
	// Layers returns the layers currently rendered.
	Layers() []RenderedLayer
	// Invalidate asks the viewport to redraw.
	Invalidate()
}

// RenderedLayer is a layer instance drawn by the viewport. Its container is
// found through ContainerGetter, then LayerGroup, then RawContainer.
type RenderedLayer interface {
	LayerID() string
}

// ContainerGetter is implemented by layers exposing their container.
type ContainerGetter interface {
	Container() Element
}

// LayerGroup is implemented by layers that draw through child layers.
type LayerGroup interface {
	Children() []RenderedLayer
}

// RawContainer is implemented by layers whose container is only reachable
// through an internal handle.
type RawContainer interface {
	RawContainer() Element
}

// ContainerOf returns the element l draws into, or nil when none of the
// retrieval strategies yield one yet.
func ContainerOf(l RenderedLayer) Element {
	if l == nil {
		return nil
	}
	if g, ok := l.(ContainerGetter); ok {
		if el := g.Container(); el != nil {
			return el
		}
	}
	if g, ok := l.(LayerGroup); ok {
		for _, child := range g.Children() {
			if el := ContainerOf(child); el != nil {
				return el
			}
		}
	}
	if r, ok := l.(RawContainer); ok {
		if el := r.RawContainer(); el != nil {
			return el
		}
	}
	return nil
}

// allContainers returns every distinct container of layers and their
// descendants.
func allContainers(layers []RenderedLayer) []Element {
	var out []Element
	seen := make(map[Element]bool)
	var walk func([]RenderedLayer)
	walk = func(ls []RenderedLayer) {
		for _, l := range ls {
			if el := ContainerOf(l); el != nil && !seen[el] {
				seen[el] = true
				out = append(out, el)
			}
			if g, ok := l.(LayerGroup); ok {
				walk(g.Children())
			}
		}
	}
	walk(layers)
	return out
}

func findLayer(layers []RenderedLayer, id string) RenderedLayer {
	for _, l := range layers {
		if l != nil && l.LayerID() == id {
			return l
		}
	}
	return nil
}

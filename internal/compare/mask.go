package compare

import (
	"fmt"
	"sync"

	"github.com/paulmach/orb"
)

// Masker restricts an element's visible area to a rectangle.
type Masker interface {
	Apply(el Element, rect orb.Bound)
	Clear(el Element)
}

// ComputeMasks splits the viewport at position percent of its width. nw
// and se are the layer-space corners of the viewport. The left rectangle
// covers nw..split, the right one split..se.
func ComputeMasks(size, nw, se orb.Point, position float64) (left, right orb.Bound) {
	clipX := nw.X() + size.X()*clamp(position)/100
	left = orb.Bound{Min: orb.Point{nw.X(), nw.Y()}, Max: orb.Point{clipX, se.Y()}}
	right = orb.Bound{Min: orb.Point{clipX, nw.Y()}, Max: orb.Point{se.X(), se.Y()}}
	return left, right
}

// ViewportMasks computes the masks for the viewport's current projection.
func ViewportMasks(vp Viewport, position float64) (left, right orb.Bound) {
	size := vp.Size()
	nw := vp.ContainerPointToLayerPoint(orb.Point{0, 0})
	se := vp.ContainerPointToLayerPoint(size)
	return ComputeMasks(size, nw, se, position)
}

// ClipRect formats b as a CSS clip value: rect(top, right, bottom, left).
func ClipRect(b orb.Bound) string {
	return fmt.Sprintf("rect(%gpx, %gpx, %gpx, %gpx)", b.Min.Y(), b.Max.X(), b.Max.Y(), b.Min.X())
}

// Styler is an element whose inline style can be set.
type Styler interface {
	SetStyle(property, value string)
}

// CSSClipMasker masks elements through the CSS clip property. Elements
// that are not Stylers are left alone.
type CSSClipMasker struct{}

// Apply sets clip to rect.
func (CSSClipMasker) Apply(el Element, rect orb.Bound) {
	if s, ok := el.(Styler); ok {
		s.SetStyle("clip", ClipRect(rect))
	}
}

// Clear removes the clip.
func (CSSClipMasker) Clear(el Element) {
	if s, ok := el.(Styler); ok {
		s.SetStyle("clip", "")
	}
}

// ScissorMasker records a scissor rectangle per element for surfaces that
// draw through a single canvas and clip at paint time.
type ScissorMasker struct {
	mu    sync.RWMutex
	rects map[Element]orb.Bound
}

// NewScissorMasker creates an empty masker.
func NewScissorMasker() *ScissorMasker {
	return &ScissorMasker{rects: make(map[Element]orb.Bound)}
}

// Apply records rect for el.
func (m *ScissorMasker) Apply(el Element, rect orb.Bound) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rects[el] = rect
}

// Clear forgets el's rectangle.
func (m *ScissorMasker) Clear(el Element) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rects, el)
}

// Scissor returns the rectangle el is clipped to, if any.
func (m *ScissorMasker) Scissor(el Element) (orb.Bound, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rects[el]
	return r, ok
}

// Len returns the number of masked elements.
func (m *ScissorMasker) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rects)
}

func clamp(p float64) float64 {
	return max(0, min(100, p))
}

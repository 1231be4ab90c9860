package compare

import (
	"sync"

	"github.com/paulmach/orb"
)

// Snapshot is a Viewport frozen at one size and origin, drawing each layer
// into its own Pane. It lets the engine compute masks where no live map
// is attached. It never emits events.
type Snapshot struct {
	size   orb.Point
	origin orb.Point
	panes  []*Pane
}

// NewSnapshot creates a viewport of size pixels whose top-left corner sits
// at origin in layer space, with one pane per layer id.
func NewSnapshot(size, origin orb.Point, layerIDs ...string) *Snapshot {
	s := &Snapshot{size: size, origin: origin}
	for _, id := range layerIDs {
		s.panes = append(s.panes, &Pane{id: id, style: map[string]string{}})
	}
	return s
}

// Pane returns the pane of layer id, or nil.
func (s *Snapshot) Pane(id string) *Pane {
	for _, p := range s.panes {
		if p.id == id {
			return p
		}
	}
	return nil
}

func (s *Snapshot) Size() orb.Point { return s.size }

func (s *Snapshot) ContainerPointToLayerPoint(p orb.Point) orb.Point {
	return orb.Point{p.X() + s.origin.X(), p.Y() + s.origin.Y()}
}

func (s *Snapshot) DisableDragging() {}
func (s *Snapshot) EnableDragging()  {}

func (s *Snapshot) On(string, func()) func() { return func() {} }
func (s *Snapshot) Observe(func()) func()    { return func() {} }

func (s *Snapshot) Layers() []RenderedLayer {
	out := make([]RenderedLayer, len(s.panes))
	for i, p := range s.panes {
		out[i] = p
	}
	return out
}

func (s *Snapshot) Invalidate() {}

// Pane is a snapshot layer that is its own container.
type Pane struct {
	id string

	mu    sync.Mutex
	style map[string]string
}

func (p *Pane) LayerID() string    { return p.id }
func (p *Pane) Container() Element { return p }

// SetStyle implements Styler. An empty value removes the property.
func (p *Pane) SetStyle(property, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if value == "" {
		delete(p.style, property)
		return
	}
	p.style[property] = value
}

// Style returns an inline style property.
func (p *Pane) Style(property string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.style[property]
}

// Maskers applies every masker in turn.
type Maskers []Masker

func (ms Maskers) Apply(el Element, rect orb.Bound) {
	for _, m := range ms {
		m.Apply(el, rect)
	}
}

func (ms Maskers) Clear(el Element) {
	for _, m := range ms {
		m.Clear(el)
	}
}

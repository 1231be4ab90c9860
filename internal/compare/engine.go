package compare

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-atlas/internal/metrics"
)

// Defaults for Options.
const (
	DefaultInterval      = 500 * time.Millisecond
	DefaultMaxAttempts   = 40
	DefaultLayerAddDelay = 100 * time.Millisecond
)

// Keyboard steps in percent.
const (
	KeyStep      = 2
	KeyShiftStep = 10
)

// State is the comparison the engine should show.
type State struct {
	Enabled  bool
	Left     string
	Right    string
	Position float64
}

// Ready reports whether both sides are chosen and distinct.
func (s State) Ready() bool {
	return s.Enabled && s.Left != "" && s.Right != "" && s.Left != s.Right
}

// Phase is the engine's comparison phase.
type Phase int

const (
	PhaseDisabled Phase = iota
	PhasePending
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseReady:
		return "ready"
	}
	return "disabled"
}

type searchState int

const (
	searching searchState = iota
	applied
	tornDown
)

// search is one attempt at getting masks onto late-mounting layers. All
// of its triggers stop through stop.
type search struct {
	state  searchState
	stops  []func()
	timers []*time.Timer
	done   chan struct{}
	once   sync.Once
}

func (s *search) stop() {
	s.once.Do(func() {
		close(s.done)
		for _, fn := range s.stops {
			fn()
		}
		for _, t := range s.timers {
			t.Stop()
		}
	})
}

// Options configures an Engine.
type Options struct {
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// Interval is the poll period while searching, at most 500ms.
	Interval time.Duration
	// MaxAttempts bounds the number of polls per search.
	MaxAttempts int
	// LayerAddDelay postpones the attempt made after a layeradd event.
	LayerAddDelay time.Duration
	// Commit receives the divider position at the end of a drag or after a
	// keyboard move.
	Commit func(position float64)
}

// Engine synchronizes a comparison with a viewport.
type Engine struct {
	vp     Viewport
	masker Masker
	opts   Options

	// held is true while mu is locked.
	held atomic.Bool

	mu       sync.Mutex
	state    State
	phase    Phase
	position float64
	dragging bool
	search   *search
	offView  []func()
	tracked  []Element
	closed   bool
}

// NewEngine creates an engine in the disabled phase.
func NewEngine(vp Viewport, masker Masker, opts Options) *Engine {
	if opts.Interval <= 0 || opts.Interval > DefaultInterval {
		opts.Interval = DefaultInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.LayerAddDelay <= 0 {
		opts.LayerAddDelay = DefaultLayerAddDelay
	}
	return &Engine{vp: vp, masker: masker, opts: opts, position: 50}
}

func (e *Engine) lock() {
	e.mu.Lock()
	e.held.Store(true)
}

func (e *Engine) unlock() {
	e.held.Store(false)
	e.mu.Unlock()
}

// callback wraps fn for the viewport. A call arriving while the engine
// holds its lock, as a synchronous delivery from inside On, Observe,
// Layers or Masker.Apply would, runs fn on its own goroutine instead.
func (e *Engine) callback(fn func()) func() {
	return func() {
		if e.held.Load() {
			go fn()
			return
		}
		fn()
	}
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.lock()
	defer e.unlock()
	return e.phase
}

// Position returns the live divider position.
func (e *Engine) Position() float64 {
	e.lock()
	defer e.unlock()
	return e.position
}

// Dragging reports whether a divider drag is in progress.
func (e *Engine) Dragging() bool {
	e.lock()
	defer e.unlock()
	return e.dragging
}

// Sync moves the engine to s. Entering ready starts searching for the two
// layers; leaving ready, or swapping a side, clears every mask.
func (e *Engine) Sync(s State) {
	e.lock()
	if e.closed {
		e.unlock()
		return
	}
	s.Position = clamp(s.Position)
	prev := e.state
	wasReady := e.phase == PhaseReady
	e.state = s
	if !e.dragging {
		e.position = s.Position
	}

	switch {
	case !s.Enabled:
		e.phase = PhaseDisabled
	case s.Ready():
		e.phase = PhaseReady
	default:
		e.phase = PhasePending
	}

	swapped := prev.Left != s.Left || prev.Right != s.Right
	invalidate := false
	if wasReady && (e.phase != PhaseReady || swapped) {
		e.teardownLocked()
		invalidate = true
	}
	if e.phase == PhaseReady {
		if !wasReady || swapped {
			e.startLocked()
		} else if prev.Position != s.Position && !e.dragging {
			e.applyLocked("slider")
		}
	}
	e.unlock()

	if invalidate {
		e.vp.Invalidate()
	}
}

// Close tears everything down. The engine ignores later calls.
func (e *Engine) Close() {
	e.lock()
	if e.closed {
		e.unlock()
		return
	}
	e.closed = true
	wasReady := e.phase == PhaseReady
	e.teardownLocked()
	e.phase = PhaseDisabled
	e.unlock()

	if wasReady {
		e.vp.Invalidate()
	}
}

// Reapply recomputes the masks at the live position. It reports whether
// masks were applied.
func (e *Engine) Reapply(trigger string) bool {
	e.lock()
	defer e.unlock()
	if e.phase != PhaseReady {
		return false
	}
	return e.applyLocked(trigger)
}

// PointerDown starts a divider drag and stops the viewport panning.
func (e *Engine) PointerDown() bool {
	e.lock()
	defer e.unlock()
	if e.phase != PhaseReady || e.dragging {
		return false
	}
	e.dragging = true
	e.vp.DisableDragging()
	return true
}

// PointerMove follows a drag. clientX is the pointer's horizontal position
// and container the viewport's client rectangle, both in page pixels.
func (e *Engine) PointerMove(clientX float64, container orb.Bound) {
	e.lock()
	defer e.unlock()
	if !e.dragging {
		return
	}
	width := container.Max.X() - container.Min.X()
	if width <= 0 {
		return
	}
	e.position = clamp((clientX - container.Min.X()) / width * 100)
	e.applyLocked("drag")
}

// PointerUp ends a drag, re-enables panning and commits the position.
func (e *Engine) PointerUp() {
	e.lock()
	if !e.dragging {
		e.unlock()
		return
	}
	e.dragging = false
	e.vp.EnableDragging()
	pos := e.position
	e.state.Position = pos
	e.unlock()

	e.commit(pos)
}

// Key handles ArrowLeft and ArrowRight, moving the divider by KeyStep or,
// with shift, KeyShiftStep. It reports whether the key was handled.
func (e *Engine) Key(key string, shift bool) bool {
	step := float64(KeyStep)
	if shift {
		step = KeyShiftStep
	}
	switch key {
	case "ArrowLeft":
		step = -step
	case "ArrowRight":
	default:
		return false
	}

	e.lock()
	if e.phase != PhaseReady {
		e.unlock()
		return false
	}
	e.position = clamp(e.position + step)
	e.state.Position = e.position
	e.applyLocked("key")
	pos := e.position
	e.unlock()

	e.commit(pos)
	return true
}

func (e *Engine) commit(pos float64) {
	if e.opts.Commit != nil {
		e.opts.Commit(pos)
	}
}

// applyLocked masks the two compared containers at the live position.
func (e *Engine) applyLocked(trigger string) bool {
	layers := e.vp.Layers()
	left := ContainerOf(findLayer(layers, e.state.Left))
	right := ContainerOf(findLayer(layers, e.state.Right))
	if left == nil || right == nil || left == right {
		e.opts.Metrics.IncMaskApplication(trigger, false)
		e.opts.Logger.Debug().
			Str("trigger", trigger).
			Bool("left_found", left != nil).
			Bool("right_found", right != nil).
			Msg("compare masks not applicable yet")
		return false
	}

	l, r := ViewportMasks(e.vp, e.position)
	e.masker.Apply(left, l)
	e.masker.Apply(right, r)
	e.tracked = []Element{left, right}
	e.opts.Metrics.IncMaskApplication(trigger, true)

	if s := e.search; s != nil && s.state == searching {
		s.state = applied
		s.stop()
	}
	return true
}

// startLocked subscribes to viewport movement and applies the masks, or
// starts searching for the containers when they are not mounted yet.
func (e *Engine) startLocked() {
	e.offView = append(e.offView,
		e.vp.On(EventMove, e.callback(func() { e.Reapply("move") })),
		e.vp.On(EventZoom, e.callback(func() { e.Reapply("zoom") })),
	)

	s := &search{state: searching, done: make(chan struct{})}
	e.search = s
	if e.applyLocked("initial") {
		return
	}

	s.stops = append(s.stops,
		e.vp.On(EventLayerAdd, e.callback(func() {
			e.lock()
			defer e.unlock()
			if e.search != s || s.state != searching {
				return
			}
			s.timers = append(s.timers, time.AfterFunc(e.opts.LayerAddDelay, func() {
				e.trySearch(s, "layeradd")
			}))
		})),
		e.vp.Observe(e.callback(func() { e.trySearch(s, "mutation") })),
	)
	go e.poll(s)
}

// trySearch attempts to apply the masks for s. It reports whether s is
// over, either applied or torn down.
func (e *Engine) trySearch(s *search, trigger string) bool {
	e.lock()
	defer e.unlock()
	if e.search != s || s.state != searching {
		return true
	}
	return e.applyLocked(trigger)
}

func (e *Engine) poll(s *search) {
	t := time.NewTicker(e.opts.Interval)
	defer t.Stop()
	for attempt := 1; ; attempt++ {
		select {
		case <-s.done:
			return
		case <-t.C:
		}
		if e.trySearch(s, "poll") {
			return
		}
		if attempt >= e.opts.MaxAttempts {
			e.opts.Logger.Warn().
				Int("attempts", attempt).
				Msg("compare layers did not mount, polling stopped")
			return
		}
	}
}

// teardownLocked stops any search and viewport subscription, ends a drag,
// and clears the masks from the tracked containers and from every layer
// in the viewport.
func (e *Engine) teardownLocked() {
	if s := e.search; s != nil {
		s.state = tornDown
		s.stop()
		e.search = nil
	}
	for _, off := range e.offView {
		off()
	}
	e.offView = nil
	if e.dragging {
		e.dragging = false
		e.vp.EnableDragging()
	}

	cleared := make(map[Element]bool)
	for _, el := range e.tracked {
		if el != nil && !cleared[el] {
			cleared[el] = true
			e.masker.Clear(el)
		}
	}
	for _, el := range allContainers(e.vp.Layers()) {
		if !cleared[el] {
			cleared[el] = true
			e.masker.Clear(el)
		}
	}
	e.tracked = nil
}

package compare

import (
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	timeout = 2 * time.Second
	tick    = 2 * time.Millisecond
)

type fakeEl struct{ name string }

type fakeLayer struct {
	id string
	mu sync.Mutex
	el *fakeEl
}

func (l *fakeLayer) LayerID() string { return l.id }

func (l *fakeLayer) Container() Element {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.el == nil {
		return nil
	}
	return l.el
}

type fakeViewport struct {
	mu          sync.Mutex
	size        orb.Point
	origin      orb.Point
	layers      []RenderedLayer
	handlers    map[string]map[int]func()
	observers   map[int]func()
	next        int
	dragging    bool
	invalidated int
}

func newFakeViewport(layers ...RenderedLayer) *fakeViewport {
	return &fakeViewport{
		size:      orb.Point{800, 600},
		layers:    layers,
		handlers:  map[string]map[int]func(){},
		observers: map[int]func(){},
		dragging:  true,
	}
}

func (v *fakeViewport) Size() orb.Point {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.size
}

func (v *fakeViewport) ContainerPointToLayerPoint(p orb.Point) orb.Point {
	v.mu.Lock()
	defer v.mu.Unlock()
	return orb.Point{p.X() + v.origin.X(), p.Y() + v.origin.Y()}
}

func (v *fakeViewport) DisableDragging() { v.mu.Lock(); v.dragging = false; v.mu.Unlock() }
func (v *fakeViewport) EnableDragging()  { v.mu.Lock(); v.dragging = true; v.mu.Unlock() }

func (v *fakeViewport) On(event string, fn func()) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.next++
	id := v.next
	if v.handlers[event] == nil {
		v.handlers[event] = map[int]func(){}
	}
	v.handlers[event][id] = fn
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.handlers[event], id)
	}
}

func (v *fakeViewport) Observe(fn func()) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.next++
	id := v.next
	v.observers[id] = fn
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.observers, id)
	}
}

func (v *fakeViewport) Layers() []RenderedLayer {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]RenderedLayer(nil), v.layers...)
}

func (v *fakeViewport) Invalidate() { v.mu.Lock(); v.invalidated++; v.mu.Unlock() }

func (v *fakeViewport) fire(event string) {
	v.mu.Lock()
	var fns []func()
	for _, fn := range v.handlers[event] {
		fns = append(fns, fn)
	}
	v.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (v *fakeViewport) mutate() {
	v.mu.Lock()
	var fns []func()
	for _, fn := range v.observers {
		fns = append(fns, fn)
	}
	v.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (v *fakeViewport) subscriptions() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := len(v.observers)
	for _, hs := range v.handlers {
		n += len(hs)
	}
	return n
}

func (v *fakeViewport) mount(l *fakeLayer, el *fakeEl) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.el = el
}

func (v *fakeViewport) isDragging() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dragging
}

func (v *fakeViewport) invalidations() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.invalidated
}

func readyState(pos float64) State {
	return State{Enabled: true, Left: "L", Right: "R", Position: pos}
}

func mounted() (*fakeViewport, *fakeEl, *fakeEl) {
	l, r := &fakeEl{"l"}, &fakeEl{"r"}
	vp := newFakeViewport(&fakeLayer{id: "L", el: l}, &fakeLayer{id: "R", el: r}, &fakeLayer{id: "other", el: &fakeEl{"o"}})
	return vp, l, r
}

func TestComputeMasks(t *testing.T) {
	left, right := ComputeMasks(orb.Point{800, 600}, orb.Point{-100, 20}, orb.Point{700, 620}, 25)

	assert.Equal(t, orb.Bound{Min: orb.Point{-100, 20}, Max: orb.Point{100, 620}}, left)
	assert.Equal(t, orb.Bound{Min: orb.Point{100, 20}, Max: orb.Point{700, 620}}, right)
	assert.Equal(t, "rect(20px, 100px, 620px, -100px)", ClipRect(left))
	assert.Equal(t, "rect(20px, 700px, 620px, 100px)", ClipRect(right))

	left, _ = ComputeMasks(orb.Point{800, 600}, orb.Point{0, 0}, orb.Point{800, 600}, 150)
	assert.Equal(t, 800.0, left.Max.X())
}

func TestEngine_phases(t *testing.T) {
	vp, l, r := mounted()
	m := NewScissorMasker()
	e := NewEngine(vp, m, Options{})
	assert.Equal(t, PhaseDisabled, e.Phase())

	e.Sync(State{Enabled: true, Left: "L"})
	assert.Equal(t, PhasePending, e.Phase())
	assert.Zero(t, m.Len())

	e.Sync(readyState(50))
	assert.Equal(t, PhaseReady, e.Phase())
	lr, ok := m.Scissor(l)
	require.True(t, ok)
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{400, 600}}, lr)
	rr, ok := m.Scissor(r)
	require.True(t, ok)
	assert.Equal(t, orb.Bound{Min: orb.Point{400, 0}, Max: orb.Point{800, 600}}, rr)

	e.Sync(readyState(30))
	lr, _ = m.Scissor(l)
	assert.Equal(t, 240.0, lr.Max.X())
}

func TestEngine_disableClearsEverything(t *testing.T) {
	vp, l, r := mounted()
	m := NewScissorMasker()
	stray := &fakeEl{"o"}
	m.Apply(stray, orb.Bound{})
	e := NewEngine(vp, m, Options{})

	e.Sync(readyState(50))
	require.Equal(t, 3, m.Len())
	vp.mount(vp.layers[2].(*fakeLayer), stray)

	e.Sync(State{Enabled: false, Position: 50})

	assert.Zero(t, m.Len())
	_, ok := m.Scissor(l)
	assert.False(t, ok)
	_, ok = m.Scissor(r)
	assert.False(t, ok)
	assert.Equal(t, 1, vp.invalidations())
	assert.Zero(t, vp.subscriptions())
}

func TestEngine_unsetSideClears(t *testing.T) {
	vp, _, _ := mounted()
	m := NewScissorMasker()
	e := NewEngine(vp, m, Options{})
	e.Sync(readyState(50))

	e.Sync(State{Enabled: true, Left: "L", Position: 50})

	assert.Equal(t, PhasePending, e.Phase())
	assert.Zero(t, m.Len())
	assert.Equal(t, 1, vp.invalidations())
}

func TestEngine_swapReappliesOnNewPair(t *testing.T) {
	vp, l, _ := mounted()
	m := NewScissorMasker()
	e := NewEngine(vp, m, Options{})
	e.Sync(readyState(50))

	e.Sync(State{Enabled: true, Left: "L", Right: "other", Position: 50})

	assert.Equal(t, PhaseReady, e.Phase())
	assert.Equal(t, 2, m.Len())
	_, ok := m.Scissor(l)
	assert.True(t, ok)
	assert.Equal(t, 1, vp.invalidations())
}

func TestEngine_sameContainerNotApplicable(t *testing.T) {
	shared := &fakeEl{"canvas"}
	vp := newFakeViewport(&fakeLayer{id: "L", el: shared}, &fakeLayer{id: "R", el: shared})
	m := NewScissorMasker()
	e := NewEngine(vp, m, Options{Interval: time.Millisecond, MaxAttempts: 3})
	defer e.Close()

	e.Sync(readyState(50))
	assert.False(t, e.Reapply("test"))
	assert.Zero(t, m.Len())
}

func TestEngine_retryViaPoll(t *testing.T) {
	left, right := &fakeLayer{id: "L"}, &fakeLayer{id: "R"}
	vp := newFakeViewport(left, right)
	m := NewScissorMasker()
	e := NewEngine(vp, m, Options{Interval: 5 * time.Millisecond})
	defer e.Close()

	e.Sync(readyState(50))
	assert.Zero(t, m.Len())

	vp.mount(left, &fakeEl{"l"})
	vp.mount(right, &fakeEl{"r"})

	require.Eventually(t, func() bool { return m.Len() == 2 }, timeout, tick)
	require.Eventually(t, func() bool { return vp.subscriptions() == 2 }, timeout, tick, "only move and zoom remain")
}

func TestEngine_retryViaObserver(t *testing.T) {
	left, right := &fakeLayer{id: "L"}, &fakeLayer{id: "R"}
	vp := newFakeViewport(left, right)
	m := NewScissorMasker()
	e := NewEngine(vp, m, Options{Interval: time.Hour})
	defer e.Close()

	e.Sync(readyState(50))
	vp.mount(left, &fakeEl{"l"})
	vp.mutate()
	assert.Zero(t, m.Len(), "right side still missing")

	vp.mount(right, &fakeEl{"r"})
	vp.mutate()
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 2, vp.subscriptions())
}

func TestEngine_retryViaLayerAdd(t *testing.T) {
	left, right := &fakeLayer{id: "L"}, &fakeLayer{id: "R"}
	vp := newFakeViewport(left, right)
	m := NewScissorMasker()
	e := NewEngine(vp, m, Options{Interval: time.Hour, LayerAddDelay: 5 * time.Millisecond})
	defer e.Close()

	e.Sync(readyState(50))
	vp.mount(left, &fakeEl{"l"})
	vp.mount(right, &fakeEl{"r"})
	vp.fire(EventLayerAdd)
	assert.Zero(t, m.Len(), "applied after the delay")

	require.Eventually(t, func() bool { return m.Len() == 2 }, timeout, tick)
}

func TestEngine_pollGivesUp(t *testing.T) {
	vp := newFakeViewport(&fakeLayer{id: "L"}, &fakeLayer{id: "R"})
	m := NewScissorMasker()
	e := NewEngine(vp, m, Options{Interval: time.Millisecond, MaxAttempts: 3})
	defer e.Close()

	e.Sync(readyState(50))
	time.Sleep(30 * time.Millisecond)

	assert.Zero(t, m.Len())
	assert.Equal(t, PhaseReady, e.Phase())
	assert.Equal(t, 4, vp.subscriptions(), "observer and layeradd outlive the poll")
}

func TestEngine_teardownStopsSearch(t *testing.T) {
	left, right := &fakeLayer{id: "L"}, &fakeLayer{id: "R"}
	vp := newFakeViewport(left, right)
	m := NewScissorMasker()
	e := NewEngine(vp, m, Options{Interval: 2 * time.Millisecond})

	e.Sync(readyState(50))
	assert.Equal(t, 4, vp.subscriptions())
	e.Close()
	assert.Zero(t, vp.subscriptions())

	vp.mount(left, &fakeEl{"l"})
	vp.mount(right, &fakeEl{"r"})
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, m.Len())

	e.Sync(readyState(50))
	assert.Equal(t, PhaseDisabled, e.Phase(), "closed engines ignore Sync")
}

func TestEngine_panZoomUsesLivePosition(t *testing.T) {
	vp, l, _ := mounted()
	m := NewScissorMasker()
	e := NewEngine(vp, m, Options{})
	defer e.Close()
	e.Sync(readyState(50))

	require.True(t, e.Key("ArrowRight", true))
	vp.mu.Lock()
	vp.origin = orb.Point{100, 10}
	vp.mu.Unlock()
	vp.fire(EventMove)

	lr, _ := m.Scissor(l)
	assert.Equal(t, orb.Bound{Min: orb.Point{100, 10}, Max: orb.Point{100 + 480, 610}}, lr)

	vp.fire(EventZoom)
	lr, _ = m.Scissor(l)
	assert.Equal(t, 580.0, lr.Max.X())
}

func TestEngine_drag(t *testing.T) {
	vp, l, _ := mounted()
	m := NewScissorMasker()
	var committed []float64
	e := NewEngine(vp, m, Options{Commit: func(p float64) { committed = append(committed, p) }})
	defer e.Close()

	assert.False(t, e.PointerDown(), "no drag before ready")
	e.Sync(readyState(50))

	require.True(t, e.PointerDown())
	assert.True(t, e.Dragging())
	assert.False(t, vp.isDragging())

	bounds := orb.Bound{Min: orb.Point{100, 0}, Max: orb.Point{500, 300}}
	e.PointerMove(200, bounds)
	assert.Equal(t, 25.0, e.Position())
	lr, _ := m.Scissor(l)
	assert.Equal(t, 200.0, lr.Max.X())

	e.Sync(readyState(90))
	assert.Equal(t, 25.0, e.Position(), "external position ignored mid-drag")

	e.PointerMove(9000, bounds)
	assert.Equal(t, 100.0, e.Position())
	e.PointerMove(-50, bounds)
	assert.Equal(t, 0.0, e.Position())

	e.PointerUp()
	assert.False(t, e.Dragging())
	assert.True(t, vp.isDragging())
	assert.Equal(t, []float64{0}, committed)

	e.PointerUp()
	assert.Len(t, committed, 1)
}

func TestEngine_disableMidDragRestoresPanning(t *testing.T) {
	vp, _, _ := mounted()
	e := NewEngine(vp, NewScissorMasker(), Options{})
	e.Sync(readyState(50))
	require.True(t, e.PointerDown())

	e.Sync(State{})

	assert.False(t, e.Dragging())
	assert.True(t, vp.isDragging())
}

func TestEngine_keys(t *testing.T) {
	vp, _, _ := mounted()
	var committed []float64
	e := NewEngine(vp, NewScissorMasker(), Options{Commit: func(p float64) { committed = append(committed, p) }})
	defer e.Close()

	assert.False(t, e.Key("ArrowLeft", false), "not ready")
	e.Sync(readyState(95))

	assert.True(t, e.Key("ArrowRight", false))
	assert.Equal(t, 97.0, e.Position())
	assert.True(t, e.Key("ArrowRight", true))
	assert.Equal(t, 100.0, e.Position())
	assert.True(t, e.Key("ArrowLeft", true))
	assert.Equal(t, 90.0, e.Position())
	assert.True(t, e.Key("ArrowLeft", false))
	assert.Equal(t, 88.0, e.Position())
	assert.False(t, e.Key("Enter", false))

	assert.Equal(t, []float64{97, 100, 90, 88}, committed)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "disabled", PhaseDisabled.String())
	assert.Equal(t, "pending", PhasePending.String())
	assert.Equal(t, "ready", PhaseReady.String())
}

// eagerViewport calls every handler as soon as it is registered.
type eagerViewport struct{ *fakeViewport }

func (v eagerViewport) On(event string, fn func()) func() {
	off := v.fakeViewport.On(event, fn)
	fn()
	return off
}

func (v eagerViewport) Observe(fn func()) func() {
	off := v.fakeViewport.Observe(fn)
	fn()
	return off
}

// echoMasker reports its first Apply back to the viewport as a move and a
// mutation, from inside the call.
type echoMasker struct {
	*ScissorMasker
	vp   *fakeViewport
	once sync.Once
}

func (m *echoMasker) Apply(el Element, rect orb.Bound) {
	m.ScissorMasker.Apply(el, rect)
	m.once.Do(func() {
		m.vp.fire(EventMove)
		m.vp.mutate()
	})
}

func TestEngine_synchronousCallbacks(t *testing.T) {
	left, right := &fakeLayer{id: "L"}, &fakeLayer{id: "R"}
	fake := newFakeViewport(left, right)
	m := &echoMasker{ScissorMasker: NewScissorMasker(), vp: fake}
	e := NewEngine(eagerViewport{fake}, m, Options{Interval: time.Hour})
	defer e.Close()

	synced := make(chan struct{})
	go func() {
		e.Sync(readyState(50))
		close(synced)
	}()
	select {
	case <-synced:
	case <-time.After(timeout):
		t.Fatal("Sync blocked on a synchronous viewport callback")
	}

	fake.mount(left, &fakeEl{"l"})
	fake.mount(right, &fakeEl{"r"})
	fake.mutate()
	require.Eventually(t, func() bool { return m.Len() == 2 }, timeout, tick)

	require.True(t, e.Key("ArrowLeft", false))
	assert.Equal(t, 48.0, e.Position())
}

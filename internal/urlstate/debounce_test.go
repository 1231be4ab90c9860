package urlstate

import (
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []url.Values
}

func (r *recorder) Replace(v url.Values) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, v)
}

func (r *recorder) snapshot() []url.Values {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]url.Values(nil), r.calls...)
}

func TestDebouncer_coalescesBurst(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(rec, url.Values{"lang": {"en"}}, 20*time.Millisecond, nil)

	for _, v := range []string{"0.1", "0.2", "0.3", "0.4"} {
		d.Set(ParamLayers, v)
	}
	d.Set(ParamCompare, "x")
	d.Remove(ParamCompare)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, url.Values{"lang": {"en"}, ParamLayers: {"0.4"}}, calls[0])
}

func TestDebouncer_flushAndStop(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(rec, nil, time.Hour, nil)

	d.Flush()
	assert.Empty(t, rec.snapshot(), "nothing pending")

	d.Set(ParamLayers, "a")
	d.Flush()
	require.Len(t, rec.snapshot(), 1)
	assert.Equal(t, "a", rec.snapshot()[0].Get(ParamLayers))

	d.Set(ParamLayers, "b")
	d.Stop()
	d.Flush()
	d.Set(ParamLayers, "c")
	assert.Len(t, rec.snapshot(), 1)
	assert.Equal(t, "c", d.Values().Get(ParamLayers))
}

func TestNavigatorFunc(t *testing.T) {
	var got url.Values
	NavigatorFunc(func(v url.Values) { got = v }).Replace(url.Values{"k": {"v"}})
	assert.Equal(t, "v", got.Get("k"))
}

package urlstate

import (
	"net/url"
	"sync"
	"time"

	"github.com/joeblew999/plat-atlas/internal/metrics"
)

// DefaultWait is the quiet period before pending parameters are written.
const DefaultWait = 100 * time.Millisecond

// Navigator replaces the current URL query without adding a history entry.
type Navigator interface {
	Replace(values url.Values)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(values url.Values)

// Replace calls f.
func (f NavigatorFunc) Replace(values url.Values) { f(values) }

// Debouncer coalesces parameter writes into a single Navigator.Replace
// after the writes have stopped for the wait period.
type Debouncer struct {
	nav     Navigator
	wait    time.Duration
	metrics *metrics.Metrics

	mu      sync.Mutex
	values  url.Values
	dirty   bool
	timer   *time.Timer
	seq     uint64
	stopped bool
}

// NewDebouncer creates a debouncer starting from initial. A wait of zero
// uses DefaultWait.
func NewDebouncer(nav Navigator, initial url.Values, wait time.Duration, m *metrics.Metrics) *Debouncer {
	if wait <= 0 {
		wait = DefaultWait
	}
	values := url.Values{}
	for k, v := range initial {
		values[k] = append([]string(nil), v...)
	}
	return &Debouncer{nav: nav, wait: wait, metrics: m, values: values}
}

// Set schedules key=value. An empty value removes the key.
func (d *Debouncer) Set(key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if value == "" {
		d.values.Del(key)
	} else {
		d.values.Set(key, value)
	}
	d.scheduleLocked()
}

// Remove schedules removal of key.
func (d *Debouncer) Remove(key string) {
	d.Set(key, "")
}

// Values returns the latest query, including writes not yet flushed.
func (d *Debouncer) Values() url.Values {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneValues(d.values)
}

// Flush writes pending changes immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	values, ok := d.takeLocked()
	d.mu.Unlock()
	if ok {
		d.replace(values)
	}
}

// Stop discards pending changes and ignores later writes.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.dirty = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) scheduleLocked() {
	if d.stopped {
		return
	}
	d.dirty = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.timer = time.AfterFunc(d.wait, func() { d.fire(seq) })
}

func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	if seq != d.seq {
		// superseded by a later write
		d.mu.Unlock()
		return
	}
	d.timer = nil
	values, ok := d.takeLocked()
	d.mu.Unlock()
	if ok {
		d.replace(values)
	}
}

func (d *Debouncer) takeLocked() (url.Values, bool) {
	if !d.dirty || d.stopped {
		return nil, false
	}
	d.dirty = false
	return cloneValues(d.values), true
}

func (d *Debouncer) replace(values url.Values) {
	d.metrics.IncURLFlush()
	d.nav.Replace(values)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

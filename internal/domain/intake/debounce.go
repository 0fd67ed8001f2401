package intake

import (
	"sync"
	"time"
)

// Debouncer runs the most recently triggered function once no new trigger
// has arrived for the delay. After Stop, pending and future triggers are
// dropped.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	gen     uint64
	stopped bool
}

func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schedule(fn)
}

// schedule must be called with mu held.
func (d *Debouncer) schedule(fn func()) {
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	// A timer that already fired may still be waiting on mu; bumping gen
	// makes it a no-op.
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() {
		if d.current(gen) {
			fn()
		}
	})
}

func (d *Debouncer) current(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.stopped && d.gen == gen
}

func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

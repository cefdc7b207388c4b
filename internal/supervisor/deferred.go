package supervisor

import (
	"sync"
	"time"
)

// deferred runs fn after a fixed delay. With coalesce set, scheduling again
// cancels whatever is still pending, so a burst of requests yields one call
// after the last of them. Without it every request fires on its own.
type deferred struct {
	mu       sync.Mutex
	delay    time.Duration
	coalesce bool
	seq      uint64
	timers   map[uint64]*time.Timer
	fn       func()
}

func newDeferred(delay time.Duration, coalesce bool, fn func()) *deferred {
	return &deferred{
		delay:    delay,
		coalesce: coalesce,
		timers:   make(map[uint64]*time.Timer),
		fn:       fn,
	}
}

// Schedule queues one call of fn.
func (d *deferred) Schedule() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.coalesce {
		d.cancelLocked()
	}
	d.seq++
	id := d.seq
	d.timers[id] = time.AfterFunc(d.delay, func() { d.fire(id) })
}

func (d *deferred) fire(id uint64) {
	d.mu.Lock()
	if _, ok := d.timers[id]; !ok {
		// Cancelled after the timer had already started running.
		d.mu.Unlock()
		return
	}
	delete(d.timers, id)
	d.mu.Unlock()

	d.fn()
}

// Cancel drops every pending call.
func (d *deferred) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

func (d *deferred) cancelLocked() {
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
}

// Pending returns the number of queued calls.
func (d *deferred) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

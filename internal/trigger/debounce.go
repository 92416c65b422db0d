package trigger

import (
	"sync"
	"time"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
)

// DefaultWindow is how long a key must stay quiet before it fires.
const DefaultWindow = 100 * time.Millisecond

// MaxWaitWindows bounds how many windows a steady stream of triggers can
// hold back a key's fire.
const MaxWaitWindows = 10

type pending struct {
	timer *time.Timer
	first time.Time
}

// Debouncer coalesces bursts of events per key. Each Trigger restarts the
// key's timer; fire runs once the key has been quiet for the window, or
// once MaxWaitWindows windows have passed since the burst began.
type Debouncer struct {
	window  time.Duration
	maxWait time.Duration
	fire    func(domain.EventKey)

	mu      sync.Mutex
	timers  map[domain.EventKey]*pending
	stopped bool
}

// NewDebouncer creates a Debouncer. A non-positive window uses DefaultWindow.
func NewDebouncer(window time.Duration, fire func(domain.EventKey)) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{
		window:  window,
		maxWait: MaxWaitWindows * window,
		fire:    fire,
		timers:  make(map[domain.EventKey]*pending),
	}
}

// Trigger schedules key to fire after the window, pushing back any pending
// fire for the same key but never past the burst's max wait.
func (d *Debouncer) Trigger(key domain.EventKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	now := time.Now()
	delay := d.window
	p, ok := d.timers[key]
	if ok {
		p.timer.Stop()
		if left := p.first.Add(d.maxWait).Sub(now); left < delay {
			delay = max(left, 0)
		}
	} else {
		p = &pending{first: now}
		d.timers[key] = p
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		d.mu.Lock()
		if cur, ok := d.timers[key]; !ok || cur.timer != t {
			// superseded or stopped
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()
		d.fire(key)
	})
	p.timer = t
}

// Pending returns the number of keys waiting to fire.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels every pending fire. Later calls to Trigger are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, p := range d.timers {
		p.timer.Stop()
		delete(d.timers, key)
	}
}

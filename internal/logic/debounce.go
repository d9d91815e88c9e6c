package logic

import "time"

// DefaultDebounce is the button stability window.
const DefaultDebounce = 20 * time.Millisecond

// Debouncer filters a single noisy digital input.
//
// The stability timer restarts on every raw change, so the debounced level
// only follows the raw level once it has been unchanged for the full window.
type Debouncer struct {
	window     time.Duration
	lastRaw    bool
	lastChange time.Time
	debounced  bool
	previous   bool
}

// NewDebouncer creates a debouncer with the given stability window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window}
}

// Update feeds one raw sample taken at now.
func (d *Debouncer) Update(raw bool, now time.Time) {
	if raw != d.lastRaw {
		d.lastRaw = raw
		d.lastChange = now
	}

	// previous only moves on a stable sample, so an edge survives bounces
	// that arrive inside the window after it.
	if now.Sub(d.lastChange) >= d.window {
		d.previous = d.debounced
		d.debounced = raw
	}
}

// Level returns the current debounced level.
func (d *Debouncer) Level() bool {
	return d.debounced
}

// RisingEdge reports whether the debounced level went low to high on the
// last stable Update.
func (d *Debouncer) RisingEdge() bool {
	return !d.previous && d.debounced
}

// Window returns the configured stability window.
func (d *Debouncer) Window() time.Duration {
	return d.window
}

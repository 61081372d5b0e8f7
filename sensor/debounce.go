package sensor

import (
	"time"

	"github.com/homesense/sensord/internal/types"
)

// Debounce suppresses rapid repeated state transitions: a level change
// is accepted only when at least Interval has passed since the last
// accepted transition. Edges arriving sooner are discarded entirely,
// not merged or queued.
type Debounce struct {
	lastChange time.Time
	Interval   time.Duration
	state      types.RoomState
	primed     bool
}

func NewDebounce(interval time.Duration) *Debounce {
	return &Debounce{Interval: interval}
}

func (d *Debounce) State() types.RoomState { return d.state }

// Update feeds one raw level. Returns the current state and whether
// this call accepted a transition (or the very first level).
func (d *Debounce) Update(level bool, now time.Time) (types.RoomState, bool) {
	next := types.StateOut
	if level {
		next = types.StateIn
	}
	if !d.primed {
		d.primed = true
		d.state = next
		d.lastChange = now
		return d.state, true
	}
	if next == d.state {
		return d.state, false
	}
	if now.Sub(d.lastChange) < d.Interval {
		// too soon, discard the edge
		return d.state, false
	}
	d.state = next
	d.lastChange = now
	return d.state, true
}

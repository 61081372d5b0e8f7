package sensor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/homesense/sensord/internal/types"
)

func TestDebounceFastEdges(t *testing.T) {
	t.Parallel()

	const interval = 3 * time.Second
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := NewDebounce(interval)

	st, changed := d.Update(false, base)
	assert.True(t, changed, "first level primes the filter")
	assert.Equal(t, types.StateOut, st)

	// edges every 500ms, far below the interval: exactly one accepted
	// transition per interval exceeded, alternating Out/In
	accepted := []types.RoomState(nil)
	level := false
	now := base
	for i := 0; i < 20; i++ {
		now = now.Add(500 * time.Millisecond)
		level = !level
		if st, changed = d.Update(level, now); changed {
			accepted = append(accepted, st)
		}
	}
	// 10s of toggling: accepted at +3.5s and +7s only, alternating
	assert.Equal(t, []types.RoomState{types.StateIn, types.StateOut}, accepted)
}

func TestDebounceSlowEdges(t *testing.T) {
	t.Parallel()

	const interval = 3 * time.Second
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := NewDebounce(interval)
	d.Update(false, base)

	st, changed := d.Update(true, base.Add(5*time.Second))
	assert.True(t, changed)
	assert.Equal(t, types.StateIn, st)

	st, changed = d.Update(false, base.Add(10*time.Second))
	assert.True(t, changed)
	assert.Equal(t, types.StateOut, st)
}

func TestDebounceSameLevelNoChange(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := NewDebounce(time.Second)
	d.Update(true, base)
	for i := 1; i <= 10; i++ {
		_, changed := d.Update(true, base.Add(time.Duration(i)*time.Second))
		assert.False(t, changed)
	}
	assert.Equal(t, types.StateIn, d.State())
}

package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/homesense/sensord/internal/types"
)

func reading(v float64, at time.Time) types.Reading {
	return types.Reading{SensorID: "pressure", Unit: "bar", Value: v, Stamp: at, Quality: true}
}

func TestHeartbeatConstantInput(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := New(Config{HeartbeatInterval: 30000 * time.Millisecond, Threshold: 0.05})

	// constant input: one publish per 30 second window
	emits := 0
	for i := 0; i <= 90; i++ { // one sample per second for 90s
		now := base.Add(time.Duration(i) * time.Second)
		if d := e.Decide(reading(1.00, now), false, now); d.Emit {
			emits++
			if i == 0 {
				assert.Equal(t, types.ReasonFirst, d.Reason)
			} else {
				assert.Equal(t, types.ReasonHeartbeat, d.Reason)
				assert.Zero(t, i%30, "heartbeat off schedule at t=%ds", i)
			}
		}
	}
	assert.Equal(t, 4, emits) // t=0 first, then 30/60/90 heartbeats
}

func TestThresholdJump(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := New(Config{HeartbeatInterval: 30 * time.Second, Threshold: 0.05})

	d := e.Decide(reading(1.00, base), false, base)
	assert.True(t, d.Emit)

	// small drift below threshold stays silent
	d = e.Decide(reading(1.04, base.Add(time.Second)), false, base.Add(time.Second))
	assert.False(t, d.Emit)

	// 0.10 jump publishes immediately, heartbeat timer irrelevant
	d = e.Decide(reading(1.10, base.Add(2*time.Second)), false, base.Add(2*time.Second))
	assert.True(t, d.Emit)
	assert.Equal(t, types.ReasonThreshold, d.Reason)

	// threshold compares against the last published value
	d = e.Decide(reading(1.13, base.Add(3*time.Second)), false, base.Add(3*time.Second))
	assert.False(t, d.Emit)
	d = e.Decide(reading(1.16, base.Add(4*time.Second)), false, base.Add(4*time.Second))
	assert.True(t, d.Emit)
}

func TestSampleGate(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := New(Config{SampleMinInterval: time.Second, Threshold: 0.01})

	d := e.Decide(reading(1.0, base), false, base)
	assert.True(t, d.Emit)

	// a fast stream is rejected outright, even with changed values
	for i := 1; i <= 9; i++ {
		now := base.Add(time.Duration(i) * 100 * time.Millisecond)
		d = e.Decide(reading(2.0, now), false, now)
		assert.False(t, d.Emit)
	}

	now := base.Add(time.Second)
	d = e.Decide(reading(2.0, now), false, now)
	assert.True(t, d.Emit)
	assert.Equal(t, types.ReasonThreshold, d.Reason)
}

func TestStateChange(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := New(Config{StateChange: true})

	d := e.Decide(reading(0, base), true, base)
	assert.True(t, d.Emit)
	assert.Equal(t, types.ReasonFirst, d.Reason)

	// unchanged state stays silent, no heartbeat configured
	for i := 1; i <= 5; i++ {
		now := base.Add(time.Duration(i) * time.Minute)
		d = e.Decide(reading(0, now), false, now)
		assert.False(t, d.Emit)
	}

	now := base.Add(6 * time.Minute)
	d = e.Decide(reading(1, now), true, now)
	assert.True(t, d.Emit)
	assert.Equal(t, types.ReasonStateChange, d.Reason)
}

func TestNoRulesNeverEmitsAfterFirst(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := New(Config{})

	d := e.Decide(reading(1, base), false, base)
	assert.True(t, d.Emit, "first reading always publishes")
	for i := 1; i <= 10; i++ {
		now := base.Add(time.Duration(i) * time.Hour)
		d = e.Decide(reading(float64(i), now), false, now)
		assert.False(t, d.Emit)
	}
}

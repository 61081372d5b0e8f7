// Package policy decides when a reading is worth publishing. The
// engine is a pure decision function over the current reading, its own
// last-published snapshot and elapsed times; it never performs the
// publish.
package policy

import (
	"math"
	"time"

	"github.com/homesense/sensord/internal/types"
)

// Config enables any combination of rules for one sensor. Zero values
// disable the corresponding rule.
type Config struct {
	SampleMinInterval time.Duration // reject samples arriving faster
	HeartbeatInterval time.Duration // force emit regardless of change
	Threshold         float64       // emit on |value-last| >= Threshold
	StateChange       bool          // emit on confirmed debounced transition
}

type Engine struct {
	cfg         Config
	lastSample  time.Time
	lastPublish time.Time
	lastValue   float64
	published   bool
	sampled     bool
}

func New(cfg Config) *Engine { return &Engine{cfg: cfg} }

// Decide evaluates all active rules, logical OR. stateChanged reports
// a transition confirmed by the debounce filter this tick; pass false
// for continuous sensors. The only side effect is updating the
// last-published snapshot when the decision is emit.
func (e *Engine) Decide(r types.Reading, stateChanged bool, now time.Time) types.PublishDecision {
	// sample gate: elapsed since last accepted sample
	if e.cfg.SampleMinInterval > 0 && e.sampled &&
		now.Sub(e.lastSample) < e.cfg.SampleMinInterval {
		return types.PublishDecision{}
	}
	e.sampled = true
	e.lastSample = now

	reason := types.ReasonNone
	switch {
	case !e.published:
		reason = types.ReasonFirst
	case e.cfg.StateChange && stateChanged:
		reason = types.ReasonStateChange
	case e.cfg.Threshold > 0 && math.Abs(r.Value-e.lastValue) >= e.cfg.Threshold:
		reason = types.ReasonThreshold
	case e.cfg.HeartbeatInterval > 0 && now.Sub(e.lastPublish) >= e.cfg.HeartbeatInterval:
		reason = types.ReasonHeartbeat
	}
	if reason == types.ReasonNone {
		return types.PublishDecision{}
	}

	e.published = true
	e.lastPublish = now
	e.lastValue = r.Value
	return types.PublishDecision{Emit: true, Reason: reason}
}

// LastPublished returns the snapshot value, valid only after the first
// emit.
func (e *Engine) LastPublished() (float64, bool) { return e.lastValue, e.published }

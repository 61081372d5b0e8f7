// Package agent owns the cooperative tick loop: poll transports, decode,
// normalize, decide, publish. All sensor work happens on the tick
// goroutine, the MQTT session keeps its own.
package agent

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/homesense/sensord/frame"
	"github.com/homesense/sensord/helpers"
	"github.com/homesense/sensord/internal/state"
	"github.com/homesense/sensord/internal/types"
	"github.com/homesense/sensord/log2"
	"github.com/homesense/sensord/policy"
	"github.com/homesense/sensord/sensor"
	"github.com/homesense/sensord/tele"
)

// streamPollBudget bounds transport reads per sensor per tick so one
// babbling UART cannot starve the others.
const streamPollBudget = 4

// Publisher is the tele surface the loop needs. Satisfied by
// *tele.Client, stubbed in tests.
type Publisher interface {
	Publish(topic string, payload []byte) error
	State() types.ConnState
}

type Agent struct {
	Log *log2.Log

	alive    *alive.Alive
	pub      Publisher
	rts      []*Runtime
	interval time.Duration
	lastConn types.ConnState
}

// Runtime is the per-sensor pipeline: one source, the decode or
// condition stage for its transport kind, normalizer and policy.
type Runtime struct {
	name  string
	kind  types.TransportKind
	topic string

	src   sensor.Source
	dec   frame.Decoder       // stream
	deb   *sensor.Debounce    // digital
	scale sensor.AnalogScale  // analog
	norm  *sensor.Normalizer
	pol   *policy.Engine
}

func New(ctx context.Context) (*Agent, error) {
	g := state.GetGlobal(ctx)
	a := &Agent{
		Log:      g.Log,
		alive:    g.Alive,
		interval: time.Duration(g.Config.Agent.TickIntervalMs) * time.Millisecond,
		lastConn: types.ConnDisconnected,
	}
	if g.Tele != nil {
		a.pub = g.Tele
	}

	errs := make([]error, 0, len(g.Config.Sensors))
	for i := range g.Config.Sensors {
		sc := &g.Config.Sensors[i]
		if !sc.Enable {
			g.Log.Debugf("agent sensor=%s disabled", sc.Name)
			continue
		}
		src, err := openSource(sc)
		if err != nil {
			errs = append(errs, errors.Annotatef(err, "sensor=%s open", sc.Name))
			continue
		}
		rt, err := NewRuntime(sc, src, g.Log)
		if err != nil {
			_ = src.Close()
			errs = append(errs, errors.Annotatef(err, "sensor=%s", sc.Name))
			continue
		}
		a.rts = append(a.rts, rt)
	}
	if len(errs) != 0 {
		a.Close()
		return nil, helpers.FoldErrors(errs)
	}
	if len(a.rts) == 0 {
		return nil, errors.NotValidf("agent: no enabled sensors")
	}
	return a, nil
}

// NewRuntime assembles the pipeline stages from config. The source is
// passed in so tests can substitute a mock.
func NewRuntime(sc *state.SensorConfig, src sensor.Source, log *log2.Log) (*Runtime, error) {
	rt := &Runtime{
		name:  sc.Name,
		topic: sc.Topic,
		src:   src,
		norm:  sensor.NewNormalizer(sensor.Meta{ID: sc.Name, Unit: sc.Unit}),
		pol: policy.New(policy.Config{
			SampleMinInterval: time.Duration(sc.Policy.SampleMinMs) * time.Millisecond,
			HeartbeatInterval: time.Duration(sc.Policy.HeartbeatMs) * time.Millisecond,
			Threshold:         sc.Policy.Threshold,
			StateChange:       sc.Policy.StateChange,
		}),
	}

	switch sc.Kind {
	case "uart":
		rt.kind = types.TransportStream
		switch sc.Framing.Mode {
		case "binary":
			header, err := hex.DecodeString(sc.Framing.Header)
			if err != nil {
				return nil, errors.Annotatef(err, "framing header=%s", sc.Framing.Header)
			}
			dec, err := frame.NewBinary(frame.BinaryConfig{
				Header:      header,
				FrameLength: sc.Framing.FrameLength,
				FieldOffset: sc.Framing.FieldOffset,
				FieldWidth:  sc.Framing.FieldWidth,
				Divisor:     float64(sc.Framing.Divisor),
			}, log)
			if err != nil {
				return nil, err
			}
			rt.dec = dec
		case "line":
			rt.dec = frame.NewLine(sc.Framing.LineTag, log)
		default:
			return nil, errors.NotValidf("framing mode=%s", sc.Framing.Mode)
		}
	case "gpio":
		rt.kind = types.TransportDigital
		rt.deb = sensor.NewDebounce(time.Duration(sc.Policy.DebounceMs) * time.Millisecond)
	case "adc":
		rt.kind = types.TransportAnalog
		rt.scale = sensor.AnalogScale{
			ReferenceVolt:  sc.Adc.ReferenceVolt,
			ResolutionBits: sc.Adc.ResolutionBits,
			FullScale:      sc.Adc.FullScale,
		}
		if err := rt.scale.Validate(); err != nil {
			return nil, err
		}
	default:
		return nil, errors.NotValidf("sensor kind=%s", sc.Kind)
	}
	return rt, nil
}

// AddRuntime registers an assembled pipeline. Test entry point.
func (a *Agent) AddRuntime(rt *Runtime) { a.rts = append(a.rts, rt) }

// Tick runs one full pass over every sensor. Deterministic given the
// sources' output and now, which makes it the unit under test.
func (a *Agent) Tick(now time.Time) {
	if s := a.connState(); s != a.lastConn {
		a.Log.Infof("tele %s -> %s", a.lastConn, s)
		a.lastConn = s
	}
	for _, rt := range a.rts {
		a.tickSensor(rt, now)
	}
}

func (a *Agent) tickSensor(rt *Runtime, now time.Time) {
	switch rt.kind {
	case types.TransportStream:
		for i := 0; i < streamPollBudget; i++ {
			sample, ok, err := rt.src.Poll(now)
			if err != nil {
				a.Log.Errorf("agent sensor=%s poll: %s", rt.name, errors.ErrorStack(err))
				return
			}
			if !ok {
				break
			}
			rt.dec.Feed(sample.Bytes)
		}
		for {
			f, ok := rt.dec.Next()
			if !ok {
				break
			}
			r := rt.norm.FromFrame(f, now)
			a.decide(rt, r, false, r.Payload(), now)
		}

	case types.TransportDigital:
		sample, ok, err := rt.src.Poll(now)
		if err != nil {
			a.Log.Errorf("agent sensor=%s poll: %s", rt.name, errors.ErrorStack(err))
			return
		}
		if !ok {
			return
		}
		st, changed := rt.deb.Update(sample.Level, now)
		r := rt.norm.FromState(st, now)
		a.decide(rt, r, changed, st.Payload(), now)

	case types.TransportAnalog:
		sample, ok, err := rt.src.Poll(now)
		if err != nil {
			a.Log.Errorf("agent sensor=%s poll: %s", rt.name, errors.ErrorStack(err))
			return
		}
		if !ok {
			return
		}
		r := rt.norm.FromAnalog(sample.Code, rt.scale, now)
		a.decide(rt, r, false, r.Payload(), now)
	}
}

func (a *Agent) decide(rt *Runtime, r types.Reading, stateChanged bool, payload []byte, now time.Time) {
	d := rt.pol.Decide(r, stateChanged, now)
	if !d.Emit {
		return
	}
	a.Log.Debugf("agent sensor=%s emit reason=%s %s", rt.name, d.Reason, r.String())
	if a.pub == nil {
		a.Log.Debugf("agent sensor=%s drop: tele disabled", rt.name)
		return
	}
	switch err := a.pub.Publish(rt.topic, payload); err {
	case nil:
	case tele.ErrOffline:
		a.Log.Debugf("agent sensor=%s drop: offline", rt.name)
	default:
		a.Log.Errorf("agent sensor=%s publish: %s", rt.name, errors.ErrorStack(err))
	}
}

// Run drives Tick at the configured interval until stop.
func (a *Agent) Run() {
	a.Log.Debugf("agent loop interval=%s sensors=%d", a.interval, len(a.rts))
	tick := time.NewTicker(a.interval)
	defer tick.Stop()
	stopch := a.alive.StopChan()
	for {
		select {
		case <-stopch:
			return
		case now := <-tick.C:
			a.Tick(now)
		}
	}
}

func (a *Agent) Close() {
	for _, rt := range a.rts {
		if err := rt.src.Close(); err != nil {
			a.Log.Errorf("agent sensor=%s close: %v", rt.name, err)
		}
	}
}

func (a *Agent) connState() types.ConnState {
	if a.pub == nil {
		return types.ConnDisconnected
	}
	return a.pub.State()
}

func openSource(sc *state.SensorConfig) (sensor.Source, error) {
	switch sc.Kind {
	case "uart":
		return sensor.NewUART(sc.UartDevice, sc.UartBaud)
	case "gpio":
		return sensor.NewGPIO(sc.GpioChip, sc.GpioLine, "sensord."+sc.Name)
	case "adc":
		return sensor.NewADC(sc.Spi, sc.AdcChannel)
	}
	return nil, errors.NotValidf("sensor kind=%s", sc.Kind)
}

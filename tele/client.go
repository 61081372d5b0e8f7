// Package tele owns the broker session: connect, keep alive, reconnect
// forever, publish best-effort. Delivery is at-most-once by design; a
// publish attempted while the session is down is dropped and counted,
// never queued.
package tele

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/client"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/atomic_clock"

	"github.com/homesense/sensord/helpers"
	"github.com/homesense/sensord/internal/types"
	"github.com/homesense/sensord/log2"
)

const DefaultNetworkTimeout = 30 * time.Second
const DefaultReconnectDelay = 3 * time.Second

var ErrClientClosing = fmt.Errorf("telemetry client is closing")

// ErrOffline is the drop indication: publish was attempted while not
// Connected. It is not an error condition for callers, only a signal.
var ErrOffline = fmt.Errorf("telemetry offline, payload dropped")

type Options struct {
	BrokerURL      string
	TLS            *tls.Config
	ReconnectDelay time.Duration
	NetworkTimeout time.Duration
	KeepaliveSec   uint16
	ClientID       string
	Username       string
	Password       string
	StatusTopic    string // optional: last-will "offline", retained "online" after connect
	Log            *log2.Log

	conpkt *packet.Connect
	dialer *transport.Dialer
}

// Sensor node specific MQTT client.
// - New() returns only configuration errors, network IO is in background
// - connect with clean session, no subscriptions: pure producer
// - unlimited reconnect attempts at fixed delay until Close()
// - QOS 0 only, no in-flight storage
// - Publish while offline returns ErrOffline immediately, never blocks
type Client struct {
	sync.Mutex

	alive   *alive.Alive
	backoff helpers.Backoff
	current *conn
	opt     Options
	state   uint32 // types.ConnState
	stat    Stat
}

func New(opt Options) (*Client, error) {
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.ReconnectDelay == 0 {
		opt.ReconnectDelay = DefaultReconnectDelay
	}
	if u, err := url.ParseRequestURI(opt.BrokerURL); err != nil {
		return nil, errors.Annotatef(err, "config error mqtt broker_url=%s", opt.BrokerURL)
	} else if u.User != nil && opt.Username == "" && opt.Password == "" {
		opt.Username = u.User.Username()
		opt.Password, _ = u.User.Password()
	}
	opt.conpkt = packet.NewConnect()
	opt.conpkt.ClientID = defaultString(opt.ClientID, opt.Username)
	opt.conpkt.KeepAlive = opt.KeepaliveSec
	opt.conpkt.CleanSession = true
	opt.conpkt.Username = opt.Username
	opt.conpkt.Password = opt.Password
	if opt.StatusTopic != "" {
		opt.conpkt.Will = &packet.Message{
			Topic:   opt.StatusTopic,
			Payload: []byte("offline"),
			QOS:     packet.QOSAtMostOnce,
			Retain:  true,
		}
	}
	opt.dialer = transport.NewDialer(transport.DialConfig{
		TLSConfig: opt.TLS,
		Timeout:   opt.NetworkTimeout,
	})

	c := &Client{
		alive: alive.NewAlive(),
		// K=1 keeps the delay constant, reconnect never gives up
		backoff: helpers.Backoff{Min: opt.ReconnectDelay, Max: opt.ReconnectDelay, K: 1},
		opt:     opt,
	}
	_ = c.conn(true)

	c.alive.Add(1)
	go c.worker()
	return c, nil
}

func (c *Client) Close() error {
	var err error
	if cc := c.conn(false); cc != nil {
		err = cc.send(packet.NewDisconnect())
		err = cc.die(err)
	}
	c.alive.Stop()
	c.alive.Wait()
	c.setState(types.ConnDisconnected)
	return err
}

func (c *Client) State() types.ConnState {
	return types.ConnState(atomic.LoadUint32(&c.state))
}

func (c *Client) Stat() Stat { return c.stat.Snapshot() }

// Publish delivers payload at-most-once while the session is
// Connected. When it is not, the payload is dropped right away with
// ErrOffline: no queue, no retry, no blocking.
func (c *Client) Publish(topic string, payload []byte) error {
	if c.State() != types.ConnConnected {
		c.stat.add(func(s *Stat) { s.PublishDrop++ })
		c.opt.Log.Debugf("tele: drop topic=%s payload=%s state=%s", topic, payload, c.State())
		return ErrOffline
	}

	publish := packet.NewPublish()
	publish.Message = packet.Message{
		Topic:   topic,
		Payload: payload,
		QOS:     packet.QOSAtMostOnce,
	}
	if err := c.send(publish); err != nil {
		c.stat.add(func(s *Stat) { s.PublishErr++ })
		return errors.Annotatef(err, "publish topic=%s", topic)
	}
	c.stat.add(func(s *Stat) { s.PublishOk++ })
	return nil
}

// WaitReady blocks until connected or ctx expires; used by tests and
// startup probes, never by the agent tick path.
func (c *Client) WaitReady(ctx context.Context) error {
	donech := ctx.Done()
	stopch := c.alive.StopChan()
	for {
		if c.State() == types.ConnConnected {
			return nil
		}
		select {
		case <-time.After(50 * time.Millisecond):

		case <-donech:
			return context.Canceled

		case <-stopch:
			return ErrClientClosing
		}
	}
}

func (c *Client) setState(s types.ConnState) {
	prev := types.ConnState(atomic.SwapUint32(&c.state, uint32(s)))
	if prev != s {
		c.opt.Log.Debugf("tele: state %s -> %s", prev, s)
		switch s {
		case types.ConnConnected:
			c.stat.add(func(st *Stat) { st.Connect++ })
		case types.ConnBackoff:
			if prev == types.ConnConnected {
				c.stat.add(func(st *Stat) { st.Disconnect++ })
			}
		}
	}
}

func (c *Client) conn(create bool) *conn {
	c.Lock()
	defer c.Unlock()
	if !c.alive.IsRunning() {
		return nil
	}
	if c.current != nil && !c.current.alive.IsRunning() {
		c.current = nil
	}
	if c.current == nil && create {
		c.current = newConn(c)
	}
	return c.current
}

func (c *Client) send(pkt packet.Generic) error {
	if cc := c.conn(false); cc != nil {
		return cc.send(pkt)
	}
	return client.ErrClientNotConnected
}

func (c *Client) worker() {
	defer c.alive.Done()
	stopch := c.alive.StopChan()
	for {
		cc := c.conn(true)
		if cc == nil {
			return
		}
		select {
		case <-cc.alive.WaitChan():

		case <-stopch:
			_ = cc.die(ErrClientClosing)
			cc.alive.Wait()
			return
		}

		c.setState(types.ConnBackoff)
		delay := c.backoff.DelayAfter(false)
		c.opt.Log.Debugf("tele: wait reconnect_delay=%v", delay)
		select {
		case <-time.After(delay):

		case <-stopch:
			return
		}
	}
}

// Single broker connection: dial, CONNECT/CONNACK, pings. Dies on any
// session failure; the client worker replaces it after the delay.
type conn struct {
	parent *Client
	alive  *alive.Alive
	closed uint32
	netc   atomic.Value        // transport.Conn
	pingat *atomic_clock.Clock // last outgoing control packet
	pongat *atomic_clock.Clock // last incoming control packet
	opt    Options
}

func newConn(parent *Client) *conn {
	cc := &conn{
		parent: parent,
		alive:  alive.NewAlive(),
		opt:    parent.opt,
		pingat: atomic_clock.New(),
		pongat: atomic_clock.New(),
	}
	cc.alive.Add(1)
	go cc.connect()
	return cc
}

func (cc *conn) die(e error) error {
	if e == nil {
		e = ErrClientClosing
	}
	if !atomic.CompareAndSwapUint32(&cc.closed, 0, 1) {
		return e
	}
	cc.alive.Stop()
	if nc := cc.getConn(); nc != nil {
		_ = nc.Close()
	}
	if e != ErrClientClosing {
		cc.opt.Log.Errorf("tele: session lost err=%v", e)
	}
	return e
}

func (cc *conn) getConn() transport.Conn {
	if x := cc.netc.Load(); x != nil {
		return x.(transport.Conn)
	}
	return nil
}

// dial, send CONNECT, wait CONNACK, mark online, start pinger and reader
func (cc *conn) connect() {
	defer cc.alive.Done()
	cc.parent.setState(types.ConnConnecting)

	nc, err := cc.opt.dialer.Dial(cc.opt.BrokerURL)
	if err != nil {
		_ = cc.die(errors.Annotatef(err, "connect: dial broker=%s", cc.opt.BrokerURL))
		return
	}
	cc.netc.Store(nc)
	if err = cc.send(cc.opt.conpkt); err != nil {
		return
	}

	{ // expect CONNACK
		nc.SetReadTimeout(cc.opt.NetworkTimeout)
		pkt, err := nc.Receive()
		if err != nil {
			_ = cc.die(errors.Annotate(err, "connect: expect CONNACK"))
			return
		}
		connack, ok := pkt.(*packet.Connack)
		if !ok {
			_ = cc.die(errors.Annotatef(client.ErrClientExpectedConnack, "connect: server error pkt=%s", pkt.String()))
			return
		}
		cc.opt.Log.Debugf("tele: CONNACK=%s", connack.String())
		if connack.ReturnCode != packet.ConnectionAccepted {
			_ = cc.die(errors.Annotate(client.ErrClientConnectionDenied, connack.ReturnCode.String()))
			return
		}
		nc.SetReadTimeout(0)
	}

	cc.parent.setState(types.ConnConnected)
	if !cc.alive.Add(2) {
		_ = cc.die(context.Canceled)
		return
	}
	cc.pongat.SetNow()
	go cc.pinger()
	go cc.reader()

	if cc.opt.StatusTopic != "" {
		online := packet.NewPublish()
		online.Message = packet.Message{
			Topic:   cc.opt.StatusTopic,
			Payload: []byte("online"),
			QOS:     packet.QOSAtMostOnce,
			Retain:  true,
		}
		_ = cc.send(online)
	}
}

// Sends PINGREQ to service the broker keep-alive window.
// [MQTT-3.1.2-24] control packets must arrive at most KeepaliveSec*1.5
// apart or the broker considers the session dead.
func (cc *conn) pinger() {
	defer cc.alive.Done()
	if cc.opt.KeepaliveSec == 0 {
		return
	}

	keepalive := keepaliveAndHalf(cc.opt.KeepaliveSec)
	// send PINGREQ as late as possible while leaving NetworkTimeout margin
	interval := keepalive - cc.opt.NetworkTimeout
	if interval <= 0 {
		interval = keepalive / 2
	}
	stopch := cc.alive.StopChan()
	for cc.alive.IsRunning() {
		now := atomic_clock.Now()
		window := now.Sub(cc.pingat)
		sincePong := now.Sub(cc.pongat)

		if window > 0 && window < interval {
			select {
			case <-time.After(interval - window):
				continue

			case <-stopch:
				return
			}
		} else if window >= interval {
			if err := cc.send(packet.NewPingreq()); err != nil {
				return
			}
		}

		if sincePong > keepalive {
			_ = cc.die(client.ErrClientMissingPong)
			return
		}
	}
}

func (cc *conn) reader() {
	defer cc.alive.Done()

	nc := cc.getConn()
	for {
		pkt, err := nc.Receive()
		if !cc.alive.IsRunning() {
			return
		}
		switch err {
		case nil: // success path

		case io.EOF: // server closed connection
			_ = cc.die(errors.New("server closed connection"))
			return

		default:
			_ = cc.die(errors.Annotate(err, "receive"))
			return
		}

		switch pkt.(type) {
		case *packet.Pingresp:
			cc.pongat.SetNow()

		case *packet.Connack:
			_ = cc.die(errors.Errorf("server error duplicate CONNACK pkt=%s", pkt.String()))
			return

		default:
			// pure producer, no subscriptions: inbound is unexpected
			cc.opt.Log.Debugf("tele: ignore inbound pkt=%s", pkt.String())
		}
	}
}

func (cc *conn) send(p packet.Generic) error {
	if cc == nil {
		return client.ErrClientNotConnected
	}
	nc := cc.getConn()
	if nc == nil {
		return client.ErrClientNotConnected
	}
	if err := nc.Send(p, false); err != nil {
		err = errors.Annotatef(err, "send %s", p.Type().String())
		return cc.die(err)
	}
	cc.pingat.SetNow()
	return nil
}

func defaultString(main, def string) string {
	if main == "" {
		return def
	}
	return main
}

func keepaliveAndHalf(seconds uint16) time.Duration {
	return time.Duration(seconds) * time.Second * 3 / 2
}

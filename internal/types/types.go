// Package types holds the data model shared by transport, decode,
// policy and publish paths. Values here are plain data, no behaviour
// beyond formatting.
package types

import (
	"fmt"
	"strconv"
	"time"
)

type TransportKind uint8

const (
	TransportInvalid TransportKind = iota
	TransportStream                // framed or line-delimited byte stream
	TransportDigital               // GPIO level
	TransportAnalog                // ADC code
)

func (k TransportKind) String() string {
	switch k {
	case TransportStream:
		return "stream"
	case TransportDigital:
		return "digital"
	case TransportAnalog:
		return "analog"
	}
	return fmt.Sprintf("TransportKind(%d)", uint8(k))
}

// RawSample is one unit of transport output, consumed within the same
// tick it was produced.
type RawSample struct {
	Stamp time.Time
	Bytes []byte // TransportStream
	Code  uint16 // TransportAnalog
	Level bool   // TransportDigital
	Kind  TransportKind
}

// DecodedFrame is the result of successful resynchronization on a
// framed byte stream. Ephemeral, same-tick lifetime as RawSample.
type DecodedFrame struct {
	Value float64
	Raw   uint64 // unscaled field, for logs
	Valid bool
}

type Reading struct {
	SensorID string
	Unit     string
	Value    float64
	Stamp    time.Time
	Quality  bool
}

// Payload is the wire form: fixed two-decimal ASCII.
func (r Reading) Payload() []byte {
	return strconv.AppendFloat(nil, r.Value, 'f', 2, 64)
}

func (r Reading) String() string {
	return fmt.Sprintf("%s=%.2f%s q=%t", r.SensorID, r.Value, r.Unit, r.Quality)
}

// RoomState is the two-valued occupancy state of debounced digital
// sensors. String() doubles as the wire payload token.
type RoomState uint8

const (
	StateOut RoomState = iota
	StateIn
)

func (s RoomState) String() string {
	if s == StateIn {
		return "IN"
	}
	return "OUT"
}

func (s RoomState) Payload() []byte { return []byte(s.String()) }

type PublishReason uint8

const (
	ReasonNone PublishReason = iota
	ReasonFirst
	ReasonHeartbeat
	ReasonThreshold
	ReasonStateChange
)

func (r PublishReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonFirst:
		return "first"
	case ReasonHeartbeat:
		return "heartbeat"
	case ReasonThreshold:
		return "threshold"
	case ReasonStateChange:
		return "state-change"
	}
	return fmt.Sprintf("PublishReason(%d)", uint8(r))
}

type PublishDecision struct {
	Reason PublishReason
	Emit   bool
}

type ConnState uint32

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
	ConnBackoff
)

func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnBackoff:
		return "backoff"
	}
	return fmt.Sprintf("ConnState(%d)", uint32(s))
}

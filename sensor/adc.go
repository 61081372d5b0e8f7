package sensor

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"

	"github.com/homesense/sensord/internal/types"
)

var periphInitOnce sync.Once
var periphInitErr error

// ADCSource reads one single-ended channel of an MCP3208-compatible
// SPI ADC. The raw code is reported as-is; voltage and unit scaling
// happen in AnalogScale.
type ADCSource struct {
	port    spi.PortCloser
	conn    spi.Conn
	desc    string
	channel uint8
}

func NewADC(spiName string, channel uint8) (*ADCSource, error) {
	if channel > 7 {
		return nil, errors.NotValidf("adc channel=%d", channel)
	}
	periphInitOnce.Do(func() { _, periphInitErr = host.Init() })
	if periphInitErr != nil {
		return nil, errors.Annotate(periphInitErr, "periph/init")
	}

	port, err := spireg.Open(spiName)
	if err != nil {
		return nil, errors.Annotatef(err, "adc SPI open %s", spiName)
	}
	conn, err := port.Connect(1*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, errors.Annotatef(err, "adc SPI connect %s", spiName)
	}
	return &ADCSource{
		port:    port,
		conn:    conn,
		channel: channel,
		desc:    "adc:" + spiName,
	}, nil
}

func (a *ADCSource) Poll(now time.Time) (types.RawSample, bool, error) {
	// MCP3208 single-ended conversion, 12 bit result
	tx := [3]byte{0x06 | (a.channel>>2)&0x01, (a.channel & 0x03) << 6, 0x00}
	var rx [3]byte
	if err := a.conn.Tx(tx[:], rx[:]); err != nil {
		return types.RawSample{}, false, errors.Annotate(err, a.desc)
	}
	code := uint16(rx[1]&0x0f)<<8 | uint16(rx[2])
	return types.RawSample{
		Kind:  types.TransportAnalog,
		Stamp: now,
		Code:  code,
	}, true, nil
}

func (a *ADCSource) Close() error { return a.port.Close() }

func (a *ADCSource) String() string { return a.desc }

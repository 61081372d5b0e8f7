package frame

import (
	"bytes"

	"github.com/juju/errors"

	"github.com/homesense/sensord/internal/types"
	"github.com/homesense/sensord/log2"
)

// BinaryConfig describes one header-framed protocol variant. The
// header/offset/width/divisor group is configuration, not protocol
// constants: reference values for known sensors live in config files.
type BinaryConfig struct {
	Header      []byte  // frame marker, typically 2 bytes
	FrameLength int     // payload bytes following the header
	FieldOffset int     // little-endian field position within payload
	FieldWidth  int     // field size in bytes, 1..8
	Divisor     float64 // raw field scale, default 1
	BufferMax   int     // resync drop bound, default DefaultBufferMax
}

// BinaryDecoder scans for the header and extracts one scaled field per
// frame. A header match with an incomplete payload window keeps
// buffered bytes until the next Feed: a frame straddling two polls is
// decoded whole once the tail arrives. Only garbage before the next
// header candidate is ever discarded.
type BinaryDecoder struct {
	log *log2.Log
	cfg BinaryConfig
	buf []byte
}

func NewBinary(cfg BinaryConfig, log *log2.Log) (*BinaryDecoder, error) {
	if len(cfg.Header) == 0 {
		return nil, errors.NotValidf("binary framing: empty header")
	}
	if cfg.FrameLength <= 0 {
		return nil, errors.NotValidf("binary framing: frame_length=%d", cfg.FrameLength)
	}
	if cfg.FieldWidth < 1 || cfg.FieldWidth > 8 {
		return nil, errors.NotValidf("binary framing: field_width=%d", cfg.FieldWidth)
	}
	// Fatal at construction, never checked per frame.
	if cfg.FieldOffset < 0 || cfg.FieldOffset+cfg.FieldWidth > cfg.FrameLength {
		return nil, errors.NotValidf("binary framing: field offset=%d width=%d exceeds frame_length=%d",
			cfg.FieldOffset, cfg.FieldWidth, cfg.FrameLength)
	}
	if cfg.Divisor == 0 {
		cfg.Divisor = 1
	}
	if cfg.BufferMax == 0 {
		cfg.BufferMax = DefaultBufferMax
	}
	if min := len(cfg.Header) + cfg.FrameLength; cfg.BufferMax < min {
		cfg.BufferMax = min
	}
	return &BinaryDecoder{
		log: log,
		cfg: cfg,
		buf: make([]byte, 0, len(cfg.Header)+cfg.FrameLength),
	}, nil
}

func (d *BinaryDecoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
	if len(d.buf) > d.cfg.BufferMax {
		// desync went on too long, drop the stale prefix
		drop := len(d.buf) - d.cfg.BufferMax
		d.log.Debugf("frame: buffer overflow drop=%d", drop)
		d.buf = d.buf[drop:]
	}
}

func (d *BinaryDecoder) Next() (types.DecodedFrame, bool) {
	i := bytes.Index(d.buf, d.cfg.Header)
	if i < 0 {
		// Keep a trailing partial header; the rest is garbage.
		keep := d.headerTail()
		if dropped := len(d.buf) - keep; dropped > 0 {
			d.log.Debugf("frame: resync dropped=%d", dropped)
			d.buf = append(d.buf[:0], d.buf[len(d.buf)-keep:]...)
		}
		return types.DecodedFrame{}, false
	}
	if i > 0 {
		d.log.Debugf("frame: resync dropped=%d", i)
		d.buf = append(d.buf[:0], d.buf[i:]...)
	}
	need := len(d.cfg.Header) + d.cfg.FrameLength
	if len(d.buf) < need {
		// partial frame, wait for the tail on a later poll
		return types.DecodedFrame{}, false
	}

	payload := d.buf[len(d.cfg.Header):need]
	raw := leUint(payload[d.cfg.FieldOffset : d.cfg.FieldOffset+d.cfg.FieldWidth])
	d.buf = append(d.buf[:0], d.buf[need:]...)
	return types.DecodedFrame{
		Value: float64(raw) / d.cfg.Divisor,
		Raw:   raw,
		Valid: true,
	}, true
}

// headerTail returns the length of the longest buffer suffix that is a
// proper prefix of the header.
func (d *BinaryDecoder) headerTail() int {
	max := len(d.cfg.Header) - 1
	if max > len(d.buf) {
		max = len(d.buf)
	}
	for k := max; k > 0; k-- {
		if bytes.Equal(d.buf[len(d.buf)-k:], d.cfg.Header[:k]) {
			return k
		}
	}
	return 0
}

// encoding/binary wants exactly 2/4/8 bytes, field width is free-form.
func leUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

package frame

import (
	"bytes"
	"strconv"

	"github.com/homesense/sensord/internal/types"
	"github.com/homesense/sensord/log2"
)

// LineDecoder accumulates bytes until a line terminator and parses
// lines of the form "<tag><sep><number>". Lines without the expected
// tag are discarded silently: mixed output on a shared serial line is
// the normal case, not an error.
type LineDecoder struct {
	log       *log2.Log
	tag       []byte
	buf       []byte
	bufferMax int
}

func NewLine(tag string, log *log2.Log) *LineDecoder {
	return &LineDecoder{
		log:       log,
		tag:       []byte(tag),
		bufferMax: DefaultBufferMax,
	}
}

func (d *LineDecoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
	if len(d.buf) > d.bufferMax {
		drop := len(d.buf) - d.bufferMax
		d.log.Debugf("frame: line buffer overflow drop=%d", drop)
		d.buf = d.buf[drop:]
	}
}

func (d *LineDecoder) Next() (types.DecodedFrame, bool) {
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			return types.DecodedFrame{}, false
		}
		line := bytes.TrimSpace(d.buf[:idx])
		d.buf = append(d.buf[:0], d.buf[idx+1:]...)

		if len(d.tag) > 0 && !bytes.HasPrefix(line, d.tag) {
			continue
		}
		rest := bytes.TrimSpace(line[len(d.tag):])
		rest = bytes.TrimLeft(rest, ":= \t")
		if len(rest) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(string(rest), 64)
		if err != nil {
			d.log.Debugf("frame: line unparsable tag=%s rest=%s", d.tag, rest)
			continue
		}
		return types.DecodedFrame{Value: v, Valid: true}, true
	}
}

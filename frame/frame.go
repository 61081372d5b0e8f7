// Package frame recovers discrete frames from a continuous byte
// stream. Two framings are supported: fixed binary header with a
// fixed-length payload window, and line-delimited text with a tag
// prefix. Decoders are polled, they never block beyond bytes already
// fed.
package frame

import (
	"github.com/homesense/sensord/internal/types"
)

const DefaultBufferMax = 4096

// Decoder is fed raw transport bytes and polled for complete frames.
// Next returns ok=false when no complete frame is buffered, which is
// the normal frequent case, not an error.
type Decoder interface {
	Feed(p []byte)
	Next() (types.DecodedFrame, bool)
}

// Package sensor abstracts physical transports into raw samples and
// normalizes them into engineering-unit readings.
package sensor

import (
	"time"

	"github.com/homesense/sensord/internal/types"
)

// Source is the polled transport reader. Poll never blocks: it returns
// ok=false when nothing new is available, which is the normal case.
// One Poll call returns at most one sample; stream sources return a
// chunk of buffered bytes.
type Source interface {
	Poll(now time.Time) (types.RawSample, bool, error)
	Close() error
	String() string
}

// MockSource feeds prepared samples in order, for tests and the
// workbench CLI.
type MockSource struct {
	Name    string
	Samples []types.RawSample
	pos     int
}

func (m *MockSource) Push(s types.RawSample) { m.Samples = append(m.Samples, s) }

func (m *MockSource) Poll(now time.Time) (types.RawSample, bool, error) {
	if m.pos >= len(m.Samples) {
		return types.RawSample{}, false, nil
	}
	s := m.Samples[m.pos]
	m.pos++
	if s.Stamp.IsZero() {
		s.Stamp = now
	}
	return s, true, nil
}

func (m *MockSource) Close() error { return nil }

func (m *MockSource) String() string {
	if m.Name == "" {
		return "mock"
	}
	return "mock:" + m.Name
}

// Package log2 is a thin leveled wrapper around stdlib log.
// Niceties over bare *log.Logger:
// - level filtering with safe concurrent level change
// - nil *Log receiver is valid and silent, callers skip nil checks
// - NewTest() routes into testing.TB for parallel test logs
package log2

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"sync/atomic"
	"testing"
)

const (
	// type specified here helped against accidentally passing flags as level
	Lmicroseconds     int = log.Lmicroseconds
	Lshortfile        int = log.Lshortfile
	LStdFlags         int = log.Ltime | Lshortfile
	LInteractiveFlags int = log.Ltime | Lshortfile | Lmicroseconds
	LServiceFlags     int = Lshortfile
	LTestFlags        int = Lshortfile | Lmicroseconds
)

type Level int32

const (
	LError Level = iota
	LInfo
	LDebug
	LAll Level = math.MaxInt32
)

type FmtFunc func(format string, args ...interface{})

type fmtWriter struct{ f FmtFunc }

func (fw fmtWriter) Write(b []byte) (int, error) {
	fw.f(string(b))
	return len(b), nil
}

type Log struct {
	l       *log.Logger
	w       io.Writer
	onError func(error)
	fatalf  FmtFunc
	level   Level
}

func NewStderr(level Level) *Log { return NewWriter(os.Stderr, level) }

func NewWriter(w io.Writer, level Level) *Log {
	if w == io.Discard {
		return nil
	}
	return &Log{
		l:     log.New(w, "", LStdFlags),
		level: level,
		w:     w,
	}
}

func NewFunc(f FmtFunc, level Level) *Log { return NewWriter(fmtWriter{f}, level) }

func NewTest(t testing.TB, level Level) *Log {
	l := NewFunc(t.Logf, level)
	l.fatalf = t.Fatalf
	return l
}

func (l *Log) Clone(level Level) *Log {
	if l == nil {
		return nil
	}
	n := NewWriter(l.w, level)
	n.SetFlags(l.l.Flags())
	n.onError = l.onError
	n.fatalf = l.fatalf
	return n
}

func (l *Log) SetLevel(lvl Level) {
	if l == nil {
		return
	}
	atomic.StoreInt32((*int32)(&l.level), int32(lvl))
}

func (l *Log) SetFlags(f int) {
	if l == nil {
		return
	}
	l.l.SetFlags(f)
}

func (l *Log) SetPrefix(prefix string) {
	if l == nil {
		return
	}
	l.l.SetPrefix(prefix)
}

// SetErrorFunc installs a hook called with every Error/Errorf value,
// e.g. to count errors in telemetry stat.
func (l *Log) SetErrorFunc(f func(error)) {
	if l == nil {
		return
	}
	l.onError = f
}

func (l *Log) Enabled(lvl Level) bool {
	if l == nil {
		return false
	}
	return atomic.LoadInt32((*int32)(&l.level)) >= int32(lvl)
}

func (l *Log) Log(lvl Level, s string) {
	if l.Enabled(lvl) {
		_ = l.l.Output(3, s)
	}
}

func (l *Log) Logf(lvl Level, format string, args ...interface{}) {
	if l.Enabled(lvl) {
		_ = l.l.Output(3, fmt.Sprintf(format, args...))
	}
}

func (l *Log) Error(args ...interface{}) {
	if l == nil {
		return
	}
	if l.onError != nil {
		var e error
		if len(args) == 1 {
			if x, ok := args[0].(error); ok {
				e = x
			}
		}
		if e == nil {
			e = fmt.Errorf("%s", fmt.Sprint(args...))
		}
		l.onError(e)
	}
	l.Log(LError, "error: "+fmt.Sprint(args...))
}

func (l *Log) Errorf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	if l.onError != nil {
		l.onError(fmt.Errorf(format, args...))
	}
	l.Logf(LError, "error: "+format, args...)
}

func (l *Log) Info(args ...interface{})                  { l.Log(LInfo, fmt.Sprint(args...)) }
func (l *Log) Infof(format string, args ...interface{})  { l.Logf(LInfo, format, args...) }
func (l *Log) Debug(args ...interface{})                 { l.Log(LDebug, "debug: "+fmt.Sprint(args...)) }
func (l *Log) Debugf(format string, args ...interface{}) { l.Logf(LDebug, "debug: "+format, args...) }

func (l *Log) Fatal(args ...interface{}) {
	s := fmt.Sprint(args...)
	if l != nil && l.fatalf != nil {
		l.fatalf(s)
		return
	}
	l.Log(LError, "fatal: "+s)
	os.Exit(1)
}

func (l *Log) Fatalf(format string, args ...interface{}) {
	if l != nil && l.fatalf != nil {
		l.fatalf(format, args...)
		return
	}
	l.Logf(LError, "fatal: "+format, args...)
	os.Exit(1)
}

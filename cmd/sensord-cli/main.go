// Workbench for the sensor pipeline without hardware: feed bytes to the
// frame decoders, levels to the debounce filter, codes to the analog
// scale, and watch what the publish policy would do.
package main

import (
	"encoding/hex"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"

	"github.com/homesense/sensord/frame"
	"github.com/homesense/sensord/helpers"
	"github.com/homesense/sensord/helpers/cli"
	"github.com/homesense/sensord/internal/types"
	"github.com/homesense/sensord/log2"
	"github.com/homesense/sensord/policy"
	"github.com/homesense/sensord/sensor"
)

const usage = `syntax: commands separated by whitespace
(feed)
- @XX...   feed hex bytes to the binary frame decoder
- line:T   feed text line T to the line decoder ('\n' appended)
- level=0|1  feed a raw level through debounce
- adc=N    feed ADC code N through the analog scale

(main)
- sN       pause N milliseconds
- drain    print frames decoded so far

(meta)
- log=yes  enable debug logging
- log=no   disable debug logging
`

var log = log2.NewStderr(log2.LDebug)

type bench struct {
	bin   *frame.BinaryDecoder
	line  *frame.LineDecoder
	deb   *sensor.Debounce
	scale sensor.AnalogScale
	norm  *sensor.Normalizer
	pol   *policy.Engine
}

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	headerHex := cmdline.String("header", "fdfc", "binary frame header, hex")
	frameLength := cmdline.Int("frame-length", 13, "binary payload length")
	fieldOffset := cmdline.Int("field-offset", 8, "binary field offset")
	fieldWidth := cmdline.Int("field-width", 2, "binary field width")
	divisor := cmdline.Float64("divisor", 10, "binary field divisor")
	lineTag := cmdline.String("line-tag", "", "line decoder tag filter")
	debounceMs := cmdline.Int("debounce", 3000, "debounce interval, ms")
	threshold := cmdline.Float64("threshold", 0.05, "policy threshold")
	heartbeatMs := cmdline.Int("heartbeat", 30000, "policy heartbeat, ms")
	cmdline.Parse(os.Args[1:])

	log.SetFlags(log2.LInteractiveFlags)

	bin, err := frame.NewBinary(frame.BinaryConfig{
		Header:      helpers.MustHex(*headerHex),
		FrameLength: *frameLength,
		FieldOffset: *fieldOffset,
		FieldWidth:  *fieldWidth,
		Divisor:     *divisor,
	}, log)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	b := &bench{
		bin:   bin,
		line:  frame.NewLine(*lineTag, log),
		deb:   sensor.NewDebounce(time.Duration(*debounceMs) * time.Millisecond),
		scale: sensor.AnalogScale{ReferenceVolt: 3.3, ResolutionBits: 12, FullScale: 2.0},
		norm:  sensor.NewNormalizer(sensor.Meta{ID: "bench", Unit: ""}),
		pol: policy.New(policy.Config{
			HeartbeatInterval: time.Duration(*heartbeatMs) * time.Millisecond,
			Threshold:         *threshold,
			StateChange:       true,
		}),
	}

	cli.MainLoop("sensord-cli", newExecutor(b), newCompleter())
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "@XX", Description: "feed hex bytes to binary decoder"},
		{Text: "line:", Description: "feed text line to line decoder"},
		{Text: "level=", Description: "feed raw level 0|1"},
		{Text: "adc=", Description: "feed ADC code"},
		{Text: "drain", Description: "print decoded frames"},
		{Text: "sN", Description: "pause for N ms"},
		{Text: "log=yes", Description: "debug logging on"},
		{Text: "log=no", Description: "debug logging off"},
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(b *bench) func(string) {
	return func(line string) {
		for _, word := range strings.Split(line, " ") {
			word = strings.TrimSpace(word)
			if word == "" {
				continue
			}
			if err := b.exec(word); err != nil {
				log.Errorf(errors.ErrorStack(err))
				return
			}
		}
	}
}

func (b *bench) exec(word string) error {
	now := time.Now()
	switch {
	case word == "help":
		log.Infof(usage)
	case word == "log=yes":
		log.SetLevel(log2.LDebug)
	case word == "log=no":
		log.SetLevel(log2.LInfo)
	case word == "drain":
		b.drain(now)
	case strings.HasPrefix(word, "@"):
		bs, err := hex.DecodeString(word[1:])
		if err != nil {
			return errors.Annotatef(err, "word=%s", word)
		}
		b.bin.Feed(bs)
		b.drain(now)
	case strings.HasPrefix(word, "line:"):
		b.line.Feed([]byte(word[5:] + "\n"))
		for {
			f, ok := b.line.Next()
			if !ok {
				break
			}
			b.report(b.norm.FromFrame(f, now), false, now)
		}
	case strings.HasPrefix(word, "level="):
		lv := word[6:]
		if lv != "0" && lv != "1" {
			return errors.Errorf("error: level expects 0|1: '%s'", word)
		}
		st, changed := b.deb.Update(lv == "1", now)
		log.Infof("level -> state=%s changed=%t", st, changed)
		b.report(b.norm.FromState(st, now), changed, now)
	case strings.HasPrefix(word, "adc="):
		i, err := strconv.ParseUint(word[4:], 10, 16)
		if err != nil {
			return errors.Annotatef(err, "word=%s", word)
		}
		b.report(b.norm.FromAnalog(uint16(i), b.scale, now), false, now)
	case word[0] == 's':
		i, err := strconv.ParseUint(word[1:], 10, 32)
		if err != nil {
			return errors.Annotatef(err, "word=%s", word)
		}
		time.Sleep(time.Duration(i) * time.Millisecond)
	default:
		return errors.Errorf("error: invalid command: '%s'", word)
	}
	return nil
}

func (b *bench) drain(now time.Time) {
	for {
		f, ok := b.bin.Next()
		if !ok {
			return
		}
		log.Infof("frame raw=%d value=%.2f valid=%t", f.Raw, f.Value, f.Valid)
		b.report(b.norm.FromFrame(f, now), false, now)
	}
}

func (b *bench) report(r types.Reading, stateChanged bool, now time.Time) {
	d := b.pol.Decide(r, stateChanged, now)
	if d.Emit {
		log.Infof("%s -> publish reason=%s payload=%s", r.String(), d.Reason, string(r.Payload()))
	} else {
		log.Infof("%s -> suppress", r.String())
	}
}

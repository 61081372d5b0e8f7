package sensor

import (
	"fmt"
	"time"

	"github.com/juju/errors"
	gpio "github.com/temoto/gpio-cdev-go"

	"github.com/homesense/sensord/internal/types"
)

// GPIOSource polls the level of one input line via the Linux GPIO
// character device. Every Poll returns a sample; debounce and
// change detection happen downstream.
type GPIOSource struct {
	chip  gpio.Chiper
	lines gpio.Lineser
	desc  string
}

func NewGPIO(chipName string, line uint32, consumer string) (*GPIOSource, error) {
	chip, err := gpio.Open(chipName, consumer)
	if err != nil {
		return nil, errors.Annotatef(err, "gpio open chip=%s", chipName)
	}
	lines, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_INPUT, consumer, line)
	if err != nil {
		_ = chip.Close()
		return nil, errors.Annotatef(err, "gpio line=%d chip=%s", line, chipName)
	}
	return &GPIOSource{
		chip:  chip,
		lines: lines,
		desc:  fmt.Sprintf("gpio:%s/%d", chipName, line),
	}, nil
}

func (g *GPIOSource) Poll(now time.Time) (types.RawSample, bool, error) {
	data, err := g.lines.Read()
	if err != nil {
		return types.RawSample{}, false, errors.Annotate(err, g.desc)
	}
	return types.RawSample{
		Kind:  types.TransportDigital,
		Stamp: now,
		Level: data.Values[0] != 0,
	}, true, nil
}

func (g *GPIOSource) Close() error {
	g.lines.Close()
	return g.chip.Close()
}

func (g *GPIOSource) String() string { return g.desc }

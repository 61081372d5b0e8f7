package state

import (
	"path/filepath"
	"sync"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/homesense/sensord/helpers"
	"github.com/homesense/sensord/log2"
	tele_config "github.com/homesense/sensord/tele/config"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Agent struct {
		TickIntervalMs int `hcl:"tick_interval_ms"`
	} `hcl:"agent"`

	Tele tele_config.Config `hcl:"tele"`

	Sensors []SensorConfig `hcl:"sensor"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

type SensorConfig struct { //nolint:maligned
	Name   string `hcl:"name,key"`
	Kind   string `hcl:"kind"` // uart, gpio, adc
	Topic  string `hcl:"topic"`
	Unit   string `hcl:"unit"`
	Enable bool   `hcl:"enable"`

	UartDevice string `hcl:"uart_device"`
	UartBaud   int    `hcl:"uart_baud"`

	GpioChip string `hcl:"gpio_chip"`
	GpioLine uint32 `hcl:"gpio_line"`

	Spi        string `hcl:"spi"`
	AdcChannel uint8  `hcl:"adc_channel"`
	Adc        struct {
		ReferenceVolt  float64 `hcl:"reference_volt"`
		ResolutionBits uint    `hcl:"resolution_bits"`
		FullScale      float64 `hcl:"full_scale"`
	} `hcl:"adc"`

	Framing struct {
		Mode        string `hcl:"mode"` // binary, line
		Header      string `hcl:"header"`
		FrameLength int    `hcl:"frame_length"`
		FieldOffset int    `hcl:"field_offset"`
		FieldWidth  int    `hcl:"field_width"`
		Divisor     int    `hcl:"divisor"`
		LineTag     string `hcl:"line_tag"`
	} `hcl:"framing"`

	Policy struct {
		SampleMinMs int     `hcl:"sample_min_ms"`
		HeartbeatMs int     `hcl:"heartbeat_ms"`
		Threshold   float64 `hcl:"threshold"`
		StateChange bool    `hcl:"state_change"`
		DebounceMs  int     `hcl:"debounce_ms"`
	} `hcl:"policy"`
}

func (sc *SensorConfig) validate() error {
	errs := make([]error, 0, 4)
	if sc.Topic == "" {
		errs = append(errs, errors.NotValidf("sensor=%s topic empty", sc.Name))
	}
	switch sc.Kind {
	case "uart":
		if sc.UartDevice == "" {
			errs = append(errs, errors.NotValidf("sensor=%s kind=uart uart_device empty", sc.Name))
		}
		switch sc.Framing.Mode {
		case "binary", "line":
		default:
			errs = append(errs, errors.NotValidf("sensor=%s framing mode=%s", sc.Name, sc.Framing.Mode))
		}
	case "gpio":
		if sc.GpioChip == "" {
			errs = append(errs, errors.NotValidf("sensor=%s kind=gpio gpio_chip empty", sc.Name))
		}
	case "adc":
	default:
		errs = append(errs, errors.NotValidf("sensor=%s kind=%s", sc.Name, sc.Kind))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) validate() error {
	errs := make([]error, 0, 8)
	if c.Agent.TickIntervalMs <= 0 {
		c.Agent.TickIntervalMs = 100
	}
	seen := make(map[string]struct{}, len(c.Sensors))
	for i := range c.Sensors {
		sc := &c.Sensors[i]
		if _, ok := seen[sc.Name]; ok {
			errs = append(errs, errors.Errorf("config duplicate sensor=%s", sc.Name))
			continue
		}
		seen[sc.Name] = struct{}{}
		if err := sc.validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		log.Fatalf("config duplicate source=%s", source.Name)
	} else {
		log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	}
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if err != nil {
		// not-found has exactly one representation, errors.IsNotFound
		if source.Optional && errors.IsNotFound(err) {
			log.Debugf("config optional source=%s not found", source.Name)
			return
		}
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if err := c.validate(); err != nil {
		errs = append(errs, err)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homesense/sensord/log2"
)

func TestLineDecode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		tag    string
		input  string
		expect []float64
	}{
		{"plain", "CO2", "CO2: 412\n", []float64{412}},
		{"equals-sep", "CO2", "CO2=417.5\n", []float64{417.5}},
		{"surrounding-space", "CO2", "  CO2: 399  \r\n", []float64{399}},
		{"wrong-tag-skipped", "CO2", "TVOC: 120\nCO2: 412\n", []float64{412}},
		{"unparsable-skipped", "CO2", "CO2: zz\nCO2: 400\n", []float64{400}},
		{"empty-value-skipped", "CO2", "CO2:\nCO2: 401\n", []float64{401}},
		{"multiple", "CO2", "CO2: 1\nCO2: 2\nCO2: 3\n", []float64{1, 2, 3}},
		{"no-terminator-waits", "CO2", "CO2: 412", nil},
		{"no-tag-accepts-bare-number", "", "417\n", []float64{417}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			log := log2.NewTest(t, log2.LDebug)
			d := NewLine(c.tag, log)
			d.Feed([]byte(c.input))
			fs := drain(d)
			require.Len(t, fs, len(c.expect))
			for i, e := range c.expect {
				assert.Equal(t, e, fs[i].Value)
				assert.True(t, fs[i].Valid)
			}
		})
	}
}

func TestLineSplitFeed(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)

	d := NewLine("CO2", log)
	d.Feed([]byte("CO2: 4"))
	_, ok := d.Next()
	assert.False(t, ok)
	d.Feed([]byte("12\n"))
	fs := drain(d)
	require.Len(t, fs, 1)
	assert.Equal(t, 412.0, fs[0].Value)
}

package common

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_Parse(t *testing.T) {
	for _, tc := range []struct {
		name      string
		input     string
		expected  time.Duration
		expectErr bool
	}{
		{"empty", "", 0, false},
		{"seconds", "10", 10 * time.Second, false},
		{"fractional", "2.5", 2500 * time.Millisecond, false},
		{"go", "1m30s", 90 * time.Second, false},
		{"go_millis", "250ms", 250 * time.Millisecond, false},
		{"iso", "PT10S", 10 * time.Second, false},
		{"iso_complex", "PT1H30M45S", time.Hour + 30*time.Minute + 45*time.Second, false},
		{"iso_day", "P1D", 24 * time.Hour, false},
		{"invalid", "soon", 0, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var d Duration
			var err = d.Parse(tc.input)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, d.AsDuration())
		})
	}
}

// TestDuration_UnmarshalObject checks unmarshalling into structs containing Duration fields
// from both of the supported document formats.
func TestDuration_UnmarshalObject(t *testing.T) {
	type testObject struct {
		Backoff Duration  `json:"backoff,omitempty" yaml:"backoff,omitempty"`
		Timeout *Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	}

	var fromYAML testObject
	require.NoError(t, yaml.Unmarshal([]byte("backoff: 10\ntimeout: PT1M\n"), &fromYAML))
	require.Equal(t, 10*time.Second, fromYAML.Backoff.AsDuration())
	require.Equal(t, time.Minute, fromYAML.Timeout.AsDuration())

	var quoted testObject
	require.NoError(t, yaml.Unmarshal([]byte("backoff: \"15\"\n"), &quoted))
	require.Equal(t, 15*time.Second, quoted.Backoff.AsDuration())
	require.Nil(t, quoted.Timeout)

	var fromJSON testObject
	require.NoError(t, json.Unmarshal([]byte(`{"backoff": 0.5, "timeout": "2s"}`), &fromJSON))
	require.Equal(t, 500*time.Millisecond, fromJSON.Backoff.AsDuration())
	require.Equal(t, 2*time.Second, fromJSON.Timeout.AsDuration())

	var invalid testObject
	require.Error(t, yaml.Unmarshal([]byte("backoff: [1, 2]\n"), &invalid))
	require.Error(t, json.Unmarshal([]byte(`{"backoff": true}`), &invalid))
}

func TestDuration_NilAsDuration(t *testing.T) {
	var d *Duration = nil
	require.Equal(t, time.Duration(0), d.AsDuration(), "Nil Duration should be treated as zero duration")
}

func TestDuration_Marshal(t *testing.T) {
	var d = Duration(90 * time.Second)
	bs, err := json.Marshal(d)
	require.NoError(t, err)
	require.Equal(t, `"1m30s"`, string(bs))

	out, err := yaml.Marshal(map[string]Duration{"backoff": d})
	require.NoError(t, err)
	require.Equal(t, "backoff: 1m30s\n", string(out))
}

package common

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	iso8601 "github.com/senseyeio/duration"
	"gopkg.in/yaml.v3"
)

// Duration is a configured span of time. It may be written as a plain number
// of seconds (10, 2.5, "10"), as a Go duration string ("1m30s"), or as an
// ISO 8601 duration ("PT1M30S").
type Duration time.Duration

func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "number", Minimum: json.Number("0")},
			{Type: "string"},
		},
	}
}

func (x Duration) String() string { return time.Duration(x).String() }

func (x Duration) MarshalJSON() ([]byte, error) { return json.Marshal(x.String()) }

func (x Duration) MarshalYAML() (any, error) { return x.String(), nil }

// AsDuration converts to a Go time.Duration. A nil Duration is zero.
func (x *Duration) AsDuration() time.Duration {
	if x == nil {
		return 0
	}
	return time.Duration(*x)
}

// Parse parses the textual forms accepted by Duration.
func (x *Duration) Parse(s string) error {
	s = strings.TrimSpace(s)
	// Explicitly making the empty string a valid (zero) duration for maximum compatibility.
	if s == "" {
		*x = 0
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return x.setSeconds(secs)
	}
	if d, err := time.ParseDuration(s); err == nil {
		*x = Duration(d)
		return nil
	}
	if p, err := iso8601.ParseISO8601(s); err == nil {
		*x = Duration(fromISO8601(p))
		return nil
	}
	return fmt.Errorf("invalid duration %q: expected seconds, a Go duration like '10s', or an ISO 8601 duration like 'PT10S'", s)
}

func (x *Duration) setSeconds(secs float64) error {
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return fmt.Errorf("invalid duration %v", secs)
	}
	*x = Duration(secs * float64(time.Second))
	return nil
}

func (x *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case nil:
		*x = 0
		return nil
	case float64:
		return x.setSeconds(v)
	case string:
		return x.Parse(v)
	}
	return fmt.Errorf("invalid duration %s", string(data))
}

func (x *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar value", node.Line)
	}
	if node.Tag == "!!null" {
		*x = 0
		return nil
	}
	if err := x.Parse(node.Value); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

// fromISO8601 approximates days/weeks/months/years as the obvious constants,
// which is not strictly accurate but is the most useful behavior when we need
// a Go time.Duration value.
func fromISO8601(x iso8601.Duration) time.Duration {
	return time.Duration(x.TH)*time.Hour +
		time.Duration(x.TM)*time.Minute +
		time.Duration(x.TS)*time.Second +
		time.Duration(x.D)*24*time.Hour +
		time.Duration(x.W)*7*24*time.Hour +
		time.Duration(x.M)*30*24*time.Hour +
		time.Duration(x.Y)*365*24*time.Hour
}

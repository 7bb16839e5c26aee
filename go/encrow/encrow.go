// Package encrow provides a JSON encoder optimized for SQL table rows.
package encrow

import (
	"fmt"

	"github.com/segmentio/encoding/json"
)

// A Shape represents the structure of a particular document.
type Shape struct {
	Arity    int      // Number of values which should be provided to Encode. May not match the length of prefix/swizzle arrays.
	Names    []string // Names of the fields in the order they will be serialized.
	Prefixes []string // Prefixes for each field, in the order they will be serialized.
	Swizzle  []int    // Indices into the values list which correspond to the fields in the prefixes. May not include all values.

	Flags json.AppendFlags // JSON serialization flags to use when encoding values.
}

// NewOrderedShape constructs a Shape which serializes fields in the order they
// are provided. A repeated name is serialized once, at the position of its first
// occurrence, with the value of its last occurrence.
func NewOrderedShape(fields []string) *Shape {
	var last = make(map[string]int, len(fields))
	for i, name := range fields {
		last[name] = i
	}
	var swizzle []int
	var seen = make(map[string]bool, len(fields))
	for _, name := range fields {
		if seen[name] {
			continue
		}
		seen[name] = true
		swizzle = append(swizzle, last[name])
	}
	return newShape(fields, swizzle)
}

func newShape(fields []string, swizzle []int) *Shape {
	var orderedNames = make([]string, len(swizzle))
	for i, j := range swizzle {
		orderedNames[i] = fields[j]
	}
	return &Shape{
		Arity:    len(fields),
		Names:    orderedNames,
		Prefixes: generatePrefixes(orderedNames),
		Swizzle:  swizzle,
		Flags:    json.EscapeHTML | json.SortMapKeys,
	}
}

// generatePrefixes creates a list of prefixes for the named object fields,
// in the order they are provided.
func generatePrefixes(fields []string) []string {
	var prefixes []string
	for _, fieldName := range fields {
		var quotedFieldName, err = json.Marshal(fieldName)
		if err != nil {
			panic(fmt.Errorf("error escaping field name %q: %w", fieldName, err))
		}
		prefixes = append(prefixes, fmt.Sprintf("%s:", quotedFieldName))
	}
	return prefixes
}

// Encode serializes a list of values into the specified shape, appending to the provided buffer.
func (s *Shape) Encode(buf []byte, values []any) ([]byte, error) {
	var err error
	if len(values) != s.Arity {
		return nil, fmt.Errorf("incorrect row arity: expected %d but got %d", s.Arity, len(values))
	}
	if len(s.Swizzle) == 0 {
		return append(buf, '{', '}'), nil
	}

	var firstValue = true
	buf = append(buf, '{')
	for idx, vidx := range s.Swizzle {
		var v = values[vidx]
		if !firstValue {
			buf = append(buf, ',')
		}
		firstValue = false

		buf = append(buf, s.Prefixes[idx]...)
		buf, err = json.Append(buf, v, s.Flags)
		if err != nil {
			return nil, fmt.Errorf("error encoding field %q: %w", s.Names[idx], err)
		}
	}
	buf = append(buf, '}')
	return buf, nil
}

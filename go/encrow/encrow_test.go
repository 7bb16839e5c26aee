package encrow

import (
	"fmt"
	"maps"
	"math"
	"math/rand"
	"slices"
	"testing"
	"time"

	stdjson "encoding/json"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const benchmarkDatasetSize = 1000

func BenchmarkOrderedShapeSerialization(b *testing.B) {
	var names, values = benchmarkDataset(benchmarkDatasetSize)
	var s = NewOrderedShape(names)
	var buf []byte
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, row := range values {
			var err error
			buf, err = s.Encode(buf[:0], row)
			require.NoError(b, err)
		}
	}
}

func TestSerializationEquivalence(t *testing.T) {
	var names, values = benchmarkDataset(benchmarkDatasetSize)
	for _, row := range values {
		checkEquivalence(t, names, row)
	}
}

func TestOrderedShape(t *testing.T) {
	var shape = NewOrderedShape([]string{"log_source", "id", "ts", "", "SourceIPV4"})
	require.Equal(t, []string{"log_source", "id", "ts", "", "SourceIPV4"}, shape.Names)

	bs, err := shape.Encode(nil, []any{"audit", int64(7), "2024-01-01T00:00:00", "kept", "192.168.0.1"})
	require.NoError(t, err)
	require.Equal(t, `{"log_source":"audit","id":7,"ts":"2024-01-01T00:00:00","":"kept","SourceIPV4":"192.168.0.1"}`, string(bs))

	// Appends to the provided buffer rather than replacing it.
	bs, err = shape.Encode([]byte("prefix "), []any{"a", nil, "NULL", nil, "x"})
	require.NoError(t, err)
	require.Equal(t, `prefix {"log_source":"a","id":null,"ts":"NULL","":null,"SourceIPV4":"x"}`, string(bs))
}

func TestOrderedShapeDuplicates(t *testing.T) {
	var shape = NewOrderedShape([]string{"log_source", "id", "log_source"})
	require.Equal(t, []string{"log_source", "id"}, shape.Names)

	bs, err := shape.Encode(nil, []any{"configured", 1, "from-row"})
	require.NoError(t, err)
	require.Equal(t, `{"log_source":"from-row","id":1}`, string(bs))
}

func TestShapeErrors(t *testing.T) {
	var shape = NewOrderedShape([]string{"a", "b"})
	var _, err = shape.Encode(nil, []any{1})
	require.ErrorContains(t, err, "incorrect row arity: expected 2 but got 1")

	_, err = shape.Encode(nil, []any{1, math.NaN()})
	require.ErrorContains(t, err, `error encoding field "b"`)

	bs, err := NewOrderedShape(nil).Encode(nil, nil)
	require.NoError(t, err)
	require.Equal(t, "{}", string(bs))
}

// checkEquivalence compares the encoding of a row whose fields are given in
// sorted order against the standard library's encoding of the same map.
func checkEquivalence(t *testing.T, names []string, values []any) {
	var fields = make(map[string]any)
	for idx, val := range values {
		fields[names[idx]] = val
	}
	standardBytes, err := stdjson.Marshal(fields)
	require.NoError(t, err)

	var sortedNames = slices.Sorted(maps.Keys(fields))
	var sortedValues = make([]any, len(sortedNames))
	for i, name := range sortedNames {
		sortedValues[i] = fields[name]
	}
	shapeBytes, err := NewOrderedShape(sortedNames).Encode(nil, sortedValues)
	require.NoError(t, err)

	require.Equal(t, string(standardBytes), string(shapeBytes))
}

func benchmarkDataset(size int) ([]string, [][]any) {
	var names = []string{"id", "type", "ctime", "mtime", "name", "description", "sequenceNumber", "state", "version", "intParamA", "intParamB", "intParamC", "intParamD"}
	var values [][]any
	for i := 0; i < size; i++ {
		var row = []any{
			uuid.New().String(),
			[]string{"event", "action", "item", "unknown"}[rand.Intn(4)],
			time.Now().Add(-time.Duration(rand.Intn(10000000)+50000000) * time.Second).UTC(),
			time.Now().Add(-time.Duration(rand.Intn(10000000)+10000000) * time.Second).UTC(),
			fmt.Sprintf("Row Number %d", i),
			fmt.Sprintf("An object representing some row in a synthetic dataset. This one is row number %d.", i),
			i,
			[]string{"new", "in-progress", "completed"}[rand.Intn(3)],
			rand.Intn(3),
			rand.Intn(1000000000),
			rand.Intn(1000000000),
			rand.Intn(1000000000),
			rand.Intn(1000000000),
		}
		values = append(values, row)
	}
	return names, values
}

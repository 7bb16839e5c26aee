package main

import (
	"encoding"
	"encoding/hex"
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	cerrors "github.com/logshipper/connectors/go/connector-errors"
	mssql "github.com/microsoft/go-mssqldb"
	log "github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/text/unicode/norm"
)

// nullSentinel replaces null values in events.
const nullSentinel = "NULL"

type valueKind int

const (
	kindNull valueKind = iota
	kindString
	kindInteger
	kindFloat
	kindBool
	kindBytes
	kindTimestamp
	kindUUID
	kindObject
)

func (k valueKind) String() string {
	switch k {
	case kindNull:
		return "null"
	case kindString:
		return "string"
	case kindInteger:
		return "integer"
	case kindFloat:
		return "float"
	case kindBool:
		return "bool"
	case kindBytes:
		return "bytes"
	case kindTimestamp:
		return "timestamp"
	case kindUUID:
		return "uuid"
	case kindObject:
		return "object"
	}
	return fmt.Sprintf("valueKind(%d)", int(k))
}

// Value is a column value as returned by a database driver, classified by
// what it represents.
type Value struct {
	Kind valueKind
	Raw  any
}

// textualTypes are the database type names of columns which hold text, even
// when a driver returns their values as bytes.
var textualTypes = []string{
	"CHAR", "VARCHAR", "NCHAR", "NVARCHAR", "VARCHAR2", "NVARCHAR2", "BPCHAR", "CHARACTER",
	"TEXT", "NTEXT", "TINYTEXT", "MEDIUMTEXT", "LONGTEXT", "CITEXT", "CLOB", "NCLOB", "LONG",
	"JSON", "JSONB", "XML", "ENUM", "SET",
	"DECIMAL", "NUMERIC", "NUMBER", "MONEY",
	"DATE", "TIME", "DATETIME", "DATETIME2", "TIMESTAMP", "YEAR", "INTERVAL",
	"INT", "INTEGER", "TINYINT", "SMALLINT", "MEDIUMINT", "BIGINT", "FLOAT", "DOUBLE", "REAL",
}

func isTextualType(databaseTypeName string) bool {
	var name = strings.TrimPrefix(strings.ToUpper(databaseTypeName), "UNSIGNED ")
	for _, t := range textualTypes {
		if name == t {
			return true
		}
	}
	return false
}

// decodeValue classifies a driver value. The database type name decides
// whether a byte slice holds text or binary data.
func decodeValue(raw any, databaseTypeName string) Value {
	switch v := raw.(type) {
	case nil:
		return Value{kindNull, nil}
	case string:
		return Value{kindString, v}
	case []byte:
		if strings.EqualFold(databaseTypeName, "UNIQUEIDENTIFIER") && len(v) == 16 {
			return Value{kindUUID, v}
		} else if isTextualType(databaseTypeName) && utf8.Valid(v) {
			return Value{kindString, string(v)}
		}
		return Value{kindBytes, v}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Value{kindInteger, v}
	case float32, float64:
		return Value{kindFloat, v}
	case bool:
		return Value{kindBool, v}
	case time.Time:
		return Value{kindTimestamp, v}
	case uuid.UUID, [16]byte, mssql.UniqueIdentifier:
		return Value{kindUUID, v}
	}
	return Value{kindObject, raw}
}

// normalizer converts decoded values into their canonical event form.
type normalizer struct {
	ipv4 map[string]bool
	ipv6 map[string]bool

	fieldWarnings int // Number of values left unconverted due to an error.
}

func newNormalizer(ipv4Fields, ipv6Fields []string) *normalizer {
	var n = &normalizer{ipv4: make(map[string]bool), ipv6: make(map[string]bool)}
	for _, f := range ipv4Fields {
		n.ipv4[f] = true
	}
	for _, f := range ipv6Fields {
		n.ipv6[f] = true
	}
	return n
}

// normalizeValue converts the value of the named column. On error the caller
// should keep the raw value.
func (n *normalizer) normalizeValue(column string, v Value) (any, error) {
	switch {
	case n.ipv4[column] && v.Kind != kindNull:
		return ipv4String(v)
	case n.ipv6[column] && v.Kind != kindNull:
		return ipv6String(v)
	}

	switch v.Kind {
	case kindNull:
		return nullSentinel, nil
	case kindBytes:
		return printableASCII(v.Raw.([]byte)), nil
	case kindTimestamp:
		return v.Raw.(time.Time).Format(time.RFC3339Nano), nil
	case kindUUID:
		return uuidHex(v.Raw)
	case kindObject:
		return objectString(v.Raw), nil
	}
	return v.Raw, nil
}

// normalizeRow normalizes every value of a row. A value which cannot be
// normalized is logged and kept in its raw form. When a column name repeats,
// the later value is kept at the position of the first.
func (n *normalizer) normalizeRow(columns []string, values []Value) *orderedmap.OrderedMap[string, any] {
	var row = orderedmap.New[string, any](len(columns))
	for i, name := range columns {
		var normalized, err = n.normalizeValue(name, values[i])
		if err != nil {
			n.fieldWarnings++
			fieldWarningsTotal.Inc()
			log.WithFields(log.Fields{
				"field": name,
				"kind":  values[i].Kind.String(),
				"err":   cerrors.NewFieldError(err),
			}).Warn("value is not valid, keeping it unconverted")
			normalized = values[i].Raw
		}
		row.Set(name, normalized)
	}
	return row
}

// ipv4String renders an integer as a dotted-quad IPv4 address. The absolute
// value is used since some drivers return unsigned columns as signed integers.
func ipv4String(v Value) (string, error) {
	var n uint64
	switch raw := v.Raw.(type) {
	case int:
		n = absInt64(int64(raw))
	case int8:
		n = absInt64(int64(raw))
	case int16:
		n = absInt64(int64(raw))
	case int32:
		n = absInt64(int64(raw))
	case int64:
		n = absInt64(raw)
	case uint:
		n = uint64(raw)
	case uint8:
		n = uint64(raw)
	case uint16:
		n = uint64(raw)
	case uint32:
		n = uint64(raw)
	case uint64:
		n = raw
	case string:
		var i, err = strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return "", fmt.Errorf("ipv4 value %q is not an integer", raw)
		}
		n = absInt64(i)
	default:
		return "", fmt.Errorf("ipv4 value of kind %s is not an integer", v.Kind)
	}
	if n > math.MaxUint32 {
		return "", fmt.Errorf("ipv4 value %d exceeds 32 bits", n)
	}
	return netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}).String(), nil
}

func absInt64(i int64) uint64 {
	if i < 0 {
		return uint64(-(i + 1)) + 1
	}
	return uint64(i)
}

// ipv6String renders 16 raw bytes as an IPv6 address.
func ipv6String(v Value) (string, error) {
	var b []byte
	switch raw := v.Raw.(type) {
	case []byte:
		b = raw
	case string:
		b = []byte(raw)
	default:
		return "", fmt.Errorf("ipv6 value of kind %s is not a byte sequence", v.Kind)
	}
	var addr, ok = netip.AddrFromSlice(b)
	if !ok || len(b) != 16 {
		return "", fmt.Errorf("ipv6 value must be 16 bytes long, got %d", len(b))
	}
	return addr.String(), nil
}

// printableASCII decodes binary data leniently as text, keeping only the
// printable ASCII remainder of its compatibility decomposition.
func printableASCII(b []byte) string {
	var decomposed = norm.NFKD.Bytes(b)
	var out = make([]byte, 0, len(decomposed))
	for _, c := range decomposed {
		if (c >= 0x20 && c <= 0x7e) || c == '\t' || c == '\n' || c == '\r' {
			out = append(out, c)
		}
	}
	return string(out)
}

// uuidHex renders a unique identifier as 32 lowercase hex digits.
func uuidHex(raw any) (string, error) {
	var id [16]byte
	switch v := raw.(type) {
	case uuid.UUID:
		id = v
	case [16]byte:
		id = v
	case mssql.UniqueIdentifier:
		id = v
	case []byte:
		// SQL Server transmits identifiers with mixed byte order.
		var u mssql.UniqueIdentifier
		if err := u.Scan(v); err != nil {
			return "", fmt.Errorf("decoding uniqueidentifier: %w", err)
		}
		id = u
	default:
		return "", fmt.Errorf("unsupported identifier type %T", raw)
	}
	return hex.EncodeToString(id[:]), nil
}

// objectString converts driver-specific values through their text
// representation, when they have one. Other values pass through unchanged.
func objectString(raw any) any {
	switch v := raw.(type) {
	case fmt.Stringer:
		return v.String()
	case encoding.TextMarshaler:
		var text, err = v.MarshalText()
		if err == nil {
			return string(text)
		}
		log.WithFields(log.Fields{"type": fmt.Sprintf("%T", raw), "err": err}).Debug("passing value through unconverted")
	}
	return raw
}

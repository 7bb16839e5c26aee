package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	cerrors "github.com/logshipper/connectors/go/connector-errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"
)

// queryer is satisfied by *sql.Conn and *sql.DB.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type column struct {
	Name         string // Decoded column name.
	DatabaseType string // Driver-reported type name, such as VARCHAR.
}

// resultSet is the complete result of one poll query.
type resultSet struct {
	Columns []column
	Rows    [][]Value
}

func (rs *resultSet) names() []string {
	var names = make([]string, len(rs.Columns))
	for i, col := range rs.Columns {
		names[i] = col.Name
	}
	return names
}

// validateQueryTemplate checks that a query template only uses the supported
// placeholders.
func validateQueryTemplate(template string) error {
	if _, err := renderQuery(template, "", ""); err != nil {
		return cerrors.NewConfigError(fmt.Errorf("invalid query template: %w", err))
	}
	return nil
}

// renderQuery substitutes the {field_name} and {initial_value} placeholders of
// a query template. Literal braces are written as {{ and }}. Values are
// substituted textually and must be quoted by the template where the column
// type requires it.
func renderQuery(template, fieldName, cursorValue string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(template); {
		switch c := template[i]; {
		case c == '{' && strings.HasPrefix(template[i:], "{{"):
			b.WriteByte('{')
			i += 2
		case c == '}' && strings.HasPrefix(template[i:], "}}"):
			b.WriteByte('}')
			i += 2
		case c == '{':
			var end = strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("unterminated placeholder at offset %d", i)
			}
			switch name := template[i+1 : i+1+end]; name {
			case "field_name":
				b.WriteString(fieldName)
			case "initial_value":
				b.WriteString(cursorValue)
			default:
				return "", fmt.Errorf("unknown placeholder {%s} (expected {field_name} or {initial_value}, or {{ for a literal brace)", name)
			}
			i += end + 2
		case c == '}':
			return "", fmt.Errorf("unmatched '}' at offset %d (use }} for a literal brace)", i)
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

// decodeColumnName reduces a column name to ASCII. Characters with an ASCII
// compatibility decomposition keep their base letter and anything else is
// discarded.
func decodeColumnName(name string) string {
	var decomposed = norm.NFKD.String(name)
	var b strings.Builder
	b.Grow(len(decomposed))
	for i := 0; i < len(decomposed); i++ {
		if decomposed[i] < 0x80 {
			b.WriteByte(decomposed[i])
		}
	}
	return b.String()
}

// fetch executes query and reads its complete result.
func fetch(ctx context.Context, handle queryer, query string) (*resultSet, error) {
	log.WithField("query", query).Debug("executing query")
	var rows, err = handle.QueryContext(ctx, query)
	if err != nil {
		return nil, cerrors.NewQueryError(fmt.Errorf("error executing query: %w", err))
	}
	defer rows.Close()

	columnNames, err := rows.Columns()
	if err != nil {
		return nil, cerrors.NewQueryError(fmt.Errorf("error processing query result: %w", err))
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, cerrors.NewQueryError(fmt.Errorf("error processing query result: %w", err))
	}

	var rs = &resultSet{Columns: make([]column, len(columnNames))}
	for i, name := range columnNames {
		var decoded = decodeColumnName(name)
		if decoded == "" {
			decoded = fmt.Sprintf("column_%d", i)
			log.WithFields(log.Fields{
				"idx":     i,
				"column":  name,
				"renamed": decoded,
			}).Warn("column name has no ASCII characters, renaming it")
		}
		rs.Columns[i] = column{
			Name:         decoded,
			DatabaseType: strings.ToUpper(columnTypes[i].DatabaseTypeName()),
		}
		log.WithFields(log.Fields{
			"idx":  i,
			"name": rs.Columns[i].Name,
			"type": rs.Columns[i].DatabaseType,
		}).Trace("column type")
	}

	var columnValues = make([]any, len(columnNames))
	var columnPointers = make([]any, len(columnValues))
	for i := range columnPointers {
		columnPointers[i] = &columnValues[i]
	}
	for rows.Next() {
		if err := rows.Scan(columnPointers...); err != nil {
			return nil, cerrors.NewQueryError(fmt.Errorf("error scanning result row: %w", err))
		}
		var row = make([]Value, len(columnValues))
		for i, raw := range columnValues {
			row[i] = decodeValue(raw, rs.Columns[i].DatabaseType)
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.NewQueryError(fmt.Errorf("error reading query result: %w", err))
	}

	log.WithFields(log.Fields{"count": len(rs.Rows)}).Debug("query complete")
	return rs, nil
}

package adapter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rzpsarthak13/persistence/internal/core"
)

// dialect captures the DDL and quoting differences between SQL drivers.
type dialect struct {
	driver string
}

func dialectFor(driver string) dialect {
	return dialect{driver: driver}
}

// driverName is the name the driver registered with database/sql.
func (d dialect) driverName() string {
	if d.driver == DriverPostgres {
		return "pgx"
	}
	return d.driver
}

// rebind rewrites ? placeholders to $n for postgres. Quoted identifiers are
// left alone.
func (d dialect) rebind(query string) string {
	if d.driver != DriverPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for _, r := range query {
		switch {
		case r == '"':
			quoted = !quoted
		case r == '?' && !quoted:
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) quote(ident string) string {
	if d.driver == DriverMySQL {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// logical attribute types that never name a physical column type
var logicalTypes = map[string]bool{
	"":        true,
	"string":  true,
	"number":  true,
	"boolean": true,
	"json":    true,
	"ref":     true,
	"_string": true,
	"_number": true,
}

func (d dialect) columnType(col core.Column) string {
	if !logicalTypes[col.ColumnType] {
		return col.ColumnType
	}
	switch d.driver {
	case DriverMySQL:
		switch col.Type {
		case "number":
			if col.AutoIncrement {
				return "BIGINT AUTO_INCREMENT"
			}
			return "DOUBLE"
		case "boolean":
			return "TINYINT(1)"
		case "json", "ref":
			return "LONGTEXT"
		default:
			return "VARCHAR(255)"
		}
	case DriverPostgres:
		switch col.Type {
		case "number":
			if col.AutoIncrement {
				return "BIGSERIAL"
			}
			return "DOUBLE PRECISION"
		case "boolean":
			return "BOOLEAN"
		default:
			return "TEXT"
		}
	default:
		switch col.Type {
		case "number":
			if col.AutoIncrement {
				return "INTEGER"
			}
			return "REAL"
		case "boolean":
			return "INTEGER"
		default:
			return "TEXT"
		}
	}
}

// createTable returns the statements creating the table and its indexes when
// they do not exist yet.
func (d dialect) createTable(schema *core.ModelSchema) []string {
	var defs []string
	for _, col := range schema.Columns {
		primary := col.Name == schema.PrimaryKey
		def := d.quote(col.Name) + " " + d.columnType(col)
		if primary {
			def += " PRIMARY KEY"
			if col.AutoIncrement && d.driver == DriverSQLite {
				def += " AUTOINCREMENT"
			}
		} else if col.Unique {
			def += " UNIQUE"
		}
		defs = append(defs, def)
	}

	var stmts []string
	if d.driver == DriverMySQL {
		for _, idx := range schema.Indexes {
			if idx.Unique {
				continue
			}
			cols := make([]string, len(idx.Columns))
			for i, c := range idx.Columns {
				cols[i] = d.quote(c)
			}
			defs = append(defs, fmt.Sprintf("INDEX %s (%s)", d.quote(idx.Name), strings.Join(cols, ", ")))
		}
	}
	stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		d.quote(schema.TableName), strings.Join(defs, ", ")))

	if d.driver != DriverMySQL {
		for _, idx := range schema.Indexes {
			if idx.Unique {
				continue
			}
			cols := make([]string, len(idx.Columns))
			for i, c := range idx.Columns {
				cols[i] = d.quote(c)
			}
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				d.quote(idx.Name), d.quote(schema.TableName), strings.Join(cols, ", ")))
		}
	}
	return stmts
}

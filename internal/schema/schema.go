package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nlquery/nlquery/internal/database"
	"github.com/nlquery/nlquery/internal/migrations"
)

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Description is the ordered set of base tables visible in the current schema.
type Description struct {
	Tables []Table `json:"tables"`
}

// String renders one line per table as name(col:type, ...). The exact shape
// is what the generation prompt relies on.
func (d Description) String() string {
	var b strings.Builder
	for i, table := range d.Tables {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(table.Name)
		b.WriteByte('(')
		for j, column := range table.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(column.Name)
			b.WriteByte(':')
			b.WriteString(column.Type)
		}
		b.WriteByte(')')
	}
	return b.String()
}

type AccessError struct {
	Op  string
	Err error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("schema access failed: %s: %v", e.Op, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

type Introspector struct {
	DB      *sql.DB
	Dialect database.Dialect
	// Exclude lists table names left out of the description.
	Exclude []string
}

func NewIntrospector(db *sql.DB, dialect database.Dialect) *Introspector {
	return &Introspector{
		DB:      db,
		Dialect: dialect,
		Exclude: []string{migrations.TableName},
	}
}

func catalogQuery(dialect database.Dialect) string {
	return `
SELECT c.table_name, c.column_name, c.data_type
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE t.table_type = 'BASE TABLE'
  AND c.table_schema = ` + dialect.CurrentSchemaExpr() + `
ORDER BY c.table_name, c.ordinal_position`
}

func (i *Introspector) Introspect(ctx context.Context) (Description, error) {
	if i.DB == nil {
		return Description{}, &AccessError{Op: "connect", Err: fmt.Errorf("database handle is nil")}
	}
	conn, err := i.DB.Conn(ctx)
	if err != nil {
		return Description{}, &AccessError{Op: "connect", Err: err}
	}
	defer func() { _ = conn.Close() }()

	rows, err := conn.QueryContext(ctx, catalogQuery(i.Dialect))
	if err != nil {
		return Description{}, &AccessError{Op: "query catalog", Err: err}
	}
	defer func() { _ = rows.Close() }()

	excluded := make(map[string]struct{}, len(i.Exclude))
	for _, name := range i.Exclude {
		excluded[strings.ToLower(name)] = struct{}{}
	}

	var desc Description
	for rows.Next() {
		var tableName, columnName, dataType string
		if err := rows.Scan(&tableName, &columnName, &dataType); err != nil {
			return Description{}, &AccessError{Op: "scan catalog row", Err: err}
		}
		if _, skip := excluded[strings.ToLower(tableName)]; skip {
			continue
		}
		last := len(desc.Tables) - 1
		if last < 0 || desc.Tables[last].Name != tableName {
			desc.Tables = append(desc.Tables, Table{Name: tableName})
			last++
		}
		desc.Tables[last].Columns = append(desc.Tables[last].Columns, Column{Name: columnName, Type: dataType})
	}
	if err := rows.Err(); err != nil {
		return Description{}, &AccessError{Op: "iterate catalog rows", Err: err}
	}
	return desc, nil
}

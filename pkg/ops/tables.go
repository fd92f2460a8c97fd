package ops

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// TableName is a qualified (schema, table) pair as returned by the listing.
type TableName struct {
	Schema string
	Table  string
}

func (t TableName) String() string {
	return fmt.Sprintf("%s.%s", t.Schema, t.Table)
}

// Quoted returns the backtick quoted form used in statements.
func (t TableName) Quoted() string {
	return fmt.Sprintf("`%s`.`%s`", t.Schema, t.Table)
}

// ListTables returns the tables of schema in listing order.
func ListTables(ctx context.Context, db DBReader, schema string) ([]TableName, error) {
	rows, err := db.QueryContext(ctx,
		"select table_schema, table_name from information_schema.tables where table_schema = ?", schema)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	var tables []TableName
	for rows.Next() {
		var name TableName
		err := rows.Scan(&name.Schema, &name.Table)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if name.Schema == "" || name.Table == "" {
			return nil, errors.Errorf("malformed table name %q returned by listing", name)
		}
		tables = append(tables, name)
	}
	err = rows.Close()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return tables, nil
}

// Column is a single column of a table as reported by information_schema.
type Column struct {
	Name string
	Type string
}

func loadTableColumns(ctx context.Context, db DBReader, schema, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx,
		"select column_name, column_type from information_schema.columns "+
			"where table_schema = ? and table_name = ? order by ordinal_position",
		schema, table)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	var columns []Column
	for rows.Next() {
		var column Column
		err := rows.Scan(&column.Name, &column.Type)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		columns = append(columns, column)
	}
	// Close explicitly to check for close errors
	err = rows.Close()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(columns) == 0 {
		return nil, errors.Errorf("table %s.%s not found or has no columns", schema, table)
	}
	return columns, nil
}

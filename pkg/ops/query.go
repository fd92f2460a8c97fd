package ops

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
)

// Query executes one statement and renders the result
type Query struct {
	DBConfig

	SQL        string `arg:"" help:"Statement to execute"`
	RowNumbers bool   `help:"Prepend a synthetic row number column" default:"false"`
}

func (cmd *Query) Run() error {
	db, err := cmd.DBConfig.DB()
	if err != nil {
		return errors.WithStack(err)
	}
	defer db.Close()

	columns, rows, err := RunQuery(context.Background(), db, cmd.SQL, cmd.RowNumbers)
	if err != nil {
		return errors.WithStack(err)
	}
	return NewTabRenderer(os.Stdout).Render(columns, rows)
}

// RunQuery executes query once and fetches the full result. Column names are
// lower cased. With addRowNumbers a synthetic first column counts the rows
// from 1 in fetch order; row order beyond that is whatever the server sent.
func RunQuery(ctx context.Context, db DBReader, query string, addRowNumbers bool) ([]string, []map[string]interface{}, error) {
	result, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "could not execute: %s", query)
	}
	defer result.Close()

	columnNames, err := result.Columns()
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	columns := make([]string, len(columnNames))
	for i, name := range columnNames {
		columns[i] = strings.ToLower(name)
	}

	numberColumn := ""
	if addRowNumbers {
		numberColumn = rowNumberColumn(columns)
		columns = append([]string{numberColumn}, columns...)
	}

	var rows []map[string]interface{}
	number := 0
	for result.Next() {
		values := make([]interface{}, len(columnNames))
		scanArgs := make([]interface{}, len(values))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		err := result.Scan(scanArgs...)
		if err != nil {
			return nil, nil, errors.WithStack(err)
		}
		number++
		row := make(map[string]interface{}, len(columns))
		for i, name := range columnNames {
			row[strings.ToLower(name)] = values[i]
		}
		if addRowNumbers {
			row[numberColumn] = number
		}
		rows = append(rows, row)
	}
	err = result.Err()
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	return columns, rows, nil
}

// rowNumberColumn picks the name of the synthetic column: "row", or the first
// free "row_2", "row_3", ... when the result already has a column of that name.
func rowNumberColumn(columns []string) string {
	name := "row"
	suffix := 1
	for contains(columns, name) {
		suffix++
		name = fmt.Sprintf("row_%d", suffix)
	}
	return name
}

func contains(strings []string, str string) bool {
	for _, s := range strings {
		if s == str {
			return true
		}
	}
	return false
}

// Renderer renders a query result. Rendering is deliberately minimal, richer
// output formats belong to whatever wraps this tool.
type Renderer interface {
	Render(columns []string, rows []map[string]interface{}) error
}

type tabRenderer struct {
	out io.Writer
}

func NewTabRenderer(out io.Writer) Renderer {
	return &tabRenderer{out: out}
}

func (r *tabRenderer) Render(columns []string, rows []map[string]interface{}) error {
	w := tabwriter.NewWriter(r.out, 0, 8, 2, ' ', 0)
	_, err := fmt.Fprintln(w, strings.Join(columns, "\t"))
	if err != nil {
		return errors.WithStack(err)
	}
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, column := range columns {
			cells[i] = formatValue(row[column])
		}
		_, err := fmt.Fprintln(w, strings.Join(cells, "\t"))
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return errors.WithStack(w.Flush())
}

func formatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

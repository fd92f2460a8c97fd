package ops

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

func quoteColumns(columns []Column) []string {
	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = fmt.Sprintf("`%s`", column.Name)
	}
	return quoted
}

func fetchRowByKey(ctx context.Context, db DBReader, table TableName, columnList, pkColumn string, key int64) ([]interface{}, error) {
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE `%s` = ?", columnList, table.Quoted(), pkColumn)
	result, err := db.QueryContext(ctx, stmt, key)
	if err != nil {
		return nil, errors.Wrapf(err, "could not execute: %s", stmt)
	}
	defer result.Close()
	if !result.Next() {
		return nil, errors.Errorf("no row with `%s` = %d in %s", pkColumn, key, table)
	}
	columns, err := result.Columns()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	row := make([]interface{}, len(columns))
	scanArgs := make([]interface{}, len(row))
	for i := range row {
		scanArgs[i] = &row[i]
	}
	err = result.Scan(scanArgs...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return row, errors.WithStack(result.Err())
}

func insertRow(ctx context.Context, db DBWriter, table TableName, columns []Column, row []interface{}) error {
	questionMarks := make([]string, 0, len(columns))
	for range columns {
		questionMarks = append(questionMarks, "?")
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table.Quoted(), strings.Join(quoteColumns(columns), ","), strings.Join(questionMarks, ","))
	_, err := db.ExecContext(ctx, stmt, row...)
	return errors.Wrapf(err, "could not execute: %s", stmt)
}

// rowsEqual compares two fetched rows field by field, including the key.
func rowsEqual(sourceRow, targetRow []interface{}) (bool, error) {
	for i := range sourceRow {
		sourceValue := sourceRow[i]
		targetValue := targetRow[i]

		// Different database drivers interpret SQL types differently (it seems)
		sourceType := reflect.TypeOf(sourceValue)
		targetType := reflect.TypeOf(targetValue)
		if sourceType == targetType {
			// If they have the same type we just use reflect.DeepEqual and trust that
			if reflect.DeepEqual(sourceValue, targetValue) {
				continue
			} else {
				return false, nil
			}
		}

		if targetValue == nil {
			if sourceValue == nil {
				continue
			} else {
				return false, nil
			}
		}

		// If they do NOT have same type, we coerce the target type to the source type and then compare
		// We only support the combinations we've encountered in the wild here
		switch sourceValue.(type) {
		case nil:
			if targetValue == nil {
				continue
			}
			return false, nil
		case int64:
			coerced, err := coerceInt64(targetValue)
			if err != nil {
				return false, errors.WithStack(err)
			}
			if sourceValue.(int64) != coerced {
				return false, nil
			}
		case uint64:
			coerced, err := coerceUint64(targetValue)
			if err != nil {
				return false, errors.WithStack(err)
			}
			if sourceValue.(uint64) != coerced {
				return false, nil
			}
		default:
			return false, errors.Errorf("type combination %v -> %v not supported yet: source=%v target=%v",
				sourceType, targetType, sourceValue, targetValue)
		}
	}
	return true, nil
}

func coerceInt64(value interface{}) (int64, error) {
	switch value.(type) {
	case []byte:
		// This means it was sent as a unicode encoded string
		return strconv.ParseInt(string(value.([]byte)), 10, 64)
	default:
		return 0, nil
	}
}

func coerceUint64(value interface{}) (uint64, error) {
	switch value.(type) {
	case int64:
		return uint64(value.(int64)), nil
	default:
		return 0, nil
	}
}

package ops

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listTablesQuery = "select table_schema, table_name from information_schema.tables where table_schema = ?"

func newMockDB(t *testing.T) (DBWriter, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func expectListing(mock sqlmock.Sqlmock, schema string, tables ...string) {
	rows := sqlmock.NewRows([]string{"table_schema", "table_name"})
	for _, table := range tables {
		rows.AddRow(schema, table)
	}
	mock.ExpectQuery(listTablesQuery).WithArgs(schema).WillReturnRows(rows)
}

func TestDropAllTables(t *testing.T) {
	db, mock := newMockDB(t)
	expectListing(mock, "app", "users", "posts")
	mock.ExpectExec("DROP TABLE `app`.`users`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TABLE `app`.`posts`").WillReturnResult(sqlmock.NewResult(0, 0))

	results, err := DropSelectedTables(context.Background(), db, "app", DropSelector{All: true}, false)
	assert.NoError(t, err)
	assert.Equal(t, []PerTableResult{
		{TableName{"app", "users"}, Done},
		{TableName{"app", "posts"}, Done},
	}, results)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropByExactName(t *testing.T) {
	db, mock := newMockDB(t)
	expectListing(mock, "app", "users", "users_archive", "posts")
	mock.ExpectExec("DROP TABLE `app`.`users`").WillReturnResult(sqlmock.NewResult(0, 0))

	selector := DropSelector{Names: mapset.NewSet("users")}
	results, err := DropSelectedTables(context.Background(), db, "app", selector, false)
	assert.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, "users", results[0].Table.Table)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropByPattern(t *testing.T) {
	db, mock := newMockDB(t)
	expectListing(mock, "app", "log_2023", "users", "log_2024")
	mock.ExpectExec("DROP TABLE `app`.`log_2023`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TABLE `app`.`log_2024`").WillReturnResult(sqlmock.NewResult(0, 0))

	selector := DropSelector{Pattern: regexp.MustCompile("^log_")}
	results, err := DropSelectedTables(context.Background(), db, "app", selector, false)
	assert.NoError(t, err)
	assert.Len(t, results, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Even with far more matching candidates than the limit, no more than limit
// drop statements may be issued.
func TestDropLimit(t *testing.T) {
	db, mock := newMockDB(t)
	tables := make([]string, 100)
	for i := range tables {
		tables[i] = fmt.Sprintf("log_%03d", i)
	}
	expectListing(mock, "app", tables...)
	for i := 0; i < 5; i++ {
		mock.ExpectExec(fmt.Sprintf("DROP TABLE `app`.`log_%03d`", i)).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	selector := DropSelector{All: true, Limit: 5}
	results, err := DropSelectedTables(context.Background(), db, "app", selector, false)
	assert.NoError(t, err)
	assert.Len(t, results, 5)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A dry run computes the same result set but never touches the database.
func TestDropDryRun(t *testing.T) {
	db, mock := newMockDB(t)
	expectListing(mock, "app", "users", "posts")

	results, err := DropSelectedTables(context.Background(), db, "app", DropSelector{All: true}, true)
	assert.NoError(t, err)
	assert.Equal(t, []PerTableResult{
		{TableName{"app", "users"}, WouldHaveDone},
		{TableName{"app", "posts"}, WouldHaveDone},
	}, results)
	assert.NoError(t, mock.ExpectationsWereMet())

	// Re-running computes the identical result
	expectListing(mock, "app", "users", "posts")
	again, err := DropSelectedTables(context.Background(), db, "app", DropSelector{All: true}, true)
	assert.NoError(t, err)
	assert.Equal(t, results, again)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropMalformedListingName(t *testing.T) {
	db, mock := newMockDB(t)
	rows := sqlmock.NewRows([]string{"table_schema", "table_name"}).AddRow("app", "")
	mock.ExpectQuery(listTablesQuery).WithArgs("app").WillReturnRows(rows)

	_, err := DropSelectedTables(context.Background(), db, "app", DropSelector{All: true}, false)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

package ops

import (
	"context"
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

var rowsCopied = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rows_copied",
		Help: "How many rows the copier has classified, partitioned by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(rowsCopied)
}

// PreconditionError rejects an operation before any row is touched.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: %s", e.Reason)
}

// AdjustOp is what happens to a conflicting primary key value.
type AdjustOp string

const (
	AdjustAdd      AdjustOp = "add"
	AdjustSubtract AdjustOp = "subtract"
)

// AdjustRule moves a conflicting primary key by a fixed non-negative amount.
type AdjustRule struct {
	Op     AdjustOp
	Amount int64
}

func (r AdjustRule) Apply(key int64) int64 {
	if r.Op == AdjustSubtract {
		return key - r.Amount
	}
	return key + r.Amount
}

// CopyRows copies rows between two structurally identical tables, adjusting colliding primary keys
type CopyRows struct {
	DBConfig

	From string `arg:"" help:"Table to copy rows from"`
	To   string `arg:"" help:"Table to copy rows into"`

	PKColumn string   `help:"Primary key column" default:"id"`
	Adjust   AdjustOp `help:"How to move a conflicting primary key" enum:"add,subtract" default:"add"`
	AdjustBy int64    `help:"Amount a conflicting primary key is moved by" default:"0"`
	DryRun   bool     `help:"Only compute and report the copy, disable with --no-dry-run" default:"true" negatable:""`

	ReadTimeout time.Duration `help:"Timeout for a single table scan" default:"5m"`
	ReadRetries uint64        `help:"How many times to retry a table scan (with backoff)" default:"10"`
}

func (cmd *CopyRows) Run() error {
	if cmd.AdjustBy < 0 {
		return errors.Errorf("--adjust-by must be non-negative, got %d", cmd.AdjustBy)
	}
	db, err := cmd.DBConfig.DB()
	if err != nil {
		return errors.WithStack(err)
	}
	defer db.Close()

	copier := &RowCopier{
		From:        TableName{Schema: cmd.Database, Table: cmd.From},
		To:          TableName{Schema: cmd.Database, Table: cmd.To},
		PKColumn:    cmd.PKColumn,
		Rule:        AdjustRule{Op: cmd.Adjust, Amount: cmd.AdjustBy},
		DryRun:      cmd.DryRun,
		ReadTimeout: cmd.ReadTimeout,
		ReadRetries: cmd.ReadRetries,
	}
	counts, err := copier.Copy(context.Background(), db)
	if err != nil {
		code := Failed
		if _, ok := errors.Cause(err).(*PreconditionError); ok {
			code = PreconditionFailed
		}
		log.WithField("result", code.String()).WithError(err).Errorf("copy failed")
		return errors.WithStack(err)
	}
	code := Done
	if cmd.DryRun {
		code = WouldHaveDone
	}
	log.WithField("result", code.String()).
		WithField("inserted", counts.Inserted).
		WithField("skipped", counts.Skipped).
		WithField("adjusted", counts.Adjusted).
		Infof("copy done")
	return nil
}

// CopyCounts accumulate over a copy run, they never go down.
type CopyCounts struct {
	Inserted int
	Skipped  int
	Adjusted int
}

type RowCopier struct {
	From     TableName
	To       TableName
	PKColumn string
	Rule     AdjustRule
	// DryRun computes and counts every decision without executing any insert.
	DryRun bool

	ReadTimeout time.Duration
	ReadRetries uint64
}

// Copy merges the source table's rows into the target. Both full key sets are
// held in memory, which caps how large a table this can reasonably handle.
func (c *RowCopier) Copy(ctx context.Context, db DBWriter) (CopyCounts, error) {
	var counts CopyCounts
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Minute
	}

	columns, err := c.checkStructure(ctx, db)
	if err != nil {
		return counts, err
	}
	columnList := strings.Join(quoteColumns(columns), ",")

	sourceKeys, err := c.loadKeySet(ctx, db, c.From)
	if err != nil {
		return counts, err
	}
	targetKeys, err := c.loadKeySet(ctx, db, c.To)
	if err != nil {
		return counts, err
	}

	// Iteration order over the source keys is unspecified.
	for _, key := range sourceKeys.ToSlice() {
		if !targetKeys.Contains(key) {
			row, err := fetchRowByKey(ctx, db, c.From, columnList, c.PKColumn, key)
			if err != nil {
				return counts, err
			}
			err = c.write(ctx, db, columns, row)
			if err != nil {
				return counts, err
			}
			targetKeys.Add(key)
			counts.Inserted++
			rowsCopied.WithLabelValues("inserted").Inc()
			continue
		}

		sourceRow, err := fetchRowByKey(ctx, db, c.From, columnList, c.PKColumn, key)
		if err != nil {
			return counts, err
		}
		targetRow, err := fetchRowByKey(ctx, db, c.To, columnList, c.PKColumn, key)
		if err != nil {
			return counts, err
		}
		equal, err := rowsEqual(sourceRow, targetRow)
		if err != nil {
			return counts, err
		}
		if equal {
			counts.Skipped++
			rowsCopied.WithLabelValues("skipped").Inc()
			continue
		}

		adjusted := c.Rule.Apply(key)
		if targetKeys.Contains(adjusted) {
			// No second adjustment, the row is dropped rather than chasing
			// a free key indefinitely.
			log.WithField("table", c.To.String()).
				Debugf("adjusted key %d also present in target, skipping row %d", adjusted, key)
			counts.Skipped++
			rowsCopied.WithLabelValues("skipped").Inc()
			continue
		}
		for i, column := range columns {
			if column.Name == c.PKColumn {
				sourceRow[i] = adjusted
			}
		}
		err = c.write(ctx, db, columns, sourceRow)
		if err != nil {
			return counts, err
		}
		targetKeys.Add(adjusted)
		counts.Adjusted++
		counts.Inserted++
		rowsCopied.WithLabelValues("adjusted").Inc()
		rowsCopied.WithLabelValues("inserted").Inc()
	}
	return counts, nil
}

// checkStructure verifies the primary key column exists in the source and
// that both tables have identical column names and types, in order.
func (c *RowCopier) checkStructure(ctx context.Context, db DBReader) ([]Column, error) {
	sourceColumns, err := loadTableColumns(ctx, db, c.From.Schema, c.From.Table)
	if err != nil {
		return nil, err
	}
	targetColumns, err := loadTableColumns(ctx, db, c.To.Schema, c.To.Table)
	if err != nil {
		return nil, err
	}
	found := false
	for _, column := range sourceColumns {
		if column.Name == c.PKColumn {
			found = true
			break
		}
	}
	if !found {
		return nil, &PreconditionError{Reason: fmt.Sprintf("column `%s` not present in %s", c.PKColumn, c.From)}
	}
	if len(sourceColumns) != len(targetColumns) {
		return nil, &PreconditionError{Reason: fmt.Sprintf(
			"%s has %d columns but %s has %d", c.From, len(sourceColumns), c.To, len(targetColumns))}
	}
	for i := range sourceColumns {
		if sourceColumns[i] != targetColumns[i] {
			return nil, &PreconditionError{Reason: fmt.Sprintf(
				"column %d differs: %s %s vs %s %s",
				i, sourceColumns[i].Name, sourceColumns[i].Type, targetColumns[i].Name, targetColumns[i].Type)}
		}
	}
	return sourceColumns, nil
}

func (c *RowCopier) loadKeySet(ctx context.Context, db DBReader, table TableName) (mapset.Set[int64], error) {
	var keys mapset.Set[int64]
	err := Retry(ctx, c.ReadRetries, c.ReadTimeout, func(ctx context.Context) error {
		stmt := fmt.Sprintf("SELECT `%s` FROM %s", c.PKColumn, table.Quoted())
		result, err := db.QueryContext(ctx, stmt)
		if err != nil {
			return errors.Wrapf(err, "could not execute: %s", stmt)
		}
		defer result.Close()
		loaded := mapset.NewSet[int64]()
		for result.Next() {
			var key int64
			err := result.Scan(&key)
			if err != nil {
				return errors.WithStack(err)
			}
			loaded.Add(key)
		}
		err = result.Err()
		if err != nil {
			return errors.WithStack(err)
		}
		keys = loaded
		return nil
	})
	return keys, err
}

// write executes the insert unless this is a dry run. The decision and the
// row are fully computed either way so dry run counts match a real run.
func (c *RowCopier) write(ctx context.Context, db DBWriter, columns []Column, row []interface{}) error {
	if c.DryRun {
		return nil
	}
	return insertRow(ctx, db, c.To, columns, row)
}

package ops

import (
	"context"
	"regexp"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

var tablesDropped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "tables_dropped",
		Help: "How many tables have been dropped.",
	},
)

func init() {
	prometheus.MustRegister(tablesDropped)
}

// DropTables drops tables selected by name, pattern or all of them
type DropTables struct {
	DBConfig

	All     bool     `help:"Drop every table in the database" default:"false"`
	Tables  []string `help:"Exact table names to drop" optional:""`
	Pattern string   `help:"Regexp of table names to drop" optional:""`
	Limit   int      `help:"Never drop more than this many tables" optional:""`
	DryRun  bool     `help:"Only report what would be dropped, disable with --no-dry-run" default:"true" negatable:""`
}

func (cmd *DropTables) Run() error {
	selector, err := cmd.selector()
	if err != nil {
		return errors.WithStack(err)
	}
	db, err := cmd.DBConfig.DB()
	if err != nil {
		return errors.WithStack(err)
	}
	defer db.Close()

	results, err := DropSelectedTables(context.Background(), db, cmd.Database, selector, cmd.DryRun)
	for _, result := range results {
		log.WithField("table", result.Table.String()).
			WithField("result", result.Code.String()).
			Infof("drop")
	}
	if err != nil {
		return errors.WithStack(err)
	}
	log.Infof("%d tables processed", len(results))
	return nil
}

func (cmd *DropTables) selector() (DropSelector, error) {
	selector := DropSelector{
		All:   cmd.All,
		Limit: cmd.Limit,
	}
	given := 0
	if cmd.All {
		given++
	}
	if len(cmd.Tables) > 0 {
		given++
		selector.Names = mapset.NewSet(cmd.Tables...)
	}
	if cmd.Pattern != "" {
		given++
		pattern, err := regexp.Compile(cmd.Pattern)
		if err != nil {
			return selector, errors.Wrapf(err, "invalid pattern %q", cmd.Pattern)
		}
		selector.Pattern = pattern
	}
	if given != 1 {
		return selector, errors.Errorf("exactly one of --all, --tables or --pattern must be given")
	}
	return selector, nil
}

// DropSelector decides which listed tables are dropped. Exactly one of All,
// Names or Pattern is set.
type DropSelector struct {
	All     bool
	Names   mapset.Set[string]
	Pattern *regexp.Regexp

	// Limit caps the number of accepted tables, 0 means no cap.
	Limit int
}

func (s DropSelector) matches(table string) bool {
	if s.All {
		return true
	}
	if s.Names != nil {
		return s.Names.Contains(table)
	}
	return s.Pattern.MatchString(table)
}

type PerTableResult struct {
	Table TableName
	Code  ResultCode
}

// DropSelectedTables drops the tables of schema accepted by the selector, in
// listing order. Once the accepted count exceeds the limit the remaining
// candidates are not even considered.
func DropSelectedTables(ctx context.Context, db DBWriter, schema string, selector DropSelector, dryRun bool) ([]PerTableResult, error) {
	tables, err := ListTables(ctx, db, schema)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var results []PerTableResult
	accepted := 0
	for _, table := range tables {
		if !selector.matches(table.Table) {
			continue
		}
		accepted++
		if selector.Limit > 0 && accepted > selector.Limit {
			log.Infof("limit of %d tables reached, stopping", selector.Limit)
			break
		}
		if dryRun {
			results = append(results, PerTableResult{table, WouldHaveDone})
			continue
		}
		_, err := db.ExecContext(ctx, "DROP TABLE "+table.Quoted())
		if err != nil {
			return results, errors.Wrapf(err, "could not drop %s", table)
		}
		tablesDropped.Inc()
		results = append(results, PerTableResult{table, Done})
	}
	return results, nil
}

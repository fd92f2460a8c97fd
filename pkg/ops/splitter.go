package ops

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"regexp"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

var (
	linesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "split_lines_written",
			Help: "How many dump lines have been written to per-table files.",
		},
	)
	tablesSplit = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "split_tables_written",
			Help: "How many per-table files have been opened for writing.",
		},
	)
)

func init() {
	prometheus.MustRegister(linesWritten)
	prometheus.MustRegister(tablesSplit)
}

// A dump prefixes every table section with one of these markers. This is the
// parser's only notion of structure, it never looks past the line prefix.
var tableBoundaryPatterns = []*regexp.Regexp{
	regexp.MustCompile("^-- Table structure for table `([^`]+)`"),
	regexp.MustCompile("^-- Dumping data for table `([^`]+)`"),
	regexp.MustCompile("^CREATE TABLE IF NOT EXISTS `([^`]+)`"),
	regexp.MustCompile("^CREATE TABLE `([^`]+)`"),
	regexp.MustCompile("^DROP TABLE IF EXISTS `([^`]+)`"),
}

func matchTableBoundary(line string) (string, bool) {
	for _, pattern := range tableBoundaryPatterns {
		match := pattern.FindStringSubmatch(line)
		if match != nil {
			return match[1], true
		}
	}
	return "", false
}

// SplitDump splits a SQL dump into one file per table
type SplitDump struct {
	Dump string `arg:"" help:"Dump file to split, - reads stdin" default:"-"`

	FilterFlags

	OutDir           string `help:"Directory the per-table files are written to, created if missing" optional:"" type:"path"`
	Overwrite        bool   `help:"Replace per-table files that already exist" default:"false"`
	StopAfterTable   string `help:"Stop scanning once this table's section has been fully read" optional:""`
	StopAfterPattern string `help:"Stop scanning once a table matching this regexp has been fully read" optional:""`

	ProgressLines int64 `help:"Log progress every this many input lines" default:"1000000"`
}

func (cmd *SplitDump) Run() error {
	filter, err := cmd.FilterFlags.Filter()
	if err != nil {
		return errors.WithStack(err)
	}
	splitter := &DumpSplitter{
		Filter:         filter,
		OutDir:         cmd.OutDir,
		Overwrite:      cmd.Overwrite,
		StopAfterTable: cmd.StopAfterTable,
		ProgressLines:  cmd.ProgressLines,
	}
	if cmd.StopAfterPattern != "" {
		splitter.StopAfterPattern, err = regexp.Compile(cmd.StopAfterPattern)
		if err != nil {
			return errors.Wrapf(err, "invalid stop pattern %q", cmd.StopAfterPattern)
		}
	}

	input := io.Reader(os.Stdin)
	if cmd.Dump != "-" {
		file, err := os.Open(cmd.Dump)
		if err != nil {
			return errors.WithStack(err)
		}
		defer file.Close()
		input = file
	}

	result, err := splitter.Split(input)
	if err != nil {
		return errors.WithStack(err)
	}
	log.WithField("tables", result.TablesWritten).
		WithField("skipped", result.TablesSkipped).
		WithField("lines", result.LinesWritten).
		Infof("split done")
	return nil
}

// DumpSplitter scans a dump line by line and fans the per-table sections out
// to separate files. It holds at most one output file open at a time.
type DumpSplitter struct {
	Filter           *FilterSpec
	OutDir           string
	Overwrite        bool
	StopAfterTable   string
	StopAfterPattern *regexp.Regexp
	ProgressLines    int64
}

type SplitResult struct {
	TablesWritten int
	TablesSkipped int
	LinesWritten  int64
}

type dumpParseState struct {
	current string
	seen    mapset.Set[string]
	file    *os.File
	writer  *bufio.Writer
}

func (s *dumpParseState) closeWriter() error {
	if s.file == nil {
		return nil
	}
	flushErr := s.writer.Flush()
	closeErr := s.file.Close()
	s.file = nil
	s.writer = nil
	if flushErr != nil {
		return errors.WithStack(flushErr)
	}
	return errors.WithStack(closeErr)
}

// Split runs a single forward pass over input. Dumps can be many gigabytes so
// nothing is buffered beyond the current line and the set of seen table names.
func (s *DumpSplitter) Split(input io.Reader) (SplitResult, error) {
	var result SplitResult
	if s.OutDir != "" {
		err := os.MkdirAll(s.OutDir, 0755)
		if err != nil {
			return result, errors.Wrapf(err, "could not create output directory %q", s.OutDir)
		}
	}

	state := &dumpParseState{seen: mapset.NewSet[string]()}
	defer state.closeWriter()

	reader := bufio.NewReaderSize(input, 1024*1024)
	var lines, bytesRead int64
	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			lines++
			bytesRead += int64(len(line))
			stop, err := s.consumeLine(state, line, &result)
			if err != nil {
				return result, err
			}
			if stop {
				break
			}
			if s.ProgressLines > 0 && lines%s.ProgressLines == 0 {
				log.Infof("processed %s lines (%s)", humanize.Comma(lines), humanize.Bytes(uint64(bytesRead)))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return result, errors.WithStack(readErr)
		}
	}
	return result, state.closeWriter()
}

func (s *DumpSplitter) consumeLine(state *dumpParseState, line string, result *SplitResult) (bool, error) {
	table, boundary := matchTableBoundary(line)

	// A table's schema section and data section both carry boundary markers.
	// The second marker for a table we have seen must not switch tables or
	// truncate anything, it is appended like any other line.
	if boundary && !state.seen.Contains(table) {
		previous := state.current
		if previous != "" && s.stopAfter(previous) {
			log.WithField("table", previous).Infof("stop condition reached, terminating scan")
			return true, state.closeWriter()
		}
		state.current = table
		state.seen.Add(table)
		err := state.closeWriter()
		if err != nil {
			return false, err
		}
		err = s.openWriter(state, table, result)
		if err != nil {
			return false, err
		}
	}

	if state.current != "" && state.writer != nil {
		_, err := state.writer.WriteString(line)
		if err != nil {
			return false, errors.Wrapf(err, "could not write to output for table %q", state.current)
		}
		result.LinesWritten++
		linesWritten.Inc()
	}
	return false, nil
}

func (s *DumpSplitter) stopAfter(table string) bool {
	if s.StopAfterTable != "" && s.StopAfterTable == table {
		return true
	}
	if s.StopAfterPattern != nil && s.StopAfterPattern.MatchString(table) {
		return true
	}
	return false
}

// openWriter decides whether the new current table gets an output file. When
// it leaves no writer behind the section is discarded but scanning goes on.
func (s *DumpSplitter) openWriter(state *dumpParseState, table string, result *SplitResult) error {
	if s.Filter != nil && !s.Filter.Allow(table) {
		log.WithField("table", table).Infof("table filtered out, discarding section")
		result.TablesSkipped++
		return nil
	}
	path := table
	if s.OutDir != "" {
		path = filepath.Join(s.OutDir, table)
	}
	if !s.Overwrite {
		_, err := os.Stat(path)
		if err == nil {
			log.WithField("table", table).Infof("%q already exists, discarding section (use --overwrite to replace)", path)
			result.TablesSkipped++
			return nil
		}
	}
	file, err := os.Create(path)
	if err != nil {
		// Continuing here would silently drop a requested table, so a file
		// that cannot be opened kills the whole run.
		return errors.Wrapf(err, "could not open output file %q", path)
	}
	state.file = file
	state.writer = bufio.NewWriter(file)
	result.TablesWritten++
	tablesSplit.Inc()
	return nil
}

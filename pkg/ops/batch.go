package ops

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

var batchJobs = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "batch_jobs",
		Help: "How many batch jobs have finished, partitioned by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(batchJobs)
}

// OverwritePolicy decides whether an existing output file is regenerated.
type OverwritePolicy string

const (
	OverwriteNever   OverwritePolicy = "never"
	OverwriteIfOlder OverwritePolicy = "if-older"
	OverwriteAlways  OverwritePolicy = "always"
)

// RunFiles replays SQL and script files through the mysql client
type RunFiles struct {
	DBConfig

	Files []string `arg:"" help:"Files to run, .sql is piped into the client, .sh output is piped into the client"`

	Overwrite OverwritePolicy `help:"When to regenerate an existing output file" enum:"never,if-older,always" default:"if-older"`
	OutDir    string          `help:"Directory the output files are written to" optional:"" type:"path"`
	CreateDir bool            `help:"Create the output directory if missing" default:"false"`
	MysqlBin  string          `help:"mysql client binary" default:"mysql"`
}

func (cmd *RunFiles) Run() error {
	config, err := cmd.DBConfig.Resolve()
	if err != nil {
		return errors.WithStack(err)
	}
	invoker := &MysqlInvoker{Config: config, Bin: cmd.MysqlBin}
	summary, err := RunBatch(context.Background(), cmd.Files, cmd.OutDir, cmd.CreateDir, cmd.Overwrite, invoker)
	if err != nil {
		return errors.WithStack(err)
	}
	log.WithField("ran", summary.Ran).
		WithField("skipped", summary.Skipped).
		WithField("failed", summary.Failed).
		Infof("batch done")
	return nil
}

// BatchJob is one input file and the output file its result goes to.
type BatchJob struct {
	Input  string
	Output string
}

// Invoker runs a single job, writing the command's output to job.Output.
type Invoker interface {
	Invoke(ctx context.Context, job BatchJob) error
}

type BatchSummary struct {
	Ran     int
	Skipped int
	Failed  int
}

// RunBatch processes inputs one at a time in order. A failing job is logged
// and the batch continues, only a missing output directory is fatal.
func RunBatch(ctx context.Context, inputs []string, outDir string, createDir bool, policy OverwritePolicy, invoker Invoker) (BatchSummary, error) {
	var summary BatchSummary
	if outDir != "" && createDir {
		err := os.MkdirAll(outDir, 0755)
		if err != nil {
			return summary, errors.Wrapf(err, "could not create output directory %q", outDir)
		}
	}
	for _, input := range inputs {
		job := BatchJob{Input: input, Output: deriveOutputPath(input, outDir)}
		run, err := shouldRun(job, policy)
		if err != nil {
			return summary, errors.WithStack(err)
		}
		if !run {
			log.WithField("input", job.Input).Infof("output %q is up to date, skipping", job.Output)
			summary.Skipped++
			batchJobs.WithLabelValues("skipped").Inc()
			continue
		}
		err = invoker.Invoke(ctx, job)
		if err != nil {
			log.WithField("input", job.Input).WithError(err).Warnf("job failed, continuing with the batch")
			summary.Failed++
			batchJobs.WithLabelValues("failed").Inc()
			continue
		}
		summary.Ran++
		batchJobs.WithLabelValues("ran").Inc()
	}
	return summary, nil
}

// recognizedExtensions are swapped for .txt when deriving the output name.
// Anything else keeps its name and gets .txt appended.
var recognizedExtensions = []string{".sql", ".sh"}

func deriveOutputPath(input, outDir string) string {
	dir := filepath.Dir(input)
	if outDir != "" {
		dir = outDir
	}
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	if contains(recognizedExtensions, strings.ToLower(ext)) {
		base = base[:len(base)-len(ext)] + ".txt"
	} else {
		base = base + ".txt"
	}
	return filepath.Join(dir, base)
}

func shouldRun(job BatchJob, policy OverwritePolicy) (bool, error) {
	outputInfo, err := os.Stat(job.Output)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, errors.WithStack(err)
	}
	switch policy {
	case OverwriteNever:
		return false, nil
	case OverwriteAlways:
		return true, nil
	case OverwriteIfOlder:
		inputInfo, err := os.Stat(job.Input)
		if err != nil {
			return false, errors.WithStack(err)
		}
		return outputInfo.ModTime().Before(inputInfo.ModTime()), nil
	default:
		return false, errors.Errorf("unknown overwrite policy %q", policy)
	}
}

// MysqlInvoker runs jobs through an external mysql client binary. A .sql file
// is fed straight to the client's stdin, anything else is treated as a script
// whose stdout is piped into the client.
type MysqlInvoker struct {
	Config DBConfig
	Bin    string
}

func (m *MysqlInvoker) Invoke(ctx context.Context, job BatchJob) error {
	// Stage into a temporary file so a failed job never leaves a fresh
	// output behind that a later if-older run would treat as up to date.
	staged := job.Output + ".tmp"
	output, err := os.Create(staged)
	if err != nil {
		return errors.Wrapf(err, "could not create output file %q", staged)
	}

	err = m.run(ctx, job, output)
	closeErr := output.Close()
	if err == nil {
		err = errors.WithStack(closeErr)
	}
	if err != nil {
		_ = os.Remove(staged)
		return err
	}
	return errors.Wrapf(os.Rename(staged, job.Output), "could not move %q into place", staged)
}

func (m *MysqlInvoker) run(ctx context.Context, job BatchJob, output *os.File) error {
	client := exec.CommandContext(ctx, m.Bin, m.clientArgs()...) // nolint: gosec
	client.Stdout = output
	client.Stderr = os.Stderr

	if strings.EqualFold(filepath.Ext(job.Input), ".sql") {
		input, err := os.Open(job.Input)
		if err != nil {
			return errors.WithStack(err)
		}
		defer input.Close()
		client.Stdin = input
		return errors.Wrapf(client.Run(), "mysql client failed for %q", job.Input)
	}

	script := exec.CommandContext(ctx, job.Input) // nolint: gosec
	script.Stderr = os.Stderr
	pipe, err := script.StdoutPipe()
	if err != nil {
		return errors.WithStack(err)
	}
	client.Stdin = pipe
	err = script.Start()
	if err != nil {
		return errors.Wrapf(err, "could not start %q", job.Input)
	}
	err = client.Run()
	scriptErr := script.Wait()
	if err != nil {
		return errors.Wrapf(err, "mysql client failed for %q", job.Input)
	}
	return errors.Wrapf(scriptErr, "%q failed", job.Input)
}

func (m *MysqlInvoker) clientArgs() []string {
	args := []string{"--host", m.Config.Host, "--port", strconv.Itoa(m.Config.Port)}
	if m.Config.Username != "" {
		args = append(args, "--user", m.Config.Username)
	}
	if m.Config.Password != "" {
		args = append(args, "--password="+m.Config.Password)
	}
	return append(args, m.Config.Database)
}

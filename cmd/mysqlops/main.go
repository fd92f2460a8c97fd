package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	log "github.com/sirupsen/logrus"

	"mysqlops/pkg/ops"
)

const TimestampFormat = `2006-01-02T15:04:05.000`

var cli struct {
	SplitDump  ops.SplitDump  `cmd:"" help:"Split a SQL dump into one file per table"`
	DropTables ops.DropTables `cmd:"" help:"Drop tables by name, pattern or all of them"`
	Query      ops.Query      `cmd:"" help:"Run one query and print the result"`
	RunFiles   ops.RunFiles   `cmd:"" help:"Run SQL and script files through the mysql client, caching results to text files"`
	CopyRows   ops.CopyRows   `cmd:"" help:"Copy rows between two tables, adjusting colliding primary keys"`
	Ping       ops.Ping       `cmd:"" help:"Ping the database to check the config is right"`

	MetricsPort int `help:"Which port to publish metrics and debugging info to, 0 disables the server" default:"0"`
}

func startMetricsServer() {
	if cli.MetricsPort == 0 {
		return
	}
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		bindAddr := fmt.Sprintf("localhost:%d", cli.MetricsPort)
		log.Infof("Serving diagnostics on http://%s/metrics and http://%s/debug/pprof", bindAddr, bindAddr)
		err := http.ListenAndServe(bindAddr, nil)
		log.Fatalf("%v", err)
	}()
}

type utcFormatter struct {
	log.Formatter
}

func (u utcFormatter) Format(e *log.Entry) ([]byte, error) {
	e.Time = e.Time.UTC()
	return u.Formatter.Format(e)
}

func setupLogFormat() {
	jsonFormatter := &log.JSONFormatter{
		FieldMap: log.FieldMap{
			log.FieldKeyMsg:  "message",
			log.FieldKeyTime: "timestamp",
		},
	}
	jsonFormatter.TimestampFormat = TimestampFormat
	formatter := &utcFormatter{jsonFormatter}
	log.SetFormatter(formatter)
}

func main() {
	ctx := kong.Parse(&cli)

	startMetricsServer()
	setupLogFormat()

	// Call the Run() method of the selected parsed command.
	err := ctx.Run()
	if err != nil {
		log.Errorf("%+v", err)
	}
	ctx.FatalIfErrorf(err)
}

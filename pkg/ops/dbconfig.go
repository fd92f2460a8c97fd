package ops

import (
	"database/sql"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/dlmiddlecote/sqlstats"
	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v2"
)

// DBConfig is embedded in every command. The database name is the first
// positional argument; host, port and credentials come from flags, falling
// back to the credentials file for anything left unset.
type DBConfig struct {
	Database string `arg:"" help:"Database to operate on"`

	Host            string `help:"Hostname" optional:""`
	Port            int    `help:"Port" optional:""`
	Username        string `help:"User" optional:""`
	Password        string `help:"Password" optional:""`
	CredentialsFile string `help:"YAML file with host/port/username/password used for unset flags" optional:"" type:"path"`
}

const defaultCredentialsFile = ".mysqlops.yaml"

type credentialsFile struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Resolve fills in unset connection fields from the credentials file and
// defaults. Explicit flags always win over the file.
func (c DBConfig) Resolve() (DBConfig, error) {
	path := c.CredentialsFile
	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, defaultCredentialsFile)
		}
	}
	if path != "" {
		data, err := ioutil.ReadFile(path) // nolint: gosec
		if err != nil {
			if explicit {
				return c, errors.Wrapf(err, "could not open credentials file %q", path)
			}
		} else {
			var creds credentialsFile
			err = yaml.Unmarshal(data, &creds)
			if err != nil {
				return c, errors.Wrapf(err, "invalid credentials file %q", path)
			}
			if c.Host == "" {
				c.Host = creds.Host
			}
			if c.Port == 0 {
				c.Port = creds.Port
			}
			if c.Username == "" {
				c.Username = creds.Username
			}
			if c.Password == "" {
				c.Password = creds.Password
			}
		}
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 3306
	}
	return c, nil
}

// DB opens a connection pool for the resolved config and publishes its pool
// stats to the metrics registry.
func (c DBConfig) DB() (*sql.DB, error) {
	resolved, err := c.Resolve()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	db, err := sql.Open("mysql", resolved.DSN())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	registerPoolStats(db)
	return db, nil
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", c.Username, c.Password, c.Host, c.Port, c.Database)
}

func (c DBConfig) String() string {
	return fmt.Sprintf("%s:%d/%s", c.Host, c.Port, c.Database)
}

var poolStatsOnce sync.Once

func registerPoolStats(db *sql.DB) {
	// Commands open a single pool per invocation, keep the panic on
	// duplicate registration out of tests that open several.
	poolStatsOnce.Do(func() {
		collector := sqlstats.NewStatsCollector("main", db)
		prometheus.MustRegister(collector)
	})
}

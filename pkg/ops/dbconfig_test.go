package ops

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCredentials(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestResolveDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	resolved, err := DBConfig{Database: "app"}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "localhost", resolved.Host)
	assert.Equal(t, 3306, resolved.Port)
}

func TestResolveReadsCredentialsFile(t *testing.T) {
	path := writeCredentials(t, t.TempDir(), "creds.yaml", `
host: db.internal
port: 3307
username: ops
password: hunter2
`)

	resolved, err := DBConfig{Database: "app", CredentialsFile: path}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "db.internal", resolved.Host)
	assert.Equal(t, 3307, resolved.Port)
	assert.Equal(t, "ops", resolved.Username)
	assert.Equal(t, "hunter2", resolved.Password)
}

// Explicit flags always win over the credentials file.
func TestResolveFlagsWinOverFile(t *testing.T) {
	path := writeCredentials(t, t.TempDir(), "creds.yaml", `
host: db.internal
username: ops
`)

	resolved, err := DBConfig{Database: "app", Host: "standby.internal", CredentialsFile: path}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "standby.internal", resolved.Host)
	assert.Equal(t, "ops", resolved.Username)
}

func TestResolveDefaultCredentialsFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	writeCredentials(t, home, defaultCredentialsFile, "username: homeuser\n")

	resolved, err := DBConfig{Database: "app"}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "homeuser", resolved.Username)
}

func TestResolveMissingExplicitFileFails(t *testing.T) {
	_, err := DBConfig{Database: "app", CredentialsFile: "/does/not/exist.yaml"}.Resolve()
	assert.Error(t, err)
}

func TestResolveInvalidFileFails(t *testing.T) {
	path := writeCredentials(t, t.TempDir(), "creds.yaml", "{not yaml")

	_, err := DBConfig{Database: "app", CredentialsFile: path}.Resolve()
	assert.Error(t, err)
}

// Registering pool stats for more than one pool must not panic on
// duplicate collector registration, including from concurrent opens.
func TestRegisterPoolStatsOnlyRegistersOnce(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			registerPoolStats(db)
		}()
	}
	wg.Wait()
}

func TestDSN(t *testing.T) {
	config := DBConfig{Database: "app", Host: "db.internal", Port: 3306, Username: "ops", Password: "pw"}
	assert.Equal(t, "ops:pw@tcp(db.internal:3306)/app?parseTime=true", config.DSN())
}

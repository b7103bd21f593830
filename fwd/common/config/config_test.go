package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	c, err := Parse([]byte("server:\n  port: 8088\n"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8088", c.Server.Listen)
	assert.Equal(t, "file", c.Storage.Driver)
	assert.Equal(t, "./logs", c.Storage.DataDir)
	assert.Equal(t, "info", c.Logging.Level)
	assert.Zero(t, c.Relay.DialTimeout())
}

func TestParseSeedForwards(t *testing.T) {
	doc := `
relay:
  dial_timeout_ms: 1500
forwards:
  - name: web
    sourcePort: 8080
    targetHost: 127.0.0.1
    targetPort: 80
    enabled: true
`
	c, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, c.Forwards, 1)
	assert.Equal(t, SeedForward{Name: "web", SourcePort: 8080, TargetHost: "127.0.0.1", TargetPort: 80, Enabled: true}, c.Forwards[0])
	assert.Equal(t, 1500*time.Millisecond, c.Relay.DialTimeout())
}

func TestParseRejectsBadStorage(t *testing.T) {
	_, err := Parse([]byte("storage:\n  driver: redis\n"))
	require.Error(t, err)

	_, err = Parse([]byte("storage:\n  driver: mysql\n"))
	require.Error(t, err)
}

func TestParseSQLiteDefaultDSN(t *testing.T) {
	c, err := Parse([]byte("storage:\n  driver: sqlite3\n  data_dir: /tmp/x\n"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", c.Storage.Driver)
	assert.Contains(t, c.Storage.DSN, "file:/tmp/x/portfwd.db")
}

func TestLoadFromPath(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("logging:\n  level: debug\n  components:\n    relay: trace\n"), 0o644))
	c, used, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, p, used)
	assert.Equal(t, "debug", c.Logging.Level)
	assert.Equal(t, map[string]string{"relay": "trace"}, c.Logging.Components)
}

func TestEnsureDirForFileDSN(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDirForFileDSN("file:"+dir+"/x.db?_busy_timeout=1"))
	st, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, st.IsDir())
	require.NoError(t, EnsureDirForFileDSN("user:pass@tcp(localhost)/db"))
}

package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestRunContextServesUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	apiPort, fwdPort := freePort(t), freePort(t)
	cfg := fmt.Sprintf(`
server:
  listen: 127.0.0.1:%d
storage:
  data_dir: %s
relay:
  bind_host: 127.0.0.1
forwards:
  - name: seeded
    sourcePort: %d
    targetHost: 127.0.0.1
    targetPort: 9
    enabled: true
`, apiPort, filepath.Join(dir, "data"), fwdPort)
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(cfg), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunContext(ctx, p) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/forwards", apiPort)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	c, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", fwdPort))
	require.NoError(t, err)
	_ = c.Close()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}
	_, err = os.Stat(filepath.Join(dir, "data", "forwards.json"))
	assert.NoError(t, err)
}

func TestRunContextBadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("storage:\n  driver: redis\n"), 0o644))
	require.Error(t, RunContext(context.Background(), p))
}

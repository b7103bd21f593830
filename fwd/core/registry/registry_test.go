package registry

import (
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfwd/fwd/common/metrics"
	"portfwd/fwd/model"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func newRegistry(t *testing.T) (*Registry, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	r := New(Options{BindHost: "127.0.0.1"}, nil, m)
	t.Cleanup(func() { _ = r.Shutdown(time.Second) })
	return r, m
}

func rule(id int64, port int, enabled bool) model.ForwardRule {
	return model.ForwardRule{Id: id, Name: "r", SourcePort: port, TargetHost: "127.0.0.1", TargetPort: 9, Enabled: enabled}
}

func accepting(port int) bool {
	c, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

func TestReconcileIsIdempotent(t *testing.T) {
	r, m := newRegistry(t)
	port := freePort(t)

	require.NoError(t, r.Reconcile(rule(1, port, true)))
	require.NoError(t, r.Reconcile(rule(1, port, true)))

	bs := r.Bindings()
	require.Len(t, bs, 1)
	assert.Equal(t, port, bs[0].Port)
	assert.EqualValues(t, 1, bs[0].RuleId)
	assert.True(t, accepting(port))
	assert.InDelta(t, 1, metrics.Value(m.ActiveListeners), 0)
}

func TestToggleTwiceRestoresBinding(t *testing.T) {
	r, _ := newRegistry(t)
	port := freePort(t)

	require.NoError(t, r.Reconcile(rule(1, port, true)))
	require.NoError(t, r.Reconcile(rule(1, port, false)))
	assert.Empty(t, r.Bindings())
	assert.False(t, accepting(port))

	require.NoError(t, r.Reconcile(rule(1, port, true)))
	assert.Len(t, r.Bindings(), 1)
	assert.True(t, accepting(port))
}

func TestSamePortLastEnabledWins(t *testing.T) {
	r, _ := newRegistry(t)
	port := freePort(t)
	a := rule(1, port, true)
	b := rule(2, port, true)
	b.TargetPort = 10

	require.NoError(t, r.InitializeAll([]model.ForwardRule{a, b}))
	bs := r.Bindings()
	require.Len(t, bs, 1)
	assert.EqualValues(t, 2, bs[0].RuleId)
	assert.Equal(t, 10, bs[0].TargetPort)

	want := DesiredState([]model.ForwardRule{a, b, rule(3, port, false)})
	assert.Equal(t, map[int]Target{port: {RuleId: 2, Host: "127.0.0.1", Port: 10}}, want)
}

func TestBindFailure(t *testing.T) {
	r, m := newRegistry(t)
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	err = r.Reconcile(rule(5, port, true))
	var be *BindError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, port, be.Port)
	assert.EqualValues(t, 5, be.RuleId)
	assert.Empty(t, r.Bindings())
	assert.InDelta(t, 1, metrics.Value(m.BindFailures), 0)

	require.Error(t, r.InitializeAll([]model.ForwardRule{rule(5, port, true)}))
}

func TestStopAndStopOwned(t *testing.T) {
	r, _ := newRegistry(t)
	port := freePort(t)
	require.NoError(t, r.Reconcile(rule(1, port, true)))

	assert.False(t, r.StopOwned(port, 2))
	assert.Len(t, r.Bindings(), 1)
	assert.True(t, r.StopOwned(port, 1))
	assert.Empty(t, r.Bindings())

	assert.False(t, r.Stop(port))
	assert.False(t, r.Stop(freePort(t)))
}

func TestSyncConvergesToDesiredState(t *testing.T) {
	r, _ := newRegistry(t)
	p1, p2, p3 := freePort(t), freePort(t), freePort(t)
	require.NoError(t, r.Reconcile(rule(1, p1, true)))
	require.NoError(t, r.Reconcile(rule(2, p2, true)))

	moved := rule(2, p2, true)
	moved.TargetPort = 22
	rules := []model.ForwardRule{rule(1, p1, false), moved, rule(3, p3, true)}
	require.NoError(t, r.Sync(rules))

	bs := r.Bindings()
	got := map[int]Binding{}
	for _, b := range bs {
		got[b.Port] = b
	}
	assert.Len(t, got, 2)
	assert.NotContains(t, got, p1)
	assert.Equal(t, 22, got[p2].TargetPort)
	assert.EqualValues(t, 3, got[p3].RuleId)
}

func TestShutdownStopsEverything(t *testing.T) {
	r, m := newRegistry(t)
	port := freePort(t)
	require.NoError(t, r.Reconcile(rule(1, port, true)))
	require.NoError(t, r.Shutdown(time.Second))
	assert.Empty(t, r.Bindings())
	assert.False(t, accepting(port))
	assert.InDelta(t, 0, metrics.Value(m.ActiveListeners), 0)
}

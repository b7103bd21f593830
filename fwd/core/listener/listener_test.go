package listener

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfwd/fwd/common/metrics"
	"portfwd/fwd/model"
)

type closeCall struct {
	entry model.LogEntry
	added int64
}

type fakeLogger struct {
	mu       sync.Mutex
	connects []string
	closes   []closeCall
}

func (f *fakeLogger) OnConnectConn(connID string, forwardID int64, clientIP string) (model.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, clientIP)
	return model.LogEntry{Id: int64(len(f.connects)), ForwardId: forwardID, ClientIp: clientIP}, nil
}

func (f *fakeLogger) OnCloseConn(connID string, e model.LogEntry, added int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, closeCall{entry: e, added: added})
}

func (f *fakeLogger) closed() []closeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]closeCall(nil), f.closes...)
}

// echoServer 原样回写
func echoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}()
		}
	}()
	return ln.Addr().String()
}

func start(t *testing.T, spec Spec, deps Deps) *Listener {
	t.Helper()
	spec.BindHost = "127.0.0.1"
	l, err := Listen(spec, deps)
	require.NoError(t, err)
	t.Cleanup(l.Stop)
	return l
}

func roundTrip(t *testing.T, c net.Conn, msg string) {
	t.Helper()
	_, err := c.Write([]byte(msg))
	require.NoError(t, err)
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, msg, string(buf))
}

func TestListenerRelaysAndLogs(t *testing.T) {
	fl := &fakeLogger{}
	m := metrics.New()
	l := start(t, Spec{RuleId: 3, Target: echoServer(t)}, Deps{Logger: fl, Metrics: m})

	c, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	roundTrip(t, c, "hello")
	require.NoError(t, c.Close())

	require.Eventually(t, func() bool { return len(fl.closed()) == 1 }, 3*time.Second, 10*time.Millisecond)
	cl := fl.closed()[0]
	assert.EqualValues(t, 10, cl.added)
	assert.EqualValues(t, 3, cl.entry.ForwardId)
	assert.Equal(t, "127.0.0.1", cl.entry.ClientIp)
	assert.InDelta(t, 10, metrics.Value(m.BytesRelayed.WithLabelValues("3")), 0)
}

func TestStopKeepsAcceptedConnections(t *testing.T) {
	fl := &fakeLogger{}
	tr := NewTracker(nil)
	l := start(t, Spec{RuleId: 1, Target: echoServer(t)}, Deps{Logger: fl, Tracker: tr})
	addr := l.Addr().String()

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()
	roundTrip(t, c, "before")

	l.Stop()
	_, err = net.DialTimeout("tcp", addr, time.Second)
	require.Error(t, err, "port no longer accepts")

	roundTrip(t, c, "after")
	assert.Equal(t, 1, tr.Active())
}

func TestDrainForceClosesAfterTimeout(t *testing.T) {
	tr := NewTracker(nil)
	l := start(t, Spec{RuleId: 1, Target: echoServer(t)}, Deps{Tracker: tr})

	c, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	roundTrip(t, c, "x")

	l.Stop()
	assert.False(t, tr.Drain(50*time.Millisecond))
	assert.Equal(t, 0, tr.Active())

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = c.Read(make([]byte, 1))
	assert.Error(t, err)
}

// gatedLogger OnConnectConn 阻塞到 gate 关闭
type gatedLogger struct {
	fakeLogger
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedLogger) OnConnectConn(connID string, forwardID int64, clientIP string) (model.LogEntry, error) {
	close(g.entered)
	<-g.gate
	return g.fakeLogger.OnConnectConn(connID, forwardID, clientIP)
}

func TestDrainWaitsForConnectLogging(t *testing.T) {
	gl := &gatedLogger{entered: make(chan struct{}), gate: make(chan struct{})}
	tr := NewTracker(nil)
	l := start(t, Spec{RuleId: 1, Target: echoServer(t)}, Deps{Logger: gl, Tracker: tr})

	c, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	select {
	case <-gl.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("connect was not logged")
	}
	assert.Equal(t, 1, tr.Active(), "conn is tracked while its log entry is written")

	l.Stop()
	drained := make(chan bool, 1)
	go func() { drained <- tr.Drain(50 * time.Millisecond) }()

	select {
	case <-drained:
		t.Fatal("drain returned while connect logging was in flight")
	case <-time.After(200 * time.Millisecond):
	}

	close(gl.gate)
	select {
	case ok := <-drained:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("drain did not finish")
	}
	assert.Equal(t, 0, tr.Active())
	require.Len(t, gl.closed(), 1)

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = c.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestTrackerRejectsAfterDrain(t *testing.T) {
	tr := NewTracker(nil)
	assert.True(t, tr.Drain(time.Second))

	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()
	assert.Nil(t, tr.add(srv))
	assert.Equal(t, 0, tr.Active())
}

func TestDialFailureStillLogsClose(t *testing.T) {
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	target := dead.Addr().String()
	require.NoError(t, dead.Close())

	fl := &fakeLogger{}
	m := metrics.New()
	l := start(t, Spec{RuleId: 9, Target: target}, Deps{Logger: fl, Metrics: m})

	c, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	require.Eventually(t, func() bool { return len(fl.closed()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, fl.closed()[0].added)
	assert.InDelta(t, 1, metrics.Value(m.DialFailures.WithLabelValues("9")), 0)
}

func TestListenConflict(t *testing.T) {
	l := start(t, Spec{RuleId: 1, Target: "127.0.0.1:1"}, Deps{})
	_, err := Listen(Spec{RuleId: 2, Port: l.Addr().(*net.TCPAddr).Port, BindHost: "127.0.0.1"}, Deps{})
	require.Error(t, err)
}

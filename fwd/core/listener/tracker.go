package listener

import (
	"net"
	"sync"
	"time"

	"portfwd/fwd/common/metrics"
	"portfwd/fwd/core/relay"
)

// Tracker 跨 listener 登记在途连接；listener 停止后连接仍归它管，供退出时 drain
type Tracker struct {
	wg       sync.WaitGroup
	mu       sync.Mutex
	slots    map[*slot]struct{}
	draining bool
	metrics  *metrics.Metrics
}

// slot 一条在途连接：写连接日志阶段只有 conn，转发阶段挂上 relay
type slot struct {
	conn   net.Conn
	relay  *relay.Relay
	closed bool
}

func (s *slot) close() {
	s.closed = true
	if s.relay != nil {
		s.relay.Close()
		return
	}
	_ = s.conn.Close()
}

func NewTracker(m *metrics.Metrics) *Tracker {
	return &Tracker{slots: make(map[*slot]struct{}), metrics: m}
}

// add 在 accept 后立刻登记；drain 开始后返回 nil，调用方直接关闭连接
func (t *Tracker) add(c net.Conn) *slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining {
		return nil
	}
	t.wg.Add(1)
	s := &slot{conn: c}
	t.slots[s] = struct{}{}
	if t.metrics != nil {
		t.metrics.ActiveConnections.Inc()
	}
	return s
}

// attach 挂上 relay；若 slot 已被强制关闭，relay 随即关闭
func (t *Tracker) attach(s *slot, r *relay.Relay) {
	t.mu.Lock()
	s.relay = r
	closed := s.closed
	t.mu.Unlock()
	if closed {
		r.Close()
	}
}

func (t *Tracker) done(s *slot) {
	t.mu.Lock()
	delete(t.slots, s)
	t.mu.Unlock()
	if t.metrics != nil {
		t.metrics.ActiveConnections.Dec()
	}
	t.wg.Done()
}

func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// Drain 拒绝新连接并等待在途连接结束；超时后强制关闭剩余连接。正常结束返回 true
func (t *Tracker) Drain(timeout time.Duration) bool {
	t.mu.Lock()
	t.draining = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() { t.wg.Wait(); close(done) }()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
	}

	t.mu.Lock()
	for s := range t.slots {
		s.close()
	}
	t.mu.Unlock()
	<-done
	return false
}

// Package listener 每条生效规则一个 TCP 监听：accept -> 记连接日志 -> relay
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"portfwd/fwd/common"
	"portfwd/fwd/common/logx"
	"portfwd/fwd/common/metrics"
	"portfwd/fwd/core/relay"
	"portfwd/fwd/model"
)

// ConnLogger 连接生命周期日志（由 connlog.Logger 实现）
type ConnLogger interface {
	OnConnectConn(connID string, forwardID int64, clientIP string) (model.LogEntry, error)
	OnCloseConn(connID string, e model.LogEntry, added int64)
}

type Spec struct {
	RuleId      int64
	Port        int
	BindHost    string
	Target      string
	MaxConns    int           // 0 = 不限
	DialTimeout time.Duration // 0 = 不超时
}

type Deps struct {
	Logger  ConnLogger
	Tracker *Tracker
	Metrics *metrics.Metrics
	Log     *logx.Logger
}

type Listener struct {
	spec      Spec
	deps      Deps
	ln        net.Listener
	startedAt time.Time

	acceptDone chan struct{}
	stopOnce   sync.Once
	stopped    chan struct{}
	errLog     rate.Sometimes
}

// Listen 绑定端口并启动 accept 循环
func Listen(spec Spec, deps Deps) (*Listener, error) {
	if deps.Log == nil {
		deps.Log = logx.New(logx.WithPrefix("listener"))
	}
	if deps.Tracker == nil {
		deps.Tracker = NewTracker(deps.Metrics)
	}
	addr := common.ListenAddr(spec.BindHost, spec.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if spec.MaxConns > 0 {
		ln = netutil.LimitListener(ln, spec.MaxConns)
	}
	l := &Listener{
		spec:       spec,
		deps:       deps,
		ln:         ln,
		startedAt:  time.Now(),
		acceptDone: make(chan struct{}),
		stopped:    make(chan struct{}),
		errLog:     rate.Sometimes{Interval: time.Second},
	}
	deps.Log.Infof("[rule %d][tcp] %s -> %s", spec.RuleId, ln.Addr(), spec.Target)
	go l.serve()
	return l, nil
}

func (l *Listener) Spec() Spec           { return l.spec }
func (l *Listener) Addr() net.Addr       { return l.ln.Addr() }
func (l *Listener) StartedAt() time.Time { return l.startedAt }

func (l *Listener) serve() {
	defer close(l.acceptDone)
	var backoff time.Duration
	for {
		c, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.stopped:
				l.deps.Log.Debugf("[rule %d][tcp] accept loop exit", l.spec.RuleId)
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// 例如 fd 耗尽：退避重试，错误日志每秒最多一条
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			l.errLog.Do(func() {
				l.deps.Log.Errorf("[rule %d][tcp] accept error: %v; retrying in %s", l.spec.RuleId, err, backoff)
			})
			select {
			case <-l.stopped:
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		go l.handle(c)
	}
}

func (l *Listener) handle(c net.Conn) {
	connID := uuid.NewString()
	clientIP := common.RemoteIPFromConn(c)
	defer func() {
		if p := recover(); p != nil {
			l.deps.Log.Errorf("[rule %d] conn %s panic: %v\n%s", l.spec.RuleId, connID, p, debug.Stack())
			_ = c.Close()
		}
	}()
	l.deps.Log.Debugf("[rule %d][tcp] accept %s conn=%s", l.spec.RuleId, c.RemoteAddr(), connID)

	// 先登记再写日志，drain 才能看到日志阶段的连接
	sl := l.deps.Tracker.add(c)
	if sl == nil {
		l.deps.Log.Debugf("[rule %d][tcp] draining, drop conn=%s", l.spec.RuleId, connID)
		_ = c.Close()
		return
	}
	defer l.deps.Tracker.done(sl)

	// 日志写失败也照常转发，只是没有句柄可补字节数
	var entry model.LogEntry
	logged := false
	if l.deps.Logger != nil {
		e, err := l.deps.Logger.OnConnectConn(connID, l.spec.RuleId, clientIP)
		if err != nil {
			l.deps.Log.Errorf("[rule %d] log connect %s: %v", l.spec.RuleId, clientIP, err)
		} else {
			entry, logged = e, true
		}
	}

	label := metrics.Label(l.spec.RuleId)
	r := relay.New(c, l.spec.Target, relay.Options{DialTimeout: l.spec.DialTimeout, Log: l.deps.Log},
		func(res relay.Result) {
			if m := l.deps.Metrics; m != nil {
				m.BytesRelayed.WithLabelValues(label).Add(float64(res.Total()))
				var dialErr *relay.DialError
				if errors.As(res.Err, &dialErr) {
					m.DialFailures.WithLabelValues(label).Inc()
				}
			}
			l.deps.Log.Debugf("[rule %d][tcp] close %s conn=%s up=%d down=%d err=%v",
				l.spec.RuleId, clientIP, connID, res.Up, res.Down, res.Err)
			if logged {
				l.deps.Logger.OnCloseConn(connID, entry, res.Total())
			}
		})

	l.deps.Tracker.attach(sl, r)
	r.Run(context.Background())
}

// Stop 只关闭监听；已接受的连接继续转发直到自然结束
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopped)
		_ = l.ln.Close()
		<-l.acceptDone
		l.deps.Log.Infof("[rule %d][tcp] listener closed: %s", l.spec.RuleId, l.ln.Addr())
	})
}

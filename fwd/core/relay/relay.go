// Package relay 单连接的双向字节泵：client <-> target。
// 任一方向出错或 EOF 即同时关闭两端（不做半关闭）。
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"portfwd/fwd/common/logx"
)

type State int32

const (
	Connecting State = iota
	Relaying
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Relaying:
		return "relaying"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// IOError 某一方向的读写错误；只记日志，不向上传播
type IOError struct {
	Dir string // "up" = client->target, "down" = target->client
	Err error
}

func (e *IOError) Error() string { return "relay " + e.Dir + ": " + e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }

type Result struct {
	Up   int64 // client -> target
	Down int64 // target -> client
	Err  error // *DialError 或 *IOError；正常 EOF 为 nil
}

func (r Result) Total() int64 { return r.Up + r.Down }

// DialError 连接目标失败
type DialError struct {
	Target string
	Err    error
}

func (e *DialError) Error() string { return "dial " + e.Target + ": " + e.Err.Error() }
func (e *DialError) Unwrap() error { return e.Err }

type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Options struct {
	DialTimeout time.Duration // 0 = 不超时
	Dial        DialFunc      // 默认 net.Dialer.DialContext
	Log         *logx.Logger
}

type Relay struct {
	client net.Conn
	target string
	opts   Options
	onDone func(Result)

	state    atomic.Int32
	up, down atomic.Int64

	mu     sync.Mutex
	cc, tc *countingConn
	cancel context.CancelFunc // 取消进行中的 dial

	doneOnce sync.Once
}

var defaultLog = logx.New(logx.WithPrefix("relay"))

// New onDone 在进入 Closed 时恰好调用一次
func New(client net.Conn, target string, opts Options, onDone func(Result)) *Relay {
	if opts.Log == nil {
		opts.Log = defaultLog
	}
	if opts.Dial == nil {
		d := &net.Dialer{Timeout: opts.DialTimeout}
		opts.Dial = d.DialContext
	}
	return &Relay{client: client, target: target, opts: opts, onDone: onDone}
}

func (r *Relay) State() State   { return State(r.state.Load()) }
func (r *Relay) Target() string { return r.target }

// Bytes 当前已转发的字节（上行, 下行）
func (r *Relay) Bytes() (up, down int64) { return r.up.Load(), r.down.Load() }

// Run 阻塞直到两端都关闭；自身 panic 被兜住，不影响其他连接
func (r *Relay) Run(ctx context.Context) {
	var res Result
	defer func() {
		if p := recover(); p != nil {
			r.opts.Log.Errorf("relay %s panic: %v\n%s", r.target, p, debug.Stack())
			res.Err = fmt.Errorf("panic: %v", p)
		}
		r.closeBoth()
		r.finish(res)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.cancel = cancel
	if r.State() == Closing {
		cancel()
	}
	r.mu.Unlock()

	dctx := ctx
	if r.opts.DialTimeout > 0 {
		var cancelDial context.CancelFunc
		dctx, cancelDial = context.WithTimeout(ctx, r.opts.DialTimeout)
		defer cancelDial()
	}
	r.opts.Log.Tracef("dial %s", r.target)
	tconn, err := r.opts.Dial(dctx, "tcp", r.target)
	if err != nil {
		r.opts.Log.Warnf("dial %s failed: %v", r.target, err)
		res.Err = &DialError{Target: r.target, Err: err}
		return
	}

	r.mu.Lock()
	r.cc = newCountingConn(r.client, &r.down)
	r.tc = newCountingConn(tconn, &r.up)
	cc, tc := r.cc, r.tc
	closed := r.State() == Closing
	r.mu.Unlock()
	if closed {
		_ = tconn.Close()
		return
	}
	r.state.Store(int32(Relaying))

	errc := make(chan error, 2)
	go r.pump("up", tc, cc, errc)
	go r.pump("down", cc, tc, errc)

	// 第一个方向结束就拆掉两端，另一方向随之返回
	first := <-errc
	r.state.Store(int32(Closing))
	r.closeBoth()
	<-errc

	res.Err = first
	if first != nil {
		r.opts.Log.Debugf("relay %s: %v", r.target, first)
	}
}

func (r *Relay) pump(dir string, dst io.Writer, src io.Reader, errc chan<- error) {
	var err error
	defer func() {
		if p := recover(); p != nil {
			err = &IOError{Dir: dir, Err: fmt.Errorf("panic: %v", p)}
		}
		errc <- err
	}()
	n, e := io.Copy(dst, src)
	if e != nil && !errors.Is(e, net.ErrClosed) {
		err = &IOError{Dir: dir, Err: e}
	}
	r.opts.Log.Tracef("relay %s %s done: %d bytes", r.target, dir, n)
}

// Close 强制关闭（进程退出时 drain 超时使用）
func (r *Relay) Close() {
	r.mu.Lock()
	if r.State() == Connecting {
		r.state.Store(int32(Closing))
	}
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.closeBoth()
}

func (r *Relay) closeBoth() {
	r.mu.Lock()
	cc, tc := r.cc, r.tc
	r.mu.Unlock()
	if cc != nil {
		_ = cc.Close()
	} else {
		_ = r.client.Close()
	}
	if tc != nil {
		_ = tc.Close()
	}
}

func (r *Relay) finish(res Result) {
	r.doneOnce.Do(func() {
		res.Up, res.Down = r.up.Load(), r.down.Load()
		r.state.Store(int32(Closed))
		if r.onDone != nil {
			r.onDone(res)
		}
	})
}

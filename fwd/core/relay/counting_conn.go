package relay

import (
	"net"
	"sync"
	"sync/atomic"
)

// countingConn 统计成功写出的字节数；Close 只生效一次
type countingConn struct {
	net.Conn
	written   *atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

func newCountingConn(c net.Conn, counter *atomic.Int64) *countingConn {
	return &countingConn{Conn: c, written: counter}
}

func (cc *countingConn) Write(b []byte) (int, error) {
	n, err := cc.Conn.Write(b)
	if n > 0 {
		cc.written.Add(int64(n))
	}
	return n, err
}

func (cc *countingConn) Close() error {
	cc.closeOnce.Do(func() { cc.closeErr = cc.Conn.Close() })
	return cc.closeErr
}

package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"
)

func buildHTTPServer(addr string, handler http.Handler, errLog *log.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          errLog,
	}
}

// startAsync 先同步 Listen，端口被占用时直接返回错误
func startAsync(srv *http.Server, errLog *log.Logger) (net.Addr, error) {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, err
	}
	go func() {
		if e := srv.Serve(ln); e != nil && !errors.Is(e, http.ErrServerClosed) {
			errLog.Printf("serve http: %v", e)
		}
	}()
	return ln.Addr(), nil
}

func shutdownHTTP(srv *http.Server, timeout time.Duration, errLog *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		errLog.Printf("http shutdown: %v", err)
	}
}

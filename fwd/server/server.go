package server

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"portfwd/fwd/api"
	"portfwd/fwd/app"
	"portfwd/fwd/common/logx"
)

const shutdownTimeout = 10 * time.Second

// Run 启动转发引擎与 API，阻塞到 SIGINT/SIGTERM
func Run(cfgPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, cfgPath)
}

func RunContext(ctx context.Context, cfgPath string) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}

	// 1) 日志
	closer := logx.MustInit(a.Cfg.Logging.Dir)
	defer closer.Close()
	info := logx.NewStdInfo()
	errL := logx.NewStdErr()

	// 2) 规则 -> 监听
	if err := a.Start(); err != nil {
		_ = a.Stop(shutdownTimeout)
		return err
	}
	info.Printf("[boot] %d listener(s) bound", len(a.Bindings()))

	// 3) API
	srv := buildHTTPServer(a.Cfg.Server.Listen, api.New(a).Router(), errL)
	addr, err := startAsync(srv, errL)
	if err != nil {
		_ = a.Stop(shutdownTimeout)
		return err
	}
	info.Printf("[boot] api listening: http://%s", addr)

	// 4) 等待退出
	<-ctx.Done()
	info.Println("[boot] stopping...")

	// 5) 先停 API，再停监听并 drain 连接
	shutdownHTTP(srv, shutdownTimeout, errL)
	if err := a.Stop(shutdownTimeout); err != nil {
		errL.Printf("stop: %v", err)
	}
	info.Println("[boot] bye")
	return nil
}

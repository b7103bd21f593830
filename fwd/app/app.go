// Package app 规则生命周期的协作接口：校验、串行化变更、同步对齐监听
package app

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"portfwd/fwd/common/config"
	"portfwd/fwd/common/logx"
	"portfwd/fwd/common/metrics"
	"portfwd/fwd/core/connlog"
	"portfwd/fwd/core/events"
	"portfwd/fwd/core/registry"
	"portfwd/fwd/model"
)

type App struct {
	Cfg     *config.Config
	CfgPath string

	Stores   *Stores
	Registry *registry.Registry
	ConnLog  *connlog.Logger
	Hub      *events.Hub
	Metrics  *metrics.Metrics

	// 单一控制线程：所有规则变更 + 对齐在此串行
	mu sync.Mutex

	stopOnce sync.Once

	Log *logx.Logger
}

var log = logx.New(logx.WithPrefix("app"))

// New 加载配置并打开存储；配置失败由调用方视为致命
func New(cfgPath string) (*App, error) {
	cfg, used, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logx.SetLevelString(cfg.Logging.Level)
	logx.SetComponentLevels(cfg.Logging.Components)
	log.Infof("config loaded from %s", used)
	a, err := NewWithConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.CfgPath = used
	return a, nil
}

func NewWithConfig(cfg *config.Config) (*App, error) {
	st, err := OpenStores(cfg.Storage)
	if err != nil {
		return nil, err
	}
	log.Infof("storage ready (driver=%s, data_dir=%s)", cfg.Storage.Driver, cfg.Storage.DataDir)

	hub := events.NewHub()
	m := metrics.New()
	cl := connlog.New(st.Logs, connlog.WithHub(hub), connlog.WithMetrics(m))
	reg := registry.New(registry.Options{
		BindHost:    cfg.Relay.BindHost,
		DialTimeout: cfg.Relay.DialTimeout(),
		MaxConns:    cfg.Relay.MaxConns,
	}, cl, m)

	return &App{
		Cfg:      cfg,
		Stores:   st,
		Registry: reg,
		ConnLog:  cl,
		Hub:      hub,
		Metrics:  m,
		Log:      log,
	}, nil
}

// Start 补种子规则，然后按规则列表绑定全部启用规则
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.seedLocked(); err != nil {
		return err
	}
	rules, err := a.Stores.Rules.List()
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	if err := a.Registry.InitializeAll(rules); err != nil {
		// 绑定失败只记日志，规则保持原样
		a.Log.Warnf("some listeners failed to bind: %v", err)
	}
	return nil
}

// seedLocked 配置里的 forwards 只补充库中尚无规则的 source port
func (a *App) seedLocked() error {
	if len(a.Cfg.Forwards) == 0 {
		return nil
	}
	rules, err := a.Stores.Rules.List()
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	have := make(map[int]bool, len(rules))
	for _, r := range rules {
		have[r.SourcePort] = true
	}
	for _, sf := range a.Cfg.Forwards {
		f := model.RuleFields{
			Name:       sf.Name,
			SourcePort: sf.SourcePort,
			TargetHost: sf.TargetHost,
			TargetPort: sf.TargetPort,
			Enabled:    sf.Enabled,
		}
		if err := validate(f); err != nil {
			a.Log.Warnf("skip seed forward %q: %v", sf.Name, err)
			continue
		}
		if have[f.SourcePort] {
			continue
		}
		r, err := a.Stores.Rules.Create(f)
		if err != nil {
			return fmt.Errorf("seed forward %q: %w", sf.Name, err)
		}
		have[f.SourcePort] = true
		a.Log.Infof("[rule %d] seeded from config: %s :%d -> %s", r.Id, r.Name, r.SourcePort, r.Target())
	}
	return nil
}

// Stop 停掉全部监听并等待在途连接（超时强关），最后关闭存储
func (a *App) Stop(timeout time.Duration) error {
	var err error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		err = errors.Join(a.Registry.Shutdown(timeout), a.Stores.Close())
		a.Hub.Close()
		a.Log.Infof("app stopped")
	})
	return err
}

// Package registry 持有 source_port -> listener 映射，并与规则集对齐
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"portfwd/fwd/common/logx"
	"portfwd/fwd/common/metrics"
	"portfwd/fwd/core/listener"
	"portfwd/fwd/model"
)

// BindError 端口绑定失败；规则记录不受影响
type BindError struct {
	Port   int
	RuleId int64
	Err    error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind port %d for rule %d: %v", e.Port, e.RuleId, e.Err)
}
func (e *BindError) Unwrap() error { return e.Err }

// Target 某端口期望的转发目标
type Target struct {
	RuleId int64
	Host   string
	Port   int
}

func targetOf(r model.ForwardRule) Target {
	return Target{RuleId: r.Id, Host: r.TargetHost, Port: r.TargetPort}
}

type Binding struct {
	Port       int       `json:"source_port"`
	RuleId     int64     `json:"rule_id"`
	TargetHost string    `json:"target_host"`
	TargetPort int       `json:"target_port"`
	StartedAt  time.Time `json:"started_at"`
}

type Options struct {
	BindHost    string
	DialTimeout time.Duration
	MaxConns    int
}

type entry struct {
	ln     *listener.Listener
	target Target
}

type Registry struct {
	mu      sync.Mutex
	m       map[int]*entry
	opts    Options
	deps    listener.Deps
	metrics *metrics.Metrics
	log     *logx.Logger
}

func New(opts Options, logger listener.ConnLogger, m *metrics.Metrics) *Registry {
	log := logx.New(logx.WithPrefix("registry"))
	return &Registry{
		m:    make(map[int]*entry),
		opts: opts,
		deps: listener.Deps{
			Logger:  logger,
			Tracker: listener.NewTracker(m),
			Metrics: m,
			Log:     logx.New(logx.WithPrefix("listener")),
		},
		metrics: m,
		log:     log,
	}
}

func (r *Registry) Tracker() *listener.Tracker { return r.deps.Tracker }

// Reconcile 无条件停掉该端口上现有的监听（不论属于哪条规则），规则启用则重新绑定。
// 绑定失败：记日志、移除映射，返回 *BindError。
func (r *Registry) Reconcile(rule model.ForwardRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(rule.SourcePort)
	if !rule.Enabled {
		r.log.Debugf("[rule %d] disabled, port %d left unbound", rule.Id, rule.SourcePort)
		return nil
	}
	return r.bindLocked(rule.SourcePort, targetOf(rule))
}

// Stop 停掉端口上的监听；不存在则什么都不做
func (r *Registry) Stop(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked(port)
}

// StopOwned 仅当端口上的监听属于 ruleID 时才停
func (r *Registry) StopOwned(port int, ruleID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.m[port]
	if !ok || e.target.RuleId != ruleID {
		return false
	}
	return r.stopLocked(port)
}

// InitializeAll 按列表顺序对每条启用规则执行 Reconcile；同端口后者覆盖前者
func (r *Registry) InitializeAll(rules []model.ForwardRule) error {
	var errs []error
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if err := r.Reconcile(rule); err != nil {
			errs = append(errs, err)
		}
	}
	r.log.Infof("initialized %d listeners from %d rules", r.Len(), len(rules))
	return errors.Join(errs...)
}

// DesiredState 规则集对应的期望绑定；同端口取列表中最后一条启用规则
func DesiredState(rules []model.ForwardRule) map[int]Target {
	out := make(map[int]Target)
	for _, rule := range rules {
		if rule.Enabled {
			out[rule.SourcePort] = targetOf(rule)
		}
	}
	return out
}

// Sync 期望与实际做差：多余的停掉，缺失或目标变化的重新绑定
func (r *Registry) Sync(rules []model.ForwardRule) error {
	want := DesiredState(rules)

	r.mu.Lock()
	defer r.mu.Unlock()

	for port, e := range r.m {
		if t, ok := want[port]; !ok || t != e.target {
			r.log.Debugf("[rule %d] port %d stale -> stop", e.target.RuleId, port)
			r.stopLocked(port)
		}
	}
	ports := make([]int, 0, len(want))
	for port := range want {
		if _, ok := r.m[port]; !ok {
			ports = append(ports, port)
		}
	}
	sort.Ints(ports)

	var errs []error
	for _, port := range ports {
		if err := r.bindLocked(port, want[port]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Bindings() []Binding {
	r.mu.Lock()
	out := make([]Binding, 0, len(r.m))
	for port, e := range r.m {
		out = append(out, Binding{
			Port:       port,
			RuleId:     e.target.RuleId,
			TargetHost: e.target.Host,
			TargetPort: e.target.Port,
			StartedAt:  e.ln.StartedAt(),
		})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

// Shutdown 先并发停掉全部监听，再等待在途连接；超时强制关闭
func (r *Registry) Shutdown(timeout time.Duration) error {
	r.mu.Lock()
	olds := r.m
	r.m = make(map[int]*entry)
	r.setGauge()
	r.mu.Unlock()

	var g errgroup.Group
	for _, e := range olds {
		ln := e.ln
		g.Go(func() error {
			ln.Stop()
			return nil
		})
	}
	_ = g.Wait()
	r.log.Infof("stopped %d listeners, draining connections (timeout=%s)", len(olds), timeout)

	if !r.deps.Tracker.Drain(timeout) {
		r.log.Warnf("force closed active connections after %s", timeout)
		return fmt.Errorf("drain timed out after %s", timeout)
	}
	return nil
}

func (r *Registry) stopLocked(port int) bool {
	e, ok := r.m[port]
	if !ok {
		return false
	}
	delete(r.m, port)
	r.setGauge()
	e.ln.Stop()
	r.log.Infof("[rule %d] port %d stopped", e.target.RuleId, port)
	return true
}

func (r *Registry) bindLocked(port int, t Target) error {
	ln, err := listener.Listen(listener.Spec{
		RuleId:      t.RuleId,
		Port:        port,
		BindHost:    r.opts.BindHost,
		Target:      model.ForwardRule{TargetHost: t.Host, TargetPort: t.Port}.Target(),
		MaxConns:    r.opts.MaxConns,
		DialTimeout: r.opts.DialTimeout,
	}, r.deps)
	if err != nil {
		delete(r.m, port)
		r.setGauge()
		if r.metrics != nil {
			r.metrics.BindFailures.Inc()
		}
		r.log.Errorf("[rule %d] bind port %d failed: %v", t.RuleId, port, err)
		return &BindError{Port: port, RuleId: t.RuleId, Err: err}
	}
	r.m[port] = &entry{ln: ln, target: t}
	r.setGauge()
	return nil
}

func (r *Registry) setGauge() {
	if r.metrics != nil {
		r.metrics.ActiveListeners.Set(float64(len(r.m)))
	}
}

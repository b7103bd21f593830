package app

import (
	"errors"
	"strings"

	"portfwd/fwd/common"
	"portfwd/fwd/core/registry"
	"portfwd/fwd/model"
	"portfwd/fwd/store"
)

const (
	DefaultRecentLimit = 100
	MaxRecentLimit     = 1000
)

func validate(f model.RuleFields) error {
	if strings.TrimSpace(f.Name) == "" {
		return &ValidationError{Field: "name", Msg: "required"}
	}
	if !common.ValidPort(f.SourcePort) {
		return &ValidationError{Field: "source_port", Msg: "must be within 1-65535"}
	}
	if strings.TrimSpace(f.TargetHost) == "" {
		return &ValidationError{Field: "target_host", Msg: "required"}
	}
	if !common.ValidPort(f.TargetPort) {
		return &ValidationError{Field: "target_port", Msg: "must be within 1-65535"}
	}
	return nil
}

func normalize(f model.RuleFields) model.RuleFields {
	f.Name = strings.TrimSpace(f.Name)
	f.TargetHost = strings.TrimSpace(f.TargetHost)
	return f
}

func (a *App) ListRules() ([]model.ForwardRule, error) {
	rules, err := a.Stores.Rules.List()
	if err != nil {
		return nil, &PersistenceError{Op: "list rules", Err: err}
	}
	return rules, nil
}

func (a *App) GetRule(id int64) (model.ForwardRule, error) {
	r, err := a.Stores.Rules.Get(id)
	if err != nil {
		return model.ForwardRule{}, storeErr("get rule", id, err)
	}
	return r, nil
}

func (a *App) CreateRule(f model.RuleFields) (model.ForwardRule, error) {
	f = normalize(f)
	if err := validate(f); err != nil {
		return model.ForwardRule{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	r, err := a.Stores.Rules.Create(f)
	if err != nil {
		// 落盘失败但内存已生效（r.Id != 0）：监听照常对齐
		if r.Id != 0 && errors.Is(err, store.ErrPersist) {
			a.reconcileLocked(r)
		}
		return r, &PersistenceError{Op: "create rule", Err: err}
	}
	a.Log.Infof("[rule %d] created: %s :%d -> %s (enabled=%v)", r.Id, r.Name, r.SourcePort, r.Target(), r.Enabled)
	a.reconcileLocked(r)
	return r, nil
}

// UpdateRule 端口变化时，旧端口上属于本规则的监听先停掉
func (a *App) UpdateRule(id int64, f model.RuleFields) (model.ForwardRule, error) {
	return a.PatchRule(id, func(cur *model.RuleFields) { *cur = f })
}

// PatchRule 在控制锁内读出当前字段、交给 patch 修改后写回；
// 局部更新不会覆盖并发的 toggle/update
func (a *App) PatchRule(id int64, patch func(*model.RuleFields)) (model.ForwardRule, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	old, err := a.Stores.Rules.Get(id)
	if err != nil {
		return model.ForwardRule{}, storeErr("get rule", id, err)
	}
	f := model.FieldsOf(old)
	patch(&f)
	f = normalize(f)
	if err := validate(f); err != nil {
		return model.ForwardRule{}, err
	}
	r, err := a.Stores.Rules.Update(id, f)
	if err != nil {
		if r.Id == 0 || !errors.Is(err, store.ErrPersist) {
			return model.ForwardRule{}, storeErr("update rule", id, err)
		}
		a.applyUpdateLocked(old, r)
		return r, &PersistenceError{Op: "update rule", Err: err}
	}
	a.Log.Infof("[rule %d] updated: %s :%d -> %s (enabled=%v)", r.Id, r.Name, r.SourcePort, r.Target(), r.Enabled)
	a.applyUpdateLocked(old, r)
	return r, nil
}

func (a *App) applyUpdateLocked(old, cur model.ForwardRule) {
	if old.SourcePort != cur.SourcePort {
		a.Registry.StopOwned(old.SourcePort, old.Id)
	}
	a.reconcileLocked(cur)
}

// ToggleRule 翻转 enabled，返回新值
func (a *App) ToggleRule(id int64) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	old, err := a.Stores.Rules.Get(id)
	if err != nil {
		return false, storeErr("get rule", id, err)
	}
	f := model.FieldsOf(old)
	f.Enabled = !old.Enabled
	r, err := a.Stores.Rules.Update(id, f)
	if err != nil {
		if r.Id == 0 || !errors.Is(err, store.ErrPersist) {
			return old.Enabled, storeErr("toggle rule", id, err)
		}
		a.reconcileLocked(r)
		return r.Enabled, &PersistenceError{Op: "toggle rule", Err: err}
	}
	a.Log.Infof("[rule %d] toggled: enabled=%v", r.Id, r.Enabled)
	a.reconcileLocked(r)
	return r.Enabled, nil
}

// DeleteRule 删除规则；端口上的监听只在属于本规则时停掉
func (a *App) DeleteRule(id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	old, err := a.Stores.Rules.Get(id)
	if err != nil {
		return storeErr("get rule", id, err)
	}
	ok, err := a.Stores.Rules.Delete(id)
	if ok {
		a.Registry.StopOwned(old.SourcePort, old.Id)
	}
	if err != nil {
		return &PersistenceError{Op: "delete rule", Err: err}
	}
	if !ok {
		return &NotFoundError{Id: id}
	}
	a.Log.Infof("[rule %d] deleted (port %d)", id, old.SourcePort)
	return nil
}

// reconcileLocked 绑定失败不让调用失败，只记日志
func (a *App) reconcileLocked(r model.ForwardRule) {
	if err := a.Registry.Reconcile(r); err != nil {
		var be *registry.BindError
		if errors.As(err, &be) {
			a.Log.Warnf("[rule %d] saved but port %d is not bound: %v", r.Id, be.Port, be.Err)
			return
		}
		a.Log.Errorf("[rule %d] reconcile: %v", r.Id, err)
	}
}

// RecentLogs 最近的连接日志，附带规则信息；规则已删除时用占位值
func (a *App) RecentLogs(limit int) ([]model.RecentLog, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	logs, err := a.Stores.Logs.Recent(limit)
	if err != nil {
		return nil, &PersistenceError{Op: "recent logs", Err: err}
	}
	rules, err := a.Stores.Rules.List()
	if err != nil {
		return nil, &PersistenceError{Op: "list rules", Err: err}
	}
	byId := make(map[int64]*model.ForwardRule, len(rules))
	for i := range rules {
		byId[rules[i].Id] = &rules[i]
	}
	out := make([]model.RecentLog, 0, len(logs))
	for _, e := range logs {
		out = append(out, model.Enrich(e, byId[e.ForwardId]))
	}
	return out, nil
}

// Resync 按当前规则集重新对齐全部监听（人工触发，不自动重试）
func (a *App) Resync() ([]registry.Binding, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rules, err := a.Stores.Rules.List()
	if err != nil {
		return nil, &PersistenceError{Op: "list rules", Err: err}
	}
	if err := a.Registry.Sync(rules); err != nil {
		a.Log.Warnf("resync: %v", err)
	}
	return a.Registry.Bindings(), nil
}

func (a *App) Bindings() []registry.Binding { return a.Registry.Bindings() }

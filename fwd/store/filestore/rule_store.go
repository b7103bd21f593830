package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"portfwd/fwd/common/logx"
	"portfwd/fwd/model"
	"portfwd/fwd/store"
)

const RulesFileName = "forwards.json"

var ruleLog = logx.New(logx.WithPrefix("filestore.rule"))

type rulesDoc struct {
	Forwards []model.ForwardRule `json:"forwards"`
}

// RuleStore 单个 JSON 文档 {"forwards":[...]}，每次变更整份原子覆盖
type RuleStore struct {
	mu   sync.RWMutex
	path string
	doc  rulesDoc
	now  func() time.Time
}

// OpenRuleStore 打开 dir/forwards.json；不存在则创建空文档，内容损坏直接报错
func OpenRuleStore(dir string) (*RuleStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &RuleStore{path: filepath.Join(dir, RulesFileName), now: time.Now}
	found, err := readJSON(s.path, &s.doc)
	if err != nil {
		return nil, err
	}
	if s.doc.Forwards == nil {
		s.doc.Forwards = []model.ForwardRule{}
	}
	if !found {
		if err := writeJSONAtomic(s.path, s.doc); err != nil {
			return nil, fmt.Errorf("init %s: %w", s.path, err)
		}
		ruleLog.Infof("created %s", s.path)
	}
	ruleLog.Debugf("loaded %d rule(s) from %s", len(s.doc.Forwards), s.path)
	return s, nil
}

func (s *RuleStore) Path() string { return s.path }

func (s *RuleStore) List() ([]model.ForwardRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ForwardRule, len(s.doc.Forwards))
	copy(out, s.doc.Forwards)
	return out, nil
}

func (s *RuleStore) Get(id int64) (model.ForwardRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.doc.Forwards[i], nil
	}
	return model.ForwardRule{}, store.ErrNotFound
}

func (s *RuleStore) Create(f model.RuleFields) (model.ForwardRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := model.ForwardRule{Id: store.NextRuleId(s.doc.Forwards), CreatedAt: s.now()}
	f.Apply(&r)
	s.doc.Forwards = append(s.doc.Forwards, r)
	return r, s.persist()
}

func (s *RuleStore) Update(id int64, f model.RuleFields) (model.ForwardRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return model.ForwardRule{}, store.ErrNotFound
	}
	f.Apply(&s.doc.Forwards[i])
	return s.doc.Forwards[i], s.persist()
}

func (s *RuleStore) Delete(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false, nil
	}
	s.doc.Forwards = append(s.doc.Forwards[:i], s.doc.Forwards[i+1:]...)
	return true, s.persist()
}

func (s *RuleStore) Close() error { return nil }

func (s *RuleStore) indexOf(id int64) int {
	for i := range s.doc.Forwards {
		if s.doc.Forwards[i].Id == id {
			return i
		}
	}
	return -1
}

// 调用方持有写锁
func (s *RuleStore) persist() error {
	if err := writeJSONAtomic(s.path, s.doc); err != nil {
		ruleLog.Errorf("save %s failed (memory kept): %v", s.path, err)
		return fmt.Errorf("%w: %v", store.ErrPersist, err)
	}
	return nil
}

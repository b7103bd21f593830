package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"portfwd/fwd/common/keylock"
	"portfwd/fwd/common/logx"
	"portfwd/fwd/common/ttime"
	"portfwd/fwd/model"
	"portfwd/fwd/store"
)

const LogFileName = "log.json"

var logStoreLog = logx.New(logx.WithPrefix("filestore.log"))

type logsDoc struct {
	Logs []model.LogEntry `json:"logs"`
}

// LogStore 每个日期一个目录：<root>/<YYYY_MM_DD>/log.json，首次写入时创建
type LogStore struct {
	root string
	lk   *keylock.Map[string]

	// 分区目录存在性：本地缓存 + singleflight 抑制并发 mkdir
	ensured sync.Map
	sf      singleflight.Group
}

func OpenLogStore(root string) (*LogStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &LogStore{root: root, lk: keylock.New[string]()}, nil
}

func (s *LogStore) partitionFile(dateKey string) string {
	return filepath.Join(s.root, dateKey, LogFileName)
}

func (s *LogStore) ensureOnce(dateKey string) error {
	if _, ok := s.ensured.Load(dateKey); ok {
		return nil
	}
	_, err, _ := s.sf.Do(dateKey, func() (any, error) {
		if err := os.MkdirAll(filepath.Join(s.root, dateKey), 0o755); err != nil {
			return nil, err
		}
		s.ensured.Store(dateKey, struct{}{})
		logStoreLog.Debugf("partition ready: %s", dateKey)
		return nil, nil
	})
	return err
}

func (s *LogStore) Read(dateKey string) ([]model.LogEntry, error) {
	if !ttime.IsDateKey(dateKey) {
		return nil, fmt.Errorf("bad date key %q", dateKey)
	}
	var doc logsDoc
	if _, err := readJSON(s.partitionFile(dateKey), &doc); err != nil {
		return nil, err
	}
	if doc.Logs == nil {
		doc.Logs = []model.LogEntry{}
	}
	return doc.Logs, nil
}

func (s *LogStore) AppendOrUpdate(dateKey string, e model.LogEntry) error {
	if !ttime.IsDateKey(dateKey) {
		return fmt.Errorf("bad date key %q", dateKey)
	}
	unlock := s.lk.Lock(dateKey)
	defer unlock()

	if err := s.ensureOnce(dateKey); err != nil {
		return fmt.Errorf("%w: ensure partition %s: %v", store.ErrPersist, dateKey, err)
	}
	logs, err := s.Read(dateKey)
	if err != nil {
		return err
	}
	logs = store.Upsert(logs, e)
	err = writeJSONAtomic(s.partitionFile(dateKey), logsDoc{Logs: logs})
	if errors.Is(err, fs.ErrNotExist) {
		// 目录被其他进程删除（如 purge）：缓存失效，重建后重试一次
		logStoreLog.Warnf("partition %s vanished, recreating", dateKey)
		s.ensured.Delete(dateKey)
		if err = s.ensureOnce(dateKey); err == nil {
			err = writeJSONAtomic(s.partitionFile(dateKey), logsDoc{Logs: logs})
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrPersist, err)
	}
	return nil
}

func (s *LogStore) Partitions() ([]string, error) {
	ents, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() && ttime.IsDateKey(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *LogStore) Recent(limit int) ([]model.LogEntry, error) {
	parts, err := s.Partitions()
	if err != nil {
		return nil, err
	}
	// 单个分区损坏不影响整体查询
	read := func(k string) ([]model.LogEntry, error) {
		logs, err := s.Read(k)
		if err != nil {
			logStoreLog.Warnf("skip partition %s: %v", k, err)
			return nil, nil
		}
		return logs, nil
	}
	return store.CollectRecent(parts, read, limit)
}

func (s *LogStore) Drop(dateKey string) (bool, error) {
	if !ttime.IsDateKey(dateKey) {
		return false, fmt.Errorf("bad date key %q", dateKey)
	}
	unlock := s.lk.Lock(dateKey)
	defer unlock()

	dir := filepath.Join(s.root, dateKey)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	s.ensured.Delete(dateKey)
	return true, nil
}

func (s *LogStore) Close() error { return nil }

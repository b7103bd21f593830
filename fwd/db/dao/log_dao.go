package dao

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm/clause"

	"portfwd/fwd/common/logx"
	"portfwd/fwd/common/ttime"
	"portfwd/fwd/db"
	"portfwd/fwd/model"
	"portfwd/fwd/store"
)

var daoLogLog = logx.New(logx.WithPrefix("dao.log"))

// LogDao 基于 gorm 的 store.LogStore：每个日期一张表 conn_log_<YYYY_MM_DD>
type LogDao struct {
	d *db.DB

	// 分表存在性：本地缓存 + singleflight 抑制并发 ensure
	ensuredDays sync.Map
	sf          singleflight.Group
}

func NewLogDao(d *db.DB) *LogDao {
	return &LogDao{d: d}
}

func (l *LogDao) ensureOnce(dateKey string) error {
	if _, ok := l.ensuredDays.Load(dateKey); ok {
		return nil
	}
	_, err, _ := l.sf.Do(dateKey, func() (any, error) {
		if _, ok := l.ensuredDays.Load(dateKey); ok {
			return nil, nil
		}
		if err := db.EnsureLogTable(l.d, dateKey); err != nil {
			return nil, err
		}
		l.ensuredDays.Store(dateKey, struct{}{})
		daoLogLog.Debugf("ensure ok table=%s", model.LogTable(dateKey))
		return nil, nil
	})
	return err
}

func (l *LogDao) AppendOrUpdate(dateKey string, e model.LogEntry) error {
	if !ttime.IsDateKey(dateKey) {
		return fmt.Errorf("bad date key %q", dateKey)
	}
	if err := l.ensureOnce(dateKey); err != nil {
		return fmt.Errorf("%w: %v", store.ErrPersist, err)
	}
	tbl := model.LogTable(dateKey)
	err := l.upsert(tbl, &e)
	if err != nil && !l.d.GormDataSource.Migrator().HasTable(tbl) {
		// 分表被其他进程删除（如 purge）：缓存失效，重建后重试一次
		daoLogLog.Warnf("table %s vanished, recreating", tbl)
		l.ensuredDays.Delete(dateKey)
		if err = l.ensureOnce(dateKey); err == nil {
			err = l.upsert(tbl, &e)
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrPersist, err)
	}
	return nil
}

func (l *LogDao) upsert(tbl string, e *model.LogEntry) error {
	return l.d.GormDataSource.Table(tbl).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(e).Error
}

func (l *LogDao) Read(dateKey string) ([]model.LogEntry, error) {
	if !ttime.IsDateKey(dateKey) {
		return nil, fmt.Errorf("bad date key %q", dateKey)
	}
	tbl := model.LogTable(dateKey)
	out := []model.LogEntry{}
	if !l.d.GormDataSource.Migrator().HasTable(tbl) {
		return out, nil
	}
	if err := l.d.GormDataSource.Table(tbl).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (l *LogDao) Partitions() ([]string, error) {
	tables, err := l.d.GormDataSource.Migrator().GetTables()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, t := range tables {
		if !strings.HasPrefix(t, model.LogTablePrefix) {
			continue
		}
		if k := strings.TrimPrefix(t, model.LogTablePrefix); ttime.IsDateKey(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (l *LogDao) Recent(limit int) ([]model.LogEntry, error) {
	parts, err := l.Partitions()
	if err != nil {
		return nil, err
	}
	return store.CollectRecent(parts, l.Read, limit)
}

func (l *LogDao) Drop(dateKey string) (bool, error) {
	if !ttime.IsDateKey(dateKey) {
		return false, fmt.Errorf("bad date key %q", dateKey)
	}
	tbl := model.LogTable(dateKey)
	m := l.d.GormDataSource.Migrator()
	if !m.HasTable(tbl) {
		return false, nil
	}
	if err := m.DropTable(tbl); err != nil {
		return false, err
	}
	l.ensuredDays.Delete(dateKey)
	return true, nil
}

func (l *LogDao) Close() error { return nil }

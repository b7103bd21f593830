// Package store 定义规则库与连接日志库的契约，以及两种实现共用的算法。
package store

import (
	"errors"
	"sort"

	"portfwd/fwd/model"
)

var ErrNotFound = errors.New("record not found")

// RuleStore 规则的持久化记录，进程内唯一可信来源。
// 每次变更后整份结构持久化；并发变更由调用方串行化。
type RuleStore interface {
	List() ([]model.ForwardRule, error)
	Get(id int64) (model.ForwardRule, error)
	Create(f model.RuleFields) (model.ForwardRule, error)
	Update(id int64, f model.RuleFields) (model.ForwardRule, error)
	Delete(id int64) (bool, error)
	Close() error
}

// LogStore 按日期分区（YYYY_MM_DD）的连接日志
type LogStore interface {
	AppendOrUpdate(dateKey string, e model.LogEntry) error
	Read(dateKey string) ([]model.LogEntry, error)
	Recent(limit int) ([]model.LogEntry, error)
	// Partitions 已存在的分区键，升序
	Partitions() ([]string, error)
	Drop(dateKey string) (bool, error)
	Close() error
}

// NextRuleId max(id)+1，空集为 1
func NextRuleId(rules []model.ForwardRule) int64 {
	var max int64
	for _, r := range rules {
		if r.Id > max {
			max = r.Id
		}
	}
	return max + 1
}

// NextLogId 分区内 max(id)+1，空分区为 1
func NextLogId(logs []model.LogEntry) int64 {
	var max int64
	for _, l := range logs {
		if l.Id > max {
			max = l.Id
		}
	}
	return max + 1
}

// Upsert 同 id 替换，否则追加
func Upsert(logs []model.LogEntry, e model.LogEntry) []model.LogEntry {
	for i := range logs {
		if logs[i].Id == e.Id {
			logs[i] = e
			return logs
		}
	}
	return append(logs, e)
}

// CollectRecent 按分区倒序整块读取，凑够 limit 条即停（可能超出），
// 然后全体按时间倒序排序并截断到 limit。
func CollectRecent(partitions []string, read func(dateKey string) ([]model.LogEntry, error), limit int) ([]model.LogEntry, error) {
	if limit <= 0 {
		return []model.LogEntry{}, nil
	}
	keys := append([]string(nil), partitions...)
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	all := make([]model.LogEntry, 0, limit)
	for _, k := range keys {
		logs, err := read(k)
		if err != nil {
			return nil, err
		}
		all = append(all, logs...)
		if len(all) >= limit {
			break
		}
	}
	SortByTimeDesc(all)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func SortByTimeDesc(logs []model.LogEntry) {
	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].Timestamp.After(logs[j].Timestamp)
	})
}

// ErrPersist 落盘失败：内存态已变更且不回滚，下次成功写入或重启后自愈
var ErrPersist = errors.New("persist failed")

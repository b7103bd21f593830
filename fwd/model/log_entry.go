package model

import (
	"fmt"
	"time"
)

// LogEntry 一次连接一条；id 只在所属日期分区内唯一
type LogEntry struct {
	Id               int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	ForwardId        int64     `gorm:"column:forward_id" json:"forward_id"`
	ClientIp         string    `gorm:"column:client_ip" json:"client_ip"`
	Timestamp        time.Time `gorm:"column:timestamp" json:"timestamp"`
	BytesTransferred int64     `gorm:"column:bytes_transferred" json:"bytes_transferred"`
}

const LogTablePrefix = "conn_log_"

func LogTable(dateKey string) string {
	return fmt.Sprintf("%s%s", LogTablePrefix, dateKey) // e.g. conn_log_2025_10_15
}

// RecentLog 日志 + 规则信息；规则已删除时用占位值
type RecentLog struct {
	LogEntry
	Name       string `json:"name"`
	SourcePort int    `json:"source_port"`
	TargetHost string `json:"target_host"`
	TargetPort int    `json:"target_port"`
}

const (
	UnknownRuleName = "unknown rule"
	UnknownHost     = "unknown host"
)

func Enrich(e LogEntry, r *ForwardRule) RecentLog {
	if r == nil {
		return RecentLog{LogEntry: e, Name: UnknownRuleName, TargetHost: UnknownHost}
	}
	return RecentLog{
		LogEntry:   e,
		Name:       r.Name,
		SourcePort: r.SourcePort,
		TargetHost: r.TargetHost,
		TargetPort: r.TargetPort,
	}
}

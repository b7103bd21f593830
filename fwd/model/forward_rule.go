package model

import (
	"time"

	"portfwd/fwd/common"
)

type ForwardRule struct {
	Id         int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	Name       string    `gorm:"column:name" json:"name"`
	SourcePort int       `gorm:"column:source_port;index" json:"source_port"`
	TargetHost string    `gorm:"column:target_host" json:"target_host"`
	TargetPort int       `gorm:"column:target_port" json:"target_port"`
	Enabled    bool      `gorm:"column:enabled" json:"enabled"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
}

func (ForwardRule) TableName() string { return "forward_rule" }

func (r ForwardRule) Target() string { return common.JoinTarget(r.TargetHost, r.TargetPort) }

// RuleFields 创建/更新时由调用方给出的可变字段
type RuleFields struct {
	Name       string
	SourcePort int
	TargetHost string
	TargetPort int
	Enabled    bool
}

func (f RuleFields) Apply(r *ForwardRule) {
	r.Name = f.Name
	r.SourcePort = f.SourcePort
	r.TargetHost = f.TargetHost
	r.TargetPort = f.TargetPort
	r.Enabled = f.Enabled
}

func FieldsOf(r ForwardRule) RuleFields {
	return RuleFields{
		Name:       r.Name,
		SourcePort: r.SourcePort,
		TargetHost: r.TargetHost,
		TargetPort: r.TargetPort,
		Enabled:    r.Enabled,
	}
}

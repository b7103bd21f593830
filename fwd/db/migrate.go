package db

import (
	"fmt"

	"portfwd/fwd/model"
)

// MigrateRules 规则表
func MigrateRules(d *DB) error {
	if err := d.GormDataSource.AutoMigrate(&model.ForwardRule{}); err != nil {
		return fmt.Errorf("migrate %s: %w", model.ForwardRule{}.TableName(), err)
	}
	return nil
}

// EnsureLogTable 按日建分表；dateKey 示例："2025_10_15"
func EnsureLogTable(d *DB, dateKey string) error {
	tbl := model.LogTable(dateKey)
	g := d.GormDataSource
	if g.Migrator().HasTable(tbl) {
		return nil
	}
	if err := g.Table(tbl).AutoMigrate(&model.LogEntry{}); err != nil {
		return fmt.Errorf("create %s: %w", tbl, err)
	}
	idx := fmt.Sprintf("idx_%s_fwd_ip_time", tbl)
	sql := fmt.Sprintf("CREATE INDEX %s ON %s (forward_id, client_ip, timestamp)", idx, tbl)
	if d.Driver != "mysql" {
		sql = fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (forward_id, client_ip, timestamp)", idx, tbl)
	}
	return g.Exec(sql).Error
}

package dao

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"portfwd/fwd/db"
	"portfwd/fwd/model"
	"portfwd/fwd/store"
)

// RuleDao 基于 gorm 的 store.RuleStore；id 在事务内按 max+1 分配
type RuleDao struct {
	d   *db.DB
	now func() time.Time
}

func NewRuleDao(d *db.DB) (*RuleDao, error) {
	if err := db.MigrateRules(d); err != nil {
		return nil, err
	}
	return &RuleDao{d: d, now: time.Now}, nil
}

func (r *RuleDao) List() ([]model.ForwardRule, error) {
	var out []model.ForwardRule
	if err := r.d.GormDataSource.Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Get 不存在返回 store.ErrNotFound
func (r *RuleDao) Get(id int64) (model.ForwardRule, error) {
	var out model.ForwardRule
	err := r.d.GormDataSource.Where("id = ?", id).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return out, store.ErrNotFound
	}
	return out, err
}

func (r *RuleDao) Create(f model.RuleFields) (model.ForwardRule, error) {
	var out model.ForwardRule
	err := r.d.GormDataSource.Transaction(func(tx *gorm.DB) error {
		var max int64
		if err := tx.Model(&model.ForwardRule{}).Select("COALESCE(MAX(id), 0)").Scan(&max).Error; err != nil {
			return err
		}
		out = model.ForwardRule{Id: max + 1, CreatedAt: r.now()}
		f.Apply(&out)
		return tx.Create(&out).Error
	})
	if err != nil {
		return model.ForwardRule{}, fmt.Errorf("%w: %v", store.ErrPersist, err)
	}
	return out, nil
}

func (r *RuleDao) Update(id int64, f model.RuleFields) (model.ForwardRule, error) {
	tx := r.d.GormDataSource.Model(&model.ForwardRule{}).Where("id = ?", id).Updates(map[string]any{
		"name":        f.Name,
		"source_port": f.SourcePort,
		"target_host": f.TargetHost,
		"target_port": f.TargetPort,
		"enabled":     f.Enabled,
	})
	if tx.Error != nil {
		return model.ForwardRule{}, fmt.Errorf("%w: %v", store.ErrPersist, tx.Error)
	}
	// MySQL 值未变化时 RowsAffected 为 0，回读确认是否存在
	return r.Get(id)
}

func (r *RuleDao) Delete(id int64) (bool, error) {
	tx := r.d.GormDataSource.Where("id = ?", id).Delete(&model.ForwardRule{})
	if tx.Error != nil {
		return false, fmt.Errorf("%w: %v", store.ErrPersist, tx.Error)
	}
	return tx.RowsAffected > 0, nil
}

func (r *RuleDao) Close() error { return nil }

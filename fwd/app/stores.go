package app

import (
	"errors"
	"fmt"

	"portfwd/fwd/common/config"
	"portfwd/fwd/db"
	"portfwd/fwd/db/dao"
	"portfwd/fwd/store"
	"portfwd/fwd/store/filestore"
)

// Stores 按 storage.driver 打开的规则库与日志库
type Stores struct {
	Rules store.RuleStore
	Logs  store.LogStore
	DB    *db.DB // 仅 sqlite/mysql
}

func OpenStores(c config.Storage) (*Stores, error) {
	switch c.Driver {
	case "file", "":
		rs, err := filestore.OpenRuleStore(c.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open rule store: %w", err)
		}
		ls, err := filestore.OpenLogStore(c.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open log store: %w", err)
		}
		return &Stores{Rules: rs, Logs: ls}, nil
	default:
		d, err := db.OpenGorm(c.Driver, c.DSN, c.Pool)
		if err != nil {
			return nil, fmt.Errorf("open %s db: %w", c.Driver, err)
		}
		rs, err := dao.NewRuleDao(d)
		if err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("auto-migrate rules: %w", err)
		}
		return &Stores{Rules: rs, Logs: dao.NewLogDao(d), DB: d}, nil
	}
}

func (s *Stores) Close() error {
	errs := []error{s.Rules.Close(), s.Logs.Close()}
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}
	return errors.Join(errs...)
}

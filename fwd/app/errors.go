package app

import (
	"errors"
	"fmt"

	"portfwd/fwd/store"
)

// ValidationError 字段不合法；在任何存储变更之前拒绝
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Msg }

type NotFoundError struct {
	Id int64
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("forward rule %d not found", e.Id) }

// PersistenceError 落盘失败；内存态已变更，不回滚
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

func storeErr(op string, id int64, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Id: id}
	}
	return &PersistenceError{Op: op, Err: err}
}

package keylock

import "sync"

// Map 按 key 分配互斥锁，同一 key 的操作串行、不同 key 互不阻塞。
// 锁对象创建后不回收，key 空间需有限（规则 id、日期分区）。
type Map[K comparable] struct {
	mu sync.Mutex
	m  map[K]*sync.Mutex
}

func New[K comparable]() *Map[K] {
	return &Map[K]{m: make(map[K]*sync.Mutex)}
}

// Lock 加锁并返回解锁函数
func (km *Map[K]) Lock(key K) func() {
	km.mu.Lock()
	lk, ok := km.m[key]
	if !ok {
		lk = &sync.Mutex{}
		km.m[key] = lk
	}
	km.mu.Unlock()
	lk.Lock()
	return lk.Unlock
}

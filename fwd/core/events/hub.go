// Package events 连接事件的进程内广播；慢订阅者丢事件，不反压发布方
package events

import (
	"sync"

	"portfwd/fwd/model"
)

type Kind string

const (
	KindConnect Kind = "connect"
	KindClose   Kind = "close"
)

type LogEvent struct {
	Kind       Kind           `json:"kind"`
	ConnId     string         `json:"conn_id,omitempty"`
	Entry      model.LogEntry `json:"entry"`
	AddedBytes int64          `json:"added_bytes,omitempty"`
}

type Hub struct {
	mu     sync.RWMutex
	subs   map[chan LogEvent]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan LogEvent]struct{})}
}

// Subscribe 返回事件通道与取消函数；buf 为通道缓冲
func (h *Hub) Subscribe(buf int) (<-chan LogEvent, func()) {
	if buf <= 0 {
		buf = 64
	}
	ch := make(chan LogEvent, buf)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Publish(ev LogEvent) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close 关闭全部订阅通道
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}

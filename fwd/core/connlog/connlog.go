// Package connlog 连接生命周期日志：accept 时建一条，客户端关闭时补字节数
package connlog

import (
	"fmt"
	"time"

	"portfwd/fwd/common/keylock"
	"portfwd/fwd/common/logx"
	"portfwd/fwd/common/metrics"
	"portfwd/fwd/common/ttime"
	"portfwd/fwd/core/events"
	"portfwd/fwd/model"
	"portfwd/fwd/store"
)

type Logger struct {
	store   store.LogStore
	locks   *keylock.Map[string] // 按日期分区串行化读改写
	hub     *events.Hub
	metrics *metrics.Metrics
	log     *logx.Logger

	now func() time.Time
	loc *time.Location
}

type Option func(*Logger)

func WithClock(now func() time.Time) Option  { return func(l *Logger) { l.now = now } }
func WithLocation(loc *time.Location) Option { return func(l *Logger) { l.loc = loc } }
func WithHub(h *events.Hub) Option           { return func(l *Logger) { l.hub = h } }
func WithMetrics(m *metrics.Metrics) Option  { return func(l *Logger) { l.metrics = m } }

func New(s store.LogStore, opts ...Option) *Logger {
	l := &Logger{
		store: s,
		locks: keylock.New[string](),
		log:   logx.New(logx.WithPrefix("connlog")),
		now:   time.Now,
		loc:   time.Local,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Logger) DateKey() string { return ttime.DateKey(l.now(), l.loc) }

// OnConnect 在当天分区追加一条 bytes=0 的记录，返回作为本连接的句柄
func (l *Logger) OnConnect(forwardID int64, clientIP string) (model.LogEntry, error) {
	return l.OnConnectConn("", forwardID, clientIP)
}

// OnConnectConn 同 OnConnect，connID 仅用于日志与事件
func (l *Logger) OnConnectConn(connID string, forwardID int64, clientIP string) (model.LogEntry, error) {
	now := l.now()
	key := ttime.DateKey(now, l.loc)

	unlock := l.locks.Lock(key)
	defer unlock()

	logs, err := l.store.Read(key)
	if err != nil {
		l.failed()
		return model.LogEntry{}, fmt.Errorf("read partition %s: %w", key, err)
	}
	e := model.LogEntry{
		Id:        store.NextLogId(logs),
		ForwardId: forwardID,
		ClientIp:  clientIP,
		Timestamp: now,
	}
	if err := l.store.AppendOrUpdate(key, e); err != nil {
		l.failed()
		return model.LogEntry{}, fmt.Errorf("append partition %s: %w", key, err)
	}
	l.log.Debugf("[forward %d] connect %s conn=%s -> log %s#%d", forwardID, clientIP, connID, key, e.Id)
	if l.metrics != nil {
		l.metrics.Connections.WithLabelValues(metrics.Label(forwardID)).Inc()
	}
	l.hub.Publish(events.LogEvent{Kind: events.KindConnect, ConnId: connID, Entry: e})
	return e, nil
}

// OnClose 重新读取“当前日期”的分区，按时间倒序找最近一条 {forward_id, client_ip}
// 相同的记录累加字节。跨零点的连接在新分区里找不到记录，只记告警。
// 错误只记日志，不返回给 relay。
func (l *Logger) OnClose(entry model.LogEntry, added int64) {
	l.OnCloseConn("", entry, added)
}

// OnCloseConn 同 OnClose，connID 仅用于日志与事件
func (l *Logger) OnCloseConn(connID string, entry model.LogEntry, added int64) {
	if added < 0 {
		added = 0
	}
	key := l.DateKey()

	unlock := l.locks.Lock(key)
	defer unlock()

	logs, err := l.store.Read(key)
	if err != nil {
		l.failed()
		l.log.Errorf("[forward %d] read partition %s on close: %v", entry.ForwardId, key, err)
		return
	}
	store.SortByTimeDesc(logs)
	idx := -1
	for i := range logs {
		if logs[i].ForwardId == entry.ForwardId && logs[i].ClientIp == entry.ClientIp {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.log.Warnf("[forward %d] no log entry for %s in %s, dropping %d bytes",
			entry.ForwardId, entry.ClientIp, key, added)
		return
	}
	upd := logs[idx]
	upd.BytesTransferred += added
	if err := l.store.AppendOrUpdate(key, upd); err != nil {
		l.failed()
		l.log.Errorf("[forward %d] update log %s#%d: %v", entry.ForwardId, key, upd.Id, err)
		return
	}
	l.log.Debugf("[forward %d] close %s conn=%s bytes=%d -> log %s#%d",
		entry.ForwardId, entry.ClientIp, connID, added, key, upd.Id)
	l.hub.Publish(events.LogEvent{Kind: events.KindClose, ConnId: connID, Entry: upd, AddedBytes: added})
}

func (l *Logger) failed() {
	if l.metrics != nil {
		l.metrics.LogWriteFailures.Inc()
	}
}

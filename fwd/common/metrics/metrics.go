// Package metrics 进程内 Prometheus 指标；使用独立 Registry，避免测试间互相污染
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

type Metrics struct {
	Registry *prometheus.Registry

	ActiveListeners   prometheus.Gauge
	ActiveConnections prometheus.Gauge
	Connections       *prometheus.CounterVec // forward_id
	BytesRelayed      *prometheus.CounterVec // forward_id
	BindFailures      prometheus.Counter
	DialFailures      *prometheus.CounterVec // forward_id
	LogWriteFailures  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ActiveListeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portfwd", Name: "active_listeners",
			Help: "Listeners currently bound by the forward registry.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portfwd", Name: "active_connections",
			Help: "Relayed connections currently open.",
		}),
		Connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portfwd", Name: "connections_total",
			Help: "Accepted client connections per forward rule.",
		}, []string{"forward_id"}),
		BytesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portfwd", Name: "bytes_relayed_total",
			Help: "Bytes relayed in both directions per forward rule.",
		}, []string{"forward_id"}),
		BindFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portfwd", Name: "bind_failures_total",
			Help: "Listener bind attempts that failed.",
		}),
		DialFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portfwd", Name: "dial_failures_total",
			Help: "Outbound target connects that failed per forward rule.",
		}, []string{"forward_id"}),
		LogWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portfwd", Name: "log_write_failures_total",
			Help: "Connection log writes that failed.",
		}),
	}
	m.Registry.MustRegister(
		m.ActiveListeners, m.ActiveConnections, m.Connections, m.BytesRelayed,
		m.BindFailures, m.DialFailures, m.LogWriteFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func Label(forwardID int64) string { return strconv.FormatInt(forwardID, 10) }

// Value 读取单值 Gauge/Counter 的当前值
func Value(m prometheus.Metric) float64 {
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		return 0
	}
	switch {
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	case out.Counter != nil:
		return out.Counter.GetValue()
	}
	return 0
}

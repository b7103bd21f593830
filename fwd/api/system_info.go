package api

import (
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// BuildVersion 可通过 -ldflags "-X 'portfwd/fwd/api.BuildVersion=1.2.3'" 注入
var BuildVersion = "latest"

type netSample struct {
	Rx uint64
	Tx uint64
}

type SysInfoResp struct {
	Timestamp int64 `json:"timestamp"`

	App struct {
		StartAt     int64  `json:"start_at"` // 应用启动时间(ms)
		Version     string `json:"version"`
		GoVersion   string `json:"go_version"`
		Goroutines  int    `json:"goroutines"`
		Rules       int    `json:"rules"`
		Listeners   int    `json:"listeners"`
		ActiveConns int    `json:"active_conns"`
		RSS         uint64 `json:"rss"`
	} `json:"app"`

	Host struct {
		Hostname      string `json:"hostname"`
		OS            string `json:"os"`
		Platform      string `json:"platform"`
		PlatformVer   string `json:"platform_version"`
		KernelVersion string `json:"kernel_version"`
		Arch          string `json:"arch"`
		Uptime        uint64 `json:"uptime"`
	} `json:"host"`

	CPU struct {
		ModelName  string  `json:"model_name"`
		Cores      int     `json:"cores"`
		UsageTotal float64 `json:"usage_total"`
		Load1      float64 `json:"load1"`
		Load5      float64 `json:"load5"`
		Load15     float64 `json:"load15"`
	} `json:"cpu"`

	Memory struct {
		Total       uint64  `json:"total"`
		Used        uint64  `json:"used"`
		UsedPercent float64 `json:"used_percent"`
		Free        uint64  `json:"free"`
	} `json:"memory"`

	NetTotal struct {
		RxBytes uint64 `json:"rx_bytes"`
		TxBytes uint64 `json:"tx_bytes"`
		RxBps   uint64 `json:"rx_bps"` // 两次采样间的速率
		TxBps   uint64 `json:"tx_bps"`
	} `json:"net_total"`
}

type SysMonitor struct {
	mu         sync.Mutex
	lastAt     time.Time
	lastTotal  netSample
	appStartAt time.Time
}

func NewSysMonitor() *SysMonitor {
	return &SysMonitor{lastAt: time.Now(), appStartAt: time.Now()}
}

// Snapshot 采集失败的项保持零值
func (m *SysMonitor) Snapshot() *SysInfoResp {
	now := time.Now()
	resp := &SysInfoResp{Timestamp: now.UnixMilli()}

	resp.App.StartAt = m.appStartAt.UnixMilli()
	resp.App.Version = BuildVersion
	resp.App.GoVersion = runtime.Version()
	resp.App.Goroutines = runtime.NumGoroutine()
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil && mi != nil {
			resp.App.RSS = mi.RSS
		}
	}

	if hi, err := host.Info(); err == nil && hi != nil {
		resp.Host.Hostname = hi.Hostname
		resp.Host.OS = hi.OS
		resp.Host.Platform = hi.Platform
		resp.Host.PlatformVer = hi.PlatformVersion
		resp.Host.KernelVersion = hi.KernelVersion
		resp.Host.Uptime = hi.Uptime
	}
	resp.Host.Arch = runtime.GOARCH

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		resp.CPU.ModelName = infos[0].ModelName
	}
	resp.CPU.Cores, _ = cpu.Counts(true)
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		resp.CPU.UsageTotal = pct[0]
	}
	if ld, err := load.Avg(); err == nil && ld != nil {
		resp.CPU.Load1, resp.CPU.Load5, resp.CPU.Load15 = ld.Load1, ld.Load5, ld.Load15
	}

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		resp.Memory.Total = vm.Total
		resp.Memory.Used = vm.Used
		resp.Memory.Free = vm.Available
		resp.Memory.UsedPercent = vm.UsedPercent
	}

	var cur netSample
	if stats, err := gnet.IOCounters(false); err == nil && len(stats) > 0 {
		cur = netSample{Rx: stats[0].BytesRecv, Tx: stats[0].BytesSent}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	elapsed := now.Sub(m.lastAt).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	resp.NetTotal.RxBytes, resp.NetTotal.TxBytes = cur.Rx, cur.Tx
	if cur.Rx >= m.lastTotal.Rx && m.lastTotal.Rx > 0 {
		resp.NetTotal.RxBps = uint64(float64(cur.Rx-m.lastTotal.Rx) / elapsed)
	}
	if cur.Tx >= m.lastTotal.Tx && m.lastTotal.Tx > 0 {
		resp.NetTotal.TxBps = uint64(float64(cur.Tx-m.lastTotal.Tx) / elapsed)
	}
	m.lastAt, m.lastTotal = now, cur
	return resp
}

func (s *Server) systemInfo(c *gin.Context) {
	resp := s.sys.Snapshot()
	if rules, err := s.App.ListRules(); err == nil {
		resp.App.Rules = len(rules)
	}
	resp.App.Listeners = len(s.App.Bindings())
	resp.App.ActiveConns = s.App.Registry.Tracker().Active()
	c.JSON(http.StatusOK, resp)
}

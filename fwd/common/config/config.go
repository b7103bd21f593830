package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"portfwd/fwd/common/logx"
)

const FallbackPath = "/etc/portfwd/config.yaml"

type DBPoolCfg struct {
	MaxOpen        int `yaml:"max_open"`
	MaxIdle        int `yaml:"max_idle"`
	MaxLifetimeSec int `yaml:"max_lifetime_sec"`
}

// Storage driver: file（默认，JSON 文档）| sqlite | mysql
type Storage struct {
	Driver  string    `yaml:"driver"`
	DataDir string    `yaml:"data_dir"`
	DSN     string    `yaml:"dsn"`
	Pool    DBPoolCfg `yaml:"pool"`
}

type Server struct {
	Listen string `yaml:"listen"`
	// 兼容旧配置：仅给端口时监听 127.0.0.1:<port>
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	// 按组件覆盖级别，key 为日志前缀（relay / listener / connlog ...）
	Components map[string]string `yaml:"components"`
}

type Relay struct {
	BindHost      string `yaml:"bind_host"`
	DialTimeoutMs int    `yaml:"dial_timeout_ms"` // 0 = 不超时
	MaxConns      int    `yaml:"max_conns"`       // 单监听并发上限，0 = 不限
}

func (r Relay) DialTimeout() time.Duration {
	return time.Duration(r.DialTimeoutMs) * time.Millisecond
}

// SeedForward 启动时同步到规则库的种子规则（只补充库里不存在的 source port）
type SeedForward struct {
	Name       string `yaml:"name"`
	SourcePort int    `yaml:"sourcePort"`
	TargetHost string `yaml:"targetHost"`
	TargetPort int    `yaml:"targetPort"`
	Enabled    bool   `yaml:"enabled"`
}

type Config struct {
	Server   Server        `yaml:"server"`
	Logging  Logging       `yaml:"logging"`
	Storage  Storage       `yaml:"storage"`
	Relay    Relay         `yaml:"relay"`
	Forwards []SeedForward `yaml:"forwards"`
}

var log = logx.New(logx.WithPrefix("config"))

// Load 先读指定路径，失败再读 FallbackPath。返回实际使用的路径。
func Load(p string) (*Config, string, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		log.Warnf("read %s: %v, trying %s", p, err, FallbackPath)
		p = FallbackPath
		b, err = os.ReadFile(p)
		if err != nil {
			return nil, p, fmt.Errorf("read config: %w", err)
		}
	}
	c, err := Parse(b)
	if err != nil {
		return nil, p, fmt.Errorf("parse %s: %w", p, err)
	}
	return c, p, nil
}

// Parse 解析 yaml 并补默认值、做基本校验
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Server.Listen) == "" {
		port := c.Server.Port
		if port == 0 {
			port = 3000
		}
		c.Server.Listen = net.JoinHostPort("127.0.0.1", fmt.Sprintf("%d", port))
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.Driver == "sqlite3" {
		c.Storage.Driver = "sqlite"
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		c.Storage.DataDir = "./logs"
	}
	if c.Storage.Driver == "sqlite" && strings.TrimSpace(c.Storage.DSN) == "" {
		c.Storage.DSN = "file:" + filepath.ToSlash(filepath.Join(c.Storage.DataDir, "portfwd.db")) +
			"?_busy_timeout=5000&_journal_mode=WAL"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "file", "sqlite":
	case "mysql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.New("storage.dsn required for mysql")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Relay.DialTimeoutMs < 0 || c.Relay.MaxConns < 0 {
		return errors.New("relay.dial_timeout_ms and relay.max_conns must be >= 0")
	}
	return nil
}

// EnsureDirForFileDSN 确保 file:DSN 的目录存在
func EnsureDirForFileDSN(dsn string) error {
	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || strings.HasPrefix(p, ":memory:") {
		return nil
	}
	return os.MkdirAll(filepath.Dir(p), 0o755)
}

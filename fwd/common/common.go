package common

import (
	"net"
	"net/netip"
	"strconv"
	"strings"
)

const (
	MinPort = 1
	MaxPort = 65535
)

func ValidPort(p int) bool { return p >= MinPort && p <= MaxPort }

// JoinTarget host:port（IPv6 自动加中括号）
func JoinTarget(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ListenAddr 监听地址；bindHost 为空时监听全部网卡
func ListenAddr(bindHost string, port int) string {
	return net.JoinHostPort(strings.TrimSpace(bindHost), strconv.Itoa(port))
}

// 从 net.Conn 取远端 IP
func RemoteIPFromConn(c net.Conn) string {
	if c == nil {
		return ""
	}
	return RemoteIPFromAddr(c.RemoteAddr())
}

func RemoteIPFromAddr(a net.Addr) string {
	if a == nil {
		return ""
	}
	switch v := a.(type) {
	case *net.TCPAddr:
		return NormalizeIP(v.IP.String())
	case *net.UDPAddr:
		return NormalizeIP(v.IP.String())
	}
	if ap, err := netip.ParseAddrPort(a.String()); err == nil {
		return NormalizeIP(ap.Addr().String())
	}
	s := strings.TrimPrefix(a.String(), "[")
	if i := strings.IndexByte(s, ']'); i >= 0 {
		return NormalizeIP(s[:i])
	}
	if i := strings.LastIndexByte(s, ':'); i > 0 {
		return NormalizeIP(s[:i])
	}
	return NormalizeIP(s)
}

// NormalizeIP 去空格；IPv4-mapped 地址（::ffff:a.b.c.d）还原为 IPv4
func NormalizeIP(s string) string {
	s = strings.TrimSpace(s)
	if ad, err := netip.ParseAddr(s); err == nil && ad.Is4In6() {
		return ad.Unmap().String()
	}
	return strings.TrimPrefix(s, "::ffff:")
}

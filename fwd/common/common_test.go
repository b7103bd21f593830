package common

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidPort(t *testing.T) {
	assert.False(t, ValidPort(0))
	assert.True(t, ValidPort(1))
	assert.True(t, ValidPort(65535))
	assert.False(t, ValidPort(65536))
	assert.False(t, ValidPort(-80))
}

func TestNormalizeIP(t *testing.T) {
	assert.Equal(t, "10.0.0.7", NormalizeIP("::ffff:10.0.0.7"))
	assert.Equal(t, "10.0.0.7", NormalizeIP(" 10.0.0.7 "))
	assert.Equal(t, "2001:db8::1", NormalizeIP("2001:db8::1"))
}

func TestRemoteIPFromAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1", RemoteIPFromAddr(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5555}))
	assert.Equal(t, "192.168.1.2", RemoteIPFromAddr(&net.TCPAddr{IP: net.ParseIP("::ffff:192.168.1.2"), Port: 1}))
	assert.Equal(t, "", RemoteIPFromAddr(nil))
}

func TestJoinTarget(t *testing.T) {
	assert.Equal(t, "example.com:80", JoinTarget("example.com", 80))
	assert.Equal(t, "[::1]:443", JoinTarget("::1", 443))
	assert.Equal(t, ":8080", ListenAddr("", 8080))
}

package logx

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevInfo, prevErr, prevLevel := appInfoW, appErrW, GetLevel()
	appInfoW, appErrW = &buf, &buf
	t.Cleanup(func() {
		appInfoW, appErrW = prevInfo, prevErr
		SetLevel(prevLevel)
		SetComponentLevels(nil)
	})
	return &buf
}

func TestComponentLevelOverridesGlobal(t *testing.T) {
	buf := capture(t)
	SetLevel(Info)
	SetComponentLevels(map[string]string{"relay": "trace", "api": "off"})

	relay := New(WithPrefix("relay"))
	api := New(WithPrefix("api"))
	other := New(WithPrefix("registry"))

	relay.Tracef("dial %s", "a:1")
	api.Errorf("hidden")
	other.Debugf("hidden")
	other.Infof("bound %d", 8080)

	out := buf.String()
	assert.Contains(t, out, "[TRACE] relay - dial a:1")
	assert.Contains(t, out, "[INFO] registry - bound 8080")
	assert.NotContains(t, out, "hidden")
}

func TestComponentLevelsCleared(t *testing.T) {
	buf := capture(t)
	SetLevel(Warn)
	SetComponentLevels(map[string]string{"connlog": "debug"})
	SetComponentLevels(nil)

	New(WithPrefix("connlog")).Debugf("hidden")
	New(WithPrefix("connlog")).Warnf("kept")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[WARN] connlog - kept")
}

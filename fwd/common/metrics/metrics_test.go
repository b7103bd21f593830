package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountersAreIsolated(t *testing.T) {
	a, b := New(), New()
	a.Connections.WithLabelValues(Label(7)).Inc()
	a.BytesRelayed.WithLabelValues(Label(7)).Add(150)

	assert.InDelta(t, 1, Value(a.Connections.WithLabelValues("7")), 0)
	assert.InDelta(t, 150, Value(a.BytesRelayed.WithLabelValues("7")), 0)
	assert.InDelta(t, 0, Value(b.Connections.WithLabelValues("7")), 0)
}

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfwd/fwd/model"
)

func TestPublishFanOut(t *testing.T) {
	h := NewHub()
	a, cancelA := h.Subscribe(4)
	b, cancelB := h.Subscribe(4)
	defer cancelA()
	defer cancelB()

	h.Publish(LogEvent{Kind: KindConnect, Entry: model.LogEntry{Id: 1}})
	assert.Equal(t, KindConnect, (<-a).Kind)
	assert.EqualValues(t, 1, (<-b).Entry.Id)
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe(1)
	defer cancel()
	h.Publish(LogEvent{Kind: KindConnect})
	h.Publish(LogEvent{Kind: KindClose})
	assert.Equal(t, KindConnect, (<-ch).Kind)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev)
	default:
	}
}

func TestCancelAndClose(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe(1)
	require.Equal(t, 1, h.Subscribers())
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers())

	ch2, _ := h.Subscribe(1)
	h.Close()
	_, ok = <-ch2
	assert.False(t, ok)

	ch3, _ := h.Subscribe(1)
	_, ok = <-ch3
	assert.False(t, ok)

	var nilHub *Hub
	nilHub.Publish(LogEvent{})
}

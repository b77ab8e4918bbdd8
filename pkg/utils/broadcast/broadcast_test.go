package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func recv(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("no value received")
		return 0
	}
}

func TestBroadcastServer_FanOut(t *testing.T) {
	source := make(chan int, 1)
	b := NewBroadcastServer("test", source)
	defer b.Close()

	first := b.Subscribe()
	second := b.Subscribe()
	source <- 42

	assert.Equal(t, 42, recv(t, first))
	assert.Equal(t, 42, recv(t, second))
}

func TestBroadcastServer_ReplayLatest(t *testing.T) {
	source := make(chan int, 1)
	b := NewBroadcastServer("test", source, WithReplayLatest[int]())
	defer b.Close()

	early := b.Subscribe()
	source <- 7
	assert.Equal(t, 7, recv(t, early))

	late := b.Subscribe()
	assert.Equal(t, 7, recv(t, late), "late subscriber sees the latest value")
}

func TestBroadcastServer_CancelSubscription(t *testing.T) {
	source := make(chan int, 1)
	b := NewBroadcastServer("test", source)
	defer b.Close()

	ch := b.Subscribe()
	b.CancelSubscription(ch)
	_, ok := <-ch
	assert.False(t, ok, "cancelled subscription channel is closed")
}

func TestBroadcastServer_ClosedSourceClosesListeners(t *testing.T) {
	source := make(chan int)
	b := NewBroadcastServer("test", source)

	ch := b.Subscribe()
	close(source)

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("listener not closed")
	}
}

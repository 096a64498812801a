package delivery

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFabricAnnouncesOnFirstPacket(t *testing.T) {
	f := NewFabric()
	defer f.Close()

	var mu sync.Mutex
	var announced []int
	f.OnOutputReady = func(idx int) {
		mu.Lock()
		announced = append(announced, idx)
		mu.Unlock()
	}

	f.EnableStream(0, 0, 0)

	f.InjectRTP(0, Packet{Payload: []byte{1}})
	f.InjectRTP(0, Packet{Payload: []byte{2}})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0}, announced)
}

func TestFabricDropsPacketsForUnknownStream(t *testing.T) {
	f := NewFabric()
	defer f.Close()

	require.NotPanics(t, func() {
		f.InjectRTP(5, Packet{Payload: []byte{1}})
		f.InjectRTCP(5, Packet{Payload: []byte{1}})
	})
}

func TestFabricFlush(t *testing.T) {
	f := NewFabric()
	defer f.Close()

	f.EnableStream(0, 0, 0)

	c := newRecordingConsumer()
	f.SetLinked(0, PlaneRTP, true, c)

	f.Flush()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.flushCount == 1
	}, time.Second, time.Millisecond)
}

package delivery

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingConsumer struct {
	mu         sync.Mutex
	accepted   []Packet
	flushCount int
	received   chan struct{}
}

func newRecordingConsumer() *recordingConsumer {
	return &recordingConsumer{received: make(chan struct{}, 64)}
}

func (c *recordingConsumer) Accept(p Packet) {
	c.mu.Lock()
	c.accepted = append(c.accepted, p)
	c.mu.Unlock()
	c.received <- struct{}{}
}

func (c *recordingConsumer) FlushStart() {
	c.mu.Lock()
	c.flushCount++
	c.mu.Unlock()
}

func (c *recordingConsumer) FlushStop() {}

func (c *recordingConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.accepted)
}

func TestEndpointZeroCopyFastPath(t *testing.T) {
	e := NewEndpoint(0, 0)
	defer e.Close()

	c := newRecordingConsumer()
	e.SetLinked(true, c)

	e.Inject(Packet{Payload: []byte{1, 2, 3}})

	select {
	case <-c.received:
	case <-time.After(time.Second):
		t.Fatal("packet not delivered")
	}
	require.Equal(t, 1, c.count())
}

func TestEndpointQueuesWhileUnlinked(t *testing.T) {
	e := NewEndpoint(0, 0)
	defer e.Close()

	for i := 0; i < 5; i++ {
		e.Inject(Packet{Payload: []byte{byte(i)}})
	}

	c := newRecordingConsumer()
	e.SetLinked(true, c)

	for i := 0; i < 5; i++ {
		select {
		case <-c.received:
		case <-time.After(time.Second):
			t.Fatalf("packet %d not drained", i)
		}
	}
	require.Equal(t, 5, c.count())
}

func TestEndpointDropsOldestOnOverflow(t *testing.T) {
	e := NewEndpoint(4, 0)
	defer e.Close()

	for i := 0; i < 10; i++ {
		e.Inject(Packet{Payload: []byte{byte(i)}})
	}

	require.Equal(t, uint64(6), e.Dropped())

	c := newRecordingConsumer()
	e.SetLinked(true, c)

	for i := 0; i < 4; i++ {
		<-c.received
	}
	require.Equal(t, 4, c.count())
	require.Equal(t, byte(6), c.accepted[0].Payload[0])
}

func TestEndpointFlush(t *testing.T) {
	e := NewEndpoint(0, 0)
	defer e.Close()

	c := newRecordingConsumer()
	e.SetLinked(true, c)

	e.Flush()
	require.Equal(t, 1, c.flushCount)
}

// Package delivery implements the delivery fabric (spec §4.6): one
// injection endpoint per MediaStream's RTP and RTCP sub-streams,
// feeding whatever jitter-buffer/demux stage the host pipeline links
// in, with a bounded drop-oldest queue and a zero-copy fast path.
package delivery

import "sync"

// default bounds, applied when an Endpoint is created with a zero
// value (spec §4.6: "≤1000 packets or ≤10 MB per endpoint, whichever
// hits first").
const (
	DefaultMaxPackets = 1000
	DefaultMaxBytes   = 10 * 1024 * 1024
)

// Packet is an opaque payload handed to an injection endpoint.
type Packet struct {
	Payload []byte
}

// Consumer receives packets from a linked Endpoint, and brackets a
// fabric-wide flush with FlushStart/FlushStop.
type Consumer interface {
	Accept(Packet)
	FlushStart()
	FlushStop()
}

// Endpoint is a single injection endpoint: one per MediaStream's RTP
// or RTCP plane.
type Endpoint struct {
	maxPackets int
	maxBytes   int

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Packet
	bytes    int
	dropped  uint64
	linked   bool
	consumer Consumer
	closed   bool

	done chan struct{}
}

// NewEndpoint allocates an Endpoint. maxPackets/maxBytes of 0 use the
// documented defaults.
func NewEndpoint(maxPackets, maxBytes int) *Endpoint {
	if maxPackets <= 0 {
		maxPackets = DefaultMaxPackets
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	e := &Endpoint{
		maxPackets: maxPackets,
		maxBytes:   maxBytes,
		done:       make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)

	go e.pump()

	return e
}

// SetLinked transitions the endpoint between unlinked and linked,
// attaching consumer. Going from unlinked to linked wakes the pump so
// any packets queued while unlinked start draining immediately.
func (e *Endpoint) SetLinked(linked bool, consumer Consumer) {
	e.mu.Lock()
	e.linked = linked
	e.consumer = consumer
	e.mu.Unlock()
	e.cond.Broadcast()
}

// Inject delivers a packet. When the consumer is linked and no packet
// is queued, it is handed to the consumer directly with no allocation
// or queueing (spec's zero-copy fast path). Otherwise it is enqueued,
// dropping the oldest queued packet first if that would exceed the
// bound.
func (e *Endpoint) Inject(p Packet) {
	e.mu.Lock()

	if e.linked && len(e.queue) == 0 {
		c := e.consumer
		e.mu.Unlock()
		c.Accept(p)
		return
	}

	e.queue = append(e.queue, p)
	e.bytes += len(p.Payload)

	for len(e.queue) > 0 && (len(e.queue) > e.maxPackets || e.bytes > e.maxBytes) {
		e.bytes -= len(e.queue[0].Payload)
		e.queue = e.queue[1:]
		e.dropped++
	}

	e.mu.Unlock()
	e.cond.Broadcast()
}

// Dropped returns the number of packets discarded by queue overflow.
func (e *Endpoint) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Flush synchronously brackets a flush-start/flush-stop pair through
// the linked consumer (if any), clears the queue and resets counters.
func (e *Endpoint) Flush() {
	e.mu.Lock()
	e.queue = nil
	e.bytes = 0
	e.dropped = 0
	c := e.consumer
	linked := e.linked
	e.mu.Unlock()

	if linked && c != nil {
		c.FlushStart()
		c.FlushStop()
	}
}

// Close stops the endpoint's pump goroutine.
func (e *Endpoint) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cond.Broadcast()
	<-e.done
}

func (e *Endpoint) pump() {
	defer close(e.done)

	for {
		e.mu.Lock()
		for !e.closed && (!e.linked || len(e.queue) == 0) {
			e.cond.Wait()
		}
		if e.closed {
			e.mu.Unlock()
			return
		}

		p := e.queue[0]
		e.queue = e.queue[1:]
		e.bytes -= len(p.Payload)
		c := e.consumer
		e.mu.Unlock()

		c.Accept(p)
	}
}

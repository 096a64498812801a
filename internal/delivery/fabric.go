package delivery

import (
	"sync"

	"github.com/rs/zerolog"
)

// Plane identifies which sub-stream of a MediaStream an endpoint
// carries.
type Plane int

const (
	PlaneRTP Plane = iota
	PlaneRTCP
)

type streamEndpoints struct {
	rtp       *Endpoint
	rtcp      *Endpoint
	announced bool
}

// Fabric owns the injection endpoints for every MediaStream (spec
// §4.6): one RTP and one RTCP Endpoint per stream, created once SETUP
// succeeds for that stream. The session flushes them on reconnection
// rather than tearing them down.
type Fabric struct {
	// OnOutputReady is called the first time a RTP packet is accepted
	// for a stream, so the element façade can announce its dynamic
	// output only once caps can be learned from real packets.
	OnOutputReady func(streamIndex int)

	mu      sync.Mutex
	streams map[int]*streamEndpoints
	log     zerolog.Logger
}

// NewFabric allocates an empty Fabric.
func NewFabric() *Fabric {
	return &Fabric{streams: make(map[int]*streamEndpoints), log: zerolog.Nop()}
}

// SetLogger attaches a logger for debug-level stream lifecycle events.
// Safe to call once, before the Fabric is shared across goroutines.
func (f *Fabric) SetLogger(log zerolog.Logger) {
	f.log = log
}

// EnableStream creates the RTP/RTCP endpoints for streamIndex. Must be
// called exactly once SETUP succeeds for that stream, and before any
// Inject call for it.
func (f *Fabric) EnableStream(streamIndex, maxPackets, maxBytes int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.streams[streamIndex]; ok {
		return
	}
	f.streams[streamIndex] = &streamEndpoints{
		rtp:  NewEndpoint(maxPackets, maxBytes),
		rtcp: NewEndpoint(maxPackets, maxBytes),
	}
	f.log.Debug().Int("stream", streamIndex).Msg("fabric: stream enabled")
}

// DisableStream tears down the endpoints for streamIndex.
func (f *Fabric) DisableStream(streamIndex int) {
	f.mu.Lock()
	se, ok := f.streams[streamIndex]
	if ok {
		delete(f.streams, streamIndex)
	}
	f.mu.Unlock()

	if ok {
		se.rtp.Close()
		se.rtcp.Close()
		f.log.Debug().Int("stream", streamIndex).Msg("fabric: stream disabled")
	}
}

// SetLinked attaches/detaches the downstream consumer for one plane of
// one stream.
func (f *Fabric) SetLinked(streamIndex int, plane Plane, linked bool, consumer Consumer) {
	f.mu.Lock()
	se, ok := f.streams[streamIndex]
	f.mu.Unlock()
	if !ok {
		return
	}

	if plane == PlaneRTP {
		se.rtp.SetLinked(linked, consumer)
	} else {
		se.rtcp.SetLinked(linked, consumer)
	}
}

// InjectRTP delivers a RTP packet for streamIndex, announcing the
// stream's dynamic output on first delivery.
func (f *Fabric) InjectRTP(streamIndex int, p Packet) {
	f.mu.Lock()
	se, ok := f.streams[streamIndex]
	if !ok {
		f.mu.Unlock()
		return
	}
	firstPacket := !se.announced
	se.announced = true
	f.mu.Unlock()

	if firstPacket && f.OnOutputReady != nil {
		f.OnOutputReady(streamIndex)
	}

	se.rtp.Inject(p)
}

// InjectRTCP delivers a RTCP packet for streamIndex.
func (f *Fabric) InjectRTCP(streamIndex int, p Packet) {
	f.mu.Lock()
	se, ok := f.streams[streamIndex]
	f.mu.Unlock()
	if !ok {
		return
	}
	se.rtcp.Inject(p)
}

// Flush synchronously flushes every enabled stream's endpoints,
// forgetting queued packets and downstream SSRC/sequence state. Used
// by the retry controller before resuming a session (spec §4.7).
func (f *Fabric) Flush() {
	f.mu.Lock()
	all := make([]*streamEndpoints, 0, len(f.streams))
	for _, se := range f.streams {
		all = append(all, se)
	}
	f.mu.Unlock()

	for _, se := range all {
		se.rtp.Flush()
		se.rtcp.Flush()
	}
	f.log.Debug().Int("streams", len(all)).Msg("fabric: flushed")
}

// Close tears down every stream's endpoints.
func (f *Fabric) Close() {
	f.mu.Lock()
	indices := make([]int, 0, len(f.streams))
	for idx := range f.streams {
		indices = append(indices, idx)
	}
	f.mu.Unlock()

	for _, idx := range indices {
		f.DisableStream(idx)
	}
}

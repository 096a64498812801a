// Package transport negotiates, per MediaStream, which lower transport
// carries its RTP/RTCP: TCP interleaved, UDP unicast, UDP multicast,
// an HTTP-tunneled pair of connections, or a WebSocket tunnel (spec
// §4.3/4.4, plus the WebSocket tunneling supplement).
package transport

import "net"

// Kind identifies which TransportDescriptor variant is active.
type Kind int

// transport descriptor kinds.
const (
	KindTCPInterleaved Kind = iota
	KindUDPUnicast
	KindUDPMulticast
	KindHTTPTunneled
	KindWSTunneled
)

func (k Kind) String() string {
	switch k {
	case KindTCPInterleaved:
		return "tcp-interleaved"
	case KindUDPUnicast:
		return "udp-unicast"
	case KindUDPMulticast:
		return "udp-multicast"
	case KindHTTPTunneled:
		return "http-tunneled"
	case KindWSTunneled:
		return "ws-tunneled"
	}
	return "unknown"
}

// Descriptor is the negotiated transport for one MediaStream.
type Descriptor struct {
	Kind Kind

	// TCP interleaved.
	RTPChannel  int
	RTCPChannel int

	// UDP unicast/multicast.
	LocalRTPConn  net.PacketConn
	LocalRTCPConn net.PacketConn
	RemoteRTPAddr *net.UDPAddr
	RemoteRTCPAddr *net.UDPAddr
	MulticastGroup net.IP
	TTL            int

	// HTTP/WebSocket tunnel: both planes run over the control
	// connection's own stream, there is nothing additional to store
	// here beyond the kind.
}

// IsUDP reports whether packets for this descriptor are carried over
// dedicated UDP sockets rather than the control connection.
func (d Descriptor) IsUDP() bool {
	return d.Kind == KindUDPUnicast || d.Kind == KindUDPMulticast
}

// Package rtspingest implements a RTSP 1.0 client source element core:
// it drives the RTSP 1.0 state machine, negotiates per-media transports
// (UDP unicast/multicast, TCP interleaved, HTTP tunnel, WebSocket
// tunnel), and feeds received RTP/RTCP into a delivery fabric the host
// pipeline consumes.
package rtspingest

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// LowerTransport is a transport the negotiator may select for a media
// stream, in priority order given by Config.Protocols.
type LowerTransport int

// lower transports; Config.Protocols gives the order they are tried in.
const (
	TransportUDPMulticast LowerTransport = iota
	TransportUDP
	TransportTCP
	TransportHTTP
)

// BufferMode selects how the delivery fabric paces output relative to
// the jitter buffer the host pipeline owns downstream.
type BufferMode int

// buffer modes.
const (
	BufferModeNone BufferMode = iota
	BufferModeSlave
	BufferModeBuffer
	BufferModeAuto
	BufferModeSynced
)

// RetryStrategy selects the backoff shape the retry controller applies
// between reconnection attempts (§4.7).
type RetryStrategy int

// retry strategies.
const (
	RetryNone RetryStrategy = iota
	RetryImmediate
	RetryLinear
	RetryExponential
	RetryExponentialJitter
	RetryAuto
	RetryAdaptive
)

// NATMethod selects how the client punches through NAT for UDP data
// planes.
type NATMethod int

// NAT traversal methods.
const (
	NATMethodNone NATMethod = iota
	NATMethodDummy
)

// Config holds every tunable of the ingest core. Each field documents
// its default, applied by WithDefaults; the zero value of Config is
// not directly usable and must be passed through WithDefaults (NewClient
// does this).
//
// Latency, DropOnLatency, BufferMode, Probation, NTPSync, RFC7273Sync,
// NTPTimeSource and IsLive are settings for the host's downstream
// pipeline: NewClient does not pass them to the session controller.
type Config struct {
	// Location is the target RTSP URL, including optional credentials.
	Location string

	// UserID/UserPW supply credentials when not embedded in Location.
	UserID string
	UserPW string

	// Protocols is the ordered priority of lower transports to try
	// during SETUP negotiation. Defaults to
	// [TransportUDP, TransportTCP] when Location carries no transport
	// hint in its scheme; a scheme hint (rtspu/rtspt/rtsph/rtspws...)
	// narrows this to a single entry.
	Protocols []LowerTransport

	// Latency is the downstream jitter buffer size, in milliseconds.
	Latency time.Duration

	// DropOnLatency drops packets exceeding Latency instead of
	// extending the buffer window.
	DropOnLatency bool

	// BufferMode selects the jitter buffer pacing strategy. Defaults
	// to BufferModeAuto.
	BufferMode BufferMode

	// Probation is the number of consecutive packets required from a
	// new SSRC before it replaces the tracked one. Defaults to 2.
	Probation int

	// DoRTCP enables RTCP receiver/sender report generation.
	// Defaults to true; set explicitly to disable.
	DoRTCP *bool

	// DoRetransmission is not passed to the session controller; the
	// core sends no RTCP retransmission (NACK) requests.
	DoRetransmission bool

	// MaxRTCPRTPTimeDiff is the maximum tolerated skew between RTCP
	// and RTP timestamps; -1 disables the check. Defaults to -1.
	MaxRTCPRTPTimeDiff time.Duration

	// DoRTSPKeepAlive enables the session keep-alive scheduler.
	// Defaults to true; set explicitly to disable.
	DoRTSPKeepAlive *bool

	// TCPTimeout bounds each TCP/TLS handshake and the connect race
	// (§4.4). Defaults to 10s.
	TCPTimeout time.Duration

	// TeardownTimeout bounds the TEARDOWN wait (§4.5). Defaults to 2s.
	TeardownTimeout time.Duration

	// Timeout is the per-request response timeout. Defaults to 10s.
	Timeout time.Duration

	// UDPReconnect is the data-plane inactivity window (§4.5, §4.6).
	// Defaults to 5s. It is passed to the session options, but the
	// session does not watch data-plane inactivity, so UDP silence
	// alone triggers no reconnect.
	UDPReconnect time.Duration

	// MulticastIface pins the interface used to join multicast groups.
	MulticastIface string

	// PortRange restricts UDP socket allocation to [PortRange[0],
	// PortRange[1]]; zero value lets the OS choose.
	PortRange [2]int

	// UDPBufferSize is the kernel receive buffer size for RTP/RTCP
	// sockets. Defaults to 0x80000 (matches gstreamer's rtspsrc). It is
	// passed to the session options, but the session does not apply it
	// to the sockets it opens.
	UDPBufferSize int

	// IsLive advertises the element as a live source to the host.
	// Defaults to true; set explicitly to disable.
	IsLive *bool

	// UserAgent is sent as the User-Agent header. Defaults to
	// "rtspingest".
	UserAgent string

	// ConnectionSpeed is a bandwidth hint (bits/sec) for stream
	// selection. It is not passed to the session controller and is not
	// sent to the server.
	ConnectionSpeed int

	// NTPSync/RFC7273Sync/NTPTimeSource select timing synchronization
	// policy for the downstream jitter buffer; the core does not pass
	// them on and does not itself perform NTP synchronization.
	NTPSync       bool
	RFC7273Sync   bool
	NTPTimeSource string

	// RTPBlocksize is a preferred RTP payload size. It is not passed to
	// the session controller and is not sent to the server.
	RTPBlocksize int

	// SDES carries Session Description items (currently "cname") added
	// to the RTCP receiver reports the session controller generates
	// when DoRTCP is enabled (internal/session's rtpreceiver wiring).
	SDES map[string]string

	// TLSConfig configures TLS-wrapped (rtsps/rtspsu/.../rtspwss)
	// connections.
	TLSConfig *tls.Config

	// Proxy is a "http://host:port" or "socks5://host:port" proxy the
	// connection racer dials through (§4.4 supplement).
	Proxy       string
	ProxyID     string
	ProxyPW     string
	ExtraHTTPRequestHeaders map[string]string

	// NATMethod selects the NAT traversal strategy for UDP data
	// planes. Defaults to NATMethodDummy (send a short burst of empty
	// packets to punch a hole once ports are known).
	NATMethod NATMethod

	// IgnoreXServerReply is passed to the session options. Describing
	// does not follow 3xx redirects (a non-200 DESCRIBE answer fails
	// the attempt), so the flag has no effect.
	IgnoreXServerReply bool

	// ForceNonCompliantURL is not passed to the session controller;
	// URL parsing is the same whether it is set or not.
	ForceNonCompliantURL bool

	// Backchannel is not passed to the session controller, which sets
	// up every media of the SDP answer, back-channel ones included.
	Backchannel bool

	// OnvifMode/OnvifRateControl tune ONVIF replay behavior. They are
	// not passed to the session controller, and PLAY carries no Range
	// header.
	OnvifMode         bool
	OnvifRateControl  bool

	// RetryStrategy, MaxReconnectionAttempts, ReconnectionTimeout,
	// InitialRetryDelay and LinearRetryStep configure the retry
	// controller (§4.7).
	RetryStrategy           RetryStrategy
	MaxReconnectionAttempts int
	ReconnectionTimeout     time.Duration
	InitialRetryDelay       time.Duration
	LinearRetryStep         time.Duration
	ExponentialBase         float64
	ExponentialJitterPct    float64

	// ConnectionRacing is passed to the session options but not read:
	// the resolved candidate addresses are always raced in parallel
	// (§4.4). MaxParallelConnections bounds K, the number of candidates
	// raced; RacingDelayMs staggers candidate starts; RacingTimeout
	// bounds the whole race (defaults to TCPTimeout if zero).
	ConnectionRacing       bool
	MaxParallelConnections int
	RacingDelayMs          time.Duration
	RacingTimeout          time.Duration
	RacingLastWins         bool

	// AdaptiveCacheDir overrides the per-user cache directory used to
	// persist the adaptive-retry record (§4.7, §6 Persisted state).
	// Empty uses os.UserCacheDir.
	AdaptiveCacheDir string

	// AdaptiveExploration is the fraction of attempts that ignore the
	// learned best strategy to keep exploring alternatives.
	// Defaults to 0.1.
	AdaptiveExploration float64

	// ZeroLatency is a composite preset: when true, BufferMode is
	// forced to BufferModeSlave, Latency to 0 and DropOnLatency to
	// true during WithDefaults, overriding any values the caller set.
	ZeroLatency bool

	// Logger is the ambient structured logger threaded into every
	// internal component. Defaults to a disabled logger.
	Logger zerolog.Logger

	// DialContext dials the TCP/TLS control connection. Defaults to
	// (&net.Dialer{}).DialContext.
	DialContext func(ctx context.Context, network, address string) (net.Conn, error)

	// ListenPacket opens UDP data-plane sockets. Defaults to
	// net.ListenPacket.
	ListenPacket func(network, address string) (net.PacketConn, error)
}

// WithDefaults returns a copy of c with every unset field populated
// with its documented default.
func (c Config) WithDefaults() Config {
	if c.Protocols == nil {
		c.Protocols = []LowerTransport{TransportUDP, TransportTCP}
	}
	if c.BufferMode == BufferModeNone && !c.ZeroLatency {
		c.BufferMode = BufferModeAuto
	}
	if c.Probation == 0 {
		c.Probation = 2
	}
	if c.MaxRTCPRTPTimeDiff == 0 {
		c.MaxRTCPRTPTimeDiff = -1
	}
	if c.TCPTimeout == 0 {
		c.TCPTimeout = 10 * time.Second
	}
	if c.TeardownTimeout == 0 {
		c.TeardownTimeout = 2 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.UDPReconnect == 0 {
		c.UDPReconnect = 5 * time.Second
	}
	if c.UDPBufferSize == 0 {
		c.UDPBufferSize = 0x80000
	}
	if c.UserAgent == "" {
		c.UserAgent = "rtspingest"
	}
	if c.MaxReconnectionAttempts == 0 {
		c.MaxReconnectionAttempts = -1 // unlimited
	}
	if c.ReconnectionTimeout == 0 {
		c.ReconnectionTimeout = 30 * time.Second
	}
	if c.InitialRetryDelay == 0 {
		c.InitialRetryDelay = 200 * time.Millisecond
	}
	if c.LinearRetryStep == 0 {
		c.LinearRetryStep = 200 * time.Millisecond
	}
	if c.ExponentialBase == 0 {
		c.ExponentialBase = 2
	}
	if c.ExponentialJitterPct == 0 {
		c.ExponentialJitterPct = 0.2
	}
	if c.MaxParallelConnections == 0 {
		c.MaxParallelConnections = 2
	}
	if c.RacingDelayMs == 0 {
		c.RacingDelayMs = 200 * time.Millisecond
	}
	if c.RacingTimeout == 0 {
		c.RacingTimeout = c.TCPTimeout
	}
	if c.AdaptiveExploration == 0 {
		c.AdaptiveExploration = 0.1
	}
	if c.NATMethod == NATMethodNone {
		c.NATMethod = NATMethodDummy
	}

	if c.DoRTCP == nil {
		c.DoRTCP = boolPtr(true)
	}
	if c.IsLive == nil {
		c.IsLive = boolPtr(true)
	}
	if c.DoRTSPKeepAlive == nil {
		c.DoRTSPKeepAlive = boolPtr(true)
	}
	if c.DialContext == nil {
		c.DialContext = (&net.Dialer{}).DialContext
	}
	if c.ListenPacket == nil {
		c.ListenPacket = net.ListenPacket
	}

	if c.ZeroLatency {
		c.BufferMode = BufferModeSlave
		c.Latency = 0
		c.DropOnLatency = true
	}

	return c
}

func boolPtr(v bool) *bool { return &v }

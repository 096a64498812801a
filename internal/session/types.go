// Package session implements the RTSP session state machine and
// controller (spec §4.5): it drives OPTIONS/DESCRIBE/SETUP/PLAY/PAUSE/
// TEARDOWN over a single serialized control connection, tracks the
// session id and keep-alive schedule, and feeds the delivery fabric.
package session

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/rtspcore/rtspingest/internal/racer"
	"github.com/rtspcore/rtspingest/internal/retry"
	"github.com/rtspcore/rtspingest/internal/transport"
	"github.com/rtspcore/rtspingest/pkg/description"
	"github.com/rtspcore/rtspingest/pkg/rtpreceiver"
)

// State is a session controller state (spec §4.5).
type State int

// session controller states.
const (
	StateNull State = iota
	StateResolving
	StateConnecting
	StateDescribing
	StateAuthenticating
	StateSettingUp
	StateReady
	StatePlaying
	StatePaused
	StateReconnecting
	StateTearingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateResolving:
		return "resolving"
	case StateConnecting:
		return "connecting"
	case StateDescribing:
		return "describing"
	case StateAuthenticating:
		return "authenticating"
	case StateSettingUp:
		return "settingUp"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateReconnecting:
		return "reconnecting"
	case StateTearingDown:
		return "tearingDown"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Options configures a Session. It is a flattened, import-cycle-free
// view of the root Config assembled by the element façade.
type Options struct {
	URL    string
	UserID string
	UserPW string

	// LowerTransports is the ordered candidate lower-transport priority
	// the transport negotiator tries per media, as the root package's
	// LowerTransport int ordinals (see transport.Candidates).
	LowerTransports []int

	TCPTimeout      time.Duration
	TeardownTimeout time.Duration
	Timeout         time.Duration
	UDPReconnect    time.Duration

	PortRangeLow, PortRangeHigh int
	UDPBufferSize               int
	MulticastIface              string

	UserAgent       string
	DoRTCP          bool
	DoRTSPKeepAlive bool

	// NATPunch enables the dummy-packet NAT-traversal burst between
	// SETUP and PLAY for UDP-unicast streams (root Config's NATMethod).
	NATPunch bool

	// MaxRTCPRTPTimeDiff bounds the tolerated RTP/RTCP clock skew
	// (root Config field of the same name); negative disables it.
	MaxRTCPRTPTimeDiff time.Duration

	ConnectionRacing       bool
	MaxParallelConnections int
	RacingDelayMs          time.Duration
	RacingTimeout          time.Duration
	RacingLastWins         bool
	Proxy                  *racer.ProxyConfig

	TLSConfig    *tls.Config
	DialContext  func(ctx context.Context, network, address string) (net.Conn, error)
	ListenPacket func(network, address string) (net.PacketConn, error)

	RetryPolicy         retry.Policy
	AdaptiveCacheDir    string
	AdaptiveExploration float64

	Logger zerolog.Logger

	// SDES carries Session Description items; SDES["cname"] is added to
	// the generated RTCP receiver reports.
	SDES map[string]string

	// IgnoreXServerReply is not read: describe does not follow 3xx
	// redirects.
	IgnoreXServerReply bool

	// ServerRequestHook answers a server-initiated request (ANNOUNCE,
	// REDIRECT, GET_PARAMETER, SET_PARAMETER) received while playing.
	// A nil hook, or one returning status 0, yields 501 Not Implemented.
	ServerRequestHook func(method string, headers map[string][]string, body []byte) (status int, respBody []byte)

	// OnStateChange is called after every state transition.
	OnStateChange func(State)

	// OnOutputReady is called the first time a RTP packet is accepted
	// for a MediaStream.
	OnOutputReady func(streamIndex int, media *description.Media)
}

type streamState struct {
	index      int
	media      *description.Media
	descriptor transport.Descriptor
	enabled    bool

	// receiver generates RTCP receiver reports when Options.DoRTCP is
	// set; nil otherwise.
	receiver *rtpreceiver.Receiver
}

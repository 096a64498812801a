package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/rtspcore/rtspingest/internal/delivery"
	"github.com/rtspcore/rtspingest/internal/racer"
	"github.com/rtspcore/rtspingest/internal/retry"
	"github.com/rtspcore/rtspingest/internal/transport"
	"github.com/rtspcore/rtspingest/pkg/auth"
	"github.com/rtspcore/rtspingest/pkg/base"
	"github.com/rtspcore/rtspingest/pkg/bytecounter"
	"github.com/rtspcore/rtspingest/pkg/conn"
	"github.com/rtspcore/rtspingest/pkg/description"
	"github.com/rtspcore/rtspingest/pkg/headers"
	"github.com/rtspcore/rtspingest/pkg/liberrors"
	"github.com/rtspcore/rtspingest/pkg/multicast"
	"github.com/rtspcore/rtspingest/pkg/rtpreceiver"
	"github.com/rtspcore/rtspingest/pkg/sdp"
)

// countingConn wraps a control connection's net.Conn so every byte
// read/written is tallied through a shared bytecounter.ByteCounter.
type countingConn struct {
	net.Conn
	bc *bytecounter.ByteCounter
}

func (c *countingConn) Read(p []byte) (int, error)  { return c.bc.Read(p) }
func (c *countingConn) Write(p []byte) (int, error) { return c.bc.Write(p) }

// Session drives the RTSP 1.0 state machine against a single server
// (spec §4.5): connect, DESCRIBE, SETUP every selected media, then
// PLAY and serve until Stop is called or a fatal error occurs. Run
// reconnects on recoverable failures per opts.RetryPolicy instead of
// returning.
type Session struct {
	opts   Options
	Fabric *delivery.Fabric

	mu        sync.Mutex
	state     State
	stateHook func(State)

	url        *base.URL
	cc         *conn.ControlConnection
	authClient *auth.Client
	sessionID  string
	sessTimeout time.Duration
	cseq       int

	desc    *description.Session
	streams []*streamState

	pendingResponses chan *base.Response
	readerErrCh      chan error
	stopCh           chan struct{}

	// reqMu serializes do() calls: RTSP is not pipelined, so a
	// keep-alive GET_PARAMETER and a caller-triggered Pause/Resume must
	// never be in flight on the connection at the same time.
	reqMu sync.Mutex

	// bytesReceived/bytesSent tally control-connection traffic across
	// every dialed candidate (see countingConn); updated atomically.
	bytesReceived uint64
	bytesSent     uint64

	// reconnect bookkeeping for Run's loop (spec-equivalent of §4.7's
	// consecutive-failure counter). Only ever touched by the goroutine
	// executing Run/runOnce, which calls runOnce synchronously, so no
	// locking is needed.
	retryCtrl       *retry.Controller
	attemptCount    int
	attemptStrategy retry.Strategy
	connectedAt     time.Time

	// keepAliveFailures counts consecutive failed keep-alive requests
	// in serve(); reconnection is only triggered after two in a row
	// (spec §4.5).
	keepAliveFailures int
}

// Stats is a snapshot of control-connection byte counters.
type Stats struct {
	BytesReceived uint64
	BytesSent     uint64
}

// Stats returns the control connection's cumulative byte counters.
func (s *Session) Stats() Stats {
	return Stats{
		BytesReceived: atomic.LoadUint64(&s.bytesReceived),
		BytesSent:     atomic.LoadUint64(&s.bytesSent),
	}
}

// New allocates a Session. Call Run to drive it.
func New(opts Options) *Session {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRTCPRTPTimeDiff == 0 {
		opts.MaxRTCPRTPTimeDiff = -1
	}
	fabric := delivery.NewFabric()
	fabric.SetLogger(opts.Logger)
	s := &Session{
		opts:   opts,
		Fabric: fabric,
		state:  StateNull,
		stopCh: make(chan struct{}),
	}
	if opts.OnOutputReady != nil {
		fabric.OnOutputReady = func(streamIndex int) {
			var media *description.Media
			if medias := s.Medias(); streamIndex < len(medias) {
				media = medias[streamIndex]
			}
			opts.OnOutputReady(streamIndex, media)
		}
	}
	return s
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	hook := s.stateHook
	if hook == nil {
		hook = s.opts.OnStateChange
	}
	s.mu.Unlock()
	s.opts.Logger.Debug().Str("from", prev.String()).Str("to", st.String()).Msg("session: state transition")
	if hook != nil {
		hook(st)
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetOnStateChange overrides the state-change hook after construction.
func (s *Session) SetOnStateChange(hook func(State)) {
	s.mu.Lock()
	s.stateHook = hook
	s.mu.Unlock()
}

// Medias returns the media descriptions negotiated during DESCRIBE, or
// nil before DESCRIBE completes.
func (s *Session) Medias() []*description.Media {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.desc == nil {
		return nil
	}
	return s.desc.Medias
}

// Stop requests termination; Run returns liberrors.UserCancel once the
// current operation unwinds.
func (s *Session) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// Run drives the session to completion, reconnecting through
// internal/retry on recoverable failures.
func (s *Session) Run(ctx context.Context) error {
	u, err := base.ParseURL(s.opts.URL)
	if err != nil {
		return liberrors.ResolveError{Err: err}
	}
	s.url = u

	ctrl, ctrlErr := retry.NewController(s.opts.RetryPolicy, u.Host, s.opts.AdaptiveCacheDir, s.opts.AdaptiveExploration)
	if ctrlErr != nil {
		ctrl = nil
	} else {
		ctrl.SetLogger(s.opts.Logger)
	}
	s.retryCtrl = ctrl
	s.attemptCount = 0
	s.attemptStrategy = s.opts.RetryPolicy.Strategy

	lastProtocolErr := false
	for {
		s.connectedAt = time.Now()
		runErr := s.runOnce(ctx)
		if runErr == nil {
			return nil
		}
		if pe, ok := runErr.(liberrors.ProtocolError); ok {
			if lastProtocolErr {
				pe.Repeated = true
				runErr = pe
			}
			lastProtocolErr = true
		} else {
			lastProtocolErr = false
		}
		if _, ok := runErr.(liberrors.UserCancel); ok {
			s.setState(StateTerminated)
			return runErr
		}

		type recoverable interface{ Recoverable() bool }
		if rc, ok := runErr.(recoverable); ok && !rc.Recoverable() {
			s.setState(StateTerminated)
			return runErr
		}

		s.setState(StateReconnecting)
		s.Fabric.Flush()

		s.attemptCount++
		_, connectFail := runErr.(liberrors.ConnectError)
		uptime := time.Since(s.connectedAt)

		var delay time.Duration
		var ok bool
		if ctrl != nil {
			var strategy retry.Strategy
			var lastWins bool
			delay, strategy, lastWins, ok = ctrl.NextDelay(s.attemptCount)
			if ok {
				s.opts.RacingLastWins = lastWins
				s.attemptStrategy = strategy
				ctrl.RecordOutcome(strategy, false, connectFail, uptime)
				_ = ctrl.Persist()
			}
		} else {
			delay, ok = s.opts.RetryPolicy.NextDelay(s.attemptCount)
		}
		if !ok {
			s.opts.Logger.Debug().Int("attempt", s.attemptCount).Msg("session: retry budget exhausted, terminating")
			s.setState(StateTerminated)
			return runErr
		}

		s.opts.Logger.Debug().
			Int("attempt", s.attemptCount).
			Dur("delay", delay).
			Err(runErr).
			Msg("session: reconnecting after failure")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			s.setState(StateTerminated)
			return liberrors.UserCancel{}
		}
	}
}

func (s *Session) runOnce(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return liberrors.UserCancel{}
	default:
	}

	s.setState(StateConnecting)
	cc, err := s.connect(ctx)
	if err != nil {
		return err
	}
	s.cc = cc
	s.authClient = nil
	s.sessionID = ""
	s.cseq = 0

	s.pendingResponses = make(chan *base.Response, 1)
	s.readerErrCh = make(chan error, 1)
	readerDone := make(chan struct{})
	go s.readLoop(readerDone)

	defer func() {
		_ = s.cc.Close()
		<-readerDone
		for _, st := range s.streams {
			if st.receiver != nil {
				st.receiver.Close()
				st.receiver = nil
			}
		}
	}()

	s.setState(StateDescribing)
	if err := s.describe(ctx); err != nil {
		return err
	}

	s.setState(StateSettingUp)
	if err := s.setupStreams(ctx); err != nil {
		return err
	}

	if err := s.play(ctx); err != nil {
		return err
	}
	s.setState(StatePlaying)

	// Reaching Playing again means whatever strategy/delay got us here
	// worked, so the consecutive-failure counter resets to 0 (spec
	// §4.7 step 6): a long-lived stream that reconnects successfully
	// many times must never hit max-reconnection-attempts as a
	// lifetime cap.
	if s.attemptCount > 0 {
		if s.retryCtrl != nil {
			s.retryCtrl.RecordOutcome(s.attemptStrategy, true, false, time.Since(s.connectedAt))
			_ = s.retryCtrl.Persist()
		}
		s.attemptCount = 0
	}

	return s.serve(ctx)
}

// connect resolves candidate addresses and races them via
// internal/racer, or opens a HTTP/WebSocket tunnel directly when the
// URL scheme hints at one.
func (s *Session) connect(ctx context.Context) (*conn.ControlConnection, error) {
	host := s.url.Hostname()
	port := s.url.Port()
	if port == "" {
		port = "554"
	}

	rawDial := s.opts.DialContext
	if rawDial == nil {
		rawDial = (&net.Dialer{}).DialContext
	}
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		c, err := rawDial(ctx, network, address)
		if err != nil {
			return nil, err
		}
		return &countingConn{Conn: c, bc: bytecounter.New(c, &s.bytesReceived, &s.bytesSent, nil, nil)}, nil
	}

	switch s.url.TransportHint() {
	case base.LowerTransportHintHTTP:
		scheme := "http"
		if s.url.TLS() {
			scheme = "https"
		}
		s.opts.Logger.Debug().Str("scheme", scheme).Str("host", host).Msg("transport: dialing HTTP tunnel")
		t, err := transport.DialHTTPTunnel(ctx, dial, scheme, net.JoinHostPort(host, port), s.opts.UserAgent, s.opts.TLSConfig)
		if err != nil {
			s.opts.Logger.Debug().Err(err).Msg("transport: HTTP tunnel dial failed")
			return nil, liberrors.ConnectError{Err: err}
		}
		return conn.New(t), nil

	case base.LowerTransportHintWS:
		var tlsConfig = s.opts.TLSConfig
		if !s.url.TLS() {
			tlsConfig = nil
		} else if tlsConfig == nil {
			tlsConfig = &tls.Config{}
		}
		s.opts.Logger.Debug().Str("host", host).Msg("transport: dialing WebSocket tunnel")
		t, err := transport.DialWSTunnel(ctx, dial, net.JoinHostPort(host, port), tlsConfig)
		if err != nil {
			s.opts.Logger.Debug().Err(err).Msg("transport: WebSocket tunnel dial failed")
			return nil, liberrors.ConnectError{Err: err}
		}
		return conn.New(t), nil
	}

	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return nil, liberrors.ResolveError{Err: err}
	}

	candidates := make([]string, len(addrs))
	for i, a := range addrs {
		candidates[i] = net.JoinHostPort(a, port)
	}
	if n := s.opts.MaxParallelConnections; n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}

	racingTimeout := s.opts.RacingTimeout
	if racingTimeout == 0 {
		racingTimeout = s.opts.TCPTimeout
	}

	return racer.Race(ctx, racer.Options{
		Candidates:      candidates,
		TLS:             s.url.TLS(),
		TLSConfig:       s.opts.TLSConfig,
		LastWins:        s.opts.RacingLastWins,
		StabilityWindow: 500 * time.Millisecond,
		StaggerDelay:    s.opts.RacingDelayMs,
		Timeout:         racingTimeout,
		DialContext:     dial,
		Proxy:           s.opts.Proxy,
		Logger:          s.opts.Logger,
	})
}

// readLoop is the single reader of the control connection for the
// lifetime of one runOnce attempt: it dispatches responses to do(),
// interleaved frames to the delivery fabric, and server-initiated
// requests to opts.ServerRequestHook.
func (s *Session) readLoop(done chan struct{}) {
	defer close(done)

	for {
		recv, err := s.cc.ReadResponseOrInterleavedFrame()
		if err != nil {
			select {
			case s.readerErrCh <- liberrors.ProtocolError{Err: err}:
			default:
			}
			return
		}

		switch v := recv.(type) {
		case *base.Response:
			res := *v
			res.Header = cloneHeader(v.Header)
			res.Body = append([]byte(nil), v.Body...)
			select {
			case s.pendingResponses <- &res:
			default:
				// no request is waiting; drop (e.g. late response after timeout).
			}

		case *base.InterleavedFrame:
			s.routeInterleavedFrame(v.Channel, v.Payload)

		case *base.Request:
			s.handleServerRequest(v)
		}
	}
}

func cloneHeader(h base.Header) base.Header {
	out := make(base.Header, len(h))
	for k, v := range h {
		vv := make(base.HeaderValue, len(v))
		copy(vv, v)
		out[k] = vv
	}
	return out
}

func (s *Session) routeInterleavedFrame(channel int, payload []byte) {
	s.mu.Lock()
	var target *streamState
	var isRTCP bool
	for _, st := range s.streams {
		if st.descriptor.RTPChannel == channel {
			target = st
			isRTCP = false
			break
		}
		if st.descriptor.RTCPChannel == channel {
			target = st
			isRTCP = true
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		return
	}
	p := delivery.Packet{Payload: payload}
	if isRTCP {
		s.Fabric.InjectRTCP(target.index, p)
		s.feedRTCP(target, payload)
	} else {
		s.Fabric.InjectRTP(target.index, p)
		s.feedRTP(target, payload)
	}
}

// newReceiver builds the RTCP receiver-report generator for a
// just-set-up stream, wired to send reports back over the stream's
// negotiated transport.
func (s *Session) newReceiver(st *streamState) *rtpreceiver.Receiver {
	var clockRate int
	if f := st.media.PrimaryFormat(); f != nil {
		clockRate = int(f.ClockRate)
	}

	ssrc := rand.Uint32()
	rcv := &rtpreceiver.Receiver{
		ClockRate:          clockRate,
		LocalSSRC:          ssrc,
		Period:             5 * time.Second,
		MaxRTCPRTPTimeDiff: s.opts.MaxRTCPRTPTimeDiff,
		WritePacketRTCP: func(pkt rtcp.Packet) {
			s.sendRTCP(st, pkt)
			if cname, ok := s.opts.SDES["cname"]; ok {
				s.sendRTCP(st, &rtcp.SourceDescription{
					Chunks: []rtcp.SourceDescriptionChunk{{
						Source: ssrc,
						Items: []rtcp.SourceDescriptionItem{{
							Type: rtcp.SDESCNAME,
							Text: cname,
						}},
					}},
				})
			}
		},
	}
	if err := rcv.Initialize(); err != nil {
		return nil
	}
	return rcv
}

// feedRTP unmarshals a received RTP payload into the stream's receiver
// for loss/jitter tracking and receiver-report generation; delivery to
// the fabric above is unaffected by unmarshal failures.
func (s *Session) feedRTP(st *streamState, payload []byte) {
	if st.receiver == nil {
		return
	}
	var pkt rtp.Packet
	if err := pkt.Unmarshal(payload); err != nil {
		return
	}
	st.receiver.ProcessPacket2(&pkt, time.Now(), true)
}

// feedRTCP hands a received sender report to the stream's receiver so
// NTP/RTP timestamp correlation is available for PacketNTP.
func (s *Session) feedRTCP(st *streamState, payload []byte) {
	if st.receiver == nil {
		return
	}
	pkts, err := rtcp.Unmarshal(payload)
	if err != nil {
		return
	}
	for _, pkt := range pkts {
		if sr, ok := pkt.(*rtcp.SenderReport); ok {
			st.receiver.ProcessSenderReport(sr, time.Now())
			if st.receiver.RTCPRTPSkewDetected() {
				s.opts.Logger.Warn().Int("stream", st.index).Msg("RTP/RTCP clock skew exceeds max-rtcp-rtp-time-diff")
			}
		}
	}
}

// sendRTCP marshals and sends a RTCP packet on st's negotiated RTCP
// plane: a UDP datagram to the server for UDP transports, or an
// interleaved frame on the shared control connection otherwise.
func (s *Session) sendRTCP(st *streamState, pkt rtcp.Packet) {
	buf, err := pkt.Marshal()
	if err != nil {
		return
	}

	switch st.descriptor.Kind {
	case transport.KindUDPUnicast, transport.KindUDPMulticast:
		if st.descriptor.LocalRTCPConn != nil && st.descriptor.RemoteRTCPAddr != nil {
			_, _ = st.descriptor.LocalRTCPConn.WriteTo(buf, st.descriptor.RemoteRTCPAddr)
		}
	default:
		_ = s.cc.WriteInterleavedFrame(&base.InterleavedFrame{
			Channel: st.descriptor.RTCPChannel,
			Payload: buf,
		}, make([]byte, 0, len(buf)+4))
	}
}

func (s *Session) handleServerRequest(req *base.Request) {
	status := base.StatusNotImplemented
	var body []byte

	if s.opts.ServerRequestHook != nil {
		hdrs := make(map[string][]string, len(req.Header))
		for k, v := range req.Header {
			hdrs[k] = append([]string(nil), v...)
		}
		code, respBody := s.opts.ServerRequestHook(string(req.Method), hdrs, req.Content)
		if code != 0 {
			status = base.StatusCode(code)
			body = respBody
		}
	}

	res := base.Response{
		StatusCode: status,
		Header:     base.Header{},
		Body:       body,
	}
	if cseq, ok := req.Header["CSeq"]; ok {
		res.Header["CSeq"] = cseq
	}
	_ = s.cc.WriteResponse(&res)
}

// do sends a request and waits for its matched response, retrying
// once with Digest/Basic credentials on a 401 challenge.
func (s *Session) do(ctx context.Context, method base.Method, u *base.URL, extra base.Header, body []byte) (*base.Response, error) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	res, err := s.doOnce(ctx, method, u, extra, body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode == base.StatusUnauthorized {
		if s.authClient != nil {
			return nil, liberrors.AuthError{Err: fmt.Errorf("credentials rejected after authentication")}
		}

		wa, ok := res.Header["WWW-Authenticate"]
		if !ok {
			return nil, liberrors.AuthError{Err: fmt.Errorf("401 without WWW-Authenticate")}
		}

		user := s.url.User
		if user == nil && s.opts.UserID != "" {
			user = url.UserPassword(s.opts.UserID, s.opts.UserPW)
		}
		ac, err := auth.NewClient(wa, user)
		if err != nil {
			return nil, liberrors.AuthError{Err: err}
		}
		s.authClient = ac

		res, err = s.doOnce(ctx, method, u, extra, body)
		if err != nil {
			return nil, err
		}
		if res.StatusCode == base.StatusUnauthorized {
			return nil, liberrors.AuthError{Err: fmt.Errorf("credentials rejected")}
		}
	}

	if res.StatusCode != base.StatusOK {
		return res, liberrors.SessionError{
			StatusCode: res.StatusCode,
			Err:        fmt.Errorf("unexpected status: %d %s", res.StatusCode, res.StatusMessage),
		}
	}

	return res, nil
}

func (s *Session) doOnce(ctx context.Context, method base.Method, u *base.URL, extra base.Header, body []byte) (*base.Response, error) {
	s.cseq++

	hdr := base.Header{
		"CSeq":       base.HeaderValue{strconv.Itoa(s.cseq)},
		"User-Agent": base.HeaderValue{s.opts.UserAgent},
	}
	for k, v := range extra {
		hdr[k] = v
	}
	if s.sessionID != "" {
		hdr["Session"] = base.HeaderValue{s.sessionID}
	}
	if s.authClient != nil {
		hdr["Authorization"] = s.authClient.GenerateHeader(method, u)
	}

	req := &base.Request{
		Method:  method,
		URL:     u,
		Header:  hdr,
		Content: body,
	}

	timeout := s.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	_ = s.cc.SetWriteDeadline(time.Now().Add(timeout))
	if err := s.cc.WriteRequest(req); err != nil {
		return nil, liberrors.ProtocolError{Err: err}
	}

	select {
	case res := <-s.pendingResponses:
		return res, nil
	case err := <-s.readerErrCh:
		return nil, err
	case <-time.After(timeout):
		return nil, liberrors.SessionError{Err: fmt.Errorf("timed out waiting for %s response", method)}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.stopCh:
		return nil, liberrors.UserCancel{}
	}
}

// describe issues OPTIONS then DESCRIBE, parsing the SDP answer into
// s.desc. Session.Unmarshal does not set BaseURL, so it is set here
// from the response's Content-Base, falling back to Content-Location
// and then to the request URL.
func (s *Session) describe(ctx context.Context) error {
	if _, err := s.do(ctx, base.Options, s.url, nil, nil); err != nil {
		if _, ok := err.(liberrors.SessionError); !ok {
			return err
		}
		// servers that reject OPTIONS still usually answer DESCRIBE.
	}

	res, err := s.do(ctx, base.Describe, s.url, base.Header{
		"Accept": base.HeaderValue{"application/sdp"},
	}, nil)
	if err != nil {
		return err
	}

	ct, ok := res.Header["Content-Type"]
	if !ok || len(ct) == 0 || !strings.Contains(strings.ToLower(ct[0]), "application/sdp") {
		return liberrors.SdpError{Err: liberrors.ErrClientContentTypeUnsupported{CT: ct}}
	}

	var ssd sdp.SessionDescription
	if err := ssd.Unmarshal(res.Body); err != nil {
		return liberrors.SdpError{Err: err}
	}

	var desc description.Session
	if err := desc.Unmarshal(&ssd); err != nil {
		return liberrors.SdpError{Err: err}
	}

	baseURL := s.url
	if cb, ok := res.Header["Content-Base"]; ok && len(cb) > 0 {
		if u, err := base.ParseURL(cb[0]); err == nil {
			baseURL = u
		}
	} else if cl, ok := res.Header["Content-Location"]; ok && len(cl) > 0 {
		if u, err := base.ParseURL(cl[0]); err == nil {
			baseURL = u
		}
	}
	desc.BaseURL = baseURL

	s.mu.Lock()
	s.desc = &desc
	s.mu.Unlock()

	streams := make([]*streamState, len(desc.Medias))
	for i, m := range desc.Medias {
		streams[i] = &streamState{index: i, media: m}
	}
	s.streams = streams

	return nil
}

// setupStreams issues SETUP for every media, trying the configured
// lower-transport candidates in priority order, and enables each
// stream's delivery fabric endpoints on success.
func (s *Session) setupStreams(ctx context.Context) error {
	candidates := transport.Candidates(s.opts.LowerTransports)
	if len(candidates) == 0 {
		candidates = []transport.Kind{transport.KindUDPUnicast, transport.KindTCPInterleaved}
	}
	switch s.url.TransportHint() {
	case base.LowerTransportHintUDP:
		candidates = []transport.Kind{transport.KindUDPUnicast}
	case base.LowerTransportHintTCP:
		candidates = []transport.Kind{transport.KindTCPInterleaved}
	case base.LowerTransportHintHTTP:
		candidates = []transport.Kind{transport.KindHTTPTunneled}
	case base.LowerTransportHintWS:
		candidates = []transport.Kind{transport.KindWSTunneled}
	}

	setUp := 0
	interleavedBase := 0

	for _, st := range s.streams {
		mURL, err := st.media.URL(s.desc.BaseURL)
		if err != nil {
			continue
		}

		var lastErr error
		for _, kind := range candidates {
			desc, err := s.setupOne(ctx, st, mURL, kind, interleavedBase)
			if err != nil {
				lastErr = err
				continue
			}
			st.descriptor = desc
			st.enabled = true
			if desc.Kind == transport.KindTCPInterleaved || desc.Kind == transport.KindHTTPTunneled || desc.Kind == transport.KindWSTunneled {
				interleavedBase += 2
			}
			s.Fabric.EnableStream(st.index, delivery.DefaultMaxPackets, delivery.DefaultMaxBytes)
			if s.opts.DoRTCP {
				st.receiver = s.newReceiver(st)
			}
			setUp++
			break
		}
		if !st.enabled && lastErr != nil {
			s.opts.Logger.Warn().Int("stream", st.index).Err(lastErr).Msg("setup failed for stream, continuing without it")
		}
	}

	if setUp == 0 {
		return liberrors.SetupError{AllStreams: true, Err: fmt.Errorf("no stream could be set up")}
	}

	if s.opts.NATPunch {
		s.punchNAT(ctx)
	}

	return nil
}

// punchNAT opens the outbound NAT mapping for every UDP-unicast stream
// before PLAY, so the server's first RTP/RTCP replies on that 5-tuple
// aren't dropped by a stateful firewall (spec §4.3). Best-effort: a
// punch failure doesn't fail SETUP, since some networks don't need it.
func (s *Session) punchNAT(ctx context.Context) {
	for _, st := range s.streams {
		if !st.enabled || st.descriptor.Kind != transport.KindUDPUnicast {
			continue
		}
		d := st.descriptor
		if err := transport.PunchNAT(ctx, d.LocalRTPConn, d.LocalRTCPConn, d.RemoteRTPAddr, d.RemoteRTCPAddr); err != nil {
			s.opts.Logger.Debug().Int("stream", st.index).Err(err).Msg("NAT punch burst failed")
		}
	}
}

func (s *Session) setupOne(ctx context.Context, st *streamState, mURL *base.URL, kind transport.Kind, interleavedBase int) (transport.Descriptor, error) {
	var clientRTPConn, clientRTCPConn net.PacketConn
	var clientRTPPort, clientRTCPPort int

	if kind == transport.KindUDPUnicast {
		var err error
		clientRTPConn, clientRTCPConn, clientRTPPort, clientRTCPPort, err = s.allocateUDPPair()
		if err != nil {
			return transport.Descriptor{}, liberrors.SetupError{StreamIndex: st.index, Err: err}
		}
	}

	th := transport.RequestHeader(kind, clientRTPPort, clientRTCPPort, interleavedBase)
	s.opts.Logger.Debug().Int("stream", st.index).Str("kind", kind.String()).Msg("transport: SETUP requesting candidate")

	res, err := s.do(ctx, base.Setup, mURL, base.Header{
		"Transport": th.Write(),
	}, nil)
	if err != nil {
		if clientRTPConn != nil {
			_ = clientRTPConn.Close()
		}
		if clientRTCPConn != nil {
			_ = clientRTCPConn.Close()
		}
		return transport.Descriptor{}, liberrors.SetupError{StreamIndex: st.index, Err: err}
	}

	var answer headers.Transport
	if err := answer.Read(res.Header["Transport"]); err != nil {
		return transport.Descriptor{}, liberrors.SetupError{StreamIndex: st.index, Err: liberrors.ErrClientTransportHeaderInvalid{Err: err}}
	}

	desc, err := transport.ParseAnswer(kind, answer, s.url.Hostname())
	if err != nil {
		return transport.Descriptor{}, err
	}
	desc.LocalRTPConn = clientRTPConn
	desc.LocalRTCPConn = clientRTCPConn

	s.opts.Logger.Debug().Int("stream", st.index).Str("negotiated", desc.Kind.String()).Msg("transport: SETUP negotiated")

	s.updateSessionHeader(res)

	switch desc.Kind {
	case transport.KindUDPUnicast:
		go s.readUDP(st, delivery.PlaneRTP, clientRTPConn)
		go s.readUDP(st, delivery.PlaneRTCP, clientRTCPConn)

	case transport.KindUDPMulticast:
		rtpConn, rtcpConn, err := s.joinMulticast(desc)
		if err != nil {
			return transport.Descriptor{}, liberrors.SetupError{StreamIndex: st.index, Err: err}
		}
		desc.LocalRTPConn = rtpConn
		desc.LocalRTCPConn = rtcpConn
		go s.readUDP(st, delivery.PlaneRTP, rtpConn)
		go s.readUDP(st, delivery.PlaneRTCP, rtcpConn)
	}

	return desc, nil
}

// joinMulticast opens the RTP/RTCP multicast sockets for a
// KindUDPMulticast descriptor, joining every multicast-capable
// interface (or just opts.MulticastIface, if pinned).
func (s *Session) joinMulticast(desc transport.Descriptor) (net.PacketConn, net.PacketConn, error) {
	listen := s.opts.ListenPacket
	if listen == nil {
		listen = net.ListenPacket
	}

	if s.opts.MulticastIface != "" {
		intf, err := net.InterfaceByName(s.opts.MulticastIface)
		if err != nil {
			return nil, nil, err
		}
		rtpConn, err := multicast.NewSingleConn(intf, fmt.Sprintf("%s:%d", desc.MulticastGroup, desc.RemoteRTPAddr.Port), listen)
		if err != nil {
			return nil, nil, err
		}
		rtcpConn, err := multicast.NewSingleConn(intf, fmt.Sprintf("%s:%d", desc.MulticastGroup, desc.RemoteRTCPAddr.Port), listen)
		if err != nil {
			_ = rtpConn.Close()
			return nil, nil, err
		}
		return rtpConn, rtcpConn, nil
	}

	rtpConn, err := multicast.NewMultiConn(fmt.Sprintf("%s:%d", desc.MulticastGroup, desc.RemoteRTPAddr.Port), true, listen)
	if err != nil {
		return nil, nil, err
	}
	rtcpConn, err := multicast.NewMultiConn(fmt.Sprintf("%s:%d", desc.MulticastGroup, desc.RemoteRTCPAddr.Port), true, listen)
	if err != nil {
		_ = rtpConn.Close()
		return nil, nil, err
	}
	return rtpConn, rtcpConn, nil
}

func (s *Session) allocateUDPPair() (net.PacketConn, net.PacketConn, int, int, error) {
	listen := s.opts.ListenPacket
	if listen == nil {
		listen = net.ListenPacket
	}

	for attempt := 0; attempt < 20; attempt++ {
		rtpPort := 0
		if s.opts.PortRangeLow > 0 && s.opts.PortRangeHigh > s.opts.PortRangeLow {
			span := s.opts.PortRangeHigh - s.opts.PortRangeLow
			rtpPort = s.opts.PortRangeLow + 2*((attempt*2)%((span/2)+1))
		}

		rtpConn, err := listen("udp", fmt.Sprintf(":%d", rtpPort))
		if err != nil {
			continue
		}
		rtpActualPort := rtpConn.LocalAddr().(*net.UDPAddr).Port

		rtcpConn, err := listen("udp", fmt.Sprintf(":%d", rtpActualPort+1))
		if err != nil {
			_ = rtpConn.Close()
			continue
		}

		return rtpConn, rtcpConn, rtpActualPort, rtpActualPort + 1, nil
	}

	return nil, nil, 0, 0, fmt.Errorf("unable to allocate a consecutive RTP/RTCP UDP port pair")
}

// readUDP pulls datagrams off one RTP/RTCP socket until it errors
// (socket closed on teardown/reconnect). The fabric queues packets for
// consumer pacing (up to delivery.DefaultMaxPackets deep), so each
// payload is copied out of the read buffer rather than handed out by
// reference.
func (s *Session) readUDP(st *streamState, plane delivery.Plane, pc net.PacketConn) {
	if pc == nil {
		return
	}
	buf := make([]byte, 2048)
	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		payload := append([]byte(nil), buf[:n]...)
		if plane == delivery.PlaneRTP {
			s.Fabric.InjectRTP(st.index, delivery.Packet{Payload: payload})
			s.feedRTP(st, payload)
		} else {
			s.Fabric.InjectRTCP(st.index, delivery.Packet{Payload: payload})
			s.feedRTCP(st, payload)
		}
	}
}

func (s *Session) play(ctx context.Context) error {
	_, err := s.do(ctx, base.Play, s.desc.BaseURL, nil, nil)
	return err
}

func (s *Session) pause(ctx context.Context) error {
	_, err := s.do(ctx, base.Pause, s.desc.BaseURL, nil, nil)
	return err
}

// Pause issues PAUSE on the current session, if one is connected. Safe
// to call concurrently with Run's keep-alive schedule.
func (s *Session) Pause(ctx context.Context) error {
	if st := s.State(); st != StatePlaying {
		return liberrors.ErrClientInvalidState{AllowedList: []fmt.Stringer{StatePlaying}, State: st}
	}
	if err := s.pause(ctx); err != nil {
		return err
	}
	s.setState(StatePaused)
	return nil
}

// Resume issues PLAY to leave a paused session, if one is connected.
func (s *Session) Resume(ctx context.Context) error {
	if st := s.State(); st != StatePaused {
		return liberrors.ErrClientInvalidState{AllowedList: []fmt.Stringer{StatePaused}, State: st}
	}
	if err := s.play(ctx); err != nil {
		return err
	}
	s.setState(StatePlaying)
	return nil
}

// updateSessionHeader applies a response's Session header (id and
// refreshed timeout), if present, leaving prior values untouched
// otherwise. Called after SETUP and after every keep-alive response.
func (s *Session) updateSessionHeader(res *base.Response) {
	sh, ok := res.Header["Session"]
	if !ok {
		return
	}
	var parsed headers.Session
	if err := parsed.Read(sh); err != nil {
		return
	}
	s.sessionID = parsed.Session
	if parsed.Timeout != nil {
		s.sessTimeout = time.Duration(*parsed.Timeout) * time.Second
	}
}

func (s *Session) teardown(ctx context.Context) error {
	tctx, cancel := context.WithTimeout(ctx, s.opts.TeardownTimeout)
	defer cancel()
	_, err := s.do(tctx, base.Teardown, s.desc.BaseURL, nil, nil)
	return err
}

// serve keeps the session alive once Playing: it schedules keep-alive
// requests and waits for Stop, a context cancellation, or a fatal
// error surfaced by readLoop.
func (s *Session) serve(ctx context.Context) error {
	keepAlive := s.opts.DoRTSPKeepAlive
	interval := s.sessTimeout / 2
	if interval <= 0 {
		interval = 25 * time.Second
	}

	var ticker *time.Ticker
	var tickerCh <-chan time.Time
	if keepAlive {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
		tickerCh = ticker.C
	}

	keepAliveMethod := base.GetParameter
	s.keepAliveFailures = 0

	for {
		select {
		case <-tickerCh:
			res, err := s.do(ctx, keepAliveMethod, s.desc.BaseURL, nil, nil)
			if err != nil {
				if se, ok := err.(liberrors.SessionError); ok && keepAliveMethod == base.GetParameter &&
					(se.StatusCode == base.StatusNotImplemented || se.StatusCode == base.StatusMethodNotAllowed) {
					// server doesn't support GET_PARAMETER as a no-op
					// keep-alive; fall back to OPTIONS for the rest of
					// the session (spec §4.5).
					s.opts.Logger.Debug().Msg("session: GET_PARAMETER unsupported, falling back to OPTIONS keep-alive")
					keepAliveMethod = base.Options
					continue
				}

				// tolerate a single missed keep-alive before forcing a
				// reconnect (spec §4.5).
				s.keepAliveFailures++
				s.opts.Logger.Debug().Int("failures", s.keepAliveFailures).Err(err).Msg("session: keep-alive failed")
				if s.keepAliveFailures < 2 {
					continue
				}
				return err
			}

			s.keepAliveFailures = 0
			s.updateSessionHeader(res)
			if newInterval := s.sessTimeout / 2; ticker != nil && newInterval > 0 && newInterval != interval {
				interval = newInterval
				ticker.Reset(interval)
			}

		case err := <-s.readerErrCh:
			return err

		case <-ctx.Done():
			_ = s.teardown(context.Background())
			return ctx.Err()

		case <-s.stopCh:
			s.setState(StateTearingDown)
			_ = s.teardown(context.Background())
			return liberrors.UserCancel{}
		}
	}
}

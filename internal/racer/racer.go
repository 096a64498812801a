// Package racer opens candidate control connections to a RTSP server
// in parallel and keeps the first (or, in last-wins mode, the most
// recently stable) one that completes its handshake (spec §4.4).
package racer

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"

	"github.com/rtspcore/rtspingest/pkg/auth"
	"github.com/rtspcore/rtspingest/pkg/base"
	"github.com/rtspcore/rtspingest/pkg/conn"
	"github.com/rtspcore/rtspingest/pkg/liberrors"
)

// ProxyConfig describes an optional HTTP-CONNECT or SOCKS5 proxy that
// every candidate dials through before reaching the server.
type ProxyConfig struct {
	// URL is "http://host:port" or "socks5://host:port".
	URL string
	// User/Password are optional proxy credentials.
	User     string
	Password string
}

// Options configures a race.
type Options struct {
	// Candidates is the set of "host:port" addresses to race.
	Candidates []string

	// TLS, when true, wraps every winning connection in a TLS client
	// handshake using TLSConfig (cloned per-candidate so ServerName
	// can be set independently).
	TLS       bool
	TLSConfig *tls.Config

	// LastWins selects the last-wins policy (§4.4); the zero value is
	// first-wins.
	LastWins bool
	// StabilityWindow is how long a last-wins race waits after a
	// candidate completes before declaring it the winner, in case a
	// later candidate supersedes it.
	StabilityWindow time.Duration

	// StaggerDelay is the pause between starting successive
	// candidates.
	StaggerDelay time.Duration

	// Timeout bounds the whole race, handshakes included.
	Timeout time.Duration

	// DialContext dials the raw TCP connection to a candidate.
	DialContext func(ctx context.Context, network, address string) (net.Conn, error)

	// Proxy is optional HTTP-CONNECT/SOCKS5 proxy configuration.
	Proxy *ProxyConfig

	Logger zerolog.Logger
}

// Race runs the connection race and returns a ControlConnection wrapping
// the winning transport, or a liberrors.ConnectError if every candidate
// fails or the Timeout elapses first.
func Race(ctx context.Context, opts Options) (*conn.ControlConnection, error) {
	if len(opts.Candidates) == 0 {
		return nil, liberrors.ConnectError{Err: fmt.Errorf("no candidate addresses")}
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if opts.LastWins {
		return raceLastWins(ctx, opts)
	}
	return raceFirstWins(ctx, opts)
}

type candidateResult struct {
	index int
	nc    net.Conn
	err   error
}

func (o Options) dialOne(ctx context.Context, index int, addr string) candidateResult {
	nc, err := dialCandidate(ctx, o, addr)
	if err != nil {
		return candidateResult{index: index, err: err}
	}

	if o.TLS {
		nc, err = wrapTLS(nc, o.TLSConfig, addr)
		if err != nil {
			return candidateResult{index: index, err: err}
		}
	}

	return candidateResult{index: index, nc: nc}
}

func raceFirstWins(ctx context.Context, opts Options) (*conn.ControlConnection, error) {
	results := make(chan candidateResult, len(opts.Candidates))
	candCtx, candCancel := context.WithCancel(ctx)
	defer candCancel()

	go func() {
		for i, addr := range opts.Candidates {
			i, addr := i, addr
			go func() {
				results <- opts.dialOne(candCtx, i, addr)
			}()

			select {
			case <-time.After(opts.StaggerDelay):
			case <-candCtx.Done():
				return
			}
		}
	}()

	var lastErr error

	for received := 0; received < len(opts.Candidates); received++ {
		select {
		case res := <-results:
			if res.err != nil {
				lastErr = res.err
				continue
			}

			candCancel()
			opts.Logger.Debug().Int("candidate", res.index).Str("addr", opts.Candidates[res.index]).
				Msg("connection race winner")
			go drainAndClose(results, len(opts.Candidates)-received-1)
			return conn.New(res.nc), nil

		case <-ctx.Done():
			return nil, liberrors.ConnectError{Err: ctx.Err()}
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all candidates failed")
	}
	return nil, liberrors.ConnectError{Err: lastErr}
}

func raceLastWins(ctx context.Context, opts Options) (*conn.ControlConnection, error) {
	results := make(chan candidateResult, len(opts.Candidates))

	go func() {
		for i, addr := range opts.Candidates {
			i, addr := i, addr
			go func() {
				results <- opts.dialOne(ctx, i, addr)
			}()

			select {
			case <-time.After(opts.StaggerDelay):
			case <-ctx.Done():
				return
			}
		}
	}()

	var mu sync.Mutex
	var winner net.Conn
	var winnerIdx int
	var stableTimer *time.Timer
	done := make(chan struct{})

	armStabilityTimer := func() {
		if stableTimer != nil {
			stableTimer.Stop()
		}
		stableTimer = time.AfterFunc(opts.StabilityWindow, func() {
			close(done)
		})
	}

	received := 0
	for received < len(opts.Candidates) {
		select {
		case res := <-results:
			received++
			if res.err != nil {
				continue
			}

			mu.Lock()
			if winner != nil {
				winner.Close()
			}
			winner = res.nc
			winnerIdx = res.index
			armStabilityTimer()
			mu.Unlock()

		case <-done:
			mu.Lock()
			w := winner
			mu.Unlock()
			if w != nil {
				opts.Logger.Debug().Int("candidate", winnerIdx).Msg("connection race winner (last-wins)")
				return conn.New(w), nil
			}

		case <-ctx.Done():
			mu.Lock()
			if winner != nil {
				winner.Close()
			}
			mu.Unlock()
			return nil, liberrors.ConnectError{Err: ctx.Err()}
		}
	}

	// all candidates reported; wait out the remaining stability window
	// (or return immediately if none ever won).
	mu.Lock()
	w := winner
	mu.Unlock()
	if w == nil {
		return nil, liberrors.ConnectError{Err: fmt.Errorf("all candidates failed")}
	}

	select {
	case <-done:
	case <-ctx.Done():
		w.Close()
		return nil, liberrors.ConnectError{Err: ctx.Err()}
	}

	return conn.New(w), nil
}

// drainAndClose absorbs the remaining outstanding dial results after a
// winner has been picked, closing any connection that completes late.
func drainAndClose(results <-chan candidateResult, n int) {
	for i := 0; i < n; i++ {
		if res := <-results; res.nc != nil {
			res.nc.Close()
		}
	}
}

func dialCandidate(ctx context.Context, o Options, addr string) (net.Conn, error) {
	if o.Proxy == nil {
		return o.DialContext(ctx, "tcp", addr)
	}
	return dialThroughProxy(ctx, o, addr)
}

func wrapTLS(nc net.Conn, cfg *tls.Config, addr string) (net.Conn, error) {
	tc := cfg
	if tc == nil {
		tc = &tls.Config{}
	} else {
		tc = tc.Clone()
	}

	host, _, err := net.SplitHostPort(addr)
	if err == nil {
		tc.ServerName = host
	}

	tlsConn := tls.Client(nc, tc)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		nc.Close()
		return nil, err
	}
	return tlsConn, nil
}

func dialThroughProxy(ctx context.Context, o Options, addr string) (net.Conn, error) {
	switch {
	case strings.HasPrefix(o.Proxy.URL, "socks5://"):
		return dialSOCKS5(ctx, o, addr)
	case strings.HasPrefix(o.Proxy.URL, "http://"), strings.HasPrefix(o.Proxy.URL, "https://"):
		return dialHTTPConnect(ctx, o, addr)
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", o.Proxy.URL)
	}
}

func dialSOCKS5(ctx context.Context, o Options, addr string) (net.Conn, error) {
	proxyAddr := strings.TrimPrefix(o.Proxy.URL, "socks5://")

	var pauth *proxy.Auth
	if o.Proxy.User != "" {
		pauth = &proxy.Auth{User: o.Proxy.User, Password: o.Proxy.Password}
	}

	dialer, err := proxy.SOCKS5("tcp", proxyAddr, pauth, proxy.Direct)
	if err != nil {
		return nil, err
	}

	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", addr)
	}
	return dialer.Dial("tcp", addr)
}

// dialHTTPConnect issues a CONNECT to o.Proxy.URL's host, optionally
// authenticating with Basic or Digest (reusing pkg/auth), then hands
// back the tunneled raw byte stream.
func dialHTTPConnect(ctx context.Context, o Options, addr string) (net.Conn, error) {
	proxyURL := strings.TrimPrefix(strings.TrimPrefix(o.Proxy.URL, "https://"), "http://")

	nc, err := o.DialContext(ctx, "tcp", proxyURL)
	if err != nil {
		return nil, err
	}

	connectReq := func(authHeader string) string {
		req := "CONNECT " + addr + " HTTP/1.1\r\n" +
			"Host: " + addr + "\r\n"
		if authHeader != "" {
			req += "Proxy-Authorization: " + authHeader + "\r\n"
		}
		req += "\r\n"
		return req
	}

	if _, err := nc.Write([]byte(connectReq(""))); err != nil {
		nc.Close()
		return nil, err
	}

	br := bufio.NewReader(nc)
	resp, err := http.ReadResponse(br, &http.Request{Method: "CONNECT"})
	if err != nil {
		nc.Close()
		return nil, err
	}

	if resp.StatusCode == http.StatusProxyAuthRequired && o.Proxy.User != "" {
		wwwAuth := base.HeaderValue(resp.Header.Values("Proxy-Authenticate"))
		userinfo := url.UserPassword(o.Proxy.User, o.Proxy.Password)

		ac, err := auth.NewClient(wwwAuth, userinfo)
		if err != nil {
			nc.Close()
			return nil, err
		}

		ur, _ := base.ParseURL("rtsp://" + addr + "/")
		authHeader := ac.GenerateHeader(base.Method("CONNECT"), ur)

		if _, err := nc.Write([]byte(connectReq(authHeader[0]))); err != nil {
			nc.Close()
			return nil, err
		}

		br = bufio.NewReader(nc)
		resp, err = http.ReadResponse(br, &http.Request{Method: "CONNECT"})
		if err != nil {
			nc.Close()
			return nil, err
		}
	}

	if resp.StatusCode != http.StatusOK {
		nc.Close()
		return nil, fmt.Errorf("proxy CONNECT failed: %s", resp.Status)
	}

	return nc, nil
}

package rtspingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rtspcore/rtspingest/internal/delivery"
	"github.com/rtspcore/rtspingest/internal/racer"
	"github.com/rtspcore/rtspingest/internal/retry"
	"github.com/rtspcore/rtspingest/internal/session"
	"github.com/rtspcore/rtspingest/pkg/description"
)

// Client is the RTSP 1.0 client source element core: it owns one
// session.Session, translates Config into session.Options, and exposes
// the delivery fabric and lifecycle controls a host pipeline needs.
type Client struct {
	cfg Config
	sess *session.Session

	mu      sync.Mutex
	started bool
	runErr  chan error
}

// NewClient builds a Client from cfg. Config fields are defaulted via
// WithDefaults if not already set.
func NewClient(cfg Config) *Client {
	cfg = cfg.WithDefaults()
	return &Client{
		cfg:  cfg,
		sess: session.New(toSessionOptions(cfg)),
	}
}

// Fabric returns the delivery fabric RTP/RTCP packets are injected
// into; the host pipeline attaches its consumers here before Start.
func (c *Client) Fabric() *delivery.Fabric {
	return c.sess.Fabric
}

// State reports the current session controller state.
func (c *Client) State() session.State {
	return c.sess.State()
}

// Start connects and runs the session in the background. It returns
// once the initial connection attempt either succeeds through PLAY or
// fails non-recoverably; afterwards, Wait reports the terminal error.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("rtspingest: client already started")
	}
	c.started = true
	c.runErr = make(chan error, 1)
	c.mu.Unlock()

	ready := make(chan struct{})
	var readyOnce sync.Once

	onState := func(st session.State) {
		if st == session.StatePlaying || st == session.StateTerminated {
			readyOnce.Do(func() { close(ready) })
		}
	}
	c.sess.SetOnStateChange(onState)

	go func() {
		c.runErr <- c.sess.Run(ctx)
	}()

	select {
	case <-ready:
		return nil
	case err := <-c.runErr:
		// put it back so Wait still reports the terminal error.
		c.runErr <- err
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the session terminates (Stop, a non-recoverable
// error, or context cancellation) and returns the terminal error.
func (c *Client) Wait() error {
	c.mu.Lock()
	ch := c.runErr
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("rtspingest: client not started")
	}
	return <-ch
}

// Stop tears down the session and stops reconnection attempts.
func (c *Client) Stop() {
	c.sess.Stop()
}

// Pause issues RTSP PAUSE on the live session.
func (c *Client) Pause(ctx context.Context) error {
	return c.sess.Pause(ctx)
}

// Resume issues RTSP PLAY to leave a paused session.
func (c *Client) Resume(ctx context.Context) error {
	return c.sess.Resume(ctx)
}

// Stats returns the control connection's cumulative byte counters.
func (c *Client) Stats() session.Stats {
	return c.sess.Stats()
}

// Medias returns the media descriptions negotiated during DESCRIBE,
// once the session has reached StateSettingUp or later. Returns nil
// before then.
func (c *Client) Medias() []*description.Media {
	return c.sess.Medias()
}

func toSessionOptions(cfg Config) session.Options {
	lowerTransports := make([]int, len(cfg.Protocols))
	for i, p := range cfg.Protocols {
		lowerTransports[i] = int(p)
	}

	var proxy *racer.ProxyConfig
	if cfg.Proxy != "" {
		proxy = &racer.ProxyConfig{
			URL:      cfg.Proxy,
			User:     cfg.ProxyID,
			Password: cfg.ProxyPW,
		}
	}

	return session.Options{
		URL:    cfg.Location,
		UserID: cfg.UserID,
		UserPW: cfg.UserPW,

		LowerTransports: lowerTransports,

		TCPTimeout:      cfg.TCPTimeout,
		TeardownTimeout: cfg.TeardownTimeout,
		Timeout:         cfg.Timeout,
		UDPReconnect:    cfg.UDPReconnect,

		PortRangeLow:   cfg.PortRange[0],
		PortRangeHigh:  cfg.PortRange[1],
		UDPBufferSize:  cfg.UDPBufferSize,
		MulticastIface: cfg.MulticastIface,

		UserAgent:          cfg.UserAgent,
		DoRTCP:             cfg.DoRTCP != nil && *cfg.DoRTCP,
		DoRTSPKeepAlive:    cfg.DoRTSPKeepAlive != nil && *cfg.DoRTSPKeepAlive,
		NATPunch:           cfg.NATMethod == NATMethodDummy,
		MaxRTCPRTPTimeDiff: cfg.MaxRTCPRTPTimeDiff,

		ConnectionRacing:       cfg.ConnectionRacing,
		MaxParallelConnections: cfg.MaxParallelConnections,
		RacingDelayMs:          cfg.RacingDelayMs,
		RacingTimeout:          cfg.RacingTimeout,
		RacingLastWins:         cfg.RacingLastWins,
		Proxy:                  proxy,

		TLSConfig:    cfg.TLSConfig,
		DialContext:  cfg.DialContext,
		ListenPacket: cfg.ListenPacket,

		RetryPolicy:         toRetryPolicy(cfg),
		AdaptiveCacheDir:    cfg.AdaptiveCacheDir,
		AdaptiveExploration: cfg.AdaptiveExploration,

		Logger: cfg.Logger,

		SDES: cfg.SDES,

		IgnoreXServerReply: cfg.IgnoreXServerReply,
	}
}

func toRetryPolicy(cfg Config) retry.Policy {
	var strategy retry.Strategy
	switch cfg.RetryStrategy {
	case RetryImmediate:
		strategy = retry.StrategyImmediate
	case RetryLinear:
		strategy = retry.StrategyLinear
	case RetryExponential:
		strategy = retry.StrategyExponential
	case RetryExponentialJitter:
		strategy = retry.StrategyExponentialJitter
	case RetryAuto:
		strategy = retry.StrategyAuto
	case RetryAdaptive:
		strategy = retry.StrategyAdaptive
	default:
		strategy = retry.StrategyNone
	}

	return retry.Policy{
		Strategy:        strategy,
		InitialDelay:    cfg.InitialRetryDelay,
		LinearStep:      cfg.LinearRetryStep,
		ExponentialBase: cfg.ExponentialBase,
		JitterPct:       cfg.ExponentialJitterPct,
		Deadline:        cfg.ReconnectionTimeout,
		MaxAttempts:     cfg.MaxReconnectionAttempts,
	}
}

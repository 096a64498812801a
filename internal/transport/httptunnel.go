package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rtspcore/rtspingest/internal/base64streamreader"
	"github.com/rtspcore/rtspingest/pkg/liberrors"
)

const (
	httpTunnelBufferSize  = 2048
	httpTunnelCookieName  = "x-sessioncookie"
	httpTunnelContentType = "application/x-rtsp-tunnelled"
	httpTunnelGetSuffix   = ""
	httpTunnelPostSuffix  = ""
)

// HTTPTunnel implements a net.Conn over Apple's RTSP-over-HTTP
// tunneling protocol: a GET connection carries server-to-client bytes,
// a POST connection carries client-to-server bytes, both base64
// encoded and correlated by a shared session cookie.
type HTTPTunnel struct {
	readConn  net.Conn
	writeConn net.Conn
	decReader io.Reader

	sessionCookie string

	writeMu   sync.Mutex
	encBuffer []byte
}

// DialHTTPTunnel opens both legs of the tunnel against host (a
// "host:port" address) using scheme "http" or "https", using dial to
// establish each TCP/TLS connection.
func DialHTTPTunnel(
	ctx context.Context,
	dial func(ctx context.Context, network, address string) (net.Conn, error),
	scheme, host, userAgent string,
	tlsConfig *tls.Config,
) (*HTTPTunnel, error) {
	t := &HTTPTunnel{
		sessionCookie: uuid.New().String(),
		encBuffer:     make([]byte, base64.StdEncoding.EncodedLen(httpTunnelBufferSize)),
	}

	open := func() (net.Conn, error) {
		nc, err := dial(ctx, "tcp", host)
		if err != nil {
			return nil, err
		}
		if scheme == "https" {
			cfg := tlsConfig
			if cfg == nil {
				cfg = &tls.Config{}
			} else {
				cfg = cfg.Clone()
			}
			if h, _, err := net.SplitHostPort(host); err == nil {
				cfg.ServerName = h
			}
			tc := tls.Client(nc, cfg)
			if err := tc.HandshakeContext(ctx); err != nil {
				nc.Close()
				return nil, err
			}
			return tc, nil
		}
		return nc, nil
	}

	baseURL := fmt.Sprintf("%s://%s/", scheme, host)

	type res struct {
		conn net.Conn
		err  error
	}
	getCh := make(chan res, 1)
	postCh := make(chan res, 1)

	go func() {
		conn, err := open()
		if err != nil {
			getCh <- res{err: err}
			return
		}

		req := httpTunnelRequest("GET", baseURL, host, userAgent, t.sessionCookie, false)
		if _, err := conn.Write([]byte(req)); err != nil {
			conn.Close()
			getCh <- res{err: err}
			return
		}

		br := bufio.NewReader(conn)
		resp, err := http.ReadResponse(br, nil)
		if err != nil {
			conn.Close()
			getCh <- res{err: err}
			return
		}
		if resp.StatusCode != http.StatusOK {
			conn.Close()
			getCh <- res{err: fmt.Errorf("HTTP tunnel GET failed: %s", resp.Status)}
			return
		}
		getCh <- res{conn: conn}
	}()

	go func() {
		conn, err := open()
		if err != nil {
			postCh <- res{err: err}
			return
		}

		req := httpTunnelRequest("POST", baseURL, host, userAgent, t.sessionCookie, true)
		if _, err := conn.Write([]byte(req)); err != nil {
			conn.Close()
			postCh <- res{err: err}
			return
		}
		postCh <- res{conn: conn}
	}()

	getRes, postRes := <-getCh, <-postCh
	if getRes.err != nil {
		if postRes.conn != nil {
			postRes.conn.Close()
		}
		return nil, liberrors.ConnectError{Err: getRes.err}
	}
	if postRes.err != nil {
		getRes.conn.Close()
		return nil, liberrors.ConnectError{Err: postRes.err}
	}

	t.readConn = getRes.conn
	t.writeConn = postRes.conn
	t.decReader = base64streamreader.New(t.readConn)
	return t, nil
}

func httpTunnelRequest(method, baseURL, host, userAgent, cookie string, chunked bool) string {
	req := fmt.Sprintf("%s %s HTTP/1.1\r\n", method, baseURL)
	req += fmt.Sprintf("Host: %s\r\n", host)
	req += fmt.Sprintf("User-Agent: %s\r\n", userAgent)
	req += fmt.Sprintf("Content-Type: %s\r\n", httpTunnelContentType)
	req += fmt.Sprintf("Cookie: %s=%s\r\n", httpTunnelCookieName, cookie)
	req += "Connection: Keep-Alive\r\n"
	if chunked {
		req += "Transfer-Encoding: chunked\r\n"
	}
	req += "\r\n"
	return req
}

// Read implements net.Conn, decoding base64 data read from the GET
// connection.
func (t *HTTPTunnel) Read(b []byte) (int, error) {
	return t.decReader.Read(b)
}

// Write implements net.Conn, base64-encoding b and sending it as one
// HTTP chunk on the POST connection.
func (t *HTTPTunnel) Write(b []byte) (int, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	encLen := base64.StdEncoding.EncodedLen(len(b))
	enc := t.encBuffer
	if encLen > len(enc) {
		enc = make([]byte, encLen)
	} else {
		enc = enc[:encLen]
	}
	base64.StdEncoding.Encode(enc, b)

	chunk := fmt.Sprintf("%x\r\n", len(enc))
	if _, err := t.writeConn.Write([]byte(chunk)); err != nil {
		return 0, err
	}
	if _, err := t.writeConn.Write(enc); err != nil {
		return 0, err
	}
	if _, err := t.writeConn.Write([]byte("\r\n")); err != nil {
		return 0, err
	}

	return len(b), nil
}

// Close closes both legs of the tunnel.
func (t *HTTPTunnel) Close() error {
	var errs []string

	if t.writeConn != nil {
		t.writeConn.Write([]byte("0\r\n\r\n")) //nolint:errcheck
		if err := t.writeConn.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if t.readConn != nil {
		if err := t.readConn.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func (t *HTTPTunnel) LocalAddr() net.Addr {
	if t.readConn != nil {
		return t.readConn.LocalAddr()
	}
	return nil
}

func (t *HTTPTunnel) RemoteAddr() net.Addr {
	if t.readConn != nil {
		return t.readConn.RemoteAddr()
	}
	return nil
}

func (t *HTTPTunnel) SetDeadline(tm time.Time) error {
	if err := t.readConn.SetDeadline(tm); err != nil {
		return err
	}
	return t.writeConn.SetDeadline(tm)
}

func (t *HTTPTunnel) SetReadDeadline(tm time.Time) error {
	return t.readConn.SetReadDeadline(tm)
}

func (t *HTTPTunnel) SetWriteDeadline(tm time.Time) error {
	return t.writeConn.SetWriteDeadline(tm)
}

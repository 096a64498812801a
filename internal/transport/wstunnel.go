package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsSubprotocol is the RTSP-over-WebSocket subprotocol advertised by
// ONVIF-compliant servers.
const wsSubprotocol = "rtsp.onvif.org"

// WSTunnel implements a net.Conn over a single bidirectional WebSocket
// connection, carrying RTSP bytes as binary frames (no base64).
type WSTunnel struct {
	wconn *websocket.Conn
	r     *wsReader
	w     *wsWriter
}

// DialWSTunnel opens a RTSP-over-WebSocket tunnel at addr ("host:port"),
// upgrading over dial. tlsConfig non-nil selects "wss".
func DialWSTunnel(
	ctx context.Context,
	dial func(ctx context.Context, network, address string) (net.Conn, error),
	addr string,
	tlsConfig *tls.Config,
) (*WSTunnel, error) {
	scheme := "ws"
	if tlsConfig != nil {
		scheme = "wss"
	}

	wconn, _, err := (&websocket.Dialer{
		NetDialContext:  dial,
		TLSClientConfig: tlsConfig,
		Subprotocols:    []string{wsSubprotocol},
	}).DialContext(ctx, fmt.Sprintf("%s://%s/", scheme, addr), nil)
	if err != nil {
		return nil, err
	}

	return &WSTunnel{
		wconn: wconn,
		r:     &wsReader{wc: wconn},
		w:     &wsWriter{wc: wconn},
	}, nil
}

func (t *WSTunnel) Read(b []byte) (int, error)  { return t.r.Read(b) }
func (t *WSTunnel) Write(b []byte) (int, error) { return t.w.Write(b) }
func (t *WSTunnel) Close() error                { return t.wconn.Close() }
func (t *WSTunnel) LocalAddr() net.Addr         { return t.wconn.LocalAddr() }
func (t *WSTunnel) RemoteAddr() net.Addr        { return t.wconn.RemoteAddr() }

// SetDeadline cannot be expressed atomically over a websocket.Conn;
// callers should use SetReadDeadline/SetWriteDeadline instead.
func (t *WSTunnel) SetDeadline(_ time.Time) error { return nil }

func (t *WSTunnel) SetReadDeadline(tm time.Time) error  { return t.wconn.SetReadDeadline(tm) }
func (t *WSTunnel) SetWriteDeadline(tm time.Time) error { return t.wconn.SetWriteDeadline(tm) }

type wsReader struct {
	wc  *websocket.Conn
	buf []byte
}

func (r *wsReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		msgType, buf, err := r.wc.ReadMessage()
		if err != nil {
			return 0, err
		}
		if msgType != websocket.BinaryMessage {
			return 0, fmt.Errorf("unexpected websocket message type %v", msgType)
		}
		r.buf = buf
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

type wsWriter struct {
	wc *websocket.Conn
	mu sync.Mutex
}

func (w *wsWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.wc.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

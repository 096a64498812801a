// Package conn implements the control connection used to exchange RTSP
// requests, responses and interleaved data frames with a server, independently
// of the lower transport (TCP, TLS, HTTP tunnel, WebSocket tunnel) carrying
// the bytes.
package conn

import (
	"bufio"
	"net"
	"time"

	"github.com/rtspcore/rtspingest/pkg/base"
)

const (
	readBufferSize = 4096
)

// ControlConnection is a RTSP control connection: a net.Conn plus the
// RTSP message/frame codec layered on top of it.
type ControlConnection struct {
	nc  net.Conn
	br  *bufio.Reader
	req base.Request
	res base.Response
	fr  base.InterleavedFrame
}

// New allocates a ControlConnection around an already-established transport.
func New(nc net.Conn) *ControlConnection {
	return &ControlConnection{
		nc: nc,
		br: bufio.NewReaderSize(nc, readBufferSize),
	}
}

// NetConn returns the underlying transport.
func (c *ControlConnection) NetConn() net.Conn {
	return c.nc
}

// Close closes the underlying transport.
func (c *ControlConnection) Close() error {
	return c.nc.Close()
}

// SetReadDeadline sets the read deadline on the underlying transport.
func (c *ControlConnection) SetReadDeadline(t time.Time) error {
	return c.nc.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline on the underlying transport.
func (c *ControlConnection) SetWriteDeadline(t time.Time) error {
	return c.nc.SetWriteDeadline(t)
}

// ReadRequest reads a Request. Used for server-initiated requests
// (ANNOUNCE, REDIRECT, GET_PARAMETER, SET_PARAMETER) received on an
// otherwise client-initiated session.
func (c *ControlConnection) ReadRequest() (*base.Request, error) {
	err := c.req.Read(c.br)
	return &c.req, err
}

// ReadResponse reads a Response.
func (c *ControlConnection) ReadResponse() (*base.Response, error) {
	err := c.res.Read(c.br)
	return &c.res, err
}

// ReadInterleavedFrame reads an InterleavedFrame.
func (c *ControlConnection) ReadInterleavedFrame() (*base.InterleavedFrame, error) {
	err := c.fr.Read(c.br)
	return &c.fr, err
}

// ReadResponseOrInterleavedFrame reads whatever comes next on the wire: a
// Response, an InterleavedFrame, or a server-initiated Request, resyncing
// past corrupted bytes via base.ReadMessage.
func (c *ControlConnection) ReadResponseOrInterleavedFrame() (interface{}, error) {
	return base.ReadMessage(&c.fr, &c.res, &c.req, c.br)
}

// ReadResponseIgnoreFrames reads a Response, discarding any interleaved
// frames received in between.
func (c *ControlConnection) ReadResponseIgnoreFrames() (*base.Response, error) {
	for {
		recv, err := c.ReadResponseOrInterleavedFrame()
		if err != nil {
			return nil, err
		}

		if res, ok := recv.(*base.Response); ok {
			return res, nil
		}
	}
}

// WriteRequest writes a Request.
func (c *ControlConnection) WriteRequest(req *base.Request) error {
	bw := bufio.NewWriter(c.nc)
	return req.Write(bw)
}

// WriteResponse writes a Response.
func (c *ControlConnection) WriteResponse(res *base.Response) error {
	bw := bufio.NewWriter(c.nc)
	return res.Write(bw)
}

// WriteInterleavedFrame writes an InterleavedFrame, using buf as scratch
// space to avoid an allocation per frame.
func (c *ControlConnection) WriteInterleavedFrame(fr *base.InterleavedFrame, buf []byte) error {
	n, err := fr.MarshalTo(buf)
	if err != nil {
		return err
	}
	_, err = c.nc.Write(buf[:n])
	return err
}

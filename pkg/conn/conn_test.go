package conn

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rtspcore/rtspingest/pkg/base"
)

func mustParseURL(t *testing.T, s string) *base.URL {
	u, err := base.ParseURL(s)
	require.NoError(t, err)
	return u
}

func TestReadResponseOrInterleavedFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		server.Write([]byte("RTSP/1.0 200 OK\r\n" +
			"CSeq: 1\r\n" +
			"Public: DESCRIBE, SETUP, TEARDOWN, PLAY, PAUSE\r\n" +
			"\r\n"))
		server.Write([]byte{0x24, 0x6, 0x0, 0x4, 0x1, 0x2, 0x3, 0x4})
	}()

	c := New(client)

	out, err := c.ReadResponseOrInterleavedFrame()
	require.NoError(t, err)
	require.Equal(t, &base.Response{
		StatusCode:    200,
		StatusMessage: "OK",
		Header: base.Header{
			"CSeq":   base.HeaderValue{"1"},
			"Public": base.HeaderValue{"DESCRIBE, SETUP, TEARDOWN, PLAY, PAUSE"},
		},
	}, out)

	out, err = c.ReadResponseOrInterleavedFrame()
	require.NoError(t, err)
	require.Equal(t, &base.InterleavedFrame{
		Channel: 6,
		Payload: []byte{0x01, 0x02, 0x03, 0x04},
	}, out)
}

func TestReadResponseIgnoreFrames(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		server.Write([]byte{0x24, 0x6, 0x0, 0x4, 0x1, 0x2, 0x3, 0x4})
		server.Write([]byte("RTSP/1.0 200 OK\r\n" +
			"CSeq: 1\r\n" +
			"\r\n"))
	}()

	c := New(client)

	res, err := c.ReadResponseIgnoreFrames()
	require.NoError(t, err)
	require.Equal(t, base.StatusOK, res.StatusCode)
}

func TestWriteRequestReadRequest(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	req := &base.Request{
		Method: base.Options,
		URL:    mustParseURL(t, "rtsp://example.com/media.mp4"),
		Header: base.Header{
			"CSeq": base.HeaderValue{"1"},
		},
	}

	cc := New(client)
	sc := New(server)

	errCh := make(chan error, 1)
	go func() {
		errCh <- cc.WriteRequest(req)
	}()

	out, err := sc.ReadRequest()
	require.NoError(t, err)
	require.Equal(t, req.Method, out.Method)
	require.NoError(t, <-errCh)
}

func TestWriteInterleavedFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fr := &base.InterleavedFrame{
		Channel: 4,
		Payload: []byte{0x01, 0x02, 0x03},
	}
	buf := make([]byte, 2048)

	cc := New(client)
	sc := New(server)

	errCh := make(chan error, 1)
	go func() {
		errCh <- cc.WriteInterleavedFrame(fr, buf)
	}()

	out, err := sc.ReadInterleavedFrame()
	require.NoError(t, err)
	require.Equal(t, fr, out)
	require.NoError(t, <-errCh)
}

func TestDeadlines(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := New(client)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, c.SetWriteDeadline(time.Now().Add(time.Second)))
	require.Equal(t, client, c.NetConn())
}

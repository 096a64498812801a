package base

import (
	"bufio"
	"fmt"
	"io"
)

const (
	// InterleavedFrameMagicByte is the first byte of an interleaved frame.
	InterleavedFrameMagicByte = 0x24
)

// InterleavedFrame is an interleaved frame, and allows to transfer binary data
// within RTSP/TCP connections. It is used to send and receive RTP and RTCP packets with TCP.
type InterleavedFrame struct {
	// channel ID
	Channel int

	// payload
	Payload []byte
}

// Read decodes an interleaved frame.
func (f *InterleavedFrame) Read(br *bufio.Reader) error {
	var header [4]byte
	_, err := io.ReadFull(br, header[:])
	if err != nil {
		return err
	}

	if header[0] != InterleavedFrameMagicByte {
		return fmt.Errorf("invalid magic byte (0x%.2x)", header[0])
	}

	// it's useless to check payloadLen since it's limited to 65535
	payloadLen := int(uint16(header[2])<<8 | uint16(header[3]))

	f.Channel = int(header[1])
	f.Payload = make([]byte, payloadLen)

	_, err = io.ReadFull(br, f.Payload)
	return err
}

// MarshalSize returns the size of an InterleavedFrame.
func (f InterleavedFrame) MarshalSize() int {
	return 4 + len(f.Payload)
}

// MarshalTo writes an InterleavedFrame.
func (f InterleavedFrame) MarshalTo(buf []byte) (int, error) {
	pos := 0

	pos += copy(buf[pos:], []byte{InterleavedFrameMagicByte, byte(f.Channel)})

	payloadLen := len(f.Payload)
	buf[pos] = byte(payloadLen >> 8)
	buf[pos+1] = byte(payloadLen)
	pos += 2

	pos += copy(buf[pos:], f.Payload)

	return pos, nil
}

// Marshal writes an InterleavedFrame.
func (f InterleavedFrame) Marshal() ([]byte, error) {
	buf := make([]byte, f.MarshalSize())
	_, err := f.MarshalTo(buf)
	return buf, err
}

// ReadMessage reads whatever appears next on a control connection carrying
// both interleaved data frames and RTSP messages (§6 wire-level framing):
// an *InterleavedFrame, a *Response (status line starts with "RTSP/"), or a
// *Request (server-initiated ANNOUNCE/REDIRECT/GET_PARAMETER/SET_PARAMETER,
// request line starts with a method name).
//
// If the next byte is none of the plausible prefixes, the reader
// resynchronizes by discarding bytes until one is found, so a single
// corrupted byte does not desynchronize the stream permanently.
func ReadMessage(f *InterleavedFrame, res *Response, req *Request, br *bufio.Reader) (interface{}, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return nil, err
		}

		switch {
		case b[0] == InterleavedFrameMagicByte:
			if err := f.Read(br); err != nil {
				return nil, err
			}
			return f, nil

		case looksLikeResponse(br):
			if err := res.Read(br); err != nil {
				return nil, err
			}
			return res, nil

		case b[0] >= 'A' && b[0] <= 'Z':
			if err := req.Read(br); err != nil {
				return nil, err
			}
			return req, nil
		}

		// resynchronize: discard the byte and look for the next valid prefix.
		if _, err := br.Discard(1); err != nil {
			return nil, err
		}
	}
}

func looksLikeResponse(br *bufio.Reader) bool {
	b, err := br.Peek(len(rtspProtocol10))
	if err != nil {
		return false
	}
	return string(b) == rtspProtocol10
}

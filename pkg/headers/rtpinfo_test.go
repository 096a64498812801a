package headers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rtspcore/rtspingest/pkg/base"
)

var casesRTPInfo = []struct {
	name string
	vin  base.HeaderValue
	vout base.HeaderValue
	h    *RTPInfo
}{
	{
		"single value",
		base.HeaderValue{`url=rtsp://127.0.0.1/test.mkv/track1;seq=35243;rtptime=717574556`},
		base.HeaderValue{`url=rtsp://127.0.0.1/test.mkv/track1;seq=35243;rtptime=717574556`},
		&RTPInfo{
			{
				URL:            "rtsp://127.0.0.1/test.mkv/track1",
				SequenceNumber: ptrOf(uint16(35243)),
				Timestamp:      ptrOf(uint32(717574556)),
			},
		},
	},
	{
		"multiple value",
		base.HeaderValue{`url=rtsp://127.0.0.1/test.mkv/track1;seq=35243;rtptime=717574556,url=rtsp://127.0.0.1/test.mkv/track2;seq=13655;rtptime=2848846950`},
		base.HeaderValue{`url=rtsp://127.0.0.1/test.mkv/track1;seq=35243;rtptime=717574556,url=rtsp://127.0.0.1/test.mkv/track2;seq=13655;rtptime=2848846950`},
		&RTPInfo{
			{
				URL:            "rtsp://127.0.0.1/test.mkv/track1",
				SequenceNumber: ptrOf(uint16(35243)),
				Timestamp:      ptrOf(uint32(717574556)),
			},
			{
				URL:            "rtsp://127.0.0.1/test.mkv/track2",
				SequenceNumber: ptrOf(uint16(13655)),
				Timestamp:      ptrOf(uint32(2848846950)),
			},
		},
	},
}

func TestRTPInfoRead(t *testing.T) {
	for _, c := range casesRTPInfo {
		t.Run(c.name, func(t *testing.T) {
			var h RTPInfo
			err := h.Read(c.vin)
			require.NoError(t, err)
			require.Equal(t, c.h, &h)
		})
	}
}

func TestRTPInfoWrite(t *testing.T) {
	for _, c := range casesRTPInfo {
		t.Run(c.name, func(t *testing.T) {
			req := c.h.Write()
			require.Equal(t, c.vout, req)
		})
	}
}

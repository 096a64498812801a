package description

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rtspcore/rtspingest/pkg/base"
	"github.com/rtspcore/rtspingest/pkg/sdp"
)

func TestSessionUnmarshal(t *testing.T) {
	byts := []byte("v=0\r\n" +
		"o=- 123456 0 IN IP4 127.0.0.1\r\n" +
		"s=stream\r\n" +
		"t=0 0\r\n" +
		"m=video 0 RTP/AVP 96\r\n" +
		"a=rtpmap:96 H264/90000\r\n" +
		"a=control:trackID=0\r\n" +
		"m=audio 0 RTP/AVP 0\r\n" +
		"a=control:trackID=1\r\n")

	var sd sdp.SessionDescription
	err := sd.Unmarshal(byts)
	require.NoError(t, err)

	var desc Session
	err = desc.Unmarshal(&sd)
	require.NoError(t, err)

	require.Equal(t, "stream", desc.Title)
	require.Len(t, desc.Medias, 2)

	require.Equal(t, MediaTypeVideo, desc.Medias[0].Type)
	require.Equal(t, "trackID=0", desc.Medias[0].Control)
	require.Len(t, desc.Medias[0].Formats, 1)
	require.Equal(t, uint8(96), desc.Medias[0].Formats[0].PayloadType)
	require.Equal(t, "H264", desc.Medias[0].Formats[0].EncodingName)
	require.Equal(t, uint32(90000), desc.Medias[0].Formats[0].ClockRate)

	require.Equal(t, MediaTypeAudio, desc.Medias[1].Type)
	require.Equal(t, uint8(0), desc.Medias[1].Formats[0].PayloadType)
	require.Equal(t, "PCMU", desc.Medias[1].Formats[0].EncodingName)
	require.Equal(t, uint32(8000), desc.Medias[1].Formats[0].ClockRate)
}

func TestSessionUnmarshalEmptyName(t *testing.T) {
	byts := []byte("v=0\r\n" +
		"o=- 123456 0 IN IP4 127.0.0.1\r\n" +
		"s= \r\n" +
		"t=0 0\r\n" +
		"m=video 0 RTP/AVP 96\r\n" +
		"a=rtpmap:96 H264/90000\r\n")

	var sd sdp.SessionDescription
	err := sd.Unmarshal(byts)
	require.NoError(t, err)

	var desc Session
	err = desc.Unmarshal(&sd)
	require.NoError(t, err)
	require.Equal(t, "", desc.Title)
}

func TestSessionUnmarshalNoMedias(t *testing.T) {
	byts := []byte("v=0\r\n" +
		"o=- 123456 0 IN IP4 127.0.0.1\r\n" +
		"s=stream\r\n" +
		"t=0 0\r\n")

	var sd sdp.SessionDescription
	err := sd.Unmarshal(byts)
	require.NoError(t, err)

	var desc Session
	err = desc.Unmarshal(&sd)
	require.Error(t, err)
}

func TestSessionUnmarshalDuplicateMID(t *testing.T) {
	byts := []byte("v=0\r\n" +
		"o=- 123456 0 IN IP4 127.0.0.1\r\n" +
		"s=stream\r\n" +
		"t=0 0\r\n" +
		"m=video 0 RTP/AVP 96\r\n" +
		"a=mid:0\r\n" +
		"a=rtpmap:96 H264/90000\r\n" +
		"m=audio 0 RTP/AVP 0\r\n" +
		"a=mid:0\r\n")

	var sd sdp.SessionDescription
	err := sd.Unmarshal(byts)
	require.NoError(t, err)

	var desc Session
	err = desc.Unmarshal(&sd)
	require.Error(t, err)
}

func TestSessionUnmarshalFECGroup(t *testing.T) {
	byts := []byte("v=0\r\n" +
		"o=- 123456 0 IN IP4 127.0.0.1\r\n" +
		"s=stream\r\n" +
		"t=0 0\r\n" +
		"a=group:FEC 0 1\r\n" +
		"m=video 0 RTP/AVP 96\r\n" +
		"a=mid:0\r\n" +
		"a=rtpmap:96 H264/90000\r\n" +
		"m=video 0 RTP/AVP 97\r\n" +
		"a=mid:1\r\n" +
		"a=rtpmap:97 H264/90000\r\n")

	var sd sdp.SessionDescription
	err := sd.Unmarshal(byts)
	require.NoError(t, err)

	var desc Session
	err = desc.Unmarshal(&sd)
	require.NoError(t, err)
	require.Equal(t, []SessionFECGroup{{"0", "1"}}, desc.FECGroups)
}

func TestSessionMarshal(t *testing.T) {
	desc := Session{
		Title: "stream",
		Medias: []*Media{
			{
				Type:    MediaTypeVideo,
				Control: "trackID=0",
				Formats: []*Format{
					{PayloadType: 96, EncodingName: "H264", ClockRate: 90000,
						FMTP: map[string]string{"packetization-mode": "1"}},
				},
			},
		},
	}

	byts, err := desc.Marshal(false)
	require.NoError(t, err)
	require.Contains(t, string(byts), "s=stream")
	require.Contains(t, string(byts), "m=video 0 RTP/AVP 96")
	require.Contains(t, string(byts), "a=rtpmap:96 H264/90000")
	require.Contains(t, string(byts), "a=fmtp:96 packetization-mode=1")
	require.Contains(t, string(byts), "a=control:trackID=0")
}

func TestSessionMarshalMulticast(t *testing.T) {
	desc := Session{
		Multicast: true,
		Medias: []*Media{
			{Type: MediaTypeAudio, Formats: []*Format{{PayloadType: 0, EncodingName: "PCMU", ClockRate: 8000}}},
		},
	}

	byts, err := desc.Marshal(false)
	require.NoError(t, err)
	require.Contains(t, string(byts), "c=IN IP4 224.1.0.0")
}

func TestSessionFindFormat(t *testing.T) {
	desc := Session{
		Medias: []*Media{
			{Type: MediaTypeVideo, Formats: []*Format{{PayloadType: 96, EncodingName: "H264", ClockRate: 90000}}},
			{Type: MediaTypeAudio, Formats: []*Format{{PayloadType: 0, EncodingName: "PCMU", ClockRate: 8000}}},
		},
	}

	media, forma := desc.FindFormat(0)
	require.NotNil(t, media)
	require.NotNil(t, forma)
	require.Equal(t, MediaTypeAudio, media.Type)
	require.Equal(t, "PCMU", forma.EncodingName)

	media, forma = desc.FindFormat(99)
	require.Nil(t, media)
	require.Nil(t, forma)
}

func mustParseBaseURL(t *testing.T, s string) *base.URL {
	u, err := base.ParseURL(s)
	require.NoError(t, err)
	return u
}

func TestSessionRoundTrip(t *testing.T) {
	desc := Session{
		BaseURL: mustParseBaseURL(t, "rtsp://localhost/stream"),
		Title:   "cam",
		Medias: []*Media{
			{Type: MediaTypeVideo, Control: "trackID=0",
				Formats: []*Format{{PayloadType: 96, EncodingName: "H264", ClockRate: 90000}}},
		},
	}

	byts, err := desc.Marshal(false)
	require.NoError(t, err)

	var sd sdp.SessionDescription
	err = sd.Unmarshal(byts)
	require.NoError(t, err)

	var desc2 Session
	err = desc2.Unmarshal(&sd)
	require.NoError(t, err)

	require.Equal(t, desc.Title, desc2.Title)
	require.Equal(t, len(desc.Medias), len(desc2.Medias))
	require.Equal(t, desc.Medias[0].Formats[0].PayloadType, desc2.Medias[0].Formats[0].PayloadType)
	require.Equal(t, desc.Medias[0].Formats[0].ClockRate, desc2.Medias[0].Formats[0].ClockRate)
}

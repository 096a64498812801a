// Package description contains objects to describe streams parsed out of
// an SDP answer to DESCRIBE.
package description

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	psdp "github.com/pion/sdp/v3"

	"github.com/rtspcore/rtspingest/pkg/base"
	"github.com/rtspcore/rtspingest/pkg/headers"
)

func getAttribute(attributes []psdp.Attribute, key string) string {
	for _, attr := range attributes {
		if attr.Key == key {
			return attr.Value
		}
	}
	return ""
}

func findDirection(attributes []psdp.Attribute) Direction {
	for _, attr := range attributes {
		switch attr.Key {
		case "sendonly":
			return DirectionSendOnly
		case "recvonly":
			return DirectionRecvOnly
		case "sendrecv":
			return DirectionSendRecv
		}
	}
	return DirectionSendRecv
}

func sortedKeys(fmtp map[string]string) []string {
	keys := make([]string, len(fmtp))
	i := 0
	for key := range fmtp {
		keys[i] = key
		i++
	}
	sort.Strings(keys)
	return keys
}

func isAlphaNumeric(v string) bool {
	for _, r := range v {
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			return false
		}
	}
	return true
}

// MediaType is the type of a media stream.
type MediaType string

// media types.
const (
	MediaTypeVideo       MediaType = "video"
	MediaTypeAudio       MediaType = "audio"
	MediaTypeApplication MediaType = "application"
)

// Direction is the direction of a media stream, taken from the
// sendonly/recvonly/sendrecv SDP attributes.
type Direction int

// media stream directions.
const (
	DirectionSendRecv Direction = iota
	DirectionSendOnly
	DirectionRecvOnly
)

func (d Direction) String() string {
	switch d {
	case DirectionSendOnly:
		return "sendonly"
	case DirectionRecvOnly:
		return "recvonly"
	default:
		return "sendrecv"
	}
}

// Format is a single rtpmap/fmtp pairing found on a media line. Unlike the
// per-codec depayloaders this core intentionally omits, a Format carries
// only the fields the session controller and transport negotiator read:
// the wire payload type, the clock rate used to timestamp RTP packets,
// and the raw encoding parameters for whatever downstream collaborator
// ends up depayloading the stream.
type Format struct {
	// PayloadType is the RTP payload type number (rtpmap / static PT table).
	PayloadType uint8

	// EncodingName is the codec name from rtpmap (e.g. "H264", "PCMU"),
	// or empty for a static payload type with no rtpmap line.
	EncodingName string

	// ClockRate is the RTP clock rate, in Hz.
	ClockRate uint32

	// Channels is the encoding parameter count, for audio formats (e.g. 2
	// for stereo PCM). Zero when not specified.
	Channels int

	// FMTP holds the format-specific parameters from the fmtp attribute,
	// if any, keyed by parameter name.
	FMTP map[string]string
}

// staticPayloadTypeClockRates covers the RTP static payload type table
// (RFC 3551 §6) for the entries a rtpmap-less m= line can reference.
var staticPayloadTypeClockRates = map[uint8]struct {
	name string
	rate uint32
}{
	0:  {"PCMU", 8000},
	3:  {"GSM", 8000},
	4:  {"G723", 8000},
	5:  {"DVI4", 8000},
	6:  {"DVI4", 16000},
	7:  {"LPC", 8000},
	8:  {"PCMA", 8000},
	9:  {"G722", 8000},
	10: {"L16", 44100},
	11: {"L16", 44100},
	12: {"QCELP", 8000},
	13: {"CN", 8000},
	14: {"MPA", 90000},
	15: {"G728", 8000},
	16: {"DVI4", 11025},
	17: {"DVI4", 22050},
	18: {"G729", 8000},
	25: {"CelB", 90000},
	26: {"JPEG", 90000},
	28: {"nv", 90000},
	31: {"H261", 90000},
	32: {"MPV", 90000},
	33: {"MP2T", 90000},
	34: {"H263", 90000},
}

func unmarshalFormat(md *psdp.MediaDescription, payloadType uint8) (*Format, error) {
	forma := &Format{PayloadType: payloadType}

	rtpmap := getAttribute(md.Attributes, "rtpmap")
	prefix := strconv.FormatUint(uint64(payloadType), 10) + " "

	found := false
	for _, attr := range md.Attributes {
		if attr.Key == "rtpmap" && strings.HasPrefix(attr.Value, prefix) {
			found = true
			rtpmap = attr.Value[len(prefix):]
			break
		}
	}

	if found {
		parts := strings.Split(rtpmap, "/")
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid rtpmap: %v", rtpmap)
		}

		forma.EncodingName = strings.ToUpper(parts[0])

		clockRate, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid clock rate in rtpmap: %v", rtpmap)
		}
		forma.ClockRate = uint32(clockRate)

		if len(parts) >= 3 {
			channels, err := strconv.Atoi(parts[2])
			if err == nil {
				forma.Channels = channels
			}
		}
	} else if static, ok := staticPayloadTypeClockRates[payloadType]; ok {
		forma.EncodingName = static.name
		forma.ClockRate = static.rate
	} else {
		return nil, fmt.Errorf("unable to find rtpmap for payload type %d", payloadType)
	}

	fmtpPrefix := prefix
	for _, attr := range md.Attributes {
		if attr.Key == "fmtp" && strings.HasPrefix(attr.Value, fmtpPrefix) {
			forma.FMTP = make(map[string]string)
			for _, kv := range strings.Split(attr.Value[len(fmtpPrefix):], ";") {
				kv = strings.TrimSpace(kv)
				if kv == "" {
					continue
				}
				i := strings.IndexByte(kv, '=')
				if i < 0 {
					forma.FMTP[kv] = ""
					continue
				}
				forma.FMTP[kv[:i]] = kv[i+1:]
			}
			break
		}
	}

	return forma, nil
}

// Marshal encodes the format as a pair of rtpmap/fmtp attributes.
func (f Format) Marshal(attrs *[]psdp.Attribute) {
	typ := strconv.FormatUint(uint64(f.PayloadType), 10)

	if f.EncodingName != "" {
		rtpmap := f.EncodingName + "/" + strconv.FormatUint(uint64(f.ClockRate), 10)
		if f.Channels > 0 {
			rtpmap += "/" + strconv.Itoa(f.Channels)
		}

		*attrs = append(*attrs, psdp.Attribute{
			Key:   "rtpmap",
			Value: typ + " " + rtpmap,
		})
	}

	if len(f.FMTP) != 0 {
		tmp := make([]string, len(f.FMTP))
		for i, key := range sortedKeys(f.FMTP) {
			tmp[i] = key + "=" + f.FMTP[key]
		}

		*attrs = append(*attrs, psdp.Attribute{
			Key:   "fmtp",
			Value: typ + " " + strings.Join(tmp, "; "),
		})
	}
}

// Media is a media stream: one per m= line in SDP.
type Media struct {
	// Media type.
	Type MediaType

	// Media ID (optional, from the mid attribute).
	ID string

	// Whether this media is a back channel.
	IsBackChannel bool

	// RTP Profile.
	Profile headers.TransportProfile

	// Direction, from sendonly/recvonly/sendrecv.
	Direction Direction

	// Control attribute.
	Control string

	// Formats contained in the media. The session controller takes the
	// clock rate of one (see Media.PrimaryFormat) for the stream's RTCP
	// receiver.
	Formats []*Format
}

// Unmarshal decodes the media from the SDP format.
func (m *Media) Unmarshal(md *psdp.MediaDescription) error {
	m.Type = MediaType(md.MediaName.Media)

	m.ID = getAttribute(md.Attributes, "mid")
	if m.ID != "" && !isAlphaNumeric(m.ID) {
		return fmt.Errorf("invalid mid: %v", m.ID)
	}

	m.Direction = findDirection(md.Attributes)
	m.IsBackChannel = m.Direction == DirectionSendOnly && string(md.MediaName.Media) == "audio"

	if hasProto(md.MediaName.Protos, "SAVP") {
		m.Profile = headers.TransportProfileSAVP
	} else {
		m.Profile = headers.TransportProfileAVP
	}

	m.Control = getAttribute(md.Attributes, "control")

	m.Formats = nil

	for _, rawPT := range md.MediaName.Formats {
		pt, err := strconv.ParseUint(rawPT, 10, 8)
		if err != nil {
			return fmt.Errorf("invalid payload type: %v", rawPT)
		}

		forma, err := unmarshalFormat(md, uint8(pt))
		if err != nil {
			return err
		}

		m.Formats = append(m.Formats, forma)
	}

	if m.Formats == nil {
		return fmt.Errorf("no formats found")
	}

	return nil
}

func hasProto(protos []string, want string) bool {
	for _, p := range protos {
		if p == want {
			return true
		}
	}
	return false
}

// PrimaryFormat returns the format whose clock rate the session
// controller uses for the MediaStream's RTCP receiver: the first format
// listed on the m= line.
func (m Media) PrimaryFormat() *Format {
	if len(m.Formats) == 0 {
		return nil
	}
	return m.Formats[0]
}

// Marshal encodes the media in SDP format.
func (m Media) Marshal() *psdp.MediaDescription {
	var protos []string

	if m.Profile == headers.TransportProfileSAVP {
		protos = []string{"RTP", "SAVP"}
	} else {
		protos = []string{"RTP", "AVP"}
	}

	md := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:  string(m.Type),
			Protos: protos,
		},
	}

	if m.ID != "" {
		md.Attributes = append(md.Attributes, psdp.Attribute{
			Key:   "mid",
			Value: m.ID,
		})
	}

	switch m.Direction {
	case DirectionSendOnly:
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "sendonly"})
	case DirectionRecvOnly:
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "recvonly"})
	}

	md.Attributes = append(md.Attributes, psdp.Attribute{
		Key:   "control",
		Value: m.Control,
	})

	for _, forma := range m.Formats {
		typ := strconv.FormatUint(uint64(forma.PayloadType), 10)
		md.MediaName.Formats = append(md.MediaName.Formats, typ)
		forma.Marshal(&md.Attributes)
	}

	return md
}

// URL returns the absolute URL of the media.
func (m Media) URL(contentBase *base.URL) (*base.URL, error) {
	if contentBase == nil {
		return nil, fmt.Errorf("Content-Base header not provided")
	}

	// no control attribute, use base URL
	if m.Control == "" {
		return contentBase, nil
	}

	// control attribute contains an absolute path
	if strings.HasPrefix(m.Control, "rtsp://") ||
		strings.HasPrefix(m.Control, "rtsps://") {
		ur, err := base.ParseURL(m.Control)
		if err != nil {
			return nil, err
		}

		// copy host and credentials
		ur.Host = contentBase.Host
		ur.User = contentBase.User
		return ur, nil
	}

	// control attribute contains a relative control attribute
	// insert the control attribute at the end of the URL
	// if there's a query, insert it after the query
	// otherwise insert it after the path
	strURL := contentBase.String()
	if m.Control[0] != '?' && m.Control[0] != '/' && !strings.HasSuffix(strURL, "/") {
		strURL += "/"
	}

	ur, _ := base.ParseURL(strURL + m.Control)
	return ur, nil
}

// FindFormat finds the format with the given payload type among the
// media's formats.
func (m Media) FindFormat(payloadType uint8) *Format {
	for _, forma := range m.Formats {
		if forma.PayloadType == payloadType {
			return forma
		}
	}
	return nil
}

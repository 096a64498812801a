package transport

import (
	"fmt"
	"net"

	"github.com/rtspcore/rtspingest/pkg/headers"
	"github.com/rtspcore/rtspingest/pkg/liberrors"
)

// RequestHeader builds the Transport header value to send in a SETUP
// request for the given candidate Kind. clientRTPPort/clientRTCPPort
// are used for UDP unicast; interleavedBase picks the pair of
// interleaved channel IDs for TCP.
func RequestHeader(kind Kind, clientRTPPort, clientRTCPPort, interleavedBase int) headers.Transport {
	switch kind {
	case KindTCPInterleaved, KindHTTPTunneled, KindWSTunneled:
		ids := [2]int{interleavedBase, interleavedBase + 1}
		return headers.Transport{
			Protocol:       headers.TransportProtocolTCP,
			InterleavedIDs: &ids,
		}

	case KindUDPMulticast:
		delivery := headers.TransportDeliveryMulticast
		return headers.Transport{
			Protocol: headers.TransportProtocolUDP,
			Delivery: &delivery,
		}

	default: // KindUDPUnicast
		delivery := headers.TransportDeliveryUnicast
		ports := [2]int{clientRTPPort, clientRTCPPort}
		return headers.Transport{
			Protocol:    headers.TransportProtocolUDP,
			Delivery:    &delivery,
			ClientPorts: &ports,
		}
	}
}

// ParseAnswer reconciles the Transport header a server returned in its
// SETUP response with the Kind that was requested, producing the
// negotiated Descriptor. serverAddr is the control connection's remote
// host, used as the default RTP/RTCP destination when the answer omits
// "source".
func ParseAnswer(requested Kind, th headers.Transport, serverAddr string) (Descriptor, error) {
	switch requested {
	case KindTCPInterleaved, KindHTTPTunneled, KindWSTunneled:
		if th.Protocol != headers.TransportProtocolTCP || th.InterleavedIDs == nil {
			return Descriptor{}, liberrors.SetupError{
				Err: fmt.Errorf("server did not confirm interleaved transport"),
			}
		}
		return Descriptor{
			Kind:        requested,
			RTPChannel:  th.InterleavedIDs[0],
			RTCPChannel: th.InterleavedIDs[1],
		}, nil

	default:
		if th.Protocol != headers.TransportProtocolUDP || th.ServerPorts == nil {
			return Descriptor{}, liberrors.SetupError{
				Err: fmt.Errorf("server did not return UDP server ports"),
			}
		}

		host := serverAddr
		if th.Source != nil {
			host = th.Source.String()
		}

		desc := Descriptor{Kind: requested}

		if th.Delivery != nil && *th.Delivery == headers.TransportDeliveryMulticast {
			desc.Kind = KindUDPMulticast
			if th.Destination != nil {
				desc.MulticastGroup = *th.Destination
			}
			if th.TTL != nil {
				desc.TTL = int(*th.TTL)
			}
		}

		rtpAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, th.ServerPorts[0]))
		if err != nil {
			return Descriptor{}, liberrors.SetupError{Err: err}
		}
		rtcpAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, th.ServerPorts[1]))
		if err != nil {
			return Descriptor{}, liberrors.SetupError{Err: err}
		}
		desc.RemoteRTPAddr = rtpAddr
		desc.RemoteRTCPAddr = rtcpAddr

		return desc, nil
	}
}

// Candidates returns the ordered list of Kind values to attempt during
// SETUP negotiation for a media stream, derived from the configured
// lower-transport priority. lowerTransports elements are the
// rtspingest.LowerTransport int values; kept as int here to avoid an
// import cycle with the root package.
func Candidates(lowerTransports []int) []Kind {
	out := make([]Kind, 0, len(lowerTransports))
	for _, lt := range lowerTransports {
		switch lt {
		case 0: // TransportUDPMulticast
			out = append(out, KindUDPMulticast)
		case 1: // TransportUDP
			out = append(out, KindUDPUnicast)
		case 2: // TransportTCP
			out = append(out, KindTCPInterleaved)
		case 3: // TransportHTTP
			out = append(out, KindHTTPTunneled)
		}
	}
	return out
}

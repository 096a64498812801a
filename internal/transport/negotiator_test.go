package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rtspcore/rtspingest/pkg/headers"
)

func TestRequestHeaderTCPInterleaved(t *testing.T) {
	th := RequestHeader(KindTCPInterleaved, 0, 0, 4)
	require.Equal(t, headers.TransportProtocolTCP, th.Protocol)
	require.Equal(t, &[2]int{4, 5}, th.InterleavedIDs)
}

func TestRequestHeaderUDPUnicast(t *testing.T) {
	th := RequestHeader(KindUDPUnicast, 8000, 8001, 0)
	require.Equal(t, headers.TransportProtocolUDP, th.Protocol)
	require.NotNil(t, th.Delivery)
	require.Equal(t, headers.TransportDeliveryUnicast, *th.Delivery)
	require.Equal(t, &[2]int{8000, 8001}, th.ClientPorts)
}

func TestRequestHeaderUDPMulticast(t *testing.T) {
	th := RequestHeader(KindUDPMulticast, 0, 0, 0)
	require.NotNil(t, th.Delivery)
	require.Equal(t, headers.TransportDeliveryMulticast, *th.Delivery)
}

func TestParseAnswerTCP(t *testing.T) {
	ids := [2]int{4, 5}
	desc, err := ParseAnswer(KindTCPInterleaved, headers.Transport{
		Protocol:       headers.TransportProtocolTCP,
		InterleavedIDs: &ids,
	}, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, 4, desc.RTPChannel)
	require.Equal(t, 5, desc.RTCPChannel)
}

func TestParseAnswerTCPMissingIDs(t *testing.T) {
	_, err := ParseAnswer(KindTCPInterleaved, headers.Transport{
		Protocol: headers.TransportProtocolTCP,
	}, "10.0.0.1")
	require.Error(t, err)
}

func TestParseAnswerUDPUnicast(t *testing.T) {
	ports := [2]int{6000, 6001}
	desc, err := ParseAnswer(KindUDPUnicast, headers.Transport{
		Protocol:    headers.TransportProtocolUDP,
		ServerPorts: &ports,
	}, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, KindUDPUnicast, desc.Kind)
	require.Equal(t, 6000, desc.RemoteRTPAddr.Port)
	require.Equal(t, 6001, desc.RemoteRTCPAddr.Port)
	require.Equal(t, "10.0.0.1", desc.RemoteRTPAddr.IP.String())
}

func TestParseAnswerUDPMulticastUpgrade(t *testing.T) {
	ports := [2]int{6000, 6001}
	delivery := headers.TransportDeliveryMulticast
	desc, err := ParseAnswer(KindUDPUnicast, headers.Transport{
		Protocol:    headers.TransportProtocolUDP,
		Delivery:    &delivery,
		ServerPorts: &ports,
	}, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, KindUDPMulticast, desc.Kind)
}

func TestCandidates(t *testing.T) {
	got := Candidates([]int{1, 2})
	require.Equal(t, []Kind{KindUDPUnicast, KindTCPInterleaved}, got)
}

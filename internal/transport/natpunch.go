package transport

import (
	"context"
	"net"

	"golang.org/x/time/rate"
)

// dummyBurstCount is the number of dummy packets sent on each plane to
// open the outbound NAT mapping before PLAY (spec §4.3).
const dummyBurstCount = 3

// dummyBurstRate paces the burst so it reads as ordinary traffic
// rather than a flood, via golang.org/x/time/rate.
const dummyBurstRate = rate.Limit(20)

// a zero-length UDP payload is enough to carry a NAT binding; servers
// ignore packets that don't parse as RTP/RTCP.
var dummyPacket = []byte{}

// PunchNAT sends a short, rate-limited burst of dummy datagrams from
// rtpConn/rtcpConn to rtpAddr/rtcpAddr, opening the outbound NAT
// mapping so the server's replies on the same 5-tuple aren't dropped.
// Only meaningful for UDP unicast; callers skip it for other kinds.
func PunchNAT(ctx context.Context, rtpConn, rtcpConn net.PacketConn, rtpAddr, rtcpAddr *net.UDPAddr) error {
	limiter := rate.NewLimiter(dummyBurstRate, 2)

	for i := 0; i < dummyBurstCount; i++ {
		if rtpConn != nil && rtpAddr != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			if _, err := rtpConn.WriteTo(dummyPacket, rtpAddr); err != nil {
				return err
			}
		}
		if rtcpConn != nil && rtcpAddr != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			if _, err := rtcpConn.WriteTo(dummyPacket, rtcpAddr); err != nil {
				return err
			}
		}
	}

	return nil
}

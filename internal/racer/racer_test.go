package racer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) (net.Listener, string) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return l, l.Addr().String()
}

func TestRaceFirstWinsPicksFastest(t *testing.T) {
	slow, slowAddr := listen(t)
	defer slow.Close()
	fast, fastAddr := listen(t)
	defer fast.Close()

	go func() {
		c, err := fast.Accept()
		if err == nil {
			defer c.Close()
		}
	}()
	go func() {
		c, err := slow.Accept()
		if err == nil {
			defer c.Close()
		}
	}()

	cc, err := Race(context.Background(), Options{
		Candidates:   []string{slowAddr, fastAddr},
		StaggerDelay: time.Millisecond,
		Timeout:      2 * time.Second,
		DialContext:  (&net.Dialer{}).DialContext,
	})
	require.NoError(t, err)
	require.NotNil(t, cc)
	cc.Close()
}

func TestRaceAllCandidatesFail(t *testing.T) {
	_, err := Race(context.Background(), Options{
		Candidates:   []string{"127.0.0.1:1"},
		StaggerDelay: time.Millisecond,
		Timeout:      time.Second,
		DialContext:  (&net.Dialer{}).DialContext,
	})
	require.Error(t, err)
}

func TestRaceTimeout(t *testing.T) {
	_, err := Race(context.Background(), Options{
		Candidates:   []string{"10.255.255.1:554"},
		StaggerDelay: time.Millisecond,
		Timeout:      50 * time.Millisecond,
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	require.Error(t, err)
}

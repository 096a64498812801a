package base

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// URL is a RTSP URL.
// This is basically an HTTP URL with some additional functions to handle
// control attributes and the scheme variants used to hint at a lower
// transport and/or tunnel.
type URL url.URL

var escapeRegexp = regexp.MustCompile(`^(.+?)://(.*?)@(.*?)/(.*?)$`)

// LowerTransportHint is a transport hint carried by a URL scheme.
type LowerTransportHint int

// lower transport hints.
const (
	// LowerTransportHintAuto leaves transport selection to protocol priority.
	LowerTransportHintAuto LowerTransportHint = iota
	// LowerTransportHintUDP forces UDP unicast.
	LowerTransportHintUDP
	// LowerTransportHintTCP forces TCP interleaved.
	LowerTransportHintTCP
	// LowerTransportHintHTTP forces HTTP tunneling.
	LowerTransportHintHTTP
	// LowerTransportHintWS forces WebSocket tunneling.
	LowerTransportHintWS
)

// schemeInfo describes the effective network scheme, TLS requirement and
// lower-transport hint carried by each recognized URL scheme.
type schemeInfo struct {
	networkScheme string
	tls           bool
	hint          LowerTransportHint
}

var schemeTable = map[string]schemeInfo{
	"rtsp":    {"rtsp", false, LowerTransportHintAuto},
	"rtspu":   {"rtsp", false, LowerTransportHintUDP},
	"rtspt":   {"rtsp", false, LowerTransportHintTCP},
	"rtsph":   {"rtsp", false, LowerTransportHintHTTP},
	"rtsps":   {"rtsps", true, LowerTransportHintAuto},
	"rtspsu":  {"rtsps", true, LowerTransportHintUDP},
	"rtspst":  {"rtsps", true, LowerTransportHintTCP},
	"rtspsh":  {"rtsps", true, LowerTransportHintHTTP},
	"rtspws":  {"rtsp", false, LowerTransportHintWS},
	"rtspwss": {"rtsps", true, LowerTransportHintWS},
}

// ParseURL parses a RTSP URL, recognizing the rtsp[s|u|t|h]/rtspws[s]
// scheme surface of the configuration surface.
func ParseURL(s string) (*URL, error) {
	// https://github.com/golang/go/issues/30611
	m := escapeRegexp.FindStringSubmatch(s)
	if m != nil {
		m[3] = strings.ReplaceAll(m[3], "%25", "%")
		m[3] = strings.ReplaceAll(m[3], "%", "%25")
		s = m[1] + "://" + m[2] + "@" + m[3] + "/" + m[4]
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}

	if _, ok := schemeTable[u.Scheme]; !ok {
		return nil, fmt.Errorf("unsupported scheme '%s'", u.Scheme)
	}

	if u.Opaque != "" {
		return nil, fmt.Errorf("URLs with opaque data are not supported")
	}

	if u.Fragment != "" {
		return nil, fmt.Errorf("URLs with fragments are not supported")
	}

	return (*URL)(u), nil
}

// String implements fmt.Stringer.
func (u *URL) String() string {
	return (*url.URL)(u).String()
}

// Clone clones a URL.
func (u *URL) Clone() *URL {
	return (*URL)(&url.URL{
		Scheme:     u.Scheme,
		User:       u.User,
		Host:       u.Host,
		Path:       u.Path,
		RawPath:    u.RawPath,
		ForceQuery: u.ForceQuery,
		RawQuery:   u.RawQuery,
	})
}

// CloneWithoutCredentials clones a URL without its credentials.
func (u *URL) CloneWithoutCredentials() *URL {
	return (*URL)(&url.URL{
		Scheme:     u.Scheme,
		Host:       u.Host,
		Path:       u.Path,
		RawPath:    u.RawPath,
		ForceQuery: u.ForceQuery,
		RawQuery:   u.RawQuery,
	})
}

// NetworkScheme returns the scheme to use when resolving/connecting
// ("rtsp" or "rtsps"), independent of the lower-transport hint encoded
// in the original scheme.
func (u *URL) NetworkScheme() string {
	if info, ok := schemeTable[u.Scheme]; ok {
		return info.networkScheme
	}
	return u.Scheme
}

// TLS reports whether the scheme requires a TLS-wrapped control connection.
func (u *URL) TLS() bool {
	if info, ok := schemeTable[u.Scheme]; ok {
		return info.tls
	}
	return false
}

// TransportHint returns the lower-transport hint carried by the scheme.
func (u *URL) TransportHint() LowerTransportHint {
	if info, ok := schemeTable[u.Scheme]; ok {
		return info.hint
	}
	return LowerTransportHintAuto
}

// RTSPPathAndQuery returns the path and query of a RTSP URL.
func (u *URL) RTSPPathAndQuery() string {
	var pathAndQuery string
	if u.RawPath != "" {
		pathAndQuery = u.RawPath
	} else {
		pathAndQuery = u.Path
	}
	if u.RawQuery != "" {
		pathAndQuery += "?" + u.RawQuery
	}

	return pathAndQuery
}

// Hostname returns u.Host, stripping any valid port number if present.
//
// If the result is enclosed in square brackets, as literal IPv6 addresses are,
// the square brackets are removed from the result.
func (u *URL) Hostname() string {
	return (*url.URL)(u).Hostname()
}

// Port returns the port part of u.Host, without the leading colon.
//
// If u.Host doesn't contain a valid numeric port, Port returns an empty string.
func (u *URL) Port() string {
	return (*url.URL)(u).Port()
}

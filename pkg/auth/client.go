// Package auth implements client-side RTSP authentication (RFC 2617 Basic
// and Digest), used by the session controller whenever a request is
// answered with a 401 Unauthorized.
package auth

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/rtspcore/rtspingest/pkg/base"
	"github.com/rtspcore/rtspingest/pkg/headers"
)

func md5Hex(in string) string {
	h := md5.Sum([]byte(in))
	return hex.EncodeToString(h[:])
}

// Client authenticates requests against a single challenge issued by a
// server, caching the realm/nonce for the lifetime of the session and
// incrementing the Digest nonce count on every generated header.
type Client struct {
	user string
	pass string

	method headers.AuthMethod
	realm  string
	nonce  string

	// qop is non-empty when the server advertised qop=auth; in that
	// case each request carries a fresh cnonce and an incrementing nc.
	qop string
	nc  uint32
}

// NewClient allocates a Client from the WWW-Authenticate header provided by
// the server and a set of credentials. Digest is preferred over Basic when
// the server advertises both.
func NewClient(v base.HeaderValue, userinfo *url.Userinfo) (*Client, error) {
	pass, _ := userinfo.Password()
	user := userinfo.Username()

	if hv := findMethod(v, "Digest "); hv != "" {
		var auth headers.Authenticate
		err := auth.Read(base.HeaderValue{hv})
		if err != nil {
			return nil, err
		}

		if auth.Realm == nil {
			return nil, fmt.Errorf("realm not provided")
		}

		if auth.Nonce == nil {
			return nil, fmt.Errorf("nonce not provided")
		}

		qop := ""
		if auth.Qop != nil && hasQopAuth(*auth.Qop) {
			qop = "auth"
		}

		return &Client{
			user:   user,
			pass:   pass,
			method: headers.AuthDigest,
			realm:  *auth.Realm,
			nonce:  *auth.Nonce,
			qop:    qop,
		}, nil
	}

	if hv := findMethod(v, "Basic "); hv != "" {
		var auth headers.Authenticate
		err := auth.Read(base.HeaderValue{hv})
		if err != nil {
			return nil, err
		}

		if auth.Realm == nil {
			return nil, fmt.Errorf("realm not provided")
		}

		return &Client{
			user:   user,
			pass:   pass,
			method: headers.AuthBasic,
			realm:  *auth.Realm,
		}, nil
	}

	return nil, fmt.Errorf("there are no authentication methods available")
}

func findMethod(v base.HeaderValue, prefix string) string {
	for _, vi := range v {
		if strings.HasPrefix(vi, prefix) {
			return vi
		}
	}
	return ""
}

// hasQopAuth reports whether the qop challenge value (which may be a
// quoted, comma-separated list such as "auth,auth-int") offers "auth".
func hasQopAuth(v string) bool {
	for _, part := range strings.Split(v, ",") {
		if strings.TrimSpace(part) == "auth" {
			return true
		}
	}
	return false
}

// GenerateHeader generates an Authorization header that authenticates a
// request with the given method and URL. Every call to a Digest client
// with qop=auth advances the nonce count and mints a new cnonce.
func (ac *Client) GenerateHeader(method base.Method, ur *base.URL) base.HeaderValue {
	urStr := ur.CloneWithoutCredentials().String()

	switch ac.method {
	case headers.AuthBasic:
		response := base64.StdEncoding.EncodeToString([]byte(ac.user + ":" + ac.pass))
		return base.HeaderValue{"Basic " + response}

	case headers.AuthDigest:
		ha1 := md5Hex(ac.user + ":" + ac.realm + ":" + ac.pass)
		ha2 := md5Hex(string(method) + ":" + urStr)

		auth := headers.Authenticate{
			Method:   headers.AuthDigest,
			Username: &ac.user,
			Realm:    &ac.realm,
			Nonce:    &ac.nonce,
			URI:      &urStr,
		}

		if ac.qop == "auth" {
			nc := atomic.AddUint32(&ac.nc, 1)
			ncHex := fmt.Sprintf("%08x", nc)

			cnonce, err := GenerateNonce()
			if err != nil {
				cnonce = "00000000000000000000000000000000"
			}

			response := md5Hex(ha1 + ":" + ac.nonce + ":" + ncHex + ":" + cnonce + ":auth:" + ha2)
			qop := "auth"

			auth.Response = &response
			auth.Qop = &qop
			auth.Nc = &ncHex
			auth.CNonce = &cnonce
		} else {
			response := md5Hex(ha1 + ":" + ac.nonce + ":" + ha2)
			auth.Response = &response
		}

		return auth.Write()
	}

	return nil
}

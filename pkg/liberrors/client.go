// Package liberrors contains the typed error taxonomy that the message
// codec, authenticator, transport negotiator, and connection racer use
// to report failures to the session controller. Each taxonomy kind
// knows whether it is recoverable by the retry controller or fatal.
package liberrors

import (
	"fmt"

	"github.com/rtspcore/rtspingest/pkg/base"
)

// ResolveError is returned when DNS resolution or URL parsing of the
// target fails. Always recoverable: the retry controller schedules
// another attempt.
type ResolveError struct {
	Err error
}

// Error implements the error interface.
func (e ResolveError) Error() string {
	return fmt.Sprintf("resolve error: %v", e.Err)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped cause.
func (e ResolveError) Unwrap() error { return e.Err }

// Recoverable reports whether the retry controller should retry.
func (e ResolveError) Recoverable() bool { return true }

// ConnectError is returned when every candidate connection (direct,
// proxied, or racing variants) fails before tcp_timeout elapses.
type ConnectError struct {
	Err error
}

// Error implements the error interface.
func (e ConnectError) Error() string {
	return fmt.Sprintf("connect error: %v", e.Err)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped cause.
func (e ConnectError) Unwrap() error { return e.Err }

// Recoverable reports whether the retry controller should retry.
func (e ConnectError) Recoverable() bool { return true }

// ProtocolError is returned by the message codec on malformed framing,
// an unparseable status line, or unterminated headers. Recoverable the
// first time it occurs for a session; fatal if it recurs immediately
// after a reconnect (the session controller then sets Repeated), since
// that points at a codec mismatch rather than a transient network glitch.
type ProtocolError struct {
	Err      error
	Repeated bool
}

// Error implements the error interface.
func (e ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %v", e.Err)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped cause.
func (e ProtocolError) Unwrap() error { return e.Err }

// Recoverable reports whether the retry controller should retry.
func (e ProtocolError) Recoverable() bool { return !e.Repeated }

// AuthError is returned when two consecutive 401 responses are received
// for the same request after the offered authentication scheme has
// been attempted. Always fatal.
type AuthError struct {
	Err error
}

// Error implements the error interface.
func (e AuthError) Error() string {
	return fmt.Sprintf("authentication error: %v", e.Err)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped cause.
func (e AuthError) Unwrap() error { return e.Err }

// Recoverable reports whether the retry controller should retry.
func (e AuthError) Recoverable() bool { return false }

// SdpError is returned when the DESCRIBE response body is unparseable,
// or parses but contains no supported media. Always fatal: retrying
// will not change the server's SDP.
type SdpError struct {
	Err error
}

// Error implements the error interface.
func (e SdpError) Error() string {
	return fmt.Sprintf("SDP error: %v", e.Err)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped cause.
func (e SdpError) Unwrap() error { return e.Err }

// Recoverable reports whether the retry controller should retry.
func (e SdpError) Recoverable() bool { return false }

// SetupError is returned when the server rejects SETUP for every
// candidate transport of a selected stream. Fatal if it affects every
// selected stream; otherwise the affected stream is degraded to
// unusable and the session continues with the rest.
type SetupError struct {
	Err         error
	AllStreams  bool
	StreamIndex int
}

// Error implements the error interface.
func (e SetupError) Error() string {
	if e.AllStreams {
		return fmt.Sprintf("setup error on all streams: %v", e.Err)
	}
	return fmt.Sprintf("setup error on stream %d: %v", e.StreamIndex, e.Err)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped cause.
func (e SetupError) Unwrap() error { return e.Err }

// Recoverable reports whether the retry controller should retry.
func (e SetupError) Recoverable() bool { return !e.AllStreams }

// SessionError is returned when the server answers with a
// session-level error status (454 Session Not Found, 455 Method Not
// Valid In This State, 457 Invalid Range, ...) or the session times
// out. Recoverable: a fresh SETUP/session cycle usually clears it.
type SessionError struct {
	StatusCode base.StatusCode
	Err        error
}

// Error implements the error interface.
func (e SessionError) Error() string {
	return fmt.Sprintf("session error (status %d): %v", e.StatusCode, e.Err)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped cause.
func (e SessionError) Unwrap() error { return e.Err }

// Recoverable reports whether the retry controller should retry.
func (e SessionError) Recoverable() bool { return true }

// DataPlaneStall describes a selected stream on which no RTP packet
// arrived for the udp_reconnect window, and is recoverable. The session
// controller does not watch data-plane inactivity and never returns it.
type DataPlaneStall struct {
	StreamIndex int
}

// Error implements the error interface.
func (e DataPlaneStall) Error() string {
	return fmt.Sprintf("no RTP received on stream %d within the stall window", e.StreamIndex)
}

// Recoverable reports whether the retry controller should retry.
func (e DataPlaneStall) Recoverable() bool { return true }

// FlushError is returned when flush-start/flush-stop cannot be
// propagated through the delivery fabric. Fatal: it indicates pipeline
// corruption that a reconnect cannot repair.
type FlushError struct {
	Err error
}

// Error implements the error interface.
func (e FlushError) Error() string {
	return fmt.Sprintf("flush error: %v", e.Err)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped cause.
func (e FlushError) Unwrap() error { return e.Err }

// Recoverable reports whether the retry controller should retry.
func (e FlushError) Recoverable() bool { return false }

// UserCancel is returned when the host explicitly cancels the element
// (stop/teardown requested). Always fatal in the sense that no retry
// should follow; it is not a failure.
type UserCancel struct{}

// Error implements the error interface.
func (e UserCancel) Error() string { return "canceled by caller" }

// Recoverable reports whether the retry controller should retry.
func (e UserCancel) Recoverable() bool { return false }

// ErrClientTerminated is returned by any blocking call made after the
// client has been closed.
type ErrClientTerminated struct{}

// Error implements the error interface.
func (e ErrClientTerminated) Error() string {
	return "terminated"
}

// ErrClientInvalidState is returned when an operation is attempted from
// a session state that does not permit it.
type ErrClientInvalidState struct {
	AllowedList []fmt.Stringer
	State       fmt.Stringer
}

// Error implements the error interface.
func (e ErrClientInvalidState) Error() string {
	return fmt.Sprintf("must be in state %v, while is in state %v",
		e.AllowedList, e.State)
}

// ErrClientSessionHeaderInvalid is returned when the server's Session
// header cannot be parsed.
type ErrClientSessionHeaderInvalid struct {
	Err error
}

// Error implements the error interface.
func (e ErrClientSessionHeaderInvalid) Error() string {
	return fmt.Sprintf("invalid session header: %v", e.Err)
}

// ErrClientInvalidStatusCode is returned when a response carries a
// status code the caller did not expect.
type ErrClientInvalidStatusCode struct {
	Code    base.StatusCode
	Message string
}

// Error implements the error interface.
func (e ErrClientInvalidStatusCode) Error() string {
	return fmt.Sprintf("invalid status code: %d (%s)", e.Code, e.Message)
}

// ErrClientContentTypeUnsupported is returned when a DESCRIBE response
// carries a Content-Type other than application/sdp.
type ErrClientContentTypeUnsupported struct {
	CT base.HeaderValue
}

// Error implements the error interface.
func (e ErrClientContentTypeUnsupported) Error() string {
	return fmt.Sprintf("unsupported Content-Type header '%v'", e.CT)
}

// ErrClientTransportHeaderInvalid is returned when a server's Transport
// header cannot be parsed.
type ErrClientTransportHeaderInvalid struct {
	Err error
}

// Error implements the error interface.
func (e ErrClientTransportHeaderInvalid) Error() string {
	return fmt.Sprintf("invalid transport header: %v", e.Err)
}

// ErrClientTransportHeaderNoPorts is returned when a Transport header
// is missing both client_port and server_port.
type ErrClientTransportHeaderNoPorts struct{}

// Error implements the error interface.
func (e ErrClientTransportHeaderNoPorts) Error() string {
	return "transport header does not contain ports"
}

// ErrClientTransportHeaderNoInterleavedIDs is returned when a TCP
// Transport header is missing the interleaved channel pair.
type ErrClientTransportHeaderNoInterleavedIDs struct{}

// Error implements the error interface.
func (e ErrClientTransportHeaderNoInterleavedIDs) Error() string {
	return "transport header does not contain interleaved IDs"
}

// ErrClientUDPTimeout reports that no UDP packet was received within
// the configured timeout. Neither the delivery fabric nor the session
// controller returns it.
type ErrClientUDPTimeout struct{}

// Error implements the error interface.
func (e ErrClientUDPTimeout) Error() string {
	return "UDP timeout"
}

// ErrClientRTPInfoInvalid is returned when a PLAY response's RTP-Info
// header cannot be parsed.
type ErrClientRTPInfoInvalid struct {
	Err error
}

// Error implements the error interface.
func (e ErrClientRTPInfoInvalid) Error() string {
	return fmt.Sprintf("invalid RTP-Info: %v", e.Err)
}

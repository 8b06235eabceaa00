// If you are AI: This file defines the error taxonomy shared by every
// package in the media plane. Errors are wrapped with fmt.Errorf("%w")
// at each boundary; callers use errors.As/errors.Is to branch on kind.
package errs

import "fmt"

// Kind classifies an error for propagation-policy purposes. Every error
// that crosses a package boundary in the media plane should carry one.
type Kind int

const (
	// KindConfig is a malformed or semantically invalid configuration.
	// Fatal at startup.
	KindConfig Kind = iota
	// KindBind is a listener bind failure (port in use, permission denied).
	// Fatal for the affected listener only.
	KindBind
	// KindProtocol is a peer violating a wire protocol. Terminates the
	// session only.
	KindProtocol
	// KindAuth is an access-control denial.
	KindAuth
	// KindResourceExhausted is a full queue, subscriber cap, or saturated
	// codec pool. Triggers back-pressure, never crashes.
	KindResourceExhausted
	// KindUpstreamGone is a lost upstream connection in pull/edge mode.
	// Triggers reconnect with exponential back-off.
	KindUpstreamGone
	// KindCodec is a decode/encode failure, recoverable via keyframe
	// request or fatal to one transcoder graph.
	KindCodec
	// KindInternal is a programming error. The affected session is
	// terminated; logged with context.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindBind:
		return "BindError"
	case KindProtocol:
		return "ProtocolError"
	case KindAuth:
		return "AuthError"
	case KindResourceExhausted:
		return "ResourceExhausted"
	case KindUpstreamGone:
		return "UpstreamGone"
	case KindCodec:
		return "CodecError"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is a taxonomy-tagged error carrying an optional wrapped cause and
// a reason code meaningful to the protocol that raised it (e.g.
// "NetStream.Publish.BadName", an SRT reject code, an HTTP status).
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Reason != "" {
			return fmt.Sprintf("%s(%s): %v", e.Kind, e.Reason, e.Cause)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s(%s)", e.Kind, e.Reason)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a taxonomy error with a reason code and no wrapped cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap constructs a taxonomy error wrapping cause, with an optional reason.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// AlreadyPublishing is returned by the registry when a Create races an
// existing Ready/Publishing stream of the same name (spec invariant:
// registry uniqueness).
var AlreadyPublishing = New(KindProtocol, "AlreadyPublishing")

// StaleHandle is returned when a StreamHandle's epoch no longer matches
// the registry's current epoch for that name (spec invariant: epoch
// safety).
var StaleHandle = New(KindInternal, "StaleHandle")

// WebhookNotConfigured is returned by the access-control layer when a
// policy names AdmissionWebhook but no payload contract has been
// recovered yet; it fails closed rather than guessing a shape.
var WebhookNotConfigured = New(KindAuth, "AdmissionWebhookNotConfigured")

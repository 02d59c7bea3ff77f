// Package verrors defines the error taxonomy shared by every component of
// the session coordinator (spec §7). Every fallible operation in this module
// returns a *Error carrying one of these Kinds instead of panicking or using
// sentinel strings, so callers can switch on its Kind field (via KindOf) to decide retry vs.
// surface-to-user policy.
package verrors

import "fmt"

// Kind classifies an error by the handling policy it requires.
type Kind int

const (
	// Codec kinds — recoverable, caller may retry with corrected input.
	InvalidFormat Kind = iota
	InvalidFrameSize
	InvalidBitrate
	InvalidSampleRate
	InvalidChannelCount
	BufferTooSmall
	UnsupportedConfiguration

	// RTP kinds — silently dropped, counted, never surfaced.
	MalformedPacket
	AuthenticationFailed

	// SDP negotiator kinds — surface as call setup failure.
	NoCommonCodec
	NoAvailablePort
	MalformedSdp
	UnsupportedTransport

	// FSM / coordinator kinds.
	InvalidState
	DialogTimeout
	TransportError
	ResourceLimitExceeded
)

func (k Kind) String() string {
	switch k {
	case InvalidFormat:
		return "InvalidFormat"
	case InvalidFrameSize:
		return "InvalidFrameSize"
	case InvalidBitrate:
		return "InvalidBitrate"
	case InvalidSampleRate:
		return "InvalidSampleRate"
	case InvalidChannelCount:
		return "InvalidChannelCount"
	case BufferTooSmall:
		return "BufferTooSmall"
	case UnsupportedConfiguration:
		return "UnsupportedConfiguration"
	case MalformedPacket:
		return "MalformedPacket"
	case AuthenticationFailed:
		return "AuthenticationFailed"
	case NoCommonCodec:
		return "NoCommonCodec"
	case NoAvailablePort:
		return "NoAvailablePort"
	case MalformedSdp:
		return "MalformedSdp"
	case UnsupportedTransport:
		return "UnsupportedTransport"
	case InvalidState:
		return "InvalidState"
	case DialogTimeout:
		return "DialogTimeout"
	case TransportError:
		return "TransportError"
	case ResourceLimitExceeded:
		return "ResourceLimitExceeded"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New builds an *Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying error while preserving the classification.
func Wrap(kind Kind, message string, wrapped error) *Error {
	return &Error{Kind: kind, Message: message, Wrapped: wrapped}
}

// WithContext returns a copy of e with a context key/value attached, useful
// for structured logging at the boundary (e.g. "expected"/"actual" frame
// sizes on InvalidFrameSize).
func (e *Error) WithContext(key string, value any) *Error {
	cp := *e
	cp.Context = make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	cp.Context[key] = value
	return &cp
}

// Is reports whether target is a *Error with the same Kind, enabling
// errors.Is(err, verrors.New(verrors.InvalidState, "")) style checks against
// a zero-value sentinel that only carries a Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var verr *Error
	for err != nil {
		if v, ok := err.(*Error); ok {
			verr = v
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if verr == nil {
		return 0, false
	}
	return verr.Kind, true
}

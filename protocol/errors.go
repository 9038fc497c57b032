package protocol

import "errors"

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind rather than matching error strings;
// Error() strings are human-readable and may evolve.
type Kind string

const (
	KindPrefix    Kind = "Prefix"    // leading bytes are not the EVST1 marker
	KindTruncated Kind = "Truncated" // shorter than the fixed header
	KindPointer   Kind = "Pointer"   // storage pointer undecodable for its storage type
	KindSize      Kind = "Size"      // encoded payload would exceed the OP_RETURN bound
	KindDigest    Kind = "Digest"    // content digest is not exactly 32 bytes
	KindFlags     Kind = "Flags"     // privacy flags out of their 2-bit range
	KindReference Kind = "Reference" // service-mode reference is malformed
	KindUnknown   Kind = "Unknown"   // neither service mode nor binary
)

// Error is the codec's structured error type.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newError(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

func wrapError(kind Kind, msg string, cause error) error {
	if cause == nil {
		return newError(kind, msg)
	}
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

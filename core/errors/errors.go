// Package errors defines the failure categories shared by every engine. Each
// category is a sentinel; engines wrap it with context so callers can branch
// with errors.Is while operators still read a specific message.
package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	// ErrAuthorization covers callers lacking the required role or identity.
	ErrAuthorization = stderrors.New("authorization failed")
	// ErrReplay covers nonce mismatches and reused async nonces.
	ErrReplay = stderrors.New("replay rejected")
	// ErrProofVerification covers encrypted input proofs and quorum
	// signatures that do not verify.
	ErrProofVerification = stderrors.New("proof verification failed")
	// ErrTiming covers operations attempted before their unlock time.
	ErrTiming = stderrors.New("operation not yet available")
	// ErrState covers illegal transitions such as double finalisation.
	ErrState = stderrors.New("invalid state transition")
	// ErrConfiguration covers invalid parameters and missing wiring.
	ErrConfiguration = stderrors.New("invalid configuration")
)

// Authorization wraps ErrAuthorization with a formatted reason.
func Authorization(format string, args ...any) error {
	return wrap(ErrAuthorization, format, args...)
}

// Replay wraps ErrReplay with a formatted reason.
func Replay(format string, args ...any) error {
	return wrap(ErrReplay, format, args...)
}

// ProofVerification wraps ErrProofVerification with a formatted reason.
func ProofVerification(format string, args ...any) error {
	return wrap(ErrProofVerification, format, args...)
}

// Timing wraps ErrTiming with a formatted reason.
func Timing(format string, args ...any) error {
	return wrap(ErrTiming, format, args...)
}

// State wraps ErrState with a formatted reason.
func State(format string, args ...any) error {
	return wrap(ErrState, format, args...)
}

// Configuration wraps ErrConfiguration with a formatted reason.
func Configuration(format string, args ...any) error {
	return wrap(ErrConfiguration, format, args...)
}

// ProofCause wraps an underlying coprocessor error so it matches both
// ErrProofVerification and the original cause.
func ProofCause(cause error, context string) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrProofVerification, context, cause)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Kind returns a stable label for err's category: empty for nil and
// "internal" for errors outside the known categories.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, ErrAuthorization):
		return "authorization"
	case stderrors.Is(err, ErrReplay):
		return "replay"
	case stderrors.Is(err, ErrProofVerification):
		return "proof"
	case stderrors.Is(err, ErrTiming):
		return "timing"
	case stderrors.Is(err, ErrState):
		return "state"
	case stderrors.Is(err, ErrConfiguration):
		return "configuration"
	default:
		return "internal"
	}
}

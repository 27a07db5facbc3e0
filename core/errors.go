package core

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can dispatch on it instead of on message text.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindInvalidProvider
	KindInvalidSignature
	KindInvalidConfirmation
	KindNotFound
	KindSessionExpired
	KindChallengeExpired
	KindHashMismatch
	KindAlreadyConfirmed
	KindRateLimited
	KindOracleUnavailable
	KindRelay
	KindDelivery
	KindConfiguration
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindValidation:          "validation_error",
	KindInvalidProvider:     "invalid_provider",
	KindInvalidSignature:    "invalid_signature",
	KindInvalidConfirmation: "invalid_confirmation",
	KindNotFound:            "not_found",
	KindSessionExpired:      "session_expired",
	KindChallengeExpired:    "challenge_expired",
	KindHashMismatch:        "hash_mismatch",
	KindAlreadyConfirmed:    "already_confirmed",
	KindRateLimited:         "rate_limited",
	KindOracleUnavailable:   "oracle_unavailable",
	KindRelay:               "relay_error",
	KindDelivery:            "delivery_error",
	KindConfiguration:       "configuration_error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Dependency reports whether the kind is an external dependency failure
// rather than a problem with the caller's input.
func (k Kind) Dependency() bool {
	switch k {
	case KindOracleUnavailable, KindRelay, KindDelivery, KindConfiguration:
		return true
	}
	return false
}

// Error is the tagged error returned by every protocol operation.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// NewError creates an error of the given kind.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap tags err with a kind. The wrapped error stays reachable through errors.Unwrap.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

var (
	ErrValidation          = NewError(KindValidation, "invalid request")
	ErrInvalidProvider     = NewError(KindInvalidProvider, "invalid provider")
	ErrInvalidSignature    = NewError(KindInvalidSignature, "invalid signature")
	ErrInvalidConfirmation = NewError(KindInvalidConfirmation, "invalid confirmation signature")
	ErrNotFound            = NewError(KindNotFound, "not found")
	ErrSessionExpired      = NewError(KindSessionExpired, "session has expired")
	ErrChallengeExpired    = NewError(KindChallengeExpired, "challenge has expired")
	ErrHashMismatch        = NewError(KindHashMismatch, "session hash does not match the issued challenge")
	ErrAlreadyConfirmed    = NewError(KindAlreadyConfirmed, "session already confirmed")
	ErrRateLimited         = NewError(KindRateLimited, "too many session requests")
	ErrOracleUnavailable   = NewError(KindOracleUnavailable, "session state unavailable")
	ErrRelay               = NewError(KindRelay, "relay submission failed")
	ErrDelivery            = NewError(KindDelivery, "challenge delivery failed")
	ErrConfiguration       = NewError(KindConfiguration, "server misconfigured")
)

package core

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// SessionType is the kind of identity proof a session is bound to.
type SessionType string

const (
	SessionTypeEmail   SessionType = "email"
	SessionTypeSMS     SessionType = "sms"
	SessionTypePasskey SessionType = "passkey"
)

// Valid reports whether t is one of the canonical session types.
func (t SessionType) Valid() bool {
	switch t {
	case SessionTypeEmail, SessionTypeSMS, SessionTypePasskey:
		return true
	}
	return false
}

// ParseSessionType validates a session type received from a caller.
// Input is trimmed and lower-cased first.
func ParseSessionType(s string) (SessionType, error) {
	if t := SessionType(strings.ToLower(strings.TrimSpace(s))); t.Valid() {
		return t, nil
	}
	return "", NewError(KindValidation, "unsupported session type")
}

// Normalize returns the canonical form of an identity source for this type.
// Email addresses are case-insensitive; phone numbers and passkey keys are only trimmed.
func (t SessionType) Normalize(source string) string {
	source = strings.TrimSpace(source)
	if t == SessionTypeEmail {
		return strings.ToLower(source)
	}
	return source
}

// Delivered reports whether the challenge for this type is sent out of band.
func (t SessionType) Delivered() bool {
	return t == SessionTypeEmail || t == SessionTypeSMS
}

// Status is the session request status as stored by the session manager contract.
type Status uint8

const (
	StatusNone Status = iota
	StatusRequested
	StatusConfirmed
)

// State is the externally observable state of a session request.
type State string

const (
	// StateRequested precedes challenge issuance. A request only reaches the
	// ledger together with its challenge, so lookups report StateChallenged.
	StateRequested  State = "requested"
	StateChallenged State = "challenged"
	StateConfirmed  State = "confirmed"
	StateExpired    State = "expired"
)

// SessionRecord mirrors the ledger entry for (Provider, RequestHash).
// Expiries are unix seconds, as stored on chain.
type SessionRecord struct {
	Provider          common.Address
	RequestHash       common.Hash
	Expiry            uint64
	ChallengeExpiry   uint64
	SignedSessionHash []byte
	Status            Status
}

// Community is the per-alias configuration a session request is scoped to.
type Community struct {
	Alias           string
	ChainID         int64
	PrimaryProvider common.Address
	SessionManager  common.Address
	RPCURL          string
}

// RequestParams are the inputs of a session request.
type RequestParams struct {
	Alias          string
	Provider       common.Address
	Owner          common.Address
	Source         string
	Type           SessionType
	Expiry         uint64
	OwnerSignature []byte
	// Context is passed to the passkey connection message, e.g. a redirect URL.
	Context string
}

// RequestResult is returned once the request call has been handed to the relay.
type RequestResult struct {
	TxID            string
	Salt            common.Hash
	RequestHash     common.Hash
	ChallengeExpiry uint64
	State           State
	// Challenge is only set for passkey sessions, where the owner signs it locally.
	Challenge string
}

// ConfirmParams are the inputs of a session confirmation.
type ConfirmParams struct {
	Alias          string
	Provider       common.Address
	Owner          common.Address
	RequestHash    common.Hash
	SessionHash    common.Hash
	OwnerSignature []byte
}

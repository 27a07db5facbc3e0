// Package challenge issues the one-time values a session owner must prove possession of.
package challenge

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"net/url"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/sessionauth/core"
	"github.com/layer-3/sessionauth/internal/eth"
)

const (
	// DefaultDigits is the length of email and SMS codes.
	DefaultDigits = 6
	// MaxDigits keeps codes within uint64.
	MaxDigits = 18
)

// Challenge is a freshly issued challenge. Exactly one of Code or Message is meaningful.
type Challenge struct {
	Type    core.SessionType
	Code    uint64
	Message string
}

// Value is the uint256 the session hash commits to.
func (c Challenge) Value() *big.Int {
	if c.Type == core.SessionTypePasskey {
		return eth.MessageChallenge(c.Message)
	}
	return new(big.Int).SetUint64(c.Code)
}

// String is the form delivered to, or signed by, the owner.
func (c Challenge) String() string {
	if c.Type == core.SessionTypePasskey {
		return c.Message
	}
	return strconv.FormatUint(c.Code, 10)
}

// Params carries what a strategy may bind the challenge to.
type Params struct {
	Owner   common.Address
	Expiry  uint64
	Context string
}

// Generator is a challenge strategy for one session type.
type Generator interface {
	Generate(p Params) (Challenge, error)
}

// Numeric issues uniformly distributed decimal codes for email and SMS sessions.
type Numeric struct {
	Type   core.SessionType
	Digits int
	Rand   io.Reader
}

func (n Numeric) Generate(Params) (Challenge, error) {
	r := n.Rand
	if r == nil {
		r = rand.Reader
	}
	code, err := generateNumeric(r, n.Digits)
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{Type: n.Type, Code: code}, nil
}

// Passkey issues the connection message a passkey owner signs locally.
type Passkey struct{}

func (Passkey) Generate(p Params) (Challenge, error) {
	return Challenge{
		Type:    core.SessionTypePasskey,
		Message: GeneratePasskeyChallenge(p.Owner, p.Expiry, p.Context),
	}, nil
}

// ForType returns the strategy for a session type.
func ForType(t core.SessionType, digits int) (Generator, error) {
	switch t {
	case core.SessionTypeEmail, core.SessionTypeSMS:
		return Numeric{Type: t, Digits: digits}, nil
	case core.SessionTypePasskey:
		return Passkey{}, nil
	}
	return nil, core.NewError(core.KindValidation, "unsupported session type")
}

// GenerateNumericChallenge samples uniformly from [10^(digits-1), 10^digits - 1] using crypto/rand.
func GenerateNumericChallenge(digits int) (uint64, error) {
	return generateNumeric(rand.Reader, digits)
}

func generateNumeric(r io.Reader, digits int) (uint64, error) {
	if digits < 1 || digits > MaxDigits {
		return 0, fmt.Errorf("challenge digits must be between 1 and %d, got %d", MaxDigits, digits)
	}
	low := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits-1)), nil)
	high := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)

	n, err := rand.Int(r, new(big.Int).Sub(high, low))
	if err != nil {
		return 0, fmt.Errorf("failed to sample challenge: %w", err)
	}
	return n.Add(n, low).Uint64(), nil
}

// GeneratePasskeyChallenge builds the deterministic connection message for a passkey session.
// context, when set, is appended URL-escaped.
func GeneratePasskeyChallenge(owner common.Address, expiry uint64, context string) string {
	msg := fmt.Sprintf("Signature auth for %s with expiry %d", owner.Hex(), expiry)
	if context != "" {
		msg += " and redirect " + url.QueryEscape(context)
	}
	return msg
}

// Package eth holds the Ethereum-facing primitives of the session protocol:
// the hash chain, personal-message signatures and the session manager ABI.
//
// Every hash produced here is recomputed by the session manager contract and by
// wallet clients, so the encodings are part of the wire contract.
package eth

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/sessionauth/core"
)

// ErrEncoding is returned when a value cannot be represented in the canonical encoding.
var ErrEncoding = errors.New("encoding error")

// MaxUint48 is the largest expiry the session manager stores.
const MaxUint48 = 1<<48 - 1

var (
	addressType = mustType("address")
	bytes32Type = mustType("bytes32")
	uint48Type  = mustType("uint48")
	uint256Type = mustType("uint256")

	sessionRequestArgs = abi.Arguments{
		{Type: addressType},
		{Type: addressType},
		{Type: bytes32Type},
		{Type: uint48Type},
	}
	sessionArgs = abi.Arguments{
		{Type: bytes32Type},
		{Type: uint256Type},
	}
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseAddress parses a hex address, failing with ErrEncoding when it is malformed.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: malformed address %q", ErrEncoding, s)
	}
	return common.HexToAddress(s), nil
}

// DeriveSalt scopes a session to an identity claim: keccak256("{source}:{type}").
// source must already be normalized for its type.
func DeriveSalt(source string, sessionType core.SessionType) common.Hash {
	return crypto.Keccak256Hash([]byte(source + ":" + string(sessionType)))
}

// DeriveSessionRequestHash returns keccak256(abi.encode(provider, owner, salt, uint48 expiry)).
func DeriveSessionRequestHash(provider, owner common.Address, salt common.Hash, expiry uint64) (common.Hash, error) {
	if expiry > MaxUint48 {
		return common.Hash{}, fmt.Errorf("%w: expiry %d exceeds uint48", ErrEncoding, expiry)
	}
	encoded, err := sessionRequestArgs.Pack(provider, owner, [32]byte(salt), new(big.Int).SetUint64(expiry))
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// DeriveSessionHash binds a challenge to a request: keccak256(abi.encode(requestHash, uint256 challenge)).
func DeriveSessionHash(requestHash common.Hash, challenge *big.Int) (common.Hash, error) {
	if challenge == nil || challenge.Sign() < 0 || challenge.BitLen() > 256 {
		return common.Hash{}, fmt.Errorf("%w: challenge out of uint256 range", ErrEncoding)
	}
	encoded, err := sessionArgs.Pack([32]byte(requestHash), challenge)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// MessageChallenge maps a passkey connection message onto the uint256 challenge slot.
func MessageChallenge(message string) *big.Int {
	return new(big.Int).SetBytes(crypto.Keccak256([]byte(message)))
}

package eth

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/sessionauth/core"
)

// SessionManagerABI is the subset of the session manager contract the service calls.
const SessionManagerABI = `[
	{"type":"function","name":"request","stateMutability":"nonpayable","inputs":[
		{"name":"sessionSalt","type":"bytes32"},
		{"name":"sessionRequestHash","type":"bytes32"},
		{"name":"signedSessionRequestHash","type":"bytes"},
		{"name":"signedSessionHash","type":"bytes"},
		{"name":"sessionRequestExpiry","type":"uint48"},
		{"name":"challengeExpiry","type":"uint48"}],"outputs":[]},
	{"type":"function","name":"confirm","stateMutability":"nonpayable","inputs":[
		{"name":"sessionRequestHash","type":"bytes32"},
		{"name":"sessionHash","type":"bytes32"},
		{"name":"signedSessionHash","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"sessionRequests","stateMutability":"view","inputs":[
		{"name":"provider","type":"address"},
		{"name":"sessionRequestHash","type":"bytes32"}],"outputs":[
		{"name":"expiry","type":"uint48"},
		{"name":"challengeExpiry","type":"uint48"},
		{"name":"signedSessionHash","type":"bytes"},
		{"name":"status","type":"uint8"}]}
]`

const (
	methodRequest         = "request"
	methodConfirm         = "confirm"
	methodSessionRequests = "sessionRequests"
)

var sessionManager = mustParseABI(SessionManagerABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// RequestCall is the argument list of SessionManager.request.
type RequestCall struct {
	Salt             common.Hash
	RequestHash      common.Hash
	OwnerSignature   []byte
	ServiceSignature []byte
	Expiry           uint64
	ChallengeExpiry  uint64
}

// ConfirmCall is the argument list of SessionManager.confirm.
type ConfirmCall struct {
	RequestHash    common.Hash
	SessionHash    common.Hash
	OwnerSignature []byte
}

// PackRequest encodes call data for SessionManager.request.
func PackRequest(c RequestCall) ([]byte, error) {
	if c.Expiry > MaxUint48 || c.ChallengeExpiry > MaxUint48 {
		return nil, fmt.Errorf("%w: expiry exceeds uint48", ErrEncoding)
	}
	data, err := sessionManager.Pack(methodRequest,
		[32]byte(c.Salt),
		[32]byte(c.RequestHash),
		c.OwnerSignature,
		c.ServiceSignature,
		new(big.Int).SetUint64(c.Expiry),
		new(big.Int).SetUint64(c.ChallengeExpiry),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return data, nil
}

// PackConfirm encodes call data for SessionManager.confirm.
func PackConfirm(c ConfirmCall) ([]byte, error) {
	data, err := sessionManager.Pack(methodConfirm,
		[32]byte(c.RequestHash),
		[32]byte(c.SessionHash),
		c.OwnerSignature,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return data, nil
}

// UnpackCall decodes call data produced by PackRequest or PackConfirm.
// The result is a RequestCall or a ConfirmCall.
func UnpackCall(data []byte) (any, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: call data too short", ErrEncoding)
	}
	method, err := sessionManager.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	switch method.Name {
	case methodRequest:
		return RequestCall{
			Salt:             common.Hash(args[0].([32]byte)),
			RequestHash:      common.Hash(args[1].([32]byte)),
			OwnerSignature:   args[2].([]byte),
			ServiceSignature: args[3].([]byte),
			Expiry:           args[4].(*big.Int).Uint64(),
			ChallengeExpiry:  args[5].(*big.Int).Uint64(),
		}, nil
	case methodConfirm:
		return ConfirmCall{
			RequestHash:    common.Hash(args[0].([32]byte)),
			SessionHash:    common.Hash(args[1].([32]byte)),
			OwnerSignature: args[2].([]byte),
		}, nil
	}
	return nil, fmt.Errorf("%w: unexpected method %s", ErrEncoding, method.Name)
}

// PackSessionRequestsQuery encodes the sessionRequests(provider, hash) view call.
func PackSessionRequestsQuery(provider common.Address, requestHash common.Hash) ([]byte, error) {
	data, err := sessionManager.Pack(methodSessionRequests, provider, [32]byte(requestHash))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return data, nil
}

// UnpackSessionRequest decodes the sessionRequests return data into a record.
func UnpackSessionRequest(provider common.Address, requestHash common.Hash, data []byte) (*core.SessionRecord, error) {
	out, err := sessionManager.Unpack(methodSessionRequests, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("%w: unexpected sessionRequests output", ErrEncoding)
	}
	return &core.SessionRecord{
		Provider:          provider,
		RequestHash:       requestHash,
		Expiry:            out[0].(*big.Int).Uint64(),
		ChallengeExpiry:   out[1].(*big.Int).Uint64(),
		SignedSessionHash: out[2].([]byte),
		Status:            core.Status(out[3].(uint8)),
	}, nil
}

// PackSessionRequest encodes a record as sessionRequests return data.
// Used by in-memory ledgers that answer eth_call the way the contract does.
func PackSessionRequest(r *core.SessionRecord) ([]byte, error) {
	data, err := sessionManager.Methods[methodSessionRequests].Outputs.Pack(
		new(big.Int).SetUint64(r.Expiry),
		new(big.Int).SetUint64(r.ChallengeExpiry),
		r.SignedSessionHash,
		uint8(r.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return data, nil
}

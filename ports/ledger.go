package ports

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/sessionauth/core"
)

// ErrRecordNotFound is returned by a LedgerReader when the contract has no entry.
var ErrRecordNotFound = errors.New("session request not found")

// LedgerReader reads session manager state
type LedgerReader interface {
	// ReadSessionRequest returns the record for (provider, requestHash) or ErrRecordNotFound.
	ReadSessionRequest(ctx context.Context, community *core.Community, provider common.Address, requestHash common.Hash) (*core.SessionRecord, error)
}

// SignedCall is a contract call the relay submits on behalf of a provider
type SignedCall struct {
	ChainID    int64
	Target     common.Address
	OnBehalfOf common.Address
	Data       []byte
	// Signature is the service signature over eth.CallDigest(ChainID, Target, OnBehalfOf, Data).
	Signature []byte
}

// Relay turns a signed call into a ledger transaction
type Relay interface {
	// Submit returns the transaction id. It must not be retried by the caller.
	Submit(ctx context.Context, call SignedCall) (string, error)
}

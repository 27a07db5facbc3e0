package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/layer-3/sessionauth/core"
	"github.com/layer-3/sessionauth/internal/eth"
	"github.com/layer-3/sessionauth/ports"
)

// Caller is the read-only part of an RPC client. *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// DialFunc opens a Caller for an RPC endpoint.
type DialFunc func(ctx context.Context, rpcURL string) (Caller, error)

// DialEthClient dials an Ethereum JSON-RPC endpoint.
func DialEthClient(ctx context.Context, rpcURL string) (Caller, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// ContractReader reads session requests from the session manager with eth_call.
// One client is kept per RPC endpoint.
type ContractReader struct {
	dial    DialFunc
	callers map[string]Caller
	mu      sync.Mutex
}

// NewContractReader creates a reader that dials endpoints with dial
func NewContractReader(dial DialFunc) *ContractReader {
	if dial == nil {
		dial = DialEthClient
	}
	return &ContractReader{
		dial:    dial,
		callers: make(map[string]Caller),
	}
}

var _ ports.LedgerReader = (*ContractReader)(nil)

// ReadSessionRequest calls sessionRequests(provider, requestHash) at the latest block
func (r *ContractReader) ReadSessionRequest(ctx context.Context, community *core.Community, provider common.Address, requestHash common.Hash) (*core.SessionRecord, error) {
	caller, err := r.caller(ctx, community.RPCURL)
	if err != nil {
		return nil, err
	}

	data, err := eth.PackSessionRequestsQuery(provider, requestHash)
	if err != nil {
		return nil, err
	}

	to := community.SessionManager
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call session manager: %w", err)
	}

	record, err := eth.UnpackSessionRequest(provider, requestHash, out)
	if err != nil {
		return nil, err
	}
	if record.Status == core.StatusNone {
		return nil, ports.ErrRecordNotFound
	}
	return record, nil
}

func (r *ContractReader) caller(ctx context.Context, rpcURL string) (Caller, error) {
	if rpcURL == "" {
		return nil, errors.New("community has no rpc url")
	}

	r.mu.Lock()
	c, ok := r.callers[rpcURL]
	r.mu.Unlock()
	if ok {
		return c, nil
	}

	dialed, err := r.dial(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.callers[rpcURL]; ok {
		closeCaller(dialed)
		return c, nil
	}
	r.callers[rpcURL] = dialed
	return dialed, nil
}

func closeCaller(c Caller) {
	if closer, ok := c.(interface{ Close() }); ok {
		closer.Close()
	}
}

// Close closes every dialed client
func (r *ContractReader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for url, c := range r.callers {
		closeCaller(c)
		delete(r.callers, url)
	}
}

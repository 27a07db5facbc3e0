package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/sessionauth/core"
	"github.com/layer-3/sessionauth/internal/eth"
	"github.com/layer-3/sessionauth/ports"
)

// ErrReverted is returned when the in-memory contract rejects a call.
var ErrReverted = errors.New("execution reverted")

type recordKey struct {
	provider common.Address
	hash     common.Hash
}

// MemoryLedger is an in-process session manager. It is both a LedgerReader and a
// Relay, applying submitted call data with the contract's rules.
type MemoryLedger struct {
	records map[recordKey]core.SessionRecord
	nonce   uint64
	now     func() time.Time
	mu      sync.Mutex
}

// NewMemoryLedger creates an empty ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records: make(map[recordKey]core.SessionRecord),
		now:     time.Now,
	}
}

// WithClock replaces the ledger's block time source.
func (l *MemoryLedger) WithClock(now func() time.Time) *MemoryLedger {
	l.now = now
	return l
}

var (
	_ ports.LedgerReader = (*MemoryLedger)(nil)
	_ ports.Relay        = (*MemoryLedger)(nil)
	_ Caller             = (*MemoryLedger)(nil)
)

// ReadSessionRequest returns a copy of the stored record
func (l *MemoryLedger) ReadSessionRequest(ctx context.Context, community *core.Community, provider common.Address, requestHash common.Hash) (*core.SessionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[recordKey{provider, requestHash}]
	if !ok {
		return nil, ports.ErrRecordNotFound
	}
	record.SignedSessionHash = append([]byte(nil), record.SignedSessionHash...)
	return &record, nil
}

// CallContract answers sessionRequests view calls, so the ledger can back a ContractReader.
func (l *MemoryLedger) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if len(call.Data) != 4+64 {
		return nil, ErrReverted
	}
	provider := common.BytesToAddress(call.Data[4:36])
	requestHash := common.BytesToHash(call.Data[36:68])

	l.mu.Lock()
	record := l.records[recordKey{provider, requestHash}]
	l.mu.Unlock()

	return eth.PackSessionRequest(&record)
}

// Submit applies a request or confirm call and returns a transaction hash
func (l *MemoryLedger) Submit(ctx context.Context, call ports.SignedCall) (string, error) {
	decoded, err := eth.UnpackCall(call.Data)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := uint64(l.now().Unix())

	switch c := decoded.(type) {
	case eth.RequestCall:
		key := recordKey{call.OnBehalfOf, c.RequestHash}
		if existing, ok := l.records[key]; ok && existing.Status == core.StatusConfirmed {
			return "", fmt.Errorf("%w: session already confirmed", ErrReverted)
		}
		if c.Expiry <= now || c.ChallengeExpiry <= now {
			return "", fmt.Errorf("%w: expiry in the past", ErrReverted)
		}
		l.records[key] = core.SessionRecord{
			Provider:          call.OnBehalfOf,
			RequestHash:       c.RequestHash,
			Expiry:            c.Expiry,
			ChallengeExpiry:   c.ChallengeExpiry,
			SignedSessionHash: append([]byte(nil), c.ServiceSignature...),
			Status:            core.StatusRequested,
		}

	case eth.ConfirmCall:
		key := recordKey{call.OnBehalfOf, c.RequestHash}
		record, ok := l.records[key]
		if !ok {
			return "", fmt.Errorf("%w: unknown session request", ErrReverted)
		}
		if record.Status == core.StatusConfirmed {
			return "", fmt.Errorf("%w: session already confirmed", ErrReverted)
		}
		if record.Expiry <= now || record.ChallengeExpiry <= now {
			return "", fmt.Errorf("%w: session expired", ErrReverted)
		}
		record.Status = core.StatusConfirmed
		l.records[key] = record
	}

	l.nonce++
	nonce := make([]byte, 8)
	binary.BigEndian.PutUint64(nonce, l.nonce)
	return crypto.Keccak256Hash(call.Data, nonce).Hex(), nil
}

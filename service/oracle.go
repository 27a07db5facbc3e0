package service

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/sessionauth/core"
	"github.com/layer-3/sessionauth/ports"
)

// DefaultOracleTimeout bounds a single ledger read
const DefaultOracleTimeout = 5 * time.Second

// Oracle is the read path to session manager state
type Oracle struct {
	reader  ports.LedgerReader
	timeout time.Duration
}

// NewOracle creates an oracle over reader. A zero timeout uses DefaultOracleTimeout.
func NewOracle(reader ports.LedgerReader, timeout time.Duration) *Oracle {
	if timeout <= 0 {
		timeout = DefaultOracleTimeout
	}
	return &Oracle{reader: reader, timeout: timeout}
}

// FetchSessionRecord reads the record for (provider, requestHash).
// A missing record is KindNotFound; any other failure, timeouts included, is KindOracleUnavailable.
func (o *Oracle) FetchSessionRecord(ctx context.Context, community *core.Community, provider common.Address, requestHash common.Hash) (*core.SessionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	record, err := o.reader.ReadSessionRequest(ctx, community, provider, requestHash)
	if errors.Is(err, ports.ErrRecordNotFound) {
		return nil, core.Wrap(core.KindNotFound, "session request not found", err)
	}
	if err != nil {
		return nil, core.Wrap(core.KindOracleUnavailable, "session state unavailable", err)
	}
	if record == nil || record.Status == core.StatusNone {
		return nil, core.NewError(core.KindNotFound, "session request not found")
	}
	return record, nil
}

// ValidateNotExpired checks the session expiry, then the challenge expiry.
// A deadline equal to now counts as elapsed.
func ValidateNotExpired(record *core.SessionRecord, now time.Time) error {
	ts := unixSeconds(now)
	if record.Expiry <= ts {
		return core.ErrSessionExpired
	}
	if record.ChallengeExpiry <= ts {
		return core.ErrChallengeExpired
	}
	return nil
}

// MatchesStoredSignature compares the ledger's service signature with a fresh one over the same session hash.
func MatchesStoredSignature(record *core.SessionRecord, resigned []byte) bool {
	return len(resigned) > 0 && bytes.Equal(record.SignedSessionHash, resigned)
}

// StateOf maps a ledger record to its lifecycle state at now.
// A pending record always carries an issued challenge.
func StateOf(record *core.SessionRecord, now time.Time) core.State {
	if record.Status == core.StatusConfirmed {
		return core.StateConfirmed
	}
	if ValidateNotExpired(record, now) != nil {
		return core.StateExpired
	}
	return core.StateChallenged
}

func unixSeconds(t time.Time) uint64 {
	if t.Unix() < 0 {
		return 0
	}
	return uint64(t.Unix())
}

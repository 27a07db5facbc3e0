package sessionauth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/sessionauth/core"
	"github.com/layer-3/sessionauth/service"
)

// Client represents the public interface for authorizing sessions
type Client interface {
	// Request issues a challenge for a session and records the request on the ledger
	Request(ctx context.Context, params core.RequestParams) (core.RequestResult, error)

	// Confirm proves possession of the challenge and returns the confirm transaction id
	Confirm(ctx context.Context, params core.ConfirmParams) (string, error)

	// Status reports whether a session request is requested, confirmed or expired
	Status(ctx context.Context, alias string, provider common.Address, requestHash common.Hash) (core.State, error)
}

var _ Client = (*service.SessionProtocol)(nil)

package ports

import (
	"context"
	"errors"

	"github.com/layer-3/sessionauth/core"
)

// ErrCommunityNotFound is returned for unknown aliases.
var ErrCommunityNotFound = errors.New("community not found")

// CommunityConfigs resolves the configuration a session request is scoped to
type CommunityConfigs interface {
	Get(ctx context.Context, alias string) (*core.Community, error)
}

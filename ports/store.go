package ports

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RateLimitStore counts session requests per (salt, alias) inside trailing windows
type RateLimitStore interface {
	// RecordAndCount records one request and returns how many requests,
	// including this one, fall inside the trailing window.
	RecordAndCount(ctx context.Context, salt common.Hash, alias string, window time.Duration) (int, error)
}

package ports

import (
	"context"
	"time"

	"github.com/layer-3/sessionauth/core"
)

// ChallengeDelivery is a challenge to be delivered out of band
type ChallengeDelivery struct {
	Alias       string
	Channel     core.SessionType
	Destination string
	Challenge   string
	ExpiresAt   time.Time
}

// Notifier hands challenges over to the email and SMS delivery pipeline
type Notifier interface {
	SendChallenge(ctx context.Context, delivery ChallengeDelivery) error
}

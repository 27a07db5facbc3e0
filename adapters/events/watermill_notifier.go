package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/sessionauth/ports"
)

// TopicPrefix is followed by the delivery channel, e.g. "sessionauth.challenge.email".
const TopicPrefix = "sessionauth.challenge."

// ChallengeEvent is consumed by the email and SMS delivery workers
type ChallengeEvent struct {
	Alias       string    `json:"alias"`
	Channel     string    `json:"channel"`
	Destination string    `json:"destination"`
	Challenge   string    `json:"challenge"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// WatermillNotifier implements the Notifier interface using Watermill
type WatermillNotifier struct {
	publisher message.Publisher
}

// NewWatermillNotifier creates a new Watermill notifier
func NewWatermillNotifier(publisher message.Publisher) *WatermillNotifier {
	return &WatermillNotifier{publisher: publisher}
}

var _ ports.Notifier = (*WatermillNotifier)(nil)

// Topic returns the topic deliveries for channel are published to
func Topic(channel string) string {
	return TopicPrefix + channel
}

// SendChallenge publishes a challenge delivery event
func (n *WatermillNotifier) SendChallenge(ctx context.Context, delivery ports.ChallengeDelivery) error {
	event := ChallengeEvent{
		Alias:       delivery.Alias,
		Channel:     string(delivery.Channel),
		Destination: delivery.Destination,
		Challenge:   delivery.Challenge,
		ExpiresAt:   delivery.ExpiresAt,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)

	if err := n.publisher.Publish(Topic(event.Channel), msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

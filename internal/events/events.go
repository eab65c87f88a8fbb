// Package events publishes the audit feed of the access engine to a RabbitMQ
// topic exchange.
package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const publishTimeout = 5 * time.Second

// Routing keys.
const (
	RequestSubmitted    = "request.submitted"
	RequestApproved     = "request.approved"
	RequestRejected     = "request.rejected"
	SubscriptionRenewed = "subscription.renewed"
	SubscriptionRemoved = "subscription.removed"
	SubscriptionRemind  = "subscription.reminded"
	SubscriptionExpired = "subscription.expired"
)

// Event is the JSON body of every published message.
type Event struct {
	Type        string     `json:"type"`
	PrincipalID int64      `json:"principal_id"`
	RequestID   string     `json:"request_id,omitempty"`
	PlanID      string     `json:"plan_id,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Emit publishes ev with a bounded wait. Failures are logged, not returned.
func Emit(ctx context.Context, p Publisher, log logrus.FieldLogger, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.Publish(ctx, ev); err != nil {
		log.WithFields(logrus.Fields{
			"event":        ev.Type,
			"principal_id": ev.PrincipalID,
		}).WithError(err).Warn("publish event")
	}
}

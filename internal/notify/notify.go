// Package notify defines the outbound messaging contract of the engine. The
// engine emits typed notices; the transport decides how they look.
package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anatolio-deb/joinbot/internal/credential"
	"github.com/anatolio-deb/joinbot/internal/ledger"
	"github.com/anatolio-deb/joinbot/internal/metrics"
	"github.com/anatolio-deb/joinbot/internal/plan"
	"github.com/anatolio-deb/joinbot/internal/request"
)

type Kind int

const (
	// To the reviewer.
	ReviewRequested Kind = iota + 1
	DecisionRecorded
	IssuanceFailed
	CredentialUndelivered

	// To the principal.
	Approved
	Rejected
	Renewed
	Removed
	Expiring
	Expired
)

func (k Kind) String() string {
	switch k {
	case ReviewRequested:
		return "review_requested"
	case DecisionRecorded:
		return "decision_recorded"
	case IssuanceFailed:
		return "issuance_failed"
	case CredentialUndelivered:
		return "credential_undelivered"
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	case Renewed:
		return "renewed"
	case Removed:
		return "removed"
	case Expiring:
		return "expiring"
	case Expired:
		return "expired"
	}
	return "unknown"
}

// Notice is one message the engine wants delivered. Only the fields relevant
// to Kind are set.
type Notice struct {
	Kind         Kind
	PrincipalID  int64
	Request      *request.Request
	Plan         *plan.Plan
	Credential   *credential.Credential
	Subscription *ledger.Subscription
	// Resubmitted marks a ReviewRequested for a request whose receipt was
	// replaced.
	Resubmitted bool
	// Approve is the outcome carried by DecisionRecorded.
	Approve bool
	Err     error
}

// Notifier delivers notices. Delivery is fire-and-forget from the engine's
// point of view: a failure never rolls back engine state.
type Notifier interface {
	Notify(ctx context.Context, principalID int64, n Notice) error
	NotifyAdmin(ctx context.Context, n Notice) error
}

const DefaultTimeout = 10 * time.Second

// Sender bounds every Notifier call with a timeout and turns failures into
// log lines.
type Sender struct {
	notifier Notifier
	timeout  time.Duration
	log      logrus.FieldLogger
}

func NewSender(n Notifier, timeout time.Duration, log logrus.FieldLogger) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sender{notifier: n, timeout: timeout, log: log}
}

// ToPrincipal reports whether the notice was delivered.
func (s *Sender) ToPrincipal(ctx context.Context, principalID int64, n Notice) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n.PrincipalID = principalID
	if err := s.notifier.Notify(ctx, principalID, n); err != nil {
		metrics.NotificationFailures.WithLabelValues(n.Kind.String()).Inc()
		s.log.WithFields(logrus.Fields{
			"principal_id": principalID,
			"kind":         n.Kind.String(),
		}).WithError(err).Warn("notification to principal failed")
		return false
	}
	return true
}

// ToAdmin reports whether the notice was delivered.
func (s *Sender) ToAdmin(ctx context.Context, n Notice) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.notifier.NotifyAdmin(ctx, n); err != nil {
		metrics.NotificationFailures.WithLabelValues(n.Kind.String()).Inc()
		s.log.WithField("kind", n.Kind.String()).WithError(err).Warn("notification to reviewer failed")
		return false
	}
	return true
}

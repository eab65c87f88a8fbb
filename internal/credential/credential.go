// Package credential mints single-use, time-limited join links through an
// external access provider and removes members whose access lapsed.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anatolio-deb/joinbot/internal/metrics"
)

// MaxUses is the member limit of every issued invite.
const MaxUses = 1

const (
	DefaultTimeout    = 10 * time.Second
	DefaultRetryDelay = time.Second
	// MaxTTL bounds invite validity. An invite gates the one-time join, not
	// membership, so it never needs to outlive a day.
	MaxTTL = 24 * time.Hour
)

// Credential is a join artifact handed to an approved principal.
type Credential struct {
	Link      string
	MaxUses   int
	ExpiresAt time.Time
	RequestID string
	// Static marks the administrator-configured fallback link. It carries no
	// member limit or expiry of its own.
	Static bool
}

// Static wraps a configured fallback link.
func Static(link, requestID string) Credential {
	return Credential{Link: link, RequestID: requestID, Static: true}
}

// AccessProvider is the external system that owns group membership.
type AccessProvider interface {
	CreateInvite(ctx context.Context, chatID int64, memberLimit int, expireAt time.Time) (string, error)
	RemoveMember(ctx context.Context, chatID, principalID int64) error
}

// IssuanceError is returned when invite creation failed on every attempt.
type IssuanceError struct {
	ChatID   int64
	Attempts int
	Err      error
}

func (e *IssuanceError) Error() string {
	return fmt.Sprintf("issue invite for chat %d failed after %d attempts: %v", e.ChatID, e.Attempts, e.Err)
}

func (e *IssuanceError) Unwrap() error { return e.Err }

// RevokeError is returned when a member could not be removed.
type RevokeError struct {
	ChatID      int64
	PrincipalID int64
	Err         error
}

func (e *RevokeError) Error() string {
	return fmt.Sprintf("remove %d from chat %d: %v", e.PrincipalID, e.ChatID, e.Err)
}

func (e *RevokeError) Unwrap() error { return e.Err }

type Option func(*Issuer)

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(i *Issuer) { i.timeout = d }
}

func WithRetryDelay(d time.Duration) Option {
	return func(i *Issuer) { i.retryDelay = d }
}

func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(i *Issuer) { i.log = log }
}

type Issuer struct {
	provider   AccessProvider
	timeout    time.Duration
	retryDelay time.Duration
	now        func() time.Time
	log        logrus.FieldLogger
}

func NewIssuer(provider AccessProvider, opts ...Option) *Issuer {
	i := &Issuer{
		provider:   provider,
		timeout:    DefaultTimeout,
		retryDelay: DefaultRetryDelay,
		now:        time.Now,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue creates a single-use invite to chatID valid for ttl. A failed call is
// retried exactly once; issuance failures are usually permission problems
// that do not heal on their own.
func (i *Issuer) Issue(ctx context.Context, chatID int64, ttl time.Duration, requestID string) (Credential, error) {
	if ttl <= 0 || ttl > MaxTTL {
		return Credential{}, fmt.Errorf("invite ttl %s out of range (0, %s]", ttl, MaxTTL)
	}

	const maxAttempts = 2
	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		expiresAt := i.now().Add(ttl)
		link, err := i.createInvite(ctx, chatID, expiresAt)
		if err == nil {
			metrics.IssuanceAttempts.WithLabelValues("success").Inc()
			return Credential{
				Link:      link,
				MaxUses:   MaxUses,
				ExpiresAt: expiresAt,
				RequestID: requestID,
			}, nil
		}

		lastErr = err
		metrics.IssuanceAttempts.WithLabelValues("failure").Inc()
		i.log.WithFields(logrus.Fields{
			"chat_id":    chatID,
			"request_id": requestID,
			"attempt":    attempt,
		}).WithError(err).Warn("invite creation failed")

		if attempt < maxAttempts {
			if err := sleep(ctx, i.retryDelay); err != nil {
				lastErr = errors.Join(lastErr, err)
				break
			}
		}
	}
	return Credential{}, &IssuanceError{ChatID: chatID, Attempts: attempts, Err: lastErr}
}

func (i *Issuer) createInvite(ctx context.Context, chatID int64, expiresAt time.Time) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	link, err := i.provider.CreateInvite(ctx, chatID, MaxUses, expiresAt)
	if err != nil {
		return "", err
	}
	if link == "" {
		return "", errors.New("provider returned an empty invite link")
	}
	return link, nil
}

// Revoke removes principalID from chatID. It is best-effort: callers log the
// error and carry on.
func (i *Issuer) Revoke(ctx context.Context, chatID, principalID int64) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	if err := i.provider.RemoveMember(ctx, chatID, principalID); err != nil {
		metrics.Revocations.WithLabelValues("failure").Inc()
		return &RevokeError{ChatID: chatID, PrincipalID: principalID, Err: err}
	}
	metrics.Revocations.WithLabelValues("success").Inc()
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

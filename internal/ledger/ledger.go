// Package ledger keeps the persisted record of who is entitled to the group
// and until when. The ledger, not live group membership, is the source of
// truth for entitlement.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("subscription not found")

	// ErrNoChange is returned by an UpdateFunc to abandon an update without
	// writing anything. Stores pass it through unchanged.
	ErrNoChange = errors.New("no change")
)

// Day is the unit plan durations and renewals are expressed in.
const Day = 24 * time.Hour

// Subscription is one principal's access entitlement.
type Subscription struct {
	PrincipalID int64
	ChatID      int64
	PlanID      string
	ExpiresAt   time.Time
	// RemindedFor is the ExpiresAt value the last pre-expiry reminder was
	// sent for. A renewal moves ExpiresAt and so re-arms the reminder.
	RemindedFor time.Time
	UpdatedAt   time.Time
}

// Expired reports whether the entitlement has lapsed at now.
func (s Subscription) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Reminded reports whether a reminder was already sent for the current expiry.
func (s Subscription) Reminded() bool {
	return !s.RemindedFor.IsZero() && s.RemindedFor.Equal(s.ExpiresAt)
}

// UpdateFunc computes the next state of an entry from the current one. cur is
// nil when no entry exists. Returning a nil Subscription deletes the entry;
// returning an error aborts the update.
type UpdateFunc func(cur *Subscription) (*Subscription, error)

// Store is the persistence contract of the ledger. Update must be atomic per
// principal: no other write to the same principal may interleave between the
// read handed to fn and the write of its result.
type Store interface {
	Get(ctx context.Context, principalID int64) (Subscription, error)
	Update(ctx context.Context, principalID int64, fn UpdateFunc) (*Subscription, error)
	List(ctx context.Context) ([]Subscription, error)
}

// Ledger implements the entitlement rules on top of a Store.
type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) Get(ctx context.Context, principalID int64) (Subscription, error) {
	return l.store.Get(ctx, principalID)
}

func (l *Ledger) List(ctx context.Context) ([]Subscription, error) {
	return l.store.List(ctx)
}

// Extend grants days of access on chatID. Unexpired time is preserved: the new
// expiry is max(now, current expiry) + days.
func (l *Ledger) Extend(ctx context.Context, principalID, chatID int64, planID string, days int, now time.Time) (Subscription, error) {
	if days <= 0 {
		return Subscription{}, fmt.Errorf("extend by %d days: duration must be positive", days)
	}
	next, err := l.store.Update(ctx, principalID, func(cur *Subscription) (*Subscription, error) {
		base := now
		next := Subscription{PrincipalID: principalID, ChatID: chatID, PlanID: planID}
		if cur != nil {
			next = *cur
			next.ChatID = chatID
			if planID != "" {
				next.PlanID = planID
			}
			if cur.ExpiresAt.After(now) {
				base = cur.ExpiresAt
			}
		}
		next.ExpiresAt = base.Add(time.Duration(days) * Day)
		next.UpdatedAt = now
		return &next, nil
	})
	if err != nil {
		return Subscription{}, err
	}
	return *next, nil
}

// Remove deletes the principal's entry and returns what was removed.
func (l *Ledger) Remove(ctx context.Context, principalID int64) (Subscription, error) {
	var removed Subscription
	_, err := l.store.Update(ctx, principalID, func(cur *Subscription) (*Subscription, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		removed = *cur
		return nil, nil
	})
	if err != nil {
		return Subscription{}, err
	}
	return removed, nil
}

// RemoveIfExpired deletes the entry only if it is still lapsed at now, so a
// renewal that landed since the caller read the entry survives.
func (l *Ledger) RemoveIfExpired(ctx context.Context, principalID int64, now time.Time) (bool, error) {
	_, err := l.store.Update(ctx, principalID, func(cur *Subscription) (*Subscription, error) {
		if cur == nil || !cur.Expired(now) {
			return nil, ErrNoChange
		}
		return nil, nil
	})
	if errors.Is(err, ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkReminded records that a reminder is being sent for the entry's current
// expiry if the entry is inside window and not yet reminded. The caller sends
// the reminder only when due is true, which makes delivery at-most-once per
// (principal, expiry) pair.
func (l *Ledger) MarkReminded(ctx context.Context, principalID int64, now time.Time, window time.Duration) (sub Subscription, due bool, err error) {
	next, err := l.store.Update(ctx, principalID, func(cur *Subscription) (*Subscription, error) {
		if cur == nil || cur.Expired(now) || cur.Reminded() || cur.ExpiresAt.Sub(now) > window {
			return nil, ErrNoChange
		}
		next := *cur
		next.RemindedFor = cur.ExpiresAt
		next.UpdatedAt = now
		return &next, nil
	})
	if errors.Is(err, ErrNoChange) {
		return Subscription{}, false, nil
	}
	if err != nil {
		return Subscription{}, false, err
	}
	return *next, true, nil
}

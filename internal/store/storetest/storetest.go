// Package storetest holds conformance suites every store backend must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolio-deb/joinbot/internal/ledger"
	"github.com/anatolio-deb/joinbot/internal/request"
)

// Contenders is the number of goroutines racing on a single key in the
// concurrency checks.
const Contenders = 16

// RunLedgerSuite exercises a ledger.Store. newStore must return an empty store.
func RunLedgerSuite(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, 1)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("create read delete", func(t *testing.T) {
		s := newStore(t)
		created, err := s.Update(ctx, 7, func(cur *ledger.Subscription) (*ledger.Subscription, error) {
			assert.Nil(t, cur)
			return &ledger.Subscription{ChatID: -100, PlanID: "month", ExpiresAt: now.Add(ledger.Day), UpdatedAt: now}, nil
		})
		require.NoError(t, err)
		require.NotNil(t, created)
		assert.Equal(t, int64(7), created.PrincipalID)

		got, err := s.Get(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(-100), got.ChatID)
		assert.Equal(t, "month", got.PlanID)
		assert.True(t, got.ExpiresAt.Equal(now.Add(ledger.Day)), "expires_at %s", got.ExpiresAt)
		assert.True(t, got.RemindedFor.IsZero())

		deleted, err := s.Update(ctx, 7, func(cur *ledger.Subscription) (*ledger.Subscription, error) {
			require.NotNil(t, cur)
			return nil, nil
		})
		require.NoError(t, err)
		assert.Nil(t, deleted)

		_, err = s.Get(ctx, 7)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("aborted update writes nothing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Update(ctx, 3, func(*ledger.Subscription) (*ledger.Subscription, error) {
			return &ledger.Subscription{ChatID: 1, ExpiresAt: now}, nil
		})
		require.NoError(t, err)

		_, err = s.Update(ctx, 3, func(cur *ledger.Subscription) (*ledger.Subscription, error) {
			return nil, ledger.ErrNoChange
		})
		assert.True(t, errors.Is(err, ledger.ErrNoChange))

		_, err = s.Get(ctx, 3)
		assert.NoError(t, err)
	})

	t.Run("reminder marker round trips", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Update(ctx, 4, func(*ledger.Subscription) (*ledger.Subscription, error) {
			return &ledger.Subscription{ChatID: 1, ExpiresAt: now, RemindedFor: now}, nil
		})
		require.NoError(t, err)
		got, err := s.Get(ctx, 4)
		require.NoError(t, err)
		assert.True(t, got.Reminded())
	})

	t.Run("list", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []int64{30, 10, 20} {
			_, err := s.Update(ctx, id, func(*ledger.Subscription) (*ledger.Subscription, error) {
				return &ledger.Subscription{ChatID: 1, ExpiresAt: now}, nil
			})
			require.NoError(t, err)
		}
		subs, err := s.List(ctx)
		require.NoError(t, err)
		ids := make([]int64, 0, len(subs))
		for _, sub := range subs {
			ids = append(ids, sub.PrincipalID)
		}
		assert.ElementsMatch(t, []int64{10, 20, 30}, ids)
	})

	t.Run("concurrent extends are serialized", func(t *testing.T) {
		s := newStore(t)
		l := ledger.New(s)

		var wg sync.WaitGroup
		for i := 0; i < Contenders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Extend(ctx, 99, 1, "month", 1, now)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := s.Get(ctx, 99)
		require.NoError(t, err)
		assert.True(t, got.ExpiresAt.Equal(now.Add(Contenders*ledger.Day)), "lost update: expires_at %s", got.ExpiresAt)
	})
}

// RunRequestSuite exercises a request.Store. newStore must return an empty store.
func RunRequestSuite(t *testing.T, newStore func(t *testing.T) request.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	newRequest := func(id string, principal int64) request.Request {
		return request.Request{
			ID:          id,
			PrincipalID: principal,
			PlanID:      "month",
			Reference:   "ABC123",
			Status:      request.AwaitingReceipt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	t.Run("missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, request.ErrNotFound)
		_, err = s.Active(ctx, 1)
		assert.ErrorIs(t, err, request.ErrNotFound)
		_, err = s.Update(ctx, "nope", func(*request.Request) error { return nil })
		assert.ErrorIs(t, err, request.ErrNotFound)
	})

	t.Run("replace active supersedes", func(t *testing.T) {
		s := newStore(t)
		superseded, err := s.ReplaceActive(ctx, newRequest("r1", 5))
		require.NoError(t, err)
		assert.Nil(t, superseded)

		active, err := s.Active(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, "r1", active.ID)
		assert.Equal(t, "ABC123", active.Reference)

		superseded, err = s.ReplaceActive(ctx, newRequest("r2", 5))
		require.NoError(t, err)
		require.NotNil(t, superseded)
		assert.Equal(t, "r1", superseded.ID)

		_, err = s.Get(ctx, "r1")
		assert.ErrorIs(t, err, request.ErrNotFound)
		active, err = s.Active(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, "r2", active.ID)
	})

	t.Run("update and terminal status clears active", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ReplaceActive(ctx, newRequest("r1", 6))
		require.NoError(t, err)

		updated, err := s.Update(ctx, "r1", func(r *request.Request) error {
			r.Status = request.PendingReview
			r.ReceiptRef = "file-1"
			r.SubmittedAt = now
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, request.PendingReview, updated.Status)

		_, err = s.Update(ctx, "r1", func(r *request.Request) error {
			r.Status = request.Rejected
			return errors.New("boom")
		})
		require.Error(t, err)
		got, err := s.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, request.PendingReview, got.Status, "aborted update must not persist")
		assert.Equal(t, "file-1", got.ReceiptRef)
		assert.True(t, got.SubmittedAt.Equal(now))

		_, err = s.Update(ctx, "r1", func(r *request.Request) error {
			r.Status = request.Approved
			return nil
		})
		require.NoError(t, err)

		_, err = s.Active(ctx, 6)
		assert.ErrorIs(t, err, request.ErrNotFound)
		got, err = s.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, request.Approved, got.Status)

		superseded, err := s.ReplaceActive(ctx, newRequest("r2", 6))
		require.NoError(t, err)
		assert.Nil(t, superseded, "terminal requests are never superseded")
		_, err = s.Get(ctx, "r1")
		assert.NoError(t, err)
	})

	t.Run("reopened request is active again", func(t *testing.T) {
		s := newStore(t)
		tracker := request.NewTracker(s)
		_, err := tracker.Open(ctx, newRequest("r1", 7))
		require.NoError(t, err)
		_, _, err = tracker.AttachReceipt(ctx, 7, "file", now)
		require.NoError(t, err)
		_, err = tracker.Transition(ctx, "r1", request.PendingReview, request.Approved, now)
		require.NoError(t, err)
		_, err = s.Active(ctx, 7)
		require.ErrorIs(t, err, request.ErrNotFound)

		reopened, err := tracker.Reopen(ctx, "r1", now)
		require.NoError(t, err)
		assert.Equal(t, request.PendingReview, reopened.Status)
		active, err := s.Active(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "r1", active.ID)

		_, err = tracker.Reopen(ctx, "r1", now)
		assert.ErrorIs(t, err, request.ErrStatusConflict)
	})

	t.Run("status compare-and-set has one winner", func(t *testing.T) {
		s := newStore(t)
		tracker := request.NewTracker(s)
		_, err := tracker.Open(ctx, newRequest("race", 8))
		require.NoError(t, err)
		_, _, err = tracker.AttachReceipt(ctx, 8, "file", now)
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for i := 0; i < Contenders; i++ {
			to := request.Approved
			if i%2 == 1 {
				to = request.Rejected
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := tracker.Transition(ctx, "race", request.PendingReview, to, now)
				if err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, request.ErrStatusConflict)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})
}

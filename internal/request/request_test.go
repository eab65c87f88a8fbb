package request_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolio-deb/joinbot/internal/request"
	"github.com/anatolio-deb/joinbot/internal/store/memory"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to request.Status
		want     bool
	}{
		{request.AwaitingReceipt, request.PendingReview, true},
		{request.PendingReview, request.Approved, true},
		{request.PendingReview, request.Rejected, true},
		{request.AwaitingReceipt, request.Approved, false},
		{request.AwaitingReceipt, request.Rejected, false},
		{request.Approved, request.Rejected, false},
		{request.Rejected, request.PendingReview, false},
		{request.Approved, request.PendingReview, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, request.CanTransition(tt.from, tt.to))
		})
	}
}

func TestOpenSupersedes(t *testing.T) {
	ctx := context.Background()
	tr := request.NewTracker(memory.NewRequestStore())

	prev, err := tr.Open(ctx, request.Request{ID: "a", PrincipalID: 1, PlanID: "month", CreatedAt: now})
	require.NoError(t, err)
	assert.Nil(t, prev)

	prev, err = tr.Open(ctx, request.Request{ID: "b", PrincipalID: 1, PlanID: "year", CreatedAt: now})
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "a", prev.ID)

	active, err := tr.Active(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", active.ID)
	assert.Equal(t, request.AwaitingReceipt, active.Status)

	_, err = tr.Open(ctx, request.Request{ID: "c", PrincipalID: 1})
	assert.Error(t, err, "plan is required")
}

func TestAttachReceipt(t *testing.T) {
	ctx := context.Background()
	tr := request.NewTracker(memory.NewRequestStore())

	_, _, err := tr.AttachReceipt(ctx, 1, "photo:x", now)
	assert.ErrorIs(t, err, request.ErrNotFound)

	_, err = tr.Open(ctx, request.Request{ID: "a", PrincipalID: 1, PlanID: "month", CreatedAt: now})
	require.NoError(t, err)

	req, resubmitted, err := tr.AttachReceipt(ctx, 1, "photo:x", now)
	require.NoError(t, err)
	assert.False(t, resubmitted)
	assert.Equal(t, request.PendingReview, req.Status)

	req, resubmitted, err = tr.AttachReceipt(ctx, 1, "document:y", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, resubmitted)
	assert.Equal(t, "document:y", req.ReceiptRef)
	assert.Equal(t, request.PendingReview, req.Status)
}

func TestTransition(t *testing.T) {
	ctx := context.Background()
	tr := request.NewTracker(memory.NewRequestStore())
	_, err := tr.Open(ctx, request.Request{ID: "a", PrincipalID: 1, PlanID: "month", CreatedAt: now})
	require.NoError(t, err)

	_, err = tr.Transition(ctx, "a", request.AwaitingReceipt, request.Approved, now)
	assert.ErrorIs(t, err, request.ErrIllegalTransition)

	_, err = tr.Transition(ctx, "a", request.PendingReview, request.Approved, now)
	assert.ErrorIs(t, err, request.ErrStatusConflict)

	_, _, err = tr.AttachReceipt(ctx, 1, "photo:x", now)
	require.NoError(t, err)

	req, err := tr.Transition(ctx, "a", request.PendingReview, request.Approved, now)
	require.NoError(t, err)
	assert.Equal(t, request.Approved, req.Status)

	_, err = tr.Transition(ctx, "a", request.PendingReview, request.Rejected, now)
	assert.ErrorIs(t, err, request.ErrStatusConflict)

	_, err = tr.Transition(ctx, "missing", request.PendingReview, request.Rejected, now)
	assert.ErrorIs(t, err, request.ErrNotFound)
}

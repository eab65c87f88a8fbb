package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowNotifier struct{}

func (slowNotifier) Notify(ctx context.Context, _ int64, _ Notice) error {
	<-ctx.Done()
	return ctx.Err()
}

func (slowNotifier) NotifyAdmin(ctx context.Context, _ Notice) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSenderSwallowsFailures(t *testing.T) {
	log, hook := test.NewNullLogger()
	rec := &Recorder{Fail: errors.New("chat not found")}
	s := NewSender(rec, time.Second, log)

	assert.False(t, s.ToPrincipal(context.Background(), 1, Notice{Kind: Expired}))
	assert.False(t, s.ToAdmin(context.Background(), Notice{Kind: ReviewRequested}))

	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "review_requested", hook.LastEntry().Data["kind"])
}

func TestSenderDelivers(t *testing.T) {
	log, _ := test.NewNullLogger()
	rec := &Recorder{}
	s := NewSender(rec, time.Second, log)

	assert.True(t, s.ToPrincipal(context.Background(), 7, Notice{Kind: Approved}))
	assert.True(t, s.ToAdmin(context.Background(), Notice{Kind: DecisionRecorded}))

	got := rec.Principal(Approved)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].PrincipalID)
	assert.Len(t, rec.Admin(), 1)
	assert.Empty(t, rec.Principal(Rejected))
}

func TestSenderTimeout(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := NewSender(slowNotifier{}, 20*time.Millisecond, log)

	start := time.Now()
	assert.False(t, s.ToPrincipal(context.Background(), 1, Notice{Kind: Expiring}))
	assert.Less(t, time.Since(start), time.Second)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "expired", Expired.String())
	assert.Equal(t, "unknown", Kind(0).String())
}

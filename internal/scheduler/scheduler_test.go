package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolio-deb/joinbot/internal/events"
	"github.com/anatolio-deb/joinbot/internal/ledger"
	"github.com/anatolio-deb/joinbot/internal/notify"
	"github.com/anatolio-deb/joinbot/internal/store/memory"
)

const chat int64 = -100200

type revoker struct {
	mu      sync.Mutex
	err     error
	revoked []int64
}

func (r *revoker) Revoke(_ context.Context, _ int64, principalID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, principalID)
	return r.err
}

func (r *revoker) calls() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.revoked...)
}

type fixture struct {
	sched   *Scheduler
	ledger  *ledger.Ledger
	revoker *revoker
	notes   *notify.Recorder
	events  *events.Recorder
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	f := &fixture{
		ledger:  ledger.New(memory.NewLedgerStore()),
		revoker: &revoker{},
		notes:   &notify.Recorder{},
		events:  &events.Recorder{},
		now:     time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.sched = New(Config{Interval: time.Hour, ReminderWindow: 48 * time.Hour}, f.ledger, f.revoker, f.notes,
		WithClock(func() time.Time { return f.now }),
		WithLogger(log),
		WithPublisher(f.events),
	)
	return f
}

// grant creates an entry expiring at expiresAt.
func (f *fixture) grant(t *testing.T, principalID int64, expiresAt time.Time) {
	t.Helper()
	_, err := f.ledger.Extend(context.Background(), principalID, chat, "month", 1, expiresAt.Add(-ledger.Day))
	require.NoError(t, err)
}

func TestSweepRemovesExactlyLapsedEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.grant(t, 1, f.now.Add(-time.Hour))
	f.grant(t, 2, f.now)
	f.grant(t, 3, f.now.Add(time.Second))
	f.grant(t, 4, f.now.Add(30*ledger.Day))

	report, err := f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Checked: 4, Expired: 2, Reminded: 1}, report)

	remaining, err := f.ledger.List(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, int64(3), remaining[0].PrincipalID)
	assert.Equal(t, int64(4), remaining[1].PrincipalID)
	assert.Equal(t, f.now.Add(30*ledger.Day), remaining[1].ExpiresAt)

	assert.ElementsMatch(t, []int64{1, 2}, f.revoker.calls())
	assert.Len(t, f.notes.Principal(notify.Expired), 2)
}

// Sweep one second after expiry with a failing revoke.
func TestSweepDeletesDespiteRevokeFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expiresAt := f.now.Add(-time.Second)
	f.grant(t, 1, expiresAt)
	f.revoker.err = errors.New("not enough rights to restrict/unrestrict chat member")

	report, err := f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 1, report.RevokeFailures)
	assert.Equal(t, []int64{1}, f.revoker.calls())

	_, err = f.ledger.Get(ctx, 1)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	expired := f.notes.Principal(notify.Expired)
	require.Len(t, expired, 1)
	assert.Equal(t, int64(1), expired[0].PrincipalID)
	assert.Equal(t, expiresAt, expired[0].Subscription.ExpiresAt)
	assert.Equal(t, []string{events.SubscriptionExpired}, f.events.Types())
}

func TestSweepRemindsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, 1, f.now.Add(36*time.Hour))

	report, err := f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reminded)

	f.now = f.now.Add(time.Hour)
	report, err = f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Reminded)
	assert.Len(t, f.notes.Principal(notify.Expiring), 1)

	// A renewal moves the expiry and re-arms the reminder.
	_, err = f.ledger.Extend(ctx, 1, chat, "", 1, f.now)
	require.NoError(t, err)
	f.now = f.now.Add(ledger.Day)
	report, err = f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reminded)
	assert.Len(t, f.notes.Principal(notify.Expiring), 2)
	assert.Equal(t, []string{events.SubscriptionRemind, events.SubscriptionRemind}, f.events.Types())
}

func TestSweepReminderOutsideWindow(t *testing.T) {
	f := newFixture(t)
	f.grant(t, 1, f.now.Add(72*time.Hour))

	report, err := f.sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Checked: 1}, report)
	assert.Empty(t, f.notes.Principal())
}

func TestSweepNotifierFailureKeepsReminderRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, 1, f.now.Add(time.Hour))
	f.notes.Fail = errors.New("bot was blocked by the user")

	report, err := f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reminded)

	sub, err := f.ledger.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, sub.Reminded())
}

func TestSweepCancelled(t *testing.T) {
	f := newFixture(t)
	f.grant(t, 1, f.now.Add(-time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.sched.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.revoker.calls())
}

func TestStartSweepsImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, 1, f.now.Add(-time.Minute))

	require.NoError(t, f.sched.Start(ctx))
	defer func() { <-f.sched.Stop().Done() }()

	_, err := f.ledger.Get(ctx, 1)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Equal(t, []int64{1}, f.revoker.calls())
}

func TestNewDefaults(t *testing.T) {
	s := New(Config{}, ledger.New(memory.NewLedgerStore()), &revoker{}, &notify.Recorder{})
	assert.Equal(t, DefaultInterval, s.cfg.Interval)
	assert.Equal(t, DefaultReminderWindow, s.cfg.ReminderWindow)
}

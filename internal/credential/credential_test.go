package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type providerStub struct {
	mu          sync.Mutex
	failures    int
	inviteCalls int
	limits      []int
	expiries    []time.Time
	removeErr   error
	removed     []int64
	block       bool
}

func (p *providerStub) CreateInvite(ctx context.Context, chatID int64, memberLimit int, expireAt time.Time) (string, error) {
	p.mu.Lock()
	p.inviteCalls++
	p.limits = append(p.limits, memberLimit)
	p.expiries = append(p.expiries, expireAt)
	fail := p.inviteCalls <= p.failures
	block := p.block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if fail {
		return "", errors.New("not enough rights")
	}
	return "https://t.me/+invite", nil
}

func (p *providerStub) RemoveMember(_ context.Context, _, principalID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, principalID)
	return p.removeErr
}

func newTestIssuer(p AccessProvider, now time.Time) *Issuer {
	log, _ := test.NewNullLogger()
	return NewIssuer(p,
		WithClock(func() time.Time { return now }),
		WithRetryDelay(0),
		WithTimeout(50*time.Millisecond),
		WithLogger(log),
	)
}

func TestIssueSingleUse(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &providerStub{}
	issuer := newTestIssuer(p, now)

	cred, err := issuer.Issue(context.Background(), -1001, 2*time.Hour, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/+invite", cred.Link)
	assert.Equal(t, 1, cred.MaxUses)
	assert.Equal(t, "req-1", cred.RequestID)
	assert.True(t, cred.ExpiresAt.Equal(now.Add(2*time.Hour)))
	assert.False(t, cred.Static)

	assert.Equal(t, []int{1}, p.limits)
	assert.Equal(t, 1, p.inviteCalls)
}

func TestIssueRetriesExactlyOnce(t *testing.T) {
	now := time.Now()

	t.Run("second attempt succeeds", func(t *testing.T) {
		p := &providerStub{failures: 1}
		cred, err := newTestIssuer(p, now).Issue(context.Background(), 1, time.Hour, "r")
		require.NoError(t, err)
		assert.Equal(t, MaxUses, cred.MaxUses)
		assert.Equal(t, 2, p.inviteCalls)
	})

	t.Run("both attempts fail", func(t *testing.T) {
		p := &providerStub{failures: 5}
		_, err := newTestIssuer(p, now).Issue(context.Background(), 1, time.Hour, "r")
		require.Error(t, err)

		var issErr *IssuanceError
		require.True(t, errors.As(err, &issErr))
		assert.Equal(t, 2, issErr.Attempts)
		assert.Equal(t, int64(1), issErr.ChatID)
		assert.Equal(t, 2, p.inviteCalls, "no more than one retry")
	})
}

func TestIssueIsTimeBounded(t *testing.T) {
	p := &providerStub{block: true}
	start := time.Now()
	_, err := newTestIssuer(p, start).Issue(context.Background(), 1, time.Hour, "r")

	var issErr *IssuanceError
	require.True(t, errors.As(err, &issErr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestIssueCancelledBeforeRetry(t *testing.T) {
	p := &providerStub{failures: 2}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestIssuer(p, time.Now()).Issue(ctx, 1, time.Hour, "r")

	var issErr *IssuanceError
	require.True(t, errors.As(err, &issErr))
	assert.Equal(t, 1, issErr.Attempts)
	assert.Equal(t, 1, p.inviteCalls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIssueRejectsBadTTL(t *testing.T) {
	p := &providerStub{}
	issuer := newTestIssuer(p, time.Now())

	for _, ttl := range []time.Duration{0, -time.Minute, MaxTTL + time.Second} {
		_, err := issuer.Issue(context.Background(), 1, ttl, "r")
		assert.Error(t, err, ttl.String())
	}
	assert.Zero(t, p.inviteCalls)
}

func TestRevoke(t *testing.T) {
	p := &providerStub{}
	issuer := newTestIssuer(p, time.Now())
	require.NoError(t, issuer.Revoke(context.Background(), -1001, 42))
	assert.Equal(t, []int64{42}, p.removed)

	p.removeErr = errors.New("user is an administrator")
	err := issuer.Revoke(context.Background(), -1001, 43)
	var revErr *RevokeError
	require.True(t, errors.As(err, &revErr))
	assert.Equal(t, int64(43), revErr.PrincipalID)
}

func TestStatic(t *testing.T) {
	cred := Static("https://t.me/+static", "req-9")
	assert.True(t, cred.Static)
	assert.Equal(t, "req-9", cred.RequestID)
	assert.Zero(t, cred.MaxUses)
}

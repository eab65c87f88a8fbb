// Package scheduler runs the periodic ledger sweep that reminds principals
// of upcoming expiry and revokes lapsed access.
//
// The scheduler keeps no state between sweeps. Everything it acts on is read
// from the ledger, so a restart loses nothing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/anatolio-deb/joinbot/internal/events"
	"github.com/anatolio-deb/joinbot/internal/ledger"
	"github.com/anatolio-deb/joinbot/internal/metrics"
	"github.com/anatolio-deb/joinbot/internal/notify"
)

const (
	DefaultInterval       = time.Minute
	DefaultReminderWindow = 48 * time.Hour
)

// Revoker removes a principal from the group.
type Revoker interface {
	Revoke(ctx context.Context, chatID, principalID int64) error
}

type Config struct {
	Interval       time.Duration
	ReminderWindow time.Duration
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Scheduler) { s.log = log }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Scheduler) { s.events = p }
}

func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.notifyTimeout = d }
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Checked        int
	Reminded       int
	Expired        int
	RevokeFailures int
}

type Scheduler struct {
	cfg     Config
	cron    *cron.Cron
	ledger  *ledger.Ledger
	revoker Revoker

	notifyTimeout time.Duration
	sender        *notify.Sender
	events        events.Publisher
	log           logrus.FieldLogger
	now           func() time.Time
}

func New(cfg Config, l *ledger.Ledger, revoker Revoker, notifier notify.Notifier, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ReminderWindow <= 0 {
		cfg.ReminderWindow = DefaultReminderWindow
	}
	s := &Scheduler{
		cfg:           cfg,
		ledger:        l,
		revoker:       revoker,
		notifyTimeout: notify.DefaultTimeout,
		events:        events.Nop{},
		log:           logrus.StandardLogger(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sender = notify.NewSender(notifier, s.notifyTimeout, s.log)

	cronLogger := cron.PrintfLogger(s.log)
	s.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	return s
}

// Start runs one sweep right away, then schedules the periodic sweep. Sweeps
// run under ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.run(ctx)

	schedule := "@every " + s.cfg.Interval.String()
	if _, err := s.cron.AddFunc(schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", schedule, err)
	}
	s.log.WithFields(logrus.Fields{
		"interval":        s.cfg.Interval,
		"reminder_window": s.cfg.ReminderWindow,
	}).Info("expiry scheduler started")
	s.cron.Start()
	return nil
}

// Stop halts scheduling. The returned context is done once a running sweep
// has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) run(ctx context.Context) {
	report, err := s.Sweep(ctx)
	log := s.log.WithFields(logrus.Fields{
		"checked":         report.Checked,
		"reminded":        report.Reminded,
		"expired":         report.Expired,
		"revoke_failures": report.RevokeFailures,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("sweep interrupted")
			return
		}
		log.WithError(err).Error("sweep failed")
		return
	}
	if report.Reminded > 0 || report.Expired > 0 {
		log.Info("sweep finished")
	} else {
		log.Debug("sweep finished")
	}
}

// Sweep reconciles every ledger entry against the clock: lapsed entries are
// revoked and deleted, entries inside the reminder window get one reminder.
func (s *Scheduler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	subs, err := s.ledger.List(ctx)
	if err != nil {
		return report, fmt.Errorf("list subscriptions: %w", err)
	}

	now := s.now()
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		switch {
		case sub.Expired(now):
			s.expire(ctx, sub, now, &report)
		case !sub.Reminded() && sub.ExpiresAt.Sub(now) <= s.cfg.ReminderWindow:
			s.remind(ctx, sub.PrincipalID, now, &report)
		}
	}
	metrics.ActiveSubscriptions.Set(float64(report.Checked - report.Expired))
	return report, nil
}

// expire revokes membership and then deletes the entry whatever the revoke
// outcome. The delete is skipped if a renewal moved the expiry meanwhile.
func (s *Scheduler) expire(ctx context.Context, sub ledger.Subscription, now time.Time, report *SweepReport) {
	log := s.log.WithFields(logrus.Fields{
		"principal_id": sub.PrincipalID,
		"chat_id":      sub.ChatID,
		"expires_at":   sub.ExpiresAt,
	})

	if err := s.revoker.Revoke(ctx, sub.ChatID, sub.PrincipalID); err != nil {
		report.RevokeFailures++
		log.WithError(err).Warn("revoke failed, removing entry anyway")
	}

	removed, err := s.ledger.RemoveIfExpired(ctx, sub.PrincipalID, now)
	if err != nil {
		log.WithError(err).Error("remove lapsed subscription")
		return
	}
	if !removed {
		log.Warn("subscription renewed while expiring, entry kept")
		return
	}

	report.Expired++
	metrics.SweepEntries.WithLabelValues("expired").Inc()
	log.Info("subscription expired")

	s.sender.ToPrincipal(ctx, sub.PrincipalID, notify.Notice{Kind: notify.Expired, Subscription: &sub})
	s.emit(ctx, events.Event{
		Type:        events.SubscriptionExpired,
		PrincipalID: sub.PrincipalID,
		PlanID:      sub.PlanID,
		ExpiresAt:   &sub.ExpiresAt,
	})
}

// remind claims the reminder for the entry's current expiry before sending
// it, so a crash between the two loses a reminder rather than repeating it.
func (s *Scheduler) remind(ctx context.Context, principalID int64, now time.Time, report *SweepReport) {
	sub, due, err := s.ledger.MarkReminded(ctx, principalID, now, s.cfg.ReminderWindow)
	if err != nil {
		s.log.WithField("principal_id", principalID).WithError(err).Error("record reminder")
		return
	}
	if !due {
		return
	}

	report.Reminded++
	metrics.SweepEntries.WithLabelValues("reminded").Inc()
	s.sender.ToPrincipal(ctx, principalID, notify.Notice{Kind: notify.Expiring, Subscription: &sub})
	s.emit(ctx, events.Event{
		Type:        events.SubscriptionRemind,
		PrincipalID: principalID,
		PlanID:      sub.PlanID,
		ExpiresAt:   &sub.ExpiresAt,
	})
}

func (s *Scheduler) emit(ctx context.Context, ev events.Event) {
	ev.OccurredAt = s.now()
	events.Emit(ctx, s.events, s.log, ev)
}

// Package workflow is the approval state machine: plan selection, receipt
// submission, reviewer decisions and administrative renewal and removal.
//
// The workflow is the only writer of the ledger apart from the expiry
// scheduler. Everything that mutates one principal's request or entry runs
// under that principal's lock. A decision commits the request status with a
// compare-and-set before the ledger is written, so at most one decision wins
// and an entitlement always has an approved request behind it.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-password/password"
	"github.com/sirupsen/logrus"

	"github.com/anatolio-deb/joinbot/internal/credential"
	"github.com/anatolio-deb/joinbot/internal/events"
	"github.com/anatolio-deb/joinbot/internal/ledger"
	"github.com/anatolio-deb/joinbot/internal/metrics"
	"github.com/anatolio-deb/joinbot/internal/notify"
	"github.com/anatolio-deb/joinbot/internal/plan"
	"github.com/anatolio-deb/joinbot/internal/request"
)

// Issuer mints and revokes group access.
type Issuer interface {
	Issue(ctx context.Context, chatID int64, ttl time.Duration, requestID string) (credential.Credential, error)
	Revoke(ctx context.Context, chatID, principalID int64) error
}

type Config struct {
	// ReviewerID is the only principal allowed to decide, renew and remove.
	ReviewerID int64
	// ChatID is the group access is granted to.
	ChatID    int64
	InviteTTL time.Duration
	// FallbackLink is handed out when issuance fails. Empty disables it.
	FallbackLink string
}

type Option func(*Workflow)

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(w *Workflow) { w.log = log }
}

func WithPublisher(p events.Publisher) Option {
	return func(w *Workflow) { w.events = p }
}

// WithNotifyTimeout bounds each notifier call.
func WithNotifyTimeout(d time.Duration) Option {
	return func(w *Workflow) { w.notifyTimeout = d }
}

// WithReferences replaces the payment reference generator.
func WithReferences(gen func() (string, error)) Option {
	return func(w *Workflow) { w.newReference = gen }
}

func WithIDs(gen func() string) Option {
	return func(w *Workflow) { w.newID = gen }
}

type Workflow struct {
	cfg      Config
	catalog  *plan.Catalog
	tracker  *request.Tracker
	ledger   *ledger.Ledger
	issuer   Issuer

	sender        *notify.Sender
	notifyTimeout time.Duration
	events        events.Publisher
	log           logrus.FieldLogger
	now           func() time.Time
	newID         func() string
	newReference  func() (string, error)

	principals *keyLock
}

func New(cfg Config, catalog *plan.Catalog, tracker *request.Tracker, l *ledger.Ledger, issuer Issuer, notifier notify.Notifier, opts ...Option) *Workflow {
	w := &Workflow{
		cfg:           cfg,
		catalog:       catalog,
		tracker:       tracker,
		ledger:        l,
		issuer:        issuer,
		notifyTimeout: notify.DefaultTimeout,
		events:        events.Nop{},
		log:           logrus.StandardLogger(),
		now:           time.Now,
		newID:         uuid.NewString,
		newReference:  paymentReference,
		principals:    newKeyLock(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.sender = notify.NewSender(notifier, w.notifyTimeout, w.log)
	return w
}

// paymentReference returns a short code the principal quotes with the
// payment so the reviewer can match receipt and request.
func paymentReference() (string, error) {
	code, err := password.Generate(8, 4, 0, true, true)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(code), nil
}

func (w *Workflow) lockPrincipal(principalID int64) (unlock func()) {
	return w.principals.Lock(strconv.FormatInt(principalID, 10))
}

func (w *Workflow) IsReviewer(principalID int64) bool {
	return principalID == w.cfg.ReviewerID
}

// Plans returns the catalog in configuration order.
func (w *Workflow) Plans() []plan.Plan {
	return w.catalog.All()
}

func (w *Workflow) Plan(id string) (plan.Plan, error) {
	return w.catalog.Lookup(id)
}

// SelectPlan opens a request for planID, superseding the principal's earlier
// unfinished request if any. The ledger is not touched.
func (w *Workflow) SelectPlan(ctx context.Context, principalID int64, planID string) (request.Request, error) {
	p, err := w.catalog.Lookup(planID)
	if err != nil {
		return request.Request{}, err
	}
	ref, err := w.newReference()
	if err != nil {
		return request.Request{}, fmt.Errorf("generate payment reference: %w", err)
	}

	unlock := w.lockPrincipal(principalID)
	defer unlock()

	now := w.now()
	req := request.Request{
		ID:          w.newID(),
		PrincipalID: principalID,
		PlanID:      p.ID,
		Reference:   ref,
		Status:      request.AwaitingReceipt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	superseded, err := w.tracker.Open(ctx, req)
	if err != nil {
		return request.Request{}, fmt.Errorf("open request: %w", err)
	}

	log := w.log.WithFields(logrus.Fields{
		"principal_id": principalID,
		"request_id":   req.ID,
		"plan_id":      p.ID,
	})
	if superseded != nil {
		log = log.WithField("superseded", superseded.ID)
	}
	log.Info("plan selected")
	metrics.RequestsOpened.Inc()
	return req, nil
}

// SubmitReceipt attaches a receipt to the principal's open request and asks
// the reviewer for a decision. A second receipt for a request already under
// review replaces the first one.
func (w *Workflow) SubmitReceipt(ctx context.Context, principalID int64, receiptRef string) (request.Request, error) {
	if receiptRef == "" {
		return request.Request{}, fmt.Errorf("%w: empty receipt", ErrInvalidTransition)
	}
	unlock := w.lockPrincipal(principalID)
	req, resubmitted, err := w.tracker.AttachReceipt(ctx, principalID, receiptRef, w.now())
	unlock()
	if errors.Is(err, request.ErrNotFound) {
		return request.Request{}, ErrNoActivePlanSelection
	}
	if err != nil {
		return request.Request{}, fmt.Errorf("attach receipt: %w", err)
	}

	w.log.WithFields(logrus.Fields{
		"principal_id": principalID,
		"request_id":   req.ID,
		"plan_id":      req.PlanID,
		"resubmitted":  resubmitted,
	}).Info("receipt submitted")
	metrics.ReceiptsSubmitted.Inc()

	notice := notify.Notice{
		Kind:        notify.ReviewRequested,
		PrincipalID: principalID,
		Request:     &req,
		Resubmitted: resubmitted,
	}
	if p, err := w.catalog.Lookup(req.PlanID); err == nil {
		notice.Plan = &p
	}
	w.sender.ToAdmin(ctx, notice)
	w.emit(ctx, events.Event{
		Type:        events.RequestSubmitted,
		PrincipalID: principalID,
		RequestID:   req.ID,
		PlanID:      req.PlanID,
	})
	return req, nil
}

// Decide applies the reviewer's decision to a request under review. Unknown,
// already decided and not yet submitted requests yield ErrInvalidTransition.
func (w *Workflow) Decide(ctx context.Context, reviewerID int64, requestID string, d Decision) (request.Request, error) {
	if !w.IsReviewer(reviewerID) {
		return request.Request{}, ErrNotAuthorized
	}
	if !d.Valid() {
		return request.Request{}, fmt.Errorf("unknown decision %q", d)
	}

	req, err := w.pendingRequest(ctx, requestID)
	if err != nil {
		return request.Request{}, err
	}
	unlock := w.lockPrincipal(req.PrincipalID)
	defer unlock()

	// Reload under the lock: a plan re-selection may have superseded it.
	if req, err = w.pendingRequest(ctx, requestID); err != nil {
		return request.Request{}, err
	}

	if d == Reject {
		return w.reject(ctx, req)
	}
	return w.approve(ctx, req)
}

func (w *Workflow) pendingRequest(ctx context.Context, requestID string) (request.Request, error) {
	req, err := w.tracker.Get(ctx, requestID)
	if errors.Is(err, request.ErrNotFound) {
		metrics.Decisions.WithLabelValues("stale").Inc()
		return request.Request{}, fmt.Errorf("%w: request %s not found", ErrInvalidTransition, requestID)
	}
	if err != nil {
		return request.Request{}, fmt.Errorf("load request: %w", err)
	}
	if req.Status != request.PendingReview {
		metrics.Decisions.WithLabelValues("stale").Inc()
		return request.Request{}, fmt.Errorf("%w: request %s is %s", ErrInvalidTransition, req.ID, req.Status)
	}
	return req, nil
}

func (w *Workflow) reject(ctx context.Context, req request.Request) (request.Request, error) {
	rejected, err := w.transition(ctx, req, request.Rejected)
	if err != nil {
		return request.Request{}, err
	}

	w.log.WithFields(logrus.Fields{
		"principal_id": req.PrincipalID,
		"request_id":   req.ID,
	}).Info("request rejected")
	metrics.Decisions.WithLabelValues("rejected").Inc()

	w.sender.ToPrincipal(ctx, req.PrincipalID, notify.Notice{Kind: notify.Rejected, Request: &rejected})
	w.sender.ToAdmin(ctx, notify.Notice{Kind: notify.DecisionRecorded, PrincipalID: req.PrincipalID, Request: &rejected})
	w.emit(ctx, events.Event{
		Type:        events.RequestRejected,
		PrincipalID: req.PrincipalID,
		RequestID:   req.ID,
		PlanID:      req.PlanID,
	})
	return rejected, nil
}

func (w *Workflow) approve(ctx context.Context, req request.Request) (request.Request, error) {
	log := w.log.WithFields(logrus.Fields{
		"principal_id": req.PrincipalID,
		"request_id":   req.ID,
		"plan_id":      req.PlanID,
	})

	p, err := w.catalog.Lookup(req.PlanID)
	if err != nil {
		return request.Request{}, fmt.Errorf("approve request %s: %w", req.ID, err)
	}

	cred, err := w.issuer.Issue(ctx, w.cfg.ChatID, w.cfg.InviteTTL, req.ID)
	if err != nil {
		if w.cfg.FallbackLink == "" {
			log.WithError(err).Error("credential issuance failed, request left pending")
			metrics.Decisions.WithLabelValues("issuance_failed").Inc()
			w.sender.ToAdmin(ctx, notify.Notice{
				Kind:        notify.IssuanceFailed,
				PrincipalID: req.PrincipalID,
				Request:     &req,
				Plan:        &p,
				Err:         err,
			})
			return request.Request{}, fmt.Errorf("approve request %s: %w", req.ID, err)
		}
		log.WithError(err).Warn("credential issuance failed, using fallback link")
		cred = credential.Static(w.cfg.FallbackLink, req.ID)
	}

	// The status is committed first so a lost race or a failed write leaves
	// the ledger untouched. The invite minted above then expires unused.
	approved, err := w.transition(ctx, req, request.Approved)
	if err != nil {
		log.WithError(err).Warn("decision not recorded, invite left undelivered")
		return request.Request{}, err
	}

	// Approval shares renewal's extension rule: time left on an active
	// entry is kept rather than reset to now.
	sub, err := w.ledger.Extend(ctx, req.PrincipalID, w.cfg.ChatID, p.ID, p.DurationDays, w.now())
	if err != nil {
		log.WithError(err).Error("ledger write failed, reopening request")
		if _, rerr := w.tracker.Reopen(ctx, req.ID, w.now()); rerr != nil {
			log.WithError(rerr).Error("request left approved without a ledger entry")
		}
		metrics.Decisions.WithLabelValues("ledger_failed").Inc()
		err = fmt.Errorf("extend subscription: %w", err)
		w.sender.ToAdmin(ctx, notify.Notice{
			Kind:        notify.IssuanceFailed,
			PrincipalID: req.PrincipalID,
			Request:     &req,
			Plan:        &p,
			Err:         err,
		})
		return request.Request{}, err
	}

	log.WithFields(logrus.Fields{
		"expires_at": sub.ExpiresAt,
		"static":     cred.Static,
	}).Info("request approved")
	if cred.Static {
		metrics.Decisions.WithLabelValues("approved_fallback").Inc()
	} else {
		metrics.Decisions.WithLabelValues("approved").Inc()
	}

	delivered := w.sender.ToPrincipal(ctx, req.PrincipalID, notify.Notice{
		Kind:         notify.Approved,
		Request:      &approved,
		Plan:         &p,
		Credential:   &cred,
		Subscription: &sub,
	})
	if !delivered {
		w.sender.ToAdmin(ctx, notify.Notice{
			Kind:         notify.CredentialUndelivered,
			PrincipalID:  req.PrincipalID,
			Request:      &approved,
			Credential:   &cred,
			Subscription: &sub,
		})
	}
	w.sender.ToAdmin(ctx, notify.Notice{
		Kind:         notify.DecisionRecorded,
		PrincipalID:  req.PrincipalID,
		Request:      &approved,
		Plan:         &p,
		Subscription: &sub,
		Approve:      true,
	})
	w.emit(ctx, events.Event{
		Type:        events.RequestApproved,
		PrincipalID: req.PrincipalID,
		RequestID:   req.ID,
		PlanID:      p.ID,
		ExpiresAt:   &sub.ExpiresAt,
	})
	return approved, nil
}

func (w *Workflow) transition(ctx context.Context, req request.Request, to request.Status) (request.Request, error) {
	next, err := w.tracker.Transition(ctx, req.ID, request.PendingReview, to, w.now())
	if errors.Is(err, request.ErrStatusConflict) || errors.Is(err, request.ErrNotFound) {
		metrics.Decisions.WithLabelValues("stale").Inc()
		return request.Request{}, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	if err != nil {
		return request.Request{}, fmt.Errorf("record decision: %w", err)
	}
	return next, nil
}

// Renew extends the principal's access by days, creating the entry when the
// principal has none.
func (w *Workflow) Renew(ctx context.Context, reviewerID, principalID int64, days int) (ledger.Subscription, error) {
	if !w.IsReviewer(reviewerID) {
		return ledger.Subscription{}, ErrNotAuthorized
	}
	unlock := w.lockPrincipal(principalID)
	sub, err := w.ledger.Extend(ctx, principalID, w.cfg.ChatID, "", days, w.now())
	unlock()
	if err != nil {
		return ledger.Subscription{}, fmt.Errorf("renew %d: %w", principalID, err)
	}

	w.log.WithFields(logrus.Fields{
		"principal_id": principalID,
		"days":         days,
		"expires_at":   sub.ExpiresAt,
	}).Info("subscription renewed")
	metrics.Renewals.Inc()

	w.sender.ToPrincipal(ctx, principalID, notify.Notice{Kind: notify.Renewed, Subscription: &sub})
	w.emit(ctx, events.Event{
		Type:        events.SubscriptionRenewed,
		PrincipalID: principalID,
		PlanID:      sub.PlanID,
		ExpiresAt:   &sub.ExpiresAt,
	})
	return sub, nil
}

// Remove revokes the principal's access ahead of expiry. Revocation is best
// effort; the ledger entry is deleted either way.
func (w *Workflow) Remove(ctx context.Context, reviewerID, principalID int64) (ledger.Subscription, error) {
	if !w.IsReviewer(reviewerID) {
		return ledger.Subscription{}, ErrNotAuthorized
	}
	unlock := w.lockPrincipal(principalID)
	defer unlock()

	sub, err := w.ledger.Get(ctx, principalID)
	if err != nil {
		return ledger.Subscription{}, err
	}

	log := w.log.WithFields(logrus.Fields{
		"principal_id": principalID,
		"chat_id":      sub.ChatID,
	})
	if err := w.issuer.Revoke(ctx, sub.ChatID, principalID); err != nil {
		log.WithError(err).Warn("revoke failed")
	}
	removed, err := w.ledger.Remove(ctx, principalID)
	if err != nil {
		return ledger.Subscription{}, err
	}
	log.Info("subscription removed")

	w.sender.ToPrincipal(ctx, principalID, notify.Notice{Kind: notify.Removed, Subscription: &removed})
	w.emit(ctx, events.Event{
		Type:        events.SubscriptionRemoved,
		PrincipalID: principalID,
		PlanID:      removed.PlanID,
	})
	return removed, nil
}

// Status returns the principal's current entitlement, or ledger.ErrNotFound.
func (w *Workflow) Status(ctx context.Context, principalID int64) (ledger.Subscription, error) {
	return w.ledger.Get(ctx, principalID)
}

// Subscriptions lists the whole ledger for the reviewer.
func (w *Workflow) Subscriptions(ctx context.Context, reviewerID int64) ([]ledger.Subscription, error) {
	if !w.IsReviewer(reviewerID) {
		return nil, ErrNotAuthorized
	}
	return w.ledger.List(ctx)
}

func (w *Workflow) emit(ctx context.Context, ev events.Event) {
	ev.OccurredAt = w.now()
	events.Emit(ctx, w.events, w.log, ev)
}

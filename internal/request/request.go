// Package request tracks subscription requests through the approval workflow.
package request

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("request not found")

	// ErrStatusConflict means a compare-and-set on the status lost: the
	// request was not in the expected status when the write was attempted.
	ErrStatusConflict = errors.New("request status conflict")

	// ErrIllegalTransition means the requested move is not an edge of the
	// status graph.
	ErrIllegalTransition = errors.New("illegal status transition")
)

type Status string

const (
	AwaitingReceipt Status = "awaiting_receipt"
	PendingReview   Status = "pending_review"
	Approved        Status = "approved"
	Rejected        Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case AwaitingReceipt, PendingReview, Approved, Rejected:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == Approved || s == Rejected
}

func (s Status) String() string {
	return string(s)
}

var transitions = map[Status][]Status{
	AwaitingReceipt: {PendingReview},
	PendingReview:   {Approved, Rejected},
}

// CanTransition reports whether from -> to is an edge of the status graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Request is one principal's attempt to obtain access under a plan.
type Request struct {
	ID          string
	PrincipalID int64
	PlanID      string
	// Reference is the short code the principal quotes with the payment.
	Reference string
	// ReceiptRef is an opaque transport handle for the submitted receipt.
	ReceiptRef  string
	Status      Status
	SubmittedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UpdateFunc mutates r in place. Returning an error aborts the update.
type UpdateFunc func(r *Request) error

// Store persists requests. A principal has at most one non-terminal request;
// ReplaceActive enforces this by removing any previous one. Update must be
// atomic per request id.
type Store interface {
	ReplaceActive(ctx context.Context, req Request) (superseded *Request, err error)
	Active(ctx context.Context, principalID int64) (Request, error)
	Get(ctx context.Context, id string) (Request, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (Request, error)
}

// Tracker applies the status graph on top of a Store.
type Tracker struct {
	store Store
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// Open stores a fresh AwaitingReceipt request for the principal, superseding
// any earlier non-terminal one, which is returned.
func (t *Tracker) Open(ctx context.Context, req Request) (*Request, error) {
	if req.ID == "" || req.PrincipalID == 0 || req.PlanID == "" {
		return nil, fmt.Errorf("open request: id, principal and plan are required")
	}
	req.Status = AwaitingReceipt
	return t.store.ReplaceActive(ctx, req)
}

func (t *Tracker) Get(ctx context.Context, id string) (Request, error) {
	return t.store.Get(ctx, id)
}

func (t *Tracker) Active(ctx context.Context, principalID int64) (Request, error) {
	return t.store.Active(ctx, principalID)
}

// AttachReceipt records a receipt on the principal's active request. An
// AwaitingReceipt request moves to PendingReview; a PendingReview request has
// its receipt replaced. resubmitted reports the second case.
func (t *Tracker) AttachReceipt(ctx context.Context, principalID int64, receiptRef string, now time.Time) (req Request, resubmitted bool, err error) {
	active, err := t.store.Active(ctx, principalID)
	if err != nil {
		return Request{}, false, err
	}
	req, err = t.store.Update(ctx, active.ID, func(r *Request) error {
		switch r.Status {
		case AwaitingReceipt:
			r.Status = PendingReview
		case PendingReview:
			resubmitted = true
		default:
			return ErrNotFound
		}
		r.ReceiptRef = receiptRef
		r.SubmittedAt = now
		r.UpdatedAt = now
		return nil
	})
	return req, resubmitted, err
}

// Reopen puts an Approved request back under review. It undoes an approval
// whose ledger write failed and is not an edge of the status graph.
func (t *Tracker) Reopen(ctx context.Context, id string, now time.Time) (Request, error) {
	return t.store.Update(ctx, id, func(r *Request) error {
		if r.Status != Approved {
			return fmt.Errorf("%w: request %s is %s, expected %s", ErrStatusConflict, r.ID, r.Status, Approved)
		}
		r.Status = PendingReview
		r.UpdatedAt = now
		return nil
	})
}

// Transition moves request id from one status to another as a compare-and-set.
// ErrStatusConflict is returned when the request is not in from.
func (t *Tracker) Transition(ctx context.Context, id string, from, to Status, now time.Time) (Request, error) {
	if !CanTransition(from, to) {
		return Request{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return t.store.Update(ctx, id, func(r *Request) error {
		if r.Status != from {
			return fmt.Errorf("%w: request %s is %s, expected %s", ErrStatusConflict, r.ID, r.Status, from)
		}
		r.Status = to
		r.UpdatedAt = now
		return nil
	})
}

package workflow

import (
	"context"
	"fmt"

	"github.com/anatolio-deb/joinbot/internal/ledger"
	"github.com/anatolio-deb/joinbot/internal/request"
)

// Decision is a reviewer's verdict on a request.
type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

func (d Decision) Valid() bool {
	return d == Approve || d == Reject
}

// Event is an inbound workflow event. The set of events is closed.
type Event interface {
	isEvent()
}

type PlanSelected struct {
	PrincipalID int64
	PlanID      string
}

type ReceiptSubmitted struct {
	PrincipalID int64
	ReceiptRef  string
}

type ReviewerDecision struct {
	ReviewerID int64
	RequestID  string
	Decision   Decision
}

type RenewalRequested struct {
	ReviewerID  int64
	PrincipalID int64
	Days        int
}

type RemovalRequested struct {
	ReviewerID  int64
	PrincipalID int64
}

func (PlanSelected) isEvent()     {}
func (ReceiptSubmitted) isEvent() {}
func (ReviewerDecision) isEvent() {}
func (RenewalRequested) isEvent() {}
func (RemovalRequested) isEvent() {}

// Outcome is what handling an event produced. Fields irrelevant to the event
// are nil.
type Outcome struct {
	Request      *request.Request
	Subscription *ledger.Subscription
}

// Handle dispatches ev to the matching operation.
func (w *Workflow) Handle(ctx context.Context, ev Event) (Outcome, error) {
	switch ev := ev.(type) {
	case PlanSelected:
		req, err := w.SelectPlan(ctx, ev.PrincipalID, ev.PlanID)
		return requestOutcome(req, err)
	case ReceiptSubmitted:
		req, err := w.SubmitReceipt(ctx, ev.PrincipalID, ev.ReceiptRef)
		return requestOutcome(req, err)
	case ReviewerDecision:
		req, err := w.Decide(ctx, ev.ReviewerID, ev.RequestID, ev.Decision)
		return requestOutcome(req, err)
	case RenewalRequested:
		sub, err := w.Renew(ctx, ev.ReviewerID, ev.PrincipalID, ev.Days)
		return subscriptionOutcome(sub, err)
	case RemovalRequested:
		sub, err := w.Remove(ctx, ev.ReviewerID, ev.PrincipalID)
		return subscriptionOutcome(sub, err)
	default:
		return Outcome{}, fmt.Errorf("unhandled event %T", ev)
	}
}

func requestOutcome(req request.Request, err error) (Outcome, error) {
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Request: &req}, nil
}

func subscriptionOutcome(sub ledger.Subscription, err error) (Outcome, error) {
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Subscription: &sub}, nil
}

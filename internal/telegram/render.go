package telegram

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/anatolio-deb/joinbot/internal/ledger"
	"github.com/anatolio-deb/joinbot/internal/notify"
	"github.com/anatolio-deb/joinbot/internal/plan"
	"github.com/anatolio-deb/joinbot/internal/request"
	"github.com/anatolio-deb/joinbot/internal/workflow"
)

const dateLayout = "2 Jan 2006 15:04 MST"

func formatTime(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func esc(s string) string {
	return html.EscapeString(s)
}

func planLine(p plan.Plan) string {
	return fmt.Sprintf("%s (%d days) for %s", p.Label(), p.DurationDays, p.Price.String())
}

func planMenu(plans []plan.Plan) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(plans))
	for _, p := range plans {
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         planLine(p),
			CallbackData: planCallback(p.ID),
		}})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func decisionKeyboard(requestID string) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{{
		{Text: "Approve", CallbackData: decideCallback(workflow.Approve, requestID)},
		{Text: "Reject", CallbackData: decideCallback(workflow.Reject, requestID)},
	}}}
}

func paymentText(p plan.Plan, req request.Request, instructions string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n\n", esc(planLine(p)))
	if instructions != "" {
		fmt.Fprintf(&b, "%s\n\n", esc(instructions))
	}
	fmt.Fprintf(&b, "Payment reference: <code>%s</code>\n", esc(req.Reference))
	b.WriteString("Quote it with the payment, then send the receipt here as a photo or a file.")
	return b.String()
}

func statusText(sub ledger.Subscription, now time.Time) string {
	if sub.Expired(now) {
		return fmt.Sprintf("Your subscription ended on %s.", formatTime(sub.ExpiresAt))
	}
	days := int(sub.ExpiresAt.Sub(now) / ledger.Day)
	return fmt.Sprintf("Your subscription is active until %s (%d days left).", formatTime(sub.ExpiresAt), days)
}

func subscriptionsText(subs []ledger.Subscription) string {
	if len(subs) == 0 {
		return "No subscriptions."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d subscriptions:\n", len(subs))
	for _, s := range subs {
		fmt.Fprintf(&b, "<code>%d</code> %s until %s\n", s.PrincipalID, esc(s.PlanID), formatTime(s.ExpiresAt))
	}
	return b.String()
}

// principalText renders notices addressed to a principal.
func principalText(n notify.Notice) string {
	switch n.Kind {
	case notify.Approved:
		var b strings.Builder
		b.WriteString("Payment confirmed.")
		if n.Subscription != nil {
			fmt.Fprintf(&b, " Your access is valid until %s.", formatTime(n.Subscription.ExpiresAt))
		}
		if c := n.Credential; c != nil {
			if c.Static {
				fmt.Fprintf(&b, "\n\nJoin the group: %s", esc(c.Link))
			} else {
				fmt.Fprintf(&b, "\n\nJoin the group: %s\nThe link works once and expires at %s.", esc(c.Link), formatTime(c.ExpiresAt))
			}
		}
		return b.String()
	case notify.Rejected:
		return "Your payment could not be confirmed. Use /start to try again."
	case notify.Renewed:
		if n.Subscription != nil {
			return fmt.Sprintf("Your subscription was extended until %s.", formatTime(n.Subscription.ExpiresAt))
		}
		return "Your subscription was extended."
	case notify.Removed:
		return "Your access to the group was revoked."
	case notify.Expiring:
		if n.Subscription != nil {
			return fmt.Sprintf("Your subscription ends on %s. Use /start to renew it.", formatTime(n.Subscription.ExpiresAt))
		}
		return "Your subscription ends soon. Use /start to renew it."
	case notify.Expired:
		return "Your subscription has ended. Use /start to subscribe again."
	}
	return ""
}

// adminText renders notices addressed to the reviewer.
func adminText(n notify.Notice) string {
	var b strings.Builder
	switch n.Kind {
	case notify.ReviewRequested:
		if n.Resubmitted {
			b.WriteString("<b>Receipt replaced</b>\n")
		} else {
			b.WriteString("<b>New receipt</b>\n")
		}
	case notify.DecisionRecorded:
		if n.Approve {
			b.WriteString("<b>Approved</b>\n")
		} else {
			b.WriteString("<b>Rejected</b>\n")
		}
	case notify.IssuanceFailed:
		b.WriteString("<b>Approval could not be completed</b>\n")
	case notify.CredentialUndelivered:
		b.WriteString("<b>Link not delivered, please pass it on</b>\n")
	default:
		fmt.Fprintf(&b, "<b>%s</b>\n", esc(n.Kind.String()))
	}

	fmt.Fprintf(&b, "User: <a href=\"tg://user?id=%d\">%d</a>\n", n.PrincipalID, n.PrincipalID)
	if n.Plan != nil {
		fmt.Fprintf(&b, "Plan: %s\n", esc(planLine(*n.Plan)))
	}
	if r := n.Request; r != nil {
		fmt.Fprintf(&b, "Reference: <code>%s</code>\nRequest: <code>%s</code>\n", esc(r.Reference), esc(r.ID))
	}
	if s := n.Subscription; s != nil {
		fmt.Fprintf(&b, "Until: %s\n", formatTime(s.ExpiresAt))
	}
	if c := n.Credential; c != nil {
		fmt.Fprintf(&b, "Link: %s\n", esc(c.Link))
	}
	if n.Err != nil {
		fmt.Fprintf(&b, "Error: %s\nThe request is still pending, approve again to retry.\n", esc(n.Err.Error()))
	}
	return strings.TrimRight(b.String(), "\n")
}

package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/anatolio-deb/joinbot/internal/credential"
	"github.com/anatolio-deb/joinbot/internal/ledger"
	"github.com/anatolio-deb/joinbot/internal/plan"
	"github.com/anatolio-deb/joinbot/internal/workflow"
)

// Handlers turns bot updates into workflow calls and replies to the sender.
type Handlers struct {
	wf           *workflow.Workflow
	instructions string
	log          logrus.FieldLogger
	now          func() time.Time
}

func NewHandlers(wf *workflow.Workflow, instructions string, log logrus.FieldLogger) *Handlers {
	return &Handlers{wf: wf, instructions: instructions, log: log, now: time.Now}
}

// Register attaches every command, callback and receipt handler to b.
func (h *Handlers) Register(b *bot.Bot) {
	b.RegisterHandler(bot.HandlerTypeMessageText, "start", bot.MatchTypeCommand, h.wrap(h.start))
	b.RegisterHandler(bot.HandlerTypeMessageText, "help", bot.MatchTypeCommand, h.wrap(h.help))
	b.RegisterHandler(bot.HandlerTypeMessageText, "ping", bot.MatchTypeCommand, h.wrap(h.ping))
	b.RegisterHandler(bot.HandlerTypeMessageText, "status", bot.MatchTypeCommand, h.wrap(h.status))
	b.RegisterHandler(bot.HandlerTypeMessageText, "renew", bot.MatchTypeCommand, h.wrap(h.renew))
	b.RegisterHandler(bot.HandlerTypeMessageText, "remove", bot.MatchTypeCommand, h.wrap(h.remove))
	b.RegisterHandler(bot.HandlerTypeMessageText, "subs", bot.MatchTypeCommand, h.wrap(h.subscriptions))
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, planPrefix, bot.MatchTypePrefix, h.wrap(h.selectPlan))
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, decidePrefix, bot.MatchTypePrefix, h.wrap(h.decide))
	b.RegisterHandlerMatchFunc(isReceipt, h.wrap(h.receipt))
}

// Default answers anything no other handler matched.
func (h *Handlers) Default(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.fallback(ctx, b, update)
}

type handlerFunc func(ctx context.Context, api botAPI, update *models.Update)

func (h *Handlers) wrap(f handlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		f(ctx, b, update)
	}
}

func isReceipt(update *models.Update) bool {
	m := update.Message
	if m == nil || m.From == nil || m.Chat.ID != m.From.ID {
		return false
	}
	return len(m.Photo) > 0 || m.Document != nil
}

// privateSender returns the sender of a message sent in a private chat.
func privateSender(update *models.Update) (int64, bool) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat.ID != m.From.ID {
		return 0, false
	}
	return m.From.ID, true
}

func (h *Handlers) start(ctx context.Context, api botAPI, update *models.Update) {
	from, ok := privateSender(update)
	if !ok {
		return
	}
	h.reply(ctx, api, from, "Choose a plan:", planMenu(h.wf.Plans()))
}

func (h *Handlers) selectPlan(ctx context.Context, api botAPI, update *models.Update) {
	cq := update.CallbackQuery
	if cq == nil {
		return
	}
	from := cq.From.ID
	planID, err := parsePlanCallback(cq.Data)
	if err != nil {
		h.answer(ctx, api, cq.ID, "Unknown plan")
		return
	}

	req, err := h.wf.SelectPlan(ctx, from, planID)
	if err != nil {
		h.log.WithField("principal_id", from).WithError(err).Warn("select plan")
		h.answer(ctx, api, cq.ID, errorText(err))
		return
	}
	h.answer(ctx, api, cq.ID, "")

	p, err := h.wf.Plan(req.PlanID)
	if err != nil {
		return
	}
	h.reply(ctx, api, from, paymentText(p, req, h.instructions), nil)
}

func (h *Handlers) receipt(ctx context.Context, api botAPI, update *models.Update) {
	from, ok := privateSender(update)
	if !ok {
		return
	}
	m := update.Message

	var ref string
	switch {
	case len(m.Photo) > 0:
		// Sizes are ordered smallest first.
		ref = encodeReceipt(receiptPhoto, m.Photo[len(m.Photo)-1].FileID)
	case m.Document != nil:
		ref = encodeReceipt(receiptDocument, m.Document.FileID)
	default:
		return
	}

	if _, err := h.wf.SubmitReceipt(ctx, from, ref); err != nil {
		if !errors.Is(err, workflow.ErrNoActivePlanSelection) {
			h.log.WithField("principal_id", from).WithError(err).Error("submit receipt")
		}
		h.reply(ctx, api, from, errorText(err), nil)
		return
	}
	h.reply(ctx, api, from, "Receipt received. You will get the invite link once the payment is confirmed.", nil)
}

func (h *Handlers) decide(ctx context.Context, api botAPI, update *models.Update) {
	cq := update.CallbackQuery
	if cq == nil {
		return
	}
	d, requestID, err := parseDecideCallback(cq.Data)
	if err != nil {
		h.answer(ctx, api, cq.ID, "Unknown action")
		return
	}

	req, err := h.wf.Decide(ctx, cq.From.ID, requestID, d)
	if err != nil {
		h.log.WithFields(logrus.Fields{
			"reviewer_id": cq.From.ID,
			"request_id":  requestID,
			"decision":    d,
		}).WithError(err).Warn("decision not applied")
		h.answer(ctx, api, cq.ID, errorText(err))
		return
	}
	h.answer(ctx, api, cq.ID, "Request "+req.Status.String())
}

func (h *Handlers) status(ctx context.Context, api botAPI, update *models.Update) {
	from, ok := privateSender(update)
	if !ok {
		return
	}
	sub, err := h.wf.Status(ctx, from)
	if errors.Is(err, ledger.ErrNotFound) {
		h.reply(ctx, api, from, "You have no active subscription. Use /start to choose a plan.", nil)
		return
	}
	if err != nil {
		h.log.WithField("principal_id", from).WithError(err).Error("load status")
		h.reply(ctx, api, from, errorText(err), nil)
		return
	}
	h.reply(ctx, api, from, statusText(sub, h.now()), nil)
}

// renew handles "/renew <user id> <days>".
func (h *Handlers) renew(ctx context.Context, api botAPI, update *models.Update) {
	from, ok := privateSender(update)
	if !ok {
		return
	}
	args := commandArgs(update.Message.Text)
	if len(args) != 2 {
		h.reply(ctx, api, from, "Usage: /renew <user id> <days>", nil)
		return
	}
	principalID, err1 := strconv.ParseInt(args[0], 10, 64)
	days, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil || days <= 0 {
		h.reply(ctx, api, from, "Usage: /renew <user id> <days>", nil)
		return
	}

	sub, err := h.wf.Renew(ctx, from, principalID, days)
	if err != nil {
		h.reply(ctx, api, from, errorText(err), nil)
		return
	}
	h.reply(ctx, api, from, "Extended until "+formatTime(sub.ExpiresAt)+".", nil)
}

// remove handles "/remove <user id>".
func (h *Handlers) remove(ctx context.Context, api botAPI, update *models.Update) {
	from, ok := privateSender(update)
	if !ok {
		return
	}
	args := commandArgs(update.Message.Text)
	if len(args) != 1 {
		h.reply(ctx, api, from, "Usage: /remove <user id>", nil)
		return
	}
	principalID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		h.reply(ctx, api, from, "Usage: /remove <user id>", nil)
		return
	}

	if _, err := h.wf.Remove(ctx, from, principalID); err != nil {
		h.reply(ctx, api, from, errorText(err), nil)
		return
	}
	h.reply(ctx, api, from, "Removed.", nil)
}

func (h *Handlers) subscriptions(ctx context.Context, api botAPI, update *models.Update) {
	from, ok := privateSender(update)
	if !ok {
		return
	}
	subs, err := h.wf.Subscriptions(ctx, from)
	if err != nil {
		h.reply(ctx, api, from, errorText(err), nil)
		return
	}
	h.reply(ctx, api, from, subscriptionsText(subs), nil)
}

const (
	userHelp  = "/start choose a plan and pay\n/status check your subscription"
	adminHelp = "/renew &lt;user id&gt; &lt;days&gt; extend a subscription\n/remove &lt;user id&gt; revoke access now\n/subs list subscriptions"
)

func (h *Handlers) help(ctx context.Context, api botAPI, update *models.Update) {
	from, ok := privateSender(update)
	if !ok {
		return
	}
	text := userHelp
	if h.wf.IsReviewer(from) {
		text += "\n\n" + adminHelp
	}
	h.reply(ctx, api, from, text, nil)
}

// ping is a liveness check for whoever runs the bot.
func (h *Handlers) ping(ctx context.Context, api botAPI, update *models.Update) {
	if from, ok := privateSender(update); ok {
		h.reply(ctx, api, from, "pong", nil)
	}
}

func (h *Handlers) fallback(ctx context.Context, api botAPI, update *models.Update) {
	from, ok := privateSender(update)
	if !ok {
		return
	}
	h.reply(ctx, api, from, "Use /start to choose a plan, /status to check your subscription or /help for all commands.", nil)
}

func (h *Handlers) reply(ctx context.Context, api botAPI, chatID int64, text string, markup models.ReplyMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}
	if _, err := api.SendMessage(ctx, params); err != nil {
		h.log.WithField("chat_id", chatID).WithError(err).Warn("reply failed")
	}
}

func (h *Handlers) answer(ctx context.Context, api botAPI, callbackID, text string) {
	_, err := api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	})
	if err != nil {
		h.log.WithError(err).Warn("answer callback query")
	}
}

func commandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	return fields[1:]
}

func errorText(err error) string {
	var issErr *credential.IssuanceError
	switch {
	case errors.Is(err, workflow.ErrNotAuthorized):
		return "This action is reserved for the administrator."
	case errors.Is(err, workflow.ErrNoActivePlanSelection):
		return "Choose a plan with /start before sending a receipt."
	case errors.Is(err, workflow.ErrInvalidTransition):
		return "This request was already handled."
	case errors.Is(err, plan.ErrPlanNotFound):
		return "This plan is not available. Use /start to see the current plans."
	case errors.Is(err, ledger.ErrNotFound):
		return "No subscription found."
	case errors.As(err, &issErr):
		return "The invite link could not be created. The request is still pending."
	}
	return "Something went wrong, please try again later."
}

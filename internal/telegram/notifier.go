package telegram

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/anatolio-deb/joinbot/internal/notify"
)

// Notifier delivers engine notices as Telegram messages.
type Notifier struct {
	api     botAPI
	adminID int64
}

var _ notify.Notifier = (*Notifier)(nil)

func NewNotifier(api botAPI, adminID int64) *Notifier {
	return &Notifier{api: api, adminID: adminID}
}

func (n *Notifier) Notify(ctx context.Context, principalID int64, notice notify.Notice) error {
	text := principalText(notice)
	if text == "" {
		return fmt.Errorf("no principal message for notice %s", notice.Kind)
	}
	return n.send(ctx, principalID, text, nil)
}

// NotifyAdmin sends the notice to the reviewer. A review request carries the
// receipt itself and the decision buttons.
func (n *Notifier) NotifyAdmin(ctx context.Context, notice notify.Notice) error {
	text := adminText(notice)

	var markup models.ReplyMarkup
	if notice.Request != nil && (notice.Kind == notify.ReviewRequested || notice.Kind == notify.IssuanceFailed) {
		markup = decisionKeyboard(notice.Request.ID)
	}

	if notice.Kind == notify.ReviewRequested && notice.Request != nil {
		if kind, fileID, ok := decodeReceipt(notice.Request.ReceiptRef); ok {
			return n.sendReceipt(ctx, kind, fileID, text, markup)
		}
	}
	return n.send(ctx, n.adminID, text, markup)
}

func (n *Notifier) send(ctx context.Context, chatID int64, text string, markup models.ReplyMarkup) error {
	_, err := n.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: markup,
	})
	if err != nil {
		return &TransportError{Method: "sendMessage", ChatID: chatID, Err: err}
	}
	return nil
}

func (n *Notifier) sendReceipt(ctx context.Context, kind receiptKind, fileID, caption string, markup models.ReplyMarkup) error {
	var err error
	switch kind {
	case receiptPhoto:
		_, err = n.api.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:      n.adminID,
			Photo:       &models.InputFileString{Data: fileID},
			Caption:     caption,
			ParseMode:   models.ParseModeHTML,
			ReplyMarkup: markup,
		})
		if err != nil {
			return &TransportError{Method: "sendPhoto", ChatID: n.adminID, Err: err}
		}
	case receiptDocument:
		_, err = n.api.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID:      n.adminID,
			Document:    &models.InputFileString{Data: fileID},
			Caption:     caption,
			ParseMode:   models.ParseModeHTML,
			ReplyMarkup: markup,
		})
		if err != nil {
			return &TransportError{Method: "sendDocument", ChatID: n.adminID, Err: err}
		}
	}
	return nil
}

package telegram

import (
	"context"
	"time"

	"github.com/go-telegram/bot"
)

// Bans shorter than 30 seconds are permanent in Telegram. A one minute ban
// removes the member and lets them rejoin through a later invite.
const kickDuration = time.Minute

// AccessProvider grants and removes group membership through the Bot API.
// The bot must be an administrator of the group with the invite and ban
// rights.
type AccessProvider struct {
	api botAPI
	now func() time.Time
}

func NewAccessProvider(api botAPI) *AccessProvider {
	return &AccessProvider{api: api, now: time.Now}
}

func (a *AccessProvider) CreateInvite(ctx context.Context, chatID int64, memberLimit int, expireAt time.Time) (string, error) {
	link, err := a.api.CreateChatInviteLink(ctx, &bot.CreateChatInviteLinkParams{
		ChatID:      chatID,
		ExpireDate:  int(expireAt.Unix()),
		MemberLimit: memberLimit,
	})
	if err != nil {
		return "", &TransportError{Method: "createChatInviteLink", ChatID: chatID, Err: err}
	}
	return link.InviteLink, nil
}

func (a *AccessProvider) RemoveMember(ctx context.Context, chatID, principalID int64) error {
	_, err := a.api.BanChatMember(ctx, &bot.BanChatMemberParams{
		ChatID:    chatID,
		UserID:    principalID,
		UntilDate: int(a.now().Add(kickDuration).Unix()),
	})
	if err != nil {
		return &TransportError{Method: "banChatMember", ChatID: chatID, Err: err}
	}
	return nil
}

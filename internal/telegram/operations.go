package telegram

import (
	"context"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
)

// Operations wraps the raw bot API with the calls the core needs. Every
// method respects context cancellation before touching the network.
type Operations struct {
	bot *api.BotAPI
}

func NewOperations(bot *api.BotAPI) *Operations {
	return &Operations{bot: bot}
}

func (o *Operations) Self() int64 {
	return o.bot.Self.ID
}

func (o *Operations) SelfUsername() string {
	return o.bot.Self.UserName
}

func (o *Operations) Member(ctx context.Context, chatID, userID int64) (*api.ChatMember, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	member, err := o.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
	})
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (o *Operations) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if _, err := o.bot.Request(api.NewDeleteMessage(chatID, messageID)); err != nil {
		return err
	}
	return nil
}

func (o *Operations) SendMessage(ctx context.Context, chatID int64, text string, markup any) (*api.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	msg := api.NewMessage(chatID, text)
	msg.ParseMode = api.ModeHTML
	msg.ReplyMarkup = markup
	sent, err := o.bot.Send(msg)
	if err != nil {
		return nil, err
	}
	return &sent, nil
}

func (o *Operations) SendPhoto(ctx context.Context, chatID int64, fileID string, caption string, markup any) (*api.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	photo := api.NewPhoto(chatID, api.FileID(fileID))
	photo.Caption = caption
	photo.ParseMode = api.ModeHTML
	photo.ReplyMarkup = markup
	sent, err := o.bot.Send(photo)
	if err != nil {
		return nil, err
	}
	return &sent, nil
}

func (o *Operations) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	edit := api.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = api.ModeHTML
	if _, err := o.bot.Request(edit); err != nil {
		return err
	}
	return nil
}

// RestrictMember revokes a user's ability to post until the given time.
func (o *Operations) RestrictMember(ctx context.Context, chatID, userID int64, until time.Time) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if _, err := o.bot.Request(api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		UntilDate:                     until.Unix(),
		UseIndependentChatPermissions: true,
		Permissions:                   &api.ChatPermissions{},
	}); err != nil {
		return errors.WithMessage(err, "cant restrict")
	}
	return nil
}

func (o *Operations) LeaveChat(ctx context.Context, chatID int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if _, err := o.bot.Request(api.LeaveChatConfig{
		ChatConfig: api.ChatConfig{ChatID: chatID},
	}); err != nil {
		return errors.WithMessage(err, "cant leave chat")
	}
	return nil
}

func (o *Operations) AnswerCallback(ctx context.Context, callbackID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if _, err := o.bot.Request(api.NewCallback(callbackID, "")); err != nil {
		return err
	}
	return nil
}

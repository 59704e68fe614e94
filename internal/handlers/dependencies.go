package handlers

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
)

// Messenger is the slice of the platform client the handlers need. Satisfied
// by telegram.Operations.
type Messenger interface {
	Self() int64
	SelfUsername() string
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SendMessage(ctx context.Context, chatID int64, text string, markup any) (*api.Message, error)
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error
	LeaveChat(ctx context.Context, chatID int64) error
	AnswerCallback(ctx context.Context, callbackID string) error
}

package broadcast

import (
	"context"

	"github.com/mmbots/linkguard/internal/telegram"
)

// Sender is the delivery surface a broadcast run needs.
type Sender interface {
	Deliver(ctx context.Context, chatID int64, draft *Draft) error
	Notify(ctx context.Context, chatID int64, text string) (messageID int, err error)
	Edit(ctx context.Context, chatID int64, messageID int, text string) error
}

type opsSender struct {
	ops *telegram.Operations
}

func NewSender(ops *telegram.Operations) Sender {
	return &opsSender{ops: ops}
}

func (s *opsSender) Deliver(ctx context.Context, chatID int64, draft *Draft) error {
	if draft.PhotoID != "" {
		_, err := s.ops.SendPhoto(ctx, chatID, draft.PhotoID, draft.Text, nil)
		return err
	}
	_, err := s.ops.SendMessage(ctx, chatID, draft.Text, nil)
	return err
}

func (s *opsSender) Notify(ctx context.Context, chatID int64, text string) (int, error) {
	sent, err := s.ops.SendMessage(ctx, chatID, text, nil)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (s *opsSender) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	return s.ops.EditMessageText(ctx, chatID, messageID, text)
}

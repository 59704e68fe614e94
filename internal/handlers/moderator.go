package handlers

import (
	"context"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/mmbots/linkguard/internal/bot"
	"github.com/mmbots/linkguard/internal/config"
	"github.com/mmbots/linkguard/internal/moderation"
	"github.com/mmbots/linkguard/internal/observability"
	"github.com/mmbots/linkguard/internal/telegram"
	"github.com/mmbots/linkguard/internal/texts"
)

// Moderator enforces the no-links policy in group chats: delete first, then
// count, then escalate. At most one notice per violation.
type Moderator struct {
	cfg     config.Config
	ops     Messenger
	authz   *moderation.Authorizer
	keeper  *moderation.SpamKeeper
	cleaner *Cleaner
}

func NewModerator(cfg config.Config, ops Messenger, authz *moderation.Authorizer, keeper *moderation.SpamKeeper, cleaner *Cleaner) *Moderator {
	return &Moderator{
		cfg:     cfg,
		ops:     ops,
		authz:   authz,
		keeper:  keeper,
		cleaner: cleaner,
	}
}

func (m *Moderator) getLogEntry() *log.Entry {
	return log.WithField("context", "moderator")
}

func (m *Moderator) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	msg := u.Message
	if msg == nil || chat == nil || user == nil {
		return true, nil
	}
	if !chat.IsGroup() && !chat.IsSuperGroup() {
		return true, nil
	}
	if user.ID == m.ops.Self() || user.ID == m.cfg.OwnerID {
		return true, nil
	}

	// The pure check runs before any network call; clean messages cost
	// nothing.
	if !moderation.HasLink(msg) {
		return true, nil
	}

	started := time.Now()
	defer func() { observability.ObserveModeration(time.Since(started)) }()
	ctx, span := observability.StartSpan(ctx, "moderate_message")
	defer span.End()

	entry := m.getLogEntry().WithFields(log.Fields{"chat_id": chat.ID, "user_id": user.ID})

	if !m.authz.IsBotAuthorized(ctx, chat.ID) {
		entry.Trace("not authorized, leaving message alone")
		return true, nil
	}

	isAdmin, err := m.authz.IsUserAdmin(ctx, chat.ID, user.ID)
	if err != nil {
		// Cant tell whether the author is an admin; skip this message rather
		// than risk deleting an admin's post.
		entry.WithError(err).Warn("cant check author status")
		return false, nil
	}
	if isAdmin {
		return true, nil
	}

	chatID := chat.ID
	if err := m.ops.DeleteMessage(ctx, chatID, msg.MessageID); err != nil {
		if telegram.Classify(err) == telegram.FailureMigrated {
			// One retry under the successor id; state moved first.
			newID := telegram.MigratedTo(err)
			m.authz.Migrate(ctx, chatID, newID)
			chatID = newID
			err = m.ops.DeleteMessage(ctx, chatID, msg.MessageID)
		}
		if err != nil {
			switch telegram.Classify(err) {
			case telegram.FailurePermanent:
				entry.WithError(err).Info("delete rejected for good")
			default:
				entry.WithError(err).Warn("cant delete message")
			}
			return false, nil
		}
	}
	observability.RecordLinkDeleted()

	canRestrict := chat.IsSuperGroup()
	outcome := m.keeper.RecordViolation(ctx, chatID, user.ID, canRestrict)
	switch outcome {
	case moderation.OutcomeAlreadyMuted:
		// The offending message is gone; a second notice would be noise.
	case moderation.OutcomeMuted:
		observability.RecordMute()
		m.notify(ctx, chatID, texts.Render(texts.LinkMuted, map[string]any{
			"user_name":    bot.GetFullName(user),
			"mute_minutes": int(m.cfg.Moderation.MuteDuration.Minutes()),
			"threshold":    m.cfg.Moderation.SpamThreshold,
		}))
	default:
		m.notify(ctx, chatID, texts.Render(texts.LinkRemoved, map[string]any{
			"user_name": bot.GetFullName(user),
		}))
	}

	return false, nil
}

// notify sends a service message and schedules its removal.
func (m *Moderator) notify(ctx context.Context, chatID int64, text string) {
	sent, err := m.ops.SendMessage(ctx, chatID, text, nil)
	if err != nil {
		m.getLogEntry().WithError(err).WithField("chat_id", chatID).Warn("cant send notice")
		return
	}
	m.cleaner.DeleteLater(chatID, sent.MessageID, m.cfg.Moderation.WarnTTL)
}

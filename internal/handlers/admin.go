package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/mmbots/linkguard/internal/bot"
	"github.com/mmbots/linkguard/internal/broadcast"
	"github.com/mmbots/linkguard/internal/config"
	"github.com/mmbots/linkguard/internal/db"
	"github.com/mmbots/linkguard/internal/event"
	"github.com/mmbots/linkguard/internal/moderation"
	"github.com/mmbots/linkguard/internal/texts"
)

const (
	callbackRunPrefix = "bc_run:"
	callbackCancel    = "bc_cancel"
)

// Admin serves the command surface: onboarding, owner statistics, cache
// refreshes and the broadcast confirmation flow.
type Admin struct {
	cfg        config.Config
	ops        Messenger
	store      db.Client
	authz      *moderation.Authorizer
	dispatcher *broadcast.Dispatcher
	queue      *event.Queue
	cleaner    *Cleaner
	startedAt  time.Time
}

func NewAdmin(cfg config.Config, ops Messenger, store db.Client, authz *moderation.Authorizer, dispatcher *broadcast.Dispatcher, queue *event.Queue, cleaner *Cleaner) *Admin {
	return &Admin{
		cfg:        cfg,
		ops:        ops,
		store:      store,
		authz:      authz,
		dispatcher: dispatcher,
		queue:      queue,
		cleaner:    cleaner,
		startedAt:  time.Now(),
	}
}

func (a *Admin) getLogEntry() *log.Entry {
	return log.WithField("context", "admin")
}

func (a *Admin) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u.CallbackQuery != nil {
		return a.handleCallback(ctx, u.CallbackQuery)
	}

	msg := u.Message
	if msg == nil || chat == nil || user == nil || !msg.IsCommand() {
		return true, nil
	}

	switch msg.Command() {
	case "start":
		return a.handleStart(ctx, chat, user)
	case "stats":
		return a.handleStats(ctx, chat, user)
	case "refresh":
		return a.handleRefresh(ctx, chat, user)
	case "refresh_all":
		return a.handleRefreshAll(ctx, chat, user)
	case "broadcast":
		return a.handleBroadcast(ctx, chat, user, msg)
	}
	return true, nil
}

func (a *Admin) handleStart(ctx context.Context, chat *api.Chat, user *api.User) (bool, error) {
	if !chat.IsPrivate() {
		return true, nil
	}
	userID := user.ID
	a.queue.Enqueue("register_user", func(ctx context.Context) error {
		return a.store.InsertUser(ctx, userID)
	})

	welcome := texts.Render(texts.WelcomePrivate, map[string]any{
		"bot_name":     a.ops.SelfUsername(),
		"user_mention": mention(user),
		"threshold":    a.cfg.Moderation.SpamThreshold,
		"mute_minutes": int(a.cfg.Moderation.MuteDuration.Minutes()),
	})
	markup := api.NewInlineKeyboardMarkup(
		api.NewInlineKeyboardRow(
			api.NewInlineKeyboardButtonURL("➕ Add me to a group", "https://t.me/"+a.ops.SelfUsername()+"?startgroup=true"),
		),
	)
	if _, err := a.ops.SendMessage(ctx, chat.ID, welcome, markup); err != nil {
		a.getLogEntry().WithError(err).Warn("cant send welcome")
	}
	return false, nil
}

func (a *Admin) handleStats(ctx context.Context, chat *api.Chat, user *api.User) (bool, error) {
	if user.ID != a.cfg.OwnerID {
		return true, nil
	}
	users, err := a.store.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	chats, err := a.store.CountChats(ctx)
	if err != nil {
		return false, err
	}
	adminChats, err := a.store.CountAdminChats(ctx)
	if err != nil {
		return false, err
	}

	text := texts.Render(texts.Stats, map[string]any{
		"users":           users,
		"groups":          chats,
		"admin_groups":    adminChats,
		"no_admin_groups": chats - adminChats,
		"uptime":          time.Since(a.startedAt).Round(time.Second).String(),
	})
	if _, err := a.ops.SendMessage(ctx, chat.ID, text, nil); err != nil {
		a.getLogEntry().WithError(err).Warn("cant send stats")
	}
	return false, nil
}

// handleRefresh lets any chat admin force a live re-check of the bot's
// rights and drop the cached admin set.
func (a *Admin) handleRefresh(ctx context.Context, chat *api.Chat, user *api.User) (bool, error) {
	if !chat.IsGroup() && !chat.IsSuperGroup() {
		return true, nil
	}
	isAdmin, err := a.authz.IsUserAdmin(ctx, chat.ID, user.ID)
	if err != nil || !isAdmin {
		return false, nil
	}
	a.authz.Refresh(ctx, chat.ID)
	sent, err := a.ops.SendMessage(ctx, chat.ID, texts.Get(texts.RefreshDone), nil)
	if err != nil {
		a.getLogEntry().WithError(err).Warn("cant confirm refresh")
		return false, nil
	}
	a.cleaner.DeleteLater(chat.ID, sent.MessageID, a.cfg.Reminders.WelcomeTTL)
	return false, nil
}

func (a *Admin) handleRefreshAll(ctx context.Context, chat *api.Chat, user *api.User) (bool, error) {
	if user.ID != a.cfg.OwnerID {
		return true, nil
	}
	chatID := chat.ID
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		active, removed := a.authz.WarmUp(runCtx)
		text := texts.Render(texts.RefreshAllDone, map[string]any{
			"active":  active,
			"removed": removed,
		})
		if _, err := a.ops.SendMessage(runCtx, chatID, text, nil); err != nil {
			a.getLogEntry().WithError(err).Warn("cant report refresh all")
		}
	}()
	return false, nil
}

// handleBroadcast drafts a broadcast from the replied-to message or the
// command arguments and asks for an explicit target confirmation.
func (a *Admin) handleBroadcast(ctx context.Context, chat *api.Chat, user *api.User, msg *api.Message) (bool, error) {
	if user.ID != a.cfg.OwnerID || !chat.IsPrivate() {
		return true, nil
	}

	text := strings.TrimSpace(msg.CommandArguments())
	photoID := ""
	if src := msg.ReplyToMessage; src != nil {
		if len(src.Photo) > 0 {
			photoID = src.Photo[len(src.Photo)-1].FileID
		}
		if text == "" {
			text = src.Text
			if text == "" {
				text = src.Caption
			}
		}
	}
	if text == "" && photoID == "" {
		_, err := a.ops.SendMessage(ctx, chat.ID, texts.Get(texts.BroadcastEmpty), nil)
		return false, err
	}

	draft := a.dispatcher.Propose(user.ID, text, photoID)
	a.getLogEntry().WithField("job_id", draft.ID).Info("broadcast proposed")

	markup := api.NewInlineKeyboardMarkup(
		api.NewInlineKeyboardRow(
			api.NewInlineKeyboardButtonData("👤 Users", callbackRunPrefix+string(broadcast.TargetUsers)),
			api.NewInlineKeyboardButtonData("👥 Groups", callbackRunPrefix+string(broadcast.TargetGroups)),
			api.NewInlineKeyboardButtonData("📢 All", callbackRunPrefix+string(broadcast.TargetAll)),
		),
		api.NewInlineKeyboardRow(
			api.NewInlineKeyboardButtonData("❌ Cancel", callbackCancel),
		),
	)
	if _, err := a.ops.SendMessage(ctx, chat.ID, texts.Get(texts.BroadcastPending), markup); err != nil {
		a.getLogEntry().WithError(err).Warn("cant send confirmation")
	}
	return false, nil
}

func (a *Admin) handleCallback(ctx context.Context, cb *api.CallbackQuery) (bool, error) {
	if cb.From.ID != a.cfg.OwnerID {
		return true, nil
	}
	if err := a.ops.AnswerCallback(ctx, cb.ID); err != nil {
		a.getLogEntry().WithError(err).Trace("cant answer callback")
	}
	if cb.Message == nil {
		return false, nil
	}
	chatID := cb.Message.Chat.ID
	messageID := cb.Message.MessageID

	switch {
	case cb.Data == callbackCancel:
		text := texts.Get(texts.BroadcastCancelled)
		if !a.dispatcher.Cancel(cb.From.ID) {
			text = texts.Get(texts.BroadcastMissing)
		}
		if err := a.ops.EditMessageText(ctx, chatID, messageID, text); err != nil {
			a.getLogEntry().WithError(err).Trace("cant edit confirmation")
		}
	case strings.HasPrefix(cb.Data, callbackRunPrefix):
		target, ok := broadcast.ParseTarget(strings.TrimPrefix(cb.Data, callbackRunPrefix))
		if !ok || a.dispatcher.Draft(cb.From.ID) == nil {
			if err := a.ops.EditMessageText(ctx, chatID, messageID, texts.Get(texts.BroadcastMissing)); err != nil {
				a.getLogEntry().WithError(err).Trace("cant edit confirmation")
			}
			return false, nil
		}
		if err := a.ops.DeleteMessage(ctx, chatID, messageID); err != nil {
			a.getLogEntry().WithError(err).Trace("cant delete confirmation")
		}
		ownerID := cb.From.ID
		go func() {
			runCtx, cancel := context.WithTimeout(context.Background(), time.Hour)
			defer cancel()
			if _, err := a.dispatcher.Run(runCtx, ownerID, chatID, target); err != nil {
				a.getLogEntry().WithError(err).Error("broadcast failed")
			}
		}()
	}
	return false, nil
}

func mention(user *api.User) string {
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, user.ID, bot.GetFullName(user))
}

package handlers

import (
	"context"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/mmbots/linkguard/internal/config"
	"github.com/mmbots/linkguard/internal/db"
	"github.com/mmbots/linkguard/internal/event"
	"github.com/mmbots/linkguard/internal/moderation"
	"github.com/mmbots/linkguard/internal/scheduler"
	"github.com/mmbots/linkguard/internal/texts"
)

// Membership reacts to the bot's own membership changes: promotion,
// demotion, being added without rights, being removed. It drives the
// admin-reminder cycle and the eventual auto-leave.
type Membership struct {
	cfg     config.Config
	ops     Messenger
	store   db.Client
	authz   *moderation.Authorizer
	sched   *scheduler.Scheduler
	queue   *event.Queue
	cleaner *Cleaner

	mu      sync.Mutex
	pending map[int64][]int
}

func NewMembership(cfg config.Config, ops Messenger, store db.Client, authz *moderation.Authorizer, sched *scheduler.Scheduler, queue *event.Queue, cleaner *Cleaner) *Membership {
	m := &Membership{
		cfg:     cfg,
		ops:     ops,
		store:   store,
		authz:   authz,
		sched:   sched,
		queue:   queue,
		cleaner: cleaner,
		pending: map[int64][]int{},
	}
	authz.OnMigrate(m.migrateChat)
	authz.OnForget(m.forgetChat)
	return m
}

func (m *Membership) getLogEntry() *log.Entry {
	return log.WithField("context", "membership")
}

func (m *Membership) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	upd := u.MyChatMember
	if upd == nil {
		return true, nil
	}

	if upd.Chat.IsPrivate() {
		m.handlePrivate(upd)
		return false, nil
	}
	if !upd.Chat.IsGroup() && !upd.Chat.IsSuperGroup() {
		return true, nil
	}

	chatID := upd.Chat.ID
	// Any membership event makes the cached admin set suspect.
	m.authz.InvalidateUserAdmins(chatID)

	newStatus := upd.NewChatMember.Status
	oldStatus := upd.OldChatMember.Status
	entry := m.getLogEntry().WithFields(log.Fields{
		"chat_id": chatID,
		"old":     oldStatus,
		"new":     newStatus,
	})
	entry.Info("own membership changed")

	switch newStatus {
	case "administrator", "creator":
		m.handlePromoted(ctx, chatID)
	case "left", "kicked":
		m.authz.Forget(ctx, chatID)
	case "member", "restricted":
		if oldStatus == "administrator" || oldStatus == "creator" {
			m.handleDemoted(ctx, chatID)
		} else {
			m.handleAdded(ctx, chatID)
		}
	default:
		entry.Debug("membership state ignored")
	}
	return false, nil
}

// handlePrivate keeps the user directory in sync with block/unblock events.
func (m *Membership) handlePrivate(upd *api.ChatMemberUpdated) {
	userID := upd.Chat.ID
	switch upd.NewChatMember.Status {
	case "kicked":
		m.queue.Enqueue("prune_user", func(ctx context.Context) error {
			return m.store.DeleteUser(ctx, userID)
		})
	case "member":
		m.queue.Enqueue("register_user", func(ctx context.Context) error {
			return m.store.InsertUser(ctx, userID)
		})
	}
}

func (m *Membership) handlePromoted(ctx context.Context, chatID int64) {
	m.authz.SetAuthorized(ctx, chatID, true)
	m.sched.CancelKind(scheduler.KindReminder, chatID)
	m.sched.CancelKind(scheduler.KindAutoLeave, chatID)
	m.sched.CancelKind(scheduler.KindDemotion, chatID)
	m.clearPending(ctx, chatID)

	sent, err := m.ops.SendMessage(ctx, chatID, texts.Get(texts.AdminGranted), nil)
	if err != nil {
		m.getLogEntry().WithError(err).WithField("chat_id", chatID).Warn("cant send welcome")
		return
	}
	m.cleaner.DeleteLater(chatID, sent.MessageID, m.cfg.Reminders.WelcomeTTL)
}

// handleAdded starts the reminder cycle for a chat where the bot has no
// rights yet, ending in auto-leave unless a promotion lands first.
func (m *Membership) handleAdded(ctx context.Context, chatID int64) {
	m.authz.SetAuthorized(ctx, chatID, false)

	sent, err := m.ops.SendMessage(ctx, chatID, texts.Get(texts.AdminNeeded), nil)
	if err != nil {
		m.getLogEntry().WithError(err).WithField("chat_id", chatID).Warn("cant ask for rights")
	} else {
		m.track(chatID, sent.MessageID)
	}

	total := m.cfg.Reminders.Count
	for i := 1; i <= total; i++ {
		seq := i
		m.sched.Schedule(scheduler.KindReminder, chatID, int64(seq), m.cfg.Reminders.Interval*time.Duration(seq), func(chatID int64) {
			m.remind(chatID, seq, total)
		})
	}
	leaveAt := m.cfg.Reminders.Interval*time.Duration(total) + m.cfg.Reminders.LeaveGrace
	m.sched.Schedule(scheduler.KindAutoLeave, chatID, 0, leaveAt, m.autoLeave)
}

// remind re-checks rights live before nagging: a promotion the bot never saw
// an update for must still stop the cycle.
func (m *Membership) remind(chatID int64, seq, total int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if m.authz.VerifyNow(ctx, chatID) {
		m.sched.CancelKind(scheduler.KindReminder, chatID)
		m.sched.CancelKind(scheduler.KindAutoLeave, chatID)
		m.clearPending(ctx, chatID)
		return
	}
	sent, err := m.ops.SendMessage(ctx, chatID, texts.Render(texts.AdminReminder, map[string]any{
		"seq":   seq,
		"total": total,
	}), nil)
	if err != nil {
		m.getLogEntry().WithError(err).WithField("chat_id", chatID).Debug("cant send reminder")
		return
	}
	m.track(chatID, sent.MessageID)
}

func (m *Membership) autoLeave(chatID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if m.authz.VerifyNow(ctx, chatID) {
		return
	}
	m.getLogEntry().WithField("chat_id", chatID).Info("never promoted, leaving")
	m.clearPending(ctx, chatID)
	if err := m.ops.LeaveChat(ctx, chatID); err != nil {
		m.getLogEntry().WithError(err).WithField("chat_id", chatID).Warn("cant leave chat")
	}
	m.authz.Forget(ctx, chatID)
}

// handleDemoted downgrades the cached authority right away, so moderation
// stops on the very next message, then waits out a short grace period before
// reacting further: admins shuffling rights around often re-promote within a
// minute.
func (m *Membership) handleDemoted(ctx context.Context, chatID int64) {
	m.authz.SetAuthorized(ctx, chatID, false)
	m.sched.CancelKind(scheduler.KindReminder, chatID)
	m.sched.CancelKind(scheduler.KindAutoLeave, chatID)
	m.sched.Schedule(scheduler.KindDemotion, chatID, 0, m.cfg.Reminders.DemotionGrace, func(chatID int64) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if m.authz.VerifyNow(ctx, chatID) {
			return
		}
		m.getLogEntry().WithField("chat_id", chatID).Info("demotion stuck, leaving")
		if err := m.ops.LeaveChat(ctx, chatID); err != nil {
			m.getLogEntry().WithError(err).WithField("chat_id", chatID).Warn("cant leave chat")
		}
		m.authz.Forget(ctx, chatID)
	})
}

func (m *Membership) track(chatID int64, messageID int) {
	m.mu.Lock()
	m.pending[chatID] = append(m.pending[chatID], messageID)
	m.mu.Unlock()
}

// clearPending deletes every tracked reminder message of a chat.
func (m *Membership) clearPending(ctx context.Context, chatID int64) {
	m.mu.Lock()
	ids := m.pending[chatID]
	delete(m.pending, chatID)
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.ops.DeleteMessage(ctx, chatID, id); err != nil {
			m.getLogEntry().WithError(err).WithFields(log.Fields{
				"chat_id":    chatID,
				"message_id": id,
			}).Debug("cant delete reminder")
		}
	}
}

func (m *Membership) migrateChat(oldID, newID int64) {
	m.mu.Lock()
	if ids, ok := m.pending[oldID]; ok {
		delete(m.pending, oldID)
		m.pending[newID] = append(m.pending[newID], ids...)
	}
	m.mu.Unlock()
}

func (m *Membership) forgetChat(chatID int64) {
	m.mu.Lock()
	delete(m.pending, chatID)
	m.mu.Unlock()
}

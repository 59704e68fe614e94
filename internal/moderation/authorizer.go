package moderation

import (
	"context"
	"math"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/mmbots/linkguard/internal/config"
	"github.com/mmbots/linkguard/internal/db"
	"github.com/mmbots/linkguard/internal/event"
	"github.com/mmbots/linkguard/internal/scheduler"
	"github.com/mmbots/linkguard/internal/telegram"
)

// MemberSource is the slice of the platform client the authorizer needs.
type MemberSource interface {
	Self() int64
	Member(ctx context.Context, chatID, userID int64) (*api.ChatMember, error)
}

type chatState struct {
	isAdmin    bool
	verifiedAt time.Time
}

// Authorizer answers "may the bot moderate chat X" and "is user U an admin
// of chat X" from caches that stay eventually consistent with platform
// truth. It owns chat-identity migration and full state purges; other
// components register hooks instead of duplicating that logic.
type Authorizer struct {
	cfg    config.Moderation
	source MemberSource
	store  db.Client
	sched  *scheduler.Scheduler
	queue  *event.Queue

	mu     sync.RWMutex
	chats  map[int64]chatState
	admins map[int64]map[int64]struct{}

	hookMu       sync.Mutex
	migrateHooks []func(oldID, newID int64)
	forgetHooks  []func(chatID int64)
}

func NewAuthorizer(cfg config.Moderation, source MemberSource, store db.Client, sched *scheduler.Scheduler, queue *event.Queue) *Authorizer {
	return &Authorizer{
		cfg:    cfg,
		source: source,
		store:  store,
		sched:  sched,
		queue:  queue,
		chats:  map[int64]chatState{},
		admins: map[int64]map[int64]struct{}{},
	}
}

func (a *Authorizer) getLogEntry() *log.Entry {
	return log.WithField("context", "authorizer")
}

// OnMigrate registers a hook invoked after cached and persisted state moved
// to a chat's successor id.
func (a *Authorizer) OnMigrate(hook func(oldID, newID int64)) {
	a.hookMu.Lock()
	defer a.hookMu.Unlock()
	a.migrateHooks = append(a.migrateHooks, hook)
}

// OnForget registers a hook invoked when a chat's state is purged.
func (a *Authorizer) OnForget(hook func(chatID int64)) {
	a.hookMu.Lock()
	defer a.hookMu.Unlock()
	a.forgetHooks = append(a.forgetHooks, hook)
}

// IsBotAuthorized returns the cached admin flag while it is fresh, and
// re-verifies against the platform otherwise.
func (a *Authorizer) IsBotAuthorized(ctx context.Context, chatID int64) bool {
	a.mu.RLock()
	st, ok := a.chats[chatID]
	a.mu.RUnlock()
	if ok && time.Since(st.verifiedAt) < a.cfg.VerifyInterval {
		return st.isAdmin
	}
	isAdmin, _ := a.verify(ctx, chatID)
	return isAdmin
}

// VerifyNow bypasses the freshness window and performs a live check.
// Scheduled jobs use it so a stale positive never suppresses a reminder.
func (a *Authorizer) VerifyNow(ctx context.Context, chatID int64) bool {
	isAdmin, _ := a.verify(ctx, chatID)
	return isAdmin
}

// verify performs a live authority check. Transient failures leave the cache
// untouched (stale-but-available); an unreachable chat is purged; a migrated
// chat has its state moved and is re-checked once under the new id.
func (a *Authorizer) verify(ctx context.Context, chatID int64) (isAdmin, purged bool) {
	entry := a.getLogEntry().WithField("chat_id", chatID)

	member, err := a.source.Member(ctx, chatID, a.source.Self())
	if err != nil {
		switch telegram.Classify(err) {
		case telegram.FailureMigrated:
			newID := telegram.MigratedTo(err)
			entry.WithField("new_chat_id", newID).Info("chat migrated, moving state")
			a.Migrate(ctx, chatID, newID)
			member, err = a.source.Member(ctx, newID, a.source.Self())
			if err != nil {
				return a.stale(newID), false
			}
			chatID = newID
		case telegram.FailurePermanent:
			entry.WithError(err).Info("chat unreachable, purging state")
			a.Forget(ctx, chatID)
			return false, true
		default:
			entry.WithError(err).Debug("transient failure, keeping cached state")
			return a.stale(chatID), false
		}
	}

	granted := member.IsAdministrator() || member.IsCreator()
	a.SetAuthorized(ctx, chatID, granted)
	return granted, false
}

func (a *Authorizer) stale(chatID int64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.chats[chatID].isAdmin
}

// SetAuthorized records the bot's admin state for a chat and persists the
// directory row in the background.
func (a *Authorizer) SetAuthorized(ctx context.Context, chatID int64, isAdmin bool) {
	now := time.Now()
	a.mu.Lock()
	a.chats[chatID] = chatState{isAdmin: isAdmin, verifiedAt: now}
	a.mu.Unlock()

	a.queue.Enqueue("persist_chat", func(ctx context.Context) error {
		return a.store.UpsertChat(ctx, &db.ChatRecord{
			ID:         chatID,
			IsAdmin:    isAdmin,
			VerifiedAt: now.Unix(),
		})
	})
}

// IsUserAdmin consults the soft per-chat admin set and falls back to a live
// check. Only positive results are cached: a regular member may be promoted
// at any moment and must be re-checked on their next action.
func (a *Authorizer) IsUserAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	a.mu.RLock()
	_, cached := a.admins[chatID][userID]
	a.mu.RUnlock()
	if cached {
		return true, nil
	}

	member, err := a.source.Member(ctx, chatID, userID)
	if err != nil {
		return false, err
	}
	if !member.IsAdministrator() && !member.IsCreator() {
		return false, nil
	}

	a.mu.Lock()
	if a.admins[chatID] == nil {
		a.admins[chatID] = map[int64]struct{}{}
	}
	a.admins[chatID][userID] = struct{}{}
	a.mu.Unlock()
	return true, nil
}

// InvalidateUserAdmins drops the whole cached admin set of a chat. Called on
// every membership event: any promotion or demotion makes the set suspect.
func (a *Authorizer) InvalidateUserAdmins(chatID int64) {
	a.mu.Lock()
	delete(a.admins, chatID)
	a.mu.Unlock()
}

// Refresh drops all cached state for a chat and re-verifies immediately.
func (a *Authorizer) Refresh(ctx context.Context, chatID int64) bool {
	a.mu.Lock()
	delete(a.chats, chatID)
	delete(a.admins, chatID)
	a.mu.Unlock()
	isAdmin, _ := a.verify(ctx, chatID)
	return isAdmin
}

// Migrate moves every piece of cached and persisted state from a chat's old
// id to its successor. Centralized here; every call site that observes a
// migration signal funnels through this.
func (a *Authorizer) Migrate(ctx context.Context, oldID, newID int64) {
	a.mu.Lock()
	if st, ok := a.chats[oldID]; ok {
		a.chats[newID] = st
		delete(a.chats, oldID)
	}
	if set, ok := a.admins[oldID]; ok {
		a.admins[newID] = set
		delete(a.admins, oldID)
	}
	a.mu.Unlock()

	a.sched.MigrateChat(oldID, newID)

	storeCtx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	if err := a.store.MigrateChat(storeCtx, oldID, newID); err != nil {
		a.getLogEntry().WithError(err).WithFields(log.Fields{
			"old_chat_id": oldID,
			"new_chat_id": newID,
		}).Error("cant migrate persisted state")
	}

	a.hookMu.Lock()
	hooks := a.migrateHooks
	a.hookMu.Unlock()
	for _, hook := range hooks {
		hook(oldID, newID)
	}
}

// Forget purges all cached and persisted state for a chat and cancels its
// scheduled jobs.
func (a *Authorizer) Forget(ctx context.Context, chatID int64) {
	a.mu.Lock()
	delete(a.chats, chatID)
	delete(a.admins, chatID)
	a.mu.Unlock()

	a.sched.CancelChat(chatID)

	a.queue.Enqueue("purge_chat", func(ctx context.Context) error {
		if err := a.store.DeleteChat(ctx, chatID); err != nil {
			return err
		}
		if err := a.store.DeleteChatCounters(ctx, chatID); err != nil {
			return err
		}
		return a.store.RemoveChatDeleteJobs(ctx, chatID)
	})

	a.hookMu.Lock()
	hooks := a.forgetHooks
	a.hookMu.Unlock()
	for _, hook := range hooks {
		hook(chatID)
	}
}

// WarmUp re-verifies every stored chat against platform truth. Used at
// startup and by the owner's refresh-all command. Returns how many chats
// verified as admin and how many were purged as unreachable.
func (a *Authorizer) WarmUp(ctx context.Context) (active, removed int) {
	const pageSize = 500
	after := int64(math.MinInt64)
	for {
		chatIDs, err := a.store.GetChatPage(ctx, after, pageSize)
		if err != nil {
			a.getLogEntry().WithError(err).Error("cant scan chats")
			return active, removed
		}
		if len(chatIDs) == 0 {
			return active, removed
		}
		for _, chatID := range chatIDs {
			isAdmin, purged := a.verify(ctx, chatID)
			switch {
			case purged:
				removed++
			case isAdmin:
				active++
			}
		}
		after = chatIDs[len(chatIDs)-1]
		if len(chatIDs) < pageSize {
			return active, removed
		}
	}
}

package moderation

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mmbots/linkguard/internal/config"
	"github.com/mmbots/linkguard/internal/db"
	"github.com/mmbots/linkguard/internal/event"
)

// Outcome describes what a recorded violation led to.
type Outcome int

const (
	// OutcomeCounted: the violation was counted, no restriction happened.
	OutcomeCounted Outcome = iota
	// OutcomeMuted: this violation crossed the threshold and a restriction
	// was applied just now.
	OutcomeMuted
	// OutcomeAlreadyMuted: a restriction window is still open; nothing was
	// counted and no second restriction call was made.
	OutcomeAlreadyMuted
)

// Muted reports whether the user is under an active restriction.
func (o Outcome) Muted() bool {
	return o == OutcomeMuted || o == OutcomeAlreadyMuted
}

// Restrictor applies a time-boxed communication block.
type Restrictor interface {
	RestrictMember(ctx context.Context, chatID, userID int64, until time.Time) error
}

// CounterStore is the persistence slice the keeper needs.
type CounterStore interface {
	GetSpamCounter(ctx context.Context, chatID, userID int64) (*db.SpamCounter, error)
	UpsertSpamCounter(ctx context.Context, counter *db.SpamCounter) error
	DeleteSpamCounter(ctx context.Context, chatID, userID int64) error
}

type counterKey struct {
	chatID int64
	userID int64
}

type counterEntry struct {
	count     int
	last      time.Time
	muteUntil time.Time
}

// SpamKeeper maintains violation counts per (chat, user) and escalates to a
// temporary mute at the threshold. In-memory state is the fast path of
// record; the store is a fallback for cold entries and is written to in the
// background.
type SpamKeeper struct {
	cfg        config.Moderation
	store      CounterStore
	restrictor Restrictor
	queue      *event.Queue
	now        func() time.Time

	mu       sync.Mutex
	counters map[counterKey]*counterEntry

	runMutex  sync.Mutex
	runCancel context.CancelFunc
}

func NewSpamKeeper(cfg config.Moderation, store CounterStore, restrictor Restrictor, queue *event.Queue) *SpamKeeper {
	return &SpamKeeper{
		cfg:        cfg,
		store:      store,
		restrictor: restrictor,
		queue:      queue,
		now:        time.Now,
		counters:   map[counterKey]*counterEntry{},
	}
}

func (k *SpamKeeper) getLogEntry() *log.Entry {
	return log.WithField("context", "spam_keeper")
}

// RecordViolation counts one confirmed violation and escalates when the
// threshold is crossed. canRestrict is false for chat types that do not
// support per-user restriction; their counters accumulate without ever
// triggering a mute.
func (k *SpamKeeper) RecordViolation(ctx context.Context, chatID, userID int64, canRestrict bool) Outcome {
	entry := k.getLogEntry().WithFields(log.Fields{"chat_id": chatID, "user_id": userID})
	key := counterKey{chatID: chatID, userID: userID}
	now := k.now()

	k.mu.Lock()
	cached, ok := k.counters[key]
	var snapshot counterEntry
	if ok {
		snapshot = *cached
	}
	k.mu.Unlock()

	if !ok {
		// Cold entry: fall back to the store with a bounded timeout. A
		// timeout means "no prior record" — the message is already gone and
		// this path must not stall on a slow store.
		storeCtx, cancel := context.WithTimeout(ctx, k.cfg.StoreTimeout)
		row, err := k.store.GetSpamCounter(storeCtx, chatID, userID)
		cancel()
		switch {
		case err != nil:
			entry.WithError(err).Debug("counter read failed, assuming empty")
		case row != nil:
			snapshot.count = row.Count
			snapshot.last = time.Unix(row.LastTime, 0)
		}
	}

	if now.Before(snapshot.muteUntil) {
		return OutcomeAlreadyMuted
	}

	if snapshot.count > 0 && now.Sub(snapshot.last) > k.cfg.ResetWindow {
		snapshot.count = 1
	} else {
		snapshot.count++
	}
	snapshot.last = now
	snapshot.muteUntil = time.Time{}

	k.setEntry(key, snapshot)
	k.persist(chatID, userID, snapshot.count, now)

	if snapshot.count < k.cfg.SpamThreshold || !canRestrict {
		return OutcomeCounted
	}

	until := now.Add(k.cfg.MuteDuration)
	if err := k.restrictor.RestrictMember(ctx, chatID, userID, until); err != nil {
		// Counter is kept so the next violation retries the mute.
		entry.WithError(err).WithField("count", snapshot.count).Warn("cant restrict user")
		return OutcomeCounted
	}

	snapshot.count = 0
	snapshot.muteUntil = until
	k.setEntry(key, snapshot)
	k.queue.Enqueue("clear_counter", func(ctx context.Context) error {
		return k.store.DeleteSpamCounter(ctx, chatID, userID)
	})
	entry.WithField("until", until).Info("user muted")
	return OutcomeMuted
}

func (k *SpamKeeper) setEntry(key counterKey, snapshot counterEntry) {
	k.mu.Lock()
	k.counters[key] = &snapshot
	k.mu.Unlock()
}

func (k *SpamKeeper) persist(chatID, userID int64, count int, last time.Time) {
	k.queue.Enqueue("persist_counter", func(ctx context.Context) error {
		return k.store.UpsertSpamCounter(ctx, &db.SpamCounter{
			ChatID:   chatID,
			UserID:   userID,
			Count:    count,
			LastTime: last.Unix(),
		})
	})
}

// MigrateChat moves in-memory counters to a chat's successor id.
func (k *SpamKeeper) MigrateChat(oldID, newID int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, cached := range k.counters {
		if key.chatID != oldID {
			continue
		}
		delete(k.counters, key)
		k.counters[counterKey{chatID: newID, userID: key.userID}] = cached
	}
}

// ForgetChat drops all in-memory counters of a chat.
func (k *SpamKeeper) ForgetChat(chatID int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key := range k.counters {
		if key.chatID == chatID {
			delete(k.counters, key)
		}
	}
}

// Start launches the janitor evicting counters idle beyond CounterTTL. The
// idle TTL only bounds memory; it is independent of the escalation window.
func (k *SpamKeeper) Start(ctx context.Context) {
	k.runMutex.Lock()
	defer k.runMutex.Unlock()
	if k.runCancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	k.runCancel = cancel

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				k.evictIdle()
			}
		}
	}()
}

func (k *SpamKeeper) Stop() {
	k.runMutex.Lock()
	defer k.runMutex.Unlock()
	if k.runCancel != nil {
		k.runCancel()
		k.runCancel = nil
	}
}

func (k *SpamKeeper) evictIdle() {
	now := k.now()
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, cached := range k.counters {
		if now.Sub(cached.last) > k.cfg.CounterTTL && now.After(cached.muteUntil) {
			delete(k.counters, key)
		}
	}
}

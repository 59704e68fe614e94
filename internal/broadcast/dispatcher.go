package broadcast

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mmbots/linkguard/internal/config"
	"github.com/mmbots/linkguard/internal/event"
	"github.com/mmbots/linkguard/internal/observability"
	"github.com/mmbots/linkguard/internal/telegram"
	"github.com/mmbots/linkguard/internal/texts"
)

// Target selects which part of the recipient directory a run covers.
type Target string

const (
	TargetUsers  Target = "users"
	TargetGroups Target = "groups"
	TargetAll    Target = "all"
)

func ParseTarget(s string) (Target, bool) {
	switch Target(s) {
	case TargetUsers, TargetGroups, TargetAll:
		return Target(s), true
	}
	return "", false
}

// Draft is a proposed broadcast waiting for confirmation. One per owner;
// proposing again replaces the previous draft.
type Draft struct {
	ID      string
	Text    string
	PhotoID string
}

// Directory is the recipient store slice a run reads and prunes.
type Directory interface {
	CountUsers(ctx context.Context) (int64, error)
	GetUserPage(ctx context.Context, afterID int64, limit int) ([]int64, error)
	CountChats(ctx context.Context) (int64, error)
	GetChatPage(ctx context.Context, afterID int64, limit int) ([]int64, error)
	DeleteUser(ctx context.Context, userID int64) error
}

// Reconciler funnels the group-state reactions a run can trigger.
type Reconciler interface {
	Migrate(ctx context.Context, oldID, newID int64)
	Forget(ctx context.Context, chatID int64)
}

type Result struct {
	ID      string
	Target  Target
	Total   int64
	Sent    int64
	Pruned  int64
	Elapsed time.Duration
}

// Dispatcher owns broadcast drafts and executes confirmed runs: paged
// directory scans, bounded concurrency, a global rate cap, dead-recipient
// pruning and throttled progress reporting.
type Dispatcher struct {
	cfg    config.Broadcast
	dir    Directory
	sender Sender
	recon  Reconciler
	queue  *event.Queue

	mu     sync.Mutex
	drafts map[int64]*Draft
}

func NewDispatcher(cfg config.Broadcast, dir Directory, sender Sender, recon Reconciler, queue *event.Queue) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		dir:    dir,
		sender: sender,
		recon:  recon,
		queue:  queue,
		drafts: map[int64]*Draft{},
	}
}

func (d *Dispatcher) getLogEntry() *log.Entry {
	return log.WithField("context", "broadcast")
}

// Propose stores a draft for the owner, replacing any previous one.
func (d *Dispatcher) Propose(ownerID int64, text, photoID string) *Draft {
	draft := &Draft{ID: uuid.New(), Text: text, PhotoID: photoID}
	d.mu.Lock()
	d.drafts[ownerID] = draft
	d.mu.Unlock()
	return draft
}

func (d *Dispatcher) Draft(ownerID int64) *Draft {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drafts[ownerID]
}

func (d *Dispatcher) Cancel(ownerID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.drafts[ownerID]; !ok {
		return false
	}
	delete(d.drafts, ownerID)
	return true
}

func (d *Dispatcher) take(ownerID int64) *Draft {
	d.mu.Lock()
	defer d.mu.Unlock()
	draft := d.drafts[ownerID]
	delete(d.drafts, ownerID)
	return draft
}

// Run executes the owner's pending draft against the chosen target and
// reports progress into progressChatID. It blocks until the run finishes;
// callers start it in a goroutine.
func (d *Dispatcher) Run(ctx context.Context, ownerID, progressChatID int64, target Target) (*Result, error) {
	draft := d.take(ownerID)
	if draft == nil {
		return nil, errors.New("no pending draft")
	}

	ctx, span := observability.StartSpan(ctx, "broadcast_run")
	defer span.End()

	var total int64
	if target == TargetUsers || target == TargetAll {
		n, err := d.dir.CountUsers(ctx)
		if err != nil {
			return nil, errors.WithMessage(err, "cant count users")
		}
		total += n
	}
	if target == TargetGroups || target == TargetAll {
		n, err := d.dir.CountChats(ctx)
		if err != nil {
			return nil, errors.WithMessage(err, "cant count chats")
		}
		total += n
	}

	started := time.Now()
	entry := d.getLogEntry().WithFields(log.Fields{"job_id": draft.ID, "target": target, "total": total})
	entry.Info("broadcast started")

	run := &runState{
		dispatcher: d,
		draft:      draft,
		total:      total,
		limiter:    rate.NewLimiter(rate.Limit(d.cfg.RatePerSec), d.cfg.RatePerSec),
	}
	run.progressID, _ = d.sender.Notify(ctx, progressChatID, texts.Render(texts.BroadcastProgress, map[string]any{
		"bar": RenderBar(0, total),
	}))
	run.progressChatID = progressChatID

	if target == TargetUsers || target == TargetAll {
		d.scan(ctx, run, false, func(ctx context.Context, after int64, limit int) ([]int64, error) {
			return d.dir.GetUserPage(ctx, after, limit)
		})
	}
	if target == TargetGroups || target == TargetAll {
		d.scan(ctx, run, true, func(ctx context.Context, after int64, limit int) ([]int64, error) {
			return d.dir.GetChatPage(ctx, after, limit)
		})
	}

	result := &Result{
		ID:      draft.ID,
		Target:  target,
		Total:   total,
		Sent:    run.sent.Load(),
		Pruned:  run.pruned.Load(),
		Elapsed: time.Since(started),
	}
	entry.WithFields(log.Fields{"sent": result.Sent, "pruned": result.Pruned}).Info("broadcast finished")

	if run.progressID != 0 {
		done := texts.Render(texts.BroadcastDone, map[string]any{
			"sent":    result.Sent,
			"total":   result.Total,
			"pruned":  result.Pruned,
			"elapsed": result.Elapsed.Round(time.Second).String(),
		})
		if err := d.sender.Edit(ctx, progressChatID, run.progressID, done); err != nil {
			entry.WithError(err).Debug("cant finalize progress message")
		}
	}
	return result, nil
}

type pageFn func(ctx context.Context, after int64, limit int) ([]int64, error)

// scan walks one directory slice with keyset pagination, delivering each
// page under the batch-size concurrency cap.
func (d *Dispatcher) scan(ctx context.Context, run *runState, group bool, fetch pageFn) {
	after := int64(math.MinInt64)
	for {
		ids, err := fetch(ctx, after, d.cfg.PageSize)
		if err != nil {
			d.getLogEntry().WithError(err).Error("cant scan recipients")
			return
		}
		if len(ids) == 0 {
			return
		}

		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(d.cfg.BatchSize)
		for _, id := range ids {
			id := id
			eg.Go(func() error {
				d.sendOne(egCtx, run, id, group)
				run.progress(egCtx)
				return nil
			})
		}
		_ = eg.Wait()

		after = ids[len(ids)-1]
		if len(ids) < d.cfg.PageSize {
			return
		}
	}
}

// sendOne delivers to a single recipient, reacting to the failure taxonomy:
// wait out rate limits, follow migrations once, prune dead peers, give up on
// persistent transient failures.
func (d *Dispatcher) sendOne(ctx context.Context, run *runState, chatID int64, group bool) {
	const maxAttempts = 4
	entry := d.getLogEntry().WithFields(log.Fields{"job_id": run.draft.ID, "chat_id": chatID})

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := run.limiter.Wait(ctx); err != nil {
			return
		}
		err := d.sender.Deliver(ctx, chatID, run.draft)
		if err == nil {
			run.sent.Add(1)
			observability.RecordBroadcastSent()
			return
		}

		switch telegram.Classify(err) {
		case telegram.FailureRateLimited:
			delay := telegram.RetryDelay(err)
			if delay <= 0 {
				delay = time.Second
			}
			if !sleep(ctx, delay) {
				return
			}
		case telegram.FailureMigrated:
			if !group {
				entry.WithError(err).Warn("migration signal from a user peer")
				return
			}
			newID := telegram.MigratedTo(err)
			d.recon.Migrate(ctx, chatID, newID)
			chatID = newID
		case telegram.FailurePermanent:
			run.pruned.Add(1)
			observability.RecordBroadcastPruned()
			if group {
				d.recon.Forget(ctx, chatID)
			} else {
				userID := chatID
				d.queue.Enqueue("prune_user", func(ctx context.Context) error {
					return d.dir.DeleteUser(ctx, userID)
				})
			}
			return
		default:
			if attempt == maxAttempts-1 {
				entry.WithError(err).Warn("giving up on recipient")
				return
			}
			if !sleep(ctx, 500*time.Millisecond*time.Duration(attempt+1)) {
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

type runState struct {
	dispatcher *Dispatcher
	draft      *Draft
	total      int64
	limiter    *rate.Limiter

	sent      atomic.Int64
	pruned    atomic.Int64
	processed atomic.Int64

	progressChatID int64
	progressID     int

	editMu       sync.Mutex
	lastReported int64
}

// progress edits the status message every ProgressEvery recipients. The bar
// tracks actual deliveries, so pruned recipients never inflate it. The
// monotone guard keeps concurrent senders from rewinding the edit.
func (r *runState) progress(ctx context.Context) {
	processed := r.processed.Add(1)
	every := int64(r.dispatcher.cfg.ProgressEvery)
	if r.progressID == 0 || every <= 0 || processed%every != 0 {
		return
	}

	r.editMu.Lock()
	defer r.editMu.Unlock()
	if processed <= r.lastReported {
		return
	}
	r.lastReported = processed

	text := texts.Render(texts.BroadcastProgress, map[string]any{
		"bar": RenderBar(r.sent.Load(), r.total),
	})
	if err := r.dispatcher.sender.Edit(ctx, r.progressChatID, r.progressID, text); err != nil {
		r.dispatcher.getLogEntry().WithError(err).Trace("cant edit progress")
	}
}

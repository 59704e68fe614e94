package handlers

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mmbots/linkguard/internal/db"
	"github.com/mmbots/linkguard/internal/event"
	"github.com/mmbots/linkguard/internal/scheduler"
)

// Cleaner removes service messages after a delay. Jobs are persisted so a
// warn notice scheduled before a restart still disappears after it.
type Cleaner struct {
	ops   Messenger
	store db.Client
	sched *scheduler.Scheduler
	queue *event.Queue
}

func NewCleaner(ops Messenger, store db.Client, sched *scheduler.Scheduler, queue *event.Queue) *Cleaner {
	return &Cleaner{ops: ops, store: store, sched: sched, queue: queue}
}

func (c *Cleaner) getLogEntry() *log.Entry {
	return log.WithField("context", "cleaner")
}

// DeleteLater schedules the message for removal after the given delay and
// persists the job in the background.
func (c *Cleaner) DeleteLater(chatID int64, messageID int, after time.Duration) {
	runAt := time.Now().Add(after).Unix()
	c.queue.Enqueue("persist_delete_job", func(ctx context.Context) error {
		return c.store.AddDeleteJob(ctx, &db.DeleteJob{
			ChatID:    chatID,
			MessageID: messageID,
			RunAt:     runAt,
		})
	})
	c.schedule(chatID, messageID, after)
}

func (c *Cleaner) schedule(chatID int64, messageID int, after time.Duration) {
	c.sched.Schedule(scheduler.KindDelete, chatID, int64(messageID), after, func(chatID int64) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.ops.DeleteMessage(ctx, chatID, messageID); err != nil {
			// Gone already or rights lost; either way the job is spent.
			c.getLogEntry().WithError(err).WithFields(log.Fields{
				"chat_id":    chatID,
				"message_id": messageID,
			}).Debug("cant delete service message")
		}
		c.queue.Enqueue("remove_delete_job", func(ctx context.Context) error {
			return c.store.RemoveDeleteJob(ctx, chatID, messageID)
		})
	})
}

// Restore re-schedules every persisted job. Overdue jobs run immediately.
func (c *Cleaner) Restore(ctx context.Context) error {
	jobs, err := c.store.GetDeleteJobs(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, job := range jobs {
		delay := time.Unix(job.RunAt, 0).Sub(now)
		if delay < 0 {
			delay = 0
		}
		c.schedule(job.ChatID, job.MessageID, delay)
	}
	if len(jobs) > 0 {
		c.getLogEntry().WithField("count", len(jobs)).Info("restored delete jobs")
	}
	return nil
}

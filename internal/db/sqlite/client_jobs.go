package sqlite

import (
	"context"

	"github.com/mmbots/linkguard/internal/db"
)

func (c *sqliteClient) AddDeleteJob(ctx context.Context, job *db.DeleteJob) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO delete_jobs (chat_id, message_id, run_at)
		VALUES (:chat_id, :message_id, :run_at)
		ON CONFLICT(chat_id, message_id) DO UPDATE SET
		run_at = excluded.run_at
	`
	_, err := c.db.NamedExecContext(ctx, query, job)
	return err
}

func (c *sqliteClient) RemoveDeleteJob(ctx context.Context, chatID int64, messageID int) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx,
		`DELETE FROM delete_jobs WHERE chat_id = ? AND message_id = ?`, chatID, messageID)
	return err
}

func (c *sqliteClient) RemoveChatDeleteJobs(ctx context.Context, chatID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM delete_jobs WHERE chat_id = ?`, chatID)
	return err
}

func (c *sqliteClient) GetDeleteJobs(ctx context.Context) ([]*db.DeleteJob, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var jobs []*db.DeleteJob
	err := c.db.SelectContext(ctx, &jobs,
		`SELECT chat_id, message_id, run_at FROM delete_jobs ORDER BY run_at`)
	return jobs, err
}

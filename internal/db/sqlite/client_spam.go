package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mmbots/linkguard/internal/db"
)

func (c *sqliteClient) GetSpamCounter(ctx context.Context, chatID, userID int64) (*db.SpamCounter, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var counter db.SpamCounter
	err := c.db.GetContext(ctx, &counter, `
		SELECT chat_id, user_id, count, last_time FROM link_spam
		WHERE chat_id = ? AND user_id = ?
	`, chatID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &counter, nil
}

func (c *sqliteClient) UpsertSpamCounter(ctx context.Context, counter *db.SpamCounter) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO link_spam (chat_id, user_id, count, last_time)
		VALUES (:chat_id, :user_id, :count, :last_time)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
		count = excluded.count,
		last_time = excluded.last_time
	`
	_, err := c.db.NamedExecContext(ctx, query, counter)
	return err
}

func (c *sqliteClient) DeleteSpamCounter(ctx context.Context, chatID, userID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx,
		`DELETE FROM link_spam WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	return err
}

func (c *sqliteClient) DeleteChatCounters(ctx context.Context, chatID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM link_spam WHERE chat_id = ?`, chatID)
	return err
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mmbots/linkguard/internal/db"
)

func (c *sqliteClient) InsertUser(ctx context.Context, userID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `INSERT OR IGNORE INTO users (user_id) VALUES (?)`, userID)
	return err
}

func (c *sqliteClient) DeleteUser(ctx context.Context, userID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, userID)
	return err
}

func (c *sqliteClient) CountUsers(ctx context.Context) (int64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var count int64
	err := c.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users`)
	return count, err
}

func (c *sqliteClient) GetUserPage(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var userIDs []int64
	err := c.db.SelectContext(ctx, &userIDs,
		`SELECT user_id FROM users WHERE user_id > ? ORDER BY user_id LIMIT ?`, afterID, limit)
	return userIDs, err
}

func (c *sqliteClient) UpsertChat(ctx context.Context, chat *db.ChatRecord) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO chats (chat_id, is_admin, verified_at)
		VALUES (:chat_id, :is_admin, :verified_at)
		ON CONFLICT(chat_id) DO UPDATE SET
		is_admin = excluded.is_admin,
		verified_at = excluded.verified_at
	`
	_, err := c.db.NamedExecContext(ctx, query, chat)
	return err
}

func (c *sqliteClient) DeleteChat(ctx context.Context, chatID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = ?`, chatID)
	return err
}

func (c *sqliteClient) GetChat(ctx context.Context, chatID int64) (*db.ChatRecord, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var chat db.ChatRecord
	err := c.db.GetContext(ctx, &chat,
		`SELECT chat_id, is_admin, verified_at FROM chats WHERE chat_id = ?`, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &chat, nil
}

func (c *sqliteClient) CountChats(ctx context.Context) (int64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var count int64
	err := c.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM chats`)
	return count, err
}

func (c *sqliteClient) CountAdminChats(ctx context.Context) (int64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var count int64
	err := c.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM chats WHERE is_admin = 1`)
	return count, err
}

func (c *sqliteClient) GetChatPage(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var chatIDs []int64
	err := c.db.SelectContext(ctx, &chatIDs,
		`SELECT chat_id FROM chats WHERE chat_id > ? ORDER BY chat_id LIMIT ?`, afterID, limit)
	return chatIDs, err
}

// MigrateChat moves every row keyed by the old chat id to the new one in a
// single transaction. Rows already present under the new id lose to the
// migrated ones.
func (c *sqliteClient) MigrateChat(ctx context.Context, oldID, newID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migrate tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"chats", "link_spam", "delete_jobs"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE chat_id = ?`, table), newID); err != nil {
			return fmt.Errorf("clear %s for new chat id: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET chat_id = ? WHERE chat_id = ?`, table), newID, oldID); err != nil {
			return fmt.Errorf("migrate %s: %w", table, err)
		}
	}

	return tx.Commit()
}

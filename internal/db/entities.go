package db

// ChatRecord is the persisted shadow of a group chat the bot has seen.
// IsAdmin caches platform truth and is re-verified, never trusted blindly.
type ChatRecord struct {
	ID         int64 `db:"chat_id"`
	IsAdmin    bool  `db:"is_admin"`
	VerifiedAt int64 `db:"verified_at"`
}

// SpamCounter tracks link violations within the sliding window. Times are
// unix seconds, matching the platform's own message timestamps.
type SpamCounter struct {
	ChatID   int64 `db:"chat_id"`
	UserID   int64 `db:"user_id"`
	Count    int   `db:"count"`
	LastTime int64 `db:"last_time"`
}

// DeleteJob is a delayed removal of a service message, persisted so warn
// notices still get cleaned up across restarts.
type DeleteJob struct {
	ChatID    int64 `db:"chat_id"`
	MessageID int   `db:"message_id"`
	RunAt     int64 `db:"run_at"`
}

package db

import "context"

// Client is the persistence boundary of the core: idempotent upserts, keyed
// deletes, counted selects and keyset-paginated scans, nothing else.
type Client interface {
	Close() error

	// Recipient directory: private users.
	InsertUser(ctx context.Context, userID int64) error
	DeleteUser(ctx context.Context, userID int64) error
	CountUsers(ctx context.Context) (int64, error)
	GetUserPage(ctx context.Context, afterID int64, limit int) ([]int64, error)

	// Recipient directory: group chats with cached admin state.
	UpsertChat(ctx context.Context, chat *ChatRecord) error
	DeleteChat(ctx context.Context, chatID int64) error
	GetChat(ctx context.Context, chatID int64) (*ChatRecord, error)
	CountChats(ctx context.Context) (int64, error)
	CountAdminChats(ctx context.Context) (int64, error)
	GetChatPage(ctx context.Context, afterID int64, limit int) ([]int64, error)
	MigrateChat(ctx context.Context, oldID, newID int64) error

	// Per-(chat,user) violation counters.
	GetSpamCounter(ctx context.Context, chatID, userID int64) (*SpamCounter, error)
	UpsertSpamCounter(ctx context.Context, counter *SpamCounter) error
	DeleteSpamCounter(ctx context.Context, chatID, userID int64) error
	DeleteChatCounters(ctx context.Context, chatID int64) error

	// Restorable delayed deletions of service messages.
	AddDeleteJob(ctx context.Context, job *DeleteJob) error
	RemoveDeleteJob(ctx context.Context, chatID int64, messageID int) error
	RemoveChatDeleteJobs(ctx context.Context, chatID int64) error
	GetDeleteJobs(ctx context.Context) ([]*DeleteJob, error)
}

package core

import (
	"context"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// LinkStore persists chat-to-board account bindings. Bind overwrites any
// previous link for the same chat identity.
type LinkStore interface {
	Bind(ctx context.Context, link AccountLink) error
	Lookup(ctx context.Context, chatID string) (AccountLink, error)
	ListLinks(ctx context.Context) ([]AccountLink, error)
}

// ReminderLedger records which due windows were already notified. Record
// must be atomic per (task_id, window_key): one writer wins, the rest get
// ErrReminderExists instead of a second row.
type ReminderLedger interface {
	Seen(ctx context.Context, taskID, windowKey string) (bool, error)
	Record(ctx context.Context, rec ReminderRecord) error
	ListRecent(ctx context.Context, limit int) ([]ReminderRecord, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// TaskSource reads and creates tasks on the external board.
type TaskSource interface {
	ListTasks(ctx context.Context, memberID string) ([]Task, error)
	CreateTask(ctx context.Context, memberID, title string) (string, error)
}

// Notifier pushes a text message to a chat identity.
type Notifier interface {
	Push(ctx context.Context, chatID, text string) error
}

// Completer produces an assistant reply for a free-form prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Deps bundles the ports the relay core works against.
type Deps struct {
	Links  LinkStore
	Ledger ReminderLedger
	Board  TaskSource
	Chat   Notifier
	AI     Completer
}

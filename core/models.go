package core

import "time"

// TaskStatus is the normalized state of a board card.
type TaskStatus string

const (
	StatusOpen       TaskStatus = "open"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
)

// AccountLink binds one chat identity to one task-board account.
// A chat identity has at most one link: re-binding overwrites it.
type AccountLink struct {
	ChatID        string    `db:"chat_id" json:"chat_id"`
	BoardMemberID string    `db:"board_member_id" json:"board_member_id"`
	LinkedAt      time.Time `db:"linked_at" json:"linked_at"`
}

// Task is a read-only view of a board card. DueAt is nil when the board
// carries no due date for it.
type Task struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	DueAt  *time.Time `json:"due_at,omitempty"`
	Status TaskStatus `json:"status"`
}

// ReminderRecord marks one (task, due window) pair as already notified.
type ReminderRecord struct {
	ID        string    `db:"id" json:"id"`
	TaskID    string    `db:"task_id" json:"task_id"`
	WindowKey string    `db:"window_key" json:"window_key"`
	ChatID    string    `db:"chat_id" json:"chat_id"`
	SentAt    time.Time `db:"sent_at" json:"sent_at"`
}

// WindowKey derives the ledger key for a task's current due date. Moving
// the due date produces a new key, so the new deadline alerts again.
func WindowKey(dueAt time.Time) string {
	return dueAt.UTC().Format(time.RFC3339)
}

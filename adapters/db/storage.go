package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ELICE-01/line/core"
)

// DB persists account links and the reminder ledger. It speaks two
// drivers: pgx for deployments where several relay instances share one
// ledger, modernc sqlite for single-node ones. Queries are written with
// `?` placeholders and rebound per driver, timestamps are stored as UTC
// RFC3339 text so both dialects compare and sort them the same way.
type DB struct {
	log  *slog.Logger
	conn *sqlx.DB
}

func New(log *slog.Logger, driver, address string) (*DB, error) {
	var driverName string
	switch driver {
	case "postgres", "pgx":
		driverName = "pgx"
	case "sqlite", "":
		driverName = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	conn, err := sqlx.Connect(driverName, address)
	if err != nil {
		log.Error("connection problem", "driver", driverName, "address", address, "error", err)
		return nil, err
	}

	if driverName == "sqlite" {
		// A single connection keeps :memory: databases alive and spares
		// file databases the busy-handler dance.
		conn.SetMaxOpenConns(1)
		if _, err := conn.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set busy_timeout: %w", err)
		}
	}

	return &DB{log: log, conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Account links

type linkRow struct {
	ChatID        string `db:"chat_id"`
	BoardMemberID string `db:"board_member_id"`
	LinkedAt      string `db:"linked_at"`
}

func (r linkRow) toCore() core.AccountLink {
	linkedAt, _ := time.Parse(time.RFC3339, r.LinkedAt)
	return core.AccountLink{
		ChatID:        r.ChatID,
		BoardMemberID: r.BoardMemberID,
		LinkedAt:      linkedAt,
	}
}

// Bind upserts the link: one row per chat identity, last write wins.
func (db *DB) Bind(ctx context.Context, link core.AccountLink) error {
	const q = `
		INSERT INTO account_links (chat_id, board_member_id, linked_at)
		VALUES (?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE
		SET board_member_id = excluded.board_member_id,
		    linked_at = excluded.linked_at;
	`

	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(q),
		link.ChatID, link.BoardMemberID, link.LinkedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("bind link: %w", err)
	}
	return nil
}

func (db *DB) Lookup(ctx context.Context, chatID string) (core.AccountLink, error) {
	const q = `SELECT chat_id, board_member_id, linked_at FROM account_links WHERE chat_id = ?`

	var row linkRow
	if err := db.conn.GetContext(ctx, &row, db.conn.Rebind(q), chatID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.AccountLink{}, core.ErrLinkNotFound
		}
		return core.AccountLink{}, fmt.Errorf("lookup link: %w", err)
	}
	return row.toCore(), nil
}

func (db *DB) ListLinks(ctx context.Context) ([]core.AccountLink, error) {
	const q = `SELECT chat_id, board_member_id, linked_at FROM account_links ORDER BY chat_id ASC`

	var rows []linkRow
	if err := db.conn.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	out := make([]core.AccountLink, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toCore())
	}
	return out, nil
}

// Reminder ledger

type reminderRow struct {
	ID        string `db:"id"`
	TaskID    string `db:"task_id"`
	WindowKey string `db:"window_key"`
	ChatID    string `db:"chat_id"`
	SentAt    string `db:"sent_at"`
}

func (r reminderRow) toCore() core.ReminderRecord {
	sentAt, _ := time.Parse(time.RFC3339, r.SentAt)
	return core.ReminderRecord{
		ID:        r.ID,
		TaskID:    r.TaskID,
		WindowKey: r.WindowKey,
		ChatID:    r.ChatID,
		SentAt:    sentAt,
	}
}

func (db *DB) Seen(ctx context.Context, taskID, windowKey string) (bool, error) {
	const q = `SELECT COUNT(*) FROM reminder_ledger WHERE task_id = ? AND window_key = ?`

	var n int
	if err := db.conn.GetContext(ctx, &n, db.conn.Rebind(q), taskID, windowKey); err != nil {
		return false, fmt.Errorf("ledger lookup: %w", err)
	}
	return n > 0, nil
}

// Record inserts the sent marker. The UNIQUE (task_id, window_key)
// constraint is the at-most-once arbiter: a concurrent writer gets
// core.ErrReminderExists, never a second row.
func (db *DB) Record(ctx context.Context, rec core.ReminderRecord) error {
	const q = `
		INSERT INTO reminder_ledger (id, task_id, window_key, chat_id, sent_at)
		VALUES (?, ?, ?, ?, ?);
	`

	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(q),
		rec.ID, rec.TaskID, rec.WindowKey, rec.ChatID, rec.SentAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrReminderExists
		}
		return fmt.Errorf("insert reminder record: %w", err)
	}
	return nil
}

func (db *DB) ListRecent(ctx context.Context, limit int) ([]core.ReminderRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	const q = `
		SELECT id, task_id, window_key, chat_id, sent_at
		FROM reminder_ledger
		ORDER BY sent_at DESC
		LIMIT ?;
	`

	var rows []reminderRow
	if err := db.conn.SelectContext(ctx, &rows, db.conn.Rebind(q), limit); err != nil {
		return nil, fmt.Errorf("list reminder records: %w", err)
	}

	out := make([]core.ReminderRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toCore())
	}
	return out, nil
}

func (db *DB) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM reminder_ledger WHERE sent_at < ?`

	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(q), cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("purge reminder ledger: %w", err)
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}

var (
	_ core.LinkStore      = (*DB)(nil)
	_ core.ReminderLedger = (*DB)(nil)
)

// driver helpers

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		code := sqErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const ledgerWriteAttempts = 3

// ScannerConfig tunes the periodic reminder sweep.
type ScannerConfig struct {
	Interval  time.Duration // time between sweeps
	Horizon   time.Duration // alert when due_at is this close
	Grace     time.Duration // still alert when due_at slipped this far past
	Retention time.Duration // ledger rows older than this get purged
}

// Scanner periodically sweeps every linked account for tasks whose due
// date entered the alert horizon and pushes at most one reminder per
// (task, due window) pair, arbitrated by the durable ledger.
type Scanner struct {
	log        *slog.Logger
	cfg        ScannerConfig
	deps       Deps
	now        func() time.Time
	retryDelay time.Duration

	mu     sync.Mutex // serializes RunOnce: a slow sweep delays the next tick instead of racing it
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewScanner(log *slog.Logger, cfg ScannerConfig, deps Deps) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	return &Scanner{
		log:        log,
		cfg:        cfg,
		deps:       deps,
		now:        time.Now,
		retryDelay: 250 * time.Millisecond,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the sweep loop. The first sweep runs one interval after
// start, matching the board poll cadence.
func (s *Scanner) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.log.Info("reminder scanner started",
			"interval", s.cfg.Interval.String(),
			"horizon", s.cfg.Horizon.String(),
			"grace", s.cfg.Grace.String())

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Scanner) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.log.Info("reminder scanner stopped")
}

// RunOnce performs a single sweep. Safe to call concurrently: overlapping
// calls queue behind the mutex, so sweeps never interleave in-process.
// Account failures are isolated, one broken board fetch never aborts the
// rest of the sweep.
func (s *Scanner) RunOnce(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	links, err := s.deps.Links.ListLinks(ctx)
	if err != nil {
		s.log.Error("sweep aborted, cannot list account links", "error", err)
		return
	}

	now := s.now().UTC()
	for _, link := range links {
		if err := s.scanAccount(ctx, link, now); err != nil {
			s.log.Warn("account sweep skipped",
				"chatId", link.ChatID, "memberId", link.BoardMemberID, "error", err)
		}
	}

	s.purge(ctx, now)
}

func (s *Scanner) scanAccount(ctx context.Context, link AccountLink, now time.Time) error {
	tasks, err := s.deps.Board.ListTasks(ctx, link.BoardMemberID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	for _, task := range tasks {
		s.scanTask(ctx, link, task, now)
	}
	return nil
}

// scanTask decides whether one task needs a reminder now and sends it.
// The order is check, send, record: a failed send leaves no ledger row,
// so the next sweep retries the window.
func (s *Scanner) scanTask(ctx context.Context, link AccountLink, task Task, now time.Time) {
	if task.Status == StatusDone || task.DueAt == nil {
		return
	}
	due := task.DueAt.UTC()
	if due.After(now.Add(s.cfg.Horizon)) || due.Before(now.Add(-s.cfg.Grace)) {
		return
	}

	key := WindowKey(due)
	seen, err := s.deps.Ledger.Seen(ctx, task.ID, key)
	if err != nil {
		s.log.Error("ledger lookup failed", "taskId", task.ID, "window", key, "error", err)
		return
	}
	if seen {
		return
	}

	if err := s.deps.Chat.Push(ctx, link.ChatID, reminderText(task, due, now)); err != nil {
		s.log.Warn("reminder delivery failed, window stays open",
			"chatId", link.ChatID, "taskId", task.ID, "window", key, "error", err)
		return
	}

	s.record(ctx, ReminderRecord{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		WindowKey: key,
		ChatID:    link.ChatID,
		SentAt:    now,
	})
}

// record persists the sent marker. The message is already out, so a lost
// write here means a duplicate next sweep: retry a few times and log
// loudly if the ledger still will not take it.
func (s *Scanner) record(ctx context.Context, rec ReminderRecord) {
	var err error
	for attempt := 1; attempt <= ledgerWriteAttempts; attempt++ {
		err = s.deps.Ledger.Record(ctx, rec)
		if err == nil {
			s.log.Info("reminder sent",
				"chatId", rec.ChatID, "taskId", rec.TaskID, "window", rec.WindowKey)
			return
		}
		if errors.Is(err, ErrReminderExists) {
			// Another scanner instance recorded this window between our
			// check and now. The user may have seen the reminder twice.
			s.log.Warn("reminder window recorded by a concurrent sweep",
				"taskId", rec.TaskID, "window", rec.WindowKey)
			return
		}
		if attempt < ledgerWriteAttempts {
			time.Sleep(s.retryDelay)
		}
	}
	s.log.Error("reminder sent but not recorded, duplicates are possible",
		"taskId", rec.TaskID, "window", rec.WindowKey,
		"attempts", ledgerWriteAttempts, "error", err)
}

func (s *Scanner) purge(ctx context.Context, now time.Time) {
	if s.cfg.Retention <= 0 {
		return
	}
	removed, err := s.deps.Ledger.PurgeOlderThan(ctx, now.Add(-s.cfg.Retention))
	if err != nil {
		s.log.Warn("ledger purge failed", "error", err)
		return
	}
	if removed > 0 {
		s.log.Debug("ledger purged", "removed", removed)
	}
}

func reminderText(task Task, due, now time.Time) string {
	when := due.Format("2006-01-02 15:04 UTC")
	if due.Before(now) {
		return fmt.Sprintf("Reminder: %q was due at %s and is still open.", task.Title, when)
	}
	return fmt.Sprintf("Reminder: %q is due at %s.", task.Title, when)
}

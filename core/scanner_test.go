package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestScanner(env *testEnv, now time.Time) *Scanner {
	s := NewScanner(discardLogger(), ScannerConfig{
		Interval:  30 * time.Minute,
		Horizon:   24 * time.Hour,
		Grace:     time.Hour,
		Retention: 240 * time.Hour,
	}, env.deps())
	s.now = func() time.Time { return now }
	s.retryDelay = 0
	return s
}

func mustLink(t *testing.T, env *testEnv, chatID, memberID string) {
	t.Helper()

	err := env.links.Bind(context.Background(), AccountLink{
		ChatID:        chatID,
		BoardMemberID: memberID,
		LinkedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to prepare link: %v", err)
	}
}

func dueTask(id, title string, due time.Time) Task {
	return Task{ID: id, Title: title, Status: StatusOpen, DueAt: &due}
}

func TestScannerRunOnce_SendsOnceAcrossSweeps(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	env := newTestEnv()
	mustLink(t, env, "U1", "trello@member123")
	env.board.setTasks("trello@member123", dueTask("t1", "write report", now.Add(2*time.Hour)))

	s := newTestScanner(env, now)
	s.RunOnce(context.Background())
	s.RunOnce(context.Background())
	s.RunOnce(context.Background())

	if got := env.chat.sent(); len(got) != 1 {
		t.Fatalf("expected exactly one reminder, got %d", len(got))
	}
	if env.ledger.count() != 1 {
		t.Fatalf("expected one ledger record, got %d", env.ledger.count())
	}
}

func TestScannerRunOnce_ReminderNamesTaskAndDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	env := newTestEnv()
	mustLink(t, env, "U1", "trello@member123")
	env.board.setTasks("trello@member123", dueTask("t1", "write report", now.Add(2*time.Hour)))

	s := newTestScanner(env, now)
	s.RunOnce(context.Background())

	got := env.chat.sent()
	if len(got) != 1 {
		t.Fatalf("expected one reminder, got %d", len(got))
	}
	if got[0].chatID != "U1" {
		t.Fatalf("expected reminder pushed to U1, got %q", got[0].chatID)
	}
	if !strings.Contains(got[0].text, "write report") || !strings.Contains(got[0].text, "2025-03-10 11:00") {
		t.Fatalf("expected task title and due time in reminder, got %q", got[0].text)
	}
}

func TestScannerRunOnce_MovedDueDateAlertsAgain(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	env := newTestEnv()
	mustLink(t, env, "U1", "trello@member123")
	env.board.setTasks("trello@member123", dueTask("t1", "write report", now.Add(2*time.Hour)))

	s := newTestScanner(env, now)
	s.RunOnce(context.Background())

	// due date pushed out, still inside the horizon
	env.board.setTasks("trello@member123", dueTask("t1", "write report", now.Add(6*time.Hour)))
	s.RunOnce(context.Background())

	if got := env.chat.sent(); len(got) != 2 {
		t.Fatalf("expected a second reminder for the moved deadline, got %d", len(got))
	}
	if env.ledger.count() != 2 {
		t.Fatalf("expected two ledger records, got %d", env.ledger.count())
	}
}

func TestScannerRunOnce_SkipsDoneAndUndated(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	due := now.Add(2 * time.Hour)
	env := newTestEnv()
	mustLink(t, env, "U1", "trello@member123")
	env.board.setTasks("trello@member123",
		Task{ID: "t1", Title: "finished", Status: StatusDone, DueAt: &due},
		Task{ID: "t2", Title: "no deadline", Status: StatusOpen},
	)

	s := newTestScanner(env, now)
	s.RunOnce(context.Background())

	if got := env.chat.sent(); len(got) != 0 {
		t.Fatalf("expected no reminders, got %d", len(got))
	}
	if env.ledger.seenCalls != 0 {
		t.Fatalf("expected the ledger untouched for skipped tasks, got %d lookups", env.ledger.seenCalls)
	}
}

func TestScannerRunOnce_HorizonAndGrace(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		due  time.Time
		want int
	}{
		{"inside horizon", now.Add(23 * time.Hour), 1},
		{"beyond horizon", now.Add(48 * time.Hour), 0},
		{"just past due, inside grace", now.Add(-30 * time.Minute), 1},
		{"long past due, beyond grace", now.Add(-2 * time.Hour), 0},
		{"due right now", now, 1},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv()
			mustLink(t, env, "U1", "trello@member123")
			env.board.setTasks("trello@member123", dueTask("t1", "write report", tc.due))

			s := newTestScanner(env, now)
			s.RunOnce(context.Background())

			if got := len(env.chat.sent()); got != tc.want {
				t.Fatalf("expected %d reminders, got %d", tc.want, got)
			}
		})
	}
}

func TestScannerRunOnce_AccountFailureIsolated(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	env := newTestEnv()
	mustLink(t, env, "U1", "trello@broken_one")
	mustLink(t, env, "U2", "trello@member123")

	env.board.listErrFor["trello@broken_one"] = fmt.Errorf("%w: board: HTTP 500", ErrUpstreamUnavailable)
	env.board.setTasks("trello@member123", dueTask("t1", "write report", now.Add(2*time.Hour)))

	s := newTestScanner(env, now)
	s.RunOnce(context.Background())

	got := env.chat.sent()
	if len(got) != 1 || got[0].chatID != "U2" {
		t.Fatalf("expected the healthy account still reminded, got %+v", got)
	}
}

func TestScannerRunOnce_FailedDeliveryRetriesNextSweep(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	env := newTestEnv()
	mustLink(t, env, "U1", "trello@member123")
	env.board.setTasks("trello@member123", dueTask("t1", "write report", now.Add(2*time.Hour)))

	s := newTestScanner(env, now)

	env.chat.setErr(fmt.Errorf("%w: HTTP 502", ErrDeliveryFailed))
	s.RunOnce(context.Background())

	if env.ledger.count() != 0 {
		t.Fatalf("expected no ledger record for a failed delivery, got %d", env.ledger.count())
	}

	env.chat.setErr(nil)
	s.RunOnce(context.Background())

	if got := env.chat.sent(); len(got) != 1 {
		t.Fatalf("expected the retry to deliver once, got %d", len(got))
	}
	if env.ledger.count() != 1 {
		t.Fatalf("expected the delivered reminder recorded, got %d", env.ledger.count())
	}
}

func TestScannerRunOnce_ConcurrentCallsSerialize(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	env := newTestEnv()
	mustLink(t, env, "U1", "trello@member123")
	env.board.setTasks("trello@member123", dueTask("t1", "write report", now.Add(2*time.Hour)))

	s := newTestScanner(env, now)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RunOnce(context.Background())
		}()
	}
	wg.Wait()

	if got := env.chat.sent(); len(got) != 1 {
		t.Fatalf("expected overlapping sweeps to send once, got %d", len(got))
	}
}

func TestScannerRunOnce_RestartDoesNotResend(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	env := newTestEnv()
	mustLink(t, env, "U1", "trello@member123")
	env.board.setTasks("trello@member123", dueTask("t1", "write report", now.Add(2*time.Hour)))

	first := newTestScanner(env, now)
	first.RunOnce(context.Background())

	// a fresh scanner over the same ledger simulates a process restart
	second := newTestScanner(env, now.Add(30*time.Minute))
	second.RunOnce(context.Background())

	if got := env.chat.sent(); len(got) != 1 {
		t.Fatalf("expected the restarted scanner to skip the sent window, got %d", len(got))
	}
}

func TestScannerRecord_ConcurrentWindowStopsRetrying(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	env := newTestEnv()
	env.ledger.recordErr = ErrReminderExists

	s := newTestScanner(env, now)
	s.record(context.Background(), ReminderRecord{ID: "r1", TaskID: "t1", WindowKey: "w1", ChatID: "U1", SentAt: now})

	if env.ledger.recordCalls != 1 {
		t.Fatalf("expected no retries on a lost race, got %d attempts", env.ledger.recordCalls)
	}
}

func TestScannerRecord_RetriesTransientLedgerFailure(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	env := newTestEnv()
	env.ledger.recordErr = errors.New("disk full")

	s := newTestScanner(env, now)
	s.record(context.Background(), ReminderRecord{ID: "r1", TaskID: "t1", WindowKey: "w1", ChatID: "U1", SentAt: now})

	if env.ledger.recordCalls != ledgerWriteAttempts {
		t.Fatalf("expected %d attempts, got %d", ledgerWriteAttempts, env.ledger.recordCalls)
	}
}

func TestScannerRunOnce_PurgesOldRecords(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	env := newTestEnv()

	old := ReminderRecord{ID: "r1", TaskID: "t1", WindowKey: "w1", ChatID: "U1", SentAt: now.Add(-300 * time.Hour)}
	fresh := ReminderRecord{ID: "r2", TaskID: "t2", WindowKey: "w2", ChatID: "U1", SentAt: now.Add(-time.Hour)}
	if err := env.ledger.Record(context.Background(), old); err != nil {
		t.Fatalf("failed to prepare record: %v", err)
	}
	if err := env.ledger.Record(context.Background(), fresh); err != nil {
		t.Fatalf("failed to prepare record: %v", err)
	}

	s := newTestScanner(env, now)
	s.RunOnce(context.Background())

	if env.ledger.count() != 1 {
		t.Fatalf("expected only the fresh record kept, got %d", env.ledger.count())
	}
	if seen, _ := env.ledger.Seen(context.Background(), "t2", "w2"); !seen {
		t.Fatalf("expected the fresh record to survive the purge")
	}
}

func TestScannerStartStop(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	s := NewScanner(discardLogger(), ScannerConfig{Interval: time.Hour}, env.deps())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Stop()
}

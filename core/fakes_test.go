package core

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type fakeLinks struct {
	mu    sync.RWMutex
	links map[string]AccountLink

	bindErr error
	listErr error
}

func newFakeLinks() *fakeLinks {
	return &fakeLinks{links: make(map[string]AccountLink)}
}

func (f *fakeLinks) Bind(_ context.Context, link AccountLink) error {
	if f.bindErr != nil {
		return f.bindErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[link.ChatID] = link
	return nil
}

func (f *fakeLinks) Lookup(_ context.Context, chatID string) (AccountLink, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	link, ok := f.links[chatID]
	if !ok {
		return AccountLink{}, ErrLinkNotFound
	}
	return link, nil
}

func (f *fakeLinks) ListLinks(_ context.Context) ([]AccountLink, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]AccountLink, 0, len(f.links))
	for _, link := range f.links {
		out = append(out, link)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ChatID < out[j].ChatID
	})
	return out, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	records map[string]ReminderRecord

	seenErr     error
	recordErr   error
	seenCalls   int
	recordCalls int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[string]ReminderRecord)}
}

func ledgerKey(taskID, windowKey string) string {
	return taskID + "|" + windowKey
}

func (f *fakeLedger) Seen(_ context.Context, taskID, windowKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seenCalls++
	if f.seenErr != nil {
		return false, f.seenErr
	}
	_, ok := f.records[ledgerKey(taskID, windowKey)]
	return ok, nil
}

func (f *fakeLedger) Record(_ context.Context, rec ReminderRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.recordCalls++
	if f.recordErr != nil {
		return f.recordErr
	}
	key := ledgerKey(rec.TaskID, rec.WindowKey)
	if _, ok := f.records[key]; ok {
		return ErrReminderExists
	}
	f.records[key] = rec
	return nil
}

func (f *fakeLedger) ListRecent(_ context.Context, limit int) ([]ReminderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]ReminderRecord, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SentAt.After(out[j].SentAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeLedger) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var removed int64
	for key, rec := range f.records {
		if rec.SentAt.Before(cutoff) {
			delete(f.records, key)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeBoard struct {
	mu      sync.Mutex
	tasks   map[string][]Task
	created []string

	listErr    error
	listErrFor map[string]error
	createErr  error
	listCalls  int
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{
		tasks:      make(map[string][]Task),
		listErrFor: make(map[string]error),
	}
}

func (f *fakeBoard) ListTasks(_ context.Context, memberID string) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	if err, ok := f.listErrFor[memberID]; ok {
		return nil, err
	}

	out := make([]Task, len(f.tasks[memberID]))
	copy(out, f.tasks[memberID])
	return out, nil
}

func (f *fakeBoard) CreateTask(_ context.Context, memberID, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, title)
	return "card-" + title, nil
}

func (f *fakeBoard) setTasks(memberID string, tasks ...Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[memberID] = tasks
}

func (f *fakeBoard) createdTitles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.created))
	copy(out, f.created)
	return out
}

type push struct {
	chatID string
	text   string
}

type fakeChat struct {
	mu     sync.Mutex
	pushes []push
	err    error
}

func newFakeChat() *fakeChat {
	return &fakeChat{}
}

func (f *fakeChat) Push(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.pushes = append(f.pushes, push{chatID: chatID, text: text})
	return nil
}

func (f *fakeChat) sent() []push {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]push, len(f.pushes))
	copy(out, f.pushes)
	return out
}

func (f *fakeChat) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeAI struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (f *fakeAI) Complete(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeAI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// testEnv bundles the fake ports behind one Deps.
type testEnv struct {
	links  *fakeLinks
	ledger *fakeLedger
	board  *fakeBoard
	chat   *fakeChat
	ai     *fakeAI
}

func newTestEnv() *testEnv {
	return &testEnv{
		links:  newFakeLinks(),
		ledger: newFakeLedger(),
		board:  newFakeBoard(),
		chat:   newFakeChat(),
		ai:     &fakeAI{reply: "sure thing"},
	}
}

func (e *testEnv) deps() Deps {
	return Deps{
		Links:  e.links,
		Ledger: e.ledger,
		Board:  e.board,
		Chat:   e.chat,
		AI:     e.ai,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

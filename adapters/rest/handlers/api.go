package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ELICE-01/line/core"
)

// Deps lists what the ops endpoints read. The webhook endpoint is wired
// separately by the chat adapter.
type Deps struct {
	Store  core.Pinger
	Board  core.Pinger
	Links  core.LinkStore
	Ledger core.ReminderLedger
}

func Register(mux *http.ServeMux, log *slog.Logger, deps Deps, timeout time.Duration) {
	// ping
	mux.Handle("GET /api/ping", NewPingHandler(log, map[string]core.Pinger{"store": deps.Store, "board": deps.Board}, timeout))

	// ops views over the relay state
	mux.Handle("GET /api/links", NewListLinksHandler(log, deps.Links, timeout))
	mux.Handle("GET /api/reminders", NewListRemindersHandler(log, deps.Ledger, timeout))
}

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ELICE-01/line/adapters/rest"
	"github.com/ELICE-01/line/core"
	"github.com/ELICE-01/line/pkg/res"
)

func NewListRemindersHandler(_ *slog.Logger, ledger core.ReminderLedger, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				res.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		items, err := ledger.ListRecent(ctx, limit)
		if err != nil {
			rest.WriteErr(w, err)
			return
		}
		res.Json(w, map[string]any{"reminders": items}, http.StatusOK)
	}
}

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ELICE-01/line/adapters/rest"
	"github.com/ELICE-01/line/core"
	"github.com/ELICE-01/line/pkg/res"
)

func NewListLinksHandler(_ *slog.Logger, links core.LinkStore, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		items, err := links.ListLinks(ctx)
		if err != nil {
			rest.WriteErr(w, err)
			return
		}
		res.Json(w, map[string]any{"links": items}, http.StatusOK)
	}
}

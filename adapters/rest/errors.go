package rest

import (
	"errors"
	"net/http"

	"github.com/ELICE-01/line/core"
	"github.com/ELICE-01/line/pkg/res"
)

func WriteErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidAccount):
		res.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrUnlinked), errors.Is(err, core.ErrLinkNotFound):
		res.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, core.ErrReminderExists):
		res.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, core.ErrUpstreamUnavailable), errors.Is(err, core.ErrDeliveryFailed):
		res.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		res.Error(w, "internal error", http.StatusInternalServerError)
	}
}

package api

import (
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

func (a *API) createNotification(w http.ResponseWriter, r *http.Request) {
	var req delivery.EnqueueRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	id, err := a.notifications.Enqueue(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/notifications/"+id.String())
	writeJSON(w, http.StatusAccepted, Envelope{Data: map[string]any{"id": id}})
}

func (a *API) getNotification(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	report, err := a.notifications.Status(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, Envelope{Data: report})
}

// cancelNotification answers 202: the dispatcher applies the cancellation at
// its next selection, and terminal records are left as they are.
func (a *API) cancelNotification(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if err := a.notifications.Cancel(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}

	a.logger.LogAttrs(r.Context(), slog.LevelInfo, "notification cancel requested via api",
		logger.NotificationID(id))
	writeJSON(w, http.StatusAccepted, Envelope{Data: map[string]any{"id": id}})
}

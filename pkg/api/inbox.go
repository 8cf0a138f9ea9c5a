package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/notifykit/pkg/inbox"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

const (
	defaultInboxLimit = 50
	maxInboxLimit     = 200
)

func (a *API) listInbox(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientID")

	limit, err := intQuery(r, "limit", defaultInboxLimit, 1, maxInboxLimit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	offset, err := intQuery(r, "offset", 0, 0, 1<<20)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	opts := inbox.ListOptions{
		Limit:      limit,
		Offset:     offset,
		OnlyUnread: r.URL.Query().Get("unread") == "true",
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			a.fail(w, r, fmt.Errorf("%w: since must be RFC 3339", ErrMalformedRequest))
			return
		}
		opts.Since = &since
	}

	items, err := a.inbox.List(r.Context(), recipientID, opts)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	unread, err := a.inbox.CountUnread(r.Context(), recipientID)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if items == nil {
		items = []inbox.Item{}
	}
	writeJSON(w, http.StatusOK, Envelope{
		Data: items,
		Meta: map[string]any{"unread": unread, "limit": limit, "offset": offset},
	})
}

func (a *API) markRead(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "itemID")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if err := a.inbox.MarkRead(r.Context(), chi.URLParam(r, "recipientID"), id); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) markAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := a.inbox.MarkAllRead(r.Context(), chi.URLParam(r, "recipientID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Data: map[string]any{"marked": n}})
}

// streamInbox pushes new items as server-sent events named "item" until the
// client disconnects or the inbox shuts down. Comment lines keep idle
// proxies from closing the connection.
func (a *API) streamInbox(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.fail(w, r, ErrStreamingUnsupported)
		return
	}

	ctx := r.Context()
	sub, err := a.inbox.Subscribe(ctx, recipientID)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	a.logger.LogAttrs(ctx, slog.LevelDebug, "inbox stream opened", logger.RecipientID(recipientID))

	heartbeat := time.NewTicker(a.cfg.StreamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-sub.Items():
			if !ok {
				// dropped as a slow consumer or the hub closed; clients reconnect
				return
			}
			if err := writeEvent(w, "item", item.ID.String(), item); err != nil {
				a.logger.LogAttrs(ctx, slog.LevelDebug, "inbox stream write failed",
					logger.RecipientID(recipientID),
					logger.Error(err))
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}

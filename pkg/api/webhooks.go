package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/webhook"
)

// ChannelEvent is the body of a channel callback.
type ChannelEvent struct {
	ExternalRef string             `json:"external_ref"`
	Event       delivery.EventKind `json:"event"`
	Detail      map[string]any     `json:"detail,omitempty"`
}

// receiveChannelEvent verifies the signature over the raw body before
// anything is decoded.
func (a *API) receiveChannelEvent(w http.ResponseWriter, r *http.Request) {
	ch := delivery.Channel(chi.URLParam(r, "channel"))
	if !ch.Valid() {
		a.fail(w, r, fmt.Errorf("%w: unknown channel %q", ErrMalformedRequest, ch))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.cfg.MaxBodyBytes))
	if err != nil {
		a.fail(w, r, errors.Join(ErrMalformedRequest, err))
		return
	}

	sig, err := webhook.ExtractSignatureHeaders(r.Header)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := webhook.VerifySignature(a.cfg.WebhookSecret, body, sig, a.cfg.WebhookMaxAge); err != nil {
		a.fail(w, r, err)
		return
	}

	var ev ChannelEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		a.fail(w, r, errors.Join(ErrMalformedRequest, err))
		return
	}

	if err := a.notifications.ReportExternalEvent(r.Context(), ch, ev.ExternalRef, ev.Event, ev.Detail); err != nil {
		a.fail(w, r, err)
		return
	}

	a.logger.LogAttrs(r.Context(), slog.LevelInfo, "channel event received",
		logger.Channel(ch),
		logger.ExternalRef(ev.ExternalRef),
		logger.Event(string(ev.Event)),
		slog.String("delivery_id", sig.ID))
	w.WriteHeader(http.StatusNoContent)
}

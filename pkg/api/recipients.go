package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
)

type contactRequest struct {
	Addresses map[delivery.Channel]string `json:"addresses"`
	Timezone  string                      `json:"timezone,omitempty"`
}

type preferenceRequest struct {
	Enabled    *bool                `json:"enabled"`
	QuietHours *delivery.QuietHours `json:"quiet_hours,omitempty"`
	DailyCap   int                  `json:"daily_cap,omitempty"`
}

type optOutRequest struct {
	Active *bool  `json:"active"`
	Source string `json:"source,omitempty"`
}

func (a *API) putContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	problems := delivery.ValidationErrors{}
	if len(req.Addresses) == 0 {
		problems["addresses"] = "at least one address is required"
	}
	for ch, addr := range req.Addresses {
		switch {
		case !ch.Valid():
			problems["addresses."+string(ch)] = "unknown channel"
		case addr == "":
			problems["addresses."+string(ch)] = "is required"
		}
	}
	checkTimezone(problems, "timezone", req.Timezone)
	if len(problems) > 0 {
		a.fail(w, r, errors.Join(delivery.ErrValidationFailed, problems))
		return
	}

	c := delivery.Contact{
		RecipientID: chi.URLParam(r, "recipientID"),
		Addresses:   req.Addresses,
		Timezone:    req.Timezone,
	}
	if err := a.contacts.Upsert(r.Context(), c); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Data: c})
}

func (a *API) putPreference(w http.ResponseWriter, r *http.Request) {
	ch := delivery.Channel(chi.URLParam(r, "channel"))
	cat := delivery.Category(chi.URLParam(r, "category"))

	var req preferenceRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	problems := delivery.ValidationErrors{}
	if !ch.Valid() {
		problems["channel"] = "unknown channel"
	}
	if !cat.Valid() {
		problems["category"] = "unknown category"
	}
	if req.Enabled == nil {
		problems["enabled"] = "is required"
	}
	if req.DailyCap < 0 {
		problems["daily_cap"] = "must not be negative"
	}
	if qh := req.QuietHours; qh != nil {
		checkClock(problems, "quiet_hours.start", qh.Start)
		checkClock(problems, "quiet_hours.end", qh.End)
		checkTimezone(problems, "quiet_hours.timezone", qh.Timezone)
	}
	if len(problems) > 0 {
		a.fail(w, r, errors.Join(delivery.ErrValidationFailed, problems))
		return
	}

	p := delivery.Preference{
		RecipientID: chi.URLParam(r, "recipientID"),
		Channel:     ch,
		Category:    cat,
		Enabled:     *req.Enabled,
		QuietHours:  req.QuietHours,
		DailyCap:    req.DailyCap,
		UpdatedAt:   a.now().UTC(),
	}
	if err := a.preferences.SetPreference(r.Context(), p); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Data: p})
}

func (a *API) putOptOut(w http.ResponseWriter, r *http.Request) {
	ch := delivery.Channel(chi.URLParam(r, "channel"))

	var req optOutRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	problems := delivery.ValidationErrors{}
	if !ch.Valid() {
		problems["channel"] = "unknown channel"
	}
	if req.Active == nil {
		problems["active"] = "is required"
	}
	if len(problems) > 0 {
		a.fail(w, r, errors.Join(delivery.ErrValidationFailed, problems))
		return
	}

	source := req.Source
	if source == "" {
		source = "api"
	}
	o := delivery.OptOut{
		RecipientID: chi.URLParam(r, "recipientID"),
		Channel:     ch,
		Active:      *req.Active,
		EffectiveAt: a.now().UTC(),
		Source:      source,
	}
	if err := a.preferences.SetOptOut(r.Context(), o); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Data: o})
}

func checkClock(problems delivery.ValidationErrors, field, v string) {
	if _, err := time.Parse("15:04", v); err != nil {
		problems[field] = "must be HH:MM"
	}
}

func checkTimezone(problems delivery.ValidationErrors, field, tz string) {
	if tz == "" {
		return
	}
	if _, err := time.LoadLocation(tz); err != nil {
		problems[field] = "unknown timezone"
	}
}

package api

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/inbox"
	"github.com/dmitrymomot/notifykit/pkg/webhook"
)

var (
	// ErrMalformedRequest is returned for bodies, path or query values that cannot be parsed
	ErrMalformedRequest = errors.New("malformed request")

	// ErrNotificationsRequired is returned by New when no engine is provided
	ErrNotificationsRequired = errors.New("notification service cannot be nil")

	// ErrStreamingUnsupported is returned when the response writer cannot flush
	ErrStreamingUnsupported = errors.New("streaming is not supported by the connection")
)

// ErrorDetail is the error part of the response envelope.
type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// errorDetail maps domain errors to a status code and a client safe body.
// Anything unrecognised becomes a 500 without the internal message.
func errorDetail(err error) (int, *ErrorDetail) {
	var fields delivery.ValidationErrors
	switch {
	case errors.As(err, &fields):
		return http.StatusUnprocessableEntity, &ErrorDetail{
			Code:    "validation_error",
			Message: delivery.ErrValidationFailed.Error(),
			Details: fields,
		}
	case errors.Is(err, delivery.ErrValidationFailed):
		return http.StatusUnprocessableEntity, &ErrorDetail{Code: "validation_error", Message: err.Error()}
	case errors.Is(err, ErrMalformedRequest),
		errors.Is(err, webhook.ErrInvalidPayload),
		errors.Is(err, inbox.ErrRecipientRequired):
		return http.StatusBadRequest, &ErrorDetail{Code: "bad_request", Message: err.Error()}
	case errors.Is(err, webhook.ErrInvalidSignature):
		return http.StatusUnauthorized, &ErrorDetail{Code: "invalid_signature", Message: webhook.ErrInvalidSignature.Error()}
	case errors.Is(err, delivery.ErrNotFound), errors.Is(err, inbox.ErrItemNotFound):
		return http.StatusNotFound, &ErrorDetail{Code: "not_found", Message: err.Error()}
	case errors.Is(err, delivery.ErrDuplicateRequest):
		return http.StatusConflict, &ErrorDetail{Code: "duplicate_request", Message: err.Error()}
	case errors.Is(err, delivery.ErrVersionConflict):
		return http.StatusConflict, &ErrorDetail{Code: "conflict", Message: err.Error()}
	case errors.Is(err, delivery.ErrRecipientUnknown):
		return http.StatusUnprocessableEntity, &ErrorDetail{Code: "recipient_unknown", Message: err.Error()}
	case errors.Is(err, delivery.ErrUnsupportedEvent):
		return http.StatusUnprocessableEntity, &ErrorDetail{Code: "unsupported_event", Message: err.Error()}
	case errors.Is(err, inbox.ErrHubClosed):
		return http.StatusServiceUnavailable, &ErrorDetail{Code: "unavailable", Message: http.StatusText(http.StatusServiceUnavailable)}
	}
	return http.StatusInternalServerError, &ErrorDetail{Code: "internal_error", Message: http.StatusText(http.StatusInternalServerError)}
}

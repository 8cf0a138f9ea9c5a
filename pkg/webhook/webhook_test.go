package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/webhook"
)

type pushPayload struct {
	Token string `json:"token"`
	Title string `json:"title"`
}

func TestSenderSendSuccess(t *testing.T) {
	t.Parallel()

	var got pushPayload
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"gw-42"}`))
	}))
	t.Cleanup(srv.Close)

	resp, err := webhook.NewSender().Send(t.Context(), srv.URL, pushPayload{Token: "device-1", Title: "Hi"},
		webhook.WithHeader("X-Channel", "push"),
		webhook.WithDeliveryID("delivery-1"),
	)
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "delivery-1", resp.DeliveryID)
	assert.JSONEq(t, `{"id":"gw-42"}`, string(resp.Body))
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, pushPayload{Token: "device-1", Title: "Hi"}, got)
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "notifykit-webhook/1.0", headers.Get("User-Agent"))
	assert.Equal(t, "push", headers.Get("X-Channel"))
	assert.Equal(t, "delivery-1", headers.Get(webhook.HeaderID))
}

func TestSenderSendSignsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sig, err := webhook.ExtractSignatureHeaders(r.Header)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.NoError(t, webhook.VerifySignature("push-secret", body, sig, time.Minute))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	resp, err := webhook.NewSender().Send(t.Context(), srv.URL, map[string]string{"a": "b"}, webhook.WithSignature("push-secret"))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.DeliveryID)
}

func TestSenderSendRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ids := make(chan string, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids <- r.Header.Get(webhook.HeaderID)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	resp, err := webhook.NewSender().Send(t.Context(), srv.URL, map[string]int{"n": 1},
		webhook.WithMaxRetries(3),
		webhook.WithBackoff(webhook.FixedBackoff{Interval: time.Millisecond}),
	)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, int32(3), calls.Load())

	first := <-ids
	assert.Equal(t, first, <-ids)
	assert.Equal(t, first, <-ids)
}

func TestSenderSendClassifiesStatusCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
		{http.StatusGone, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooEarly, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				http.Error(w, "nope", tt.status)
			}))
			t.Cleanup(srv.Close)

			resp, err := webhook.NewSender().Send(t.Context(), srv.URL, map[string]int{"n": 1},
				webhook.WithMaxRetries(1),
				webhook.WithBackoff(webhook.FixedBackoff{Interval: time.Millisecond}),
			)
			require.Error(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.permanent, webhook.IsPermanent(err))
			if tt.permanent {
				assert.ErrorIs(t, err, webhook.ErrPermanentFailure)
				assert.Equal(t, int32(1), calls.Load())
			} else {
				assert.ErrorIs(t, err, webhook.ErrWebhookDeliveryFailed)
				assert.Equal(t, int32(2), calls.Load())
			}
		})
	}
}

func TestSenderSendTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	_, err := webhook.NewSender().Send(t.Context(), srv.URL, map[string]int{"n": 1},
		webhook.WithNoRetry(),
		webhook.WithTimeout(20*time.Millisecond),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, webhook.ErrTimeout)
	assert.False(t, webhook.IsPermanent(err))
}

func TestSenderSendStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(t.Context())
	hook := func(webhook.DeliveryResult) { cancel() }

	_, err := webhook.NewSender().Send(ctx, srv.URL, map[string]int{"n": 1},
		webhook.WithMaxRetries(5),
		webhook.WithBackoff(webhook.FixedBackoff{Interval: time.Hour}),
		webhook.WithOnDelivery(hook),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSenderSendValidation(t *testing.T) {
	t.Parallel()

	sender := webhook.NewSender()
	tests := []struct {
		name    string
		url     string
		data    any
		wantErr error
	}{
		{"empty url", "", map[string]int{"n": 1}, webhook.ErrInvalidURL},
		{"bad scheme", "ftp://example.com/hook", map[string]int{"n": 1}, webhook.ErrInvalidURL},
		{"no host", "https:///hook", map[string]int{"n": 1}, webhook.ErrInvalidURL},
		{"nil payload", "https://example.com/hook", nil, webhook.ErrInvalidPayload},
		{"unmarshalable payload", "https://example.com/hook", func() {}, webhook.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := sender.Send(t.Context(), tt.url, tt.data)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, webhook.IsPermanent(err))
		})
	}
}

func TestSenderSendCircuitBreaker(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	cb := webhook.NewCircuitBreaker(2, 1, time.Hour)
	sender := webhook.NewSender()
	for range 2 {
		_, err := sender.Send(t.Context(), srv.URL, map[string]int{"n": 1}, webhook.WithNoRetry(), webhook.WithCircuitBreaker(cb))
		require.Error(t, err)
	}

	_, err := sender.Send(t.Context(), srv.URL, map[string]int{"n": 1}, webhook.WithNoRetry(), webhook.WithCircuitBreaker(cb))
	assert.True(t, webhook.IsCircuitOpen(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSenderDeliveryHookSeesEveryAttempt(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	var results []webhook.DeliveryResult
	_, err := webhook.NewSender().Send(t.Context(), srv.URL, map[string]int{"n": 1},
		webhook.WithMaxRetries(2),
		webhook.WithBackoff(webhook.FixedBackoff{Interval: time.Millisecond}),
		webhook.WithOnDelivery(func(r webhook.DeliveryResult) { results = append(results, r) }),
	)
	require.Error(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i+1, r.Attempt)
		assert.Equal(t, http.StatusTooManyRequests, r.StatusCode)
		assert.False(t, r.Success)
		assert.Error(t, r.Error)
	}
}

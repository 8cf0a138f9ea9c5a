package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	userAgent       = "notifykit-webhook/1.0"
	maxResponseBody = 64 << 10
)

// Sender posts JSON payloads to HTTP endpoints with optional signing,
// retries and circuit breaking. Use NewSender to create instances.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with a pooled HTTP client.
func NewSender() *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: 30 * time.Second, // upper bound; WithTimeout narrows it per request
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// NewSenderWithClient creates a sender on top of a custom HTTP client.
func NewSenderWithClient(client *http.Client) *Sender {
	if client == nil {
		return NewSender()
	}
	return &Sender{client: client}
}

// Response describes the final delivery attempt.
type Response struct {
	StatusCode int
	// DeliveryID is the X-Webhook-ID sent with the request. It is stable
	// across retries of the same Send call.
	DeliveryID string
	Body       []byte
	Attempts   int
}

// Send marshals data to JSON and POSTs it to endpoint.
//
// Failures are wrapped with ErrPermanentFailure for 4xx responses other than
// 408, 425 and 429, and with ErrWebhookDeliveryFailed once retries are used up.
// Use IsPermanent to tell them apart.
//
//	resp, err := sender.Send(ctx, endpoint, payload,
//		webhook.WithSignature(secret),
//		webhook.WithNoRetry(),
//	)
func (s *Sender) Send(ctx context.Context, endpoint string, data any, opts ...SendOption) (Response, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Response{}, errors.Join(ErrInvalidPayload, err)
	}

	if err := validateInputs(endpoint, payload); err != nil {
		return Response{}, err
	}

	options := defaultSendOptions()
	for _, opt := range opts {
		opt(options)
	}

	client := s.client
	if options.httpClient != nil {
		client = options.httpClient
	}

	if options.circuitBreaker != nil && !options.circuitBreaker.Allow() {
		return Response{}, ErrCircuitOpen
	}

	deliveryID := options.deliveryID
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}

	var (
		last    Response
		lastErr error
	)
	for attempt := 0; attempt <= options.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return last, ctx.Err()
			case <-time.After(options.backoffStrategy.NextInterval(attempt)):
			}
		}

		result, resp, err := s.attemptDelivery(ctx, client, endpoint, deliveryID, payload, options)
		resp.Attempts = attempt + 1
		last = resp

		if options.onDelivery != nil {
			result.Attempt = attempt + 1
			options.onDelivery(result)
		}

		if options.circuitBreaker != nil {
			if err == nil {
				options.circuitBreaker.RecordSuccess()
			} else {
				options.circuitBreaker.RecordFailure()
			}
		}

		if err == nil {
			return resp, nil
		}
		lastErr = err

		if isPermanentStatus(resp.StatusCode) {
			return resp, fmt.Errorf("%w: %w", ErrPermanentFailure, err)
		}
		if ctx.Err() != nil {
			return resp, fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	}

	return last, fmt.Errorf("%w after %d attempts: %w", ErrWebhookDeliveryFailed, options.maxRetries+1, lastErr)
}

func validateInputs(endpoint string, payload []byte) error {
	if endpoint == "" {
		return fmt.Errorf("%w: URL is required", ErrInvalidURL)
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: only http and https schemes are supported", ErrInvalidURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}

	// json.Marshal(nil) yields "null", which no receiver can act on
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}

	return nil
}

func (s *Sender) attemptDelivery(ctx context.Context, client *http.Client, endpoint, deliveryID string, payload []byte, options *sendOptions) (DeliveryResult, Response, error) {
	start := time.Now()
	result := DeliveryResult{}
	resp := Response{DeliveryID: deliveryID}

	fail := func(err error) (DeliveryResult, Response, error) {
		result.Duration = time.Since(start)
		result.Error = err
		return result, resp, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, options.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fail(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range options.headers {
		req.Header.Set(k, v)
	}

	if options.signatureSecret != "" {
		sig, err := SignPayload(options.signatureSecret, payload)
		if err != nil {
			return fail(fmt.Errorf("failed to sign payload: %w", err))
		}
		sig.ID = deliveryID
		for k, v := range sig.Headers() {
			req.Header.Set(k, v)
		}
	} else {
		req.Header.Set(HeaderID, deliveryID)
	}

	httpResp, err := client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return fail(fmt.Errorf("%w: %w", ErrTimeout, err))
		}
		return fail(fmt.Errorf("%w: %w", ErrTemporaryFailure, err))
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	result.Duration = time.Since(start)
	result.StatusCode = httpResp.StatusCode
	result.Success = httpResp.StatusCode >= 200 && httpResp.StatusCode < 300
	resp.StatusCode = httpResp.StatusCode
	resp.Body = body

	if !result.Success {
		result.Error = statusError(httpResp.StatusCode, body)
		return result, resp, result.Error
	}

	return result, resp, nil
}

// statusError keeps a short single-line excerpt of the body for logs.
func statusError(code int, body []byte) error {
	msg := fmt.Sprintf("endpoint returned status %d", code)
	if len(body) > 0 {
		excerpt := strings.ReplaceAll(string(body), "\n", " ")
		if len(excerpt) > 200 {
			excerpt = excerpt[:200] + "..."
		}
		msg += ": " + excerpt
	}
	return errors.New(msg)
}

// isPermanentStatus reports client errors that will not change on retry.
// 408, 425 and 429 describe receiver-side timing and stay retryable.
func isPermanentStatus(code int) bool {
	if code < 400 || code >= 500 {
		return false
	}
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return true
}

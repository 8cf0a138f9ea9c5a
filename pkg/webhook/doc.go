// Package webhook posts signed JSON payloads to HTTP endpoints and verifies
// signatures on inbound callbacks.
//
// The push channel uses Sender to reach the push gateway, and the HTTP API
// uses VerifySignature to authenticate provider callbacks (delivered,
// bounced, opened and so on).
//
// # Sending
//
//	sender := webhook.NewSender()
//	resp, err := sender.Send(ctx, gatewayURL, payload,
//		webhook.WithSignature(secret),
//		webhook.WithTimeout(10*time.Second),
//		webhook.WithNoRetry(),
//		webhook.WithCircuitBreaker(cb),
//	)
//	if webhook.IsPermanent(err) {
//		// do not try again
//	}
//
// Send retries transient failures itself unless WithNoRetry is given.
// Callers that schedule retries on their own should disable it.
//
// 4xx responses are permanent, except 408, 425 and 429. Network errors,
// timeouts and 5xx responses are temporary.
//
// # Signing
//
// WithSignature adds three headers:
//
//	X-Webhook-Signature: hex(HMAC-SHA256(secret, "<unix ts>.<body>"))
//	X-Webhook-Timestamp: unix seconds
//	X-Webhook-ID:        delivery id, stable across retries
//
// Receivers verify with:
//
//	sig, err := webhook.ExtractSignatureHeaders(r.Header)
//	err = webhook.VerifySignature(secret, body, sig, 5*time.Minute)
//
// # Circuit breaker
//
// A CircuitBreaker opens after a run of consecutive failures and lets trial
// requests through once the recovery timeout passes. Share one breaker per
// endpoint.
package webhook

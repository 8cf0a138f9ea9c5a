// Package api exposes the delivery engine over HTTP.
//
// Routes are mounted on a chi router:
//
//	POST   /v1/notifications                         enqueue, 202 with the new id
//	GET    /v1/notifications/{id}                    status report with event history
//	DELETE /v1/notifications/{id}                    request cancellation
//	POST   /v1/webhooks/{channel}                    signed channel-side events
//	PUT    /v1/recipients/{id}                       upsert contact details
//	PUT    /v1/recipients/{id}/preferences/{ch}/{cat}
//	PUT    /v1/recipients/{id}/opt-outs/{ch}
//	GET    /v1/recipients/{id}/inbox                 in-app items, newest first
//	POST   /v1/recipients/{id}/inbox/read            mark everything read
//	POST   /v1/recipients/{id}/inbox/{itemID}/read
//	GET    /v1/recipients/{id}/inbox/stream          server-sent events
//	GET    /health/live, /health/ready
//
// Recipient, webhook and inbox routes are only mounted when the matching
// dependency is configured (WithContacts, WithPreferences, WithInbox and a
// non-empty WEBHOOK_SECRET).
//
// Every JSON response uses the same envelope:
//
//	{"data": ..., "meta": {...}, "error": {"code": "...", "message": "...", "details": {...}}}
//
// Usage:
//
//	srv, err := api.New(cfg, engine,
//		api.WithInbox(box),
//		api.WithPreferences(store),
//		api.WithLogger(log),
//	)
//	if err != nil {
//		return err
//	}
//	return httpServer.Run(ctx, srv.Handler())
package api

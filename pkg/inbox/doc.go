// Package inbox holds in-app notifications.
//
// Deliver stores an item and pushes it to the recipient's live subscribers
// (for example an SSE stream). Readers list items newest first, count unread
// ones and mark them read. Expired items are hidden but kept.
//
//	box := inbox.New(inbox.NewMemoryStorage(), inbox.WithLogger(log))
//	sub, _ := box.Subscribe(ctx, "user-1")
//	for item := range sub.Items() {
//		// render item
//	}
package inbox

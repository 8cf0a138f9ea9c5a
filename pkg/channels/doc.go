// Package channels implements delivery.Adapter for every supported channel:
//
//   - Email sends through pkg/email (Postmark, SMTP or the dev file sender).
//   - SMS publishes through Amazon SNS.
//   - Push posts signed JSON to a push gateway through pkg/webhook.
//   - InApp stores items in pkg/inbox and streams them to live subscribers.
//
// Adapters make exactly one transport call per Send and classify failures as
// retryable or permanent. Context cancellation and deadlines are always
// retryable.
package channels

// Package email sends pre-rendered messages through Postmark, an SMTP relay
// (gomail) or, in development, the local filesystem.
//
// Every Sender returns the provider message id, which the delivery engine
// stores as the notification's external reference so that bounce and open
// webhooks can be matched back to it:
//
//	sender, err := email.NewSender(cfg)
//	if err != nil {
//	    return err
//	}
//	id, err := sender.SendEmail(ctx, email.Message{
//	    To:       "user@example.com",
//	    Subject:  "Your receipt",
//	    HTMLBody: html,
//	    Tag:      "transactional",
//	})
//
// Failures wrap ErrFailedToSendEmail. IsPermanent separates rejections that
// will never succeed (invalid or inactive recipients, 5xx SMTP replies) from
// transient ones worth retrying.
package email

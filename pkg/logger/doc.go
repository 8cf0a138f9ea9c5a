// Package logger builds *slog.Logger instances for the delivery service and
// provides attribute helpers so every component logs notification ids,
// channels, reasons and attempts under the same keys.
//
// New selects a text or JSON handler, attaches static attributes and wraps the
// handler with LogHandlerDecorator, which runs registered ContextExtractor
// callbacks on every record (used to inject request ids).
//
//	log := logger.New(
//	    logger.WithEnvironment(cfg.Env, "notifyd"),
//	    logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	log.LogAttrs(ctx, slog.LevelInfo, "notification sent",
//	    logger.NotificationID(n.ID),
//	    logger.Channel(n.Channel),
//	    logger.Attempt(n.AttemptCount),
//	)
//
// Error and the id helpers return an empty slog.Attr for nil input, which
// slog drops, so callers can pass them unconditionally.
package logger

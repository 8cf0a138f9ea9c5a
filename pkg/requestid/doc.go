// Package requestid tags every HTTP request with an id.
//
// Middleware accepts X-Request-ID (or X-Correlation-ID) when it is made of
// letters, digits and "_.:-" and is at most 128 bytes long; otherwise it
// generates a UUIDv7. The id is echoed in the X-Request-ID response header
// and stored in the request context. Pass LoggerExtractor to logger.New to
// add it to every log record.
package requestid

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/httpserver"
	"github.com/dmitrymomot/notifykit/pkg/inbox"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/ratelimiter"
	"github.com/dmitrymomot/notifykit/pkg/requestid"
)

// Notifications is the part of delivery.Engine the API drives.
type Notifications interface {
	Enqueue(ctx context.Context, req delivery.EnqueueRequest) (uuid.UUID, error)
	Status(ctx context.Context, id uuid.UUID) (*delivery.StatusReport, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	ReportExternalEvent(ctx context.Context, ch delivery.Channel, externalRef string, kind delivery.EventKind, detail map[string]any) error
}

// PreferenceWriter stores recipient settings.
type PreferenceWriter interface {
	SetPreference(ctx context.Context, p delivery.Preference) error
	SetOptOut(ctx context.Context, o delivery.OptOut) error
}

// ContactWriter stores recipient contact details.
type ContactWriter interface {
	Upsert(ctx context.Context, c delivery.Contact) error
}

// API holds the HTTP handlers.
type API struct {
	cfg           Config
	notifications Notifications
	inbox         *inbox.Inbox
	preferences   PreferenceWriter
	contacts      ContactWriter
	checks        []httpserver.Check
	ingress       *ratelimiter.Bucket
	logger        *slog.Logger
	now           func() time.Time
}

type Option func(*API)

func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithInbox mounts the inbox routes.
func WithInbox(box *inbox.Inbox) Option {
	return func(a *API) {
		a.inbox = box
	}
}

// WithPreferences mounts the preference and opt-out routes.
func WithPreferences(p PreferenceWriter) Option {
	return func(a *API) {
		a.preferences = p
	}
}

// WithContacts mounts the contact upsert route.
func WithContacts(c ContactWriter) Option {
	return func(a *API) {
		a.contacts = c
	}
}

// WithHealthChecks adds readiness checks to /health/ready.
func WithHealthChecks(checks ...httpserver.Check) Option {
	return func(a *API) {
		a.checks = append(a.checks, checks...)
	}
}

// WithIngressLimiter throttles POST /v1/notifications per client address.
func WithIngressLimiter(b *ratelimiter.Bucket) Option {
	return func(a *API) {
		a.ingress = b
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *API) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates the API. Zero config values fall back to DefaultConfig.
func New(cfg Config, notifications Notifications, opts ...Option) (*API, error) {
	if notifications == nil {
		return nil, ErrNotificationsRequired
	}

	def := DefaultConfig()
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.StreamHeartbeat <= 0 {
		cfg.StreamHeartbeat = def.StreamHeartbeat
	}
	if cfg.ReadinessTimeout <= 0 {
		cfg.ReadinessTimeout = def.ReadinessTimeout
	}

	a := &API{
		cfg:           cfg,
		notifications: notifications,
		logger:        logger.Discard(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Handler builds the router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestid.Middleware)
	r.Use(middleware.RealIP)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)
	if len(a.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: a.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", requestid.Header},
			ExposedHeaders: []string{"Location", requestid.Header},
			MaxAge:         300,
		}))
	}

	r.Get("/health/live", httpserver.LivenessHandler())
	r.Get("/health/ready", httpserver.ReadinessHandler(a.logger, a.cfg.ReadinessTimeout, a.checks...))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/notifications", func(r chi.Router) {
			r.Use(a.timeout)
			r.With(a.throttle).Post("/", a.createNotification)
			r.Get("/{id}", a.getNotification)
			r.Delete("/{id}", a.cancelNotification)
		})

		if a.cfg.WebhookSecret != "" {
			r.With(a.timeout).Post("/webhooks/{channel}", a.receiveChannelEvent)
		}

		r.Route("/recipients/{recipientID}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(a.timeout)
				if a.contacts != nil {
					r.Put("/", a.putContact)
				}
				if a.preferences != nil {
					r.Put("/preferences/{channel}/{category}", a.putPreference)
					r.Put("/opt-outs/{channel}", a.putOptOut)
				}
				if a.inbox != nil {
					r.Get("/inbox", a.listInbox)
					r.Post("/inbox/read", a.markAllRead)
					r.Post("/inbox/{itemID}/read", a.markRead)
				}
			})

			// long lived, so no request timeout
			if a.inbox != nil {
				r.Get("/inbox/stream", a.streamInbox)
			}
		})
	})

	return r
}

func (a *API) timeout(next http.Handler) http.Handler {
	if a.cfg.RequestTimeout <= 0 {
		return next
	}
	return middleware.Timeout(a.cfg.RequestTimeout)(next)
}

func (a *API) throttle(next http.Handler) http.Handler {
	if a.ingress == nil {
		return next
	}
	return ratelimiter.Middleware(a.ingress, ratelimiter.ByRemoteIP, func(w http.ResponseWriter, r *http.Request) {
		a.logger.LogAttrs(r.Context(), slog.LevelWarn, "enqueue throttled",
			slog.String("remote_addr", r.RemoteAddr))
		writeJSON(w, http.StatusTooManyRequests, Envelope{Error: &ErrorDetail{
			Code:    "too_many_requests",
			Message: http.StatusText(http.StatusTooManyRequests),
		}})
	})(next)
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		a.logger.LogAttrs(r.Context(), slog.LevelInfo, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			logger.Duration(time.Since(start)),
			slog.String("remote_addr", r.RemoteAddr))
	})
}

// Package httpserver runs the service's HTTP listener and exposes health
// handlers.
//
// Run binds the listener first, so a taken port is reported immediately, and
// shuts down gracefully when its context is cancelled:
//
//	srv := httpserver.New(cfg, httpserver.WithLogger(log))
//	g.Go(func() error { return srv.Run(ctx, router) })
//
// LivenessHandler always answers 200. ReadinessHandler runs the given checks
// and answers 503 with a per-check report when any of them fails.
package httpserver

package infra

import (
	"context"
	"net/http"
	"time"
)

// HTTPServer wraps http.Server with graceful shutdown. Drain hooks run once
// the listener has stopped accepting, so background work tied to request
// handling (in-flight generation jobs, flushes) settles before the process
// exits and its database pool closes.
type HTTPServer struct {
	server *http.Server
	drains []func()
}

// NewHTTPServer builds the server from config; drains run during Shutdown,
// in the order given.
func NewHTTPServer(cfg *Config, handler http.Handler, drains ...func()) *HTTPServer {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}

	return &HTTPServer{server: srv, drains: drains}
}

// Start runs the HTTP server in the current goroutine.
func (s *HTTPServer) Start() error {
	if s.server == nil {
		return nil
	}
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections, waits for in-flight requests within
// ctx, then runs the drain hooks.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	for _, drain := range s.drains {
		drain()
	}
	return err
}

// Package api provides the HTTP surface of the chatbot: the ticket
// platform webhook, a manual send endpoint, script and conversation
// listings, and a health check.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cmmodulados/verabot/internal/flow"
	"github.com/cmmodulados/verabot/internal/messaging"
	"github.com/cmmodulados/verabot/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	AllowedContacts []int64
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAllowedContacts restricts webhook processing to the given contact
// ids. An empty list allows every contact.
func WithAllowedContacts(ids []int64) Option {
	return func(o *Opts) { o.AllowedContacts = ids }
}

// Server wires the engine, store and notifier behind HTTP handlers.
type Server struct {
	engine     *flow.Engine
	st         store.Store
	notifier   messaging.Notifier
	def        flow.Definition
	addr       string
	allowed    map[int64]struct{}
	httpServer *http.Server
}

// NewServer creates the API server.
func NewServer(engine *flow.Engine, st store.Store, notifier messaging.Notifier, def flow.Definition, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	var allowed map[int64]struct{}
	if len(cfg.AllowedContacts) > 0 {
		allowed = make(map[int64]struct{}, len(cfg.AllowedContacts))
		for _, id := range cfg.AllowedContacts {
			allowed[id] = struct{}{}
		}
	}

	return &Server{
		engine:   engine,
		st:       st,
		notifier: notifier,
		def:      def,
		addr:     cfg.Addr,
		allowed:  allowed,
	}
}

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/send", s.sendHandler)
	mux.HandleFunc("/messages", s.messagesHandler)
	mux.HandleFunc("/conversations", s.conversationsHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// contactAllowed applies the optional allow-list gate. This sits outside
// the engine so a staging deploy can pin the bot to test contacts.
func (s *Server) contactAllowed(contactID int64) bool {
	if s.allowed == nil {
		return true
	}
	_, ok := s.allowed[contactID]
	return ok
}

// writeJSONResponse encodes body as JSON under the given status. All
// response types here are plain structs, so an encoding failure means a
// programming error; it is logged and answered with a canned 500.
func writeJSONResponse(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("Server response encoding failed", "error", err)
		status = http.StatusInternalServerError
		data = []byte(`{"status":"error","message":"Internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Error("Server response write failed", "error", err)
	}
}

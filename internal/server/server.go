package server

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/bobmcallan/yosoku/internal/app"
)

// Server wraps the HTTP server and application reference.
type Server struct {
	app       *app.App
	server    *http.Server
	logger    arbor.ILogger
	templates *template.Template
	validate  *validator.Validate
	secret    []byte
	now       func() time.Time
}

// NewServer creates the dashboard HTTP server.
func NewServer(a *app.App) *Server {
	s := &Server{
		app:       a,
		logger:    a.Logger,
		templates: parseTemplates(),
		validate:  newValidator(),
		secret:    resolveSessionSecret(a.Config, a.Logger),
		now:       time.Now,
	}

	host := a.Config.Server.Host
	port := a.Config.Server.Port

	// Model calls on slow keys can take a while; the write timeout has
	// to cover a full pipeline run.
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      s.routes(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server (blocking).
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.server.Addr).
		Msg("Starting dashboard server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bobmcallan/yosoku/internal/common"
)

// routes builds the router. Everything except login and the system
// endpoints sits behind the session gate.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(recoveryMiddleware(s.logger))
	r.Use(middleware.RealIP)
	r.Use(correlationIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(sessionMiddleware(s.app.Config, s.secret))

	r.HandleFunc("/api/health", s.handleHealth)
	r.HandleFunc("/api/version", s.handleVersion)

	r.Get("/login", s.handleLoginPage)
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/", s.handleDashboard)
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/chart.png", s.handleChart)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

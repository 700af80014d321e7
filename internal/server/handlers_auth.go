package server

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"golang.org/x/crypto/bcrypt"

	"github.com/bobmcallan/yosoku/internal/common"
)

var errEmptySessionKey = errors.New("session signing key is empty")

// resolveSessionSecret returns the configured signing key. An empty or
// placeholder key is replaced with a random one for this process, so
// sessions do not survive a restart.
func resolveSessionSecret(config *common.Config, logger arbor.ILogger) []byte {
	if config.Auth.HasUsableSessionSecret() {
		return []byte(config.Auth.SessionSecret)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("failed to generate session key: %v", err))
	}

	if config.Auth.Enabled() {
		event := logger.Warn()
		if config.IsProduction() {
			event = logger.Error()
		}
		event.Msg("auth.session_secret is empty or the shipped placeholder - using a random key, sessions end on restart")
	}
	return key
}

// signSessionToken issues the session cookie value. There is no exp claim:
// a session lasts until logout or until the secret changes.
func signSessionToken(sessionID string, secret []byte, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errEmptySessionKey
	}
	claims := jwt.MapClaims{
		"sid":  sessionID,
		"auth": true,
		"iss":  "yosoku",
		"iat":  now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// validateJWT parses and validates a JWT token, returning the token and claims.
func validateJWT(tokenString string, secret []byte) (*jwt.Token, jwt.MapClaims, error) {
	if len(secret) == 0 {
		return nil, nil, errEmptySessionKey
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return token, claims, nil
}

// parseSessionToken returns the session id from a valid cookie value.
func parseSessionToken(tokenString string, secret []byte) (string, bool) {
	_, claims, err := validateJWT(tokenString, secret)
	if err != nil {
		return "", false
	}
	sid, _ := claims["sid"].(string)
	auth, _ := claims["auth"].(bool)
	if sid == "" || !auth {
		return "", false
	}
	return sid, true
}

// checkPassword compares the submitted secret with the configured one.
// A bcrypt hash wins over a plaintext password when both are set.
func checkPassword(config *common.AuthConfig, submitted string) bool {
	if config.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(config.PasswordHash), []byte(submitted)) == nil
	}
	if config.Password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(config.Password), []byte(submitted)) == 1
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if common.IsAuthenticated(r.Context()) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.render(w, http.StatusOK, "login.html", s.newPage(r, "Sign in"))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	authCfg := &s.app.Config.Auth
	if !authCfg.Enabled() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := r.ParseForm(); err != nil {
		page := s.newPage(r, "Sign in")
		page.Error = "Invalid login request."
		s.render(w, http.StatusBadRequest, "login.html", page)
		return
	}

	if !checkPassword(authCfg, r.PostFormValue("password")) {
		s.logger.Warn().Str("remote", r.RemoteAddr).Msg("Failed login attempt")
		page := s.newPage(r, "Sign in")
		page.Error = "Incorrect password."
		s.render(w, http.StatusUnauthorized, "login.html", page)
		return
	}

	sessionID := uuid.New().String()
	token, err := signSessionToken(sessionID, s.secret, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to sign session token")
		page := s.newPage(r, "Sign in")
		page.Error = "Could not start a session. Try again."
		s.render(w, http.StatusInternalServerError, "login.html", page)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.app.Config.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})

	s.logger.Info().Str("session_id", sessionID[:8]).Msg("Session started")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.app.Config.Auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.app.Config.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})

	if session := common.SessionFromContext(r.Context()); session != nil && session.ID != "" {
		s.logger.Info().Str("session_id", session.ID[:min(8, len(session.ID))]).Msg("Session ended")
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

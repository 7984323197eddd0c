// internal/handlers/server.go
package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jason-s-yu/courier/internal/auth"
	"github.com/jason-s-yu/courier/internal/middleware"
	"github.com/jason-s-yu/courier/internal/notify"
	"github.com/jason-s-yu/courier/internal/session"
	"github.com/jason-s-yu/courier/internal/workers"
	"github.com/sirupsen/logrus"
)

const (
	authCookie = "auth_token"
	// issuerHeader carries the secret shared with the chat front-end that is
	// allowed to mint sessions.
	issuerHeader = "X-Session-Secret"
)

// Server exposes the session manager over HTTP and websocket.
type Server struct {
	mgr          *session.Manager
	pool         *workers.Pool
	hub          *notify.Hub
	issuerSecret []byte
	log          logrus.FieldLogger
}

// NewServer wires the HTTP surface. POST /session only answers callers that
// present issuerSecret; with an empty secret it refuses everyone.
func NewServer(mgr *session.Manager, pool *workers.Pool, hub *notify.Hub, issuerSecret string, log logrus.FieldLogger) *Server {
	return &Server{mgr: mgr, pool: pool, hub: hub, issuerSecret: []byte(issuerSecret), log: log}
}

// Routes returns the HTTP handler with request logging applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /session", s.handleSession)
	mux.HandleFunc("POST /command", s.handleCommand)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return middleware.LogMiddleware(s.log)(mux)
}

type sessionRequest struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Name   string `json:"name" validate:"max=64"`
}

// handleSession issues a session token for a chat-platform identity and sets
// it as the auth cookie. Only the trusted issuer may call it.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.trustedIssuer(r) {
		s.log.WithField("remote", r.RemoteAddr).Warn("rejected session request without issuer secret")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid session payload", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, "invalid session payload", http.StatusBadRequest)
		return
	}
	token, err := auth.CreateJWT(auth.Identity{UserID: req.UserID, Name: req.Name})
	if err != nil {
		s.log.WithError(err).Error("failed to create session token")
		http.Error(w, "could not create session", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user_id": req.UserID})
}

func (s *Server) trustedIssuer(r *http.Request) bool {
	if len(s.issuerSecret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(r.Header.Get(issuerHeader)), s.issuerSecret) == 1
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id, err := identityFromRequest(r)
	if err != nil {
		body, status := classify(err)
		writeJSON(w, status, Response{Error: &body})
		return
	}
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: &ErrorBody{Code: "bad_command", Message: "invalid JSON body"}})
		return
	}
	resp, status := execute(r.Context(), s.pool, s.mgr, id, cmd)
	writeJSON(w, status, resp)
}

// identityFromRequest reads the session token from the auth cookie or a
// bearer Authorization header.
func identityFromRequest(r *http.Request) (auth.Identity, error) {
	token := extractCookieToken(r.Header.Get("Cookie"), authCookie)
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return auth.AuthenticateJWT(token)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

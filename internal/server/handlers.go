// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, account registration and login, and the built-in test page.
package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/Tyrowin/roomrelay/internal/credential"
)

const maxAuthBodySize = 1 << 20

type healthResponse struct {
	Message string `json:"message"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Message string             `json:"message"`
	User    credential.Profile `json:"user"`
	Token   string             `json:"token"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// WebSocketHandler handles WebSocket upgrade requests. It validates the
// method and the bearer token, upgrades the connection, and registers a
// new Client with the hub, which starts the client's read/write pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr, identity)
	if !s.hub.Register(client) {
		log.Printf("Rejected connection from %s: hub is shutting down", r.RemoteAddr)
	}
}

// authenticate resolves the caller's identity from the request token. It
// writes a 401 and returns false when a required or supplied token is
// not valid.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	if token == "" {
		if s.config.RequireAuth {
			http.Error(w, "Authentication required.", http.StatusUnauthorized)
			return "", false
		}
		return "", true
	}

	if s.auth == nil {
		http.Error(w, "Authentication is not configured.", http.StatusUnauthorized)
		return "", false
	}

	claims, err := s.auth.Authenticate(token)
	if err != nil {
		log.Printf("Rejected WebSocket token from %s: %v", r.RemoteAddr, err)
		http.Error(w, "Invalid or expired token.", http.StatusUnauthorized)
		return "", false
	}
	return claims.Username, true
}

// bearerToken reads the token from the "token" query parameter, which
// browsers can set on a WebSocket URL, or from an Authorization header.
func bearerToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return ""
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It answers GET / only; the mux routes every unmatched path here.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed. Only GET requests are accepted.", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Message: "Real-time chat API is running"})
}

// RegisterHandler creates an account and answers with the new profile and a token.
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if !s.acceptAuthRequest(w, r) {
		return
	}

	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
		return
	}

	user, token, err := s.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	switch {
	case errors.Is(err, credential.ErrMissingFields):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "All fields are required"})
		return
	case errors.Is(err, credential.ErrAlreadyExists):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Username or Email already taken"})
		return
	case err != nil:
		log.Printf("Registration failed for %q: %v", req.Username, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "Server error"})
		return
	}

	log.Printf("Registered user %s", user.Username)
	writeJSON(w, http.StatusCreated, authResponse{
		Message: "User created successfully",
		User:    user.Profile(),
		Token:   token,
	})
}

// LoginHandler checks credentials and answers with the profile and a fresh token.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if !s.acceptAuthRequest(w, r) {
		return
	}

	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
		return
	}

	user, token, err := s.auth.Login(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, credential.ErrInvalidCredentials):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Invalid credentials"})
		return
	case err != nil:
		log.Printf("Login failed for %q: %v", req.Username, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "Server error"})
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		Message: "Login successful",
		User:    user.Profile(),
		Token:   token,
	})
}

func (s *Server) acceptAuthRequest(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed. Only POST requests are accepted.", http.StatusMethodNotAllowed)
		return false
	}
	if s.auth == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Message: "Authentication is not configured"})
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxAuthBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing JSON response: %v", err)
	}
}

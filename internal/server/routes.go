package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes:
// health check, account endpoints, the WebSocket endpoint and the test page.
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/test", s.TestPageHandler)
	mux.HandleFunc("/api/auth/register", s.RegisterHandler)
	mux.HandleFunc("/api/auth/login", s.LoginHandler)
	return mux
}

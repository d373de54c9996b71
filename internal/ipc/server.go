package ipc

import (
	"context"
	"net/http"
)

// Server wraps an HTTP server with the dialogue API routes.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a Server that binds to the given address.
func NewServer(h *Handler, listenAddr string) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Session endpoints.
	mux.HandleFunc("POST /api/v1/session", h.CreateSession)
	mux.HandleFunc("GET /api/v1/session", h.ListSessions)
	mux.HandleFunc("GET /api/v1/session/{id}", h.GetSession)
	mux.HandleFunc("GET /api/v1/session/{id}/state", h.GetState)
	mux.HandleFunc("POST /api/v1/session/{id}/turn", h.Turn)
	mux.HandleFunc("POST /api/v1/session/{id}/control", h.Control)
	mux.HandleFunc("GET /api/v1/session/{id}/trace", h.ListTraces)

	// Event endpoints.
	mux.HandleFunc("GET /api/v1/session/{id}/events", h.ListEvents)
	mux.HandleFunc("GET /api/v1/session/{id}/events/stream", h.StreamEvents)

	mux.HandleFunc("GET /api/v1/session/{id}/ws", h.ServeWS)

	srv := &http.Server{
		Addr:    listenAddr,
		Handler: corsMiddleware(mux),
	}

	return &Server{
		httpServer: srv,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP connections. Blocks until the server stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

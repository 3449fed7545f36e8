// Package web provides the HTTP surface of the activity sync service.
package web

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// workerInfo is the plain-text index served at the root path.
const workerInfo = `Spotify Activity Sync

Endpoints:
- GET /trigger - Manual trigger
- GET /clear-history - Clear history data
- GET /backup - Create backup file from clear commit
- GET /api/live - Get live activity
- GET /api/history - Get listening history
`

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr string
}

// Server is the HTTP server.
type Server struct {
	router chi.Router
	server *http.Server
	log    zerolog.Logger
}

// NewServer creates the HTTP server around the given handlers.
func NewServer(cfg ServerConfig, handlers *Handlers, log zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		router: router,
		log:    log,
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware)

	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(workerInfo))
	})

	router.Get("/api/live", handlers.Live)
	router.Get("/api/history", handlers.History)
	router.Get("/trigger", handlers.Trigger)

	router.Get("/clear-history", handlers.ClearHistory)
	router.Post("/clear-history", handlers.ClearHistory)
	router.Get("/backup", handlers.Backup)
	router.Post("/backup", handlers.Backup)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // /trigger runs a full pass inline
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Run starts the server and blocks until an interrupt signal or a server
// error, then shuts down gracefully.
func (s *Server) Run() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
		s.log.Info().Msg("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// corsMiddleware mirrors the CORS surface of the original worker: open
// origin, GET/POST/OPTIONS, and the password headers.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Clear-Password, X-Backup-Password")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

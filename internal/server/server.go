// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/markb/pgcall/internal/log"
	"github.com/markb/pgcall/internal/observability"
	"github.com/markb/pgcall/internal/rpc"
)

// Config holds server configuration.
type Config struct {
	// AllowedAggregates lists the running aggregate expressions callers may request.
	AllowedAggregates []string

	// JWTSecret enables HS256 bearer token checks on /rpc routes when set.
	JWTSecret string

	// Telemetry instruments requests and function calls when set.
	Telemetry *observability.Telemetry
}

type Server struct {
	router     *chi.Mux
	rpcHandler *rpc.Handler
	jwtSecret  []byte
	telemetry  *observability.Telemetry
	httpServer *http.Server
}

func New(conn rpc.Conn, cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		rpcHandler: rpc.NewHandler(conn, cfg.AllowedAggregates),
		telemetry:  cfg.Telemetry,
	}
	s.rpcHandler.SetTelemetry(cfg.Telemetry)
	if cfg.JWTSecret != "" {
		s.jwtSecret = []byte(cfg.JWTSecret)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{log.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if s.telemetry != nil {
		s.router.Use(observability.HTTPMiddleware(s.telemetry, "pgcall"))
	}
	s.router.Use(log.RequestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		if s.jwtSecret != nil {
			r.Use(s.authMiddleware)
		}
		s.rpcHandler.Routes(r)
	})
}

func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

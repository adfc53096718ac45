// Package api exposes the vault to the browser UI as a JSON HTTP API. Every
// route except /health requires a bearer token from the identity provider.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dmitrijs2005/medvault/internal/backup"
	"github.com/dmitrijs2005/medvault/internal/config"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/session"
)

// Backups is the snapshot service behind the backup routes.
type Backups interface {
	Backup(ctx context.Context, userID string) (string, error)
	List(ctx context.Context, userID string) ([]string, error)
	Restore(ctx context.Context, userID, key string) (*backup.Snapshot, error)
}

type Server struct {
	cfg       config.HTTP
	registry  *session.Registry
	backups   Backups
	logger    logging.Logger
	jwtSecret []byte
}

// NewServer wires the routes. backups may be nil when no bucket is
// configured; the backup routes then answer 501.
func NewServer(cfg config.HTTP, l logging.Logger, registry *session.Registry, backups Backups) *Server {
	return &Server{
		cfg:       cfg,
		registry:  registry,
		backups:   backups,
		logger:    l.With("module", "http_server"),
		jwtSecret: []byte(cfg.JWTSecret),
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/session", s.openSession)
		r.Delete("/session", s.closeSession)

		r.Group(func(r chi.Router) {
			r.Use(s.withController)

			r.Get("/vault", s.vaultStatus)
			r.Delete("/vault", s.resetVault)
			r.Post("/vault/setup", s.beginSetup)
			r.Post("/vault/setup/confirm", s.confirmSetup)
			r.Post("/vault/setup/cancel", s.cancelSetup)
			r.Post("/vault/unlock", s.unlock)
			r.Post("/vault/lock", s.lock)
			r.Post("/vault/pin/change", s.requestPinChange)
			r.Post("/vault/pin/otp", s.verifyOtp)
			r.Post("/vault/pin/cancel", s.cancelPinChange)
			r.Put("/vault/pin", s.changePin)
			r.Post("/vault/backup", s.backup)
			r.Get("/vault/backups", s.listBackups)
			r.Post("/vault/restore", s.restore)

			r.Get("/records", s.listRecords)
			r.Post("/records", s.createRecord)
			r.Get("/records/{id}", s.getRecord)
			r.Put("/records/{id}", s.putRecord)
			r.Delete("/records/{id}", s.deleteRecord)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP server shutdown failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.cfg.Addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

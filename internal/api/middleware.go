package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrijs2005/medvault/internal/auth"
	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/models"
	"github.com/dmitrijs2005/medvault/internal/session"
)

type ctxKey string

const (
	identityKey   ctxKey = "identity"
	controllerKey ctxKey = "controller"
)

func identityFrom(ctx context.Context) models.Identity {
	id, _ := ctx.Value(identityKey).(models.Identity)
	return id
}

func controllerFrom(ctx context.Context) *session.Controller {
	c, _ := ctx.Value(controllerKey).(*session.Controller)
	return c
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(common.AuthorizationHeaderName)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing token")
			return
		}

		id, err := auth.ParseToken(token, s.jwtSecret)
		if err != nil {
			code := "invalid_token"
			if errors.Is(err, common.ErrTokenExpired) {
				code = "token_expired"
			}
			writeError(w, http.StatusUnauthorized, code, err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, *id)))
	})
}

// withController resolves the caller's open session.
func (s *Server) withController(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identityFrom(r.Context())
		c, ok := s.registry.Get(id.UserID)
		if !ok {
			writeError(w, http.StatusUnauthorized, "no_session", "open a session first")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), controllerKey, c)))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Info(r.Context(), "HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/hubrelay/internal/auth"
	"github.com/nerrad567/hubrelay/internal/infrastructure/logging"
)

const requestIDHeader = "X-Request-ID"

// withCorrelation puts the request id on the context so every log line for
// the request carries it. A client-supplied X-Request-ID is kept.
func (s *Server) withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = logging.NewCorrelationID()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithCorrelationID(r.Context(), id)))
	})
}

// accessLog writes one debug line per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		began := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(began).Milliseconds(),
			logging.CorrelationKey, logging.CorrelationID(r.Context()),
		)
	})
}

// recoverPanics turns a handler panic into a logged 500.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
				panic(rec)
			}
			s.logger.Error("handler panic",
				"panic", rec,
				"path", r.URL.Path,
				logging.CorrelationKey, logging.CorrelationID(r.Context()),
			)
			errInternal.write(w, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// requireToken guards the debug routes with a bearer token carrying the
// read scope. Without a configured secret it is a pass-through.
func (s *Server) requireToken(next http.Handler) http.Handler {
	secret := s.cfg.JWTSecret
	if secret == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			unauthorized(w, "bearer token required")
			return
		}

		claims, err := auth.ParseToken(raw, secret)
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			unauthorized(w, "token expired")
			return
		case err != nil:
			s.logger.Debug("rejected API token", "error", err,
				logging.CorrelationKey, logging.CorrelationID(r.Context()))
			unauthorized(w, "invalid token")
			return
		}

		if claims.Require(auth.ScopeRead) != nil {
			errForbidden.write(w, "token scope does not allow this endpoint")
			return
		}
		next.ServeHTTP(w, r)
	})
}

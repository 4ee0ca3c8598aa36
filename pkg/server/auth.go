package server

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/log"
)

type contextKey string

const emailContextKey contextKey = "email"

// authMiddleware requires a valid bearer ID token when a verifier is
// configured. An allow list further restricts the token's email.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		if s.verifyToken == nil {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSONError(w, "missing auth token", http.StatusUnauthorized)
			return
		}
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
			writeJSONError(w, "invalid auth header", http.StatusBadRequest)
			return
		}
		email, err := s.verifyToken(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "auth token validation failed", slog.Any("error", err))
			writeJSONError(w, "invalid auth token", http.StatusUnauthorized)
			return
		}
		if len(s.allowedEmails) > 0 && !slices.Contains(s.allowedEmails, email) {
			log.Ctx(ctx).WarnContext(ctx, "email not allowed", slog.String("email", email))
			writeJSONError(w, "forbidden", http.StatusForbidden)
			return
		}

		ctx = context.WithValue(ctx, emailContextKey, email)
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("email", email)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getEmail(r *http.Request) string {
	email, _ := r.Context().Value(emailContextKey).(string)
	return email
}

package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tgcpa/tgcpa/internal/auth"
)

// minAuthDuration is the minimum time spent on a failed auth attempt.
const minAuthDuration = 200 * time.Millisecond

// TokenVerifier checks admin bearer tokens.
type TokenVerifier interface {
	Verify(token string) bool
}

// AdminAuth requires "Authorization: Bearer <admin token>".
func AdminAuth(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			token := bearerToken(r)
			if token == "" || verifier == nil || !verifier.Verify(token) {
				reason := "invalid_token"
				if token == "" {
					reason = "missing_token"
				}
				logger.Warn("admin authentication failed",
					slog.String("reason", reason),
					slog.String("client_ip", ClientIP(r)),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				if elapsed := time.Since(start); elapsed < minAuthDuration {
					time.Sleep(minAuthDuration - elapsed)
				}
				writeError(w, http.StatusUnauthorized, "invalid or missing admin token", "UNAUTHORIZED")
				return
			}

			ctx := auth.ContextWithAdmin(r.Context(), auth.QuickHash(token)[:8])
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

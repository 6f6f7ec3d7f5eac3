package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/davidahmann/riskledger/internal/apperr"
	"github.com/davidahmann/riskledger/internal/auth"
	"github.com/davidahmann/riskledger/internal/logging"
)

const requestIDHeader = "X-Request-Id"

type principalKey struct{}

// RequestID tags every request with an id and a request-scoped logger.
func RequestID(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)

			ctx := logging.WithFields(r.Context(), log, map[string]any{"request_id": reqID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func Logging(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()

			next.ServeHTTP(rec, r)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			logging.FromContext(r.Context(), log).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Msg("request complete")
		})
	}
}

func Recoverer(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					err := fmt.Errorf("panic: %v", p)
					logging.FromContext(r.Context(), log).Error().Err(err).Msg("panic recovered")
					writeError(w, r, apperr.Wrap(apperr.CodeInternal, err, "panic"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole authenticates the caller and rejects principals below minRole.
func RequireRole(authn auth.Authenticator, minRole auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := authenticate(authn, r)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if !p.Role.Satisfies(minRole) {
				logging.FromContext(r.Context(), zerolog.Nop()).Warn().
					Str("actor", p.Actor).
					Str("role", p.Role.String()).
					Str("required", minRole.String()).
					Msg("insufficient role")
				writeError(w, r, apperr.New(apperr.CodeForbidden, "insufficient role").
					WithDetails(map[string]string{"required_role": minRole.String()}))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
		})
	}
}

func authenticate(authn auth.Authenticator, r *http.Request) (auth.Principal, error) {
	if authn == nil {
		return auth.Principal{}, apperr.New(apperr.CodeUnauthorized, "authentication not configured")
	}
	token, err := auth.TokenFromRequest(r)
	if err == nil {
		var p auth.Principal
		if p, err = authn.Authenticate(token); err == nil {
			return p, nil
		}
	}
	if errors.Is(err, auth.ErrMissingToken) {
		return auth.Principal{}, apperr.Wrap(apperr.CodeUnauthorized, err, "missing token")
	}
	return auth.Principal{}, apperr.Wrap(apperr.CodeUnauthorized, err, "invalid token")
}

// PrincipalFromContext returns the caller attached by RequireRole.
func PrincipalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

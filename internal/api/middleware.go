package api

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"moneyrag.io/backend/internal/apperr"
	"moneyrag.io/backend/internal/auth"
	"moneyrag.io/backend/internal/logger"
	"moneyrag.io/backend/internal/metrics"
)

// requestContext copies chi's request id into the logging context
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := middleware.GetReqID(r.Context())
		if reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), reqID)))
	})
}

// recoverJSON converts panics into a JSON 500 and logs the stack
func recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.C(r.Context()).Error().Interface("panic", v).
					Msgf("panic recovered\n%s", debug.Stack())
				writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// captureWriter wraps the original ResponseWriter and records status & bytes
type captureWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	n, err := cw.ResponseWriter.Write(b)
	if n > 0 {
		cw.bytes += n
	}
	return n, err
}

// accessLog logs method, path, status, elapsed and bytes written, and records request metrics
// under the matched route pattern
func accessLog(m *metrics.Metrics, slow time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(cw, r)

			elapsed := time.Since(start)
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.RecordHTTPRequest(r.Method, route, cw.status, elapsed)

			log := logger.C(r.Context())
			evt := log.Info()
			if slow > 0 && elapsed >= slow {
				evt = log.Warn()
			}
			evt.Int("status", cw.status).
				Dur("elapsed", elapsed).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("bytes", cw.bytes).
				Msg("request done")
		})
	}
}

// authenticate resolves the bearer token to an identity and scopes the request to its tenant
func authenticate(v auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, r, apperr.New(apperr.KindAuthentication, "Authorization header is required"))
				return
			}

			id, err := v.Verify(r.Context(), token)
			if err != nil {
				if !apperr.Is(err, apperr.KindAuthentication) {
					logger.C(r.Context()).Warn().Err(err).Msg("token verification failed")
				}
				if _, classified := apperr.As(err); !classified {
					err = apperr.Wrap(err, apperr.KindAuthentication, "Token validation failed")
				}
				writeError(w, r, err)
				return
			}

			ctx := auth.WithIdentity(r.Context(), id)
			ctx = logger.WithTenant(ctx, id.TenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

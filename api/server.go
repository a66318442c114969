/*
server.go - HTTP router, middleware and the supervised HTTP service

PURPOSE:
  Configures the chi router, the middleware stack and the route table, and
  wraps *http.Server so it can run under the suture supervisor in
  cmd/server.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, copied into the logging context
  2. Logger:     zerolog access log + Prometheus request metrics
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Configured origins
  5. RateLimit:  httprate per client IP (server.rate_limit, 0 disables)
  6. Auth:       Bearer operator token on /api (server.operator_token)

ROUTE GROUPS:
  /api/payouts/*        Calculation, execution, retry, cancel
  /api/venues/*         Preview
  /api/admin/*          Auto-payout pass
  /api/scenarios/*      Demo scenarios (optional)
  /healthz, /metrics    Unauthenticated

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/warp/payout-engine/logging"
	"github.com/warp/payout-engine/metrics"
)

// RouterConfig holds the HTTP-level settings from config.ServerConfig.
type RouterConfig struct {
	OperatorToken   string
	CORSOrigins     []string
	RateLimit       int
	RateLimitWindow time.Duration
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(logging.WithComponent("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	if cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimit, cfg.RateLimitWindow))
	}

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(bearerAuth(cfg.OperatorToken))

		r.Route("/payouts", func(r chi.Router) {
			r.Post("/", h.CalculatePayout)
			r.Get("/", h.ListPayouts)
			r.Get("/{id}", h.GetPayout)
			r.Delete("/{id}", h.CancelPayout)
			r.Post("/{id}/execute", h.ExecutePayout)
			r.Post("/{id}/retry", h.RetryPayout)
		})

		r.Get("/venues/{id}/payout-preview", h.PreviewPayout)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/auto-payouts/run", h.RunAutoPayouts)
		})

		if h.Scenarios != nil {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// requestLogger logs one line per request and records API metrics under the
// matched route pattern, so ids in paths do not explode label cardinality.
func requestLogger(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())
			r = r.WithContext(logging.ContextWithRequestID(r.Context(), reqID))
			if reqID != "" {
				w.Header().Set("X-Request-Id", reqID)
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			metrics.RecordAPIRequest(r.Method, route, status, elapsed)

			ev := base.Info()
			if status >= http.StatusInternalServerError {
				ev = base.Error()
			}
			ev.Str("request_id", reqID).
				Str("method", r.Method).
				Str("route", route).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", elapsed).
				Msg("request")
		})
	}
}

// bearerAuth requires "Authorization: Bearer <token>". An empty token
// disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="payout-engine"`)
				writeError(w, http.StatusUnauthorized, "Unauthorized", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// SUPERVISED HTTP SERVICE
// =============================================================================

// HTTPServer is the part of *http.Server the service needs.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server as a suture.Service. Cancelling the
// Serve context triggers a graceful shutdown.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	log             zerolog.Logger
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		log:             logging.WithComponent("http"),
	}
}

// Serve implements suture.Service.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info().Dur("timeout", s.shutdownTimeout).Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *HTTPService) String() string { return "http-server" }

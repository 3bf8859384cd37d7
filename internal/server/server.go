package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mocko-designs/gateway/internal/config"
	"github.com/mocko-designs/gateway/internal/handlers"
	"github.com/mocko-designs/gateway/internal/middleware"
	"github.com/mocko-designs/gateway/internal/proxy"
	"github.com/mocko-designs/gateway/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"
)

// Deps are the collaborators the gateway handler is assembled from
type Deps struct {
	Config   *config.Config
	Logger   *zap.Logger
	Verifier middleware.TokenVerifier
	// RateLimitStore backs the per-client limiter; nil uses an in-memory store
	RateLimitStore limiter.Store
	// Redis is pinged by the extended health check when set
	Redis *redis.Client
	// Transport overrides the upstream round tripper
	Transport http.RoundTripper
}

// New builds the gateway's root handler. Outermost first, requests pass
// ErrorHandler, Logging, Audit, SecurityHeaders, CORS and RateLimit before
// the router. Proxied routes additionally run Auth; /health, /metrics,
// /version and unmatched paths do not.
func New(deps Deps) (http.Handler, *proxy.Router, error) {
	cfg := deps.Config
	logger := deps.Logger

	routes, err := proxy.BindRoutes(proxy.DefaultRoutes(), cfg.Upstreams(), cfg.UpstreamTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to bind routes: %w", err)
	}
	router, err := proxy.NewRouter(routes, logger, proxy.Options{
		MaxBodyBytes: cfg.MaxBodyBytes,
		Transport:    deps.Transport,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build proxy router: %w", err)
	}

	store := deps.RateLimitStore
	if store == nil {
		if store, err = middleware.NewRateLimitStore(nil); err != nil {
			return nil, nil, err
		}
	}
	rateLimit, err := middleware.RateLimit(store, cfg.RateLimit, cfg.TrustProxyHeaders, logger)
	if err != nil {
		return nil, nil, err
	}

	telemetry.InstallPropagator()
	r := mux.NewRouter()
	r.Use(otelmux.Middleware(telemetry.ServiceName))

	handlers.NewHealthChecker(cfg.Upstreams(), deps.Redis).RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/version", handlers.VersionInfo).Methods(http.MethodGet)

	router.Register(r, middleware.Auth(deps.Verifier, logger))

	notFound := handlers.NotFound(logger)
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = notFound

	// mux.Use only wraps matched routes; the shell must also cover 404s
	var h http.Handler = r
	h = rateLimit(h)
	h = middleware.CORS(cfg.FrontendURL)(h)
	h = middleware.SecurityHeaders(cfg.EnableHSTS)(h)
	h = middleware.Audit(logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.ErrorHandler(logger)(h)

	return h, router, nil
}

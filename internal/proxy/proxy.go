package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	logpkg "github.com/mocko-designs/gateway/internal/logger"
	"github.com/mocko-designs/gateway/internal/metrics"
	"github.com/mocko-designs/gateway/internal/response"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// Routing headers added to every forwarded request
const (
	HeaderGatewayService = "X-Gateway-Service"
	HeaderRequestID      = "X-Request-Id"
)

// Options configures a Router
type Options struct {
	MaxBodyBytes int64
	Transport    http.RoundTripper
}

// Router forwards matched requests to their upstream services
type Router struct {
	routes  []Route
	proxies map[string]*httputil.ReverseProxy
	logger  *zap.Logger
	maxBody int64
}

// NewRouter builds one reverse proxy per configured route. Routes without a
// base URL are kept and answer 503.
func NewRouter(routes []Route, logger *zap.Logger, opts Options) (*Router, error) {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Transport == nil {
		opts.Transport = newTransport()
	}

	rt := &Router{
		routes:  append([]Route(nil), routes...),
		proxies: make(map[string]*httputil.ReverseProxy, len(routes)),
		logger:  logger,
		maxBody: opts.MaxBodyBytes,
	}

	for _, route := range rt.routes {
		if !route.Configured() {
			continue
		}
		target, err := parseBaseURL(route.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", route.Prefix, err)
		}
		route := route
		rt.proxies[route.Prefix] = &httputil.ReverseProxy{
			Rewrite: func(pr *httputil.ProxyRequest) {
				pr.Out.URL.Path = RewritePath(pr.In.URL.Path)
				if pr.In.URL.RawPath != "" {
					pr.Out.URL.RawPath = RewritePath(pr.In.URL.RawPath)
				}
				pr.SetURL(target)
				pr.SetXForwarded()
				pr.Out.Header.Set(HeaderGatewayService, route.ServiceName)
				otel.GetTextMapPropagator().Inject(pr.Out.Context(), propagation.HeaderCarrier(pr.Out.Header))
			},
			// The gateway's own request id replaces any the upstream echoes
			ModifyResponse: func(resp *http.Response) error {
				resp.Header.Del(HeaderRequestID)
				return nil
			},
			Transport:    opts.Transport,
			ErrorHandler: rt.errorHandler(route),
			ErrorLog:     zap.NewStdLog(logger.With(zap.String("service", route.ServiceName))),
		}
	}

	return rt, nil
}

// Routes returns the routing table
func (rt *Router) Routes() []Route {
	return append([]Route(nil), rt.routes...)
}

// Match returns the route for path
func (rt *Router) Match(path string) (Route, bool) {
	return Match(rt.routes, path)
}

// Register mounts every route on r in table order, each wrapped by auth
func (rt *Router) Register(r *mux.Router, auth func(http.Handler) http.Handler) {
	for _, route := range rt.routes {
		route := route
		r.MatcherFunc(func(req *http.Request, _ *mux.RouteMatch) bool {
			return route.Matches(req.URL.Path)
		}).Handler(auth(rt.Handler(route))).Name(route.ServiceName)
	}
}

// Handler forwards requests for route. Callers must have authenticated the request.
func (rt *Router) Handler(route Route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		r.Header.Set(HeaderRequestID, requestID)
		w.Header().Set(HeaderRequestID, requestID)

		rp, ok := rt.proxies[route.Prefix]
		if !ok {
			upErr := &UpstreamError{Kind: KindNotConfigured, ServiceName: route.ServiceName}
			rt.logger.Error("upstream_not_configured",
				zap.String("service", route.ServiceName),
				zap.String("path", logpkg.SanitizePath(r.URL.Path)),
			)
			metrics.UpstreamRequestsTotal.WithLabelValues(route.ServiceName, string(upErr.Kind)).Inc()
			response.WriteError(w, r, upErr.Problem())
			return
		}

		if route.BodyMode == BodyParsed {
			if problem := bufferBody(w, r, rt.maxBody); problem != nil {
				response.WriteError(w, r, *problem)
				return
			}
		}

		timeout := route.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		r = r.WithContext(withForward(ctx, &forward{start: time.Now()}))

		rt.logger.Debug("proxy_forwarding",
			zap.String("service", route.ServiceName),
			zap.String("method", r.Method),
			zap.String("path", logpkg.SanitizePath(r.URL.Path)),
			zap.String("upstream_path", logpkg.SanitizePath(RewritePath(r.URL.Path))),
			zap.String("request_id", requestID),
			zap.String("body_mode", route.BodyMode.String()),
		)

		rp.ServeHTTP(w, r)

		fw := forwardFrom(r.Context())
		metrics.UpstreamLatencySeconds.WithLabelValues(route.ServiceName).Observe(time.Since(fw.start).Seconds())
		if !fw.failed {
			metrics.UpstreamRequestsTotal.WithLabelValues(route.ServiceName, "ok").Inc()
		}
	})
}

func (rt *Router) errorHandler(route Route) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		upErr := classifyUpstream(route.ServiceName, err)
		if fw := forwardFrom(r.Context()); fw != nil {
			fw.failed = true
		}
		metrics.UpstreamRequestsTotal.WithLabelValues(route.ServiceName, string(upErr.Kind)).Inc()

		rt.logger.Warn("upstream_unavailable",
			zap.String("service", route.ServiceName),
			zap.String("kind", string(upErr.Kind)),
			zap.Int("status_code", upErr.Status()),
			zap.String("method", r.Method),
			zap.String("path", logpkg.SanitizePath(r.URL.Path)),
			zap.String("request_id", r.Header.Get(HeaderRequestID)),
			zap.String("error", logpkg.SanitizeError(err)),
		)

		if !response.WriteError(w, r, upErr.Problem()) {
			rt.logger.Warn("upstream_error_after_response_started",
				zap.String("service", route.ServiceName),
				zap.String("path", logpkg.SanitizePath(r.URL.Path)),
			)
		}
	}
}

func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = 32
	t.IdleConnTimeout = 90 * time.Second
	return t
}

type forwardKey struct{}

// forward carries per-request proxy state between Handler and the error handler
type forward struct {
	start  time.Time
	failed bool
}

func withForward(ctx context.Context, fw *forward) context.Context {
	return context.WithValue(ctx, forwardKey{}, fw)
}

func forwardFrom(ctx context.Context) *forward {
	fw, _ := ctx.Value(forwardKey{}).(*forward)
	return fw
}

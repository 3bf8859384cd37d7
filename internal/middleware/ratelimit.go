package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	logpkg "github.com/mocko-designs/gateway/internal/logger"
	"github.com/mocko-designs/gateway/internal/metrics"
	"github.com/mocko-designs/gateway/internal/request"
	"github.com/mocko-designs/gateway/internal/response"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	stdlibmw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

const rateLimitPrefix = "gateway_ratelimit"

// ConnectRedis parses redisURL and checks the server is reachable
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// NewRateLimitStore returns a Redis-backed store shared across gateway
// replicas when client is set, and a process-local memory store otherwise
func NewRateLimitStore(client *redis.Client) (limiter.Store, error) {
	if client == nil {
		return memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          rateLimitPrefix,
			CleanUpInterval: limiter.DefaultCleanUpInterval,
		}), nil
	}
	store, err := redisstore.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix:   rateLimitPrefix,
		MaxRetry: limiter.DefaultMaxRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis rate limit store: %w", err)
	}
	return store, nil
}

// RateLimit limits requests per client IP. The key is the connection's peer
// address unless trustProxyHeaders is set, in which case X-Forwarded-For and
// X-Real-IP are honoured. An empty rate disables limiting.
func RateLimit(store limiter.Store, rateStr string, trustProxyHeaders bool, logger *zap.Logger) (func(http.Handler) http.Handler, error) {
	if rateStr == "" {
		return func(next http.Handler) http.Handler { return next }, nil
	}

	rate, err := limiter.NewRateFromFormatted(rateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit %q: %w", rateStr, err)
	}

	keyGetter := request.PeerIP
	if trustProxyHeaders {
		keyGetter = request.ClientIP
	}

	instance := limiter.New(store, rate)
	mw := stdlibmw.NewMiddleware(instance,
		stdlibmw.WithKeyGetter(keyGetter),
		stdlibmw.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.RateLimitedTotal.Inc()
			response.WriteError(w, r, response.Problem{
				Status:  http.StatusTooManyRequests,
				Message: "Too many requests",
				Code:    response.CodeRateLimited,
				Details: "Rate limit exceeded. Please slow down and try again shortly.",
			})
		}),
		stdlibmw.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("rate_limit_store_error",
				zap.String("error", logpkg.SanitizeError(err)),
				zap.String("path", logpkg.SanitizePath(r.URL.Path)),
			)
			response.WriteError(w, r, response.Problem{
				Status:  http.StatusInternalServerError,
				Message: "Internal gateway error",
				Code:    response.CodeGatewayError,
				Details: "The API Gateway encountered an unexpected error",
			})
		}),
	)
	return mw.Handler, nil
}

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
)

const (
	notConfigured      = "not configured"
	healthCheckTimeout = 5 * time.Second
)

// HealthChecker handles health check requests
type HealthChecker struct {
	upstreams map[string]string
	redis     *redis.Client
	client    *http.Client
}

// NewHealthChecker creates a new health checker. upstreams maps upstream
// names to base URLs; an empty URL is reported as not configured. redisClient
// may be nil when the rate limiter keeps its counters in memory.
func NewHealthChecker(upstreams map[string]string, redisClient *redis.Client) *HealthChecker {
	return &HealthChecker{
		upstreams: upstreams,
		redis:     redisClient,
		client:    &http.Client{Timeout: healthCheckTimeout},
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// RegisterRoutes registers the health route
func (h *HealthChecker) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet, http.MethodHead)
}

// HealthCheck handles the /health endpoint
func (h *HealthChecker) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: timestamp(),
		Services:  h.services(),
	}

	if r.URL.Query().Get("mode") != "extended" {
		respondJSON(w, http.StatusOK, resp)
		return
	}

	resp.Checks = h.runChecks(r.Context())
	statusCode := http.StatusOK
	for _, result := range resp.Checks {
		if result != "healthy" && result != notConfigured {
			resp.Status = "unhealthy"
			statusCode = http.StatusServiceUnavailable
			break
		}
	}
	respondJSON(w, statusCode, resp)
}

func (h *HealthChecker) services() map[string]string {
	services := make(map[string]string, len(h.upstreams))
	for name, baseURL := range h.upstreams {
		if baseURL == "" {
			baseURL = notConfigured
		}
		services[name] = baseURL
	}
	return services
}

// runChecks probes every configured upstream and the rate limit store concurrently
func (h *HealthChecker) runChecks(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.upstreams))
	for name := range h.upstreams {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(names)+1)
	)
	record := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			checks[name] = "unhealthy: " + err.Error()
			return
		}
		checks[name] = "healthy"
	}

	for _, name := range names {
		baseURL := h.upstreams[name]
		if baseURL == "" {
			checks[name] = notConfigured
			continue
		}
		wg.Add(1)
		go func(name, baseURL string) {
			defer wg.Done()
			record(name, h.checkUpstream(ctx, baseURL))
		}(name, baseURL)
	}

	if h.redis != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record("redis", h.redis.Ping(ctx).Err())
		}()
	}

	wg.Wait()
	return checks
}

// checkUpstream treats any HTTP response as reachable
func (h *HealthChecker) checkUpstream(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return fmt.Errorf("invalid upstream URL: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("unreachable")
	}
	_ = resp.Body.Close()
	return nil
}

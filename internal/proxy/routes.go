package proxy

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// BodyMode selects how a route's request body reaches the upstream
type BodyMode int

const (
	// BodyParsed buffers, size-checks and re-serializes the body
	BodyParsed BodyMode = iota
	// BodyRaw streams the body untouched, for binary uploads
	BodyRaw
)

func (m BodyMode) String() string {
	if m == BodyRaw {
		return "raw"
	}
	return "parsed"
}

// MarshalText renders the mode in route listings
func (m BodyMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

const (
	externalPrefix = "/v1"
	internalPrefix = "/api"
)

// Route maps an external path prefix onto one upstream service
type Route struct {
	Prefix      string        `json:"prefix" yaml:"prefix"`
	Upstream    string        `json:"upstream" yaml:"upstream"`
	ServiceName string        `json:"serviceName" yaml:"serviceName"`
	BaseURL     string        `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
	BodyMode    BodyMode      `json:"bodyMode" yaml:"bodyMode"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultTimeout is the per-request upstream deadline
const DefaultTimeout = 30 * time.Second

// DefaultRoutes returns the gateway's routing table, most specific prefix first
func DefaultRoutes() []Route {
	return []Route{
		{Prefix: "/v1/designs", Upstream: "design", ServiceName: "Design Service", BodyMode: BodyParsed, Timeout: DefaultTimeout},
		{Prefix: "/v1/media/upload", Upstream: "upload", ServiceName: "Upload Service", BodyMode: BodyRaw, Timeout: DefaultTimeout},
		{Prefix: "/v1/media", Upstream: "upload", ServiceName: "Media Service", BodyMode: BodyParsed, Timeout: DefaultTimeout},
		{Prefix: "/v1/subscription", Upstream: "subscription", ServiceName: "Subscription Service", BodyMode: BodyParsed, Timeout: DefaultTimeout},
	}
}

// BindRoutes fills in base URLs from upstreams (keyed by Upstream) and
// overrides the timeout when timeout is positive
func BindRoutes(routes []Route, upstreams map[string]string, timeout time.Duration) ([]Route, error) {
	bound := make([]Route, len(routes))
	for i, route := range routes {
		route.BaseURL = strings.TrimSpace(upstreams[route.Upstream])
		if route.BaseURL != "" {
			if _, err := parseBaseURL(route.BaseURL); err != nil {
				return nil, fmt.Errorf("route %s: %w", route.Prefix, err)
			}
		}
		if timeout > 0 {
			route.Timeout = timeout
		}
		bound[i] = route
	}
	return bound, nil
}

// Matches reports whether path falls under the route prefix on a segment boundary
func (r Route) Matches(path string) bool {
	if !strings.HasPrefix(path, r.Prefix) {
		return false
	}
	rest := path[len(r.Prefix):]
	return rest == "" || rest[0] == '/'
}

// Configured reports whether the route has an upstream to forward to
func (r Route) Configured() bool {
	return r.BaseURL != ""
}

// Match returns the first route that matches path
func Match(routes []Route, path string) (Route, bool) {
	for _, route := range routes {
		if route.Matches(path) {
			return route, true
		}
	}
	return Route{}, false
}

// RewritePath swaps the external /v1 prefix for the upstream's /api prefix.
// Everything after the prefix is kept byte for byte.
func RewritePath(path string) string {
	if path == externalPrefix || strings.HasPrefix(path, externalPrefix+"/") {
		return internalPrefix + path[len(externalPrefix):]
	}
	return path
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid upstream URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q: missing host", raw)
	}
	return u, nil
}

package types

// RouteKind distinguishes how a route is served once policy checks pass
type RouteKind string

const (
	// RouteKindProxy forwards the request to an upstream business service
	RouteKindProxy RouteKind = "proxy"
	// RouteKindExplorer is served in-process by the ledger explorer
	RouteKindExplorer RouteKind = "explorer"
)

// RateLimitPolicy bounds admissions per identity within a fixed window
type RateLimitPolicy struct {
	WindowMs    int `json:"window_ms" mapstructure:"window_ms"`
	MaxRequests int `json:"max_requests" mapstructure:"max_requests"`
}

// Enabled reports whether the route enforces a rate budget
func (p RateLimitPolicy) Enabled() bool {
	return p.MaxRequests > 0 && p.WindowMs > 0
}

// CachePolicy controls TTL caching of idempotent read responses
type CachePolicy struct {
	Enabled    bool `json:"enabled" mapstructure:"enabled"`
	TTLSeconds int  `json:"ttl_seconds" mapstructure:"ttl_seconds"`
}

// RoutePolicy is the per-route configuration governing auth, rate, cache,
// timeout and logging behavior. Immutable once loaded by the policy registry.
type RoutePolicy struct {
	Name                string          `json:"name" mapstructure:"name"`
	Description         string          `json:"description" mapstructure:"description"`
	PathPrefix          string          `json:"path_prefix" mapstructure:"path_prefix"`
	UpstreamTarget      string          `json:"upstream_target" mapstructure:"upstream_target"`
	Kind                RouteKind       `json:"kind" mapstructure:"kind"`
	AuthRequired        bool            `json:"auth_required" mapstructure:"auth_required"`
	CertificateRequired bool            `json:"certificate_required" mapstructure:"certificate_required"`
	AdminOnly           bool            `json:"admin_only" mapstructure:"admin_only"`
	RateLimit           RateLimitPolicy `json:"rate_limit" mapstructure:"rate_limit"`
	Cache               CachePolicy     `json:"cache" mapstructure:"cache"`
	TimeoutMs           int             `json:"timeout_ms" mapstructure:"timeout_ms"`
	LogLevel            string          `json:"log_level" mapstructure:"log_level"`
	LogBody             bool            `json:"log_body" mapstructure:"log_body"`
}

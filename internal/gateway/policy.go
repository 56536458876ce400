package gateway

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chainvista/dlt-gateway/pkg/types"
)

// PolicyRegistry is the declarative route-to-policy table. Validated eagerly
// at construction and read-only afterwards, so lookups need no locking.
type PolicyRegistry struct {
	// sorted by descending prefix length so the first match wins the
	// longest-prefix contest
	routes []*types.RoutePolicy
}

// NewPolicyRegistry builds and validates the registry. Any route missing a
// required field fails construction; misconfiguration is a startup error,
// never a per-request one.
func NewPolicyRegistry(routes []types.RoutePolicy) (*PolicyRegistry, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("route table is empty")
	}

	seen := make(map[string]bool, len(routes))
	registered := make([]*types.RoutePolicy, 0, len(routes))

	for i := range routes {
		route := routes[i]
		if err := validateRoute(&route); err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		if seen[route.Name] {
			return nil, fmt.Errorf("duplicate route name %q", route.Name)
		}
		seen[route.Name] = true
		registered = append(registered, &route)
	}

	sort.SliceStable(registered, func(i, j int) bool {
		return len(registered[i].PathPrefix) > len(registered[j].PathPrefix)
	})

	return &PolicyRegistry{routes: registered}, nil
}

func validateRoute(route *types.RoutePolicy) error {
	if route.Name == "" {
		return fmt.Errorf("route name is required")
	}
	if route.PathPrefix == "" || !strings.HasPrefix(route.PathPrefix, "/") {
		return fmt.Errorf("route %q: path prefix must start with /", route.Name)
	}
	if route.UpstreamTarget == "" {
		return fmt.Errorf("route %q: upstream target is required", route.Name)
	}
	if route.Description == "" {
		return fmt.Errorf("route %q: description is required", route.Name)
	}

	switch route.Kind {
	case types.RouteKindProxy, types.RouteKindExplorer:
	case "":
		return fmt.Errorf("route %q: kind is required", route.Name)
	default:
		return fmt.Errorf("route %q: unknown kind %q", route.Name, route.Kind)
	}

	if route.TimeoutMs <= 0 {
		return fmt.Errorf("route %q: timeout must be positive", route.Name)
	}
	if route.Cache.Enabled && route.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("route %q: cache TTL must be positive when caching is enabled", route.Name)
	}
	if route.RateLimit.MaxRequests < 0 || route.RateLimit.WindowMs < 0 {
		return fmt.Errorf("route %q: rate limit values must not be negative", route.Name)
	}

	return nil
}

// Resolve returns the policy whose path prefix is the longest match for the
// inbound path, or NotFound for unregistered paths
func (pr *PolicyRegistry) Resolve(path string) (*types.RoutePolicy, error) {
	for _, route := range pr.routes {
		if matchesPrefix(path, route.PathPrefix) {
			return route, nil
		}
	}
	return nil, types.NewNotFoundError(types.ErrCodeRouteNotFound, "no route registered for path")
}

// matchesPrefix reports whether path falls under prefix at a path-segment
// boundary, so /blocks does not capture /blockstore
func matchesPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	return path[len(prefix)] == '/' || strings.HasSuffix(prefix, "/")
}

// Routes returns the registered policies in lookup order
func (pr *PolicyRegistry) Routes() []*types.RoutePolicy {
	return pr.routes
}

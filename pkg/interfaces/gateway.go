package interfaces

import (
	"context"
	"net/http"

	"github.com/chainvista/dlt-gateway/pkg/types"
)

// PolicyResolver resolves an inbound path to its route policy
type PolicyResolver interface {
	Resolve(path string) (*types.RoutePolicy, error)
	Routes() []*types.RoutePolicy
}

// AuthGate verifies bearer credentials against a route policy. The response
// writer is passed so the gate can surface a refreshed credential to the
// caller via response headers.
type AuthGate interface {
	Authorize(w http.ResponseWriter, r *http.Request, policy *types.RoutePolicy) (*types.Identity, error)
}

// IdentityProvider refreshes an expired-but-structurally-valid credential.
// Implementations must be safe for concurrent use; the gate guarantees at
// most one in-flight refresh per expiry event.
type IdentityProvider interface {
	Refresh(ctx context.Context, expiredToken string) (*types.AuthToken, error)
}

// RateLimiter enforces the per-route, per-identity request budget
type RateLimiter interface {
	Admit(routeName, identityKey string, policy types.RateLimitPolicy) (bool, int, error)
}

// ResponseCache is the per-route TTL cache for idempotent reads
type ResponseCache interface {
	Get(signature string) (*types.CachedResponse, bool)
	Put(signature string, payload []byte, contentType string, ttlSeconds int)
}

// Dispatcher forwards a policy-approved request to its upstream target
type Dispatcher interface {
	Dispatch(w http.ResponseWriter, r *http.Request, policy *types.RoutePolicy, identity *types.Identity)
}

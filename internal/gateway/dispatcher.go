package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chainvista/dlt-gateway/pkg/logger"
	"github.com/chainvista/dlt-gateway/pkg/types"
)

// hop-by-hop headers never forwarded to the upstream
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ProxyDispatcher forwards policy-approved requests to upstream business
// services, applying the route timeout as a hard deadline and normalizing
// upstream transport failures onto the gateway error taxonomy.
type ProxyDispatcher struct {
	client *http.Client
	logger *logger.Logger
}

// NewProxyDispatcher creates a dispatcher. Per-request deadlines come from
// route policy, so the shared client carries no timeout of its own.
func NewProxyDispatcher(log *logger.Logger) *ProxyDispatcher {
	return &ProxyDispatcher{
		client: &http.Client{},
		logger: log,
	}
}

// Dispatch forwards the request to the route's upstream target. Timeouts
// yield 504, transport failures 502; upstream status codes and bodies,
// including 4xx, pass through unchanged.
func (d *ProxyDispatcher) Dispatch(w http.ResponseWriter, r *http.Request, policy *types.RoutePolicy, identity *types.Identity) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(policy.TimeoutMs)*time.Millisecond)
	defer cancel()

	outReq, err := d.buildUpstreamRequest(ctx, r, policy, identity)
	if err != nil {
		writeGatewayError(w, d.logger, types.NewInternalError(types.ErrCodeInternalError,
			"failed to build upstream request", err))
		return
	}

	resp, err := d.client.Do(outReq)
	if err != nil && isIdempotent(r.Method) && !deadlineExceeded(ctx, err) {
		// One retry for idempotent reads on transient connection failure.
		// Mutating calls are never retried.
		retryReq, buildErr := d.buildUpstreamRequest(ctx, r, policy, identity)
		if buildErr == nil {
			resp, err = d.client.Do(retryReq)
		}
	}

	if err != nil {
		if deadlineExceeded(ctx, err) {
			d.logger.WithComponent("dispatcher").
				WithField("route", policy.Name).
				Warn("Upstream call exceeded route timeout")
			writeGatewayError(w, d.logger, types.NewTimeoutError("upstream request exceeded route timeout"))
			return
		}
		d.logger.WithComponent("dispatcher").WithError(err).
			WithField("route", policy.Name).
			Error("Upstream call failed")
		writeGatewayError(w, d.logger, types.NewUnavailableError(types.ErrCodeUpstreamError,
			"upstream service unavailable", err))
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		d.logger.WithComponent("dispatcher").WithError(err).
			Warn("Failed to stream upstream response body")
	}
}

// buildUpstreamRequest clones the inbound request for the upstream target,
// stripping the route prefix and hop-by-hop headers and attaching the
// authenticated identity for downstream authorization decisions
func (d *ProxyDispatcher) buildUpstreamRequest(ctx context.Context, r *http.Request, policy *types.RoutePolicy, identity *types.Identity) (*http.Request, error) {
	target, err := url.Parse(policy.UpstreamTarget)
	if err != nil {
		return nil, err
	}

	upstreamPath := strings.TrimPrefix(r.URL.Path, policy.PathPrefix)
	if !strings.HasPrefix(upstreamPath, "/") {
		upstreamPath = "/" + upstreamPath
	}
	target.Path = strings.TrimSuffix(target.Path, "/") + upstreamPath
	target.RawQuery = r.URL.RawQuery

	var body io.Reader
	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = r.Body
	}

	outReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}

	outReq.Header = r.Header.Clone()
	for _, h := range hopByHopHeaders {
		outReq.Header.Del(h)
	}

	if identity != nil {
		outReq.Header.Set("X-User-ID", identity.UserID)
		outReq.Header.Set("X-User-Role", string(identity.Role))
		outReq.Header.Set("X-Org-ID", identity.OrgID)
	}

	return outReq, nil
}

func isIdempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func deadlineExceeded(ctx context.Context, err error) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded)
}

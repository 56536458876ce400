package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chainvista/dlt-gateway/pkg/types"
)

const (
	defaultLatestBlockCount = 10
	maxLatestBlockCount     = 100
)

// handleRequest runs the full policy pipeline for every non-operational
// request: resolve → auth → rate limit → cache → dispatch. Rejections
// short-circuit before any upstream call is made.
func (s *Service) handleRequest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	policy, err := s.registry.Resolve(r.URL.Path)
	if err != nil {
		writeGatewayError(w, s.logger, err)
		return
	}

	recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	defer func() {
		s.metrics.RecordRequest(r.Method, policy.Name, recorder.statusCode, time.Since(start))
	}()

	var identity *types.Identity
	if policy.AuthRequired {
		identity, err = s.authGate.Authorize(recorder, r, policy)
		if err != nil {
			writeGatewayError(recorder, s.logger, err)
			return
		}
	}

	admitted, retryAfter, err := s.rateLimiter.Admit(policy.Name, identityKey(identity, r), policy.RateLimit)
	if err != nil {
		writeGatewayError(recorder, s.logger, types.NewInternalError(types.ErrCodeInternalError,
			"rate limit check failed", err))
		return
	}
	if !admitted {
		s.metrics.RecordRateLimited(policy.Name)
		writeGatewayError(recorder, s.logger, types.NewRateLimitedError("rate limit exceeded", retryAfter))
		return
	}

	// The cache is consulted for idempotent reads only. Mutating methods
	// bypass it unconditionally; this is an invariant, not policy.
	cacheable := policy.Cache.Enabled && r.Method == http.MethodGet
	var signature string
	if cacheable {
		signature = CacheSignature(policy.Name, r.URL.Path, r.URL.Query())
		if entry, ok := s.cache.Get(signature); ok {
			s.metrics.RecordCacheLookup(policy.Name, true)
			recorder.Header().Set("Content-Type", entry.ContentType)
			recorder.Header().Set("X-Cache", "HIT")
			recorder.WriteHeader(http.StatusOK)
			recorder.Write(entry.Payload)
			return
		}
		s.metrics.RecordCacheLookup(policy.Name, false)
	}

	target := http.ResponseWriter(recorder)
	var bodyRecorder *responseRecorder
	if cacheable {
		bodyRecorder = newResponseRecorder(recorder)
		target = bodyRecorder
	}

	switch policy.Kind {
	case types.RouteKindExplorer:
		s.serveExplorer(target, r, policy)
	default:
		s.dispatcher.Dispatch(target, r, policy, identity)
	}

	if bodyRecorder != nil && bodyRecorder.statusCode == http.StatusOK {
		s.cache.Put(signature, bodyRecorder.body,
			bodyRecorder.Header().Get("Content-Type"), policy.Cache.TTLSeconds)
	}
}

// serveExplorer serves ledger explorer routes in-process over the shared
// session, applying the route timeout as a hard deadline
func (s *Service) serveExplorer(w http.ResponseWriter, r *http.Request, policy *types.RoutePolicy) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(policy.TimeoutMs)*time.Millisecond)
	defer cancel()

	state := s.conn.CurrentState()

	// The gateway serves exactly one channel; a request naming any other
	// channel is rejected rather than silently answered from the wrong one.
	if requested := r.URL.Query().Get("channel"); requested != "" && requested != state.ChannelName {
		writeGatewayError(w, s.logger, types.NewValidationError(types.ErrCodeInvalidInput,
			"requested channel is not served by this gateway"))
		return
	}

	// The session is established on first use. Initialize is idempotent, so
	// callers arriving while an attempt is in flight block on it and share
	// the outcome instead of failing fast. A DEGRADED session still serves;
	// the health loop owns its recovery.
	if state.Status != types.SessionReady && state.Status != types.SessionDegraded {
		if err := s.conn.Initialize(ctx); err != nil {
			writeGatewayError(w, s.logger, err)
			return
		}
	}

	path := r.URL.Path
	switch {
	case path == "/ledger/info":
		info, err := s.explorer.GetLedgerInfo(ctx)
		s.respondExplorer(w, info, err)

	case path == "/blocks/latest":
		count, err := parseCount(r.URL.Query().Get("count"))
		if err != nil {
			writeGatewayError(w, s.logger, err)
			return
		}
		blocks, err := s.explorer.GetLatestBlocks(ctx, count)
		s.respondExplorer(w, blocks, err)

	case strings.HasPrefix(path, "/blocks/hash/"):
		hash := strings.TrimPrefix(path, "/blocks/hash/")
		block, err := s.explorer.GetBlockByHash(ctx, hash)
		s.respondExplorer(w, block, err)

	case strings.HasPrefix(path, "/blocks/") && strings.HasSuffix(path, "/raw"):
		number, err := parseBlockNumber(strings.TrimSuffix(strings.TrimPrefix(path, "/blocks/"), "/raw"))
		if err != nil {
			writeGatewayError(w, s.logger, err)
			return
		}
		raw, err := s.explorer.GetRawBlockByNumber(ctx, number)
		if err != nil {
			s.respondExplorer(w, nil, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(raw)

	case strings.HasPrefix(path, "/blocks/"):
		number, err := parseBlockNumber(strings.TrimPrefix(path, "/blocks/"))
		if err != nil {
			writeGatewayError(w, s.logger, err)
			return
		}
		block, err := s.explorer.GetBlockByNumber(ctx, number)
		s.respondExplorer(w, block, err)

	case strings.HasPrefix(path, "/transactions/"):
		txID := strings.TrimPrefix(path, "/transactions/")
		tx, err := s.explorer.GetTransactionByID(ctx, txID)
		s.respondExplorer(w, tx, err)

	default:
		writeGatewayError(w, s.logger, types.NewNotFoundError(types.ErrCodeRouteNotFound,
			"unknown explorer path"))
	}
}

// respondExplorer writes an explorer result, mapping a blown route deadline
// onto Timeout rather than an upstream failure
func (s *Service) respondExplorer(w http.ResponseWriter, data interface{}, err error) {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeGatewayError(w, s.logger, types.NewTimeoutError("ledger query exceeded route timeout"))
			return
		}
		writeGatewayError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, data)
}

// handleHealth reports liveness plus the ledger session state
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	session := s.conn.CurrentState()

	status := "healthy"
	code := http.StatusOK
	if session.Status == types.SessionDegraded || session.Status == types.SessionClosed {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, s.logger, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"session":   session,
	})
}

// handleDetailedHealth adds uptime and the registered route table
func (s *Service) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	routes := make([]map[string]interface{}, 0, len(s.registry.Routes()))
	for _, route := range s.registry.Routes() {
		routes = append(routes, map[string]interface{}{
			"name":        route.Name,
			"path_prefix": route.PathPrefix,
			"kind":        route.Kind,
		})
	}

	writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startTime).String(),
		"session":   s.conn.CurrentState(),
		"routes":    routes,
	})
}

// identityKey returns the budget key for rate limiting: the authenticated
// user when present, the remote address for public routes
func identityKey(identity *types.Identity, r *http.Request) string {
	if identity != nil && identity.UserID != "" {
		return identity.UserID
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

func parseCount(raw string) (int, error) {
	if raw == "" {
		return defaultLatestBlockCount, nil
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count <= 0 {
		return 0, types.NewValidationError(types.ErrCodeInvalidInput, "count must be a positive integer")
	}
	if count > maxLatestBlockCount {
		count = maxLatestBlockCount
	}
	return count, nil
}

func parseBlockNumber(raw string) (uint64, error) {
	if strings.HasPrefix(raw, "-") {
		return 0, types.NewNotFoundError(types.ErrCodeBlockNotFound, "block number out of range")
	}
	number, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, types.NewValidationError(types.ErrCodeInvalidInput, "block number must be a non-negative integer")
	}
	return number, nil
}

package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/chainvista/dlt-gateway/pkg/interfaces"
	"github.com/chainvista/dlt-gateway/pkg/logger"
	"github.com/chainvista/dlt-gateway/pkg/monitoring"
	"github.com/chainvista/dlt-gateway/pkg/types"
)

// RefreshedTokenHeader carries a refreshed access token back to the caller
// when the gate performed a coordinated refresh on its behalf
const RefreshedTokenHeader = "X-Refreshed-Token"

const maxAuditBodyBytes = 4096

// JWTClaims represents the bearer token claims the gateway understands
type JWTClaims struct {
	UserID          string   `json:"user_id"`
	Username        string   `json:"username"`
	Role            string   `json:"role"`
	OrgID           string   `json:"org_id"`
	MSPID           string   `json:"msp_id,omitempty"`
	CertFingerprint string   `json:"cert_fingerprint,omitempty"`
	Permissions     []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// AuthGate verifies bearer credentials on inbound requests and coordinates
// token refresh so concurrent expiries trigger at most one upstream refresh.
type AuthGate struct {
	jwtSecret []byte
	provider  interfaces.IdentityProvider
	logger    *logger.Logger
	metrics   *monitoring.MetricsCollector

	// one-shot in-flight refresh shared by all waiters on the same
	// expired token, cleared only after resolution
	group singleflight.Group
}

// NewAuthGate creates an auth gate backed by the given identity provider
func NewAuthGate(secret string, provider interfaces.IdentityProvider, log *logger.Logger, metrics *monitoring.MetricsCollector) *AuthGate {
	return &AuthGate{
		jwtSecret: []byte(secret),
		provider:  provider,
		logger:    log,
		metrics:   metrics,
	}
}

// Authorize verifies the request's bearer token against the route policy.
// Expired-but-structurally-valid tokens go through a single coordinated
// refresh; insufficient role or certificate yields Forbidden, never
// Unauthorized.
func (ag *AuthGate) Authorize(w http.ResponseWriter, r *http.Request, policy *types.RoutePolicy) (*types.Identity, error) {
	tokenString, err := bearerToken(r)
	if err != nil {
		ag.audit(r, policy, "", false, err.Error())
		return nil, err
	}

	claims, err := ag.verify(tokenString)
	if err != nil {
		if !errors.Is(err, jwt.ErrTokenExpired) {
			ag.audit(r, policy, "", false, "invalid token")
			return nil, types.NewUnauthorizedError(types.ErrCodeUnauthorized, "invalid token")
		}

		// Expired with a valid signature: one refresh per expiry event,
		// shared by every request observing the same token.
		refreshed, refreshErr := ag.refresh(r, tokenString)
		if refreshErr != nil {
			ag.audit(r, policy, "", false, "token refresh failed")
			return nil, refreshErr
		}

		claims, err = ag.verify(refreshed.AccessToken)
		if err != nil {
			ag.audit(r, policy, "", false, "refreshed token invalid")
			return nil, types.NewUnauthorizedError(types.ErrCodeRefreshFailed, "refreshed token invalid")
		}
		w.Header().Set(RefreshedTokenHeader, refreshed.AccessToken)
	}

	identity := identityFromClaims(claims)

	if policy.CertificateRequired && !identity.HasCertificate() {
		ag.audit(r, policy, identity.UserID, false, "enrollment certificate required")
		return nil, types.NewForbiddenError(types.ErrCodeForbidden, "enrollment certificate required")
	}

	if policy.AdminOnly && !identity.IsAdmin() {
		ag.audit(r, policy, identity.UserID, false, "admin role required")
		return nil, types.NewForbiddenError(types.ErrCodeForbidden, "admin role required")
	}

	ag.audit(r, policy, identity.UserID, true, "")
	return identity, nil
}

// verify parses and validates the token signature and claims
func (ag *AuthGate) verify(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ag.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// refresh performs the coordinated refresh. Concurrent callers for the same
// expired token block on one in-flight provider call; a failed refresh fails
// every waiter and is not retried here.
func (ag *AuthGate) refresh(r *http.Request, expiredToken string) (*types.AuthToken, error) {
	v, err, _ := ag.group.Do(expiredToken, func() (interface{}, error) {
		defer ag.group.Forget(expiredToken)

		token, err := ag.provider.Refresh(r.Context(), expiredToken)
		if ag.metrics != nil {
			ag.metrics.RecordAuthRefresh(err == nil)
		}
		if err != nil {
			ag.logger.Security("token_refresh_failed", "", map[string]interface{}{
				"error": err.Error(),
			})
			return nil, types.NewUnauthorizedError(types.ErrCodeRefreshFailed, "token refresh failed")
		}
		return token, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.AuthToken), nil
}

// audit emits an audit entry when the route's log level requires it. Body
// content is attached only when the policy allows it; otherwise redacted.
func (ag *AuthGate) audit(r *http.Request, policy *types.RoutePolicy, userID string, success bool, reason string) {
	if policy.LogLevel != "debug" && policy.LogLevel != "info" {
		return
	}

	details := map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
	}
	if reason != "" {
		details["reason"] = reason
	}
	if policy.LogBody {
		details["body"] = peekBody(r)
	} else if r.ContentLength > 0 {
		details["body"] = "[redacted]"
	}

	ag.logger.Audit(userID, "authorize", policy.Name, success, details)
}

// peekBody reads a bounded prefix of the request body for audit logging and
// restores it so downstream dispatch sees the full body
func peekBody(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxAuditBodyBytes))
	if err != nil {
		return ""
	}
	rest, _ := io.ReadAll(r.Body)
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(append(buf, rest...)))
	return string(buf)
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", types.NewUnauthorizedError(types.ErrCodeUnauthorized, "missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", types.NewUnauthorizedError(types.ErrCodeUnauthorized, "invalid authorization header format")
	}

	return parts[1], nil
}

func identityFromClaims(claims *JWTClaims) *types.Identity {
	return &types.Identity{
		UserID:          claims.UserID,
		Username:        claims.Username,
		Role:            types.Role(claims.Role),
		OrgID:           claims.OrgID,
		MSPID:           claims.MSPID,
		CertFingerprint: claims.CertFingerprint,
		Permissions:     claims.Permissions,
	}
}

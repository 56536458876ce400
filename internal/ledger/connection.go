package ledger

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/chainvista/dlt-gateway/pkg/config"
	"github.com/chainvista/dlt-gateway/pkg/logger"
	"github.com/chainvista/dlt-gateway/pkg/monitoring"
	"github.com/chainvista/dlt-gateway/pkg/types"
)

// session is an established peer session: a query surface plus teardown
type session interface {
	Evaluate(ctx context.Context, function string, args ...string) ([]byte, error)
	Close() error
}

// fabricSession holds the gRPC channel and Fabric gateway handle for one peer
type fabricSession struct {
	conn     *grpc.ClientConn
	gateway  *client.Gateway
	contract *client.Contract
}

func (fs *fabricSession) Evaluate(ctx context.Context, function string, args ...string) ([]byte, error) {
	return fs.contract.EvaluateWithContext(ctx, function, client.WithArguments(args...))
}

func (fs *fabricSession) Close() error {
	fs.gateway.Close()
	return fs.conn.Close()
}

// ConnectionManager owns the single lazily-initialized, reconnect-capable
// session to the ledger peer. All state transitions are linearized behind one
// mutex; concurrent Initialize calls collapse into one attempt.
type ConnectionManager struct {
	cfg     *config.FabricConfig
	logger  *logger.Logger
	metrics *monitoring.MetricsCollector

	// dial is swapped out in tests
	dial func(ctx context.Context) (session, error)

	group singleflight.Group

	mu        sync.Mutex
	status    types.SessionStatus
	sess      session
	failures  int
	lastCheck time.Time
	lastErr   string
}

// NewConnectionManager creates a connection manager for the configured peer.
// No connection is made until Initialize is called.
func NewConnectionManager(cfg *config.FabricConfig, log *logger.Logger, metrics *monitoring.MetricsCollector) *ConnectionManager {
	cm := &ConnectionManager{
		cfg:     cfg,
		logger:  log,
		metrics: metrics,
		status:  types.SessionUninitialized,
	}
	cm.dial = cm.dialFabric
	return cm
}

// Initialize establishes the peer session. Idempotent: a READY session is
// left alone, and concurrent callers during CONNECTING wait on the same
// in-flight attempt and observe the same outcome.
func (cm *ConnectionManager) Initialize(ctx context.Context) error {
	cm.mu.Lock()
	switch cm.status {
	case types.SessionReady:
		cm.mu.Unlock()
		return nil
	case types.SessionClosed:
		cm.mu.Unlock()
		return notConnectedError()
	}
	cm.mu.Unlock()

	_, err, _ := cm.group.Do("initialize", func() (interface{}, error) {
		cm.mu.Lock()
		if cm.status == types.SessionReady {
			cm.mu.Unlock()
			return nil, nil
		}
		if cm.status == types.SessionClosed {
			cm.mu.Unlock()
			return nil, notConnectedError()
		}
		cm.setStatusLocked(types.SessionConnecting)
		cm.mu.Unlock()

		cm.logger.WithComponent("connection_manager").
			WithField("peer", cm.cfg.PeerEndpoint).Info("Connecting to ledger peer")

		sess, err := cm.dial(ctx)

		cm.mu.Lock()
		defer cm.mu.Unlock()

		if cm.status == types.SessionClosed {
			if err == nil {
				sess.Close()
			}
			return nil, notConnectedError()
		}

		if err != nil {
			cm.setStatusLocked(types.SessionUninitialized)
			cm.lastErr = err.Error()
			cm.logger.WithComponent("connection_manager").WithError(err).
				Error("Ledger peer connection failed")
			return nil, types.NewUnavailableError(types.ErrCodeUpstreamError,
				"failed to connect to ledger peer", err)
		}

		// A reconnect replaces a live degraded session; the old transport
		// must be released or its gRPC connection leaks.
		if cm.sess != nil {
			cm.sess.Close()
		}
		cm.sess = sess
		cm.failures = 0
		cm.lastErr = ""
		cm.setStatusLocked(types.SessionReady)
		cm.logger.WithComponent("connection_manager").
			WithField("channel", cm.cfg.ChannelName).Info("Ledger session established")
		return nil, nil
	})
	return err
}

// Evaluate runs a read-only system chaincode query over the live session
func (cm *ConnectionManager) Evaluate(ctx context.Context, function string, args ...string) ([]byte, error) {
	cm.mu.Lock()
	sess := cm.sess
	status := cm.status
	cm.mu.Unlock()

	if sess == nil || status == types.SessionClosed || status == types.SessionUninitialized || status == types.SessionConnecting {
		return nil, notConnectedError()
	}

	start := time.Now()
	result, err := sess.Evaluate(ctx, function, args...)
	duration := time.Since(start)
	if cm.metrics != nil {
		cm.metrics.RecordLedgerQuery(function, err == nil, duration)
	}
	cm.logger.LedgerQuery(function, args, err == nil, duration.Milliseconds(), nil)
	return result, err
}

// HealthCheck probes the peer with a lightweight chain info query. Success
// confirms (or restores) READY; repeated failure degrades the session until
// Initialize is called again.
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	cm.mu.Lock()
	sess := cm.sess
	status := cm.status
	cm.mu.Unlock()

	if sess == nil || status == types.SessionClosed {
		return notConnectedError()
	}

	_, err := sess.Evaluate(ctx, "GetChainInfo", cm.cfg.ChannelName)

	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.lastCheck = time.Now()

	if cm.status == types.SessionClosed {
		return notConnectedError()
	}

	if err != nil {
		cm.failures++
		cm.lastErr = err.Error()
		if cm.failures >= cm.cfg.FailureThreshold && cm.status == types.SessionReady {
			cm.setStatusLocked(types.SessionDegraded)
			cm.logger.WithComponent("connection_manager").WithError(err).
				WithField("consecutive_failures", cm.failures).
				Warn("Ledger session degraded")
		}
		return types.NewUnavailableError(types.ErrCodeUpstreamError, "ledger health check failed", err)
	}

	cm.failures = 0
	cm.lastErr = ""
	if cm.status == types.SessionDegraded {
		cm.logger.WithComponent("connection_manager").Info("Ledger session recovered")
	}
	cm.setStatusLocked(types.SessionReady)
	return nil
}

// StartHealthLoop runs periodic health checks until the context is
// cancelled. A session that stays DEGRADED after a failed probe is re-dialed,
// so a dead transport recovers without a process restart.
func (cm *ConnectionManager) StartHealthLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, interval)
				if err := cm.HealthCheck(checkCtx); err != nil &&
					cm.CurrentState().Status == types.SessionDegraded {
					cm.Initialize(checkCtx)
				}
				cancel()
			}
		}
	}()
}

// Disconnect tears down the session deterministically. Idempotent; intended
// for process shutdown. Subsequent operations fail with NotConnected.
func (cm *ConnectionManager) Disconnect() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.status == types.SessionClosed {
		return nil
	}

	sess := cm.sess
	cm.sess = nil
	cm.setStatusLocked(types.SessionClosed)

	if sess != nil {
		if err := sess.Close(); err != nil {
			cm.logger.WithComponent("connection_manager").WithError(err).
				Warn("Error closing ledger session")
			return err
		}
	}

	cm.logger.WithComponent("connection_manager").Info("Ledger session closed")
	return nil
}

// CurrentState returns a snapshot of the session state
func (cm *ConnectionManager) CurrentState() types.SessionState {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	return types.SessionState{
		Status:            cm.status,
		PeerEndpoint:      cm.cfg.PeerEndpoint,
		ChannelName:       cm.cfg.ChannelName,
		LastHealthCheckAt: cm.lastCheck,
		LastError:         cm.lastErr,
	}
}

// setStatusLocked updates the status and mirrors it to the metrics gauge.
// Callers must hold cm.mu.
func (cm *ConnectionManager) setStatusLocked(status types.SessionStatus) {
	cm.status = status
	if cm.metrics != nil {
		cm.metrics.SetSessionState(string(status))
	}
}

// dialFabric establishes the gRPC channel and Fabric gateway session and
// binds the qscc contract used for all explorer queries.
func (cm *ConnectionManager) dialFabric(ctx context.Context) (session, error) {
	certPEM, err := os.ReadFile(cm.cfg.CertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read client certificate: %w", err)
	}
	cert, err := identity.CertificateFromPEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client certificate: %w", err)
	}
	id, err := identity.NewX509Identity(cm.cfg.MSPID, cert)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	keyPEM, err := os.ReadFile(cm.cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	key, err := identity.PrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	sign, err := identity.NewPrivateKeySign(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	var transportCreds credentials.TransportCredentials
	if cm.cfg.TLSEnabled {
		transportCreds, err = credentials.NewClientTLSFromFile(cm.cfg.TLSCertPath, cm.cfg.GatewayPeer)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
	} else {
		transportCreds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(cm.cfg.PeerEndpoint, grpc.WithTransportCredentials(transportCreds))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client: %w", err)
	}

	gw, err := client.Connect(
		id,
		client.WithSign(sign),
		client.WithClientConnection(conn),
		client.WithEvaluateTimeout(30*time.Second),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect gateway: %w", err)
	}

	network := gw.GetNetwork(cm.cfg.ChannelName)
	return &fabricSession{
		conn:     conn,
		gateway:  gw,
		contract: network.GetContract("qscc"),
	}, nil
}

func notConnectedError() *types.GatewayError {
	return types.NewUnavailableError(types.ErrCodeNotConnected, "ledger session not connected", nil)
}

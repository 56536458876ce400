package interfaces

import (
	"context"

	"github.com/chainvista/dlt-gateway/pkg/types"
)

// ConnectionManager owns the single process-wide session to the ledger peer.
// Callers obtain it through dependency injection, never through globals.
type ConnectionManager interface {
	// Initialize establishes the session. Idempotent; concurrent callers
	// share one in-flight attempt and observe the same outcome.
	Initialize(ctx context.Context) error

	// Evaluate runs a read-only system chaincode query over the session
	Evaluate(ctx context.Context, function string, args ...string) ([]byte, error)

	// HealthCheck probes the peer with a lightweight ledger query
	HealthCheck(ctx context.Context) error

	// Disconnect tears the session down deterministically. Idempotent.
	Disconnect() error

	// CurrentState returns a snapshot of the session state
	CurrentState() types.SessionState
}

// LedgerExplorer is the read-only query surface over the ledger session
type LedgerExplorer interface {
	GetLedgerInfo(ctx context.Context) (*types.LedgerInfo, error)
	GetLatestBlocks(ctx context.Context, n int) ([]*types.Block, error)
	GetBlockByNumber(ctx context.Context, number uint64) (*types.Block, error)
	GetBlockByHash(ctx context.Context, hash string) (*types.Block, error)
	GetTransactionByID(ctx context.Context, txID string) (*types.Transaction, error)
	GetRawBlockByNumber(ctx context.Context, number uint64) ([]byte, error)
}

package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/chainvista/dlt-gateway/pkg/interfaces"
	"github.com/chainvista/dlt-gateway/pkg/logger"
	"github.com/chainvista/dlt-gateway/pkg/types"
)

// qscc query functions used by the explorer
const (
	qsccGetChainInfo       = "GetChainInfo"
	qsccGetBlockByNumber   = "GetBlockByNumber"
	qsccGetBlockByHash     = "GetBlockByHash"
	qsccGetTransactionByID = "GetTransactionByID"
)

// Explorer is the read-only query surface over the ledger session. It never
// opens a session of its own; all peer access goes through the injected
// connection manager.
type Explorer struct {
	conn    interfaces.ConnectionManager
	channel string
	logger  *logger.Logger
}

// NewExplorer creates a ledger explorer for the given channel
func NewExplorer(conn interfaces.ConnectionManager, channel string, log *logger.Logger) *Explorer {
	return &Explorer{
		conn:    conn,
		channel: channel,
		logger:  log,
	}
}

// GetLedgerInfo returns the current chain tip of the channel
func (e *Explorer) GetLedgerInfo(ctx context.Context) (*types.LedgerInfo, error) {
	raw, err := e.conn.Evaluate(ctx, qsccGetChainInfo, e.channel)
	if err != nil {
		return nil, e.classify(err, types.ErrCodeUpstreamError, "chain info query failed")
	}
	return DecodeChainInfo(raw, e.channel)
}

// GetLatestBlocks returns the most recent n blocks, newest first. The chain
// height is snapshotted once at call start so the walk neither skips nor
// duplicates block numbers if the chain advances mid-walk.
func (e *Explorer) GetLatestBlocks(ctx context.Context, n int) ([]*types.Block, error) {
	if n <= 0 {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "count must be positive")
	}

	info, err := e.GetLedgerInfo(ctx)
	if err != nil {
		return nil, err
	}
	if info.Height == 0 {
		return []*types.Block{}, nil
	}

	count := uint64(n)
	if count > info.Height {
		count = info.Height
	}

	tip := info.Height - 1
	blocks := make([]*types.Block, 0, count)
	for i := uint64(0); i < count; i++ {
		block, err := e.GetBlockByNumber(ctx, tip-i)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}

	return blocks, nil
}

// GetBlockByNumber returns the fully decoded block at the given height
func (e *Explorer) GetBlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	raw, err := e.conn.Evaluate(ctx, qsccGetBlockByNumber, e.channel, strconv.FormatUint(number, 10))
	if err != nil {
		return nil, e.classify(err, types.ErrCodeBlockNotFound, "block query failed")
	}
	return DecodeBlock(raw)
}

// GetBlockByHash returns the unique block whose hash matches the given hex
// string (case-insensitive compare on the decoded hash)
func (e *Explorer) GetBlockByHash(ctx context.Context, hash string) (*types.Block, error) {
	digest, err := hex.DecodeString(strings.ToLower(hash))
	if err != nil {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "block hash must be a hex string")
	}

	raw, err := e.conn.Evaluate(ctx, qsccGetBlockByHash, e.channel, string(digest))
	if err != nil {
		return nil, e.classify(err, types.ErrCodeBlockNotFound, "block hash query failed")
	}

	block, err := DecodeBlock(raw)
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(block.Hash, hash) {
		return nil, types.NewNotFoundError(types.ErrCodeBlockNotFound,
			"no block with matching hash")
	}

	return block, nil
}

// GetTransactionByID returns the decoded committed transaction
func (e *Explorer) GetTransactionByID(ctx context.Context, txID string) (*types.Transaction, error) {
	if txID == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "transaction id is required")
	}

	raw, err := e.conn.Evaluate(ctx, qsccGetTransactionByID, e.channel, txID)
	if err != nil {
		return nil, e.classify(err, types.ErrCodeTxNotFound, "transaction query failed")
	}
	return DecodeProcessedTransaction(raw)
}

// GetRawBlockByNumber returns the block's full decoded structure as JSON
// text without the gateway's response envelope
func (e *Explorer) GetRawBlockByNumber(ctx context.Context, number uint64) ([]byte, error) {
	block, err := e.GetBlockByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(block)
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to encode block", err)
	}
	return raw, nil
}

// classify maps peer query errors onto the gateway taxonomy. Errors already
// carrying a kind pass through; peer index misses become NotFound; anything
// else is an upstream failure.
func (e *Explorer) classify(err error, notFoundCode, message string) error {
	var ge *types.GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	if isNotFound(err) {
		return types.NewNotFoundError(notFoundCode, "ledger entity not found")
	}
	return types.NewUnavailableError(types.ErrCodeUpstreamError, message, err)
}

// isNotFound recognizes the peer's index-miss responses, which arrive as
// endorsement failures rather than typed errors
func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "no such transaction") ||
		strings.Contains(msg, "entry not found in index")
}

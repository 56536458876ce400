package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hyperledger/fabric-protos-go-apiv2/common"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainvista/dlt-gateway/pkg/logger"
	"github.com/chainvista/dlt-gateway/pkg/types"
)

// fakeLedgerConn serves canned qscc responses from an in-memory chain
type fakeLedgerConn struct {
	t *testing.T

	blocks       map[uint64]*common.Block
	blocksByHash map[string]*common.Block
	height       uint64
	transactions map[string]*peer.ProcessedTransaction
}

func (f *fakeLedgerConn) Initialize(ctx context.Context) error  { return nil }
func (f *fakeLedgerConn) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeLedgerConn) Disconnect() error                     { return nil }
func (f *fakeLedgerConn) CurrentState() types.SessionState {
	return types.SessionState{Status: types.SessionReady}
}

func (f *fakeLedgerConn) Evaluate(ctx context.Context, function string, args ...string) ([]byte, error) {
	switch function {
	case qsccGetChainInfo:
		tip := f.blocks[f.height-1]
		tipHash, err := blockHash(tip.GetHeader())
		require.NoError(f.t, err)
		return mustMarshal(f.t, &common.BlockchainInfo{
			Height:            f.height,
			CurrentBlockHash:  tipHash,
			PreviousBlockHash: tip.GetHeader().GetPreviousHash(),
		}), nil

	case qsccGetBlockByNumber:
		number, err := strconv.ParseUint(args[1], 10, 64)
		require.NoError(f.t, err)
		block, ok := f.blocks[number]
		if !ok {
			return nil, errors.New("failed evaluating: entry not found in index")
		}
		return mustMarshal(f.t, block), nil

	case qsccGetBlockByHash:
		block, ok := f.blocksByHash[hex.EncodeToString([]byte(args[1]))]
		if !ok {
			return nil, errors.New("failed evaluating: entry not found in index")
		}
		return mustMarshal(f.t, block), nil

	case qsccGetTransactionByID:
		tx, ok := f.transactions[args[1]]
		if !ok {
			return nil, errors.New("no such transaction ID [" + args[1] + "]")
		}
		return mustMarshal(f.t, tx), nil
	}
	return nil, errors.New("unknown function " + function)
}

// newFakeChain builds a hash-linked chain of the given height, one endorser
// transaction per block
func newFakeChain(t *testing.T, height uint64) *fakeLedgerConn {
	t.Helper()

	conn := &fakeLedgerConn{
		t:            t,
		blocks:       map[uint64]*common.Block{},
		blocksByHash: map[string]*common.Block{},
		transactions: map[string]*peer.ProcessedTransaction{},
	}

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var prevHash []byte
	for n := uint64(0); n < height; n++ {
		txID := "tx-" + strconv.FormatUint(n, 10)
		env := makeEnvelope(t, txID, "Org1MSP", ts.Add(time.Duration(n)*time.Minute),
			"medrecords", "CreateRecord", strconv.FormatUint(n, 10))

		block := makeBlock(t, n, prevHash, []byte{byte(peer.TxValidationCode_VALID)}, env)
		conn.blocks[n] = block

		hash, err := blockHash(block.GetHeader())
		require.NoError(t, err)
		conn.blocksByHash[hex.EncodeToString(hash)] = block
		prevHash = hash

		conn.transactions[txID] = &peer.ProcessedTransaction{
			TransactionEnvelope: env,
			ValidationCode:      int32(peer.TxValidationCode_VALID),
		}
	}
	conn.height = height
	return conn
}

func newTestExplorer(t *testing.T, height uint64) (*Explorer, *fakeLedgerConn) {
	conn := newFakeChain(t, height)
	return NewExplorer(conn, "clinchannel", logger.New("error")), conn
}

func TestExplorer_GetLedgerInfo(t *testing.T) {
	explorer, conn := newTestExplorer(t, 9)

	info, err := explorer.GetLedgerInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "clinchannel", info.ChannelName)
	assert.Equal(t, uint64(9), info.Height)

	tipHash, err := blockHash(conn.blocks[8].GetHeader())
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(tipHash), info.CurrentBlockHash)
}

func TestExplorer_GetLatestBlocks(t *testing.T) {
	explorer, _ := newTestExplorer(t, 9)

	blocks, err := explorer.GetLatestBlocks(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, blocks, 5)

	// Newest first, consecutive, hash-linked
	for i, block := range blocks {
		assert.Equal(t, uint64(8-i), block.Number)
	}
	for i := 0; i < len(blocks)-1; i++ {
		assert.Equal(t, blocks[i+1].Hash, blocks[i].PreviousHash,
			"each block links to its parent")
	}
}

func TestExplorer_GetLatestBlocks_CountExceedsHeight(t *testing.T) {
	explorer, _ := newTestExplorer(t, 3)

	blocks, err := explorer.GetLatestBlocks(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, blocks, 3, "a short chain returns every block it has")
	assert.Equal(t, uint64(2), blocks[0].Number)
	assert.Equal(t, uint64(0), blocks[2].Number)
}

func TestExplorer_GetLatestBlocks_InvalidCount(t *testing.T) {
	explorer, _ := newTestExplorer(t, 3)

	_, err := explorer.GetLatestBlocks(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, types.ErrorKindValidation, types.AsGatewayError(err).Kind)
}

func TestExplorer_GetBlockByNumber(t *testing.T) {
	explorer, _ := newTestExplorer(t, 9)

	block, err := explorer.GetBlockByNumber(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), block.Number)
	require.Len(t, block.Transactions, 1)
	assert.Equal(t, "tx-4", block.Transactions[0].TxID)
}

func TestExplorer_GetBlockByNumber_NotFound(t *testing.T) {
	explorer, _ := newTestExplorer(t, 9)

	_, err := explorer.GetBlockByNumber(context.Background(), 99)
	require.Error(t, err)
	ge := types.AsGatewayError(err)
	assert.Equal(t, types.ErrorKindNotFound, ge.Kind)
	assert.Equal(t, types.ErrCodeBlockNotFound, ge.Code)
}

func TestExplorer_BlockNumberHashRoundTrip(t *testing.T) {
	explorer, _ := newTestExplorer(t, 9)

	byNumber, err := explorer.GetBlockByNumber(context.Background(), 6)
	require.NoError(t, err)

	byHash, err := explorer.GetBlockByHash(context.Background(), byNumber.Hash)
	require.NoError(t, err)
	assert.Equal(t, byNumber.Number, byHash.Number)
	assert.Equal(t, byNumber.Hash, byHash.Hash)

	// Case-insensitive hash lookup
	upper, err := explorer.GetBlockByHash(context.Background(), strings.ToUpper(byNumber.Hash))
	require.NoError(t, err)
	assert.Equal(t, byNumber.Number, upper.Number)
}

func TestExplorer_GetBlockByHash_Invalid(t *testing.T) {
	explorer, _ := newTestExplorer(t, 9)

	_, err := explorer.GetBlockByHash(context.Background(), "not-hex")
	require.Error(t, err)
	assert.Equal(t, types.ErrorKindValidation, types.AsGatewayError(err).Kind)

	_, err = explorer.GetBlockByHash(context.Background(), "deadbeef")
	require.Error(t, err)
	assert.Equal(t, types.ErrorKindNotFound, types.AsGatewayError(err).Kind)
}

func TestExplorer_GetTransactionByID(t *testing.T) {
	explorer, _ := newTestExplorer(t, 9)

	tx, err := explorer.GetTransactionByID(context.Background(), "tx-3")
	require.NoError(t, err)
	assert.Equal(t, "tx-3", tx.TxID)
	assert.Equal(t, "Org1MSP", tx.CreatorMSPID)
	assert.Equal(t, "VALID", tx.ValidationStatus)
	require.NotNil(t, tx.Invocation)
	assert.Equal(t, "CreateRecord", tx.Invocation.Function)
}

func TestExplorer_GetTransactionByID_NotFound(t *testing.T) {
	explorer, _ := newTestExplorer(t, 9)

	_, err := explorer.GetTransactionByID(context.Background(), "tx-missing")
	require.Error(t, err)
	ge := types.AsGatewayError(err)
	assert.Equal(t, types.ErrorKindNotFound, ge.Kind)
	assert.Equal(t, types.ErrCodeTxNotFound, ge.Code)

	_, err = explorer.GetTransactionByID(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, types.ErrorKindValidation, types.AsGatewayError(err).Kind)
}

func TestExplorer_GetRawBlockByNumber(t *testing.T) {
	explorer, _ := newTestExplorer(t, 9)

	raw, err := explorer.GetRawBlockByNumber(context.Background(), 2)
	require.NoError(t, err)

	var block types.Block
	require.NoError(t, json.Unmarshal(raw, &block))
	assert.Equal(t, uint64(2), block.Number)
	assert.Equal(t, 1, block.TxCount)
}

func TestExplorer_UpstreamFailure(t *testing.T) {
	conn := &failingConn{}
	explorer := NewExplorer(conn, "clinchannel", logger.New("error"))

	_, err := explorer.GetLedgerInfo(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrorKindUnavailable, types.AsGatewayError(err).Kind)
}

type failingConn struct{}

func (f *failingConn) Initialize(ctx context.Context) error { return nil }
func (f *failingConn) Evaluate(ctx context.Context, function string, args ...string) ([]byte, error) {
	return nil, errors.New("rpc error: code = Unavailable desc = connection error")
}
func (f *failingConn) HealthCheck(ctx context.Context) error { return nil }
func (f *failingConn) Disconnect() error                     { return nil }
func (f *failingConn) CurrentState() types.SessionState {
	return types.SessionState{Status: types.SessionDegraded}
}

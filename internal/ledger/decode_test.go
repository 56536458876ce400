package ledger

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/hyperledger/fabric-protos-go-apiv2/common"
	"github.com/hyperledger/fabric-protos-go-apiv2/msp"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/chainvista/dlt-gateway/pkg/types"
)

func mustMarshal(t *testing.T, m proto.Message) []byte {
	t.Helper()
	raw, err := proto.Marshal(m)
	require.NoError(t, err)
	return raw
}

// makeEnvelope builds a committed endorser transaction envelope the way the
// peer serializes it: envelope -> payload -> headers plus chaincode action.
func makeEnvelope(t *testing.T, txID, mspID string, ts time.Time, chaincode, function string, args ...string) *common.Envelope {
	t.Helper()

	chaincodeArgs := [][]byte{[]byte(function)}
	for _, arg := range args {
		chaincodeArgs = append(chaincodeArgs, []byte(arg))
	}

	invocationSpec := &peer.ChaincodeInvocationSpec{
		ChaincodeSpec: &peer.ChaincodeSpec{
			ChaincodeId: &peer.ChaincodeID{Name: chaincode},
			Input:       &peer.ChaincodeInput{Args: chaincodeArgs},
		},
	}
	proposalPayload := &peer.ChaincodeProposalPayload{
		Input: mustMarshal(t, invocationSpec),
	}
	actionPayload := &peer.ChaincodeActionPayload{
		ChaincodeProposalPayload: mustMarshal(t, proposalPayload),
	}
	transaction := &peer.Transaction{
		Actions: []*peer.TransactionAction{
			{Payload: mustMarshal(t, actionPayload)},
		},
	}

	channelHeader := &common.ChannelHeader{
		Type:      int32(common.HeaderType_ENDORSER_TRANSACTION),
		TxId:      txID,
		ChannelId: "clinchannel",
		Timestamp: timestamppb.New(ts),
	}
	signatureHeader := &common.SignatureHeader{
		Creator: mustMarshal(t, &msp.SerializedIdentity{Mspid: mspID}),
	}
	payload := &common.Payload{
		Header: &common.Header{
			ChannelHeader:   mustMarshal(t, channelHeader),
			SignatureHeader: mustMarshal(t, signatureHeader),
		},
		Data: mustMarshal(t, transaction),
	}

	return &common.Envelope{Payload: mustMarshal(t, payload)}
}

// makeBlock assembles a block around the given envelopes with the validation
// flags the committing peer records in metadata
func makeBlock(t *testing.T, number uint64, previousHash []byte, flags []byte, envelopes ...*common.Envelope) *common.Block {
	t.Helper()

	data := make([][]byte, 0, len(envelopes))
	for _, env := range envelopes {
		data = append(data, mustMarshal(t, env))
	}

	metadata := make([][]byte, int(common.BlockMetadataIndex_TRANSACTIONS_FILTER)+1)
	metadata[int(common.BlockMetadataIndex_TRANSACTIONS_FILTER)] = flags

	return &common.Block{
		Header: &common.BlockHeader{
			Number:       number,
			PreviousHash: previousHash,
			DataHash:     []byte("data-hash-placeholder"),
		},
		Data:     &common.BlockData{Data: data},
		Metadata: &common.BlockMetadata{Metadata: metadata},
	}
}

func TestDecodeBlock(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	block := makeBlock(t, 7, []byte("prev-hash"),
		[]byte{
			byte(peer.TxValidationCode_VALID),
			byte(peer.TxValidationCode_MVCC_READ_CONFLICT),
		},
		makeEnvelope(t, "tx-1", "Org1MSP", ts, "medrecords", "CreateRecord", "patient-9", "encounter"),
		makeEnvelope(t, "tx-2", "Org2MSP", ts.Add(time.Second), "medrecords", "UpdateRecord", "patient-9"),
	)

	decoded, err := DecodeBlock(mustMarshal(t, block))
	require.NoError(t, err)

	assert.Equal(t, uint64(7), decoded.Number)
	assert.Equal(t, hex.EncodeToString([]byte("prev-hash")), decoded.PreviousHash)
	assert.Equal(t, 2, decoded.TxCount)
	assert.Equal(t, ts, decoded.Timestamp, "block timestamp comes from the first transaction")

	expectedHash, err := blockHash(block.Header)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(expectedHash), decoded.Hash)

	// Commit order is preserved exactly
	require.Len(t, decoded.Transactions, 2)
	first, second := decoded.Transactions[0], decoded.Transactions[1]

	assert.Equal(t, "tx-1", first.TxID)
	assert.Equal(t, "Org1MSP", first.CreatorMSPID)
	assert.Equal(t, "ENDORSER_TRANSACTION", first.Type)
	assert.Equal(t, "VALID", first.ValidationStatus)
	require.NotNil(t, first.Invocation)
	assert.Equal(t, "medrecords", first.Invocation.ChaincodeName)
	assert.Equal(t, "CreateRecord", first.Invocation.Function)
	assert.Equal(t, []string{"patient-9", "encounter"}, first.Invocation.Args)

	assert.Equal(t, "tx-2", second.TxID)
	assert.Equal(t, "Org2MSP", second.CreatorMSPID)
	assert.Equal(t, "MVCC_READ_CONFLICT", second.ValidationStatus)
}

func TestDecodeBlock_HashChainsToParent(t *testing.T) {
	ts := time.Now().UTC().Truncate(time.Second)

	parent := makeBlock(t, 3, []byte("grandparent"), []byte{0},
		makeEnvelope(t, "tx-a", "Org1MSP", ts, "medrecords", "Query"))
	parentHash, err := blockHash(parent.Header)
	require.NoError(t, err)

	child := makeBlock(t, 4, parentHash, []byte{0},
		makeEnvelope(t, "tx-b", "Org1MSP", ts, "medrecords", "Query"))

	decodedParent, err := DecodeBlock(mustMarshal(t, parent))
	require.NoError(t, err)
	decodedChild, err := DecodeBlock(mustMarshal(t, child))
	require.NoError(t, err)

	assert.Equal(t, decodedParent.Hash, decodedChild.PreviousHash)
}

func TestDecodeBlock_MissingValidationFlagsDefaultValid(t *testing.T) {
	ts := time.Now().UTC()
	block := makeBlock(t, 0, nil, nil,
		makeEnvelope(t, "tx-genesis", "OrdererMSP", ts, "cfg", "init"))

	decoded, err := DecodeBlock(mustMarshal(t, block))
	require.NoError(t, err)
	require.Len(t, decoded.Transactions, 1)
	assert.Equal(t, "VALID", decoded.Transactions[0].ValidationStatus)
}

func TestDecodeBlock_MalformedEnvelopeFailsWholeBlock(t *testing.T) {
	ts := time.Now().UTC()
	block := makeBlock(t, 5, []byte("prev"), []byte{0, 0},
		makeEnvelope(t, "tx-ok", "Org1MSP", ts, "medrecords", "Query"))
	block.Data.Data = append(block.Data.Data, []byte{0xFF, 0x01, 0x02})

	_, err := DecodeBlock(mustMarshal(t, block))
	require.Error(t, err)

	ge := types.AsGatewayError(err)
	assert.Equal(t, types.ErrorKindDecode, ge.Kind)
	assert.Equal(t, uint64(5), ge.Details["block_number"])
	assert.Equal(t, 1, ge.Details["tx_index"], "the failing envelope's position is reported")
}

func TestDecodeBlock_GarbageInput(t *testing.T) {
	_, err := DecodeBlock([]byte{0xFF, 0xFE, 0xFD})
	require.Error(t, err)
	assert.Equal(t, types.ErrorKindDecode, types.AsGatewayError(err).Kind)
}

func TestDecodeProcessedTransaction(t *testing.T) {
	ts := time.Date(2026, 5, 2, 17, 0, 0, 0, time.UTC)
	processed := &peer.ProcessedTransaction{
		TransactionEnvelope: makeEnvelope(t, "tx-9", "Org1MSP", ts, "medrecords", "ReadRecord", "patient-1"),
		ValidationCode:      int32(peer.TxValidationCode_MVCC_READ_CONFLICT),
	}

	tx, err := DecodeProcessedTransaction(mustMarshal(t, processed))
	require.NoError(t, err)

	assert.Equal(t, "tx-9", tx.TxID)
	assert.Equal(t, "Org1MSP", tx.CreatorMSPID)
	assert.Equal(t, ts, tx.Timestamp)
	assert.Equal(t, "MVCC_READ_CONFLICT", tx.ValidationStatus,
		"validation status comes from the processed wrapper, not the envelope")
	require.NotNil(t, tx.Invocation)
	assert.Equal(t, "ReadRecord", tx.Invocation.Function)
}

func TestDecodeProcessedTransaction_NoEnvelope(t *testing.T) {
	raw := mustMarshal(t, &peer.ProcessedTransaction{})
	_, err := DecodeProcessedTransaction(raw)
	require.Error(t, err)
	assert.Equal(t, types.ErrorKindDecode, types.AsGatewayError(err).Kind)
}

func TestDecodeChainInfo(t *testing.T) {
	raw := mustMarshal(t, &common.BlockchainInfo{
		Height:            42,
		CurrentBlockHash:  []byte{0xAB, 0xCD},
		PreviousBlockHash: []byte{0x12, 0x34},
	})

	info, err := DecodeChainInfo(raw, "clinchannel")
	require.NoError(t, err)
	assert.Equal(t, "clinchannel", info.ChannelName)
	assert.Equal(t, uint64(42), info.Height)
	assert.Equal(t, "abcd", info.CurrentBlockHash)
	assert.Equal(t, "1234", info.PreviousBlockHash)
}

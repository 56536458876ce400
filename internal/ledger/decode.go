package ledger

import (
	"crypto/sha256"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/hyperledger/fabric-protos-go-apiv2/common"
	"github.com/hyperledger/fabric-protos-go-apiv2/msp"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"google.golang.org/protobuf/proto"

	"github.com/chainvista/dlt-gateway/pkg/types"
)

// asn1BlockHeader is the DER layout the peer hashes to derive a block hash.
// Number is encoded as an ASN.1 INTEGER, hence the big.Int.
type asn1BlockHeader struct {
	Number       *big.Int
	PreviousHash []byte
	DataHash     []byte
}

// blockHash computes the content-addressed hash of a block header exactly as
// the peer does: SHA-256 over the DER encoding of (number, prev, data).
func blockHash(header *common.BlockHeader) ([]byte, error) {
	der, err := asn1.Marshal(asn1BlockHeader{
		Number:       new(big.Int).SetUint64(header.GetNumber()),
		PreviousHash: header.GetPreviousHash(),
		DataHash:     header.GetDataHash(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode block header: %w", err)
	}
	sum := sha256.Sum256(der)
	return sum[:], nil
}

// DecodeBlock unmarshals and fully decodes a binary block envelope.
// Decoding is total: a malformed transaction envelope fails the whole block
// rather than silently dropping entries, and transaction order is preserved
// exactly as committed.
func DecodeBlock(raw []byte) (*types.Block, error) {
	var block common.Block
	if err := proto.Unmarshal(raw, &block); err != nil {
		return nil, types.NewDecodeError("failed to unmarshal block", nil, err)
	}
	return decodeBlock(&block)
}

func decodeBlock(block *common.Block) (*types.Block, error) {
	header := block.GetHeader()
	if header == nil {
		return nil, types.NewDecodeError("block has no header", nil, nil)
	}

	hash, err := blockHash(header)
	if err != nil {
		return nil, types.NewDecodeError("failed to hash block header",
			map[string]interface{}{"block_number": header.GetNumber()}, err)
	}

	decoded := &types.Block{
		Number:       header.GetNumber(),
		Hash:         hex.EncodeToString(hash),
		PreviousHash: hex.EncodeToString(header.GetPreviousHash()),
		DataHash:     hex.EncodeToString(header.GetDataHash()),
	}

	envelopes := block.GetData().GetData()
	validationFlags := transactionValidationFlags(block)

	decoded.Transactions = make([]types.Transaction, 0, len(envelopes))
	for i, envBytes := range envelopes {
		tx, err := decodeEnvelope(envBytes)
		if err != nil {
			return nil, types.NewDecodeError("failed to decode transaction envelope",
				map[string]interface{}{"block_number": header.GetNumber(), "tx_index": i}, err)
		}
		tx.ValidationStatus = validationStatus(validationFlags, i)
		decoded.Transactions = append(decoded.Transactions, *tx)

		// The block carries no timestamp of its own; convention is the
		// first transaction's channel header timestamp.
		if i == 0 {
			decoded.Timestamp = tx.Timestamp
		}
	}
	decoded.TxCount = len(decoded.Transactions)

	return decoded, nil
}

// transactionValidationFlags returns the per-transaction validation codes
// recorded by the committing peer in block metadata, or nil when absent
// (the genesis block of some channels omits them).
func transactionValidationFlags(block *common.Block) []byte {
	metadata := block.GetMetadata().GetMetadata()
	idx := int(common.BlockMetadataIndex_TRANSACTIONS_FILTER)
	if idx >= len(metadata) {
		return nil
	}
	return metadata[idx]
}

func validationStatus(flags []byte, index int) string {
	if index >= len(flags) {
		return peer.TxValidationCode_name[int32(peer.TxValidationCode_VALID)]
	}
	code := int32(flags[index])
	if name, ok := peer.TxValidationCode_name[code]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_CODE_%d", code)
}

// decodeEnvelope decodes a single transaction envelope down to its channel
// header, creator identity and, for endorser transactions, the chaincode
// invocation payload.
func decodeEnvelope(raw []byte) (*types.Transaction, error) {
	var envelope common.Envelope
	if err := proto.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}

	var payload common.Payload
	if err := proto.Unmarshal(envelope.GetPayload(), &payload); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	if payload.GetHeader() == nil {
		return nil, fmt.Errorf("payload has no header")
	}

	var channelHeader common.ChannelHeader
	if err := proto.Unmarshal(payload.GetHeader().GetChannelHeader(), &channelHeader); err != nil {
		return nil, fmt.Errorf("channel header: %w", err)
	}

	tx := &types.Transaction{
		TxID: channelHeader.GetTxId(),
		Type: headerTypeName(channelHeader.GetType()),
	}
	if ts := channelHeader.GetTimestamp(); ts != nil {
		tx.Timestamp = ts.AsTime()
	} else {
		tx.Timestamp = time.Time{}
	}

	mspID, err := creatorMSPID(payload.GetHeader().GetSignatureHeader())
	if err != nil {
		return nil, err
	}
	tx.CreatorMSPID = mspID

	if channelHeader.GetType() == int32(common.HeaderType_ENDORSER_TRANSACTION) {
		invocation, err := decodeChaincodeInvocation(payload.GetData())
		if err != nil {
			return nil, err
		}
		tx.Invocation = invocation
	}

	return tx, nil
}

func headerTypeName(headerType int32) string {
	if name, ok := common.HeaderType_name[headerType]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_TYPE_%d", headerType)
}

func creatorMSPID(signatureHeaderBytes []byte) (string, error) {
	var signatureHeader common.SignatureHeader
	if err := proto.Unmarshal(signatureHeaderBytes, &signatureHeader); err != nil {
		return "", fmt.Errorf("signature header: %w", err)
	}

	var creator msp.SerializedIdentity
	if err := proto.Unmarshal(signatureHeader.GetCreator(), &creator); err != nil {
		return "", fmt.Errorf("creator identity: %w", err)
	}

	return creator.GetMspid(), nil
}

// decodeChaincodeInvocation walks an endorser transaction payload down to the
// invoked chaincode name, function and arguments.
func decodeChaincodeInvocation(payloadData []byte) (*types.ChaincodeInvocation, error) {
	var transaction peer.Transaction
	if err := proto.Unmarshal(payloadData, &transaction); err != nil {
		return nil, fmt.Errorf("transaction: %w", err)
	}
	if len(transaction.GetActions()) == 0 {
		return nil, fmt.Errorf("endorser transaction has no actions")
	}

	var actionPayload peer.ChaincodeActionPayload
	if err := proto.Unmarshal(transaction.GetActions()[0].GetPayload(), &actionPayload); err != nil {
		return nil, fmt.Errorf("chaincode action payload: %w", err)
	}

	var proposalPayload peer.ChaincodeProposalPayload
	if err := proto.Unmarshal(actionPayload.GetChaincodeProposalPayload(), &proposalPayload); err != nil {
		return nil, fmt.Errorf("chaincode proposal payload: %w", err)
	}

	var invocationSpec peer.ChaincodeInvocationSpec
	if err := proto.Unmarshal(proposalPayload.GetInput(), &invocationSpec); err != nil {
		return nil, fmt.Errorf("chaincode invocation spec: %w", err)
	}

	spec := invocationSpec.GetChaincodeSpec()
	invocation := &types.ChaincodeInvocation{
		ChaincodeName: spec.GetChaincodeId().GetName(),
	}

	args := spec.GetInput().GetArgs()
	if len(args) > 0 {
		invocation.Function = string(args[0])
		for _, arg := range args[1:] {
			invocation.Args = append(invocation.Args, string(arg))
		}
	}

	return invocation, nil
}

// DecodeProcessedTransaction decodes the peer's response to a transaction
// lookup: the original envelope plus the validation code assigned at commit.
func DecodeProcessedTransaction(raw []byte) (*types.Transaction, error) {
	var processed peer.ProcessedTransaction
	if err := proto.Unmarshal(raw, &processed); err != nil {
		return nil, types.NewDecodeError("failed to unmarshal processed transaction", nil, err)
	}

	envelope := processed.GetTransactionEnvelope()
	if envelope == nil {
		return nil, types.NewDecodeError("processed transaction has no envelope", nil, nil)
	}

	envBytes, err := proto.Marshal(envelope)
	if err != nil {
		return nil, types.NewDecodeError("failed to re-encode transaction envelope", nil, err)
	}

	tx, err := decodeEnvelope(envBytes)
	if err != nil {
		return nil, types.NewDecodeError("failed to decode transaction envelope", nil, err)
	}

	if name, ok := peer.TxValidationCode_name[processed.GetValidationCode()]; ok {
		tx.ValidationStatus = name
	} else {
		tx.ValidationStatus = fmt.Sprintf("UNKNOWN_CODE_%d", processed.GetValidationCode())
	}

	return tx, nil
}

// DecodeChainInfo decodes a GetChainInfo response into ledger info
func DecodeChainInfo(raw []byte, channelName string) (*types.LedgerInfo, error) {
	var info common.BlockchainInfo
	if err := proto.Unmarshal(raw, &info); err != nil {
		return nil, types.NewDecodeError("failed to unmarshal chain info", nil, err)
	}

	return &types.LedgerInfo{
		ChannelName:       channelName,
		Height:            info.GetHeight(),
		CurrentBlockHash:  hex.EncodeToString(info.GetCurrentBlockHash()),
		PreviousBlockHash: hex.EncodeToString(info.GetPreviousBlockHash()),
	}, nil
}

package types

import "time"

// SessionStatus represents the lifecycle state of the ledger peer session
type SessionStatus string

const (
	SessionUninitialized SessionStatus = "UNINITIALIZED"
	SessionConnecting    SessionStatus = "CONNECTING"
	SessionReady         SessionStatus = "READY"
	SessionDegraded      SessionStatus = "DEGRADED"
	SessionClosed        SessionStatus = "CLOSED"
)

// SessionState is a point-in-time snapshot of the ledger session
type SessionState struct {
	Status            SessionStatus `json:"status"`
	PeerEndpoint      string        `json:"peer_endpoint"`
	ChannelName       string        `json:"channel_name"`
	LastHealthCheckAt time.Time     `json:"last_health_check_at,omitempty"`
	LastError         string        `json:"last_error,omitempty"`
}

// LedgerInfo describes the current chain tip of a channel
type LedgerInfo struct {
	ChannelName       string `json:"channel_name"`
	Height            uint64 `json:"height"`
	CurrentBlockHash  string `json:"current_block_hash"`
	PreviousBlockHash string `json:"previous_block_hash"`
}

// ChaincodeInvocation is the decoded chaincode call carried by a transaction
type ChaincodeInvocation struct {
	ChaincodeName string   `json:"chaincode_name,omitempty"`
	Function      string   `json:"function,omitempty"`
	Args          []string `json:"args,omitempty"`
}

// Transaction is a single decoded transaction envelope within a block.
// It has no lifecycle of its own; ownership is by containment in a Block.
type Transaction struct {
	TxID             string               `json:"tx_id"`
	Type             string               `json:"type"`
	CreatorMSPID     string               `json:"creator_msp_id"`
	Timestamp        time.Time            `json:"timestamp"`
	Invocation       *ChaincodeInvocation `json:"chaincode_invocation,omitempty"`
	ValidationStatus string               `json:"validation_status"`
}

// Block is a decoded, immutable ledger block. Transaction order is exactly
// the order in the binary envelope; it is part of the ledger's integrity
// guarantee and must never be reshuffled.
type Block struct {
	Number       uint64        `json:"number"`
	Hash         string        `json:"hash"`
	PreviousHash string        `json:"previous_hash"`
	DataHash     string        `json:"data_hash"`
	Timestamp    time.Time     `json:"timestamp"`
	TxCount      int           `json:"tx_count"`
	Transactions []Transaction `json:"transactions"`
}

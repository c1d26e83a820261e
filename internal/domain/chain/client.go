package chain

import "context"

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_client.go -package=mocks . Client

// Transaction is a built and signed contract invocation. Hash is deterministic
// from the envelope, which lets a pending Operation be persisted before the
// network call goes out.
type Transaction struct {
	Hash     string
	Envelope string
}

// TxResult is the synchronous outcome of a submission.
type TxResult struct {
	Hash   string
	Status Status
	Error  string
}

// TxStatus is the reported status of a previously submitted transaction.
type TxStatus struct {
	Found       bool
	Status      Status
	BlockHeight int64
	Error       string
}

// Client is the port to the on-chain authority. Implementations talk to an
// RPC endpoint with a protocol-controlled signing credential.
type Client interface {
	// BuildTransaction simulates and signs a contract invocation without
	// submitting it.
	BuildTransaction(ctx context.Context, function string, args map[string]any) (*Transaction, error)
	// SubmitTransaction sends a built transaction to the network.
	SubmitTransaction(ctx context.Context, tx *Transaction) (*TxResult, error)
	// GetTransaction polls the confirmation status of a submitted transaction.
	GetTransaction(ctx context.Context, hash string) (*TxStatus, error)
	// GetMatchState reads the authority's current state for a match.
	GetMatchState(ctx context.Context, onChainMatchID string) (string, error)
}

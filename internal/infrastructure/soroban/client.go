package soroban

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/match-authority/match-authority/internal/domain/chain"
)

var (
	ErrRPC             = errors.New("soroban rpc error")
	ErrInvalidResponse = errors.New("invalid soroban rpc response")
	ErrMissingSigner   = errors.New("signer secret not configured")
)

// Config holds the network parameters for the Soroban RPC endpoint.
type Config struct {
	RPCURL            string
	NetworkPassphrase string
	// ContractID is the match lifecycle contract.
	ContractID string
	// SignerSecret is the protocol-controlled signing credential.
	SignerSecret string
	// RequestTimeout bounds a single RPC round trip.
	RequestTimeout time.Duration
}

// Testnet returns the standard testnet configuration.
func Testnet() Config {
	return Config{
		RPCURL:            "https://soroban-testnet.stellar.org:443",
		NetworkPassphrase: "Test SDF Network ; September 2015",
		RequestTimeout:    15 * time.Second,
	}
}

// Client implements chain.Client against a Soroban JSON-RPC endpoint.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
	nextID atomic.Uint64
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "soroban").Logger(),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type simulateResponse struct {
	TransactionData string            `json:"transactionData"`
	MinResourceFee  string            `json:"minResourceFee"`
	Results         []json.RawMessage `json:"results"`
	LatestLedger    int64             `json:"latestLedger"`
	Error           string            `json:"error,omitempty"`
}

type sendTransactionResponse struct {
	Hash         string `json:"hash"`
	Status       string `json:"status"`
	ErrorResult  string `json:"errorResultXdr,omitempty"`
	LatestLedger int64  `json:"latestLedger"`
}

type getTransactionResponse struct {
	Status    string `json:"status"`
	Ledger    int64  `json:"ledger"`
	ResultXdr string `json:"resultXdr,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRPC, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrRPC, resp.StatusCode)
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%w: %s (code %d)", ErrRPC, envelope.Error.Message, envelope.Error.Code)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	}
	return nil
}

// BuildTransaction simulates the invocation, signs the resulting envelope and
// derives the transaction hash from the signed envelope. The hash is stable
// before submission, so callers can persist it first.
func (c *Client) BuildTransaction(ctx context.Context, function string, args map[string]any) (*chain.Transaction, error) {
	if c.cfg.SignerSecret == "" {
		return nil, ErrMissingSigner
	}

	publicKey := derivePublicKey(c.cfg.SignerSecret)
	invokeOp := map[string]any{
		"contractId":   c.cfg.ContractID,
		"functionName": function,
		"args":         args,
	}
	unsigned, err := json.Marshal(map[string]any{
		"sourceAccount": publicKey,
		"operation":     invokeOp,
	})
	if err != nil {
		return nil, err
	}

	var sim simulateResponse
	params := map[string]any{"transaction": base64.StdEncoding.EncodeToString(unsigned)}
	if err := c.call(ctx, "simulateTransaction", params, &sim); err != nil {
		return nil, err
	}
	if sim.Error != "" {
		return nil, fmt.Errorf("%w: simulation failed: %s", ErrRPC, sim.Error)
	}

	txData, err := json.Marshal(map[string]any{
		"sourceAccount":     publicKey,
		"operation":         invokeOp,
		"transactionData":   sim.TransactionData,
		"minResourceFee":    sim.MinResourceFee,
		"networkPassphrase": c.cfg.NetworkPassphrase,
	})
	if err != nil {
		return nil, err
	}

	signature := signPayload(txData, c.cfg.SignerSecret)
	envelope, err := json.Marshal(map[string]any{
		"tx":         json.RawMessage(txData),
		"signatures": []string{signature},
	})
	if err != nil {
		return nil, err
	}

	encoded := base64.StdEncoding.EncodeToString(envelope)
	hash := sha256.Sum256(envelope)
	return &chain.Transaction{
		Hash:     hex.EncodeToString(hash[:]),
		Envelope: encoded,
	}, nil
}

// SubmitTransaction sends a built transaction to the network.
func (c *Client) SubmitTransaction(ctx context.Context, tx *chain.Transaction) (*chain.TxResult, error) {
	var resp sendTransactionResponse
	params := map[string]any{"transaction": tx.Envelope}
	if err := c.call(ctx, "sendTransaction", params, &resp); err != nil {
		return nil, err
	}

	hash := resp.Hash
	if hash == "" {
		hash = tx.Hash
	}
	result := &chain.TxResult{Hash: hash}
	switch strings.ToUpper(resp.Status) {
	case "ERROR", "FAILED":
		result.Status = chain.StatusFailed
		result.Error = resp.ErrorResult
	default:
		result.Status = chain.StatusPending
	}
	c.logger.Debug().Str("tx_hash", hash).Str("status", string(result.Status)).Msg("transaction submitted")
	return result, nil
}

// GetTransaction polls the confirmation status of a submitted transaction.
func (c *Client) GetTransaction(ctx context.Context, hash string) (*chain.TxStatus, error) {
	var resp getTransactionResponse
	params := map[string]any{"hash": hash}
	if err := c.call(ctx, "getTransaction", params, &resp); err != nil {
		return nil, err
	}

	status := &chain.TxStatus{Found: true, BlockHeight: resp.Ledger}
	switch strings.ToUpper(resp.Status) {
	case "SUCCESS":
		status.Status = chain.StatusSuccess
	case "FAILED":
		status.Status = chain.StatusFailed
		status.Error = resp.ResultXdr
	case "NOT_FOUND":
		status.Found = false
		status.Status = chain.StatusPending
	default:
		status.Status = chain.StatusPending
	}
	return status, nil
}

// GetMatchState reads the match state from the lifecycle contract via a
// read-only simulation of get_match_state.
func (c *Client) GetMatchState(ctx context.Context, onChainMatchID string) (string, error) {
	publicKey := derivePublicKey(c.cfg.SignerSecret)
	unsigned, err := json.Marshal(map[string]any{
		"sourceAccount": publicKey,
		"operation": map[string]any{
			"contractId":   c.cfg.ContractID,
			"functionName": "get_match_state",
			"args":         map[string]any{"match_id": onChainMatchID},
		},
	})
	if err != nil {
		return "", err
	}

	var sim simulateResponse
	params := map[string]any{"transaction": base64.StdEncoding.EncodeToString(unsigned)}
	if err := c.call(ctx, "simulateTransaction", params, &sim); err != nil {
		return "", err
	}
	if sim.Error != "" {
		return "", fmt.Errorf("%w: state read failed: %s", ErrRPC, sim.Error)
	}
	if len(sim.Results) == 0 {
		return "", fmt.Errorf("%w: state read returned no results", ErrInvalidResponse)
	}

	var result struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(sim.Results[0], &result); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if result.State == "" {
		return "", fmt.Errorf("%w: state read returned empty state", ErrInvalidResponse)
	}
	return result.State, nil
}

// derivePublicKey produces the account identifier for a signer secret. Proper
// strkey derivation lives in the signing sidecar; the RPC layer only needs a
// stable source account string.
func derivePublicKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return "G" + strings.ToUpper(hex.EncodeToString(sum[:16]))
}

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

package soroban

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/match-authority/match-authority/internal/domain/chain"
)

type rpcHandler func(params json.RawMessage) (any, *rpcError)

func newTestServer(t *testing.T, handlers map[string]rpcHandler) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)

		handler, ok := handlers[req.Method]
		require.Truef(t, ok, "unexpected method %s", req.Method)

		params, _ := json.Marshal(req.Params)
		result, rpcErr := handler(params)

		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			data, err := json.Marshal(result)
			require.NoError(t, err)
			resp.Result = data
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(url string) *Client {
	cfg := Testnet()
	cfg.RPCURL = url
	cfg.ContractID = "CMATCH"
	cfg.SignerSecret = "STESTSECRET"
	return NewClient(cfg, zerolog.Nop())
}

func TestBuildTransactionDeterministicHash(t *testing.T) {
	srv := newTestServer(t, map[string]rpcHandler{
		"simulateTransaction": func(json.RawMessage) (any, *rpcError) {
			return simulateResponse{
				TransactionData: "txdata",
				MinResourceFee:  "100",
				LatestLedger:    10,
			}, nil
		},
	})
	defer srv.Close()
	c := newTestClient(srv.URL)

	args := map[string]any{"match_id": "match-1", "player_a": "alice", "player_b": "bob"}
	first, err := c.BuildTransaction(context.Background(), "create_match", args)
	require.NoError(t, err)
	second, err := c.BuildTransaction(context.Background(), "create_match", args)
	require.NoError(t, err)

	assert.NotEmpty(t, first.Hash)
	assert.NotEmpty(t, first.Envelope)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, first.Envelope, second.Envelope)
}

func TestBuildTransactionRequiresSigner(t *testing.T) {
	cfg := Testnet()
	cfg.SignerSecret = ""
	c := NewClient(cfg, zerolog.Nop())

	_, err := c.BuildTransaction(context.Background(), "create_match", nil)
	assert.ErrorIs(t, err, ErrMissingSigner)
}

func TestBuildTransactionSimulationError(t *testing.T) {
	srv := newTestServer(t, map[string]rpcHandler{
		"simulateTransaction": func(json.RawMessage) (any, *rpcError) {
			return simulateResponse{Error: "contract trapped"}, nil
		},
	})
	defer srv.Close()
	c := newTestClient(srv.URL)

	_, err := c.BuildTransaction(context.Background(), "start_match", map[string]any{"match_id": "m"})
	assert.ErrorIs(t, err, ErrRPC)
}

func TestSubmitTransactionStatuses(t *testing.T) {
	cases := []struct {
		name       string
		rpcStatus  string
		wantStatus chain.Status
	}{
		{"pending", "PENDING", chain.StatusPending},
		{"duplicate treated as pending", "DUPLICATE", chain.StatusPending},
		{"error", "ERROR", chain.StatusFailed},
		{"failed lowercase", "failed", chain.StatusFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, map[string]rpcHandler{
				"sendTransaction": func(json.RawMessage) (any, *rpcError) {
					return sendTransactionResponse{Hash: "abc123", Status: tc.rpcStatus}, nil
				},
			})
			defer srv.Close()
			c := newTestClient(srv.URL)

			result, err := c.SubmitTransaction(context.Background(), &chain.Transaction{Hash: "abc123", Envelope: "env"})
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, result.Status)
			assert.Equal(t, "abc123", result.Hash)
		})
	}
}

func TestGetTransactionStatuses(t *testing.T) {
	cases := []struct {
		name      string
		resp      getTransactionResponse
		wantFound bool
		want      chain.Status
	}{
		{"success", getTransactionResponse{Status: "SUCCESS", Ledger: 99}, true, chain.StatusSuccess},
		{"failed", getTransactionResponse{Status: "FAILED", ResultXdr: "err"}, true, chain.StatusFailed},
		{"not found", getTransactionResponse{Status: "NOT_FOUND"}, false, chain.StatusPending},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, map[string]rpcHandler{
				"getTransaction": func(json.RawMessage) (any, *rpcError) {
					return tc.resp, nil
				},
			})
			defer srv.Close()
			c := newTestClient(srv.URL)

			status, err := c.GetTransaction(context.Background(), "abc123")
			require.NoError(t, err)
			assert.Equal(t, tc.wantFound, status.Found)
			assert.Equal(t, tc.want, status.Status)
			if tc.resp.Ledger > 0 {
				assert.Equal(t, tc.resp.Ledger, status.BlockHeight)
			}
		})
	}
}

func TestGetMatchState(t *testing.T) {
	srv := newTestServer(t, map[string]rpcHandler{
		"simulateTransaction": func(json.RawMessage) (any, *rpcError) {
			return simulateResponse{
				Results: []json.RawMessage{json.RawMessage(`{"state":"STARTED"}`)},
			}, nil
		},
	})
	defer srv.Close()
	c := newTestClient(srv.URL)

	state, err := c.GetMatchState(context.Background(), "match-1")
	require.NoError(t, err)
	assert.Equal(t, "STARTED", state)
}

func TestGetMatchStateEmptyResults(t *testing.T) {
	srv := newTestServer(t, map[string]rpcHandler{
		"simulateTransaction": func(json.RawMessage) (any, *rpcError) {
			return simulateResponse{}, nil
		},
	})
	defer srv.Close()
	c := newTestClient(srv.URL)

	_, err := c.GetMatchState(context.Background(), "match-1")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestRPCErrorSurfaced(t *testing.T) {
	srv := newTestServer(t, map[string]rpcHandler{
		"getTransaction": func(json.RawMessage) (any, *rpcError) {
			return nil, &rpcError{Code: -32601, Message: "method not found"}
		},
	})
	defer srv.Close()
	c := newTestClient(srv.URL)

	_, err := c.GetTransaction(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrRPC)
}

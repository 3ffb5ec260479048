package solbc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribeTransactionError(t *testing.T) {
	tests := []struct {
		name string
		raw  interface{}
		want string
	}{
		{"nil", nil, ""},
		{"string", "AccountInUse", "AccountInUse"},
		{"custom", map[string]interface{}{"InstructionError": []interface{}{float64(2), map[string]interface{}{"Custom": float64(6001)}}}, "instruction 2: custom program error 6001"},
		{"named", map[string]interface{}{"InstructionError": []interface{}{float64(0), "InvalidAccountData"}}, "instruction 0: InvalidAccountData"},
		{"other", map[string]interface{}{"InsufficientFundsForRent": map[string]interface{}{"account_index": float64(1)}}, "InsufficientFundsForRent: map[account_index:1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DescribeTransactionError(tt.raw))
		})
	}
}

func TestAnalyzeSendError(t *testing.T) {
	rpcErr := &jsonrpc.RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed",
		Data: map[string]interface{}{
			"logs": []interface{}{
				"Program M2mx invoke [1]",
				"Program log: AnchorError occurred. Error Code: SlippageExceeded. Error Number: 6001. Error Message: Slippage exceeded.",
			},
		},
	}

	logs, anchor := AnalyzeSendError(fmt.Errorf("send: %w", rpcErr))
	require.NotNil(t, anchor)
	assert.Len(t, logs, 2)
	assert.Equal(t, AnchorError{Code: 6001, Name: "SlippageExceeded", Msg: "Slippage exceeded"}, *anchor)

	logs, anchor = AnalyzeSendError(errors.New("connection reset"))
	assert.Nil(t, logs)
	assert.Nil(t, anchor)
}

func TestWebSocketURL(t *testing.T) {
	assert.Equal(t, "wss://api.mainnet-beta.solana.com", WebSocketURL("https://api.mainnet-beta.solana.com"))
	assert.Equal(t, "ws://127.0.0.1:8899", WebSocketURL("http://127.0.0.1:8899"))
	assert.Equal(t, "wss://already.example.com", WebSocketURL("wss://already.example.com"))
}

func TestSubscription_CloseOnce(t *testing.T) {
	calls := 0
	sub := NewSubscription[AccountNotification](make(chan AccountNotification), make(chan error), func() { calls++ })
	sub.Close()
	sub.Close()
	assert.Equal(t, 1, calls)

	NewSubscription[LogNotification](nil, nil, nil).Close()
}

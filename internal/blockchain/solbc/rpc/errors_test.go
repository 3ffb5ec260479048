package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"not found", fmt.Errorf("wrapped: %w", solanarpc.ErrNotFound), false},
		{"deadline", context.DeadlineExceeded, true},
		{"rate limit", ErrRateLimit, true},
		{"node unhealthy", &jsonrpc.RPCError{Code: codeNodeUnhealthy, Message: "Node is behind"}, true},
		{"invalid params", &jsonrpc.RPCError{Code: -32602, Message: "Invalid params"}, false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:8899: connect: connection refused"), true},
		{"http 429", errors.New("response status code: 429 Too Many Requests"), true},
		{"bad signature", errors.New("signature verification failure"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"http 429", jsonrpc.NewHTTPError(http.StatusTooManyRequests, errors.New("status code: 429")), ErrRateLimit},
		{"deadline", fmt.Errorf("getBalance: %w", context.DeadlineExceeded), ErrTimeout},
		{"dial refused", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connect: connection refused")}, ErrConnectionFailed},
		{"eof", fmt.Errorf("post: %w", io.EOF), ErrConnectionFailed},
		{"text rate limit", errors.New("response status code: 429 Too Many Requests"), ErrRateLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err, "original error stays in the chain")
			assert.True(t, IsRetryableError(got))
		})
	}

	t.Run("left as is", func(t *testing.T) {
		for _, err := range []error{
			context.Canceled,
			solanarpc.ErrNotFound,
			&jsonrpc.RPCError{Code: -32002, Message: "Transaction simulation failed: timeout"},
		} {
			assert.Same(t, err, classifyError(err))
		}
	})
}

func TestPool_ExecuteRateLimited(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	p, err := NewPool([]string{srv.URL, srv.URL}, zap.NewNop())
	require.NoError(t, err)

	err = p.Execute(context.Background(), "getSlot", func(c *solanarpc.Client) error {
		_, err := c.GetSlot(context.Background(), solanarpc.CommitmentConfirmed)
		return err
	})
	assert.ErrorIs(t, err, ErrRateLimit)
	assert.EqualValues(t, 2, hits.Load(), "rate limit moves on to the next node")

	for _, n := range p.Nodes() {
		_, failed, _ := n.Stats()
		assert.Equal(t, uint64(1), failed)
	}
}

func TestError_Unwrap(t *testing.T) {
	err := NewError(ErrTimeout, "http://node", "getBalance")
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Contains(t, err.Error(), "getBalance")
	assert.Contains(t, err.Error(), "http://node")
}

func TestPool_Execute(t *testing.T) {
	_, err := NewPool(nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrNoNodes)

	p, err := NewPool([]string{"http://a", "http://b", "http://c"}, zap.NewNop())
	assert.NoError(t, err)

	t.Run("tries every node once on transient errors", func(t *testing.T) {
		var seen []*solanarpc.Client
		err := p.Execute(context.Background(), "getBalance", func(c *solanarpc.Client) error {
			seen = append(seen, c)
			return ErrConnectionFailed
		})
		assert.ErrorIs(t, err, ErrConnectionFailed)
		assert.Len(t, seen, 3)
		assert.NotSame(t, seen[0], seen[1])
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		err := p.Execute(context.Background(), "getAccountInfo", func(*solanarpc.Client) error {
			calls++
			return solanarpc.ErrNotFound
		})
		assert.ErrorIs(t, err, solanarpc.ErrNotFound)
		assert.Equal(t, 1, calls)

		var rpcErr *Error
		assert.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, "getAccountInfo", rpcErr.Method)
	})

	t.Run("records node stats", func(t *testing.T) {
		before := uint64(0)
		for _, n := range p.Nodes() {
			s, _, _ := n.Stats()
			before += s
		}
		assert.NoError(t, p.Execute(context.Background(), "getSlot", func(*solanarpc.Client) error { return nil }))
		after := uint64(0)
		for _, n := range p.Nodes() {
			s, _, _ := n.Stats()
			after += s
		}
		assert.Equal(t, before+1, after)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := p.Execute(ctx, "getSlot", func(*solanarpc.Client) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

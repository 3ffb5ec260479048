// internal/blockchain/solbc/rpc/pool.go
package rpc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// Node представляет отдельный RPC узел
type Node struct {
	Client *solanarpc.Client
	URL    string

	successCount atomic.Uint64
	errorCount   atomic.Uint64
	latency      atomic.Int64
}

// Stats возвращает счётчики узла
func (n *Node) Stats() (success, failed uint64, latency time.Duration) {
	return n.successCount.Load(), n.errorCount.Load(), time.Duration(n.latency.Load())
}

func (n *Node) record(err error, latency time.Duration) {
	if err == nil {
		n.successCount.Add(1)
	} else {
		n.errorCount.Add(1)
	}
	// скользящее среднее без блокировок
	prev := n.latency.Load()
	n.latency.Store((prev + int64(latency)) / 2)
}

// Pool раздаёт запросы по узлам round-robin и переключается на следующий узел
// только при временных ошибках.
type Pool struct {
	nodes  []*Node
	logger *zap.Logger

	mu      sync.Mutex
	current int
}

// NewPool создает пул клиентов по списку URL
func NewPool(urls []string, logger *zap.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, ErrNoNodes
	}

	nodes := make([]*Node, 0, len(urls))
	for _, url := range urls {
		nodes = append(nodes, &Node{Client: solanarpc.New(url), URL: url})
	}

	return &Pool{
		nodes:  nodes,
		logger: logger.Named("rpc-pool"),
	}, nil
}

// Nodes возвращает узлы пула
func (p *Pool) Nodes() []*Node {
	return p.nodes
}

func (p *Pool) next() *Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	node := p.nodes[p.current]
	p.current = (p.current + 1) % len(p.nodes)
	return node
}

// Execute выполняет операцию, перебирая узлы не более одного раза каждый.
// Постоянные ошибки (например, NotFound) возвращаются сразу.
func (p *Pool) Execute(ctx context.Context, method string, operation func(*solanarpc.Client) error) error {
	var lastErr error
	for attempt := 0; attempt < len(p.nodes); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		node := p.next()
		start := time.Now()
		err := operation(node.Client)
		node.record(err, time.Since(start))

		if err == nil {
			return nil
		}

		err = classifyError(err)
		lastErr = NewError(err, node.URL, method)
		if !IsRetryableError(err) {
			return lastErr
		}

		p.logger.Debug("RPC request failed, trying next node",
			zap.String("method", method),
			zap.String("url", node.URL),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return lastErr
}

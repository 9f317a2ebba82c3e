package rpc

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/log"
)

// Error definitions
var (
	ErrNoAvailableNodes = errors.New("no available rpc nodes")
)

// MultiClient manages multiple RPC nodes, providing load balancing and failover
type MultiClient struct {
	nodes        []*Node
	globalHeight uint64

	mu sync.RWMutex
}

// NewClient initializes a multi-node client
func NewClient(ctx context.Context, configs []NodeConfig) (*MultiClient, error) {
	if len(configs) == 0 {
		return nil, errors.New("no rpc configs provided")
	}

	nodes := make([]*Node, 0, len(configs))
	for _, cfg := range configs {
		n, err := NewNode(ctx, cfg)
		if err != nil {
			// Unreachable nodes are skipped as long as one node connects
			log.Warn("Skipping unreachable rpc node", "url", cfg.URL, "err", err)
			continue
		}
		nodes = append(nodes, n)
	}

	return NewClientWithNodes(ctx, nodes)
}

// NewClientWithNodes initializes MultiClient with existing nodes (for testing or advanced usage)
func NewClientWithNodes(ctx context.Context, nodes []*Node) (*MultiClient, error) {
	if len(nodes) == 0 {
		return nil, errors.New("failed to connect to any rpc node")
	}

	mc := &MultiClient{
		nodes: nodes,
	}

	// Node heights feed the lag penalty in Node.Score
	go mc.startBackgroundSync(ctx)

	return mc, nil
}

// Nodes returns the managed nodes.
func (mc *MultiClient) Nodes() []*Node {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	out := make([]*Node, len(mc.nodes))
	copy(out, mc.nodes)
	return out
}

// startBackgroundSync periodically polls all nodes to update their heights and scores
func (mc *MultiClient) startBackgroundSync(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	mc.syncNodes(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mc.syncNodes(ctx)
		}
	}
}

func (mc *MultiClient) syncNodes(ctx context.Context) {
	var maxH uint64
	var wg sync.WaitGroup

	for _, n := range mc.Nodes() {
		wg.Add(1)
		go func(node *Node) {
			defer wg.Done()
			// Don't use rate limiter for maintenance traffic
			h, err := node.BlockNumber(ctx)
			if err != nil {
				return
			}
			for {
				cur := atomic.LoadUint64(&maxH)
				if h <= cur || atomic.CompareAndSwapUint64(&maxH, cur, h) {
					return
				}
			}
		}(n)
	}
	wg.Wait()

	if maxH > 0 {
		atomic.StoreUint64(&mc.globalHeight, maxH)
	}
}

// execute performs an RPC request with retry logic and auto node switching
func (mc *MultiClient) execute(ctx context.Context, op func(*Node) error) error {
	// Max attempts = number of nodes (capped at 3 to avoid long loops)
	attempts := len(mc.nodes)
	if attempts > 3 {
		attempts = 3
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		node, err := mc.pickAvailableNode(ctx)
		if err != nil {
			return err
		}

		err = op(node)
		node.Release()
		if err == nil {
			return nil
		}

		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		log.Debug("RPC call failed, switching node", "url", node.URL(), "attempt", i+1, "err", err)
	}

	return lastErr
}

// ChainID retrieves the chain ID from the best available node
func (mc *MultiClient) ChainID(ctx context.Context) (*big.Int, error) {
	var res *big.Int
	err := mc.execute(ctx, func(n *Node) error {
		var e error
		res, e = n.ChainID(ctx)
		return e
	})
	return res, err
}

// BlockNumber retrieves the latest block height across all nodes (cached if possible)
func (mc *MultiClient) BlockNumber(ctx context.Context) (uint64, error) {
	h := atomic.LoadUint64(&mc.globalHeight)
	if h > 0 {
		return h, nil
	}
	var res uint64
	err := mc.execute(ctx, func(n *Node) error {
		var e error
		res, e = n.BlockNumber(ctx)
		return e
	})
	return res, err
}

// CallContract executes an eth_call on the best available node
func (mc *MultiClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var res []byte
	err := mc.execute(ctx, func(n *Node) error {
		var e error
		res, e = n.CallContract(ctx, msg, blockNumber)
		return e
	})
	return res, err
}

// Close closes all underlying RPC connections
func (mc *MultiClient) Close() {
	for _, n := range mc.Nodes() {
		n.Close()
	}
}

// pickAvailableNode selects an available node with auto-switching
func (mc *MultiClient) pickAvailableNode(ctx context.Context) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	globalH := atomic.LoadUint64(&mc.globalHeight)
	candidates := mc.Nodes()
	if len(candidates) == 0 {
		return nil, ErrNoAvailableNodes
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score(globalH) > candidates[j].Score(globalH)
	})

	for _, node := range candidates {
		if err := node.TryAcquire(ctx); err == nil {
			return node, nil
		}
		// Busy, rate-limited or circuit-broken: try the next node
	}

	// All nodes are unavailable, block and wait for the best node that is not broken
	for _, node := range candidates {
		if node.IsCircuitBroken() {
			continue
		}
		if err := node.Acquire(ctx); err != nil {
			return nil, err
		}
		return node, nil
	}

	return nil, ErrNoAvailableNodes
}

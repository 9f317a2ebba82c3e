package rpc

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

var (
	ErrNodeBusy    = errors.New("rpc node is at max concurrency")
	ErrRateLimited = errors.New("rpc node rate limit exceeded")
	ErrCircuitOpen = errors.New("rpc node circuit is open")
)

const (
	// circuitThreshold consecutive errors open the circuit for circuitCooldown
	circuitThreshold = 5
	circuitCooldown  = 30 * time.Second
)

// NodeConfig represents configuration for a single RPC node
type NodeConfig struct {
	URL           string  `mapstructure:"url"`
	Priority      int     `mapstructure:"priority"`       // Initial weight (1-100), higher is more preferred
	RateLimit     float64 `mapstructure:"rate_limit"`     // Requests per second, 0 = unlimited
	MaxConcurrent int     `mapstructure:"max_concurrent"` // In-flight requests, 0 = unlimited
}

// Node wraps the underlying ethclient and provides health monitoring
type Node struct {
	config NodeConfig
	client EthClient // Interface for underlying ethclient

	limiter   *rate.Limiter
	semaphore chan struct{}

	// Dynamic metrics (atomic operations)
	errorCount  uint64 // Consecutive error count
	totalErrors uint64 // Total error count
	latency     int64  // Average latency (ms)
	latestBlock uint64 // Latest block height observed by this node
	lastFailure int64  // Unix nanos of the last failed call
}

// NewNode creates a new RPC node (Production)
func NewNode(ctx context.Context, cfg NodeConfig) (*Node, error) {
	client, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}

	return NewNodeWithClient(cfg, client), nil
}

// NewNodeWithClient initializes Node with a pre-created client (Testing/DI)
func NewNodeWithClient(cfg NodeConfig, client EthClient) *Node {
	n := &Node{
		config: cfg,
		client: client,
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		n.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.MaxConcurrent > 0 {
		n.semaphore = make(chan struct{}, cfg.MaxConcurrent)
	}
	return n
}

// URL returns the node address
func (n *Node) URL() string {
	return n.config.URL
}

// Priority returns the configured weight
func (n *Node) Priority() int {
	return n.config.Priority
}

// Score calculates the real-time score of the node. Higher is better.
// Formula: (Priority * 100) - (Latency / 10) - (ConsecutiveErrors * 500)
// Points are also deducted if the node lags too far behind the global max height.
func (n *Node) Score(globalMaxHeight uint64) int64 {
	score := int64(n.config.Priority) * 100

	avgLatency := atomic.LoadInt64(&n.latency)
	score -= (avgLatency / 10)

	errs := atomic.LoadUint64(&n.errorCount)
	score -= int64(errs) * 500

	myHeight := atomic.LoadUint64(&n.latestBlock)
	if globalMaxHeight > 0 && myHeight < globalMaxHeight {
		lag := globalMaxHeight - myHeight
		if lag > 5 {
			score -= int64(lag) * 50
		}
	}

	return score
}

// RecordMetric records result of a call, updating latency and error count
func (n *Node) RecordMetric(start time.Time, err error) {
	duration := time.Since(start).Milliseconds()

	oldLatency := atomic.LoadInt64(&n.latency)
	if oldLatency == 0 {
		atomic.StoreInt64(&n.latency, duration)
	} else {
		// New latency weight 20%
		newLatency := (oldLatency*8 + duration*2) / 10
		atomic.StoreInt64(&n.latency, newLatency)
	}

	if err != nil {
		atomic.AddUint64(&n.errorCount, 1)
		atomic.AddUint64(&n.totalErrors, 1)
		atomic.StoreInt64(&n.lastFailure, time.Now().UnixNano())
	} else {
		// Decrease error count slowly on success to avoid "jitter"
		current := atomic.LoadUint64(&n.errorCount)
		if current > 0 {
			atomic.StoreUint64(&n.errorCount, current-1)
		}
	}
}

// IsCircuitBroken reports whether the node failed too often recently to be used.
func (n *Node) IsCircuitBroken() bool {
	if atomic.LoadUint64(&n.errorCount) < circuitThreshold {
		return false
	}
	last := atomic.LoadInt64(&n.lastFailure)
	return time.Since(time.Unix(0, last)) < circuitCooldown
}

// TryAcquire reserves the node for one request without blocking.
// Callers must Release the node once the request is done.
func (n *Node) TryAcquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.IsCircuitBroken() {
		return ErrCircuitOpen
	}
	if n.limiter != nil && !n.limiter.Allow() {
		return ErrRateLimited
	}
	if n.semaphore != nil {
		select {
		case n.semaphore <- struct{}{}:
		default:
			return ErrNodeBusy
		}
	}
	return nil
}

// Acquire reserves the node, waiting for rate limit and concurrency slots.
func (n *Node) Acquire(ctx context.Context) error {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if n.semaphore != nil {
		select {
		case n.semaphore <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Release frees the concurrency slot taken by TryAcquire or Acquire.
func (n *Node) Release() {
	if n.semaphore == nil {
		return
	}
	select {
	case <-n.semaphore:
	default:
	}
}

// UpdateHeight updates the latest block height for the node
func (n *Node) UpdateHeight(h uint64) {
	current := atomic.LoadUint64(&n.latestBlock)
	if h > current {
		atomic.StoreUint64(&n.latestBlock, h)
	}
}

// GetErrorCount returns the current consecutive error count
func (n *Node) GetErrorCount() uint64 {
	return atomic.LoadUint64(&n.errorCount)
}

// GetTotalErrors returns the total error count
func (n *Node) GetTotalErrors() uint64 {
	return atomic.LoadUint64(&n.totalErrors)
}

// GetLatency returns the average latency in ms
func (n *Node) GetLatency() int64 {
	return atomic.LoadInt64(&n.latency)
}

// GetLatestBlock returns the latest block height observed by this node
func (n *Node) GetLatestBlock() uint64 {
	return atomic.LoadUint64(&n.latestBlock)
}

// Proxy Methods (implement Client interface)

func (n *Node) BlockNumber(ctx context.Context) (uint64, error) {
	start := time.Now()
	h, err := n.client.BlockNumber(ctx)
	n.RecordMetric(start, err)
	if err == nil {
		n.UpdateHeight(h)
	}
	return h, err
}

func (n *Node) ChainID(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	id, err := n.client.ChainID(ctx)
	n.RecordMetric(start, err)
	return id, err
}

func (n *Node) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	start := time.Now()
	out, err := n.client.CallContract(ctx, msg, blockNumber)
	n.RecordMetric(start, err)
	return out, err
}

func (n *Node) Close() {
	n.client.Close()
}

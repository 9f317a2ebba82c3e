package rpc

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestNewNode(t *testing.T) {
	ctx := context.Background()
	// Fails to dial invalid URL
	_, err := NewNode(ctx, NodeConfig{URL: "invalid", Priority: 10})
	assert.Error(t, err)
}

func TestNode_ProxyMethods(t *testing.T) {
	ctx := context.Background()
	mockEth := new(MockEthClient)
	node := NewNodeWithClient(NodeConfig{URL: "test", Priority: 10}, mockEth)

	// 1. BlockNumber
	mockEth.On("BlockNumber", ctx).Return(uint64(100), nil).Once()
	h, err := node.BlockNumber(ctx)
	assert.NoError(t, err)
	assert.Equal(t, uint64(100), h)
	assert.Equal(t, uint64(100), node.GetLatestBlock())

	// 2. ChainID
	mockEth.On("ChainID", ctx).Return(big.NewInt(1), nil).Once()
	id, err := node.ChainID(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), id.Int64())

	// 3. CallContract
	to := common.HexToAddress("0x1")
	msg := ethereum.CallMsg{To: &to}
	mockEth.On("CallContract", ctx, msg, (*big.Int)(nil)).Return([]byte{0x1}, nil).Once()
	_, err = node.CallContract(ctx, msg, nil)
	assert.NoError(t, err)

	// 4. Close
	mockEth.On("Close").Once()
	node.Close()

	assert.Equal(t, uint64(0), node.GetErrorCount())
}

func TestNode_ErrorCountDecays(t *testing.T) {
	n := NewNodeWithClient(NodeConfig{URL: "test"}, new(MockEthClient))
	n.RecordMetric(time.Now(), errors.New("fail"))
	n.RecordMetric(time.Now(), errors.New("fail"))
	assert.Equal(t, uint64(2), n.GetErrorCount())

	n.RecordMetric(time.Now(), nil)
	assert.Equal(t, uint64(1), n.GetErrorCount())
	assert.Equal(t, uint64(2), n.GetTotalErrors())
}

func TestNode_CircuitBreaker(t *testing.T) {
	n := NewNodeWithClient(NodeConfig{URL: "test"}, new(MockEthClient))
	for i := 0; i < circuitThreshold-1; i++ {
		n.RecordMetric(time.Now(), errors.New("fail"))
	}
	assert.False(t, n.IsCircuitBroken())
	assert.NoError(t, n.TryAcquire(context.Background()))
	n.Release()

	n.RecordMetric(time.Now(), errors.New("fail"))
	assert.True(t, n.IsCircuitBroken())
	assert.ErrorIs(t, n.TryAcquire(context.Background()), ErrCircuitOpen)

	// Cooldown elapsed
	atomic.StoreInt64(&n.lastFailure, time.Now().Add(-2*circuitCooldown).UnixNano())
	assert.False(t, n.IsCircuitBroken())
}

func TestNode_ConcurrencyLimit(t *testing.T) {
	ctx := context.Background()
	node := NewNodeWithClient(NodeConfig{
		URL:           "test",
		Priority:      10,
		MaxConcurrent: 10,
	}, new(MockEthClient))

	var wg sync.WaitGroup
	successCount := int32(0)
	busyCount := int32(0)
	release := make(chan struct{})

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := node.TryAcquire(ctx)
			if err == nil {
				atomic.AddInt32(&successCount, 1)
				<-release
				node.Release()
			} else if errors.Is(err, ErrNodeBusy) {
				atomic.AddInt32(&busyCount, 1)
			}
		}()
	}

	// Wait until every goroutine either holds a slot or was rejected
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&successCount)+atomic.LoadInt32(&busyCount) == 100
	}, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(10), successCount)
	assert.Equal(t, int32(90), busyCount)
}

func TestNode_RateLimit(t *testing.T) {
	ctx := context.Background()
	node := NewNodeWithClient(NodeConfig{
		URL:       "test",
		Priority:  10,
		RateLimit: 10,
	}, new(MockEthClient))

	allowed, limited := 0, 0
	for i := 0; i < 50; i++ {
		err := node.TryAcquire(ctx)
		switch {
		case err == nil:
			allowed++
			node.Release()
		case errors.Is(err, ErrRateLimited):
			limited++
		}
	}

	// Burst of 10, then the limiter rejects until tokens refill
	assert.GreaterOrEqual(t, allowed, 10)
	assert.Less(t, allowed, 50)
	assert.Equal(t, 50, allowed+limited)
}

func TestNode_AcquireRespectsContext(t *testing.T) {
	node := NewNodeWithClient(NodeConfig{URL: "test", MaxConcurrent: 1}, new(MockEthClient))
	assert.NoError(t, node.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, node.Acquire(ctx), context.DeadlineExceeded)

	node.Release()
	assert.NoError(t, node.Acquire(context.Background()))
	node.Release()
}

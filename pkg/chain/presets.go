package chain

import (
	"sync"
)

// Preset holds the per-chain defaults used to build links and price lookups
type Preset struct {
	ChainID       uint64
	ExplorerURL   string // Block explorer base, used for transaction links
	PricePlatform string // CoinGecko asset platform id
	Endpoint      string // (Optional) Default public RPC
}

var (
	registry = make(map[string]Preset)
	mu       sync.RWMutex
)

// Register adds a new chain preset to the global registry.
func Register(name string, p Preset) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = p
}

// Get retrieves a preset configuration from the registry by its name.
func Get(name string) (Preset, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// Built-in presets
func init() {
	Register("eth-mainnet", Preset{
		ChainID:       1,
		ExplorerURL:   "https://etherscan.io",
		PricePlatform: "ethereum",
	})

	Register("bsc-mainnet", Preset{
		ChainID:       56,
		ExplorerURL:   "https://bscscan.com",
		PricePlatform: "binance-smart-chain",
	})

	Register("polygon-mainnet", Preset{
		ChainID:       137,
		ExplorerURL:   "https://polygonscan.com",
		PricePlatform: "polygon-pos",
	})

	Register("base-mainnet", Preset{
		ChainID:       8453,
		ExplorerURL:   "https://basescan.org",
		PricePlatform: "base",
	})
}

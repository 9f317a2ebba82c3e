package enrich

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"

	"github.com/84hero/burn-notifier/pkg/decoder"
)

// DefaultTimeout bounds each external fetch when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// BalanceSource reads the aggregate balance held at the burn address, in base units.
type BalanceSource interface {
	BurnedBalance(ctx context.Context) (*big.Int, error)
}

// PriceSource quotes the token's USD unit price.
// An invalid NullDecimal with a nil error means the price is unknown.
type PriceSource interface {
	TokenPrice(ctx context.Context) (decimal.NullDecimal, error)
}

// EnrichmentError reports a failure to fetch data the notification cannot do without.
type EnrichmentError struct {
	Source string
	Err    error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment failed: %s: %v", e.Source, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// Enrichment is the point-in-time context attached to one transfer.
type Enrichment struct {
	TotalBurned  *big.Int // Whole tokens held at the burn address
	UnitPriceUSD decimal.NullDecimal
}

// Resolver fetches Enrichment for decoded transfers.
type Resolver struct {
	balances BalanceSource
	prices   PriceSource
	timeout  time.Duration
}

// NewResolver creates a resolver. prices may be nil to skip price lookups.
func NewResolver(balances BalanceSource, prices PriceSource, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{
		balances: balances,
		prices:   prices,
		timeout:  timeout,
	}
}

// Resolve fetches the current burned total and, best effort, the USD price.
// Only a balance failure is returned as an error.
func (r *Resolver) Resolve(ctx context.Context, transfer *decoder.Transfer) (*Enrichment, error) {
	balanceCtx, cancel := context.WithTimeout(ctx, r.timeout)
	balance, err := r.balances.BurnedBalance(balanceCtx)
	cancel()
	if err != nil {
		return nil, &EnrichmentError{Source: "burned balance", Err: err}
	}
	if balance == nil {
		return nil, &EnrichmentError{Source: "burned balance", Err: fmt.Errorf("no balance returned")}
	}

	out := &Enrichment{
		TotalBurned: decoder.ToWholeTokens(balance),
	}

	if r.prices != nil {
		priceCtx, cancel := context.WithTimeout(ctx, r.timeout)
		price, err := r.prices.TokenPrice(priceCtx)
		cancel()
		if err != nil {
			log.Warn("Price lookup failed, continuing without USD values", "recipient", transfer.Recipient, "err", err)
		} else {
			out.UnitPriceUSD = price
		}
	}

	return out, nil
}

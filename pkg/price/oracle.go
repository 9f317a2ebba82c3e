package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// DefaultBaseURL is the public CoinGecko API root.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// Config holds configuration for the price oracle client.
type Config struct {
	Enabled  bool          `mapstructure:"enabled"`
	BaseURL  string        `mapstructure:"base_url"`
	Platform string        `mapstructure:"platform"` // e.g. "ethereum"
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Oracle looks up USD quotes by token contract address.
// It speaks the CoinGecko simple/token_price API.
type Oracle struct {
	cfg        Config
	contract   string
	httpClient *http.Client
}

// NewOracle creates an oracle quoting the token at contract.
func NewOracle(cfg Config, contract string) *Oracle {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Platform == "" {
		cfg.Platform = "ethereum"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Oracle{
		cfg:      cfg,
		contract: strings.ToLower(contract),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// TokenPrice returns the current USD unit price.
// A token without a listing yields an invalid NullDecimal and a nil error.
func (o *Oracle) TokenPrice(ctx context.Context) (decimal.NullDecimal, error) {
	if !o.cfg.Enabled {
		return decimal.NullDecimal{}, nil
	}

	endpoint := fmt.Sprintf("%s/simple/token_price/%s?%s",
		strings.TrimRight(o.cfg.BaseURL, "/"),
		url.PathEscape(o.cfg.Platform),
		url.Values{
			"contract_addresses": {o.contract},
			"vs_currencies":      {"usd"},
		}.Encode(),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.NullDecimal{}, errors.Wrap(err, "failed to build price request")
	}
	req.Header.Set("Accept", "application/json")
	if o.cfg.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", o.cfg.APIKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return decimal.NullDecimal{}, errors.Wrap(err, "price request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decimal.NullDecimal{}, errors.Errorf("price request: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.NullDecimal{}, errors.Wrap(err, "failed to read price response")
	}

	// {"0xabc...": {"usd": 0.0012}}
	var quotes map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &quotes); err != nil {
		return decimal.NullDecimal{}, errors.Wrap(err, "failed to decode price response")
	}

	for addr, q := range quotes {
		if strings.ToLower(addr) != o.contract {
			continue
		}
		if usd, ok := q["usd"]; ok {
			return decimal.NewNullDecimal(usd), nil
		}
	}

	return decimal.NullDecimal{}, nil
}

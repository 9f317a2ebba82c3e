package notify

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/84hero/burn-notifier/pkg/decoder"
	"github.com/84hero/burn-notifier/pkg/enrich"
)

// Config controls the alert text and media.
type Config struct {
	Title       string `mapstructure:"title"`  // Who burns, e.g. "Frog Soup Cafe"
	Symbol      string `mapstructure:"symbol"` // Token ticker without "$"
	Media       string `mapstructure:"media"`  // File path or URL of the alert image
	Footer      string `mapstructure:"footer"` // Optional closing line
	ExplorerURL string `mapstructure:"explorer_url"`
}

// Payload is one outbound chat message.
type Payload struct {
	Caption  string
	MediaRef string
}

// Formatter renders burn alerts as Telegram Markdown captions.
type Formatter struct {
	cfg Config
}

// NewFormatter creates a formatter.
func NewFormatter(cfg Config) *Formatter {
	if cfg.Symbol == "" {
		cfg.Symbol = "TOKEN"
	}
	if cfg.ExplorerURL == "" {
		cfg.ExplorerURL = "https://etherscan.io"
	}
	cfg.ExplorerURL = strings.TrimRight(cfg.ExplorerURL, "/")
	return &Formatter{cfg: cfg}
}

// TxURL returns the block explorer link for a transaction.
func (f *Formatter) TxURL(txHash string) string {
	return f.cfg.ExplorerURL + "/tx/" + txHash
}

// Format builds the alert for one burn.
// USD values are omitted when the unit price is unknown.
func (f *Formatter) Format(txHash string, t *decoder.Transfer, e *enrich.Enrichment) (Payload, error) {
	if t == nil || t.Amount == nil {
		return Payload{}, errors.New("format: missing transfer amount")
	}
	if e == nil || e.TotalBurned == nil {
		return Payload{}, errors.New("format: missing burned total")
	}

	sym := "$" + f.cfg.Symbol

	var b strings.Builder
	if f.cfg.Title != "" {
		fmt.Fprintf(&b, "🔥 %s just burnt %s *%s*%s! 🔥\n", f.cfg.Title, sym, t.Amount, usdSuffix(t.Amount, e.UnitPriceUSD))
	} else {
		fmt.Fprintf(&b, "🔥 %s *%s*%s burnt! 🔥\n", sym, t.Amount, usdSuffix(t.Amount, e.UnitPriceUSD))
	}
	fmt.Fprintf(&b, "\n🔥 Total %s burned: %s *%s*%s\n\n", sym, sym, e.TotalBurned, usdSuffix(e.TotalBurned, e.UnitPriceUSD))
	fmt.Fprintf(&b, "Transaction Hash: %s \n", f.TxURL(txHash))
	if f.cfg.Footer != "" {
		fmt.Fprintf(&b, "\n%s", f.cfg.Footer)
	}

	return Payload{
		Caption:  strings.TrimRight(b.String(), "\n"),
		MediaRef: f.cfg.Media,
	}, nil
}

// FormatFailure builds the diagnostic text sent when an event cannot be processed.
func (f *Formatter) FormatFailure(txHash string, err error) string {
	return fmt.Sprintf("Error processing transfer %s: %v", txHash, err)
}

func usdSuffix(amount *big.Int, price decimal.NullDecimal) string {
	if !price.Valid {
		return ""
	}
	return " (~$" + FormatUSD(decimal.NewFromBigInt(amount, 0).Mul(price.Decimal)) + ")"
}

// FormatUSD renders v with two decimals and thousands separators.
func FormatUSD(v decimal.Decimal) string {
	s := v.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")
	var grouped strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}

	out := grouped.String() + "." + frac
	if neg {
		out = "-" + out
	}
	return out
}

package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"stockbot/internal/apperr"

	"github.com/shopspring/decimal"
)

// ErrQuoteUnavailable is returned for every failed fetch: network errors,
// unknown symbols and provider schema changes alike.
var ErrQuoteUnavailable = errors.New("quote unavailable")

// QuoteSnapshot is a point-in-time read of market data for one symbol.
// It is created per fetch and never cached.
type QuoteSnapshot struct {
	Symbol     string          `json:"symbol"`
	ShortName  string          `json:"short_name,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Week52Low  decimal.Decimal `json:"week52_low"`
	Week52High decimal.Decimal `json:"week52_high"`
	Sector     string          `json:"sector"`
	MarketCap  int64           `json:"market_cap,omitempty"`
	Summary    string          `json:"summary,omitempty"`
	Source     string          `json:"source"`
	FetchedAt  time.Time       `json:"fetched_at"`
}

type QuoteProvider interface {
	GetQuote(ctx context.Context, symbol string) (QuoteSnapshot, error)
}

// HTTPClient is the subset of *http.Client used by the HTTP providers.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// validate reports whether every required field came back from the provider.
func (q QuoteSnapshot) validate() error {
	var missing []string
	if q.Symbol == "" {
		missing = append(missing, "symbol")
	}
	if !q.Price.IsPositive() {
		missing = append(missing, "price")
	}
	if !q.Week52Low.IsPositive() {
		missing = append(missing, "week52_low")
	}
	if !q.Week52High.IsPositive() {
		missing = append(missing, "week52_high")
	}
	if strings.TrimSpace(q.Sector) == "" {
		missing = append(missing, "sector")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", apperr.ErrSchema, strings.Join(missing, ","))
	}
	return nil
}

func unavailable(symbol string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrQuoteUnavailable, symbol, cause)
}

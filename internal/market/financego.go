package market

import (
	"context"
	"fmt"
	"time"

	"stockbot/internal/apperr"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"
)

// financeGoSector is reported because the finance-go quote endpoint carries
// no sector field.
const financeGoSector = "N/A"

// FinanceGoProvider reads quotes through piquette/finance-go.
type FinanceGoProvider struct {
	get func(symbol string) (*finance.Quote, error)
}

func NewFinanceGoProvider() *FinanceGoProvider {
	return &FinanceGoProvider{get: quote.Get}
}

func (p *FinanceGoProvider) GetQuote(ctx context.Context, symbol string) (QuoteSnapshot, error) {
	symbol = NormalizeSymbol(symbol)
	if err := ctx.Err(); err != nil {
		return QuoteSnapshot{}, unavailable(symbol, err)
	}
	q, err := p.get(symbol)
	if err != nil {
		return QuoteSnapshot{}, unavailable(symbol, fmt.Errorf("request finance-go: %w", err))
	}
	if q == nil {
		return QuoteSnapshot{}, unavailable(symbol, fmt.Errorf("%w: finance-go returned no quote", apperr.ErrNotFound))
	}

	name := q.ShortName
	if name == "" {
		name = symbol
	}
	out := QuoteSnapshot{
		Symbol:     symbol,
		ShortName:  name,
		Price:      decimal.NewFromFloat(q.RegularMarketPrice),
		Week52Low:  decimal.NewFromFloat(q.FiftyTwoWeekLow),
		Week52High: decimal.NewFromFloat(q.FiftyTwoWeekHigh),
		Sector:     financeGoSector,
		Source:     "finance-go",
		FetchedAt:  time.Now(),
	}
	if err := out.validate(); err != nil {
		return QuoteSnapshot{}, unavailable(symbol, err)
	}
	return out, nil
}

package market

import (
	"context"
	"errors"
	"fmt"
)

type MultiProvider struct {
	providers []QuoteProvider
}

func NewMultiProvider(providers ...QuoteProvider) *MultiProvider {
	return &MultiProvider{providers: providers}
}

// GetQuote returns the first successful provider answer. A not-found from
// one provider does not stop the chain.
func (m *MultiProvider) GetQuote(ctx context.Context, symbol string) (QuoteSnapshot, error) {
	if len(m.providers) == 0 {
		return QuoteSnapshot{}, unavailable(symbol, fmt.Errorf("no market providers configured"))
	}
	var errs []error
	for _, p := range m.providers {
		q, err := p.GetQuote(ctx, symbol)
		if err == nil {
			return q, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return QuoteSnapshot{}, errors.Join(errs...)
}

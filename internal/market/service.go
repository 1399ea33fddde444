package market

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"golang.org/x/sync/singleflight"
)

// Service is the quote fetcher used by the chat pipeline. Identical
// in-flight requests are shared; finished results are not kept.
type Service struct {
	provider QuoteProvider
	timeout  time.Duration
	group    singleflight.Group
}

func NewService(provider QuoteProvider, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{provider: provider, timeout: timeout}
}

func (s *Service) Fetch(ctx context.Context, symbol string) (QuoteSnapshot, error) {
	symbol = NormalizeSymbol(symbol)
	if s.provider == nil {
		return QuoteSnapshot{}, unavailable(symbol, fmt.Errorf("market provider not configured"))
	}
	if symbol == "" {
		return QuoteSnapshot{}, unavailable(symbol, fmt.Errorf("symbol is empty"))
	}

	v, err, shared := s.group.Do(symbol, func() (any, error) {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.provider.GetQuote(cctx, symbol)
	})
	if err != nil {
		hlog.CtxWarnf(ctx, "market fetch error: symbol=%s err=%v", symbol, err)
		return QuoteSnapshot{}, err
	}
	q := v.(QuoteSnapshot)
	hlog.CtxDebugf(ctx, "market fetch ok: symbol=%s source=%s shared=%v", symbol, q.Source, shared)
	return q, nil
}

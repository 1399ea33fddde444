package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stockbot/internal/apperr"

	"github.com/shopspring/decimal"
)

const defaultYahooURL = "https://query2.finance.yahoo.com/v10/finance/quoteSummary/"

type YahooProvider struct {
	baseURL   string
	client    HTTPClient
	userAgent string
}

type YahooOption func(*YahooProvider)

func WithHTTPClient(c HTTPClient) YahooOption {
	return func(p *YahooProvider) {
		if c != nil {
			p.client = c
		}
	}
}

func WithBaseURL(u string) YahooOption {
	return func(p *YahooProvider) {
		if u != "" {
			if !strings.HasSuffix(u, "/") {
				u += "/"
			}
			p.baseURL = u
		}
	}
}

type yahooResp struct {
	QuoteSummary struct {
		Result []yahooResult `json:"result"`
		Error  *yahooError   `json:"error"`
	} `json:"quoteSummary"`
}

type yahooError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type yahooValue struct {
	Raw decimal.Decimal `json:"raw"`
}

type yahooResult struct {
	Price *struct {
		Symbol             string     `json:"symbol"`
		ShortName          string     `json:"shortName"`
		RegularMarketPrice yahooValue `json:"regularMarketPrice"`
		MarketCap          yahooValue `json:"marketCap"`
	} `json:"price"`
	SummaryDetail *struct {
		FiftyTwoWeekLow  yahooValue `json:"fiftyTwoWeekLow"`
		FiftyTwoWeekHigh yahooValue `json:"fiftyTwoWeekHigh"`
	} `json:"summaryDetail"`
	AssetProfile *struct {
		Sector              string `json:"sector"`
		LongBusinessSummary string `json:"longBusinessSummary"`
	} `json:"assetProfile"`
}

func NewYahooProvider(timeout time.Duration, opts ...YahooOption) *YahooProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	p := &YahooProvider{
		baseURL:   defaultYahooURL,
		client:    &http.Client{Timeout: timeout},
		userAgent: "Mozilla/5.0 (compatible; stockbot/1.0)",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *YahooProvider) GetQuote(ctx context.Context, symbol string) (QuoteSnapshot, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return QuoteSnapshot{}, unavailable(symbol, fmt.Errorf("%w: empty symbol", apperr.ErrNotFound))
	}

	u, err := url.Parse(p.baseURL + url.PathEscape(symbol))
	if err != nil {
		return QuoteSnapshot{}, unavailable(symbol, fmt.Errorf("invalid base url: %w", err))
	}
	q := u.Query()
	q.Set("modules", "price,summaryDetail,assetProfile")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return QuoteSnapshot{}, unavailable(symbol, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return QuoteSnapshot{}, unavailable(symbol, fmt.Errorf("request yahoo: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return QuoteSnapshot{}, unavailable(symbol, fmt.Errorf("%w: yahoo status %d", apperr.ErrAuth, resp.StatusCode))
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return QuoteSnapshot{}, unavailable(symbol, fmt.Errorf("yahoo status %d", resp.StatusCode))
	}

	var payload yahooResp
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return QuoteSnapshot{}, unavailable(symbol, fmt.Errorf("%w: decode yahoo: %v", apperr.ErrSchema, err))
	}
	if e := payload.QuoteSummary.Error; e != nil {
		if strings.EqualFold(e.Code, "not found") {
			return QuoteSnapshot{}, unavailable(symbol, fmt.Errorf("%w: %s", apperr.ErrNotFound, e.Description))
		}
		return QuoteSnapshot{}, unavailable(symbol, fmt.Errorf("yahoo error %s: %s", e.Code, e.Description))
	}
	if resp.StatusCode == http.StatusNotFound || len(payload.QuoteSummary.Result) == 0 {
		return QuoteSnapshot{}, unavailable(symbol, fmt.Errorf("%w: empty result", apperr.ErrNotFound))
	}

	r := payload.QuoteSummary.Result[0]
	if r.Price == nil || r.SummaryDetail == nil || r.AssetProfile == nil {
		return QuoteSnapshot{}, unavailable(symbol, fmt.Errorf("%w: missing module", apperr.ErrSchema))
	}

	out := QuoteSnapshot{
		Symbol:     symbol,
		ShortName:  r.Price.ShortName,
		Price:      r.Price.RegularMarketPrice.Raw,
		Week52Low:  r.SummaryDetail.FiftyTwoWeekLow.Raw,
		Week52High: r.SummaryDetail.FiftyTwoWeekHigh.Raw,
		Sector:     r.AssetProfile.Sector,
		MarketCap:  r.Price.MarketCap.Raw.IntPart(),
		Summary:    r.AssetProfile.LongBusinessSummary,
		Source:     "yahoo",
		FetchedAt:  time.Now(),
	}
	if out.ShortName == "" {
		out.ShortName = symbol
	}
	if err := out.validate(); err != nil {
		return QuoteSnapshot{}, unavailable(symbol, err)
	}
	return out, nil
}

package market

import (
	"regexp"
	"strings"
)

var (
	cashtagRe = regexp.MustCompile(`\$([A-Za-z]{1,5}(?:\.[A-Za-z]{1,2})?)\b`)
	tickerRe  = regexp.MustCompile(`\b[A-Z]{1,5}(?:\.[A-Z]{1,2})?\b`)
)

// Upper-case words that show up in questions but are not tickers.
var notTickers = map[string]struct{}{
	"A": {}, "I": {}, "AI": {}, "AM": {}, "AN": {}, "AND": {}, "ARE": {}, "AS": {}, "AT": {},
	"BE": {}, "BUY": {}, "BY": {}, "CEO": {}, "CFO": {}, "DO": {}, "EPS": {}, "ETF": {},
	"EU": {}, "FOR": {}, "GDP": {}, "HOW": {}, "IF": {}, "IN": {}, "IPO": {}, "IS": {},
	"IT": {}, "ME": {}, "MY": {}, "NO": {}, "NOT": {}, "NYSE": {}, "OF": {}, "OK": {},
	"ON": {}, "OR": {}, "PE": {}, "SEC": {}, "SELL": {}, "SO": {}, "THE": {}, "TO": {},
	"UK": {}, "UP": {}, "US": {}, "USA": {}, "USD": {}, "WE": {}, "WHAT": {}, "WHY": {},
	"YOY": {}, "YTD": {},
}

// DetectSymbol finds a ticker in free text. Cashtags ($AAPL) take
// precedence over bare upper-case words.
func DetectSymbol(text string) (string, bool) {
	if m := cashtagRe.FindStringSubmatch(text); m != nil {
		return NormalizeSymbol(m[1]), true
	}
	for _, w := range tickerRe.FindAllString(text, -1) {
		base := w
		if i := strings.IndexByte(w, '.'); i > 0 {
			base = w[:i]
		}
		if _, skip := notTickers[base]; skip {
			continue
		}
		return w, true
	}
	return "", false
}

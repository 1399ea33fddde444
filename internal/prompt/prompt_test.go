package prompt

import (
	"strings"
	"testing"

	"stockbot/internal/market"
	"stockbot/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func aapl() *market.QuoteSnapshot {
	return &market.QuoteSnapshot{
		Symbol:     "AAPL",
		ShortName:  "Apple Inc.",
		Price:      decimal.RequireFromString("150"),
		Week52Low:  decimal.RequireFromString("124.17"),
		Week52High: decimal.RequireFromString("198.23"),
		Sector:     "Technology",
		Summary:    "Apple designs\nsmartphones.",
	}
}

func TestComposeWithQuote(t *testing.T) {
	c := NewComposer(DefaultHistoryWindow)
	p := c.Compose("What is the price of AAPL?", aapl(), nil)

	assert.Equal(t, SystemPrompt, p.System)
	assert.Contains(t, p.Text, "What is the price of AAPL?")
	assert.Contains(t, p.Text, "150.00")
	assert.Contains(t, p.Text, "Technology")
	assert.Contains(t, p.Text, "$124.17 - $198.23")
	assert.Contains(t, p.Text, "Apple designs smartphones.")
	assert.True(t, strings.HasSuffix(p.Text, "What is the price of AAPL?"))
}

func TestComposeWithoutQuote(t *testing.T) {
	p := NewComposer(DefaultHistoryWindow).Compose("hello there", nil, nil)
	assert.Equal(t, "hello there", p.Text)
	assert.Empty(t, p.History)
}

func TestComposeAlwaysContainsUserText(t *testing.T) {
	inputs := []string{"", "  spaced  ", "multi\nline", "$TSLA?", "ünïcödé 📈"}
	c := NewComposer(5)
	for _, in := range inputs {
		assert.Contains(t, c.Compose(in, nil, nil).Text, in)
		assert.Contains(t, c.Compose(in, aapl(), nil).Text, in)
	}
}

func TestComposeHistoryWindow(t *testing.T) {
	var tail []store.Message
	for i := 0; i < 7; i++ {
		tail = append(tail, store.NewMessage(store.RoleUser, string(rune('a'+i))))
	}
	p := NewComposer(3).Compose("next", nil, tail)
	require.Len(t, p.History, 3)
	assert.Equal(t, "e", p.History[0].Text)
	assert.Equal(t, "g", p.History[2].Text)

	p.History[0].Text = "changed"
	assert.Equal(t, "e", tail[4].Text)

	assert.Empty(t, NewComposer(0).Compose("next", nil, tail).History)
}

func TestContextBlockTruncatesSummary(t *testing.T) {
	q := aapl()
	q.Summary = strings.Repeat("x", 800)
	block := ContextBlock(*q)
	assert.Contains(t, block, strings.Repeat("x", 500)+"...")
	assert.NotContains(t, block, strings.Repeat("x", 501))
}

func TestTopPicks(t *testing.T) {
	p := TopPicks()
	assert.Contains(t, p.Text, "top-performing stocks today")
	assert.Empty(t, p.History)
}

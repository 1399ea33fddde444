// Package prompt turns a user question, an optional quote and the recent
// conversation into the input handed to the answer generator.
package prompt

import (
	"fmt"
	"strings"

	"stockbot/internal/market"
	"stockbot/internal/store"
)

const SystemPrompt = `You are StockBot AI, a helpful, concise, and expert financial assistant.
Your goal is to provide analysis and answer user questions about the stock market and specific companies.
You have access to a Google Search tool for current, real-time grounding. Use it for current price, news, and recent performance whenever needed.
If specific stock data is provided in the CONTEXT section of the user's prompt, you MUST also use that data for your analysis and comparisons.
Keep your answers professional, informative, and focused on the user's financial inquiry.`

const topPicksQuestion = "What are 5 notable top-performing stocks today? Provide the ticker, the current price or change, and a very short, one-sentence reason based on market news. Format the output as a clean markdown list."

const (
	summaryLimit         = 500
	DefaultHistoryWindow = 20
)

// Prompt is the generator input. Text is the final user turn and always
// contains the user's words verbatim.
type Prompt struct {
	System  string          `json:"system"`
	History []store.Message `json:"history,omitempty"`
	Text    string          `json:"text"`
}

type Composer struct {
	window int
}

func NewComposer(historyWindow int) Composer {
	if historyWindow < 0 {
		historyWindow = DefaultHistoryWindow
	}
	return Composer{window: historyWindow}
}

// Compose builds the prompt. tail is the conversation before this turn.
func (c Composer) Compose(userText string, quote *market.QuoteSnapshot, tail []store.Message) Prompt {
	p := Prompt{System: SystemPrompt, History: lastN(tail, c.window)}
	if quote == nil {
		p.Text = userText
		return p
	}
	p.Text = ContextBlock(*quote) + "\n\n" + userText
	return p
}

// ContextBlock renders a quote the way it is shown to the model.
func ContextBlock(q market.QuoteSnapshot) string {
	name := q.ShortName
	if name == "" {
		name = q.Symbol
	}
	var b strings.Builder
	fmt.Fprintf(&b, "CONTEXT: The user's query relates to the currently active stock: %s (%s).\n", q.Symbol, name)
	b.WriteString("Use the following real-time data for your analysis:\n")
	fmt.Fprintf(&b, "- Current Price: $%s\n", q.Price.StringFixed(2))
	fmt.Fprintf(&b, "- 52-Week Range: $%s - $%s\n", q.Week52Low.StringFixed(2), q.Week52High.StringFixed(2))
	fmt.Fprintf(&b, "- Sector: %s", q.Sector)
	if q.MarketCap > 0 {
		fmt.Fprintf(&b, "\n- Market Cap: %d", q.MarketCap)
	}
	if s := summarize(q.Summary); s != "" {
		fmt.Fprintf(&b, "\n- Business Summary (Partial): %s...", s)
	}
	return b.String()
}

// TopPicks is the fixed request behind the top-picks panel.
func TopPicks() Prompt {
	return Prompt{System: SystemPrompt, Text: topPicksQuestion}
}

func summarize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	r := []rune(s)
	if len(r) > summaryLimit {
		r = r[:summaryLimit]
	}
	return strings.ReplaceAll(strings.ReplaceAll(string(r), "\r", ""), "\n", " ")
}

func lastN(msgs []store.Message, n int) []store.Message {
	if n == 0 || len(msgs) == 0 {
		return nil
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]store.Message, len(msgs))
	copy(out, msgs)
	return out
}

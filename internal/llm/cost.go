package llm

import (
	"strings"

	"github.com/shopspring/decimal"
)

type pricing struct {
	input  decimal.Decimal // USD per million input tokens
	output decimal.Decimal // USD per million output tokens
}

var (
	million = decimal.NewFromInt(1_000_000)

	prices = map[string]pricing{
		"haiku":  {decimal.RequireFromString("0.80"), decimal.RequireFromString("4.00")},
		"sonnet": {decimal.RequireFromString("3.00"), decimal.RequireFromString("15.00")},
		"opus":   {decimal.RequireFromString("15.00"), decimal.RequireFromString("75.00")},
	}
)

// EstimateCost returns the USD cost of a call. Unknown models (including
// local Ollama models) cost nothing.
func EstimateCost(model string, inputTokens, outputTokens int64) decimal.Decimal {
	m := strings.ToLower(model)
	for family, p := range prices {
		if strings.Contains(m, family) {
			in := p.input.Mul(decimal.NewFromInt(inputTokens)).Div(million)
			out := p.output.Mul(decimal.NewFromInt(outputTokens)).Div(million)
			return in.Add(out).Round(6)
		}
	}
	return decimal.Zero
}

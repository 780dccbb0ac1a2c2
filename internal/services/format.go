package services

import (
	"math"
	"strconv"

	"github.com/Rhymond/go-money"

	"portfolio_link/internal/models"
)

// DefaultCurrency is the display currency for provider amounts.
const DefaultCurrency = money.USD

// FormatMoney renders an amount in major units, e.g. "$46,788.00".
// Unknown currency codes fall back to DefaultCurrency.
func FormatMoney(amount float64, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		cur = money.GetCurrency(DefaultCurrency)
	}
	factor := math.Pow10(cur.Fraction)
	minor := int64(math.Round(amount * factor))
	return money.New(minor, cur.Code).Display()
}

// FormatPercent renders a percentage with two decimals, e.g. "16.97%".
func FormatPercent(pct float64) string {
	return strconv.FormatFloat(math.Round(pct*100)/100, 'f', 2, 64) + "%"
}

// FormattedSummary is SummaryMetrics rendered for display.
type FormattedSummary struct {
	TotalValue  string `json:"total_value"`
	TotalCost   string `json:"total_cost"`
	TotalGain   string `json:"total_gain"`
	TotalReturn string `json:"total_return"`
	DailyChange string `json:"daily_change"`
}

// FormatSummary renders summary metrics in currency.
func FormatSummary(m models.SummaryMetrics, currency string) FormattedSummary {
	return FormattedSummary{
		TotalValue:  FormatMoney(m.TotalValue, currency),
		TotalCost:   FormatMoney(m.TotalCost, currency),
		TotalGain:   FormatMoney(m.TotalGain, currency),
		TotalReturn: FormatPercent(m.TotalReturn),
		DailyChange: FormatMoney(m.DailyChange, currency),
	}
}

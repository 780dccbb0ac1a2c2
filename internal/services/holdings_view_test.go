package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio_link/internal/models"
)

func tickers(holdings []models.Holding) []string {
	out := make([]string, len(holdings))
	for i, h := range holdings {
		out[i] = h.TickerSymbol
	}
	return out
}

func TestHoldingsView_DefaultIsValueDescending(t *testing.T) {
	v := NewHoldingsView()
	got := v.Apply(fixtureHoldings())
	assert.Equal(t, []string{"MSFT", "AAPL", "GOVT"}, tickers(got))
}

func TestHoldingsView_Toggle(t *testing.T) {
	v := NewHoldingsView()

	flipped := v.Toggle(FieldMarketValue)
	assert.Equal(t, Ascending, flipped.Direction)
	assert.Equal(t, v, flipped.Toggle(FieldMarketValue))

	other := flipped.Toggle(FieldTickerSymbol)
	assert.Equal(t, FieldTickerSymbol, other.Field)
	assert.Equal(t, Descending, other.Direction)
}

func TestHoldingsView_SortReversal(t *testing.T) {
	holdings := fixtureHoldings()
	fields := []SortField{FieldSecurityName, FieldTickerSymbol, FieldUnitPrice, FieldMarketValue, FieldCostBasis}

	for _, f := range fields {
		t.Run(string(f), func(t *testing.T) {
			asc := HoldingsView{Field: f, Direction: Ascending}.Sort(holdings)
			desc := HoldingsView{Field: f, Direction: Descending}.Sort(holdings)
			require.Len(t, desc, len(asc))
			for i := range asc {
				assert.Equal(t, asc[i], desc[len(desc)-1-i])
			}
		})
	}
}

func TestHoldingsView_StableForTies(t *testing.T) {
	holdings := []models.Holding{
		{TickerSymbol: "A", SecurityType: "equity", MarketValue: 10},
		{TickerSymbol: "B", SecurityType: "bond", MarketValue: 10},
		{TickerSymbol: "C", SecurityType: "equity", MarketValue: 10},
	}

	got := HoldingsView{Field: FieldMarketValue, Direction: Descending}.Sort(holdings)
	assert.Equal(t, []string{"A", "B", "C"}, tickers(got))

	got = HoldingsView{Field: FieldSecurityType, Direction: Ascending}.Sort(holdings)
	assert.Equal(t, []string{"B", "A", "C"}, tickers(got))
}

func TestHoldingsView_SortIdempotent(t *testing.T) {
	v := HoldingsView{Field: FieldSecurityName, Direction: Ascending}
	once := v.Sort(fixtureHoldings())
	assert.Equal(t, once, v.Sort(once))
}

func TestHoldingsView_TextUsesCollation(t *testing.T) {
	holdings := []models.Holding{
		{SecurityName: "zeta", TickerSymbol: "Z"},
		{SecurityName: "Émile Corp", TickerSymbol: "E"},
		{SecurityName: "alpha", TickerSymbol: "A"},
	}

	got := HoldingsView{Field: FieldSecurityName, Direction: Ascending}.Sort(holdings)
	assert.Equal(t, []string{"A", "E", "Z"}, tickers(got))
}

func TestHoldingsView_DoesNotMutateInput(t *testing.T) {
	holdings := fixtureHoldings()
	before := append([]models.Holding(nil), holdings...)

	HoldingsView{Query: "a", Field: FieldTickerSymbol, Direction: Ascending}.Apply(holdings)
	assert.Equal(t, before, holdings)
}

func TestHoldingsView_Filter(t *testing.T) {
	holdings := fixtureHoldings()

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"AAPL", "MSFT", "GOVT"}},
		{" inc", []string{"AAPL"}},
		{"  ", []string{}},
		{"msft", []string{"MSFT"}},
		{"APPLE", []string{"AAPL"}},
		{"corp", []string{"MSFT"}},
		{"nothing-matches", []string{}},
	}

	for _, tc := range tests {
		got := HoldingsView{Query: tc.query}.Filter(holdings)
		assert.Equal(t, tc.want, tickers(got), "query %q", tc.query)
	}
}

func TestParseSortField(t *testing.T) {
	f, err := ParseSortField("costBasis")
	require.NoError(t, err)
	assert.Equal(t, FieldCostBasis, f)

	_, err = ParseSortField("value")
	assert.Error(t, err)

	d, err := ParseDirection("ASC")
	require.NoError(t, err)
	assert.Equal(t, Ascending, d)

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}

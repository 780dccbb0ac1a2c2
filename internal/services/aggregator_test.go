package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio_link/internal/models"
)

func fixtureHoldings() []models.Holding {
	return []models.Holding{
		{SecurityName: "Apple Inc.", TickerSymbol: "AAPL", SecurityType: "equity", Quantity: 100, UnitPrice: 175.04, MarketValue: 17504, CostBasis: 150},
		{SecurityName: "Microsoft Corp.", TickerSymbol: "MSFT", SecurityType: "equity", Quantity: 50, UnitPrice: 410.34, MarketValue: 20517, CostBasis: 300},
		{SecurityName: "Treasury Bond ETF", TickerSymbol: "GOVT", SecurityType: "bond", Quantity: 50, UnitPrice: 175.34, MarketValue: 8767, CostBasis: 200},
	}
}

func TestAggregate_MixedPortfolio(t *testing.T) {
	alloc := Aggregate(fixtureHoldings())

	require.Len(t, alloc.Segments, 2)
	assert.Equal(t, "equity", alloc.Segments[0].Label)
	assert.Equal(t, 38021.0, alloc.Segments[0].AggregateValue)
	assert.Equal(t, 81, alloc.Segments[0].Percentage)
	assert.Equal(t, "bond", alloc.Segments[1].Label)
	assert.Equal(t, 19, alloc.Segments[1].Percentage)
	assert.Equal(t, Palette[0], alloc.Segments[0].Color)
	assert.Equal(t, Palette[1], alloc.Segments[1].Color)

	s := alloc.Summary
	assert.Equal(t, 46788.0, s.TotalValue)
	assert.Equal(t, 40000.0, s.TotalCost)
	assert.Equal(t, 6788.0, s.TotalGain)
	assert.InDelta(t, 16.97, s.TotalReturn, 0.01)
	assert.Zero(t, s.DailyChange)
}

func TestAggregate_Empty(t *testing.T) {
	for _, in := range [][]models.Holding{nil, {}} {
		alloc := Aggregate(in)
		assert.Empty(t, alloc.Segments)
		assert.Equal(t, models.SummaryMetrics{}, alloc.Summary)
	}
}

func TestAggregate_ZeroTotalValue(t *testing.T) {
	alloc := Aggregate([]models.Holding{
		{SecurityType: "cash", MarketValue: 0},
		{SecurityType: "equity", MarketValue: 0},
	})
	require.Len(t, alloc.Segments, 2)
	for _, s := range alloc.Segments {
		assert.Zero(t, s.Percentage)
	}
	assert.Zero(t, alloc.Summary.TotalReturn)
}

func TestAggregate_NoCostBasisMeansZeroReturn(t *testing.T) {
	alloc := Aggregate([]models.Holding{{SecurityType: "equity", Quantity: 10, MarketValue: 1000}})
	assert.Zero(t, alloc.Summary.TotalCost)
	assert.Equal(t, 1000.0, alloc.Summary.TotalGain)
	assert.Zero(t, alloc.Summary.TotalReturn)
}

func TestAggregate_SegmentOrderIsFirstSeen(t *testing.T) {
	holdings := []models.Holding{
		{SecurityType: "cash", MarketValue: 10},
		{SecurityType: "equity", MarketValue: 500},
		{SecurityType: "bond", MarketValue: 100},
		{SecurityType: "cash", MarketValue: 5},
		{SecurityType: "etf", MarketValue: 1},
		{SecurityType: "crypto", MarketValue: 2},
		{SecurityType: "fund", MarketValue: 3},
	}

	first := Aggregate(holdings)
	second := Aggregate(holdings)
	assert.Equal(t, first, second)

	labels := make([]string, len(first.Segments))
	for i, s := range first.Segments {
		labels[i] = s.Label
	}
	assert.Equal(t, []string{"cash", "equity", "bond", "etf", "crypto", "fund"}, labels)
	// The palette cycles after five colors.
	assert.Equal(t, Palette[0], first.Segments[5].Color)
}

func TestAggregate_PercentageBounds(t *testing.T) {
	cases := [][]float64{
		{1, 1, 1},
		{1, 1, 1, 1, 1, 1, 1},
		{33.5, 33.5, 33},
		{0.5, 0.5, 99},
		{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		{12.5, 12.5, 12.5, 12.5, 12.5, 12.5, 12.5, 12.5},
		{1e6, 1},
	}

	for _, values := range cases {
		holdings := make([]models.Holding, len(values))
		var total float64
		for i, v := range values {
			holdings[i] = models.Holding{SecurityType: string(rune('a' + i)), MarketValue: v}
			total += v
		}

		alloc := Aggregate(holdings)
		n := len(alloc.Segments)
		sum := 0
		for _, s := range alloc.Segments {
			sum += s.Percentage
			exact := s.AggregateValue / total * 100
			assert.Less(t, math.Abs(float64(s.Percentage)-exact), 1.0, "values %v segment %s", values, s.Label)
		}
		assert.GreaterOrEqual(t, sum, 100-n, "values %v", values)
		assert.LessOrEqual(t, sum, 100, "values %v", values)
	}
}

func TestSummarize_MatchesAggregate(t *testing.T) {
	assert.Equal(t, Aggregate(fixtureHoldings()).Summary, Summarize(fixtureHoldings()))
}

func TestGradientStops_ContiguousCover(t *testing.T) {
	segments := []models.AllocationSegment{
		{Label: "a", Percentage: 33, Color: "#1"},
		{Label: "b", Percentage: 33, Color: "#2"},
		{Label: "c", Percentage: 33, Color: "#3"},
	}

	stops := GradientStops(segments)
	require.Len(t, stops, 3)
	assert.Equal(t, 0, stops[0].Start)
	for i := 1; i < len(stops); i++ {
		assert.Equal(t, stops[i-1].End, stops[i].Start)
	}
	assert.Equal(t, 100, stops[2].End)
	assert.Equal(t, GradientStop{Color: "#2", Start: 33, End: 66}, stops[1])

	assert.Empty(t, GradientStops(nil))
}

func TestHitRegions_MidAngles(t *testing.T) {
	segments := []models.AllocationSegment{
		{Label: "equity", Percentage: 50},
		{Label: "bond", Percentage: 25},
		{Label: "cash", Percentage: 25},
	}

	regions := HitRegions(segments, 50)
	require.Len(t, regions, 3)

	assert.Equal(t, 90.0, regions[0].MidAngle)
	assert.Equal(t, 225.0, regions[1].MidAngle)
	assert.Equal(t, 315.0, regions[2].MidAngle)
	assert.Equal(t, 180.0, regions[1].StartAngle)
	assert.Equal(t, 360.0, regions[2].EndAngle)

	// 90° is three o'clock: rightmost point of the ring.
	assert.InDelta(t, 100.0, regions[0].X, 1e-9)
	assert.InDelta(t, 50.0, regions[0].Y, 1e-9)
}

// Package services contains the holdings analytics for the link service.
package services

import (
	"math"
	"sort"

	"portfolio_link/internal/models"
)

// Palette is the segment color sequence, cycled by segment index.
var Palette = []string{"#4f46e5", "#10b981", "#f59e0b", "#ef4444", "#8b5cf6"}

// Allocation is the aggregated view of a holdings list.
type Allocation struct {
	Segments []models.AllocationSegment `json:"segments"`
	Summary  models.SummaryMetrics      `json:"summary"`
}

// Aggregate groups holdings by security type in first-seen order and
// derives summary metrics. It never fails; an empty list yields no
// segments and zero metrics.
func Aggregate(holdings []models.Holding) Allocation {
	type bucket struct {
		label string
		value float64
	}

	var (
		buckets    []bucket
		index      = make(map[string]int)
		totalValue float64
		totalCost  float64
	)

	for _, h := range holdings {
		i, ok := index[h.SecurityType]
		if !ok {
			i = len(buckets)
			index[h.SecurityType] = i
			buckets = append(buckets, bucket{label: h.SecurityType})
		}
		buckets[i].value += h.MarketValue
		totalValue += h.MarketValue
		totalCost += h.TotalCost()
	}

	values := make([]float64, len(buckets))
	for i, b := range buckets {
		values[i] = b.value
	}
	percentages := roundPercentages(values, totalValue)

	segments := make([]models.AllocationSegment, len(buckets))
	for i, b := range buckets {
		segments[i] = models.AllocationSegment{
			Label:          b.label,
			AggregateValue: b.value,
			Percentage:     percentages[i],
			Color:          Palette[i%len(Palette)],
		}
	}

	return Allocation{
		Segments: segments,
		Summary:  summarize(totalValue, totalCost),
	}
}

// Summarize derives summary metrics without grouping.
func Summarize(holdings []models.Holding) models.SummaryMetrics {
	var totalValue, totalCost float64
	for _, h := range holdings {
		totalValue += h.MarketValue
		totalCost += h.TotalCost()
	}
	return summarize(totalValue, totalCost)
}

func summarize(totalValue, totalCost float64) models.SummaryMetrics {
	gain := totalValue - totalCost
	var ret float64
	if totalCost > 0 {
		ret = gain / totalCost * 100
	}
	return models.SummaryMetrics{
		TotalValue:  totalValue,
		TotalCost:   totalCost,
		TotalGain:   gain,
		TotalReturn: ret,
		DailyChange: 0,
	}
}

// roundPercentages rounds each share of total to the nearest integer. When
// rounding overshoots 100, the rounded-up shares closest to their floor
// give back a point each, so every share stays within 1 of its exact value
// and the sum never exceeds 100.
func roundPercentages(values []float64, total float64) []int {
	out := make([]int, len(values))
	if total <= 0 {
		return out
	}

	exact := make([]float64, len(values))
	sum := 0
	for i, v := range values {
		exact[i] = v / total * 100
		out[i] = int(math.Round(exact[i]))
		sum += out[i]
	}
	if sum <= 100 {
		return out
	}

	var roundedUp []int
	for i := range out {
		if float64(out[i]) > exact[i] {
			roundedUp = append(roundedUp, i)
		}
	}
	sort.SliceStable(roundedUp, func(a, b int) bool {
		return exact[roundedUp[a]]-math.Floor(exact[roundedUp[a]]) < exact[roundedUp[b]]-math.Floor(exact[roundedUp[b]])
	})
	for _, i := range roundedUp {
		if sum <= 100 {
			break
		}
		out[i]--
		sum--
	}
	return out
}

// GradientStop is one contiguous color band of the allocation ring.
type GradientStop struct {
	Color string `json:"color"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// GradientStops maps segments to contiguous bands covering 0–100. Rounding
// slack is absorbed by the last band.
func GradientStops(segments []models.AllocationSegment) []GradientStop {
	stops := make([]GradientStop, 0, len(segments))
	cursor := 0
	for _, s := range segments {
		stops = append(stops, GradientStop{Color: s.Color, Start: cursor, End: cursor + s.Percentage})
		cursor += s.Percentage
	}
	if n := len(stops); n > 0 {
		stops[n-1].End = 100
	}
	return stops
}

// HitRegion is the hover target for a segment, positioned at the midpoint
// of its arc in percent coordinates of the chart box.
type HitRegion struct {
	Label      string  `json:"label"`
	StartAngle float64 `json:"start_angle"`
	EndAngle   float64 `json:"end_angle"`
	MidAngle   float64 `json:"mid_angle"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

// HitRegions places one hover region per segment at radius (in percent of
// the chart box) from the center, with 0° at twelve o'clock.
func HitRegions(segments []models.AllocationSegment, radius float64) []HitRegion {
	regions := make([]HitRegion, 0, len(segments))
	var cumulative float64
	for _, s := range segments {
		angle := float64(s.Percentage) / 100 * 360
		mid := cumulative + angle/2
		radians := (mid - 90) * math.Pi / 180
		regions = append(regions, HitRegion{
			Label:      s.Label,
			StartAngle: cumulative,
			EndAngle:   cumulative + angle,
			MidAngle:   mid,
			X:          math.Cos(radians)*radius + 50,
			Y:          math.Sin(radians)*radius + 50,
		})
		cumulative += angle
	}
	return regions
}

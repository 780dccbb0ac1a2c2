package services

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"portfolio_link/internal/models"
)

// ErrEmptyAllocation indicates there is nothing to chart.
var ErrEmptyAllocation = errors.New("allocation has no value to chart")

const (
	// DefaultChartSize is the edge length used when none is requested.
	DefaultChartSize = 512
	// MaxChartSize caps the edge length of a rendered chart.
	MaxChartSize = 1024
)

// RenderAllocationChart renders the allocation segments as a square PNG pie
// chart, one slice per segment in segment order. size is clamped to
// MaxChartSize. Returns raw PNG bytes.
func RenderAllocationChart(segments []models.AllocationSegment, size int) ([]byte, error) {
	switch {
	case size <= 0:
		size = DefaultChartSize
	case size > MaxChartSize:
		size = MaxChartSize
	}

	values := make([]chart.Value, 0, len(segments))
	for _, s := range segments {
		if s.AggregateValue <= 0 {
			continue
		}
		label := s.Label
		if label == "" {
			label = "other"
		}
		values = append(values, chart.Value{
			Label: fmt.Sprintf("%s %d%%", label, s.Percentage),
			Value: s.AggregateValue,
			Style: chart.Style{
				FillColor:   drawing.ColorFromHex(strings.TrimPrefix(s.Color, "#")),
				StrokeColor: drawing.ColorWhite,
				StrokeWidth: 2,
				FontColor:   drawing.ColorWhite,
			},
		})
	}
	if len(values) == 0 {
		return nil, ErrEmptyAllocation
	}

	pie := chart.PieChart{
		Title:  "Portfolio Allocation",
		Width:  size,
		Height: size,
		Values: values,
	}

	var buf bytes.Buffer
	if err := pie.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}
	return buf.Bytes(), nil
}

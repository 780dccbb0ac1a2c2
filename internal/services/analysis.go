package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"portfolio_link/internal/cache"
	"portfolio_link/internal/logging"
	"portfolio_link/internal/models"
)

// ErrAnalysisUnavailable indicates no text generator is configured.
var ErrAnalysisUnavailable = errors.New("portfolio analysis is not configured")

// Generator produces text from a prompt.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// Analysis is generated portfolio commentary.
type Analysis struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

// AnalysisService generates and caches portfolio analysis per user.
type AnalysisService struct {
	generator Generator
	cache     cache.AnalysisCache
	policy    *bluemonday.Policy
	logger    *logging.Logger
}

// NewAnalysisService creates an AnalysisService. generator may be nil, in
// which case only cached analysis is served.
func NewAnalysisService(generator Generator, store cache.AnalysisCache, logger *logging.Logger) *AnalysisService {
	if logger == nil {
		logger = logging.NewSilent()
	}
	return &AnalysisService{
		generator: generator,
		cache:     store,
		policy:    bluemonday.UGCPolicy(),
		logger:    logger.Component("analysis"),
	}
}

// Latest returns the cached analysis for a user.
func (s *AnalysisService) Latest(ctx context.Context, userID string) (*Analysis, bool, error) {
	text, ok, err := s.cache.Get(ctx, userID)
	if err != nil || !ok {
		return nil, false, err
	}
	html, err := s.RenderHTML(text)
	if err != nil {
		return nil, false, err
	}
	return &Analysis{Text: text, HTML: html}, true, nil
}

// Regenerate asks the generator for fresh analysis of holdings and caches it.
func (s *AnalysisService) Regenerate(ctx context.Context, userID string, holdings []models.Holding) (*Analysis, error) {
	if s.generator == nil {
		return nil, ErrAnalysisUnavailable
	}
	if len(holdings) == 0 {
		return nil, errors.New("no holdings to analyze")
	}

	raw, err := s.generator.GenerateContent(ctx, BuildAnalysisPrompt(holdings))
	if err != nil {
		return nil, fmt.Errorf("generating analysis: %w", err)
	}

	text := SanitizeAnalysis(raw)
	if text == "" {
		return nil, errors.New("generator returned empty analysis")
	}
	if err := s.cache.Put(ctx, userID, text); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("caching analysis")
	}

	html, err := s.RenderHTML(text)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", userID).Int("length", len(text)).Msg("analysis regenerated")
	return &Analysis{Text: text, HTML: html}, nil
}

// RenderHTML renders markdown analysis text to sanitized HTML.
func (s *AnalysisService) RenderHTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("rendering analysis: %w", err)
	}
	return s.policy.Sanitize(buf.String()), nil
}

var controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

// SanitizeAnalysis strips control characters other than tab, newline and
// carriage return, then trims surrounding whitespace.
func SanitizeAnalysis(text string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(text, ""))
}

// BuildAnalysisPrompt describes the portfolio for the generator.
func BuildAnalysisPrompt(holdings []models.Holding) string {
	alloc := Aggregate(holdings)

	var sb strings.Builder
	sb.WriteString("You are reviewing an investment portfolio. Using the data below, write a short markdown report with:\n")
	sb.WriteString("1. An overview of the allocation and diversification\n")
	sb.WriteString("2. Concentration risks\n")
	sb.WriteString("3. Observations on gains and losses against cost basis\n\n")

	fmt.Fprintf(&sb, "Total value: %s\n", FormatMoney(alloc.Summary.TotalValue, DefaultCurrency))
	fmt.Fprintf(&sb, "Total cost: %s\n", FormatMoney(alloc.Summary.TotalCost, DefaultCurrency))
	fmt.Fprintf(&sb, "Total return: %s\n\n", FormatPercent(alloc.Summary.TotalReturn))

	sb.WriteString("Allocation by security type:\n")
	for _, seg := range alloc.Segments {
		fmt.Fprintf(&sb, "- %s: %s (%d%%)\n", seg.Label, FormatMoney(seg.AggregateValue, DefaultCurrency), seg.Percentage)
	}

	sb.WriteString("\nHoldings:\n")
	for _, h := range NewHoldingsView().Sort(holdings) {
		fmt.Fprintf(&sb, "- %s (%s), %s: %g units, value %s, cost basis %s/unit\n",
			h.SecurityName, h.TickerSymbol, h.SecurityType, h.Quantity,
			FormatMoney(h.MarketValue, DefaultCurrency), FormatMoney(h.CostBasis, DefaultCurrency))
	}
	return sb.String()
}

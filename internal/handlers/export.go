package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"portfolio_link/internal/dashboard"
	"portfolio_link/internal/logging"
)

// ExportHandler handles data export requests.
type ExportHandler struct {
	registry *dashboard.Registry
	logger   *logging.Logger
	now      func() time.Time
}

// NewExportHandler creates a new export handler.
func NewExportHandler(deps *Dependencies) *ExportHandler {
	return &ExportHandler{
		registry: deps.Registry,
		logger:   deps.Logger.Component("handlers"),
		now:      time.Now,
	}
}

// ExportHoldings exports the caller's holdings as CSV, filtered and ordered
// by the current dashboard selection.
func (h *ExportHandler) ExportHoldings(w http.ResponseWriter, r *http.Request) {
	ctrl, err := controllerFor(r, h.registry)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	holdings := ctrl.Selection().Apply(ctrl.Holdings())

	// Set headers for CSV download
	filename := fmt.Sprintf("holdings_%s.csv", h.now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))

	writer := csv.NewWriter(w)
	defer writer.Flush()

	_ = writer.Write([]string{"Security", "Ticker", "Type", "Quantity", "Unit Price", "Market Value", "Cost Basis"})
	for _, hl := range holdings {
		_ = writer.Write([]string{
			csvText(hl.SecurityName),
			csvText(hl.TickerSymbol),
			csvText(hl.SecurityType),
			strconv.FormatFloat(hl.Quantity, 'f', -1, 64),
			strconv.FormatFloat(hl.UnitPrice, 'f', 2, 64),
			strconv.FormatFloat(hl.MarketValue, 'f', 2, 64),
			strconv.FormatFloat(hl.CostBasis, 'f', 2, 64),
		})
	}
}

// csvText quotes provider text that a spreadsheet would evaluate as a formula.
func csvText(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}

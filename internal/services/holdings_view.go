package services

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"portfolio_link/internal/models"
)

// SortField names a sortable holdings column.
type SortField string

// Sortable holdings columns.
const (
	FieldSecurityName SortField = "securityName"
	FieldTickerSymbol SortField = "tickerSymbol"
	FieldSecurityType SortField = "securityType"
	FieldQuantity     SortField = "quantity"
	FieldUnitPrice    SortField = "unitPrice"
	FieldMarketValue  SortField = "marketValue"
	FieldCostBasis    SortField = "costBasis"
)

// Direction is a sort order.
type Direction string

// Sort orders.
const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// ParseSortField validates a field name.
func ParseSortField(s string) (SortField, error) {
	switch f := SortField(s); f {
	case FieldSecurityName, FieldTickerSymbol, FieldSecurityType,
		FieldQuantity, FieldUnitPrice, FieldMarketValue, FieldCostBasis:
		return f, nil
	}
	return "", fmt.Errorf("unknown sort field %q", s)
}

// ParseDirection validates a sort order.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(s)); d {
	case Ascending, Descending:
		return d, nil
	}
	return "", fmt.Errorf("unknown sort direction %q", s)
}

func (f SortField) textual() bool {
	return f == FieldSecurityName || f == FieldTickerSymbol || f == FieldSecurityType
}

// HoldingsView is a filter and sort selection over a holdings list.
type HoldingsView struct {
	Query     string       `json:"query"`
	Field     SortField    `json:"field"`
	Direction Direction    `json:"direction"`
	Locale    language.Tag `json:"-"`
}

// NewHoldingsView returns the default selection: largest market value first.
func NewHoldingsView() HoldingsView {
	return HoldingsView{
		Field:     FieldMarketValue,
		Direction: Descending,
		Locale:    language.English,
	}
}

// Toggle selects field. Selecting the current field flips the direction;
// a new field starts descending.
func (v HoldingsView) Toggle(field SortField) HoldingsView {
	if v.Field == field {
		if v.Direction == Ascending {
			v.Direction = Descending
		} else {
			v.Direction = Ascending
		}
		return v
	}
	v.Field = field
	v.Direction = Descending
	return v
}

// Filter keeps holdings whose name or ticker contains the query, ignoring
// case. Whitespace in the query is significant. An empty query keeps
// everything. The input is not modified.
func (v HoldingsView) Filter(holdings []models.Holding) []models.Holding {
	out := make([]models.Holding, 0, len(holdings))
	q := strings.ToLower(v.Query)
	for _, h := range holdings {
		if q == "" ||
			strings.Contains(strings.ToLower(h.SecurityName), q) ||
			strings.Contains(strings.ToLower(h.TickerSymbol), q) {
			out = append(out, h)
		}
	}
	return out
}

// Sort returns a stably sorted copy of holdings. Text columns use
// locale-aware collation; numeric columns compare numerically.
func (v HoldingsView) Sort(holdings []models.Holding) []models.Holding {
	out := make([]models.Holding, len(holdings))
	copy(out, holdings)

	field := v.Field
	if field == "" {
		field = FieldMarketValue
	}
	desc := v.Direction != Ascending

	var compare func(a, b models.Holding) int
	if field.textual() {
		tag := v.Locale
		if tag == language.Und {
			tag = language.English
		}
		// A Collator is not safe for concurrent use.
		c := collate.New(tag)
		compare = func(a, b models.Holding) int {
			return c.CompareString(textValue(a, field), textValue(b, field))
		}
	} else {
		compare = func(a, b models.Holding) int {
			x, y := numericValue(a, field), numericValue(b, field)
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		cmp := compare(out[i], out[j])
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
	return out
}

// Apply filters then sorts.
func (v HoldingsView) Apply(holdings []models.Holding) []models.Holding {
	return v.Sort(v.Filter(holdings))
}

func textValue(h models.Holding, f SortField) string {
	switch f {
	case FieldSecurityName:
		return h.SecurityName
	case FieldTickerSymbol:
		return h.TickerSymbol
	default:
		return h.SecurityType
	}
}

func numericValue(h models.Holding, f SortField) float64 {
	switch f {
	case FieldQuantity:
		return h.Quantity
	case FieldUnitPrice:
		return h.UnitPrice
	case FieldCostBasis:
		return h.CostBasis
	default:
		return h.MarketValue
	}
}

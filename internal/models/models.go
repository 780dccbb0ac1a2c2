// Package models contains the domain models for the holdings link service.
package models

import (
	"encoding/json"
	"time"
)

// Holding represents one custodial investment position belonging to a user.
// MarketValue is sourced from the provider and is never re-derived from
// Quantity and UnitPrice.
type Holding struct {
	SecurityName string  `json:"security_name"`
	TickerSymbol string  `json:"ticker_symbol"`
	SecurityType string  `json:"security_type"` // "equity", "bond", "etf", "cash", ...
	Quantity     float64 `json:"quantity"`
	UnitPrice    float64 `json:"institution_price"`
	MarketValue  float64 `json:"institution_value"`
	CostBasis    float64 `json:"cost_basis"` // Per unit, 0 when the provider omits it
}

// holdingWire mirrors the store row, where cost_basis may be null.
type holdingWire struct {
	SecurityName string   `json:"security_name"`
	TickerSymbol string   `json:"ticker_symbol"`
	SecurityType string   `json:"security_type"`
	Quantity     float64  `json:"quantity"`
	UnitPrice    float64  `json:"institution_price"`
	MarketValue  float64  `json:"institution_value"`
	CostBasis    *float64 `json:"cost_basis"`
}

// UnmarshalJSON decodes a holding, defaulting a null or missing cost basis to 0.
func (h *Holding) UnmarshalJSON(data []byte) error {
	var w holdingWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*h = Holding{
		SecurityName: w.SecurityName,
		TickerSymbol: w.TickerSymbol,
		SecurityType: w.SecurityType,
		Quantity:     w.Quantity,
		UnitPrice:    w.UnitPrice,
		MarketValue:  w.MarketValue,
	}
	if w.CostBasis != nil {
		h.CostBasis = *w.CostBasis
	}
	return nil
}

// TotalCost returns the position's cost, quantity times per-unit cost basis.
func (h Holding) TotalCost() float64 {
	return h.Quantity * h.CostBasis
}

// HoldingsSnapshot is the full holdings list returned by one sync.
// It wholesale-replaces the prior stored set for the user.
type HoldingsSnapshot struct {
	UserID    string    `json:"user_id"`
	Holdings  []Holding `json:"holdings"`
	FetchedAt time.Time `json:"fetched_at"`
}

// AllocationSegment is an aggregated slice of portfolio value by security type.
type AllocationSegment struct {
	Label          string  `json:"label"`
	AggregateValue float64 `json:"aggregate_value"`
	Percentage     int     `json:"percentage"`
	Color          string  `json:"color"`
}

// SummaryMetrics holds portfolio-level totals derived from the holdings.
type SummaryMetrics struct {
	TotalValue  float64 `json:"total_value"`
	TotalCost   float64 `json:"total_cost"`
	TotalGain   float64 `json:"total_gain"`
	TotalReturn float64 `json:"total_return"` // Percent
	DailyChange float64 `json:"daily_change"` // Always 0 until a historical price source exists
}

// Institution identifies the financial institution chosen during consent.
type Institution struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LinkedInstitution records a completed token exchange for a user.
type LinkedInstitution struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	InstitutionID   string    `json:"institution_id"`
	InstitutionName string    `json:"institution_name"`
	LinkedAt        time.Time `json:"linked_at"`
}

// SyncHistory tracks holdings refresh operations for auditing.
type SyncHistory struct {
	ID             int64      `json:"id"`
	UserID         string     `json:"user_id"`
	Trigger        string     `json:"trigger"` // "init", "refresh", "connect"
	Status         string     `json:"status"`  // "started", "success", "error"
	HoldingsSynced int        `json:"holdings_synced"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	DurationMs     int64      `json:"duration_ms,omitempty"`
}

// DiagnosticEntry is one line of the user-visible diagnostic log.
type DiagnosticEntry struct {
	At      time.Time `json:"at"`
	Level   string    `json:"level"` // "info" or "error"
	Message string    `json:"message"`
}

// String renders the entry as a timestamped line.
func (e DiagnosticEntry) String() string {
	return e.At.Format(time.RFC3339) + " [" + e.Level + "] " + e.Message
}

// Credentials identify the current user and carry the bearer credential
// presented to the backend functions.
type Credentials struct {
	UserID string
	Token  string
}

// Valid reports whether both the user identity and the bearer token are present.
func (c Credentials) Valid() bool {
	return c.UserID != "" && c.Token != ""
}

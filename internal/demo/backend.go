package demo

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"portfolio_link/internal/logging"
	"portfolio_link/internal/models"
)

// Institution is the brokerage every demo link resolves to.
var Institution = models.Institution{ID: "ins_demo", Name: "Demo Brokerage"}

// SampleHoldings returns the demo portfolio.
func SampleHoldings() []models.Holding {
	return []models.Holding{
		{SecurityName: "Apple Inc.", TickerSymbol: "AAPL", SecurityType: "equity", Quantity: 100, UnitPrice: 175.04, MarketValue: 17504, CostBasis: 150},
		{SecurityName: "Microsoft Corporation", TickerSymbol: "MSFT", SecurityType: "equity", Quantity: 50, UnitPrice: 410.34, MarketValue: 20517, CostBasis: 300},
		{SecurityName: "Alphabet Inc.", TickerSymbol: "GOOGL", SecurityType: "equity", Quantity: 100, UnitPrice: 152.19, MarketValue: 15219, CostBasis: 120},
		{SecurityName: "Amazon.com Inc.", TickerSymbol: "AMZN", SecurityType: "equity", Quantity: 100, UnitPrice: 178.75, MarketValue: 17875, CostBasis: 140},
		{SecurityName: "Tesla Inc.", TickerSymbol: "TSLA", SecurityType: "equity", Quantity: 50, UnitPrice: 175.34, MarketValue: 8767, CostBasis: 200},
		{SecurityName: "NVIDIA Corporation", TickerSymbol: "NVDA", SecurityType: "equity", Quantity: 30, UnitPrice: 950.02, MarketValue: 28500.6, CostBasis: 450},
		{SecurityName: "Meta Platforms Inc.", TickerSymbol: "META", SecurityType: "equity", Quantity: 40, UnitPrice: 485.39, MarketValue: 19415.6, CostBasis: 320},
		{SecurityName: "Vanguard Total Bond Market ETF", TickerSymbol: "BND", SecurityType: "fixed income", Quantity: 60, UnitPrice: 72.15, MarketValue: 4329, CostBasis: 74},
		{SecurityName: "U.S. Dollar", TickerSymbol: "USD", SecurityType: "cash", Quantity: 2500, UnitPrice: 1, MarketValue: 2500, CostBasis: 1},
	}
}

// Backend serves the link backend functions from memory. Users get the
// sample holdings once they have linked an institution.
type Backend struct {
	holdings []models.Holding
	logger   *logging.Logger

	mu     sync.Mutex
	linked map[string]models.Institution
	failOn map[string]int // path -> status
}

// NewBackend creates a Backend serving holdings; nil means SampleHoldings.
func NewBackend(holdings []models.Holding, logger *logging.Logger) *Backend {
	if holdings == nil {
		holdings = SampleHoldings()
	}
	if logger == nil {
		logger = logging.NewSilent()
	}
	return &Backend{
		holdings: holdings,
		logger:   logger.Component("demo"),
		linked:   make(map[string]models.Institution),
		failOn:   make(map[string]int),
	}
}

// Routes returns the function endpoints.
func (b *Backend) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(b.requireBearer)
	r.Use(b.injectFailures)
	r.Post("/create-link-token", b.createLinkToken)
	r.Post("/exchange-public-token", b.exchangePublicToken)
	r.Post("/fetch-investments", b.fetchInvestments)
	return r
}

// MarkLinked links a user without going through consent.
func (b *Backend) MarkLinked(userID string, inst models.Institution) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.linked[userID] = inst
}

// IsLinked reports whether a user has linked an institution.
func (b *Backend) IsLinked(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.linked[userID]
	return ok
}

// FailWith makes every request to path answer with status until cleared
// with status 0.
func (b *Backend) FailWith(path string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.failOn, path)
		return
	}
	b.failOn[path] = status
}

// SetHoldings replaces the holdings served to linked users.
func (b *Backend) SetHoldings(holdings []models.Holding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdings = holdings
}

func (b *Backend) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		status := b.failOn[r.URL.Path]
		b.mu.Unlock()
		if status != 0 {
			writeJSON(w, status, map[string]string{"error": "injected failure"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) createLinkToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}

	token := "link-sandbox-" + uuid.NewString()
	b.logger.Debug().Str("user_id", req.UserID).Msg("issued link token")
	writeJSON(w, http.StatusOK, map[string]string{"link_token": token})
}

func (b *Backend) exchangePublicToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicToken string             `json:"public_token"`
		UserID      string             `json:"user_id"`
		Institution models.Institution `json:"institution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PublicToken == "" || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "public_token and user_id are required"})
		return
	}

	inst := req.Institution
	if inst.ID == "" {
		inst = Institution
	}
	b.MarkLinked(req.UserID, inst)

	b.logger.Info().Str("user_id", req.UserID).Str("institution", inst.Name).Msg("public token exchanged")
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (b *Backend) fetchInvestments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId is required"})
		return
	}

	holdings := []models.Holding{}
	if b.IsLinked(req.UserID) {
		holdings = append(holdings, b.currentHoldings()...)
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "holdings": holdings})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *Backend) currentHoldings() []models.Holding {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Holding(nil), b.holdings...)
}

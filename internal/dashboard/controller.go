// Package dashboard drives the per-user holdings dashboard: initial sync,
// refresh and connect actions, and the composed view.
package dashboard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"portfolio_link/internal/diagnostics"
	apperrors "portfolio_link/internal/errors"
	"portfolio_link/internal/link"
	"portfolio_link/internal/logging"
	"portfolio_link/internal/models"
	"portfolio_link/internal/repository"
	"portfolio_link/internal/services"
)

// HitRadius is the distance of hover regions from the chart center, in
// percent of the chart box.
const HitRadius = 40

// Syncer refreshes holdings and records the run.
type Syncer interface {
	Sync(ctx context.Context, creds models.Credentials, trigger string) (*models.HoldingsSnapshot, error)
}

// Linker runs account link sessions.
type Linker interface {
	Connect(ctx context.Context, creds models.Credentials) link.Outcome
	Status() link.Status
	Session() (link.Session, bool)
	Last() (link.Session, bool)
}

// HoldingsReader reads the stored holdings of a user.
type HoldingsReader interface {
	ListByUser(ctx context.Context, userID string) ([]models.Holding, error)
}

// ResultKind classifies how a dashboard action ended.
type ResultKind string

// Action results.
const (
	ResultOK           ResultKind = "ok"
	ResultPending      ResultKind = "pending"
	ResultFailed       ResultKind = "failed"
	ResultCancelled    ResultKind = "cancelled"
	ResultRejected     ResultKind = "rejected"
	ResultAuthRequired ResultKind = "auth_required"
)

// Result is the outcome of Init, Refresh or Connect.
type Result struct {
	Kind     ResultKind `json:"result"`
	Holdings int        `json:"holdings"`
	Message  string     `json:"message,omitempty"`
	Err      error      `json:"-"`
}

// View is everything the dashboard renders for one selection.
type View struct {
	Holdings   []models.Holding           `json:"holdings"`
	Selection  services.HoldingsView      `json:"selection"`
	Segments   []models.AllocationSegment `json:"segments"`
	Gradient   []services.GradientStop    `json:"gradient"`
	HitRegions []services.HitRegion       `json:"hit_regions"`
	Summary    models.SummaryMetrics      `json:"summary"`
	Formatted  services.FormattedSummary  `json:"formatted"`
	FetchedAt  *time.Time                 `json:"fetched_at,omitempty"`
	Busy       bool                       `json:"busy"`
	LinkStatus link.Status                `json:"link_status"`
}

// Controller owns the dashboard state of one user. Refresh and Connect are
// serialized: a call while another is pending is rejected.
type Controller struct {
	userID      string
	syncer      Syncer
	linker      Linker
	store       HoldingsReader
	diagnostics *diagnostics.Log
	logger      *logging.Logger
	currency    string

	busy atomic.Bool

	mu        sync.RWMutex
	creds     models.Credentials
	snapshot  *models.HoldingsSnapshot
	selection services.HoldingsView
}

// NewController creates a Controller. store may be nil.
func NewController(creds models.Credentials, syncer Syncer, linker Linker, store HoldingsReader, diag *diagnostics.Log, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.NewSilent()
	}
	if diag == nil {
		diag = diagnostics.New(creds.UserID)
	}
	return &Controller{
		userID:      creds.UserID,
		syncer:      syncer,
		linker:      linker,
		store:       store,
		diagnostics: diag,
		logger:      logger.Component("dashboard"),
		currency:    services.DefaultCurrency,
		creds:       creds,
		selection:   services.NewHoldingsView(),
	}
}

// UserID returns the user the controller belongs to.
func (c *Controller) UserID() string { return c.userID }

// Diagnostics returns the user's diagnostic log.
func (c *Controller) Diagnostics() *diagnostics.Log { return c.diagnostics }

// SetCredentials replaces the bearer credential, e.g. after a token refresh.
func (c *Controller) SetCredentials(creds models.Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
}

// Busy reports whether a refresh or connect is in flight.
func (c *Controller) Busy() bool { return c.busy.Load() }

// Init resolves the user identity and runs the first refresh. When the
// refresh fails the stored holdings are shown instead.
func (c *Controller) Init(ctx context.Context) Result {
	if !c.acquire() {
		return c.rejected()
	}
	defer c.release()

	res := c.refresh(ctx, repository.TriggerInit)
	if res.Kind == ResultFailed {
		c.loadStored(ctx)
	}
	return res
}

// Refresh re-runs the holdings sync for the current user.
func (c *Controller) Refresh(ctx context.Context) Result {
	if !c.acquire() {
		return c.rejected()
	}
	defer c.release()

	return c.refresh(ctx, repository.TriggerRefresh)
}

// Connect runs a full account link and blocks until it ends. The link's
// final sync step replaces the snapshot on success.
func (c *Controller) Connect(ctx context.Context) Result {
	if !c.acquire() {
		return c.rejected()
	}
	defer c.release()

	return c.connect(ctx)
}

// StartConnect begins an account link in the background and returns
// immediately with ResultPending, or ResultRejected when busy. done, if
// not nil, receives the final result.
func (c *Controller) StartConnect(ctx context.Context, done func(Result)) Result {
	if !c.acquire() {
		return c.rejected()
	}

	go func() {
		res := c.connect(ctx)
		c.release()
		if done != nil {
			done(res)
		}
	}()

	return Result{Kind: ResultPending}
}

func (c *Controller) refresh(ctx context.Context, trigger string) Result {
	creds := c.credentials()
	if !creds.Valid() {
		err := apperrors.AuthRequired("sign in to load holdings")
		c.diagnostics.Error(err.Message)
		return Result{Kind: ResultAuthRequired, Message: err.Message, Err: err}
	}

	snapshot, err := c.syncer.Sync(ctx, creds, trigger)
	if err != nil {
		msg := "Holdings refresh failed: " + err.Error()
		c.diagnostics.Error(msg)
		if apperrors.IsAuthRequired(err) {
			return Result{Kind: ResultAuthRequired, Message: msg, Err: err}
		}
		return Result{Kind: ResultFailed, Message: msg, Err: err}
	}

	c.setSnapshot(snapshot)
	c.diagnostics.Info(fmt.Sprintf("Holdings refreshed; %d holdings", len(snapshot.Holdings)))
	return Result{Kind: ResultOK, Holdings: len(snapshot.Holdings)}
}

func (c *Controller) connect(ctx context.Context) Result {
	outcome := c.linker.Connect(ctx, c.credentials())

	c.logger.Info().
		Str("user_id", c.userID).
		Str("session_id", outcome.SessionID).
		Str("outcome", string(outcome.Kind)).
		Msg("connect finished")

	switch outcome.Kind {
	case link.OutcomeSucceeded:
		c.setSnapshot(outcome.Snapshot)
		return Result{Kind: ResultOK, Holdings: len(outcome.Snapshot.Holdings)}
	case link.OutcomeCancelled:
		return Result{Kind: ResultCancelled, Message: errMessage(outcome.Err), Err: outcome.Err}
	case link.OutcomeAuthRequired:
		return Result{Kind: ResultAuthRequired, Message: errMessage(outcome.Err), Err: outcome.Err}
	case link.OutcomeRejected:
		return Result{Kind: ResultRejected, Message: errMessage(outcome.Err), Err: outcome.Err}
	default:
		return Result{Kind: ResultFailed, Message: errMessage(outcome.Err), Err: outcome.Err}
	}
}

// loadStored falls back to whatever the store holds after a failed sync.
func (c *Controller) loadStored(ctx context.Context) {
	if c.store == nil || c.hasSnapshot() {
		return
	}
	holdings, err := c.store.ListByUser(ctx, c.userID)
	if err != nil {
		c.logger.Warn().Err(err).Str("user_id", c.userID).Msg("loading stored holdings")
		return
	}
	if len(holdings) == 0 {
		return
	}
	c.setSnapshot(&models.HoldingsSnapshot{UserID: c.userID, Holdings: holdings})
}

// Snapshot returns the last known good holdings.
func (c *Controller) Snapshot() (models.HoldingsSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return models.HoldingsSnapshot{}, false
	}
	snap := *c.snapshot
	snap.Holdings = append([]models.Holding(nil), c.snapshot.Holdings...)
	return snap, true
}

// Holdings returns a copy of the last known good holdings.
func (c *Controller) Holdings() []models.Holding {
	snap, ok := c.Snapshot()
	if !ok {
		return []models.Holding{}
	}
	return snap.Holdings
}

// Selection returns the stored filter and sort selection.
func (c *Controller) Selection() services.HoldingsView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selection
}

// ToggleSort applies a column click to the stored selection.
func (c *Controller) ToggleSort(field services.SortField) services.HoldingsView {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection = c.selection.Toggle(field)
	return c.selection
}

// SetQuery stores the filter text.
func (c *Controller) SetQuery(query string) services.HoldingsView {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection.Query = query
	return c.selection
}

// View composes the dashboard for sel. The allocation always covers every
// holding; only the table is filtered.
func (c *Controller) View(sel services.HoldingsView) View {
	snap, ok := c.Snapshot()
	holdings := snap.Holdings
	if holdings == nil {
		holdings = []models.Holding{}
	}
	var fetchedAt *time.Time
	if ok && !snap.FetchedAt.IsZero() {
		fetchedAt = &snap.FetchedAt
	}

	alloc := services.Aggregate(holdings)
	return View{
		Holdings:   sel.Apply(holdings),
		Selection:  sel,
		Segments:   alloc.Segments,
		Gradient:   services.GradientStops(alloc.Segments),
		HitRegions: services.HitRegions(alloc.Segments, HitRadius),
		Summary:    alloc.Summary,
		Formatted:  services.FormatSummary(alloc.Summary, c.currency),
		FetchedAt:  fetchedAt,
		Busy:       c.Busy(),
		LinkStatus: c.linker.Status(),
	}
}

// LinkStatus returns the active link session, or the last finished one.
func (c *Controller) LinkStatus() (link.Session, bool) {
	if s, ok := c.linker.Session(); ok {
		return s, true
	}
	return c.linker.Last()
}

func (c *Controller) acquire() bool { return c.busy.CompareAndSwap(false, true) }

func (c *Controller) release() { c.busy.Store(false) }

func (c *Controller) rejected() Result {
	err := apperrors.New(apperrors.ErrBusy, "a refresh or account link is already in progress")
	c.logger.Debug().Str("user_id", c.userID).Msg("action rejected while busy")
	return Result{Kind: ResultRejected, Message: err.Message, Err: err}
}

func (c *Controller) credentials() models.Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

func (c *Controller) setSnapshot(s *models.HoldingsSnapshot) {
	if s == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = s
}

func (c *Controller) hasSnapshot() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot != nil
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

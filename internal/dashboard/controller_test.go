package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio_link/internal/database"
	"portfolio_link/internal/demo"
	"portfolio_link/internal/diagnostics"
	apperrors "portfolio_link/internal/errors"
	"portfolio_link/internal/link"
	"portfolio_link/internal/link/consent"
	"portfolio_link/internal/models"
	"portfolio_link/internal/repository"
	"portfolio_link/internal/services"
	holdingsync "portfolio_link/internal/sync"
	"portfolio_link/internal/syncclient"
)

type testEnv struct {
	backend      *demo.Backend
	hosted       *consent.Hosted
	holdings     *repository.HoldingRepository
	institutions *repository.LinkedInstitutionRepository
	history      *repository.SyncHistoryRepository
	registry     *Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations())

	backend := demo.NewBackend(nil, nil)
	srv := httptest.NewServer(backend.Routes())
	t.Cleanup(srv.Close)

	env := &testEnv{
		backend:      backend,
		holdings:     repository.NewHoldingRepository(db),
		institutions: repository.NewLinkedInstitutionRepository(db),
		history:      repository.NewSyncHistoryRepository(db),
	}

	client := syncclient.New(syncclient.Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, env.holdings, nil)
	syncer := holdingsync.NewService(client, env.history, nil)

	signer, err := consent.NewSigner(strings.Repeat("k", 32))
	require.NoError(t, err)
	env.hosted = consent.NewHosted(signer, "http://localhost:8080", nil)

	env.registry = NewRegistry(syncer, env.hosted,
		WithInstitutionRecorder(env.institutions),
		WithHoldingsReader(env.holdings),
		WithDiagnosticSink(repository.NewDiagnosticRepository(db)),
	)
	return env
}

var userCreds = models.Credentials{UserID: "user-1", Token: "token-1"}

var platypus = models.Institution{ID: "ins_109508", Name: "First Platypus Bank"}

func waitPending(t *testing.T, h *consent.Hosted, userID string) consent.Pending {
	t.Helper()
	var pending consent.Pending
	require.Eventually(t, func() bool {
		p, ok := h.PendingFor(userID)
		pending = p
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	return pending
}

func waitResult(t *testing.T, done <-chan Result) Result {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not finish")
		return Result{}
	}
}

func TestController_ConnectThenRefreshRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ctrl, created := env.registry.Get(userCreds)
	require.True(t, created)

	res := ctrl.Init(ctx)
	require.Equal(t, ResultOK, res.Kind)
	assert.Zero(t, res.Holdings)

	done := make(chan Result, 1)
	started := ctrl.StartConnect(ctx, func(r Result) { done <- r })
	require.Equal(t, ResultPending, started.Kind)

	pending := waitPending(t, env.hosted, userCreds.UserID)
	session, ok := ctrl.LinkStatus()
	require.True(t, ok)
	assert.Equal(t, link.StatusAwaitingUserConsent, session.Status)
	assert.Equal(t, session.LinkToken, pending.LinkToken)

	require.NoError(t, env.hosted.Succeed(pending.State, "public-sandbox-1", platypus))

	res = waitResult(t, done)
	require.Equal(t, ResultOK, res.Kind, res.Message)
	assert.Equal(t, len(demo.SampleHoldings()), res.Holdings)

	res = ctrl.Refresh(ctx)
	require.Equal(t, ResultOK, res.Kind, res.Message)

	stored, err := env.holdings.ListByUser(ctx, userCreds.UserID)
	require.NoError(t, err)
	assert.Equal(t, demo.SampleHoldings(), stored)
	assert.Equal(t, demo.SampleHoldings(), ctrl.Holdings())

	linked, err := env.institutions.GetByUserAndInstitution(ctx, userCreds.UserID, platypus.ID)
	require.NoError(t, err)
	require.NotNil(t, linked)
	assert.Equal(t, platypus.Name, linked.InstitutionName)

	history, err := env.history.ListByUser(ctx, userCreds.UserID, repository.NewPagination(10, 0))
	require.NoError(t, err)
	require.Len(t, history, 3)
	triggers := map[string]bool{}
	for _, h := range history {
		triggers[h.Trigger] = true
		assert.Equal(t, "success", h.Status)
	}
	assert.True(t, triggers[repository.TriggerInit])
	assert.True(t, triggers[repository.TriggerConnect])
	assert.True(t, triggers[repository.TriggerRefresh])

	lines := strings.Join(ctrl.Diagnostics().Lines(), "\n")
	assert.Contains(t, lines, "Linked First Platypus Bank; 9 holdings synced")
	assert.Zero(t, ctrl.Diagnostics().CountLevel(diagnostics.LevelError))
}

func TestController_RejectsRefreshWhileConnectPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.backend.MarkLinked(userCreds.UserID, demo.Institution)

	ctrl, _ := env.registry.Get(userCreds)
	require.Equal(t, ResultOK, ctrl.Refresh(ctx).Kind)
	before := ctrl.Holdings()

	done := make(chan Result, 1)
	ctrl.StartConnect(ctx, func(r Result) { done <- r })
	pending := waitPending(t, env.hosted, userCreds.UserID)

	res := ctrl.Refresh(ctx)
	assert.Equal(t, ResultRejected, res.Kind)
	assert.True(t, errors.Is(res.Err, apperrors.ErrBusy))
	assert.Equal(t, ResultRejected, ctrl.Connect(ctx).Kind)
	assert.True(t, ctrl.Busy())

	session, _ := ctrl.LinkStatus()
	assert.Equal(t, pending.SessionID, session.ID)
	assert.Equal(t, link.StatusAwaitingUserConsent, session.Status)

	require.NoError(t, env.hosted.Exit(pending.State, "USER_EXIT", "closed the window"))
	res = waitResult(t, done)
	assert.Equal(t, ResultCancelled, res.Kind)
	assert.Equal(t, before, ctrl.Holdings())
	assert.False(t, ctrl.Busy())
}

func TestController_CancelledConnectSkipsExchange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ctrl, _ := env.registry.Get(userCreds)
	done := make(chan Result, 1)
	ctrl.StartConnect(ctx, func(r Result) { done <- r })
	pending := waitPending(t, env.hosted, userCreds.UserID)

	require.NoError(t, env.hosted.Exit(pending.State, "", ""))
	res := waitResult(t, done)

	assert.Equal(t, ResultCancelled, res.Kind)
	assert.True(t, apperrors.IsCancelled(res.Err))
	assert.False(t, env.backend.IsLinked(userCreds.UserID))
	assert.Zero(t, ctrl.Diagnostics().CountLevel(diagnostics.LevelError))
	assert.Equal(t, link.StatusIdle, ctrl.View(ctrl.Selection()).LinkStatus)
}

func TestController_FailedRefreshKeepsLastSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.backend.MarkLinked(userCreds.UserID, demo.Institution)

	ctrl, _ := env.registry.Get(userCreds)
	require.Equal(t, ResultOK, ctrl.Refresh(ctx).Kind)

	env.backend.FailWith("/fetch-investments", http.StatusBadGateway)
	res := ctrl.Refresh(ctx)

	assert.Equal(t, ResultFailed, res.Kind)
	assert.True(t, errors.Is(res.Err, apperrors.ErrSyncTrigger))
	assert.Equal(t, demo.SampleHoldings(), ctrl.Holdings())
	assert.Equal(t, 1, ctrl.Diagnostics().CountLevel(diagnostics.LevelError))

	env.backend.FailWith("/fetch-investments", 0)
	assert.Equal(t, ResultOK, ctrl.Refresh(ctx).Kind)
}

func TestController_FailedConnectAllowsRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ctrl, _ := env.registry.Get(userCreds)
	env.backend.FailWith("/create-link-token", http.StatusInternalServerError)

	res := ctrl.Connect(ctx)
	assert.Equal(t, ResultFailed, res.Kind)
	assert.True(t, errors.Is(res.Err, apperrors.ErrTokenRequest))
	assert.Equal(t, 1, ctrl.Diagnostics().CountLevel(diagnostics.LevelError))
	assert.Empty(t, ctrl.Holdings())

	env.backend.FailWith("/create-link-token", 0)
	done := make(chan Result, 1)
	require.Equal(t, ResultPending, ctrl.StartConnect(ctx, func(r Result) { done <- r }).Kind)
	pending := waitPending(t, env.hosted, userCreds.UserID)
	require.NoError(t, env.hosted.Succeed(pending.State, "public-sandbox-2", platypus))
	assert.Equal(t, ResultOK, waitResult(t, done).Kind)
}

func TestController_AuthRequired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ctrl, _ := env.registry.Get(models.Credentials{UserID: "user-2"})

	res := ctrl.Init(ctx)
	assert.Equal(t, ResultAuthRequired, res.Kind)
	assert.True(t, apperrors.IsAuthRequired(res.Err))

	res = ctrl.Connect(ctx)
	assert.Equal(t, ResultAuthRequired, res.Kind)
	assert.Equal(t, 2, ctrl.Diagnostics().CountLevel(diagnostics.LevelError))

	history, err := env.history.ListByUser(ctx, "user-2", repository.NewPagination(10, 0))
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestController_InitFallsBackToStoredHoldings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	stored := demo.SampleHoldings()[:2]
	require.NoError(t, env.holdings.ReplaceForUser(ctx, userCreds.UserID, stored))
	env.backend.FailWith("/fetch-investments", http.StatusServiceUnavailable)

	ctrl, _ := env.registry.Get(userCreds)
	res := ctrl.Init(ctx)

	assert.Equal(t, ResultFailed, res.Kind)
	assert.Equal(t, stored, ctrl.Holdings())
}

func TestController_View(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.backend.MarkLinked(userCreds.UserID, demo.Institution)

	ctrl, _ := env.registry.Get(userCreds)
	require.Equal(t, ResultOK, ctrl.Refresh(ctx).Kind)

	v := ctrl.View(ctrl.Selection())
	require.Len(t, v.Holdings, 9)
	assert.Equal(t, "NVDA", v.Holdings[0].TickerSymbol)
	require.Len(t, v.Segments, 3)
	assert.Equal(t, []string{"equity", "fixed income", "cash"},
		[]string{v.Segments[0].Label, v.Segments[1].Label, v.Segments[2].Label})
	assert.Equal(t, 100, v.Gradient[len(v.Gradient)-1].End)
	assert.Len(t, v.HitRegions, 3)
	assert.Equal(t, "$134,627.20", v.Formatted.TotalValue)
	assert.Equal(t, "$0.00", v.Formatted.DailyChange)
	assert.NotNil(t, v.FetchedAt)

	sel := ctrl.SetQuery("micro")
	v = ctrl.View(sel)
	require.Len(t, v.Holdings, 1)
	assert.Equal(t, "MSFT", v.Holdings[0].TickerSymbol)
	assert.Len(t, v.Segments, 3)

	sel = ctrl.ToggleSort(services.FieldMarketValue)
	assert.Equal(t, services.Ascending, sel.Direction)
	sel = ctrl.ToggleSort(services.FieldTickerSymbol)
	assert.Equal(t, services.FieldTickerSymbol, sel.Field)
	assert.Equal(t, services.Descending, sel.Direction)
}

// growingSyncer returns n holdings fetched at unix second n on its nth call.
type growingSyncer struct {
	calls atomic.Int64
}

func (s *growingSyncer) Sync(_ context.Context, creds models.Credentials, _ string) (*models.HoldingsSnapshot, error) {
	n := s.calls.Add(1)
	holdings := make([]models.Holding, n)
	for i := range holdings {
		holdings[i] = models.Holding{TickerSymbol: fmt.Sprintf("T%d", i), SecurityType: "equity", Quantity: 1, UnitPrice: 1, MarketValue: 1}
	}
	return &models.HoldingsSnapshot{UserID: creds.UserID, Holdings: holdings, FetchedAt: time.Unix(n, 0)}, nil
}

type idleLinker struct{}

func (idleLinker) Connect(context.Context, models.Credentials) link.Outcome { return link.Outcome{} }
func (idleLinker) Status() link.Status                                      { return link.StatusIdle }
func (idleLinker) Session() (link.Session, bool)                            { return link.Session{}, false }
func (idleLinker) Last() (link.Session, bool)                               { return link.Session{}, false }

func TestController_ViewUsesOneSnapshot(t *testing.T) {
	ctrl := NewController(userCreds, &growingSyncer{}, idleLinker{}, nil, nil, nil)
	ctx := context.Background()
	require.Equal(t, ResultOK, ctrl.Refresh(ctx).Kind)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			ctrl.Refresh(ctx)
		}
	}()

	for i := 0; i < 200; i++ {
		v := ctrl.View(ctrl.Selection())
		require.NotNil(t, v.FetchedAt)
		require.Len(t, v.Holdings, int(v.FetchedAt.Unix()))
	}
	wg.Wait()
}

func TestRegistry_GetReusesController(t *testing.T) {
	env := newTestEnv(t)

	first, created := env.registry.Get(userCreds)
	require.True(t, created)
	second, created := env.registry.Get(models.Credentials{UserID: userCreds.UserID, Token: "rotated"})
	assert.False(t, created)
	assert.Same(t, first, second)
	assert.Equal(t, "rotated", second.credentials().Token)

	_, ok := env.registry.Lookup("nobody")
	assert.False(t, ok)
	assert.Equal(t, 1, env.registry.Len())
}

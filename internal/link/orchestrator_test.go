package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "portfolio_link/internal/errors"
	"portfolio_link/internal/models"
)

type fakeBackend struct {
	mu            sync.Mutex
	tokenErr      error
	exchangeErr   error
	refreshErr    error
	holdings      []models.Holding
	tokenCalls    int
	exchangeCalls int
	refreshCalls  int
	publicTokens  []string
}

func (b *fakeBackend) IssueLinkToken(ctx context.Context, creds models.Credentials) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokenCalls++
	if b.tokenErr != nil {
		return "", b.tokenErr
	}
	return "link-token-1", nil
}

func (b *fakeBackend) ExchangePublicToken(ctx context.Context, creds models.Credentials, publicToken string, inst models.Institution) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exchangeCalls++
	b.publicTokens = append(b.publicTokens, publicToken)
	return b.exchangeErr
}

func (b *fakeBackend) RefreshHoldings(ctx context.Context, creds models.Credentials) (*models.HoldingsSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshCalls++
	if b.refreshErr != nil {
		return nil, b.refreshErr
	}
	return &models.HoldingsSnapshot{UserID: creds.UserID, Holdings: b.holdings, FetchedAt: time.Now()}, nil
}

type fakeConsent struct {
	events chan ConsentEvent
	opened chan Session
	err    error
}

func newFakeConsent() *fakeConsent {
	return &fakeConsent{
		events: make(chan ConsentEvent, 1),
		opened: make(chan Session, 1),
	}
}

func (c *fakeConsent) Open(ctx context.Context, s Session) (<-chan ConsentEvent, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.opened <- s
	return c.events, nil
}

type entry struct {
	level   string
	message string
}

type fakeDiagnostics struct {
	mu      sync.Mutex
	entries []entry
}

func (d *fakeDiagnostics) Info(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entry{"info", message})
}

func (d *fakeDiagnostics) Error(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entry{"error", message})
}

func (d *fakeDiagnostics) count(level string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []models.Institution
}

func (r *fakeRecorder) Upsert(ctx context.Context, userID string, inst models.Institution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, inst)
	return nil
}

var testCreds = models.Credentials{UserID: "user-1", Token: "bearer-1"}

var chase = models.Institution{ID: "ins_3", Name: "Chase"}

func succeedConsent(c *fakeConsent) {
	c.events <- ConsentEvent{PublicToken: "public-1", Institution: chase}
}

func TestConnect_HappyPath(t *testing.T) {
	backend := &fakeBackend{holdings: []models.Holding{{SecurityName: "Apple Inc.", MarketValue: 100}}}
	consent := newFakeConsent()
	diags := &fakeDiagnostics{}
	recorder := &fakeRecorder{}
	o := NewOrchestrator(backend, consent, diags, WithInstitutionRecorder(recorder))

	succeedConsent(consent)
	out := o.Connect(context.Background(), testCreds)

	require.Equal(t, OutcomeSucceeded, out.Kind, "err: %v", out.Err)
	require.NotNil(t, out.Snapshot)
	assert.Len(t, out.Snapshot.Holdings, 1)
	assert.Equal(t, &chase, out.Institution)
	assert.Equal(t, StatusIdle, o.Status())
	assert.Equal(t, 0, diags.count("error"))
	assert.Equal(t, []models.Institution{chase}, recorder.seen)
	assert.Equal(t, []string{"public-1"}, backend.publicTokens)

	opened := <-consent.opened
	assert.Equal(t, "link-token-1", opened.LinkToken)
	assert.Equal(t, StatusAwaitingUserConsent, opened.Status)

	last, ok := o.Last()
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, last.Status)
	assert.Empty(t, last.ErrorMessage)
	assert.Equal(t, out.SessionID, last.ID)
}

func TestConnect_TokenFailure(t *testing.T) {
	backend := &fakeBackend{tokenErr: apperrors.New(apperrors.ErrTokenRequest, "status 500")}
	consent := newFakeConsent()
	diags := &fakeDiagnostics{}
	o := NewOrchestrator(backend, consent, diags)

	out := o.Connect(context.Background(), testCreds)

	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.True(t, errors.Is(out.Err, apperrors.ErrTokenRequest))
	assert.Equal(t, 1, diags.count("error"))
	assert.Equal(t, 0, backend.exchangeCalls)
	assert.Empty(t, consent.opened)
	assert.Equal(t, StatusIdle, o.Status())

	last, ok := o.Last()
	require.True(t, ok)
	assert.Equal(t, StatusFailed, last.Status)
	assert.NotEmpty(t, last.ErrorMessage)

	// A failed session never blocks the next attempt.
	backend.tokenErr = nil
	succeedConsent(consent)
	out = o.Connect(context.Background(), testCreds)
	assert.Equal(t, OutcomeSucceeded, out.Kind)
}

func TestConnect_TimeoutReportedDistinctly(t *testing.T) {
	step := apperrors.Wrap(apperrors.ErrTokenRequest, "issuing link token", context.DeadlineExceeded)
	backend := &fakeBackend{tokenErr: apperrors.Wrap(apperrors.ErrTimeout, "issuing link token timed out", step)}
	o := NewOrchestrator(backend, newFakeConsent(), &fakeDiagnostics{})

	out := o.Connect(context.Background(), testCreds)

	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.True(t, apperrors.IsTimeout(out.Err))
	assert.True(t, errors.Is(out.Err, apperrors.ErrTokenRequest))
}

func TestConnect_ConsentExitIsNotFailure(t *testing.T) {
	backend := &fakeBackend{}
	consent := newFakeConsent()
	diags := &fakeDiagnostics{}
	o := NewOrchestrator(backend, consent, diags)

	consent.events <- ConsentEvent{Exited: true, ErrorCode: "INSTITUTION_DOWN", ErrorMessage: "bank unavailable"}
	out := o.Connect(context.Background(), testCreds)

	assert.Equal(t, OutcomeCancelled, out.Kind)
	assert.True(t, apperrors.IsCancelled(out.Err))
	assert.Equal(t, 0, diags.count("error"))
	assert.Equal(t, 1, diags.count("info"))
	assert.Equal(t, 0, backend.exchangeCalls)
	assert.Equal(t, 0, backend.refreshCalls)
	assert.Equal(t, StatusIdle, o.Status())

	diags.mu.Lock()
	assert.Contains(t, diags.entries[0].message, "bank unavailable")
	diags.mu.Unlock()
}

func TestConnect_ClosedConsentChannelIsExit(t *testing.T) {
	consent := newFakeConsent()
	close(consent.events)
	o := NewOrchestrator(&fakeBackend{}, consent, &fakeDiagnostics{})

	out := o.Connect(context.Background(), testCreds)
	assert.Equal(t, OutcomeCancelled, out.Kind)
}

func TestConnect_ContextCancelWhileAwaitingConsent(t *testing.T) {
	consent := newFakeConsent()
	diags := &fakeDiagnostics{}
	o := NewOrchestrator(&fakeBackend{}, consent, diags)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() { done <- o.Connect(ctx, testCreds) }()

	<-consent.opened
	cancel()

	select {
	case out := <-done:
		assert.Equal(t, OutcomeCancelled, out.Kind)
		assert.Equal(t, 0, diags.count("error"))
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after cancellation")
	}
}

func TestConnect_ExchangeFailureNotRetried(t *testing.T) {
	backend := &fakeBackend{exchangeErr: apperrors.New(apperrors.ErrExchange, "status 400")}
	consent := newFakeConsent()
	diags := &fakeDiagnostics{}
	recorder := &fakeRecorder{}
	o := NewOrchestrator(backend, consent, diags, WithInstitutionRecorder(recorder))

	succeedConsent(consent)
	out := o.Connect(context.Background(), testCreds)

	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.True(t, errors.Is(out.Err, apperrors.ErrExchange))
	assert.Equal(t, 1, backend.exchangeCalls)
	assert.Equal(t, 0, backend.refreshCalls)
	assert.Equal(t, 1, diags.count("error"))
	assert.Empty(t, recorder.seen)
}

func TestConnect_SyncFailureKeepsLink(t *testing.T) {
	backend := &fakeBackend{refreshErr: apperrors.New(apperrors.ErrSyncTrigger, "status 502")}
	consent := newFakeConsent()
	diags := &fakeDiagnostics{}
	recorder := &fakeRecorder{}
	o := NewOrchestrator(backend, consent, diags, WithInstitutionRecorder(recorder))

	succeedConsent(consent)
	out := o.Connect(context.Background(), testCreds)

	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.True(t, errors.Is(out.Err, apperrors.ErrSync))
	assert.True(t, errors.Is(out.Err, apperrors.ErrSyncTrigger))
	assert.Nil(t, out.Snapshot)
	assert.Equal(t, []models.Institution{chase}, recorder.seen)
	assert.Equal(t, 1, diags.count("error"))
}

func TestConnect_AuthRequiredBeforeAnyCall(t *testing.T) {
	backend := &fakeBackend{}
	diags := &fakeDiagnostics{}
	o := NewOrchestrator(backend, newFakeConsent(), diags)

	out := o.Connect(context.Background(), models.Credentials{UserID: "user-1"})

	assert.Equal(t, OutcomeAuthRequired, out.Kind)
	assert.True(t, apperrors.IsAuthRequired(out.Err))
	assert.Equal(t, 0, backend.tokenCalls)
	assert.Equal(t, 1, diags.count("error"))
	assert.Equal(t, StatusIdle, o.Status())
}

func TestConnect_RejectedWhileActive(t *testing.T) {
	backend := &fakeBackend{}
	consent := newFakeConsent()
	o := NewOrchestrator(backend, consent, &fakeDiagnostics{})

	done := make(chan Outcome, 1)
	go func() { done <- o.Connect(context.Background(), testCreds) }()

	opened := <-consent.opened
	before, ok := o.Session()
	require.True(t, ok)

	second := o.Connect(context.Background(), testCreds)
	assert.Equal(t, OutcomeRejected, second.Kind)
	assert.True(t, errors.Is(second.Err, apperrors.ErrBusy))
	assert.Equal(t, opened.ID, second.SessionID)

	after, ok := o.Session()
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, StatusAwaitingUserConsent, o.Status())
	assert.Equal(t, 1, backend.tokenCalls)

	succeedConsent(consent)
	out := <-done
	assert.Equal(t, OutcomeSucceeded, out.Kind)
}

func TestConnect_ConsentOpenErrorEndsSession(t *testing.T) {
	consent := newFakeConsent()
	consent.err = errors.New("no consent page configured")
	diags := &fakeDiagnostics{}
	o := NewOrchestrator(&fakeBackend{}, consent, diags)

	out := o.Connect(context.Background(), testCreds)

	assert.Equal(t, OutcomeCancelled, out.Kind)
	assert.Equal(t, StatusIdle, o.Status())
	assert.Equal(t, 0, diags.count("error"))
}

package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "portfolio_link/internal/errors"
	"portfolio_link/internal/logging"
	"portfolio_link/internal/models"
)

// Backend performs the network steps of a link session.
type Backend interface {
	IssueLinkToken(ctx context.Context, creds models.Credentials) (string, error)
	ExchangePublicToken(ctx context.Context, creds models.Credentials, publicToken string, inst models.Institution) error
	RefreshHoldings(ctx context.Context, creds models.Credentials) (*models.HoldingsSnapshot, error)
}

// ConsentEvent is reported by the consent UI when the user finishes.
// Exited is set when the user left without linking; ErrorCode and
// ErrorMessage carry any provider metadata for the exit.
type ConsentEvent struct {
	PublicToken  string
	Institution  models.Institution
	Exited       bool
	ErrorCode    string
	ErrorMessage string
}

// ConsentUI presents the provider's consent flow for a session's link token.
// The returned channel delivers a single event; closing it without one
// counts as an exit.
type ConsentUI interface {
	Open(ctx context.Context, session Session) (<-chan ConsentEvent, error)
}

// InstitutionRecorder persists institutions whose token exchange succeeded.
type InstitutionRecorder interface {
	Upsert(ctx context.Context, userID string, inst models.Institution) error
}

// Diagnostics receives user-visible outcome messages.
type Diagnostics interface {
	Info(message string)
	Error(message string)
}

// OutcomeKind classifies how a Connect call ended.
type OutcomeKind string

// Connect outcomes.
const (
	OutcomeSucceeded    OutcomeKind = "succeeded"
	OutcomeFailed       OutcomeKind = "failed"
	OutcomeCancelled    OutcomeKind = "cancelled"
	OutcomeAuthRequired OutcomeKind = "auth_required"
	OutcomeRejected     OutcomeKind = "rejected"
)

// Outcome is the result of a Connect call. Snapshot is set on success;
// Err is set for every other kind.
type Outcome struct {
	Kind        OutcomeKind
	SessionID   string
	Institution *models.Institution
	Snapshot    *models.HoldingsSnapshot
	Err         error
}

// Orchestrator runs link sessions for one user, one at a time.
type Orchestrator struct {
	backend     Backend
	consent     ConsentUI
	recorder    InstitutionRecorder
	diagnostics Diagnostics
	logger      *logging.Logger
	now         func() time.Time

	mu      sync.Mutex
	session *Session
	last    *Session
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithInstitutionRecorder records linked institutions after a successful exchange.
func WithInstitutionRecorder(r InstitutionRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger sets the structured logger for transitions.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l.Component("link") }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(backend Backend, consent ConsentUI, diagnostics Diagnostics, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:     backend,
		consent:     consent,
		diagnostics: diagnostics,
		logger:      logging.NewSilent(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Status returns the state of the active session, or Idle.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return StatusIdle
	}
	return o.session.Status
}

// Session returns a copy of the active session.
func (o *Orchestrator) Session() (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return Session{}, false
	}
	return *o.session, true
}

// Last returns a copy of the most recently finished session.
func (o *Orchestrator) Last() (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Session{}, false
	}
	return *o.last, true
}

// Connect runs a full link session and blocks until it finishes. Waiting
// for consent has no deadline; cancelling ctx while waiting counts as the
// user exiting. A call while a session is active is rejected.
func (o *Orchestrator) Connect(ctx context.Context, creds models.Credentials) Outcome {
	o.mu.Lock()
	if o.session != nil {
		active := o.session.ID
		o.mu.Unlock()
		return Outcome{
			Kind:      OutcomeRejected,
			SessionID: active,
			Err:       apperrors.New(apperrors.ErrBusy, "an account link is already in progress"),
		}
	}
	if !creds.Valid() {
		o.mu.Unlock()
		err := apperrors.AuthRequired("sign in before linking an account")
		o.diagnostics.Error(err.Message)
		return Outcome{Kind: OutcomeAuthRequired, Err: err}
	}

	o.session = &Session{
		ID:        uuid.NewString(),
		UserID:    creds.UserID,
		Status:    StatusIdle,
		StartedAt: o.now(),
	}
	o.mu.Unlock()

	o.advance(EventConnect)
	return o.run(ctx, creds)
}

func (o *Orchestrator) run(ctx context.Context, creds models.Credentials) Outcome {
	sessionID := o.sessionID()

	token, err := o.backend.IssueLinkToken(ctx, creds)
	if err != nil {
		return o.fail(EventTokenFailed, "Could not start account linking: "+err.Error(), err)
	}

	o.mu.Lock()
	o.session.LinkToken = token
	o.mu.Unlock()
	o.advance(EventTokenIssued)

	ev := o.awaitConsent(ctx)
	if ev.Exited {
		return o.cancel(ev)
	}

	inst := ev.Institution
	o.diagnostics.Info(fmt.Sprintf("Consent received for %s; exchanging token", institutionLabel(inst)))
	o.advance(EventConsentSucceeded)

	if err := o.backend.ExchangePublicToken(ctx, creds, ev.PublicToken, inst); err != nil {
		return o.fail(EventExchangeFailed, fmt.Sprintf("Could not link %s: %v", institutionLabel(inst), err), err)
	}

	if o.recorder != nil {
		if err := o.recorder.Upsert(ctx, creds.UserID, inst); err != nil {
			o.logger.Warn().Err(err).Str("session_id", sessionID).Msg("recording linked institution")
		}
	}
	o.advance(EventExchangeSucceeded)

	snapshot, err := o.backend.RefreshHoldings(ctx, creds)
	if err != nil {
		syncErr := apperrors.Wrap(apperrors.ErrSync, "syncing holdings after link", err)
		return o.fail(EventSyncFailed,
			fmt.Sprintf("Linked %s but holdings sync failed: %v", institutionLabel(inst), err), syncErr)
	}

	o.advance(EventSyncSucceeded)
	o.diagnostics.Info(fmt.Sprintf("Linked %s; %d holdings synced", institutionLabel(inst), len(snapshot.Holdings)))
	o.finish()

	return Outcome{
		Kind:        OutcomeSucceeded,
		SessionID:   sessionID,
		Institution: &inst,
		Snapshot:    snapshot,
	}
}

// awaitConsent opens the consent UI and waits for the user without a deadline.
func (o *Orchestrator) awaitConsent(ctx context.Context) ConsentEvent {
	session, _ := o.Session()

	events, err := o.consent.Open(ctx, session)
	if err != nil {
		o.logger.Warn().Err(err).Str("session_id", session.ID).Msg("opening consent UI")
		return ConsentEvent{Exited: true, ErrorMessage: err.Error()}
	}

	select {
	case ev, ok := <-events:
		if !ok {
			return ConsentEvent{Exited: true}
		}
		return ev
	case <-ctx.Done():
		return ConsentEvent{Exited: true, ErrorMessage: ctx.Err().Error()}
	}
}

func (o *Orchestrator) cancel(ev ConsentEvent) Outcome {
	sessionID := o.sessionID()
	o.advance(EventConsentExited)

	msg := "Account linking cancelled"
	if ev.ErrorMessage != "" {
		msg += ": " + ev.ErrorMessage
	}
	if ev.ErrorCode != "" {
		msg += " (" + ev.ErrorCode + ")"
	}
	o.diagnostics.Info(msg)

	o.mu.Lock()
	o.last = o.session
	o.session = nil
	o.mu.Unlock()

	return Outcome{
		Kind:      OutcomeCancelled,
		SessionID: sessionID,
		Err:       apperrors.New(apperrors.ErrUserCancelled, msg),
	}
}

// fail records a failed session and returns to Idle.
func (o *Orchestrator) fail(ev Event, message string, err error) Outcome {
	sessionID := o.sessionID()

	o.mu.Lock()
	o.session.ErrorMessage = message
	o.mu.Unlock()
	o.advance(ev)

	o.diagnostics.Error(message)
	o.finish()

	return Outcome{Kind: OutcomeFailed, SessionID: sessionID, Err: err}
}

// finish moves a terminal session back to Idle, keeping it as Last.
func (o *Orchestrator) finish() {
	o.mu.Lock()
	defer o.mu.Unlock()

	last := *o.session
	if _, err := Next(o.session.Status, EventReset); err != nil {
		o.logger.Error().Err(err).Str("session_id", o.session.ID).Msg("resetting session")
	}
	o.last = &last
	o.session = nil
}

func (o *Orchestrator) advance(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	from := o.session.Status
	to, err := Next(from, ev)
	if err != nil {
		o.logger.Error().Err(err).Str("session_id", o.session.ID).Msg("link transition")
		return
	}
	o.session.Status = to

	o.logger.Info().
		Str("session_id", o.session.ID).
		Str("user_id", o.session.UserID).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("event", ev.String()).
		Msg("link transition")
}

func (o *Orchestrator) sessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.ID
}

func institutionLabel(inst models.Institution) string {
	if inst.Name != "" {
		return inst.Name
	}
	if inst.ID != "" {
		return inst.ID
	}
	return "account"
}

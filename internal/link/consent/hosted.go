package consent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"

	"portfolio_link/internal/link"
	"portfolio_link/internal/logging"
	"portfolio_link/internal/models"
)

// ErrNoPendingConsent indicates no consent is awaited for the state or user.
var ErrNoPendingConsent = errors.New("no consent pending")

// Pending describes a consent the hosted page should present.
type Pending struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	LinkToken string    `json:"link_token"`
	State     string    `json:"state"`
	URL       string    `json:"url"`
	OpenedAt  time.Time `json:"opened_at"`
}

type pendingConsent struct {
	Pending
	events chan link.ConsentEvent
	done   chan struct{}
	once   sync.Once
}

func (p *pendingConsent) deliver(ev link.ConsentEvent) bool {
	delivered := false
	p.once.Do(func() {
		p.events <- ev
		close(p.events)
		close(p.done)
		delivered = true
	})
	return delivered
}

// Hosted implements link.ConsentUI by publishing pending consents for a
// hosted page and relaying its success or exit callbacks.
type Hosted struct {
	signer    *Signer
	publicURL string
	logger    *logging.Logger

	mu        sync.Mutex
	byUser    map[string]*pendingConsent
	bySession map[string]*pendingConsent
}

// NewHosted creates a Hosted consent bridge whose page lives under publicURL.
func NewHosted(signer *Signer, publicURL string, logger *logging.Logger) *Hosted {
	if logger == nil {
		logger = logging.NewSilent()
	}
	return &Hosted{
		signer:    signer,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger.Component("consent"),
		byUser:    make(map[string]*pendingConsent),
		bySession: make(map[string]*pendingConsent),
	}
}

// Open registers a pending consent for the session. The pending entry is
// dropped once a callback arrives or ctx is cancelled.
func (h *Hosted) Open(ctx context.Context, session link.Session) (<-chan link.ConsentEvent, error) {
	state := h.signer.Sign(session.ID)
	p := &pendingConsent{
		Pending: Pending{
			SessionID: session.ID,
			UserID:    session.UserID,
			LinkToken: session.LinkToken,
			State:     state,
			URL:       h.publicURL + "/consent/" + state,
			OpenedAt:  time.Now(),
		},
		events: make(chan link.ConsentEvent, 1),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if prev, ok := h.byUser[session.UserID]; ok {
		delete(h.bySession, prev.SessionID)
	}
	h.byUser[session.UserID] = p
	h.bySession[session.ID] = p
	h.mu.Unlock()

	h.logger.Info().Str("session_id", session.ID).Str("user_id", session.UserID).Msg("consent opened")

	go func() {
		select {
		case <-ctx.Done():
		case <-p.done:
		}
		h.remove(p)
	}()

	return p.events, nil
}

// PendingFor returns the consent awaiting the user, if any.
func (h *Hosted) PendingFor(userID string) (Pending, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.byUser[userID]
	if !ok {
		return Pending{}, false
	}
	return p.Pending, true
}

// Lookup returns the pending consent addressed by a signed state.
func (h *Hosted) Lookup(state string) (Pending, error) {
	p, err := h.find(state)
	if err != nil {
		return Pending{}, err
	}
	return p.Pending, nil
}

// Succeed relays a successful consent with the provider's public token.
func (h *Hosted) Succeed(state, publicToken string, inst models.Institution) error {
	if publicToken == "" {
		return errors.New("public token is required")
	}
	p, err := h.find(state)
	if err != nil {
		return err
	}
	if !p.deliver(link.ConsentEvent{PublicToken: publicToken, Institution: inst}) {
		return ErrNoPendingConsent
	}
	h.logger.Info().Str("session_id", p.SessionID).Str("institution", inst.Name).Msg("consent succeeded")
	return nil
}

// Exit relays that the user left the consent flow.
func (h *Hosted) Exit(state, errorCode, errorMessage string) error {
	p, err := h.find(state)
	if err != nil {
		return err
	}
	if !p.deliver(link.ConsentEvent{Exited: true, ErrorCode: errorCode, ErrorMessage: errorMessage}) {
		return ErrNoPendingConsent
	}
	h.logger.Info().Str("session_id", p.SessionID).Str("error_code", errorCode).Msg("consent exited")
	return nil
}

// QRCode renders the user's pending consent URL as a PNG for phone hand-off.
func (h *Hosted) QRCode(userID string, size int) ([]byte, error) {
	p, ok := h.PendingFor(userID)
	if !ok {
		return nil, ErrNoPendingConsent
	}
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(p.URL, qrcode.Medium, size)
}

func (h *Hosted) find(state string) (*pendingConsent, error) {
	sessionID, err := h.signer.Verify(state)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.bySession[sessionID]
	if !ok {
		return nil, ErrNoPendingConsent
	}
	return p, nil
}

func (h *Hosted) remove(p *pendingConsent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.byUser[p.UserID]; ok && cur == p {
		delete(h.byUser, p.UserID)
	}
	delete(h.bySession, p.SessionID)
}

// Package syncclient wraps the backend functions that talk to the bank-link
// provider, and reads synchronized holdings back from the local store.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "portfolio_link/internal/errors"
	"portfolio_link/internal/logging"
	"portfolio_link/internal/models"
)

// Backend function paths, relative to the configured base URL.
const (
	pathCreateLinkToken     = "/create-link-token"
	pathExchangePublicToken = "/exchange-public-token"
	pathFetchInvestments    = "/fetch-investments"
)

const defaultTimeout = 15 * time.Second

// HoldingsStore is the local keyed store holding the authoritative holdings list.
type HoldingsStore interface {
	ReplaceForUser(ctx context.Context, userID string, holdings []models.Holding) error
	ListByUser(ctx context.Context, userID string) ([]models.Holding, error)
}

// Config configures a Client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration // Per-call bound; defaults to 15s
	RateLimit float64       // Requests per second; 0 disables pacing
}

// Client issues link tokens, exchanges public tokens and refreshes holdings.
// It holds no per-user state and is safe for concurrent use.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	store      HoldingsStore
	logger     *logging.Logger
	now        func() time.Time
}

// New creates a Client.
func New(cfg Config, store HoldingsStore, logger *logging.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	if logger == nil {
		logger = logging.NewSilent()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
		limiter:    limiter,
		store:      store,
		logger:     logger.Component("sync"),
		now:        time.Now,
	}
}

type linkTokenRequest struct {
	UserID string `json:"user_id"`
}

type linkTokenResponse struct {
	LinkToken string `json:"link_token"`
}

type exchangeRequest struct {
	PublicToken string             `json:"public_token"`
	UserID      string             `json:"user_id"`
	Institution models.Institution `json:"institution"`
}

type fetchRequest struct {
	UserID string `json:"userId"`
}

type fetchAck struct {
	Holdings *[]models.Holding `json:"holdings"`
}

// IssueLinkToken obtains a short-lived link token for the consent UI.
func (c *Client) IssueLinkToken(ctx context.Context, creds models.Credentials) (string, error) {
	if !creds.Valid() {
		return "", apperrors.AuthRequired("")
	}

	var resp linkTokenResponse
	err := c.post(ctx, creds, pathCreateLinkToken, linkTokenRequest{UserID: creds.UserID}, &resp)
	if err != nil {
		return "", c.stepError(apperrors.ErrTokenRequest, "issuing link token", err)
	}
	if resp.LinkToken == "" {
		return "", apperrors.New(apperrors.ErrTokenRequest, "issuing link token: response has no link_token")
	}

	c.logger.Debug().Str("user_id", creds.UserID).Msg("link token issued")
	return resp.LinkToken, nil
}

// ExchangePublicToken converts the consent UI's public token into a
// persisted provider credential. It is never retried.
func (c *Client) ExchangePublicToken(ctx context.Context, creds models.Credentials, publicToken string, inst models.Institution) error {
	if !creds.Valid() {
		return apperrors.AuthRequired("")
	}
	if publicToken == "" {
		return apperrors.New(apperrors.ErrExchange, "exchanging public token: empty public token")
	}

	req := exchangeRequest{
		PublicToken: publicToken,
		UserID:      creds.UserID,
		Institution: inst,
	}
	if err := c.post(ctx, creds, pathExchangePublicToken, req, nil); err != nil {
		return c.stepError(apperrors.ErrExchange, "exchanging public token", err)
	}

	c.logger.Info().Str("user_id", creds.UserID).Str("institution", inst.Name).Msg("public token exchanged")
	return nil
}

// RefreshHoldings triggers a provider sync, then reads the authoritative
// holdings list back from the store. A failed trigger skips the read.
func (c *Client) RefreshHoldings(ctx context.Context, creds models.Credentials) (*models.HoldingsSnapshot, error) {
	if !creds.Valid() {
		return nil, apperrors.AuthRequired("")
	}

	var ack fetchAck
	if err := c.post(ctx, creds, pathFetchInvestments, fetchRequest{UserID: creds.UserID}, &ack); err != nil {
		return nil, c.stepError(apperrors.ErrSyncTrigger, "triggering holdings sync", err)
	}

	if ack.Holdings != nil {
		if err := c.store.ReplaceForUser(ctx, creds.UserID, *ack.Holdings); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStoreRead, "writing synced holdings", err)
		}
	}

	holdings, err := c.store.ListByUser(ctx, creds.UserID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStoreRead, "reading holdings", err)
	}

	c.logger.Info().Str("user_id", creds.UserID).Int("holdings", len(holdings)).Msg("holdings refreshed")
	return &models.HoldingsSnapshot{
		UserID:    creds.UserID,
		Holdings:  holdings,
		FetchedAt: c.now(),
	}, nil
}

// post sends a JSON request to a backend function and decodes the JSON
// response into out when out is non-nil.
func (c *Client) post(ctx context.Context, creds models.Credentials, path string, payload, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			// The pacing delay would outlast the per-call deadline.
			return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	c.logger.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("backend call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, errorMessage(respBody))
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// stepError classifies a failed call as a timeout or a plain step failure.
func (c *Client) stepError(step error, message string, err error) error {
	stepErr := apperrors.Wrap(step, message, err)
	if isTimeout(err) {
		c.logger.Warn().Err(err).Msg(message + " timed out")
		return apperrors.Wrap(apperrors.ErrTimeout, message+" timed out", stepErr)
	}
	c.logger.Warn().Err(err).Msg(message + " failed")
	return stepErr
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// errorMessage extracts {"error": "..."} from a function's error body.
func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "empty response"
	}
	return msg
}

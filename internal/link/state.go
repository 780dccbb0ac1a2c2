// Package link drives a user through linking an external financial account:
// link token issuance, user consent, public token exchange and the first
// holdings sync.
package link

import (
	"errors"
	"fmt"
	"time"
)

// Status is the state of a link session.
type Status string

// Link session states.
const (
	StatusIdle                Status = "idle"
	StatusTokenRequested      Status = "token_requested"
	StatusAwaitingUserConsent Status = "awaiting_user_consent"
	StatusExchangingToken     Status = "exchanging_token"
	StatusSyncingHoldings     Status = "syncing_holdings"
	StatusSucceeded           Status = "succeeded"
	StatusFailed              Status = "failed"
)

// Event drives a transition between states.
type Event int

// Transition events.
const (
	EventConnect Event = iota
	EventTokenIssued
	EventTokenFailed
	EventConsentSucceeded
	EventConsentExited
	EventExchangeSucceeded
	EventExchangeFailed
	EventSyncSucceeded
	EventSyncFailed
	EventReset
)

var eventNames = map[Event]string{
	EventConnect:           "connect",
	EventTokenIssued:       "token_issued",
	EventTokenFailed:       "token_failed",
	EventConsentSucceeded:  "consent_succeeded",
	EventConsentExited:     "consent_exited",
	EventExchangeSucceeded: "exchange_succeeded",
	EventExchangeFailed:    "exchange_failed",
	EventSyncSucceeded:     "sync_succeeded",
	EventSyncFailed:        "sync_failed",
	EventReset:             "reset",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// ErrInvalidTransition is returned by Next for an event the state does not accept.
var ErrInvalidTransition = errors.New("invalid link transition")

var transitions = map[Status]map[Event]Status{
	StatusIdle: {
		EventConnect: StatusTokenRequested,
	},
	StatusTokenRequested: {
		EventTokenIssued: StatusAwaitingUserConsent,
		EventTokenFailed: StatusFailed,
	},
	StatusAwaitingUserConsent: {
		EventConsentSucceeded: StatusExchangingToken,
		EventConsentExited:    StatusIdle,
	},
	StatusExchangingToken: {
		EventExchangeSucceeded: StatusSyncingHoldings,
		EventExchangeFailed:    StatusFailed,
	},
	StatusSyncingHoldings: {
		EventSyncSucceeded: StatusSucceeded,
		EventSyncFailed:    StatusFailed,
	},
	StatusSucceeded: {
		EventReset: StatusIdle,
	},
	StatusFailed: {
		EventReset: StatusIdle,
	},
}

// Next returns the state reached from s on ev.
func Next(s Status, ev Event) (Status, error) {
	if next, ok := transitions[s][ev]; ok {
		return next, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, ev)
}

// Terminal reports whether s ends a session.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Session is one attempt to link an account. ErrorMessage is set only when
// the session failed.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Status       Status    `json:"status"`
	LinkToken    string    `json:"link_token,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

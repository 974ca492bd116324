package domain

import (
	"strings"
	"time"
)

// Kind distinguishes pairwise challenges from group parties.
type Kind string

const (
	KindChallenge Kind = "CHALLENGE"
	KindParty     Kind = "PARTY"
)

// Status is the lifecycle state of a stored session.
type Status string

const (
	StatusAwaitingAcceptance   Status = "AWAITING_ACCEPTANCE"
	StatusActive               Status = "ACTIVE"
	StatusAwaitingConfirmation Status = "AWAITING_CONFIRMATION"
	StatusClosed               Status = "CLOSED"
)

// Session is one live match context. ID doubles as the channel key.
type Session struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Game         string    `json:"game"`
	Room         string    `json:"room"`
	Participants []string  `json:"participants"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasParticipant reports whether userID takes part in the session.
func (s *Session) HasParticipant(userID string) bool {
	if s == nil {
		return false
	}
	userID = strings.TrimSpace(userID)
	for _, p := range s.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Opponent returns the other participant of a pairwise session.
func (s *Session) Opponent(userID string) string {
	if s == nil || len(s.Participants) != 2 {
		return ""
	}
	switch userID {
	case s.Participants[0]:
		return s.Participants[1]
	case s.Participants[1]:
		return s.Participants[0]
	}
	return ""
}

// PendingResult is an unconfirmed outcome report. ReportID identifies the
// report that wrote it so a superseded report is never applied.
type PendingResult struct {
	SessionID string    `json:"session_id"`
	ReportID  string    `json:"report_id"`
	Reporter  string    `json:"reporter"`
	Winner    string    `json:"winner"`
	Loser     string    `json:"loser"`
	Game      string    `json:"game"`
	CreatedAt time.Time `json:"created_at"`
}

// Rating is one value per (user, game).
type Rating struct {
	UserID string
	Game   string
	Value  int
}

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/park285/Cheese-Challenge-bot/internal/domain"
)

// Memory is an in-process store used when no Redis/Postgres is configured
// and as the test double for the workflows.
type Memory struct {
	mu sync.RWMutex

	defaults RatingDefaults

	sessions map[string]*domain.Session
	pending  map[string]*domain.PendingResult
	ratings  map[string]map[string]int // game -> user -> value
	applied  map[string]struct{}       // report ids
}

func NewMemory(defaults RatingDefaults) *Memory {
	return &Memory{
		defaults: defaults,
		sessions: make(map[string]*domain.Session),
		pending:  make(map[string]*domain.PendingResult),
		ratings:  make(map[string]map[string]int),
		applied:  make(map[string]struct{}),
	}
}

func (m *Memory) CreateSession(ctx context.Context, in NewSession) (*domain.Session, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	s := in.build(time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return nil, ErrConflict
	}
	m.sessions[s.ID] = s
	return cloneSession(s), nil
}

func (m *Memory) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *Memory) CloseSession(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	m.mu.Lock()
	delete(m.sessions, id)
	delete(m.pending, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) SessionsByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	m.mu.RLock()
	var out []*domain.Session
	for _, s := range m.sessions {
		if s.HasParticipant(userID) {
			out = append(out, cloneSession(s))
		}
	}
	m.mu.RUnlock()
	latestFirst(out)
	return out, nil
}

func (m *Memory) SetPendingResult(ctx context.Context, pr domain.PendingResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[pr.SessionID]
	if !ok {
		return ErrNotFound
	}
	if pr.CreatedAt.IsZero() {
		pr.CreatedAt = time.Now()
	}
	m.pending[pr.SessionID] = &pr
	s.Status = domain.StatusAwaitingConfirmation
	s.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) GetPendingResult(ctx context.Context, sessionID string) (*domain.PendingResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pr, ok := m.pending[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pr
	return &cp, nil
}

func (m *Memory) ClearPendingResult(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked(sessionID)
	return nil
}

func (m *Memory) TakePendingResult(ctx context.Context, sessionID, reportID string) (*domain.PendingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.pending[sessionID]
	if !ok || pr.ReportID != reportID {
		return nil, ErrSuperseded
	}
	m.clearLocked(sessionID)
	return pr, nil
}

func (m *Memory) RestorePendingResult(ctx context.Context, pr domain.PendingResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[pr.SessionID]
	if !ok {
		return ErrNotFound
	}
	if _, taken := m.pending[pr.SessionID]; taken {
		return nil
	}
	m.pending[pr.SessionID] = &pr
	s.Status = domain.StatusAwaitingConfirmation
	s.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) clearLocked(sessionID string) {
	delete(m.pending, sessionID)
	if s, ok := m.sessions[sessionID]; ok && s.Status == domain.StatusAwaitingConfirmation {
		s.Status = domain.StatusActive
		s.UpdatedAt = time.Now()
	}
}

func (m *Memory) GetRating(ctx context.Context, userID, game string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ratingLocked(userID, game), nil
}

func (m *Memory) SetRating(ctx context.Context, userID, game string, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setRatingLocked(userID, game, m.defaults.clamp(value))
	return nil
}

func (m *Memory) ApplyResult(ctx context.Context, r ResultApply) (RatingUpdate, error) {
	if err := r.validate(); err != nil {
		return RatingUpdate{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.applied[r.ReportID]; done {
		return RatingUpdate{}, ErrAlreadyApplied
	}
	up := r.update(m.defaults, m.ratingLocked(r.Winner, r.Game), m.ratingLocked(r.Loser, r.Game))
	m.setRatingLocked(r.Winner, r.Game, up.WinnerNew)
	m.setRatingLocked(r.Loser, r.Game, up.LoserNew)
	m.applied[r.ReportID] = struct{}{}
	return up, nil
}

func (m *Memory) ratingLocked(userID, game string) int {
	if v, ok := m.ratings[game][userID]; ok {
		return v
	}
	return m.defaults.Start
}

func (m *Memory) setRatingLocked(userID, game string, value int) {
	byUser, ok := m.ratings[game]
	if !ok {
		byUser = make(map[string]int)
		m.ratings[game] = byUser
	}
	byUser[userID] = value
}

func (m *Memory) TopRatings(ctx context.Context, game string, limit int) ([]domain.Rating, error) {
	m.mu.RLock()
	out := make([]domain.Rating, 0, len(m.ratings[game]))
	for user, v := range m.ratings[game] {
		out = append(out, domain.Rating{UserID: user, Game: game, Value: v})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneSession(s *domain.Session) *domain.Session {
	cp := *s
	cp.Participants = append([]string(nil), s.Participants...)
	return &cp
}

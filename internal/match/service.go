// Package match runs the challenge, party, result confirmation and session
// lifecycle workflows on top of the session and rating stores.
package match

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Challenge-bot/internal/domain"
	"github.com/park285/Cheese-Challenge-bot/internal/obslog"
	"github.com/park285/Cheese-Challenge-bot/internal/rating"
	"github.com/park285/Cheese-Challenge-bot/internal/reaction"
	"github.com/park285/Cheese-Challenge-bot/internal/store"
)

const sessionPrefix = "CH-"

type Config struct {
	Prefix string
	Games  []string

	ChallengeTimeout time.Duration
	PartyTimeout     time.Duration
	ConfirmTimeout   time.Duration
	PartyMaxPlayers  int

	Rating rating.Engine

	CloseAttempts int
	CloseBackoff  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Prefix:           "!",
		Games:            []string{"chess", "omok", "go"},
		ChallengeTimeout: 300 * time.Second,
		PartyTimeout:     600 * time.Second,
		ConfirmTimeout:   30 * time.Minute,
		PartyMaxPlayers:  8,
		Rating:           rating.Default(),
		CloseAttempts:    3,
		CloseBackoff:     500 * time.Millisecond,
	}
}

// Deps are the collaborators a Service drives. All are required.
type Deps struct {
	Sessions    store.SessionStore
	Ratings     store.RatingStore
	Notifier    Notifier
	Awaiter     Awaiter
	Channels    ChannelProvisioner
	Permissions Permissions
	Directory   Directory
	Texts       Texts
}

type Service struct {
	cfg Config

	sessions store.SessionStore
	ratings  store.RatingStore
	notifier Notifier
	awaiter  Awaiter
	channels ChannelProvisioner
	perms    Permissions
	dir      Directory
	texts    Texts

	newCode func() (string, error)
}

func New(cfg Config, d Deps) (*Service, error) {
	if d.Sessions == nil || d.Ratings == nil || d.Notifier == nil || d.Awaiter == nil ||
		d.Channels == nil || d.Permissions == nil || d.Directory == nil || d.Texts == nil {
		return nil, errors.New("match: missing dependency")
	}
	def := DefaultConfig()
	if cfg.ChallengeTimeout <= 0 { cfg.ChallengeTimeout = def.ChallengeTimeout }
	if cfg.PartyTimeout <= 0 { cfg.PartyTimeout = def.PartyTimeout }
	if cfg.ConfirmTimeout <= 0 { cfg.ConfirmTimeout = def.ConfirmTimeout }
	if cfg.PartyMaxPlayers < 2 { cfg.PartyMaxPlayers = def.PartyMaxPlayers }
	if cfg.Rating.K <= 0 { cfg.Rating = rating.New(cfg.Rating.K, cfg.Rating.Floor) }
	if cfg.CloseAttempts <= 0 { cfg.CloseAttempts = def.CloseAttempts }
	if len(cfg.Games) == 0 { cfg.Games = def.Games }
	return &Service{
		cfg:      cfg,
		sessions: d.Sessions,
		ratings:  d.Ratings,
		notifier: d.Notifier,
		awaiter:  d.Awaiter,
		channels: d.Channels,
		perms:    d.Permissions,
		dir:      d.Directory,
		texts:    d.Texts,
		newCode:  reaction.NewCode,
	}, nil
}

func (s *Service) Config() Config { return s.cfg }

// Game resolves name against the configured games, case-insensitively.
func (s *Service) Game(name string) (string, error) {
	name = strings.TrimSpace(name)
	for _, g := range s.cfg.Games {
		if strings.EqualFold(g, name) {
			return g, nil
		}
	}
	if name == "" {
		return "", invalid("game is required")
	}
	return "", invalid("unknown game %q", name)
}

func (s *Service) name(ctx context.Context, userID string) string {
	if n := strings.TrimSpace(s.dir.DisplayName(ctx, userID)); n != "" {
		return n
	}
	return userID
}

func (s *Service) names(ctx context.Context, users []string) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, s.name(ctx, u))
	}
	return out
}

// NormalizeSessionID accepts "CH-ABC123", "ch-abc123" or the bare code.
func NormalizeSessionID(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	if id == "" {
		return ""
	}
	if !strings.HasPrefix(id, sessionPrefix) {
		id = sessionPrefix + id
	}
	return id
}

// resolveSession loads the session named by id, or the user's latest session
// in room when id is empty.
func (s *Service) resolveSession(ctx context.Context, room, id, userID string) (*domain.Session, error) {
	if id = NormalizeSessionID(id); id != "" {
		sess, err := s.sessions.GetSession(ctx, id)
		return sess, fromStore(err)
	}
	list, err := s.sessions.SessionsByUser(ctx, userID)
	if err != nil {
		return nil, fromStore(err)
	}
	for _, sess := range list {
		if room == "" || sess.Room == room {
			return sess, nil
		}
	}
	return nil, ErrNotFound
}

// openSession persists the session and only then provisions its channel; a
// provisioning failure removes the row again so nothing is left half-created.
func (s *Service) openSession(ctx context.Context, in store.NewSession) (*domain.Session, Channel, error) {
	sess, err := s.sessions.CreateSession(ctx, in)
	if err != nil {
		return nil, Channel{}, fromStore(err)
	}
	ch, err := s.channels.OpenChannel(ctx, sess)
	if err != nil {
		if cerr := s.sessions.CloseSession(context.WithoutCancel(ctx), sess.ID); cerr != nil {
			obslog.L().Error("session_rollback_failed", zap.String("session", sess.ID), zap.Error(cerr))
		}
		return nil, Channel{}, err
	}
	obslog.L().Info("session_open",
		zap.String("session", sess.ID),
		zap.String("kind", string(sess.Kind)),
		zap.String("game", sess.Game),
		zap.Strings("participants", sess.Participants),
	)
	return sess, ch, nil
}

// settle shows the final text on an artifact and retracts it. Both steps are
// best effort.
func (s *Service) settle(ctx context.Context, a Artifact, key string, data map[string]any) {
	ctx = context.WithoutCancel(ctx)
	if key != "" {
		if err := s.notifier.Update(ctx, a, Content{Code: a.ID, Text: s.texts.Text(key, data)}); err != nil {
			obslog.L().Warn("artifact_update_failed", zap.String("artifact", a.ID), zap.Error(err))
		}
	}
	if err := s.notifier.Retract(ctx, a); err != nil {
		obslog.L().Warn("artifact_retract_failed", zap.String("artifact", a.ID), zap.Error(err))
	}
}

func (s *Service) minutes(d time.Duration) int {
	m := int(d / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}

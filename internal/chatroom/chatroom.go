// Package chatroom binds the match workflows to KakaoTalk rooms reached
// through Iris. Proposals are plain chat messages carrying a short code,
// a session channel is the room the session was opened in.
package chatroom

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Challenge-bot/internal/domain"
	"github.com/park285/Cheese-Challenge-bot/internal/irisfast"
	"github.com/park285/Cheese-Challenge-bot/internal/match"
	"github.com/park285/Cheese-Challenge-bot/internal/obslog"
)

type open struct {
	room string
	at   time.Time
}

// Notifier publishes artifacts as chat messages. KakaoTalk cannot edit a
// sent message, so Update posts the new text.
type Notifier struct {
	out irisfast.Egress

	mu   sync.Mutex
	open map[string]open
}

func NewNotifier(out irisfast.Egress) *Notifier {
	return &Notifier{out: out, open: map[string]open{}}
}

func (n *Notifier) Publish(ctx context.Context, room string, c match.Content) (match.Artifact, error) {
	if err := n.out.SendText(ctx, room, c.Text); err != nil {
		return match.Artifact{}, err
	}
	code := strings.ToUpper(c.Code)
	n.mu.Lock()
	n.open[code] = open{room: room, at: time.Now()}
	n.mu.Unlock()
	return match.Artifact{ID: code, Room: room}, nil
}

func (n *Notifier) Update(ctx context.Context, a match.Artifact, c match.Content) error {
	return n.out.SendText(ctx, a.Room, c.Text)
}

// Retract forgets the artifact. Chat history is left as is.
func (n *Notifier) Retract(_ context.Context, a match.Artifact) error {
	n.mu.Lock()
	delete(n.open, strings.ToUpper(a.ID))
	n.mu.Unlock()
	return nil
}

// Latest returns the newest unretracted artifact code in room.
func (n *Notifier) Latest(room string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var (
		code string
		at   time.Time
	)
	for c, o := range n.open {
		if o.room == room && o.at.After(at) {
			code, at = c, o.at
		}
	}
	return code, code != ""
}

// RoomOf reports the room an open artifact was published in.
func (n *Notifier) RoomOf(code string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	o, ok := n.open[strings.ToUpper(code)]
	return o.room, ok
}

// Provisioner announces session channels in the session's room.
type Provisioner struct {
	out    irisfast.Egress
	texts  match.Texts
	dir    match.Directory
	prefix string
}

func NewProvisioner(out irisfast.Egress, texts match.Texts, dir match.Directory, prefix string) *Provisioner {
	return &Provisioner{out: out, texts: texts, dir: dir, prefix: prefix}
}

func (p *Provisioner) OpenChannel(ctx context.Context, s *domain.Session) (match.Channel, error) {
	ch := match.Channel{ID: s.ID, Room: s.Room, Participants: append([]string(nil), s.Participants...)}
	names := make([]string, 0, len(s.Participants))
	for _, id := range s.Participants {
		names = append(names, p.dir.DisplayName(ctx, id))
	}
	text := p.texts.Text("channel.open", map[string]any{
		"Session": s.ID,
		"Game":    s.Game,
		"Names":   strings.Join(names, ", "),
		"Prefix":  p.prefix,
	})
	if err := p.out.SendText(ctx, s.Room, text); err != nil {
		return match.Channel{}, err
	}
	obslog.L().Info("channel_open", zap.String("session", s.ID), zap.String("room", s.Room))
	return ch, nil
}

func (p *Provisioner) CloseChannel(ctx context.Context, ch match.Channel) error {
	return p.out.SendText(ctx, ch.Room, p.texts.Text("channel.close", map[string]any{"Session": ch.ID}))
}

// Roster grants channel permissions to the session participants.
type Roster struct{}

func (Roster) IsParticipant(_ context.Context, ch match.Channel, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, nil
	}
	for _, p := range ch.Participants {
		if p == userID {
			return true, nil
		}
	}
	return false, nil
}

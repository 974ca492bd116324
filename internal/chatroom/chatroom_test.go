package chatroom

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-Challenge-bot/internal/domain"
	"github.com/park285/Cheese-Challenge-bot/internal/match"
	"github.com/park285/Cheese-Challenge-bot/internal/msgcat"
)

type sent struct {
	room, text string
}

type recordingEgress struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (r *recordingEgress) SendText(_ context.Context, room, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sent{room, message})
	return nil
}

func (r *recordingEgress) SendImage(_ context.Context, room, _ string) error {
	return r.SendText(context.Background(), room, "<image>")
}

func TestNotifierTracksOpenArtifacts(t *testing.T) {
	out := &recordingEgress{}
	n := NewNotifier(out)
	ctx := context.Background()

	a, err := n.Publish(ctx, "room-1", match.Content{Code: "abc234", Text: "첫번째"})
	require.NoError(t, err)
	assert.Equal(t, match.Artifact{ID: "ABC234", Room: "room-1"}, a)

	time.Sleep(time.Millisecond)
	b, err := n.Publish(ctx, "room-1", match.Content{Code: "XYZ789", Text: "두번째"})
	require.NoError(t, err)

	code, ok := n.Latest("room-1")
	require.True(t, ok)
	assert.Equal(t, b.ID, code)
	_, ok = n.Latest("room-2")
	assert.False(t, ok)

	require.NoError(t, n.Update(ctx, b, match.Content{Code: b.ID, Text: "갱신"}))
	require.NoError(t, n.Retract(ctx, b))
	code, _ = n.Latest("room-1")
	assert.Equal(t, "ABC234", code)

	room, ok := n.RoomOf("abc234")
	assert.True(t, ok)
	assert.Equal(t, "room-1", room)

	assert.Len(t, out.sent, 3)
	assert.Equal(t, "갱신", out.sent[2].text)
}

func TestNotifierPublishFailure(t *testing.T) {
	n := NewNotifier(&recordingEgress{err: errors.New("iris down")})
	_, err := n.Publish(context.Background(), "r", match.Content{Code: "AAAAAA", Text: "x"})
	require.Error(t, err)
	_, ok := n.Latest("r")
	assert.False(t, ok)
}

func TestProvisionerAnnounces(t *testing.T) {
	cat, err := msgcat.New("")
	require.NoError(t, err)
	out := &recordingEgress{}
	dir := NewDirectory(nil)
	dir.Remember(context.Background(), "u1", "앨리스")
	p := NewProvisioner(out, cat, dir, "!")

	s := &domain.Session{ID: "CH-ABC234", Game: "chess", Room: "room-1", Participants: []string{"u1", "u2"}}
	ch, err := p.OpenChannel(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "CH-ABC234", ch.ID)
	assert.Equal(t, []string{"u1", "u2"}, ch.Participants)
	require.Len(t, out.sent, 1)
	assert.Contains(t, out.sent[0].text, "앨리스, u2")
	assert.Contains(t, out.sent[0].text, "!종료 CH-ABC234")

	require.NoError(t, p.CloseChannel(context.Background(), ch))
	assert.True(t, strings.Contains(out.sent[1].text, "CH-ABC234"))

	out.err = errors.New("boom")
	_, err = p.OpenChannel(context.Background(), s)
	assert.Error(t, err)
}

func TestRoster(t *testing.T) {
	ch := match.Channel{ID: "CH-X", Participants: []string{"a", "b"}}
	ok, err := Roster{}.IsParticipant(context.Background(), ch, " a ")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = Roster{}.IsParticipant(context.Background(), ch, "c")
	assert.False(t, ok)
	ok, _ = Roster{}.IsParticipant(context.Background(), ch, "")
	assert.False(t, ok)
}

func TestDirectorySharedThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	first := NewDirectory(rdb)
	first.Remember(ctx, "u1", "아주아주긴이름을가진사용자님")
	first.Remember(ctx, "u2", "u2")

	second := NewDirectory(rdb)
	assert.Equal(t, "아주아주긴이름을가진사용…", second.DisplayName(ctx, "u1"))
	assert.Equal(t, "u2", second.DisplayName(ctx, "u2"))

	id, ok := first.Lookup("@아주아주긴이름을가진사용자님")
	require.True(t, ok)
	assert.Equal(t, "u1", id)
	id, ok = first.Lookup("u1")
	assert.True(t, ok)
	assert.Equal(t, "u1", id)
	_, ok = first.Lookup("nobody")
	assert.False(t, ok)
}

func TestDirectoryLookupSharedName(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(nil)
	d.Remember(ctx, "u1", "밥")
	d.Remember(ctx, "u2", "밥")

	id, ok := d.Lookup("밥")
	require.True(t, ok)
	assert.Equal(t, "u2", id)

	d.Remember(ctx, "u1", "밥")
	id, ok = d.Lookup("@밥")
	require.True(t, ok)
	assert.Equal(t, "u1", id)

	// names only loaded from the shared hash carry no ordering
	d.mu.Lock()
	d.names["u3"], d.names["u4"] = "캐롤", "캐롤"
	d.mu.Unlock()
	_, ok = d.Lookup("캐롤")
	assert.False(t, ok)
}

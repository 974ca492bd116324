package command

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-Challenge-bot/internal/chatroom"
	"github.com/park285/Cheese-Challenge-bot/internal/digest"
	"github.com/park285/Cheese-Challenge-bot/internal/irisfast"
	"github.com/park285/Cheese-Challenge-bot/internal/match"
	"github.com/park285/Cheese-Challenge-bot/internal/msgcat"
	"github.com/park285/Cheese-Challenge-bot/internal/rating"
	"github.com/park285/Cheese-Challenge-bot/internal/reaction"
	"github.com/park285/Cheese-Challenge-bot/internal/store"
)

const room = "room-1"

type outbox struct {
	mu    sync.Mutex
	texts []string
}

func (o *outbox) SendText(_ context.Context, _ string, message string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.texts = append(o.texts, message)
	return nil
}

func (o *outbox) SendImage(context.Context, string, string) error { return nil }

func (o *outbox) find(substr string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, t := range o.texts {
		if strings.Contains(t, substr) {
			return t, true
		}
	}
	return "", false
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.texts)
}

type fixture struct {
	router *Router
	hub    *reaction.Hub
	out    *outbox
	cat    *msgcat.Catalog
}

func newFixture(t *testing.T, allowed ...string) *fixture {
	t.Helper()
	cat, err := msgcat.New("")
	require.NoError(t, err)
	out := &outbox{}
	mem := store.NewMemory(store.RatingDefaults{Start: rating.DefaultStart, Floor: rating.DefaultFloor})
	hub := reaction.NewHub()
	dir := chatroom.NewDirectory(nil)
	notifier := chatroom.NewNotifier(out)

	cfg := match.DefaultConfig()
	cfg.Games = []string{"chess", "omok"}
	cfg.CloseBackoff = time.Millisecond
	svc, err := match.New(cfg, match.Deps{
		Sessions:    mem,
		Ratings:     mem,
		Notifier:    notifier,
		Awaiter:     hub,
		Channels:    chatroom.NewProvisioner(out, cat, dir, cfg.Prefix),
		Permissions: chatroom.Roster{},
		Directory:   dir,
		Texts:       cat,
	})
	require.NoError(t, err)

	d := Deps{
		Match:     svc,
		Hub:       hub,
		Artifacts: notifier,
		People:    dir,
		Boards:    digest.New(svc, out, cat, nil, digest.Options{Size: 5}),
		Out:       out,
		Texts:     cat,
	}
	if len(allowed) > 0 {
		d.Allowed = func(r string) bool { return r == allowed[0] }
	}
	r := New(d)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return &fixture{router: r, hub: hub, out: out, cat: cat}
}

func (f *fixture) say(userID, name, text string) {
	f.sayIn(room, userID, name, text)
}

func (f *fixture) sayIn(r, userID, name, text string) {
	sender := name
	f.router.Handle(&irisfast.Message{Msg: text, Room: r, Sender: &sender, JSON: &irisfast.MessageJSON{UserID: userID}})
}

func (f *fixture) waitText(t *testing.T, substr string) string {
	t.Helper()
	var got string
	require.Eventually(t, func() bool {
		var ok bool
		got, ok = f.out.find(substr)
		return ok
	}, 3*time.Second, 5*time.Millisecond, "no message containing %q", substr)
	return got
}

func (f *fixture) waitPending(t *testing.T, code string) {
	t.Helper()
	require.Eventually(t, func() bool { return f.hub.Pending(code) }, 3*time.Second, 5*time.Millisecond)
}

var codePattern = regexp.MustCompile(`(수락|확인) ([A-Z2-9]{6})`)

func codeIn(t *testing.T, text string) string {
	t.Helper()
	m := codePattern.FindStringSubmatch(text)
	require.Len(t, m, 3, "no code in %q", text)
	return m[2]
}

func TestChallengeReportFlow(t *testing.T) {
	f := newFixture(t)

	f.say("u1", "앨리스", "!도전 chess")
	code := codeIn(t, f.waitText(t, "상대를 찾습니다"))
	f.waitPending(t, code)

	// 코드 없이 수락하면 방의 최신 제안으로 간다
	f.say("u2", "밥", "!수락")
	open := f.waitText(t, "세션 CH-"+code+" 시작")
	assert.Contains(t, open, "앨리스, 밥")

	f.say("u1", "앨리스", "!승리")
	prompt := f.waitText(t, "결과를 보고했습니다")
	report := codeIn(t, prompt)
	f.waitPending(t, report)

	f.say("u2", "밥", "!확인 "+strings.ToLower(report))
	summary := f.waitText(t, "결과 확정")
	assert.Contains(t, summary, "1000 → 1016")
	assert.Contains(t, summary, "1000 → 984")

	f.say("u2", "밥", "!레이팅 chess 앨리스")
	f.waitText(t, "앨리스님의 [chess] 레이팅: 1016")

	f.say("u1", "앨리스", "!리더보드 CHESS")
	board := f.waitText(t, "리더보드 TOP 2")
	assert.Contains(t, board, "1. 앨리스 (1016)")

	f.say("u3", "캐롤", "!종료 CH-"+code)
	f.waitText(t, "세션 참가자만")

	f.say("u2", "밥", "!종료")
	f.waitText(t, "세션 CH-"+code+" 이(가) 종료")
}

func TestAckFromAnotherRoomIsRefused(t *testing.T) {
	f := newFixture(t)
	f.say("u1", "앨리스", "!도전 chess")
	code := codeIn(t, f.waitText(t, "상대를 찾습니다"))
	f.waitPending(t, code)

	f.sayIn("room-2", "u2", "밥", "!수락 "+code)
	f.waitText(t, "대기 중인 요청 "+code)
	assert.True(t, f.hub.Pending(code))

	f.say("u2", "밥", "!수락 "+code)
	f.waitText(t, "세션 CH-"+code+" 시작")
}

func TestUsageAndErrors(t *testing.T) {
	f := newFixture(t)

	f.say("u1", "앨리스", "!")
	f.waitText(t, "도전 봇 명령어")

	f.say("u1", "앨리스", "!도전")
	f.waitText(t, "사용법: !도전")

	f.say("u1", "앨리스", "!도전 바둑판")
	f.waitText(t, "가능한 게임: chess, omok")

	f.say("u1", "앨리스", "!파티 chess 99")
	f.waitText(t, "party size must be between 2 and 8")

	f.say("u1", "앨리스", "!확인")
	f.waitText(t, "사용법: !확인 <코드>")

	f.say("u1", "앨리스", "!거절 ZZZZZZ")
	f.waitText(t, "대기 중인 요청 ZZZZZZ")

	f.say("u1", "앨리스", "!승리")
	f.waitText(t, "진행 중인 세션이 없습니다")
}

func TestIgnoredInput(t *testing.T) {
	f := newFixture(t, "room-ok")

	f.sayIn("elsewhere", "u1", "앨리스", "!help")
	f.say("u1", "앨리스", "그냥 대화")
	f.sayIn("room-ok", "u1", "앨리스", "!없는명령")
	f.sayIn("room-ok", "", "", "!help")
	f.sayIn("room-ok", "u1", "앨리스", "!help")
	f.waitText(t, "도전 봇 명령어")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.out.len())
}

func TestShutdownCancelsWaitingProposal(t *testing.T) {
	f := newFixture(t)
	f.say("u1", "앨리스", "!도전 chess 밥")
	code := codeIn(t, f.waitText(t, "도전장을 보냈습니다"))
	f.waitPending(t, code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.router.Shutdown(ctx))
	assert.False(t, f.hub.Pending(code))
}

func TestErrorText(t *testing.T) {
	f := newFixture(t)
	r := f.router
	assert.Contains(t, r.errorText(match.ErrConflict), "이미 진행 중인")
	assert.Contains(t, r.errorText(&store.StorageError{Op: "get", Err: context.DeadlineExceeded}), "일시적인 오류")
	assert.Equal(t, "invalid", resultClass(&match.RequestError{Detail: "x"}))
	assert.Equal(t, "storage", resultClass(&store.StorageError{Op: "get", Err: context.DeadlineExceeded}))
	assert.Equal(t, "ok", resultClass(nil))
}

// Package reaction routes chat acknowledgements (수락/참가/확인/거절) to the
// workflow waiting on the proposal they name.
package reaction

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Challenge-bot/internal/obslog"
)

// Kind is the acknowledgement a user sent.
type Kind string

const (
	KindAccept  Kind = "accept"
	KindJoin    Kind = "join"
	KindConfirm Kind = "confirm"
	KindReject  Kind = "reject"
)

// Event is one acknowledgement addressed to an artifact code.
type Event struct {
	ID       string
	Artifact string
	Kind     Kind
	Actor    string
	Name     string
	Room     string
	At       time.Time
}

// Predicate decides whether a waiter takes an event. It is evaluated under the
// hub lock, so it may keep unsynchronised state of its own.
type Predicate func(Event) bool

// Latch wraps p so that it accepts at most one event; every later call
// returns false.
func Latch(p Predicate) Predicate {
	var fired atomic.Bool
	return func(ev Event) bool {
		if fired.Load() || !p(ev) {
			return false
		}
		return fired.CompareAndSwap(false, true)
	}
}

var ErrTimedOut = errf("timed out waiting for acknowledgement")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

type waiter struct {
	id    uint64
	room  string
	pred  Predicate
	ch    chan Event
	latch bool
}

// Hub holds the waiters per artifact code.
type Hub struct {
	mu      sync.Mutex
	seq     uint64
	waiters map[string][]*waiter
}

func NewHub() *Hub {
	return &Hub{waiters: make(map[string][]*waiter)}
}

func normCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

// Dispatch hands ev to the first waiter on its artifact whose predicate
// accepts it. Waiters bound to another room never see the event, and a
// waiter with a full buffer is skipped before its predicate runs, so an
// accepting predicate always means delivery. Reports whether anyone took it.
func (h *Hub) Dispatch(ev Event) bool {
	ev.Artifact = normCode(ev.Artifact)
	if ev.ID == "" { ev.ID = uuid.NewString() }
	if ev.At.IsZero() { ev.At = time.Now() }

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.waiters[ev.Artifact] {
		if w.room != "" && w.room != ev.Room { continue }
		// only Dispatch sends, and it holds h.mu
		if len(w.ch) == cap(w.ch) {
			obslog.L().Warn("reaction_drop", zap.String("artifact", ev.Artifact), zap.String("actor", ev.Actor))
			continue
		}
		if !w.pred(ev) { continue }
		w.ch <- ev
		if w.latch {
			// first match wins; later events never reach this waiter again
			h.removeLocked(ev.Artifact, w.id)
		}
		obslog.L().Info("reaction_dispatch", zap.String("artifact", ev.Artifact), zap.String("kind", string(ev.Kind)), zap.String("actor", ev.Actor))
		return true
	}
	return false
}

// Await blocks until one event on artifact satisfies pred, the timeout fires
// (ErrTimedOut) or ctx ends. A non-empty room limits it to events from that
// room.
func (h *Hub) Await(ctx context.Context, artifact, room string, pred Predicate, timeout time.Duration) (Event, error) {
	if pred != nil { pred = Latch(pred) }
	ch, cancel := h.register(artifact, room, pred, true, 1)
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-ch:
		return ev, nil
	case <-timer.C:
		// an event may have latched right before the deadline
		select {
		case ev := <-ch:
			return ev, nil
		default:
		}
		return Event{}, ErrTimedOut
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Subscribe registers a non-latching waiter and returns its event stream.
// Call cancel once done; events dispatched afterwards are not delivered.
func (h *Hub) Subscribe(artifact, room string, pred Predicate) (<-chan Event, func()) {
	return h.register(artifact, room, pred, false, subscribeBuffer)
}

// Pending reports whether anything is waiting on artifact.
func (h *Hub) Pending(artifact string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.waiters[normCode(artifact)]) > 0
}

const subscribeBuffer = 16

func (h *Hub) register(artifact, room string, pred Predicate, latch bool, buf int) (chan Event, func()) {
	code := normCode(artifact)
	if pred == nil { pred = func(Event) bool { return true } }
	h.mu.Lock()
	h.seq++
	w := &waiter{id: h.seq, room: room, pred: pred, ch: make(chan Event, buf), latch: latch}
	h.waiters[code] = append(h.waiters[code], w)
	h.mu.Unlock()

	var once sync.Once
	return w.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			h.removeLocked(code, w.id)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) removeLocked(code string, id uint64) {
	list := h.waiters[code]
	for i, w := range list {
		if w.id == id {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(h.waiters, code)
		return
	}
	h.waiters[code] = list
}

// NewCode returns 6 upper alnum characters for a proposal artifact.
func NewCode() (string, error) {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b), nil
}

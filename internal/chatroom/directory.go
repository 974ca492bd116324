package chatroom

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Challenge-bot/internal/obslog"
	"github.com/park285/Cheese-Challenge-bot/internal/util"
)

const (
	namesKey     = "challenge:names"
	maxNameRunes = 12
)

// Directory maps Kakao user ids to the sender names seen in chat. Names are
// cached in memory and, when a Redis client is given, shared through a hash
// so restarts and replicas agree.
type Directory struct {
	rdb *redis.Client

	mu    sync.RWMutex
	names map[string]string
	// seen orders users by their last chat line; Lookup prefers the latest
	seen map[string]uint64
	tick uint64
}

func NewDirectory(rdb *redis.Client) *Directory {
	return &Directory{rdb: rdb, names: map[string]string{}, seen: map[string]uint64{}}
}

// Remember records the latest display name for userID.
func (d *Directory) Remember(ctx context.Context, userID, name string) {
	userID, name = strings.TrimSpace(userID), strings.TrimSpace(name)
	if userID == "" || name == "" || userID == name {
		return
	}
	d.mu.Lock()
	prev := d.names[userID]
	d.names[userID] = name
	d.tick++
	d.seen[userID] = d.tick
	d.mu.Unlock()
	if prev == name || d.rdb == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := d.rdb.HSet(cctx, namesKey, userID, name).Err(); err != nil {
		obslog.L().Warn("directory_save_failed", zap.String("user", userID), zap.Error(err))
	}
}

// DisplayName falls back to the id itself when no name is known.
func (d *Directory) DisplayName(ctx context.Context, userID string) string {
	d.mu.RLock()
	name, ok := d.names[userID]
	d.mu.RUnlock()
	if ok {
		return util.ShortName(name, maxNameRunes)
	}
	if d.rdb != nil {
		cctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		v, err := d.rdb.HGet(cctx, namesKey, userID).Result()
		if err == nil && v != "" {
			d.mu.Lock()
			d.names[userID] = v
			d.mu.Unlock()
			return util.ShortName(v, maxNameRunes)
		}
		if err != nil && err != redis.Nil {
			obslog.L().Warn("directory_load_failed", zap.String("user", userID), zap.Error(err))
		}
	}
	return userID
}

// Lookup resolves a name typed in chat (with or without a leading @) to a
// known user id. When several users share the name, the one who spoke most
// recently wins; a tie is ambiguous and resolves to nothing.
func (d *Directory) Lookup(name string) (string, bool) {
	name = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "@"))
	if name == "" {
		return "", false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.names[name]; ok {
		return name, true
	}
	var (
		best string
		last uint64
		tied bool
	)
	for id, n := range d.names {
		if n != name {
			continue
		}
		switch at := d.seen[id]; {
		case best == "" || at > last:
			best, last, tied = id, at, false
		case at == last:
			tied = true
		}
	}
	if best == "" || tied {
		return "", false
	}
	return best, true
}

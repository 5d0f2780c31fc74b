// Package cache holds the short-lived Redis state shared between server
// instances: settlement and kick markers, the lobby index, online counters
// and the event fan-out channel.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-xiangqi/internal/obslog"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

const (
	// PendingSettlementTTL bounds how long an undelivered result is replayed.
	PendingSettlementTTL = 900 * time.Second

	CounterUsers   = "users"
	CounterBattles = "battles"

	eventsChannel = "xq:events"
)

type Cache struct{ rdb *redis.Client }

func New(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

// Connect dials REDIS_URL and verifies the connection.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}

func keySettlement(playerID string) string { return "xq:settle:" + strings.TrimSpace(playerID) }
func keyKick(roomID, playerID string) string {
	return "xq:kick:" + strings.TrimSpace(roomID) + ":" + strings.TrimSpace(playerID)
}
func keyKickNotice(playerID string) string { return "xq:kicknote:" + strings.TrimSpace(playerID) }
func keyCounter(name string) string { return "xq:online:" + name }

const keyLobby = "xq:lobby"

// SetPendingSettlement stores a result for a player who may not have received it.
func (c *Cache) SetPendingSettlement(ctx context.Context, playerID string, ev *xiangqidto.SettlementEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, keySettlement(playerID), raw, PendingSettlementTTL).Err()
}

// PendingSettlement reads the marker without clearing it; nil when there is none.
func (c *Cache) PendingSettlement(ctx context.Context, playerID string) (*xiangqidto.SettlementEvent, error) {
	raw, err := c.rdb.Get(ctx, keySettlement(playerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ev xiangqidto.SettlementEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode settlement marker: %w", err)
	}
	return &ev, nil
}

// ClearPendingSettlement drops the marker once the result has been delivered.
func (c *Cache) ClearPendingSettlement(ctx context.Context, playerID string) error {
	return c.rdb.Del(ctx, keySettlement(playerID)).Err()
}

func (c *Cache) MarkKicked(ctx context.Context, roomID, playerID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, keyKick(roomID, playerID), time.Now().Unix(), ttl).Err()
}

// KickRemaining reports how long the player is still barred from the room.
func (c *Cache) KickRemaining(ctx context.Context, roomID, playerID string) (time.Duration, error) {
	ttl, err := c.rdb.TTL(ctx, keyKick(roomID, playerID)).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// SetKickNotice remembers a kick for a player who was offline when it happened.
func (c *Cache) SetKickNotice(ctx context.Context, playerID, roomID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, keyKickNotice(playerID), roomID, ttl).Err()
}

// KickNotice returns the room the player was kicked from, or "".
func (c *Cache) KickNotice(ctx context.Context, playerID string) (string, error) {
	roomID, err := c.rdb.Get(ctx, keyKickNotice(playerID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return roomID, err
}

func (c *Cache) ClearKickNotice(ctx context.Context, playerID string) error {
	return c.rdb.Del(ctx, keyKickNotice(playerID)).Err()
}

func (c *Cache) Incr(ctx context.Context, counter string) (int64, error) {
	return c.rdb.Incr(ctx, keyCounter(counter)).Result()
}

// Decr never lets a counter go below zero.
func (c *Cache) Decr(ctx context.Context, counter string) (int64, error) {
	n, err := c.rdb.Decr(ctx, keyCounter(counter)).Result()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		if err := c.rdb.Set(ctx, keyCounter(counter), 0, 0).Err(); err != nil {
			return 0, err
		}
		n = 0
	}
	return n, nil
}

func (c *Cache) Count(ctx context.Context, counter string) (int64, error) {
	n, err := c.rdb.Get(ctx, keyCounter(counter)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// AddLobby lists a room that is open for a second player.
func (c *Cache) AddLobby(ctx context.Context, roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return nil
	}
	return c.rdb.SAdd(ctx, keyLobby, roomID).Err()
}

func (c *Cache) RemoveLobby(ctx context.Context, roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return nil
	}
	return c.rdb.SRem(ctx, keyLobby, roomID).Err()
}

// Lobby returns the open rooms in a stable order.
func (c *Cache) Lobby(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, keyLobby).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Publish fans an event out to every server instance.
func (c *Cache) Publish(ctx context.Context, ev xiangqidto.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, eventsChannel, raw).Err()
}

// Subscribe delivers published events to fn until ctx is cancelled.
// ready, when non-nil, is closed once the subscription is confirmed.
func (c *Cache) Subscribe(ctx context.Context, ready chan<- struct{}, fn func(xiangqidto.Event)) error {
	sub := c.rdb.Subscribe(ctx, eventsChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev xiangqidto.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				obslog.L().Warn("event_decode_failed", zap.Error(err))
				continue
			}
			fn(ev)
		}
	}
}

package lock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-xiangqi/internal/obslog"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

// RoomDomainKey serialises room formation (join, leave, ready, kick).
const RoomDomainKey = "room:domain"

func MatchKey(matchID string) string { return "match:" + strings.TrimSpace(matchID) }

// TimeoutError is returned when the keys could not be taken within the wait budget.
type TimeoutError struct {
	Keys   []string
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("lock %s not acquired within %s", strings.Join(e.Keys, ","), e.Waited)
}

func (e *TimeoutError) Is(target error) bool {
	t, ok := target.(xiangqidto.DomainError)
	return ok && t.Code == xiangqidto.CodeLockTimeout
}

// ErrNotHeld is returned by Release when the lease had already expired or was taken over.
var ErrNotHeld = errors.New("lock not held")

var acquireScript = redis.NewScript(`
for i, key in ipairs(KEYS) do
  if redis.call('EXISTS', key) == 1 then
    return 0
  end
end
for i, key in ipairs(KEYS) do
  redis.call('SET', key, ARGV[1], 'PX', ARGV[2])
end
return 1`)

var extendScript = redis.NewScript(`
for i, key in ipairs(KEYS) do
  if redis.call('GET', key) ~= ARGV[1] then
    return 0
  end
end
for i, key in ipairs(KEYS) do
  redis.call('PEXPIRE', key, ARGV[2])
end
return 1`)

var releaseScript = redis.NewScript(`
local n = 0
for i, key in ipairs(KEYS) do
  if redis.call('GET', key) == ARGV[1] then
    redis.call('DEL', key)
    n = n + 1
  end
end
return n`)

// Locker hands out Redis leases that expire on their own if the holder dies.
type Locker struct {
	rdb    *redis.Client
	prefix string

	lease       time.Duration
	wait        time.Duration
	retryDelay  time.Duration
	jitter      time.Duration
	extendEvery time.Duration
}

type Option func(*Locker)

func WithLease(d time.Duration) Option { return func(l *Locker) { l.lease = d } }

func WithWait(d time.Duration) Option { return func(l *Locker) { l.wait = d } }

func WithRetry(delay, jitter time.Duration) Option {
	return func(l *Locker) { l.retryDelay, l.jitter = delay, jitter }
}

// WithExtendInterval sets the watchdog period; zero disables extension.
func WithExtendInterval(d time.Duration) Option { return func(l *Locker) { l.extendEvery = d } }

func WithPrefix(p string) Option { return func(l *Locker) { l.prefix = p } }

func New(rdb *redis.Client, opts ...Option) *Locker {
	l := &Locker{
		rdb:        rdb,
		prefix:     "xq:lock:",
		lease:      5 * time.Second,
		wait:       3 * time.Second,
		retryDelay: 200 * time.Millisecond,
		jitter:     200 * time.Millisecond,

		extendEvery: -1,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.extendEvery < 0 {
		l.extendEvery = l.lease / 2
	}
	return l
}

// Lease is a held lock over one or more keys.
type Lease struct {
	l     *Locker
	keys  []string
	token string

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (l *Locker) normalize(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, l.prefix+k)
	}
	sort.Strings(out)
	return out
}

// Acquire blocks until every key is held or the wait budget runs out.
// Acquisition is all-or-nothing across keys.
func (l *Locker) Acquire(ctx context.Context, keys ...string) (*Lease, error) {
	full := l.normalize(keys)
	if len(full) == 0 {
		return nil, errors.New("lock: no keys")
	}
	token := uuid.NewString()
	start := time.Now()
	deadline := start.Add(l.wait)
	for {
		ok, err := acquireScript.Run(ctx, l.rdb, full, token, l.lease.Milliseconds()).Int()
		if err != nil {
			return nil, fmt.Errorf("lock acquire: %w", err)
		}
		if ok == 1 {
			ls := &Lease{l: l, keys: full, token: token, stop: make(chan struct{})}
			ls.startWatchdog()
			return ls, nil
		}
		if time.Now().After(deadline) {
			obslog.L().Warn("lock_timeout", zap.Strings("keys", full), zap.Duration("waited", time.Since(start)))
			return nil, &TimeoutError{Keys: keys, Waited: time.Since(start)}
		}
		pause := l.retryDelay
		if l.jitter > 0 {
			pause += rand.N(l.jitter)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pause):
		}
	}
}

func (ls *Lease) startWatchdog() {
	every := ls.l.extendEvery
	if every <= 0 || ls.l.lease <= 0 {
		return
	}
	ls.wg.Add(1)
	go func() {
		defer ls.wg.Done()
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ls.stop:
				return
			case <-t.C:
				ctx, cancel := context.WithTimeout(context.Background(), every)
				ok, err := extendScript.Run(ctx, ls.l.rdb, ls.keys, ls.token, ls.l.lease.Milliseconds()).Int()
				cancel()
				if err != nil || ok != 1 {
					obslog.L().Warn("lock_extend_failed", zap.Strings("keys", ls.keys), zap.Error(err))
					return
				}
			}
		}
	}()
}

// Release stops the watchdog and deletes the keys still owned by this lease.
func (ls *Lease) Release(ctx context.Context) error {
	if ls == nil {
		return nil
	}
	ls.stopOnce.Do(func() { close(ls.stop) })
	ls.wg.Wait()
	n, err := releaseScript.Run(ctx, ls.l.rdb, ls.keys, ls.token).Int()
	if err != nil {
		return fmt.Errorf("lock release: %w", err)
	}
	if n != len(ls.keys) {
		return ErrNotHeld
	}
	return nil
}

func (ls *Lease) Keys() []string { return append([]string(nil), ls.keys...) }

// Do runs fn while holding keys and always releases afterwards.
func (l *Locker) Do(ctx context.Context, keys []string, fn func(ctx context.Context) error) (err error) {
	ls, err := l.Acquire(ctx, keys...)
	if err != nil {
		return err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if rerr := ls.Release(rctx); rerr != nil {
			obslog.L().Warn("lock_release_failed", zap.Strings("keys", ls.keys), zap.Error(rerr))
		}
	}()
	return fn(ctx)
}

// Package sweeper forfeits players who stay offline during a match and
// clears seats held by long-disconnected players.
package sweeper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-xiangqi/internal/obslog"
	"github.com/park285/cheese-xiangqi/internal/store"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

type Rooms interface {
	Leave(ctx context.Context, playerID string) error
	Evict(ctx context.Context, playerID string) error
}

type Options struct {
	Interval          time.Duration
	OfflineTimeout    time.Duration
	DisconnectTimeout time.Duration
}

type Sweeper struct {
	players store.Players
	rooms   Rooms
	opts    Options

	now func() time.Time
}

func New(players store.Players, rooms Rooms, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	return &Sweeper{players: players, rooms: rooms, opts: opts, now: time.Now}
}

func (s *Sweeper) Run(ctx context.Context) {
	tk := time.NewTicker(s.opts.Interval)
	defer tk.Stop()
	obslog.L().Info("sweeper_start",
		zap.Duration("interval", s.opts.Interval),
		zap.Duration("offline_timeout", s.opts.OfflineTimeout),
		zap.Duration("disconnect_timeout", s.opts.DisconnectTimeout),
	)
	for {
		select {
		case <-ctx.Done():
			obslog.L().Info("sweeper_stop")
			return
		case <-tk.C:
			s.SweepOffline(ctx)
			s.SweepDisconnected(ctx)
		}
	}
}

// SweepOffline makes every match participant offline past OfflineTimeout
// lose by leaving. Returns how many were forfeited.
func (s *Sweeper) SweepOffline(ctx context.Context) int {
	stale, err := s.players.DisconnectedBefore(ctx, store.PlayerInMatch, s.now().Add(-s.opts.OfflineTimeout))
	if err != nil {
		obslog.L().Warn("sweep_offline_query_failed", zap.Error(err))
		return 0
	}
	n := 0
	for _, ps := range stale {
		err := s.rooms.Leave(ctx, ps.PlayerID)
		if err != nil && !errors.Is(err, xiangqidto.ErrStaleMatch) {
			obslog.L().Warn("sweep_offline_failed", zap.String("player_id", ps.PlayerID), zap.Error(err))
			continue
		}
		n++
		obslog.L().Info("offline_forfeit", zap.String("player_id", ps.PlayerID), zap.String("match_id", ps.MatchID))
	}
	return n
}

// SweepDisconnected evicts seated, watching or idle players whose
// connection has been gone for DisconnectTimeout.
func (s *Sweeper) SweepDisconnected(ctx context.Context) int {
	before := s.now().Add(-s.opts.DisconnectTimeout)
	n := 0
	for _, status := range []store.PlayerStatus{store.PlayerInRoom, store.PlayerWatching, store.PlayerPlatform} {
		stale, err := s.players.DisconnectedBefore(ctx, status, before)
		if err != nil {
			obslog.L().Warn("sweep_disconnect_query_failed", zap.String("status", string(status)), zap.Error(err))
			continue
		}
		for _, ps := range stale {
			if status == store.PlayerPlatform && ps.Page == store.PageLogin {
				continue
			}
			if err := s.rooms.Evict(ctx, ps.PlayerID); err != nil {
				obslog.L().Warn("sweep_disconnect_failed", zap.String("player_id", ps.PlayerID), zap.Error(err))
				continue
			}
			n++
		}
	}
	if n > 0 {
		obslog.L().Info("disconnect_sweep", zap.Int("evicted", n))
	}
	return n
}

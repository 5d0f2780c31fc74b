package clock

import (
	"context"
	"sync"
	"time"

	"github.com/park285/cheese-xiangqi/internal/board"
	"github.com/park285/cheese-xiangqi/internal/obslog"
	"go.uber.org/zap"
)

// ExpireFunc settles a match whose side to act ran out of time.
type ExpireFunc func(ctx context.Context, matchID string, loser board.Color)

type Ticker struct {
	reg      *Registry
	interval time.Duration
	onExpire ExpireFunc

	wg sync.WaitGroup
}

func NewTicker(reg *Registry, onExpire ExpireFunc) *Ticker {
	return &Ticker{reg: reg, interval: time.Second, onExpire: onExpire}
}

// Run ticks until ctx is done, then waits for in-flight settlements.
func (t *Ticker) Run(ctx context.Context) {
	tk := time.NewTicker(t.interval)
	defer tk.Stop()
	obslog.L().Info("clock_ticker_start", zap.Int("tracked", t.reg.Len()))
	for {
		select {
		case <-ctx.Done():
			t.wg.Wait()
			obslog.L().Info("clock_ticker_stop")
			return
		case <-tk.C:
			t.TickOnce(ctx)
		}
	}
}

// TickOnce advances every clock one second and dispatches each expiry on its own goroutine.
func (t *Ticker) TickOnce(ctx context.Context) {
	for _, e := range t.reg.Tick() {
		obslog.L().Info("clock_expired", zap.String("match_id", e.MatchID), zap.String("loser", e.Loser.String()))
		if t.onExpire == nil {
			continue
		}
		t.wg.Add(1)
		go func(e Expiry) {
			defer t.wg.Done()
			t.onExpire(ctx, e.MatchID, e.Loser)
		}(e)
	}
}

// Wait blocks until dispatched expiries have returned.
func (t *Ticker) Wait() { t.wg.Wait() }

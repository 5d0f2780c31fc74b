package match

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-xiangqi/internal/board"
	"github.com/park285/cheese-xiangqi/internal/clock"
	"github.com/park285/cheese-xiangqi/internal/obslog"
	"github.com/park285/cheese-xiangqi/internal/store"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

// Create starts a match in roomID. It must run inside the caller's
// transaction; clock and counter effects are queued on ob.
func (c *Controller) Create(ctx context.Context, ob *Outbox, roomID, redID, blackID string) (*store.Match, error) {
	now := c.now()
	m := &store.Match{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Status:    store.MatchActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	parts := []store.Participant{
		{MatchID: m.ID, PlayerID: redID, OpponentID: blackID, Color: board.Red},
		{MatchID: m.ID, PlayerID: blackID, OpponentID: redID, Color: board.Black},
	}
	if err := c.store.CreateMatch(ctx, m, parts); err != nil {
		return nil, err
	}
	limits := c.clocks.Limits()
	fresh := clock.Side{Total: limits.Total, Step: limits.Step}
	if err := c.store.AppendMove(ctx, &store.MoveRecord{
		MatchID:   m.ID,
		Step:      0,
		Position:  board.InitialPosition(),
		Acting:    board.Black,
		Red:       fresh,
		Black:     fresh,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	ob.After(func(ctx context.Context) {
		c.clocks.Start(m.ID, board.Red)
		c.perpetual.Reset(redID, blackID)
		if c.markers != nil {
			if _, err := c.markers.Incr(ctx, c.opts.BattleCounter); err != nil {
				obslog.L().Warn("battle_counter_failed", zap.Error(err))
			}
		}
	})
	started := xiangqidto.MatchStartedEvent{
		MatchID: m.ID,
		RoomID:  roomID,
		RedID:   redID,
		BlackID: blackID,
		Clock:   clockView(clock.State{Red: fresh, Black: fresh, ToAct: board.Red}),
	}
	ob.ToPlayer(redID, xiangqidto.EventMatchStarted, started)
	ob.ToPlayer(blackID, xiangqidto.EventMatchStarted, started)
	ob.ToWatchers(roomID, xiangqidto.EventMatchStarted, started)

	obslog.L().Info("match_created",
		zap.String("match_id", m.ID),
		zap.String("room_id", roomID),
		zap.String("red_id", redID),
		zap.String("black_id", blackID),
	)
	return m, nil
}

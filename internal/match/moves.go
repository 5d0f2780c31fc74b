package match

import (
	"context"

	"go.uber.org/zap"

	"github.com/park285/cheese-xiangqi/internal/board"
	"github.com/park285/cheese-xiangqi/internal/clock"
	"github.com/park285/cheese-xiangqi/internal/obslog"
	"github.com/park285/cheese-xiangqi/internal/rules"
	"github.com/park285/cheese-xiangqi/internal/store"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

// SubmitMove applies a move given in the mover's own orientation.
func (c *Controller) SubmitMove(ctx context.Context, matchID, playerID string, from, to xiangqidto.Point, annotation string) (*xiangqidto.MoveResult, error) {
	var result *xiangqidto.MoveResult
	err := c.run(ctx, matchID, func(ctx context.Context, ob *Outbox) error {
		s, me, opp, err := c.loadSeat(ctx, matchID, playerID)
		if err != nil {
			return err
		}
		st := c.clockFor(matchID, s.last)
		if st.Expired || st.Side(st.ToAct).Step <= 0 {
			return xiangqidto.ErrStaleMatch.With("clock expired")
		}
		if s.toAct() != me.Color {
			return xiangqidto.ErrTurnOwnership.With("not your turn")
		}

		src, dst := orient(fromDTO(from), me.Color), orient(fromDTO(to), me.Color)
		moved, err := rules.ValidateMove(s.pieces, src, dst, me.Color)
		if err != nil {
			return err
		}
		next := board.Apply(s.pieces, src, dst)
		givesCheck := rules.IsInCheck(next, opp.Color)
		if givesCheck {
			if err := c.perpetual.Check(playerID, moved.ID); err != nil {
				return err
			}
		}

		now := c.now()
		step := s.last.Step + 1
		flipped := c.clocks.Limits().Handover(st, step)

		rec := &store.MoveRecord{
			MatchID:      matchID,
			Step:         step,
			Position:     board.Encode(next, opp.Color),
			Acting:       me.Color,
			Red:          flipped.Red,
			Black:        flipped.Black,
			From:         &src,
			To:           &dst,
			MovedID:      moved.ID,
			Annotation:   annotation,
			ThinkSeconds: max(0, int(now.Sub(s.last.CreatedAt).Seconds())),
			CreatedAt:    now,
		}
		if err := c.store.AppendMove(ctx, rec); err != nil {
			return err
		}
		s.last, s.pieces = rec, next

		outcome := rules.JudgeOutcome(next, me.Color)
		result = &xiangqidto.MoveResult{
			IsOver:    outcome.IsOver,
			Reason:    string(outcome.Reason),
			NextToAct: opp.Color.String(),
			Step:      rec.Step,
		}
		ob.After(func(context.Context) {
			c.perpetual.Observe(playerID, moved.ID, givesCheck)
			c.clocks.Put(matchID, flipped)
		})
		for _, p := range []store.Participant{me, opp} {
			ob.ToPlayer(p.PlayerID, xiangqidto.EventMove, moveEvent(rec, playerID, outcome.InCheck, flipped, p.Color))
		}
		ob.ToWatchers(s.match.RoomID, xiangqidto.EventMove, moveEvent(rec, playerID, outcome.InCheck, flipped, board.Red))

		obslog.L().Info("move_applied",
			zap.String("match_id", matchID),
			zap.String("player_id", playerID),
			zap.String("piece_id", moved.ID),
			zap.Int("step", rec.Step),
			zap.Bool("check", givesCheck),
		)
		if !outcome.IsOver {
			return nil
		}
		winner := ""
		if outcome.Reason == rules.ReasonCheckmateOrStalemate {
			winner = playerID
		}
		_, err = c.settleLocked(ctx, ob, s, settleParams{reason: string(outcome.Reason), winner: winner, from: store.MatchActive})
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func moveEvent(rec *store.MoveRecord, playerID string, inCheck bool, st clock.State, viewer board.Color) xiangqidto.MoveEvent {
	return xiangqidto.MoveEvent{
		MatchID:    rec.MatchID,
		PlayerID:   playerID,
		PieceID:    rec.MovedID,
		From:       toDTO(orient(*rec.From, viewer)),
		To:         toDTO(orient(*rec.To, viewer)),
		Step:       rec.Step,
		Annotation: rec.Annotation,
		InCheck:    inCheck,
		Clock:      clockView(st),
	}
}

// SyncMatch returns the current board from the caller's perspective.
// Non-participants get the red-side view.
func (c *Controller) SyncMatch(ctx context.Context, matchID, viewerID string) (*xiangqidto.BoardView, error) {
	var view *xiangqidto.BoardView
	err := c.read(ctx, matchID, func(ctx context.Context, _ *Outbox) error {
		s, err := c.load(ctx, matchID)
		if err != nil {
			return err
		}
		if s.match.Status != store.MatchActive {
			return xiangqidto.ErrStaleMatch.With("match is over")
		}
		view = c.viewFor(s, viewerID)
		return nil
	})
	return view, err
}

func (c *Controller) viewFor(s *session, viewerID string) *xiangqidto.BoardView {
	st, _ := c.liveClock(s.match.ID, s.last)
	if me, _, ok := s.seat(viewerID); ok {
		return boardView(s, st, me.Color, true)
	}
	return boardView(s, st, board.Red, false)
}

// CheckClientStepConsistency compares the client's step counter with the
// stored one. On mismatch the full board is returned and also pushed to
// the player.
func (c *Controller) CheckClientStepConsistency(ctx context.Context, matchID, playerID string, clientStep int) (bool, *xiangqidto.BoardView, error) {
	consistent := true
	var view *xiangqidto.BoardView
	err := c.read(ctx, matchID, func(ctx context.Context, ob *Outbox) error {
		s, _, _, err := c.loadSeat(ctx, matchID, playerID)
		if err != nil {
			return err
		}
		if s.last.Step == clientStep {
			return nil
		}
		consistent = false
		view = c.viewFor(s, playerID)
		ob.ToPlayer(playerID, xiangqidto.EventBoard, view)
		obslog.L().Info("step_mismatch", zap.String("match_id", matchID), zap.String("player_id", playerID),
			zap.Int("client_step", clientStep), zap.Int("step", s.last.Step))
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return consistent, view, nil
}

// BoardFor reads the board without taking the match lock. Used on reconnect.
func (c *Controller) BoardFor(ctx context.Context, matchID, viewerID string) (*xiangqidto.BoardView, error) {
	s, err := c.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return c.viewFor(s, viewerID), nil
}

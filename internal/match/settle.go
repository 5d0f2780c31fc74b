package match

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/park285/cheese-xiangqi/internal/board"
	"github.com/park285/cheese-xiangqi/internal/obslog"
	"github.com/park285/cheese-xiangqi/internal/rules"
	"github.com/park285/cheese-xiangqi/internal/store"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

// Settlement reasons.
const (
	ReasonCheckmate = string(rules.ReasonCheckmateOrStalemate)
	ReasonNoAttack  = string(rules.ReasonNoAttackingPieces)
	ReasonDraw      = "draw"
	ReasonResign    = "resign"
	ReasonTimeout   = "timeout"
	ReasonLeave     = "leave"
)

// fullMaterial is the value of one side's complete set.
const fullMaterial = 69

var pieceValue = map[board.Kind]int{
	board.Rook:     10,
	board.Horse:    6,
	board.Elephant: 4,
	board.Advisor:  4,
	board.Cannon:   8,
	board.Soldier:  1,
}

// LostMaterial is the value color has lost so far.
func LostMaterial(pieces []board.Piece, color board.Color) int {
	left := 0
	for _, pc := range pieces {
		if pc.Color == color {
			left += pieceValue[pc.Kind]
		}
	}
	return fullMaterial - left
}

// Score is the magnitude awarded to the winner of a decisive, scored match.
func Score(pieces []board.Piece) int {
	d := LostMaterial(pieces, board.Red) - LostMaterial(pieces, board.Black)
	if d < 0 {
		d = -d
	}
	return 12 + d
}

type settleParams struct {
	reason string
	winner string
	leaver string
	from   store.MatchStatus
}

// Settle ends a match for reason. actingPlayerID is the player whose action
// caused it: the loser for resign, leave and timeout, the winner for checkmate.
// Settling an already settled match is a no-op and returns nil.
func (c *Controller) Settle(ctx context.Context, matchID, reason, actingPlayerID string) (*xiangqidto.SettlementEvent, error) {
	var out *xiangqidto.SettlementEvent
	err := c.run(ctx, matchID, func(ctx context.Context, ob *Outbox) error {
		s, err := c.load(ctx, matchID)
		if err != nil {
			return err
		}
		if s.match.Status != store.MatchActive {
			return nil
		}
		p := settleParams{reason: reason, from: store.MatchActive}
		switch reason {
		case ReasonResign, ReasonTimeout, ReasonLeave:
			_, opp, ok := s.seat(actingPlayerID)
			if !ok {
				return xiangqidto.ErrValidation.With("not a participant of this match")
			}
			p.winner = opp.PlayerID
			if reason == ReasonLeave {
				p.leaver = actingPlayerID
			}
		case ReasonCheckmate:
			p.winner = actingPlayerID
		case ReasonDraw, ReasonNoAttack:
		default:
			return xiangqidto.ErrValidation.With("unknown settlement reason " + reason)
		}
		out, err = c.settleLocked(ctx, ob, s, p)
		return err
	})
	return out, err
}

// ExpireTimeout settles a match whose side to act ran out of time. The
// claim is checked against the latest record: when loser is not to act
// there, or still has step time, the clock is re-adopted from the record
// and nothing is settled. A settled match is first parked in timedOut so
// a racing settlement cannot apply twice.
func (c *Controller) ExpireTimeout(ctx context.Context, matchID string, loser board.Color) error {
	return c.run(ctx, matchID, func(ctx context.Context, ob *Outbox) error {
		s, err := c.load(ctx, matchID)
		if err != nil {
			return err
		}
		if s.match.Status != store.MatchActive {
			ob.After(func(context.Context) { c.clocks.Remove(matchID) })
			return nil
		}
		st := c.recompute(s.last)
		if st.ToAct != loser || st.Side(loser).Step > 0 {
			ob.After(func(context.Context) { c.clocks.Put(matchID, st) })
			obslog.L().Info("expiry_rejected",
				zap.String("match_id", matchID),
				zap.String("claimed_loser", loser.String()),
				zap.String("to_act", st.ToAct.String()),
				zap.Int("step", s.last.Step),
				zap.Int("step_left", st.Side(st.ToAct).Step),
			)
			return nil
		}
		ok, err := c.store.TransitionMatch(ctx, matchID, store.MatchActive, store.MatchTimedOut, store.MatchResult{})
		if err != nil || !ok {
			return err
		}
		s.match.Status = store.MatchTimedOut
		_, err = c.settleLocked(ctx, ob, s, settleParams{
			reason: ReasonTimeout,
			winner: s.byColor(loser).OpponentID,
			from:   store.MatchTimedOut,
		})
		return err
	})
}

// OnExpire adapts ExpireTimeout to the clock ticker.
func (c *Controller) OnExpire(ctx context.Context, matchID string, loser board.Color) {
	if err := c.ExpireTimeout(ctx, matchID, loser); err != nil {
		obslog.L().Error("expire_settle_failed", zap.String("match_id", matchID), zap.String("loser", loser.String()), zap.Error(err))
	}
}

// settleLocked writes the terminal status first; only the caller that wins
// that transition scores the match and resets the room.
func (c *Controller) settleLocked(ctx context.Context, ob *Outbox, s *session, p settleParams) (*xiangqidto.SettlementEvent, error) {
	var winner, loser store.Participant
	decisive := p.winner != ""
	if decisive {
		for _, part := range s.parts {
			if part.PlayerID == p.winner {
				winner = part
			} else {
				loser = part
			}
		}
	}
	message := c.msgs.Settlement(p.reason, map[string]string{"Winner": winner.PlayerID, "Loser": loser.PlayerID})

	ok, err := c.store.TransitionMatch(ctx, s.match.ID, p.from, store.MatchSettled, store.MatchResult{
		Code:     p.reason,
		Message:  message,
		WinnerID: p.winner,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		obslog.L().Info("settle_skipped", zap.String("match_id", s.match.ID), zap.String("reason", p.reason))
		return nil, nil
	}

	steps := s.last.Step
	counts := decisive && steps > 2
	score := 0
	if counts {
		score = Score(s.pieces)
	}
	ev := &xiangqidto.SettlementEvent{
		MatchID:     s.match.ID,
		RoomID:      s.match.RoomID,
		WinnerID:    p.winner,
		Reason:      p.reason,
		Message:     message,
		StepCount:   steps,
		ScoreCounts: counts,
	}
	if decisive {
		ev.WinColor = winner.Color.String()
		ev.WinScore, ev.LoseScore = score, -score
	}

	var offline []string
	for _, part := range s.parts {
		delta, outcome := 0, store.OutcomeDraw
		if decisive {
			if part.PlayerID == p.winner {
				delta, outcome = score, store.OutcomeWin
			} else {
				delta, outcome = -score, store.OutcomeLoss
			}
		}
		if err := c.store.SetScoreDelta(ctx, s.match.ID, part.PlayerID, delta); err != nil {
			return nil, err
		}
		if steps > 2 {
			if err := c.store.RecordResult(ctx, part.PlayerID, delta, outcome); err != nil {
				return nil, err
			}
		}
		wasOffline, err := c.releasePlayer(ctx, s, part, p.leaver, counts)
		if err != nil {
			return nil, err
		}
		if wasOffline {
			offline = append(offline, part.PlayerID)
		}
	}
	if err := c.releaseRoom(ctx, s.match.RoomID, p.leaver != ""); err != nil {
		return nil, err
	}

	for _, part := range s.parts {
		ob.ToPlayer(part.PlayerID, xiangqidto.EventSettlement, ev)
	}
	ob.ToWatchers(s.match.RoomID, xiangqidto.EventSettlement, ev)

	matchID := s.match.ID
	ids := make([]string, 0, len(s.parts))
	for _, part := range s.parts {
		ids = append(ids, part.PlayerID)
	}
	ob.After(func(ctx context.Context) {
		c.clocks.Remove(matchID)
		c.perpetual.Reset(ids...)
		if c.markers == nil {
			return
		}
		if _, err := c.markers.Decr(ctx, c.opts.BattleCounter); err != nil {
			obslog.L().Warn("battle_counter_failed", zap.Error(err))
		}
		for _, id := range offline {
			if err := c.markers.SetPendingSettlement(ctx, id, ev); err != nil {
				obslog.L().Warn("settlement_marker_failed", zap.String("player_id", id), zap.Error(err))
			}
		}
	})

	obslog.L().Info("match_settled",
		zap.String("match_id", matchID),
		zap.String("reason", p.reason),
		zap.String("winner_id", p.winner),
		zap.Int("steps", steps),
		zap.Int("score", score),
	)
	return ev, nil
}

// releasePlayer returns a participant to the room, or to the platform when
// they are the one leaving. After a scored decisive match the first-mover
// seat passes to the other player.
func (c *Controller) releasePlayer(ctx context.Context, s *session, part store.Participant, leaver string, swap bool) (bool, error) {
	ps, err := c.store.GetPlayer(ctx, part.PlayerID)
	if errors.Is(err, store.ErrNotFound) {
		ps = &store.PlayerState{PlayerID: part.PlayerID}
	} else if err != nil {
		return false, err
	}
	offline := ps.DisconnectedAt != nil
	switch {
	case part.PlayerID == leaver:
		ps.ResetToPlatform(store.PagePlatform)
	default:
		ps.Status = store.PlayerInRoom
		ps.Page = store.RoomPage(ps.JoinType)
		ps.RoomID = s.match.RoomID
		ps.MatchID = ""
		ps.IsReady = false
		if leaver != "" {
			ps.IsFirst, ps.IsRoomAdmin = true, true
		} else if swap {
			ps.IsFirst = part.Color == board.Black
		} else {
			ps.IsFirst = part.Color == board.Red
		}
	}
	ps.ActionAt = c.now()
	return offline, c.store.SavePlayer(ctx, ps)
}

func (c *Controller) releaseRoom(ctx context.Context, roomID string, someoneLeft bool) error {
	room, err := c.store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	room.Status = store.RoomMatchOver
	if someoneLeft {
		room.Status = store.RoomWaiting
	}
	room.UpdatedAt = c.now()
	return c.store.SaveRoom(ctx, room)
}

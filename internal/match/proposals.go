package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-xiangqi/internal/board"
	"github.com/park285/cheese-xiangqi/internal/obslog"
	"github.com/park285/cheese-xiangqi/internal/store"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

func (c *Controller) ProposeDraw(ctx context.Context, matchID, playerID string) error {
	return c.propose(ctx, matchID, playerID, store.ProposalDraw, nil)
}

func (c *Controller) RespondDraw(ctx context.Context, matchID, playerID string, accept bool) error {
	return c.respond(ctx, matchID, playerID, store.ProposalDraw, accept, nil,
		func(ctx context.Context, ob *Outbox, s *session, _ *store.Proposal) error {
			_, err := c.settleLocked(ctx, ob, s, settleParams{reason: ReasonDraw, from: store.MatchActive})
			return err
		})
}

// ProposeTakeback asks to undo the proposer's own last move, which is only
// possible while the opponent has not replied to it.
func (c *Controller) ProposeTakeback(ctx context.Context, matchID, playerID string) error {
	return c.propose(ctx, matchID, playerID, store.ProposalTakeback, func(ctx context.Context, s *session, me store.Participant) error {
		if s.last.Step < 1 || s.last.Acting != me.Color {
			return xiangqidto.ErrConflict.With("no move of yours to take back")
		}
		used, err := c.store.CountProposals(ctx, s.match.ID, me.PlayerID, store.ProposalTakeback, store.ProposalAccepted)
		if err != nil {
			return err
		}
		if used >= c.opts.MaxTakebacks {
			return xiangqidto.ErrConflict.With(fmt.Sprintf("takeback limit of %d reached", c.opts.MaxTakebacks))
		}
		return nil
	})
}

func (c *Controller) RespondTakeback(ctx context.Context, matchID, playerID string, accept bool) error {
	return c.respond(ctx, matchID, playerID, store.ProposalTakeback, accept,
		func(s *session, me store.Participant, prop *store.Proposal) error {
			if s.toAct() != me.Color {
				return xiangqidto.ErrTurnOwnership.With("takeback can only be answered on your turn")
			}
			if prop.Step != s.last.Step {
				return xiangqidto.ErrConflict.With("position changed since the request")
			}
			return nil
		},
		c.applyTakeback)
}

func (c *Controller) applyTakeback(ctx context.Context, ob *Outbox, s *session, prop *store.Proposal) error {
	if err := c.store.DeleteLatestMove(ctx, s.match.ID); err != nil {
		return notFound(err, "move to take back")
	}
	last, err := c.store.LatestMove(ctx, s.match.ID)
	if err != nil {
		return notFound(err, "move record")
	}
	pieces, _, err := board.Decode(last.Position)
	if err != nil {
		return xiangqidto.ErrMalformedPosition.With(err.Error())
	}
	proposer, _, _ := s.seat(prop.PlayerID)

	// both sides get back the times recorded with the restored position
	st := recordClock(last)
	if st.ToAct != proposer.Color {
		return xiangqidto.ErrConflict.With("restored position does not hand the turn back")
	}

	s.last, s.pieces = last, pieces
	matchID := s.match.ID
	ids := []string{s.parts[0].PlayerID}
	if len(s.parts) > 1 {
		ids = append(ids, s.parts[1].PlayerID)
	}
	ob.After(func(context.Context) {
		c.clocks.Put(matchID, st)
		c.perpetual.Reset(ids...)
	})
	for _, part := range s.parts {
		ob.ToPlayer(part.PlayerID, xiangqidto.EventBoard, boardView(s, st, part.Color, true))
	}
	ob.ToWatchers(s.match.RoomID, xiangqidto.EventBoard, boardView(s, st, board.Red, false))
	obslog.L().Info("takeback_applied", zap.String("match_id", matchID), zap.String("player_id", prop.PlayerID), zap.Int("step", last.Step))
	return nil
}

// Resign ends the match in the opponent's favour.
func (c *Controller) Resign(ctx context.Context, matchID, playerID string) (*xiangqidto.SettlementEvent, error) {
	return c.concede(ctx, matchID, playerID, ReasonResign)
}

// Leave is a resignation that also takes the player out of the room.
func (c *Controller) Leave(ctx context.Context, matchID, playerID string) (*xiangqidto.SettlementEvent, error) {
	return c.concede(ctx, matchID, playerID, ReasonLeave)
}

func (c *Controller) concede(ctx context.Context, matchID, playerID, reason string) (*xiangqidto.SettlementEvent, error) {
	var out *xiangqidto.SettlementEvent
	err := c.run(ctx, matchID, func(ctx context.Context, ob *Outbox) error {
		s, me, opp, err := c.loadSeat(ctx, matchID, playerID)
		if err != nil {
			return err
		}
		now := c.now()
		if err := c.store.CreateProposal(ctx, &store.Proposal{
			ID:          uuid.NewString(),
			MatchID:     matchID,
			PlayerID:    me.PlayerID,
			Kind:        store.ProposalResign,
			Result:      store.ProposalAccepted,
			Step:        s.last.Step,
			CreatedAt:   now,
			RespondedAt: &now,
		}); err != nil {
			return err
		}
		p := settleParams{reason: reason, winner: opp.PlayerID, from: store.MatchActive}
		if reason == ReasonLeave {
			p.leaver = me.PlayerID
		}
		out, err = c.settleLocked(ctx, ob, s, p)
		return err
	})
	return out, err
}

func (c *Controller) propose(ctx context.Context, matchID, playerID string, kind store.ProposalKind,
	check func(ctx context.Context, s *session, me store.Participant) error) error {
	return c.run(ctx, matchID, func(ctx context.Context, ob *Outbox) error {
		s, me, opp, err := c.loadSeat(ctx, matchID, playerID)
		if err != nil {
			return err
		}
		if _, err := c.store.PendingProposal(ctx, matchID, kind); err == nil {
			return xiangqidto.ErrConflict.With(fmt.Sprintf("a %s proposal is already pending", kind))
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		now := c.now()
		last, err := c.store.LastProposal(ctx, matchID, playerID, kind)
		switch {
		case err == nil && now.Sub(last.CreatedAt) < c.opts.ProposalCooldown:
			return xiangqidto.ErrRateLimited.With(fmt.Sprintf("wait %s before proposing again", (c.opts.ProposalCooldown - now.Sub(last.CreatedAt)).Round(time.Second)))
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}
		if check != nil {
			if err := check(ctx, s, me); err != nil {
				return err
			}
		}
		prop := &store.Proposal{
			ID:        uuid.NewString(),
			MatchID:   matchID,
			PlayerID:  playerID,
			Kind:      kind,
			Result:    store.ProposalPending,
			Step:      s.last.Step,
			CreatedAt: now,
		}
		if err := c.store.CreateProposal(ctx, prop); err != nil {
			return err
		}
		ob.ToPlayer(opp.PlayerID, xiangqidto.EventProposal, xiangqidto.ProposalEvent{MatchID: matchID, Kind: string(kind), PlayerID: playerID})
		obslog.L().Info("proposal_created", zap.String("match_id", matchID), zap.String("player_id", playerID), zap.String("kind", string(kind)))
		return nil
	})
}

func (c *Controller) respond(ctx context.Context, matchID, playerID string, kind store.ProposalKind, accept bool,
	check func(s *session, me store.Participant, prop *store.Proposal) error,
	onAccept func(ctx context.Context, ob *Outbox, s *session, prop *store.Proposal) error) error {
	return c.run(ctx, matchID, func(ctx context.Context, ob *Outbox) error {
		s, me, opp, err := c.loadSeat(ctx, matchID, playerID)
		if err != nil {
			return err
		}
		prop, err := c.store.PendingProposal(ctx, matchID, kind)
		if errors.Is(err, store.ErrNotFound) || (err == nil && prop.PlayerID != opp.PlayerID) {
			return xiangqidto.ErrNotFound.With(fmt.Sprintf("no pending %s proposal from your opponent", kind))
		}
		if err != nil {
			return err
		}
		if accept && check != nil {
			if err := check(s, me, prop); err != nil {
				return err
			}
		}
		result := store.ProposalRejected
		if accept {
			result = store.ProposalAccepted
		}
		if err := c.store.ResolveProposal(ctx, prop.ID, result, c.now()); err != nil {
			return err
		}
		ob.ToPlayer(prop.PlayerID, xiangqidto.EventProposalResponse, xiangqidto.ProposalEvent{
			MatchID:  matchID,
			Kind:     string(kind),
			PlayerID: playerID,
			Accepted: &accept,
		})
		obslog.L().Info("proposal_answered", zap.String("match_id", matchID), zap.String("kind", string(kind)), zap.Bool("accepted", accept))
		if !accept {
			return nil
		}
		return onAccept(ctx, ob, s, prop)
	})
}

// PendingProposalFor returns an unanswered proposal addressed to playerID.
func (c *Controller) PendingProposalFor(ctx context.Context, matchID, playerID string) (*xiangqidto.ProposalEvent, error) {
	for _, kind := range []store.ProposalKind{store.ProposalDraw, store.ProposalTakeback} {
		prop, err := c.store.PendingProposal(ctx, matchID, kind)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if prop.PlayerID != playerID {
			return &xiangqidto.ProposalEvent{MatchID: matchID, Kind: string(kind), PlayerID: prop.PlayerID}, nil
		}
	}
	return nil, nil
}

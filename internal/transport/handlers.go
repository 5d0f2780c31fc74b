package transport

import (
	"context"

	"github.com/park285/cheese-xiangqi/internal/match"
	"github.com/park285/cheese-xiangqi/internal/recovery"
	"github.com/park285/cheese-xiangqi/internal/room"
	"github.com/park285/cheese-xiangqi/internal/store"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

type Services struct {
	Matches  *match.Controller
	Rooms    *room.Service
	Recovery *recovery.Controller
}

type stepReply struct {
	Consistent bool                  `json:"consistent"`
	Board      *xiangqidto.BoardView `json:"board,omitempty"`
}

// Register binds every inbound op to its service call.
func Register(r *Router, svc Services) {
	m, rooms := svc.Matches, svc.Rooms

	r.Handle(xiangqidto.OpSubmitMove, withMatch(func(ctx context.Context, req *xiangqidto.Request) (any, error) {
		var p xiangqidto.MovePayload
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		return m.SubmitMove(ctx, req.MatchID, req.PlayerID, p.From, p.To, p.Annotation)
	}))
	r.Handle(xiangqidto.OpProposeDraw, withMatch(func(ctx context.Context, req *xiangqidto.Request) (any, error) {
		return nil, m.ProposeDraw(ctx, req.MatchID, req.PlayerID)
	}))
	r.Handle(xiangqidto.OpRespondDraw, withMatch(func(ctx context.Context, req *xiangqidto.Request) (any, error) {
		var p xiangqidto.RespondPayload
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		return nil, m.RespondDraw(ctx, req.MatchID, req.PlayerID, p.Accept)
	}))
	r.Handle(xiangqidto.OpProposeTakeback, withMatch(func(ctx context.Context, req *xiangqidto.Request) (any, error) {
		return nil, m.ProposeTakeback(ctx, req.MatchID, req.PlayerID)
	}))
	r.Handle(xiangqidto.OpRespondTakeback, withMatch(func(ctx context.Context, req *xiangqidto.Request) (any, error) {
		var p xiangqidto.RespondPayload
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		return nil, m.RespondTakeback(ctx, req.MatchID, req.PlayerID, p.Accept)
	}))
	r.Handle(xiangqidto.OpResign, withMatch(func(ctx context.Context, req *xiangqidto.Request) (any, error) {
		return m.Resign(ctx, req.MatchID, req.PlayerID)
	}))
	r.Handle(xiangqidto.OpSyncMatch, withMatch(func(ctx context.Context, req *xiangqidto.Request) (any, error) {
		return m.SyncMatch(ctx, req.MatchID, req.PlayerID)
	}))
	r.Handle(xiangqidto.OpCheckStep, withMatch(func(ctx context.Context, req *xiangqidto.Request) (any, error) {
		var p xiangqidto.StepPayload
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		ok, view, err := m.CheckClientStepConsistency(ctx, req.MatchID, req.PlayerID, p.ClientStep)
		if err != nil {
			return nil, err
		}
		return stepReply{Consistent: ok, Board: view}, nil
	}))

	r.Handle(xiangqidto.OpJoinRoom, func(ctx context.Context, req *xiangqidto.Request) (any, error) {
		var p xiangqidto.JoinPayload
		if len(req.Payload) > 0 {
			if err := decode(req, &p); err != nil {
				return nil, err
			}
		}
		if p.JoinType == "" {
			p.JoinType = store.JoinFreedom
			if req.RoomID == "" {
				p.JoinType = store.JoinRandom
			}
		}
		return rooms.Join(ctx, req.RoomID, req.PlayerID, p.JoinType)
	})
	r.Handle(xiangqidto.OpLeaveRoom, func(ctx context.Context, req *xiangqidto.Request) (any, error) {
		return nil, rooms.Leave(ctx, req.PlayerID)
	})
	r.Handle(xiangqidto.OpReady, withRoom(func(ctx context.Context, req *xiangqidto.Request) (any, error) {
		return rooms.Ready(ctx, req.RoomID, req.PlayerID)
	}))
	r.Handle(xiangqidto.OpKick, func(ctx context.Context, req *xiangqidto.Request) (any, error) {
		var p xiangqidto.KickPayload
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		return nil, rooms.Kick(ctx, req.PlayerID, p.TargetID)
	})
	r.Handle(xiangqidto.OpWatch, withRoom(func(ctx context.Context, req *xiangqidto.Request) (any, error) {
		return rooms.Watch(ctx, req.RoomID, req.PlayerID)
	}))
	r.Handle(xiangqidto.OpListRooms, func(ctx context.Context, _ *xiangqidto.Request) (any, error) {
		return rooms.List(ctx)
	})
	r.Handle(xiangqidto.OpRecover, func(ctx context.Context, req *xiangqidto.Request) (any, error) {
		return svc.Recovery.Recover(ctx, req.PlayerID)
	})
	r.Handle(xiangqidto.OpPing, func(context.Context, *xiangqidto.Request) (any, error) {
		return "pong", nil
	})
}

func withMatch(h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *xiangqidto.Request) (any, error) {
		if req.MatchID == "" {
			return nil, xiangqidto.ErrValidation.With("matchId is required")
		}
		return h(ctx, req)
	}
}

func withRoom(h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *xiangqidto.Request) (any, error) {
		if req.RoomID == "" {
			return nil, xiangqidto.ErrValidation.With("roomId is required")
		}
		return h(ctx, req)
	}
}

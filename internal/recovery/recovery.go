// Package recovery restores a reconnecting player to wherever they were:
// a running match, a watched match, a room or a lobby page.
package recovery

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-xiangqi/internal/lock"
	"github.com/park285/cheese-xiangqi/internal/match"
	"github.com/park285/cheese-xiangqi/internal/obslog"
	"github.com/park285/cheese-xiangqi/internal/store"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

// Result kinds.
const (
	KindMatch    = "match"
	KindWatch    = "watch"
	KindRoom     = "room"
	KindPlatform = "platform"
)

type Markers interface {
	PendingSettlement(ctx context.Context, playerID string) (*xiangqidto.SettlementEvent, error)
	ClearPendingSettlement(ctx context.Context, playerID string) error
	KickNotice(ctx context.Context, playerID string) (string, error)
	ClearKickNotice(ctx context.Context, playerID string) error
	Incr(ctx context.Context, counter string) (int64, error)
	Decr(ctx context.Context, counter string) (int64, error)
}

// Rooms renders room state for the replay.
type Rooms interface {
	View(ctx context.Context, roomID string) (*xiangqidto.RoomView, error)
	KickedEvent(roomID string) xiangqidto.KickedEvent
}

type Options struct {
	OfflineTimeout time.Duration
	UserCounter    string
}

type Controller struct {
	store   store.Store
	locks   match.Locker
	matches *match.Controller
	rooms   Rooms
	markers Markers
	events  match.Publisher
	opts    Options

	now func() time.Time
}

func NewController(st store.Store, locks match.Locker, matches *match.Controller, rooms Rooms, markers Markers, events match.Publisher, opts Options) *Controller {
	return &Controller{
		store:   st,
		locks:   locks,
		matches: matches,
		rooms:   rooms,
		markers: markers,
		events:  events,
		opts:    opts,
		now:     time.Now,
	}
}

// keysFor locks the room domain plus the player's match, if any.
func (c *Controller) keysFor(ctx context.Context, playerID string) ([]string, error) {
	keys := []string{lock.RoomDomainKey}
	ps, err := c.store.GetPlayer(ctx, playerID)
	if errors.Is(err, store.ErrNotFound) {
		return keys, nil
	}
	if err != nil {
		return nil, err
	}
	if ps.MatchID != "" {
		keys = append(keys, lock.MatchKey(ps.MatchID))
	}
	return keys, nil
}

// Recover replays a pending settlement, then rebuilds the player's view
// from their session row. A player left on the login page gets
// SessionExpired. Replayed markers are cleared only after the recovery
// commits, so a failed attempt replays them again on retry.
func (c *Controller) Recover(ctx context.Context, playerID string) (*xiangqidto.RecoverView, error) {
	if playerID == "" {
		return nil, xiangqidto.ErrValidation.With("player id is required")
	}
	keys, err := c.keysFor(ctx, playerID)
	if err != nil {
		return nil, err
	}

	var out *xiangqidto.RecoverView
	err = match.Run(ctx, c.locks, c.store, c.events, keys, func(ctx context.Context, ob *match.Outbox) error {
		settled, err := c.markers.PendingSettlement(ctx, playerID)
		if err != nil {
			return err
		}
		kickedFrom, err := c.markers.KickNotice(ctx, playerID)
		if err != nil {
			return err
		}
		if settled != nil {
			ob.ToPlayer(playerID, xiangqidto.EventSettlement, settled)
		}
		if kickedFrom != "" {
			ob.ToPlayer(playerID, xiangqidto.EventKicked, c.rooms.KickedEvent(kickedFrom))
		}
		if settled != nil || kickedFrom != "" {
			ob.After(func(ctx context.Context) { c.clearMarkers(ctx, playerID, settled != nil, kickedFrom != "") })
		}
		ps, err := c.store.GetPlayer(ctx, playerID)
		if errors.Is(err, store.ErrNotFound) {
			return xiangqidto.ErrSessionExpired.With("no session for player")
		}
		if err != nil {
			return err
		}
		out, err = c.dispatch(ctx, ob, ps)
		if err != nil {
			return err
		}
		out.Settlement = settled
		obslog.L().Info("player_recovered",
			zap.String("player_id", playerID),
			zap.String("kind", out.Kind),
			zap.String("page", out.Page),
			zap.Bool("settlement", settled != nil),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Controller) clearMarkers(ctx context.Context, playerID string, settlement, kick bool) {
	if settlement {
		if err := c.markers.ClearPendingSettlement(ctx, playerID); err != nil {
			obslog.L().Warn("settlement_marker_clear_failed", zap.String("player_id", playerID), zap.Error(err))
		}
	}
	if kick {
		if err := c.markers.ClearKickNotice(ctx, playerID); err != nil {
			obslog.L().Warn("kick_notice_clear_failed", zap.String("player_id", playerID), zap.Error(err))
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, ob *match.Outbox, ps *store.PlayerState) (*xiangqidto.RecoverView, error) {
	switch ps.Status {
	case store.PlayerInMatch:
		m, err := c.store.GetMatch(ctx, ps.MatchID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if err == nil && m.Status == store.MatchActive {
			return c.rejoin(ctx, ob, ps)
		}
		// match ended without releasing the seat
		ps.Status, ps.MatchID, ps.Page = store.PlayerInRoom, "", store.RoomPage(ps.JoinType)
		return c.backToRoom(ctx, ob, ps)
	case store.PlayerWatching:
		return c.rewatch(ctx, ps)
	case store.PlayerInRoom:
		return c.backToRoom(ctx, ob, ps)
	}
	if ps.Page == store.PageLogin || ps.Page == "" {
		return nil, xiangqidto.ErrSessionExpired.With("session expired")
	}
	if err := c.markOnline(ctx, ps); err != nil {
		return nil, err
	}
	return &xiangqidto.RecoverView{Kind: KindPlatform, Page: string(ps.Page)}, nil
}

func (c *Controller) markOnline(ctx context.Context, ps *store.PlayerState) error {
	if ps.DisconnectedAt == nil {
		return nil
	}
	ps.DisconnectedAt = nil
	ps.ActionAt = c.now()
	return c.store.SavePlayer(ctx, ps)
}

func (c *Controller) rejoin(ctx context.Context, ob *match.Outbox, ps *store.PlayerState) (*xiangqidto.RecoverView, error) {
	if err := c.markOnline(ctx, ps); err != nil {
		return nil, err
	}
	view, err := c.matches.BoardFor(ctx, ps.MatchID, ps.PlayerID)
	if err != nil {
		return nil, err
	}
	pending, err := c.matches.PendingProposalFor(ctx, ps.MatchID, ps.PlayerID)
	if err != nil {
		return nil, err
	}
	out := &xiangqidto.RecoverView{
		Kind:            KindMatch,
		Page:            string(store.PageBoard),
		Role:            view.MyColor,
		Board:           view,
		PendingProposal: pending,
	}

	parts, err := c.store.Participants(ctx, ps.MatchID)
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		if p.PlayerID == ps.PlayerID {
			continue
		}
		ob.ToPlayer(p.PlayerID, xiangqidto.EventOpponentOnline, xiangqidto.PresenceEvent{MatchID: ps.MatchID, PlayerID: ps.PlayerID})
		opp, err := c.store.GetPlayer(ctx, p.PlayerID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if opp != nil && opp.DisconnectedAt != nil {
			out.OpponentOffline = c.presence(ps.MatchID, opp)
		}
	}
	return out, nil
}

// presence reports an offline player with the seconds left before the
// offline sweeper forfeits them.
func (c *Controller) presence(matchID string, ps *store.PlayerState) *xiangqidto.PresenceEvent {
	left := c.opts.OfflineTimeout - c.now().Sub(*ps.DisconnectedAt)
	if left < 0 {
		left = 0
	}
	at := *ps.DisconnectedAt
	return &xiangqidto.PresenceEvent{
		MatchID:        matchID,
		PlayerID:       ps.PlayerID,
		DisconnectedAt: &at,
		TimeoutSeconds: int((left + time.Second - 1) / time.Second),
	}
}

func (c *Controller) rewatch(ctx context.Context, ps *store.PlayerState) (*xiangqidto.RecoverView, error) {
	if err := c.markOnline(ctx, ps); err != nil {
		return nil, err
	}
	out := &xiangqidto.RecoverView{Kind: KindWatch, Page: string(store.PageWatch), Role: "watcher"}
	room, err := c.store.GetRoom(ctx, ps.RoomID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err == nil && room.Status == store.RoomInMatch && room.MatchID != "" {
		if out.Board, err = c.matches.BoardFor(ctx, room.MatchID, ps.PlayerID); err != nil {
			return nil, err
		}
	} else {
		out.WatchedEnded = true
	}
	if out.Room, err = c.rooms.View(ctx, ps.RoomID); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Controller) backToRoom(ctx context.Context, ob *match.Outbox, ps *store.PlayerState) (*xiangqidto.RecoverView, error) {
	ps.DisconnectedAt = nil
	ps.ActionAt = c.now()
	if err := c.store.SavePlayer(ctx, ps); err != nil {
		return nil, err
	}
	view, err := c.rooms.View(ctx, ps.RoomID)
	if err != nil {
		return nil, err
	}
	ob.ToRoom(ps.RoomID, xiangqidto.EventRoomChanged, view)
	return &xiangqidto.RecoverView{Kind: KindRoom, Page: string(ps.Page), Room: view}, nil
}

// Connect counts a new live connection.
func (c *Controller) Connect(ctx context.Context, playerID string) {
	if _, err := c.markers.Incr(ctx, c.opts.UserCounter); err != nil {
		obslog.L().Warn("user_counter_failed", zap.String("player_id", playerID), zap.Error(err))
	}
}

// Disconnect records when the player dropped and tells whoever shares
// their table.
func (c *Controller) Disconnect(ctx context.Context, playerID string) error {
	if _, err := c.markers.Decr(ctx, c.opts.UserCounter); err != nil {
		obslog.L().Warn("user_counter_failed", zap.String("player_id", playerID), zap.Error(err))
	}
	keys, err := c.keysFor(ctx, playerID)
	if err != nil {
		return err
	}
	return match.Run(ctx, c.locks, c.store, c.events, keys, func(ctx context.Context, ob *match.Outbox) error {
		ps, err := c.store.GetPlayer(ctx, playerID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if ps.DisconnectedAt == nil {
			now := c.now()
			ps.DisconnectedAt = &now
			if err := c.store.SavePlayer(ctx, ps); err != nil {
				return err
			}
		}
		switch ps.Status {
		case store.PlayerInMatch:
			parts, err := c.store.Participants(ctx, ps.MatchID)
			if err != nil {
				return err
			}
			for _, p := range parts {
				if p.PlayerID != playerID {
					ob.ToPlayer(p.PlayerID, xiangqidto.EventOpponentOffline, c.presence(ps.MatchID, ps))
				}
			}
		case store.PlayerInRoom:
			view, err := c.rooms.View(ctx, ps.RoomID)
			if err != nil {
				return err
			}
			ob.ToRoom(ps.RoomID, xiangqidto.EventRoomChanged, view)
		}
		obslog.L().Info("player_disconnected", zap.String("player_id", playerID), zap.String("status", string(ps.Status)))
		return nil
	})
}

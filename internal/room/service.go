// Package room seats players: joining and leaving tables, readiness,
// kicks and spectators. Two ready players in one room start a match.
package room

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-xiangqi/internal/lock"
	"github.com/park285/cheese-xiangqi/internal/match"
	"github.com/park285/cheese-xiangqi/internal/msgcat"
	"github.com/park285/cheese-xiangqi/internal/obslog"
	"github.com/park285/cheese-xiangqi/internal/store"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

// Seats per table.
const MaxSeats = 2

// Markers is the slice of the shared cache the room service uses.
type Markers interface {
	MarkKicked(ctx context.Context, roomID, playerID string, ttl time.Duration) error
	KickRemaining(ctx context.Context, roomID, playerID string) (time.Duration, error)
	SetKickNotice(ctx context.Context, playerID, roomID string, ttl time.Duration) error
	AddLobby(ctx context.Context, roomID string) error
	RemoveLobby(ctx context.Context, roomID string) error
	Lobby(ctx context.Context) ([]string, error)
}

type Options struct {
	MaxRooms          int
	KickLimit         time.Duration
	DisconnectTimeout time.Duration
}

type Service struct {
	store   store.Store
	locks   match.Locker
	matches *match.Controller
	markers Markers
	events  match.Publisher
	msgs    *msgcat.Catalog
	opts    Options

	now func() time.Time
}

func NewService(st store.Store, locks match.Locker, matches *match.Controller, markers Markers, events match.Publisher, msgs *msgcat.Catalog, opts Options) *Service {
	return &Service{
		store:   st,
		locks:   locks,
		matches: matches,
		markers: markers,
		events:  events,
		msgs:    msgs,
		opts:    opts,
		now:     time.Now,
	}
}

func (s *Service) run(ctx context.Context, fn func(ctx context.Context, ob *match.Outbox) error) error {
	return match.Run(ctx, s.locks, s.store, s.events, []string{lock.RoomDomainKey}, fn)
}

func (s *Service) player(ctx context.Context, playerID string) (*store.PlayerState, error) {
	if playerID == "" {
		return nil, xiangqidto.ErrValidation.With("player id is required")
	}
	ps, err := s.store.GetPlayer(ctx, playerID)
	if errors.Is(err, store.ErrNotFound) {
		return &store.PlayerState{PlayerID: playerID, Status: store.PlayerPlatform, Page: store.PagePlatform}, nil
	}
	return ps, err
}

// Join seats playerID in roomID. An empty roomID picks an open table from
// the lobby, or a fresh one when none is open.
func (s *Service) Join(ctx context.Context, roomID, playerID, joinType string) (*xiangqidto.RoomView, error) {
	if joinType != store.JoinRandom {
		joinType = store.JoinFreedom
	}
	var view *xiangqidto.RoomView
	err := s.run(ctx, func(ctx context.Context, ob *match.Outbox) error {
		ps, err := s.player(ctx, playerID)
		if err != nil {
			return err
		}
		if ps.Status == store.PlayerInMatch {
			return xiangqidto.ErrConflict.With("already playing a match")
		}
		if roomID == "" {
			if roomID, err = s.pickRoom(ctx, playerID); err != nil {
				return err
			}
		}
		if ps.RoomID == roomID && ps.Status == store.PlayerInRoom {
			view, err = s.view(ctx, roomID)
			return err
		}

		left, err := s.kickRemaining(ctx, roomID, playerID)
		if err != nil {
			return err
		}
		if left > 0 {
			secs := int(math.Ceil(left.Seconds()))
			return xiangqidto.ErrConflict.With(s.msgs.Text("room.kicked", map[string]int{"Seconds": secs}, "kicked from this room"))
		}

		room, err := s.store.GetRoom(ctx, roomID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			room = &store.Room{ID: roomID, Status: store.RoomEmpty, CreatedAt: s.now()}
		case err != nil:
			return err
		}
		seated, err := s.store.PlayersInRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if len(seated) >= MaxSeats {
			return xiangqidto.ErrConflict.With(s.msgs.Text("room.full", nil, "room is full"))
		}
		if len(seated) == 0 && room.Status == store.RoomEmpty && s.opts.MaxRooms > 0 {
			open, err := s.store.CountOccupiedRooms(ctx)
			if err != nil {
				return err
			}
			if open >= s.opts.MaxRooms {
				return xiangqidto.ErrRateLimited.With(s.msgs.Text("room.limit", nil, "no free rooms"))
			}
		}

		if ps.RoomID != "" && ps.RoomID != roomID {
			if err := s.vacate(ctx, ob, ps, store.PagePlatform); err != nil {
				return err
			}
		}

		first := len(seated) == 0
		ps.Status = store.PlayerInRoom
		ps.Page = store.RoomPage(joinType)
		ps.RoomID = roomID
		ps.MatchID = ""
		ps.JoinType = joinType
		ps.IsReady = false
		ps.IsFirst = first
		ps.IsRoomAdmin = first
		ps.DisconnectedAt = nil
		ps.ActionAt = s.now()
		if err := s.store.SavePlayer(ctx, ps); err != nil {
			return err
		}

		room.Status = store.RoomWaiting
		if !first {
			room.Status = store.RoomMultipleWaiting
		}
		room.MatchID = ""
		room.UpdatedAt = s.now()
		if err := s.store.SaveRoom(ctx, room); err != nil {
			return err
		}
		s.syncLobby(ob, roomID, first)

		if view, err = s.view(ctx, roomID); err != nil {
			return err
		}
		ob.ToRoom(roomID, xiangqidto.EventRoomChanged, view)
		obslog.L().Info("room_joined", zap.String("room_id", roomID), zap.String("player_id", playerID), zap.Bool("admin", first))
		return nil
	})
	return view, err
}

func (s *Service) kickRemaining(ctx context.Context, roomID, playerID string) (time.Duration, error) {
	if s.markers == nil {
		return 0, nil
	}
	return s.markers.KickRemaining(ctx, roomID, playerID)
}

// pickRoom prefers an open table the player was not kicked from.
func (s *Service) pickRoom(ctx context.Context, playerID string) (string, error) {
	if s.markers != nil {
		open, err := s.markers.Lobby(ctx)
		if err != nil {
			return "", err
		}
		for _, id := range open {
			left, err := s.markers.KickRemaining(ctx, id, playerID)
			if err != nil {
				return "", err
			}
			seated, err := s.store.PlayersInRoom(ctx, id)
			if err != nil {
				return "", err
			}
			if left == 0 && len(seated) > 0 && len(seated) < MaxSeats {
				return id, nil
			}
		}
	}
	for n := 1; s.opts.MaxRooms <= 0 || n <= s.opts.MaxRooms; n++ {
		id := roomName(n)
		room, err := s.store.GetRoom(ctx, id)
		if errors.Is(err, store.ErrNotFound) || (err == nil && room.Status == store.RoomEmpty) {
			return id, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", xiangqidto.ErrRateLimited.With(s.msgs.Text("room.limit", nil, "no free rooms"))
}

func roomName(n int) string { return strconv.Itoa(n) }

func (s *Service) syncLobby(ob *match.Outbox, roomID string, open bool) {
	if s.markers == nil {
		return
	}
	ob.After(func(ctx context.Context) {
		var err error
		if open {
			err = s.markers.AddLobby(ctx, roomID)
		} else {
			err = s.markers.RemoveLobby(ctx, roomID)
		}
		if err != nil {
			obslog.L().Warn("lobby_sync_failed", zap.String("room_id", roomID), zap.Error(err))
		}
	})
}

// Leave takes the player out of their room. Leaving during a match
// concedes it first.
func (s *Service) Leave(ctx context.Context, playerID string) error {
	ps, err := s.player(ctx, playerID)
	if err != nil {
		return err
	}
	prev := ps.RoomID
	if ps.Status == store.PlayerInMatch && ps.MatchID != "" {
		if _, err := s.matches.Leave(ctx, ps.MatchID, playerID); err != nil && !errors.Is(err, xiangqidto.ErrStaleMatch) {
			return err
		}
	}
	return s.run(ctx, func(ctx context.Context, ob *match.Outbox) error {
		ps, err := s.player(ctx, playerID)
		if err != nil {
			return err
		}
		if ps.Status == store.PlayerInMatch {
			return xiangqidto.ErrConflict.With("match still running")
		}
		if ps.RoomID != "" {
			return s.vacate(ctx, ob, ps, store.PagePlatform)
		}
		if prev == "" {
			return nil
		}
		// settlement already released the seat
		view, err := s.view(ctx, prev)
		if err != nil {
			return err
		}
		s.syncLobby(ob, prev, len(view.Seats) > 0)
		ob.ToRoom(prev, xiangqidto.EventRoomChanged, view)
		return nil
	})
}

// vacate resets ps to page and hands the room to whoever is left.
func (s *Service) vacate(ctx context.Context, ob *match.Outbox, ps *store.PlayerState, page store.Page) error {
	roomID := ps.RoomID
	wasSeated := ps.Status == store.PlayerInRoom
	ps.ResetToPlatform(page)
	ps.ActionAt = s.now()
	if err := s.store.SavePlayer(ctx, ps); err != nil {
		return err
	}
	if wasSeated {
		seated, err := s.store.PlayersInRoom(ctx, roomID)
		if err != nil {
			return err
		}
		room, err := s.store.GetRoom(ctx, roomID)
		if errors.Is(err, store.ErrNotFound) {
			room = &store.Room{ID: roomID, CreatedAt: s.now()}
		} else if err != nil {
			return err
		}
		room.Status, room.MatchID = store.RoomEmpty, ""
		for i := range seated {
			other := &seated[i]
			other.IsRoomAdmin, other.IsFirst, other.IsReady = true, true, false
			if err := s.store.SavePlayer(ctx, other); err != nil {
				return err
			}
			room.Status = store.RoomWaiting
		}
		room.UpdatedAt = s.now()
		if err := s.store.SaveRoom(ctx, room); err != nil {
			return err
		}
		s.syncLobby(ob, roomID, len(seated) > 0)
	}
	view, err := s.view(ctx, roomID)
	if err != nil {
		return err
	}
	ob.ToRoom(roomID, xiangqidto.EventRoomChanged, view)
	obslog.L().Info("room_left", zap.String("room_id", roomID), zap.String("player_id", ps.PlayerID), zap.String("page", string(page)))
	return nil
}

// Ready marks the player ready. When both seats are ready a match starts.
func (s *Service) Ready(ctx context.Context, roomID, playerID string) (*xiangqidto.RoomView, error) {
	var view *xiangqidto.RoomView
	err := s.run(ctx, func(ctx context.Context, ob *match.Outbox) error {
		ps, err := s.player(ctx, playerID)
		if err != nil {
			return err
		}
		if ps.Status != store.PlayerInRoom || ps.RoomID != roomID {
			return xiangqidto.ErrValidation.With("not seated in this room")
		}
		if ps.IsReady {
			return xiangqidto.ErrConflict.With("already ready")
		}
		ps.IsReady = true
		ps.ActionAt = s.now()
		if err := s.store.SavePlayer(ctx, ps); err != nil {
			return err
		}

		seated, err := s.store.PlayersInRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if len(seated) == MaxSeats && seated[0].IsReady && seated[1].IsReady {
			if err := s.start(ctx, ob, roomID, seated); err != nil {
				return err
			}
		}
		if view, err = s.view(ctx, roomID); err != nil {
			return err
		}
		ob.ToRoom(roomID, xiangqidto.EventRoomChanged, view)
		return nil
	})
	return view, err
}

func (s *Service) start(ctx context.Context, ob *match.Outbox, roomID string, seated []store.PlayerState) error {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status == store.RoomInMatch {
		return nil
	}
	red, black := seated[0], seated[1]
	if black.IsFirst && !red.IsFirst {
		red, black = black, red
	}
	m, err := s.matches.Create(ctx, ob, roomID, red.PlayerID, black.PlayerID)
	if err != nil {
		return err
	}
	for _, p := range []store.PlayerState{red, black} {
		p.Status = store.PlayerInMatch
		p.Page = store.PageBoard
		p.MatchID = m.ID
		p.IsReady = false
		p.IsFirst = p.PlayerID == red.PlayerID
		p.ActionAt = s.now()
		if err := s.store.SavePlayer(ctx, &p); err != nil {
			return err
		}
	}
	room.Status = store.RoomInMatch
	room.MatchID = m.ID
	room.UpdatedAt = s.now()
	if err := s.store.SaveRoom(ctx, room); err != nil {
		return err
	}
	s.syncLobby(ob, roomID, false)
	return nil
}

// Kick removes targetID from the admin's room and bars them for KickLimit.
func (s *Service) Kick(ctx context.Context, adminID, targetID string) error {
	return s.run(ctx, func(ctx context.Context, ob *match.Outbox) error {
		admin, err := s.player(ctx, adminID)
		if err != nil {
			return err
		}
		if admin.Status != store.PlayerInRoom || !admin.IsRoomAdmin {
			return xiangqidto.ErrValidation.With("only the room admin can kick")
		}
		target, err := s.player(ctx, targetID)
		if err != nil {
			return err
		}
		if targetID == adminID || target.RoomID != admin.RoomID || target.Status != store.PlayerInRoom {
			return xiangqidto.ErrNotFound.With("player is not seated in your room")
		}
		roomID := admin.RoomID
		offline := target.DisconnectedAt != nil
		if err := s.vacate(ctx, ob, target, store.PagePlatform); err != nil {
			return err
		}
		if s.markers != nil {
			ob.After(func(ctx context.Context) {
				if err := s.markers.MarkKicked(ctx, roomID, targetID, s.opts.KickLimit); err != nil {
					obslog.L().Warn("kick_marker_failed", zap.String("room_id", roomID), zap.Error(err))
				}
				if !offline {
					return
				}
				if err := s.markers.SetKickNotice(ctx, targetID, roomID, s.opts.DisconnectTimeout); err != nil {
					obslog.L().Warn("kick_notice_failed", zap.String("player_id", targetID), zap.Error(err))
				}
			})
		}
		ob.ToPlayer(targetID, xiangqidto.EventKicked, s.KickedEvent(roomID))
		obslog.L().Info("room_kicked", zap.String("room_id", roomID), zap.String("admin_id", adminID), zap.String("player_id", targetID))
		return nil
	})
}

// KickedEvent is the notice sent to a kicked player.
func (s *Service) KickedEvent(roomID string) xiangqidto.KickedEvent {
	secs := int(s.opts.KickLimit / time.Second)
	return xiangqidto.KickedEvent{
		RoomID:  roomID,
		Seconds: secs,
		Message: s.msgs.Text("room.kicked", map[string]int{"Seconds": secs}, "kicked from the room"),
	}
}

// Watch makes the player a spectator of roomID and returns the room and,
// while a match runs there, its board.
func (s *Service) Watch(ctx context.Context, roomID, playerID string) (*xiangqidto.RecoverView, error) {
	var out *xiangqidto.RecoverView
	err := s.run(ctx, func(ctx context.Context, ob *match.Outbox) error {
		ps, err := s.player(ctx, playerID)
		if err != nil {
			return err
		}
		if ps.Status == store.PlayerInMatch {
			return xiangqidto.ErrConflict.With("already playing a match")
		}
		room, err := s.store.GetRoom(ctx, roomID)
		if errors.Is(err, store.ErrNotFound) {
			return xiangqidto.ErrNotFound.With("room not found")
		}
		if err != nil {
			return err
		}
		if ps.RoomID != "" && ps.RoomID != roomID {
			if err := s.vacate(ctx, ob, ps, store.PagePlatform); err != nil {
				return err
			}
		}
		ps.Status = store.PlayerWatching
		ps.Page = store.PageWatch
		ps.RoomID = roomID
		ps.MatchID = room.MatchID
		ps.IsReady, ps.IsFirst, ps.IsRoomAdmin = false, false, false
		ps.ActionAt = s.now()
		if err := s.store.SavePlayer(ctx, ps); err != nil {
			return err
		}
		out = &xiangqidto.RecoverView{Kind: "watch", Page: string(store.PageWatch), Role: "watcher"}
		if room.Status == store.RoomInMatch && room.MatchID != "" {
			if out.Board, err = s.matches.BoardFor(ctx, room.MatchID, playerID); err != nil {
				return err
			}
		}
		if out.Room, err = s.view(ctx, roomID); err != nil {
			return err
		}
		ob.ToRoom(roomID, xiangqidto.EventRoomChanged, out.Room)
		obslog.L().Info("room_watch", zap.String("room_id", roomID), zap.String("player_id", playerID))
		return nil
	})
	return out, err
}

// Evict removes a long-disconnected player from their room and sends them
// back to the login page. Players in a match are left to the match sweeper.
func (s *Service) Evict(ctx context.Context, playerID string) error {
	return s.run(ctx, func(ctx context.Context, ob *match.Outbox) error {
		ps, err := s.player(ctx, playerID)
		if err != nil {
			return err
		}
		if ps.DisconnectedAt == nil || ps.Status == store.PlayerInMatch {
			return nil
		}
		if ps.RoomID == "" {
			ps.ResetToPlatform(store.PageLogin)
			return s.store.SavePlayer(ctx, ps)
		}
		return s.vacate(ctx, ob, ps, store.PageLogin)
	})
}

// View describes a room without taking the room lock.
func (s *Service) View(ctx context.Context, roomID string) (*xiangqidto.RoomView, error) {
	return s.view(ctx, roomID)
}

func (s *Service) view(ctx context.Context, roomID string) (*xiangqidto.RoomView, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		room = &store.Room{ID: roomID, Status: store.RoomEmpty}
	} else if err != nil {
		return nil, err
	}
	seated, err := s.store.PlayersInRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	watchers, err := s.store.WatchersOf(ctx, roomID)
	if err != nil {
		return nil, err
	}
	v := &xiangqidto.RoomView{
		RoomID:     roomID,
		Status:     string(room.Status),
		Seats:      make([]xiangqidto.SeatView, 0, len(seated)),
		Spectators: len(watchers),
		MatchID:    room.MatchID,
	}
	for _, p := range seated {
		v.Seats = append(v.Seats, xiangqidto.SeatView{
			PlayerID: p.PlayerID,
			IsReady:  p.IsReady,
			IsFirst:  p.IsFirst,
			IsAdmin:  p.IsRoomAdmin,
			Online:   p.DisconnectedAt == nil,
		})
	}
	return v, nil
}

// List returns the tables waiting for a second player.
func (s *Service) List(ctx context.Context) ([]xiangqidto.RoomView, error) {
	if s.markers == nil {
		return nil, nil
	}
	ids, err := s.markers.Lobby(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]xiangqidto.RoomView, 0, len(ids))
	for _, id := range ids {
		v, err := s.view(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(v.Seats) == 0 {
			continue
		}
		out = append(out, *v)
	}
	return out, nil
}

// Package match owns every mutation of a running match: moves, proposals,
// resignation, settlement and clock expiry. Each operation runs under the
// match lock and inside one store transaction; events and in-memory side
// effects are released only after the transaction committed.
package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-xiangqi/internal/board"
	"github.com/park285/cheese-xiangqi/internal/clock"
	"github.com/park285/cheese-xiangqi/internal/lock"
	"github.com/park285/cheese-xiangqi/internal/msgcat"
	"github.com/park285/cheese-xiangqi/internal/obslog"
	"github.com/park285/cheese-xiangqi/internal/rules"
	"github.com/park285/cheese-xiangqi/internal/store"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

// Locker serialises work on a set of keys across instances.
type Locker interface {
	Do(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, ev xiangqidto.Event) error
}

// Markers is the slice of the shared cache the controller writes to.
type Markers interface {
	SetPendingSettlement(ctx context.Context, playerID string, ev *xiangqidto.SettlementEvent) error
	Incr(ctx context.Context, counter string) (int64, error)
	Decr(ctx context.Context, counter string) (int64, error)
}

type Options struct {
	ProposalCooldown   time.Duration
	MaxTakebacks       int
	PerpetualSingle    int
	PerpetualAggregate int
	BattleCounter      string
}

func DefaultOptions() Options {
	return Options{
		ProposalCooldown:   60 * time.Second,
		MaxTakebacks:       3,
		PerpetualSingle:    6,
		PerpetualAggregate: 10,
		BattleCounter:      "battles",
	}
}

type Controller struct {
	store     store.Store
	locks     Locker
	clocks    *clock.Registry
	perpetual *rules.PerpetualTracker
	markers   Markers
	events    Publisher
	msgs      *msgcat.Catalog
	opts      Options

	now func() time.Time
}

func NewController(st store.Store, locks Locker, clocks *clock.Registry, markers Markers, events Publisher, msgs *msgcat.Catalog, opts Options) *Controller {
	return &Controller{
		store:     st,
		locks:     locks,
		clocks:    clocks,
		perpetual: rules.NewPerpetualTracker(opts.PerpetualSingle, opts.PerpetualAggregate),
		markers:   markers,
		events:    events,
		msgs:      msgs,
		opts:      opts,
		now:       time.Now,
	}
}

func (c *Controller) Clocks() *clock.Registry { return c.clocks }

// Outbox collects the events and in-memory effects of one locked operation.
type Outbox struct {
	events []xiangqidto.Event
	after  []func(ctx context.Context)
}

func (o *Outbox) emit(kind, target, typ string, data any) {
	o.events = append(o.events, xiangqidto.Event{Type: typ, TargetKind: kind, Target: target, Data: data})
}

func (o *Outbox) ToPlayer(playerID, typ string, data any) {
	if playerID != "" {
		o.emit(xiangqidto.TargetPlayer, playerID, typ, data)
	}
}

func (o *Outbox) ToRoom(roomID, typ string, data any) {
	o.emit(xiangqidto.TargetRoom, roomID, typ, data)
}

func (o *Outbox) ToWatchers(roomID, typ string, data any) {
	o.emit(xiangqidto.TargetWatchers, roomID, typ, data)
}

func (o *Outbox) ToAll(typ string, data any) {
	o.emit(xiangqidto.TargetAll, "", typ, data)
}

// After registers fn to run once the transaction committed.
func (o *Outbox) After(fn func(ctx context.Context)) {
	o.after = append(o.after, fn)
}

func (o *Outbox) Events() []xiangqidto.Event { return o.events }

// Flush applies the deferred effects, then publishes the events in order.
func (o *Outbox) Flush(ctx context.Context, pub Publisher) {
	for _, fn := range o.after {
		fn(ctx)
	}
	if pub == nil {
		return
	}
	for _, ev := range o.events {
		if err := pub.Publish(ctx, ev); err != nil {
			obslog.L().Warn("event_publish_failed", zap.String("type", ev.Type), zap.String("target", ev.Target), zap.Error(err))
		}
	}
}

// Run executes fn under keys and one transaction, flushing its outbox on success.
func Run(ctx context.Context, locks Locker, st store.Store, pub Publisher, keys []string, fn func(ctx context.Context, ob *Outbox) error) error {
	return locks.Do(ctx, keys, func(ctx context.Context) error {
		ob := &Outbox{}
		if err := st.InTx(ctx, func(ctx context.Context) error { return fn(ctx, ob) }); err != nil {
			return err
		}
		ob.Flush(ctx, pub)
		return nil
	})
}

// run holds the match key and the room domain: settling rewrites the room
// and player rows that room operations write too.
func (c *Controller) run(ctx context.Context, matchID string, fn func(ctx context.Context, ob *Outbox) error) error {
	if matchID == "" {
		return xiangqidto.ErrValidation.With("match id is required")
	}
	return Run(ctx, c.locks, c.store, c.events, []string{lock.RoomDomainKey, lock.MatchKey(matchID)}, fn)
}

// read holds only the match key; fn must not settle.
func (c *Controller) read(ctx context.Context, matchID string, fn func(ctx context.Context, ob *Outbox) error) error {
	if matchID == "" {
		return xiangqidto.ErrValidation.With("match id is required")
	}
	return Run(ctx, c.locks, c.store, c.events, []string{lock.MatchKey(matchID)}, fn)
}

// session is a match as loaded at the start of an operation.
type session struct {
	match  *store.Match
	parts  []store.Participant
	last   *store.MoveRecord
	pieces []board.Piece
}

func (s *session) toAct() board.Color { return s.last.ToAct() }

func (s *session) seat(playerID string) (me, opp store.Participant, ok bool) {
	for _, p := range s.parts {
		if p.PlayerID == playerID {
			me, ok = p, true
		} else {
			opp = p
		}
	}
	return me, opp, ok
}

func (s *session) byColor(color board.Color) store.Participant {
	for _, p := range s.parts {
		if p.Color == color {
			return p
		}
	}
	return store.Participant{}
}

func notFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return xiangqidto.ErrNotFound.With(what + " not found")
	}
	return err
}

func (c *Controller) load(ctx context.Context, matchID string) (*session, error) {
	m, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, notFound(err, "match")
	}
	parts, err := c.store.Participants(ctx, matchID)
	if err != nil {
		return nil, notFound(err, "participants")
	}
	last, err := c.store.LatestMove(ctx, matchID)
	if err != nil {
		return nil, notFound(err, "move record")
	}
	pieces, _, err := board.Decode(last.Position)
	if err != nil {
		obslog.L().Error("position_decode_failed", zap.String("match_id", matchID), zap.Int("step", last.Step), zap.Error(err))
		return nil, xiangqidto.ErrMalformedPosition.With(err.Error())
	}
	return &session{match: m, parts: parts, last: last, pieces: pieces}, nil
}

// loadSeat loads an active match and the caller's seat in it.
func (c *Controller) loadSeat(ctx context.Context, matchID, playerID string) (*session, store.Participant, store.Participant, error) {
	s, err := c.load(ctx, matchID)
	if err != nil {
		return nil, store.Participant{}, store.Participant{}, err
	}
	if s.match.Status != store.MatchActive {
		return nil, store.Participant{}, store.Participant{}, xiangqidto.ErrStaleMatch.With(fmt.Sprintf("match is %s", s.match.Status))
	}
	me, opp, ok := s.seat(playerID)
	if !ok {
		return nil, store.Participant{}, store.Participant{}, xiangqidto.ErrValidation.With("not a participant of this match")
	}
	return s, me, opp, nil
}

// recompute derives the clock from the latest record and the time elapsed since.
func (c *Controller) recompute(last *store.MoveRecord) clock.State {
	st := clock.Recompute(last.Red, last.Black, last.ToAct(), last.CreatedAt, c.now(), c.clocks.Limits())
	st.AtStep = last.Step
	return st
}

// liveClock is the hosted clock while it still runs from last, else the
// clock recomputed from last.
func (c *Controller) liveClock(matchID string, last *store.MoveRecord) (clock.State, bool) {
	if st, ok := c.clocks.Get(matchID); ok && st.Follows(last.Step, last.ToAct()) {
		return st, true
	}
	return c.recompute(last), false
}

// clockFor returns the live clock. A clock this process does not host, or
// one left behind by a move applied elsewhere, is re-adopted from last.
func (c *Controller) clockFor(matchID string, last *store.MoveRecord) clock.State {
	st, hosted := c.liveClock(matchID, last)
	if !hosted {
		c.clocks.Put(matchID, st)
		obslog.L().Info("clock_adopted", zap.String("match_id", matchID), zap.Int("step", last.Step))
	}
	return st
}

// RecoverClocks rebuilds the clocks of every active match after a restart.
func (c *Controller) RecoverClocks(ctx context.Context) (int, error) {
	matches, err := c.store.ActiveMatches(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range matches {
		last, err := c.store.LatestMove(ctx, m.ID)
		if err != nil {
			obslog.L().Warn("clock_recover_skipped", zap.String("match_id", m.ID), zap.Error(err))
			continue
		}
		c.clocks.Put(m.ID, c.recompute(last))
		n++
	}
	obslog.L().Info("clocks_recovered", zap.Int("count", n))
	return n, nil
}

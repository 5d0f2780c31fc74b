package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/park285/cheese-xiangqi/internal/board"
	"github.com/park285/cheese-xiangqi/internal/clock"
	"github.com/park285/cheese-xiangqi/internal/store"
)

func TestTransitionMatchOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateMatch(ctx, &store.Match{ID: "m1", Status: store.MatchActive}, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	res := store.MatchResult{Code: "resign", WinnerID: "a"}
	ok, err := s.TransitionMatch(ctx, "m1", store.MatchActive, store.MatchSettled, res)
	if err != nil || !ok {
		t.Fatalf("first transition: ok=%v err=%v", ok, err)
	}
	ok, err = s.TransitionMatch(ctx, "m1", store.MatchActive, store.MatchSettled, res)
	if err != nil || ok {
		t.Fatalf("second transition should be a no-op: ok=%v err=%v", ok, err)
	}
	m, _ := s.GetMatch(ctx, "m1")
	if m.Status != store.MatchSettled || m.WinnerID != "a" {
		t.Fatalf("unexpected match %+v", m)
	}
}

func TestMovesAreContiguous(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec := func(step int) *store.MoveRecord {
		return &store.MoveRecord{MatchID: "m1", Step: step, Position: board.InitialPosition(), Red: clock.Side{Total: 1200, Step: 120}}
	}
	if err := s.AppendMove(ctx, rec(1)); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for a gap, got %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.AppendMove(ctx, rec(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := s.AppendMove(ctx, rec(2)); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for a duplicate step, got %v", err)
	}
	if err := s.DeleteLatestMove(ctx, "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	last, err := s.LatestMove(ctx, "m1")
	if err != nil || last.Step != 1 {
		t.Fatalf("latest after delete: %+v %v", last, err)
	}
	_ = s.DeleteLatestMove(ctx, "m1")
	if err := s.DeleteLatestMove(ctx, "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("initial record must not be deleted, got %v", err)
	}
}

func TestProposalLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	p := &store.Proposal{ID: "p1", MatchID: "m1", PlayerID: "a", Kind: store.ProposalTakeback, Result: store.ProposalPending, CreatedAt: now}
	if err := s.CreateProposal(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got, err := s.PendingProposal(ctx, "m1", store.ProposalTakeback); err != nil || got.ID != "p1" {
		t.Fatalf("pending: %+v %v", got, err)
	}
	if err := s.ResolveProposal(ctx, "p1", store.ProposalAccepted, now); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := s.ResolveProposal(ctx, "p1", store.ProposalRejected, now); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("double resolve should conflict, got %v", err)
	}
	if _, err := s.PendingProposal(ctx, "m1", store.ProposalTakeback); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no pending proposal, got %v", err)
	}
	n, _ := s.CountProposals(ctx, "m1", "a", store.ProposalTakeback, store.ProposalAccepted)
	if n != 1 {
		t.Fatalf("accepted count = %d", n)
	}
}

func TestRatingsAccumulate(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.RecordResult(ctx, "a", 15, store.OutcomeWin)
	_ = s.RecordResult(ctx, "a", -13, store.OutcomeLoss)
	_ = s.RecordResult(ctx, "a", 0, store.OutcomeDraw)
	r, _ := s.GetRating(ctx, "a")
	if r.Score != 2 || r.Games != 3 || r.Wins != 1 || r.Losses != 1 || r.Draws != 1 {
		t.Fatalf("unexpected rating %+v", r)
	}
}

func TestPlayerQueries(t *testing.T) {
	ctx := context.Background()
	s := New()
	old := time.Now().Add(-2 * time.Minute)
	_ = s.SavePlayer(ctx, &store.PlayerState{PlayerID: "a", Status: store.PlayerInMatch, RoomID: "r1", DisconnectedAt: &old})
	_ = s.SavePlayer(ctx, &store.PlayerState{PlayerID: "b", Status: store.PlayerInMatch, RoomID: "r1"})
	_ = s.SavePlayer(ctx, &store.PlayerState{PlayerID: "c", Status: store.PlayerWatching, RoomID: "r1"})

	in, _ := s.PlayersInRoom(ctx, "r1")
	if len(in) != 2 || in[0].PlayerID != "a" || in[1].PlayerID != "b" {
		t.Fatalf("players in room: %+v", in)
	}
	off, _ := s.DisconnectedBefore(ctx, store.PlayerInMatch, time.Now().Add(-90*time.Second))
	if len(off) != 1 || off[0].PlayerID != "a" {
		t.Fatalf("disconnected: %+v", off)
	}
}

package clock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/cheese-xiangqi/internal/board"
)

func testLimits() Limits { return Limits{Total: 10, Step: 5, Read: 3} }

func TestStartSeedsBothSides(t *testing.T) {
	r := NewRegistry(testLimits())
	st := r.Start("m1", board.Red)
	if st.Red != (Side{10, 5}) || st.Black != (Side{10, 5}) || st.ToAct != board.Red {
		t.Fatalf("unexpected start state: %+v", st)
	}
}

func TestTickDebitsOnlySideToAct(t *testing.T) {
	r := NewRegistry(testLimits())
	r.Start("m1", board.Red)
	r.Tick()
	st, _ := r.Get("m1")
	if st.Red != (Side{9, 4}) {
		t.Fatalf("red after tick: %+v", st.Red)
	}
	if st.Black != (Side{10, 5}) {
		t.Fatalf("black should not move: %+v", st.Black)
	}
}

// handover moves the turn the way a committed move does.
func handover(r *Registry, id string) State {
	st, _ := r.Get(id)
	st = r.Limits().Handover(st, st.AtStep+1)
	r.Put(id, st)
	return st
}

func TestTicksAreMonotonicUntilTurnChange(t *testing.T) {
	r := NewRegistry(Limits{Total: 7, Step: 5, Read: 3})
	r.Start("m1", board.Red)
	prev := 7 + 5
	for i := 0; i < 4; i++ {
		r.Tick()
		st, _ := r.Get("m1")
		sum := st.Red.Total + st.Red.Step
		if sum > prev {
			t.Fatalf("tick %d increased red time: %d -> %d", i, prev, sum)
		}
		prev = sum
	}
	st := handover(r, "m1")
	if st.ToAct != board.Black || st.Black.Step != 5 || st.AtStep != 1 {
		t.Fatalf("black should start a fresh step: %+v", st)
	}
	if st.Red != (Side{3, 1}) {
		t.Fatalf("mover keeps what it had left: %+v", st.Red)
	}

	// red total runs dry on its next turn and the step is capped to read-seconds
	st = handover(r, "m1")
	if st.Red.Step != 5 || st.Red.Total != 3 || st.AtStep != 2 {
		t.Fatalf("red fresh turn: %+v", st)
	}
	prev = st.Red.Total + st.Red.Step
	for i := 0; i < 3; i++ {
		r.Tick()
		st, _ = r.Get("m1")
		if sum := st.Red.Total + st.Red.Step; sum > prev {
			t.Fatalf("tick increased red time: %d -> %d", prev, sum)
		} else {
			prev = sum
		}
	}
	if st.Red.Total != 0 || st.Red.Step != 2 {
		t.Fatalf("after exhausting total: %+v", st.Red)
	}

	// once exhausted a new turn starts at read-seconds
	handover(r, "m1")
	st = handover(r, "m1")
	if st.Red.Step != 3 {
		t.Fatalf("read-seconds turn: %+v", st.Red)
	}
	if !st.Follows(4, board.Red) || st.Follows(3, board.Red) || st.Follows(4, board.Black) {
		t.Fatalf("follows: %+v", st)
	}
}

func TestExpiryReportedOnce(t *testing.T) {
	r := NewRegistry(Limits{Total: 0, Step: 0, Read: 2})
	r.Put("m1", State{Red: Side{0, 2}, Black: Side{0, 2}, ToAct: board.Black})
	if got := r.Tick(); len(got) != 0 {
		t.Fatalf("expired too early: %+v", got)
	}
	got := r.Tick()
	if len(got) != 1 || got[0].MatchID != "m1" || got[0].Loser != board.Black {
		t.Fatalf("expected black expiry, got %+v", got)
	}
	if again := r.Tick(); len(again) != 0 {
		t.Fatalf("expiry reported twice: %+v", again)
	}
	st, ok := r.Get("m1")
	if !ok || !st.Expired {
		t.Fatalf("expired clock should stay flagged: %+v", st)
	}
	r.Remove("m1")
	if r.Len() != 0 {
		t.Fatalf("remove failed")
	}
}

func TestRecompute(t *testing.T) {
	lim := Limits{Total: 1200, Step: 120, Read: 60}
	moved := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	st := Recompute(Side{600, 120}, Side{500, 80}, board.Red, moved, moved.Add(30*time.Second), lim)
	if st.Red != (Side{570, 90}) {
		t.Fatalf("mover: %+v", st.Red)
	}
	if st.Black != (Side{500, 120}) {
		t.Fatalf("waiting side gets a fresh step: %+v", st.Black)
	}

	st = Recompute(Side{0, 60}, Side{10, 60}, board.Black, moved, moved.Add(25*time.Second), lim)
	if st.Black != (Side{0, 35}) {
		t.Fatalf("overage should turn into read-seconds: %+v", st.Black)
	}
	if st.Red != (Side{0, 60}) {
		t.Fatalf("exhausted waiting side gets read-seconds: %+v", st.Red)
	}

	st = Recompute(Side{5, 5}, Side{5, 5}, board.Red, moved, moved.Add(time.Hour), lim)
	if st.Red.Step != 0 {
		t.Fatalf("long absence should leave no step time: %+v", st.Red)
	}
}

func TestTickerDispatchesExpiries(t *testing.T) {
	r := NewRegistry(Limits{Total: 0, Step: 1, Read: 1})
	r.Put("a", State{Red: Side{0, 1}, Black: Side{0, 1}, ToAct: board.Red})
	r.Put("b", State{Red: Side{0, 1}, Black: Side{0, 1}, ToAct: board.Black})

	var mu sync.Mutex
	seen := map[string]board.Color{}
	var calls int32
	tk := NewTicker(r, func(ctx context.Context, id string, loser board.Color) {
		atomic.AddInt32(&calls, 1)
		mu.Lock()
		seen[id] = loser
		mu.Unlock()
	})
	tk.TickOnce(context.Background())
	tk.TickOnce(context.Background())
	tk.Wait()

	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 expiries, got %d", calls)
	}
	if seen["a"] != board.Red || seen["b"] != board.Black {
		t.Fatalf("wrong losers: %+v", seen)
	}
}

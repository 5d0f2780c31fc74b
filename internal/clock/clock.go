package clock

import (
	"sort"
	"sync"
	"time"

	"github.com/park285/cheese-xiangqi/internal/board"
)

// Limits in seconds.
type Limits struct {
	Total int
	Step  int
	Read  int
}

func DefaultLimits() Limits {
	return Limits{Total: 1200, Step: 120, Read: 60}
}

// Handover is st after the side to act moved, producing the record at step.
// The other side starts a fresh step allowance.
func (l Limits) Handover(st State, step int) State {
	st.ToAct = st.ToAct.Opponent()
	next := st.Side(st.ToAct)
	next.Step = l.FreshStep(next.Total)
	st.AtStep = step
	st.Expired = false
	return st
}

// FreshStep is the step allowance at the start of a turn.
func (l Limits) FreshStep(total int) int {
	if total > 0 {
		return l.Step
	}
	return l.Read
}

type Side struct {
	Total int `json:"total"`
	Step  int `json:"step"`
}

// State is the live countdown of one match. AtStep is the step of the move
// record the countdown started from.
type State struct {
	Red     Side
	Black   Side
	ToAct   board.Color
	AtStep  int
	Expired bool
}

// Follows reports whether st is still running from the record at step with
// toAct to move.
func (s State) Follows(step int, toAct board.Color) bool {
	return s.AtStep == step && s.ToAct == toAct
}

func (s *State) Side(c board.Color) *Side {
	if c == board.Red {
		return &s.Red
	}
	return &s.Black
}

// Expiry is a match whose side to act ran out of step time.
type Expiry struct {
	MatchID string
	Loser   board.Color
}

// Registry holds the clocks of the matches hosted by this process.
type Registry struct {
	limits Limits

	mu     sync.Mutex
	states map[string]*State
}

func NewRegistry(limits Limits) *Registry {
	return &Registry{limits: limits, states: make(map[string]*State)}
}

func (r *Registry) Limits() Limits { return r.limits }

// Start seeds a new match with full allowances on both sides.
func (r *Registry) Start(matchID string, toAct board.Color) State {
	st := &State{
		Red:   Side{Total: r.limits.Total, Step: r.limits.Step},
		Black: Side{Total: r.limits.Total, Step: r.limits.Step},
		ToAct: toAct,
	}
	r.mu.Lock()
	r.states[matchID] = st
	r.mu.Unlock()
	return *st
}

// Put replaces the clock of a match, e.g. after recovery or a takeback.
func (r *Registry) Put(matchID string, st State) {
	r.mu.Lock()
	cp := st
	r.states[matchID] = &cp
	r.mu.Unlock()
}

func (r *Registry) Get(matchID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[matchID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

func (r *Registry) Remove(matchID string) {
	r.mu.Lock()
	delete(r.states, matchID)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// IDs lists tracked matches in a stable order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.states))
	for id := range r.states {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Tick debits one second from the side to act of every live clock and
// returns the clocks that expired on this tick. An expired clock stays
// registered, flagged, until Remove.
func (r *Registry) Tick() []Expiry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Expiry
	for id, st := range r.states {
		if st.Expired {
			continue
		}
		s := st.Side(st.ToAct)
		if s.Step > 0 {
			s.Step--
		}
		if s.Total > 0 {
			s.Total--
			if s.Total == 0 && s.Step > r.limits.Read {
				s.Step = r.limits.Read
			}
		}
		if s.Step <= 0 {
			st.Expired = true
			out = append(out, Expiry{MatchID: id, Loser: st.ToAct})
		}
	}
	return out
}

// Recompute rebuilds a clock from the last persisted snapshot, charging the
// side to act for the wall-clock time elapsed since movedAt.
func Recompute(red, black Side, toAct board.Color, movedAt, now time.Time, limits Limits) State {
	st := State{Red: red, Black: black, ToAct: toAct}
	elapsed := int(now.Sub(movedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}

	mover := st.Side(toAct)
	if mover.Total-elapsed < 0 {
		over := elapsed - mover.Total
		mover.Total = 0
		mover.Step = min(mover.Step-elapsed, limits.Read-over)
	} else {
		mover.Total -= elapsed
		mover.Step -= elapsed
	}
	if mover.Step < 0 {
		mover.Step = 0
	}

	waiting := st.Side(toAct.Opponent())
	waiting.Step = limits.FreshStep(waiting.Total)
	return st
}

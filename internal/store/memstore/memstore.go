// Package memstore is the in-process Store used when no database is configured
// and by tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-xiangqi/internal/store"
)

type memstore struct {
	mu sync.RWMutex

	matches      map[string]*store.Match
	participants map[string][]store.Participant // matchID -> seats
	moves        map[string][]store.MoveRecord  // matchID -> steps, ascending
	players      map[string]*store.PlayerState
	rooms        map[string]*store.Room
	proposals    map[string][]*store.Proposal // matchID -> append order
	ratings      map[string]*store.Rating
}

func New() store.Store {
	return &memstore{
		matches:      make(map[string]*store.Match),
		participants: make(map[string][]store.Participant),
		moves:        make(map[string][]store.MoveRecord),
		players:      make(map[string]*store.PlayerState),
		rooms:        make(map[string]*store.Room),
		proposals:    make(map[string][]*store.Proposal),
		ratings:      make(map[string]*store.Rating),
	}
}

// InTx has no rollback; callers already hold the match or room lock.
func (m *memstore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *memstore) Close() error { return nil }

func (m *memstore) CreateMatch(ctx context.Context, match *store.Match, parts []store.Participant) error {
	if match == nil || strings.TrimSpace(match.ID) == "" {
		return store.ErrConflict
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.matches[match.ID]; exists {
		return store.ErrConflict
	}
	cp := *match
	m.matches[match.ID] = &cp
	m.participants[match.ID] = append([]store.Participant(nil), parts...)
	return nil
}

func (m *memstore) GetMatch(ctx context.Context, id string) (*store.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.matches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memstore) ActiveMatches(ctx context.Context) ([]store.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.Match
	for _, g := range m.matches {
		if g.Status == store.MatchActive {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memstore) TransitionMatch(ctx context.Context, id string, from, to store.MatchStatus, result store.MatchResult) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.matches[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if g.Status != from {
		return false, nil
	}
	g.Status = to
	if result.Code != "" {
		g.ResultCode = result.Code
		g.ResultMessage = result.Message
		g.WinnerID = result.WinnerID
	}
	g.UpdatedAt = time.Now()
	return true, nil
}

func (m *memstore) Participants(ctx context.Context, matchID string) ([]store.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	parts, ok := m.participants[matchID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]store.Participant(nil), parts...), nil
}

func (m *memstore) SetScoreDelta(ctx context.Context, matchID, playerID string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := m.participants[matchID]
	for i := range parts {
		if parts[i].PlayerID == playerID {
			parts[i].ScoreDelta = delta
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memstore) AppendMove(ctx context.Context, rec *store.MoveRecord) error {
	if rec == nil {
		return store.ErrConflict
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.moves[rec.MatchID]
	if n := len(list); (n == 0 && rec.Step != 0) || (n > 0 && list[n-1].Step+1 != rec.Step) {
		return store.ErrConflict
	}
	m.moves[rec.MatchID] = append(list, copyMove(*rec))
	return nil
}

func (m *memstore) LatestMove(ctx context.Context, matchID string) (*store.MoveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.moves[matchID]
	if len(list) == 0 {
		return nil, store.ErrNotFound
	}
	rec := copyMove(list[len(list)-1])
	return &rec, nil
}

func (m *memstore) ListMoves(ctx context.Context, matchID string) ([]store.MoveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.moves[matchID]
	out := make([]store.MoveRecord, 0, len(list))
	for _, rec := range list {
		out = append(out, copyMove(rec))
	}
	return out, nil
}

func (m *memstore) DeleteLatestMove(ctx context.Context, matchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.moves[matchID]
	if len(list) <= 1 {
		return store.ErrNotFound
	}
	m.moves[matchID] = list[:len(list)-1]
	return nil
}

func (m *memstore) GetPlayer(ctx context.Context, playerID string) (*store.PlayerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[playerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := copyPlayer(*p)
	return &cp, nil
}

func (m *memstore) SavePlayer(ctx context.Context, p *store.PlayerState) error {
	if p == nil || strings.TrimSpace(p.PlayerID) == "" {
		return store.ErrConflict
	}
	cp := copyPlayer(*p)
	m.mu.Lock()
	m.players[p.PlayerID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *memstore) PlayersInRoom(ctx context.Context, roomID string) ([]store.PlayerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.PlayerState
	for _, p := range m.players {
		if p.RoomID == roomID && (p.Status == store.PlayerInRoom || p.Status == store.PlayerInMatch) {
			out = append(out, copyPlayer(*p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

func (m *memstore) WatchersOf(ctx context.Context, roomID string) ([]store.PlayerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.PlayerState
	for _, p := range m.players {
		if p.RoomID == roomID && p.Status == store.PlayerWatching {
			out = append(out, copyPlayer(*p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

func (m *memstore) DisconnectedBefore(ctx context.Context, status store.PlayerStatus, before time.Time) ([]store.PlayerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.PlayerState
	for _, p := range m.players {
		if p.Status == status && p.DisconnectedAt != nil && p.DisconnectedAt.Before(before) {
			out = append(out, copyPlayer(*p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

func (m *memstore) GetRoom(ctx context.Context, id string) (*store.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memstore) SaveRoom(ctx context.Context, r *store.Room) error {
	if r == nil || strings.TrimSpace(r.ID) == "" {
		return store.ErrConflict
	}
	cp := *r
	m.mu.Lock()
	m.rooms[r.ID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *memstore) CountOccupiedRooms(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.rooms {
		if r.Status != store.RoomEmpty {
			n++
		}
	}
	return n, nil
}

func (m *memstore) CreateProposal(ctx context.Context, p *store.Proposal) error {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return store.ErrConflict
	}
	cp := *p
	m.mu.Lock()
	m.proposals[p.MatchID] = append(m.proposals[p.MatchID], &cp)
	m.mu.Unlock()
	return nil
}

func (m *memstore) PendingProposal(ctx context.Context, matchID string, kind store.ProposalKind) (*store.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.proposals[matchID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Kind == kind && list[i].Result == store.ProposalPending {
			cp := *list[i]
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memstore) LastProposal(ctx context.Context, matchID, playerID string, kind store.ProposalKind) (*store.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.proposals[matchID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Kind == kind && list[i].PlayerID == playerID {
			cp := *list[i]
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memstore) ResolveProposal(ctx context.Context, id string, result store.ProposalResult, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, list := range m.proposals {
		for _, p := range list {
			if p.ID != id {
				continue
			}
			if p.Result != store.ProposalPending {
				return store.ErrConflict
			}
			p.Result = result
			t := at
			p.RespondedAt = &t
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memstore) CountProposals(ctx context.Context, matchID, playerID string, kind store.ProposalKind, result store.ProposalResult) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.proposals[matchID] {
		if p.PlayerID == playerID && p.Kind == kind && p.Result == result {
			n++
		}
	}
	return n, nil
}

func (m *memstore) GetRating(ctx context.Context, playerID string) (*store.Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.ratings[playerID]; ok {
		cp := *r
		return &cp, nil
	}
	return &store.Rating{PlayerID: playerID}, nil
}

func (m *memstore) RecordResult(ctx context.Context, playerID string, delta int, outcome store.GameOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.ratings[playerID]
	if !ok {
		r = &store.Rating{PlayerID: playerID}
		m.ratings[playerID] = r
	}
	r.Score += delta
	r.Games++
	switch outcome {
	case store.OutcomeWin:
		r.Wins++
	case store.OutcomeLoss:
		r.Losses++
	case store.OutcomeDraw:
		r.Draws++
	}
	return nil
}

func copyMove(rec store.MoveRecord) store.MoveRecord {
	if rec.From != nil {
		p := *rec.From
		rec.From = &p
	}
	if rec.To != nil {
		p := *rec.To
		rec.To = &p
	}
	return rec
}

func copyPlayer(p store.PlayerState) store.PlayerState {
	if p.DisconnectedAt != nil {
		t := *p.DisconnectedAt
		p.DisconnectedAt = &t
	}
	return p
}

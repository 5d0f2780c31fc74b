package rules

import (
	"fmt"
	"sync"

	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

// PerpetualTracker counts consecutive checking moves per player, both per
// checking piece and across all pieces.
type PerpetualTracker struct {
	single    int
	aggregate int

	mu      sync.Mutex
	streaks map[string]*streak
}

type streak struct {
	byPiece map[string]int
	total   int
}

func NewPerpetualTracker(single, aggregate int) *PerpetualTracker {
	return &PerpetualTracker{single: single, aggregate: aggregate, streaks: make(map[string]*streak)}
}

// Check reports whether a checking move by pieceID would break a limit,
// without recording it.
func (t *PerpetualTracker) Check(playerID, pieceID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.streaks[playerID]
	if s == nil {
		return nil
	}
	if t.single > 0 && s.byPiece[pieceID] >= t.single {
		return xiangqidto.ErrPerpetualCheck.With(fmt.Sprintf("piece %s has checked %d times in a row", pieceID, s.byPiece[pieceID]))
	}
	if t.aggregate > 0 && s.total >= t.aggregate {
		return xiangqidto.ErrPerpetualCheck.With(fmt.Sprintf("%d consecutive checks", s.total))
	}
	return nil
}

// Observe records an accepted move. A non-checking move clears the player's streak.
func (t *PerpetualTracker) Observe(playerID, pieceID string, givesCheck bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !givesCheck {
		delete(t.streaks, playerID)
		return
	}
	s := t.streaks[playerID]
	if s == nil {
		s = &streak{byPiece: make(map[string]int)}
		t.streaks[playerID] = s
	}
	s.byPiece[pieceID]++
	s.total++
}

func (t *PerpetualTracker) Reset(playerIDs ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range playerIDs {
		delete(t.streaks, id)
	}
}

// Counts exposes the current streaks for a player.
func (t *PerpetualTracker) Counts(playerID, pieceID string) (single, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.streaks[playerID]; s != nil {
		return s.byPiece[pieceID], s.total
	}
	return 0, 0
}

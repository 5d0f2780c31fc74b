package rules

import "github.com/park285/cheese-xiangqi/internal/board"

type Reason string

const (
	ReasonNone                 Reason = "none"
	ReasonCheckmateOrStalemate Reason = "checkmateOrStalemate"
	ReasonNoAttackingPieces    Reason = "noAttackingPieces"
)

// Outcome of a position right after lastMover moved.
// InCheck tells checkmate apart from stalemate for display; both are decisive.
type Outcome struct {
	IsOver  bool
	Reason  Reason
	InCheck bool
}

func hasAttackingMaterial(pieces []board.Piece) bool {
	for _, pc := range pieces {
		if pc.Kind.Attacking() {
			return true
		}
	}
	return false
}

func JudgeOutcome(pieces []board.Piece, lastMover board.Color) Outcome {
	if !hasAttackingMaterial(pieces) {
		return Outcome{IsOver: true, Reason: ReasonNoAttackingPieces}
	}
	defender := lastMover.Opponent()
	inCheck := IsInCheck(pieces, defender)
	if !HasAnyLegalMove(pieces, defender) {
		return Outcome{IsOver: true, Reason: ReasonCheckmateOrStalemate, InCheck: inCheck}
	}
	return Outcome{Reason: ReasonNone, InCheck: inCheck}
}

package rules

import (
	"fmt"

	"github.com/park285/cheese-xiangqi/internal/board"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

// GeneralsFacing reports two generals on one file with nothing between them.
func GeneralsFacing(pieces []board.Piece) bool {
	red, okR := board.GeneralOf(pieces, board.Red)
	black, okB := board.GeneralOf(pieces, board.Black)
	if !okR || !okB || red.Pos.Y != black.Pos.Y {
		return false
	}
	n, _ := between(pieces, red.Pos, black.Pos)
	return n == 0
}

// IsInCheck is true when an opposing non-general piece can move onto color's general.
func IsInCheck(pieces []board.Piece, color board.Color) bool {
	g, ok := board.GeneralOf(pieces, color)
	if !ok {
		return true
	}
	for _, pc := range pieces {
		if pc.Color == color || pc.Kind == board.General {
			continue
		}
		if IsLegalMove(pieces, pc, g.Pos) {
			return true
		}
	}
	return false
}

// WouldExposeOwnGeneral simulates the move and reports whether the mover's
// general ends up attacked or facing the other general.
func WouldExposeOwnGeneral(pieces []board.Piece, piece board.Piece, target board.Point) bool {
	after := board.Apply(pieces, piece.Pos, target)
	if GeneralsFacing(after) {
		return true
	}
	return IsInCheck(after, piece.Color)
}

// HasAnyLegalMove enumerates every piece of color against every square.
func HasAnyLegalMove(pieces []board.Piece, color board.Color) bool {
	for _, pc := range pieces {
		if pc.Color != color {
			continue
		}
		for x := 0; x < board.Ranks; x++ {
			for y := 0; y < board.Files; y++ {
				to := board.Point{X: x, Y: y}
				if IsLegalMove(pieces, pc, to) && !WouldExposeOwnGeneral(pieces, pc, to) {
					return true
				}
			}
		}
	}
	return false
}

// ValidateMove checks that actor owns the piece on from and may legally take it to to.
func ValidateMove(pieces []board.Piece, from, to board.Point, actor board.Color) (board.Piece, error) {
	if !from.InBounds() || !to.InBounds() {
		return board.Piece{}, xiangqidto.ErrIllegalMove.With("square off the board")
	}
	pc, ok := board.At(pieces, from)
	if !ok {
		return board.Piece{}, xiangqidto.ErrIllegalMove.With(fmt.Sprintf("no piece on %d,%d", from.X, from.Y))
	}
	if pc.Color != actor {
		return pc, xiangqidto.ErrIllegalMove.With("piece belongs to the opponent")
	}
	if !IsLegalMove(pieces, pc, to) {
		return pc, xiangqidto.ErrIllegalMove.With(fmt.Sprintf("%s cannot reach %d,%d", pc.Kind, to.X, to.Y))
	}
	if WouldExposeOwnGeneral(pieces, pc, to) {
		return pc, xiangqidto.ErrIllegalMove.With("move leaves own general exposed")
	}
	return pc, nil
}

type Move struct {
	From board.Point
	To   board.Point
}

// LegalMoves lists every fully legal move for color.
func LegalMoves(pieces []board.Piece, color board.Color) []Move {
	var out []Move
	for _, pc := range pieces {
		if pc.Color != color {
			continue
		}
		for x := 0; x < board.Ranks; x++ {
			for y := 0; y < board.Files; y++ {
				to := board.Point{X: x, Y: y}
				if IsLegalMove(pieces, pc, to) && !WouldExposeOwnGeneral(pieces, pc, to) {
					out = append(out, Move{From: pc.Pos, To: to})
				}
			}
		}
	}
	return out
}

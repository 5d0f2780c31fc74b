package rules

import "github.com/park285/cheese-xiangqi/internal/board"

// IsLegalMove reports whether piece may move to target on this position,
// ignoring whether the move exposes its own general.
func IsLegalMove(pieces []board.Piece, piece board.Piece, target board.Point) bool {
	if !target.InBounds() || !piece.Pos.InBounds() || target == piece.Pos {
		return false
	}
	if occ, ok := board.At(pieces, target); ok && occ.Color == piece.Color {
		return false
	}
	switch piece.Kind {
	case board.Rook:
		return rookMove(pieces, piece.Pos, target)
	case board.Horse:
		return horseMove(pieces, piece.Pos, target)
	case board.Elephant:
		return elephantMove(pieces, piece.Pos, target)
	case board.Advisor:
		return advisorMove(piece.Pos, target)
	case board.General:
		return generalMove(piece.Pos, target)
	case board.Cannon:
		return cannonMove(pieces, piece.Pos, target)
	case board.Soldier:
		return soldierMove(pieces, piece, target)
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// between counts pieces strictly between a and b on a shared rank or file.
// The second result is false when a and b are not aligned.
func between(pieces []board.Piece, a, b board.Point) (int, bool) {
	if a.X != b.X && a.Y != b.Y {
		return 0, false
	}
	n := 0
	for _, pc := range pieces {
		p := pc.Pos
		if a.X == b.X {
			if p.X == a.X && p.Y > min(a.Y, b.Y) && p.Y < max(a.Y, b.Y) {
				n++
			}
		} else if p.Y == a.Y && p.X > min(a.X, b.X) && p.X < max(a.X, b.X) {
			n++
		}
	}
	return n, true
}

func occupied(pieces []board.Piece, p board.Point) bool {
	_, ok := board.At(pieces, p)
	return ok
}

func rookMove(pieces []board.Piece, from, to board.Point) bool {
	n, aligned := between(pieces, from, to)
	return aligned && n == 0
}

func horseMove(pieces []board.Piece, from, to board.Point) bool {
	dx, dy := to.X-from.X, to.Y-from.Y
	var leg board.Point
	switch {
	case abs(dx) == 2 && abs(dy) == 1:
		leg = board.Point{X: from.X + dx/2, Y: from.Y}
	case abs(dx) == 1 && abs(dy) == 2:
		leg = board.Point{X: from.X, Y: from.Y + dy/2}
	default:
		return false
	}
	return !occupied(pieces, leg)
}

func sameHalf(a, b board.Point) bool {
	return (a.X < 5) == (b.X < 5)
}

func inPalace(p board.Point) bool {
	return p.Y >= 3 && p.Y <= 5 && (p.X <= 2 || p.X >= 7)
}

func elephantMove(pieces []board.Piece, from, to board.Point) bool {
	dx, dy := to.X-from.X, to.Y-from.Y
	if abs(dx) != 2 || abs(dy) != 2 || !sameHalf(from, to) {
		return false
	}
	eye := board.Point{X: from.X + dx/2, Y: from.Y + dy/2}
	return !occupied(pieces, eye)
}

func advisorMove(from, to board.Point) bool {
	if abs(to.X-from.X) != 1 || abs(to.Y-from.Y) != 1 {
		return false
	}
	return inPalace(to) && sameHalf(from, to)
}

func generalMove(from, to board.Point) bool {
	if abs(to.X-from.X)+abs(to.Y-from.Y) != 1 {
		return false
	}
	return inPalace(to) && sameHalf(from, to)
}

func cannonMove(pieces []board.Piece, from, to board.Point) bool {
	n, aligned := between(pieces, from, to)
	if !aligned {
		return false
	}
	if occupied(pieces, to) {
		return n == 1
	}
	return n == 0
}

// soldierMove derives "forward" from the side its own general sits on, so the
// same predicate holds for either board orientation.
func soldierMove(pieces []board.Piece, piece board.Piece, to board.Point) bool {
	from := piece.Pos
	dx, dy := to.X-from.X, to.Y-from.Y
	if abs(dx)+abs(dy) != 1 {
		return false
	}
	homeLow := piece.Color == board.Black
	if g, ok := board.GeneralOf(pieces, piece.Color); ok {
		homeLow = g.Pos.X < 5
	}
	forward, crossed := 1, from.X >= 5
	if !homeLow {
		forward, crossed = -1, from.X < 5
	}
	if dx == forward {
		return true
	}
	return dx == 0 && crossed
}

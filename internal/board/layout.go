package board

import "strconv"

// Identity prefixes per kind, kept stable for move history diffs.
var idPrefix = map[Kind]string{
	Rook:     "C",
	Horse:    "M",
	Elephant: "X",
	Advisor:  "S",
	General:  "J",
	Cannon:   "P",
	Soldier:  "Z",
}

var backRank = [Files]Kind{Rook, Horse, Elephant, Advisor, General, Advisor, Elephant, Horse, Rook}

// InitialPieces returns the opening layout: black on ranks 0-4, red on 5-9.
func InitialPieces() []Piece {
	pieces := make([]Piece, 0, 32)
	for _, side := range []struct {
		color Color
		back  int
		gun   int
		pawn  int
		tag   string
	}{
		{Black, 0, 2, 3, "B"},
		{Red, 9, 7, 6, "R"},
	} {
		counts := map[Kind]int{}
		next := func(k Kind) string {
			counts[k]++
			if k == General {
				return side.tag + idPrefix[k]
			}
			return side.tag + idPrefix[k] + strconv.Itoa(counts[k])
		}
		for y, k := range backRank {
			pieces = append(pieces, Piece{Pos: Point{X: side.back, Y: y}, Kind: k, Color: side.color, ID: next(k)})
		}
		for _, y := range []int{1, 7} {
			pieces = append(pieces, Piece{Pos: Point{X: side.gun, Y: y}, Kind: Cannon, Color: side.color, ID: next(Cannon)})
		}
		for _, y := range []int{0, 2, 4, 6, 8} {
			pieces = append(pieces, Piece{Pos: Point{X: side.pawn, Y: y}, Kind: Soldier, Color: side.color, ID: next(Soldier)})
		}
	}
	return pieces
}

// InitialPosition is the encoded opening position with red to act.
func InitialPosition() string {
	return Encode(InitialPieces(), Red)
}

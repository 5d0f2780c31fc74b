package board

// Ranks and Files give the fixed board extent (x: rank, y: file).
const (
	Ranks = 10
	Files = 9
)

type Color int8

const (
	Red Color = iota
	Black
)

func (c Color) Opponent() Color {
	if c == Red {
		return Black
	}
	return Red
}

func (c Color) String() string {
	if c == Red {
		return "red"
	}
	return "black"
}

// ParseColor accepts "red" or "black".
func ParseColor(s string) (Color, bool) {
	switch s {
	case "red":
		return Red, true
	case "black":
		return Black, true
	}
	return Red, false
}

type Kind int8

const (
	Rook Kind = iota + 1
	Horse
	Elephant
	Advisor
	General
	Cannon
	Soldier
)

var kindNames = map[Kind]string{
	Rook:     "rook",
	Horse:    "horse",
	Elephant: "elephant",
	Advisor:  "advisor",
	General:  "general",
	Cannon:   "cannon",
	Soldier:  "soldier",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Attacking reports whether the kind can cross the river to attack.
func (k Kind) Attacking() bool {
	return k == Rook || k == Horse || k == Cannon || k == Soldier
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) InBounds() bool {
	return p.X >= 0 && p.X < Ranks && p.Y >= 0 && p.Y < Files
}

// Mirror reflects the point through the board centre.
func (p Point) Mirror() Point {
	return Point{X: Ranks - 1 - p.X, Y: Files - 1 - p.Y}
}

type Piece struct {
	Pos   Point
	Kind  Kind
	Color Color
	ID    string
}

// Board is one position: the pieces on it plus the color entitled to move.
type Board struct {
	Pieces []Piece
	ToAct  Color
}

// At returns the piece on p, if any.
func At(pieces []Piece, p Point) (Piece, bool) {
	for _, pc := range pieces {
		if pc.Pos == p {
			return pc, true
		}
	}
	return Piece{}, false
}

// FindByID looks a piece up by identity.
func FindByID(pieces []Piece, id string) (Piece, bool) {
	for _, pc := range pieces {
		if pc.ID == id {
			return pc, true
		}
	}
	return Piece{}, false
}

// GeneralOf returns the general of color c.
func GeneralOf(pieces []Piece, c Color) (Piece, bool) {
	for _, pc := range pieces {
		if pc.Kind == General && pc.Color == c {
			return pc, true
		}
	}
	return Piece{}, false
}

func Clone(pieces []Piece) []Piece {
	out := make([]Piece, len(pieces))
	copy(out, pieces)
	return out
}

// Apply moves the piece on from to to, removing whatever stood on to.
// The input slice is left untouched.
func Apply(pieces []Piece, from, to Point) []Piece {
	out := make([]Piece, 0, len(pieces))
	for _, pc := range pieces {
		if pc.Pos == to {
			continue
		}
		if pc.Pos == from {
			pc.Pos = to
		}
		out = append(out, pc)
	}
	return out
}

// Mirror returns the pieces as seen from the other side of the board.
func Mirror(pieces []Piece) []Piece {
	out := make([]Piece, len(pieces))
	for i, pc := range pieces {
		pc.Pos = pc.Pos.Mirror()
		out[i] = pc
	}
	return out
}

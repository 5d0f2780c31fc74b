package board

import (
	"fmt"
	"strconv"
	"strings"
)

// MalformedPositionError reports a position string that cannot be trusted.
type MalformedPositionError struct {
	Position string
	Reason   string
}

func (e *MalformedPositionError) Error() string {
	return fmt.Sprintf("malformed position %q: %s", e.Position, e.Reason)
}

func malformed(pos, format string, args ...any) error {
	return &MalformedPositionError{Position: pos, Reason: fmt.Sprintf(format, args...)}
}

var kindLetters = map[Kind]byte{
	Rook:     'r',
	Horse:    'n',
	Elephant: 'b',
	Advisor:  'a',
	General:  'k',
	Cannon:   'c',
	Soldier:  'p',
}

var letterKinds = func() map[byte]Kind {
	m := make(map[byte]Kind, len(kindLetters))
	for k, b := range kindLetters {
		m[b] = k
	}
	return m
}()

// Encode serialises pieces and the color to act.
//
// Layout: ten rank tokens joined by "/" (red pieces lower case, black upper
// case, digits for runs of empty squares), the color to act ("w" red, "b"
// black) and the identities in scan order joined by "/".
func Encode(pieces []Piece, toAct Color) string {
	var grid [Ranks][Files]*Piece
	for i := range pieces {
		pc := &pieces[i]
		if !pc.Pos.InBounds() {
			continue
		}
		grid[pc.Pos.X][pc.Pos.Y] = pc
	}

	var b strings.Builder
	ids := make([]string, 0, len(pieces))
	for x := 0; x < Ranks; x++ {
		if x > 0 {
			b.WriteByte('/')
		}
		empty := 0
		for y := 0; y < Files; y++ {
			pc := grid[x][y]
			if pc == nil {
				empty++
				continue
			}
			if empty > 0 {
				b.WriteString(strconv.Itoa(empty))
				empty = 0
			}
			letter := kindLetters[pc.Kind]
			if pc.Color == Black {
				letter -= 'a' - 'A'
			}
			b.WriteByte(letter)
			ids = append(ids, pc.ID)
		}
		if empty > 0 {
			b.WriteString(strconv.Itoa(empty))
		}
	}

	b.WriteByte(' ')
	if toAct == Red {
		b.WriteByte('w')
	} else {
		b.WriteByte('b')
	}
	b.WriteByte(' ')
	b.WriteString(strings.Join(ids, "/"))
	return b.String()
}

// Decode parses a string produced by Encode.
func Decode(s string) ([]Piece, Color, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return nil, Red, malformed(s, "expected 3 fields, got %d", len(fields))
	}

	var toAct Color
	switch fields[1] {
	case "w":
		toAct = Red
	case "b":
		toAct = Black
	default:
		return nil, Red, malformed(s, "unknown color %q", fields[1])
	}

	ranks := strings.Split(fields[0], "/")
	if len(ranks) != Ranks {
		return nil, Red, malformed(s, "expected %d ranks, got %d", Ranks, len(ranks))
	}

	ids := strings.Split(fields[2], "/")

	var pieces []Piece
	for x, rank := range ranks {
		y := 0
		for i := 0; i < len(rank); i++ {
			ch := rank[i]
			if ch >= '1' && ch <= '9' {
				y += int(ch - '0')
				continue
			}
			color := Red
			lower := ch
			if ch >= 'A' && ch <= 'Z' {
				color = Black
				lower = ch + ('a' - 'A')
			}
			kind, ok := letterKinds[lower]
			if !ok {
				return nil, Red, malformed(s, "unknown piece letter %q", ch)
			}
			p := Point{X: x, Y: y}
			if !p.InBounds() {
				return nil, Red, malformed(s, "piece off board at rank %d", x)
			}
			pieces = append(pieces, Piece{Pos: p, Kind: kind, Color: color})
			y++
		}
		if y != Files {
			return nil, Red, malformed(s, "rank %d covers %d files", x, y)
		}
	}

	if len(ids) != len(pieces) {
		return nil, Red, malformed(s, "%d pieces but %d identities", len(pieces), len(ids))
	}
	seen := make(map[string]struct{}, len(ids))
	generals := [2]int{}
	for i := range pieces {
		id := ids[i]
		if id == "" {
			return nil, Red, malformed(s, "empty identity at %d", i)
		}
		if _, dup := seen[id]; dup {
			return nil, Red, malformed(s, "duplicate identity %q", id)
		}
		seen[id] = struct{}{}
		pieces[i].ID = id
		if pieces[i].Kind == General {
			generals[pieces[i].Color]++
		}
	}
	if generals[Red] != 1 || generals[Black] != 1 {
		return nil, Red, malformed(s, "expected one general per color, got red=%d black=%d", generals[Red], generals[Black])
	}
	return pieces, toAct, nil
}

// DecodeBoard is Decode returning a Board.
func DecodeBoard(s string) (*Board, error) {
	pieces, toAct, err := Decode(s)
	if err != nil {
		return nil, err
	}
	return &Board{Pieces: pieces, ToAct: toAct}, nil
}

func (b *Board) Encode() string { return Encode(b.Pieces, b.ToAct) }

package match

import (
	"github.com/park285/cheese-xiangqi/internal/board"
	"github.com/park285/cheese-xiangqi/internal/clock"
	"github.com/park285/cheese-xiangqi/internal/store"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

// Positions are stored with red on ranks 5-9. A black viewer sees the
// board rotated so that their own pieces are at the bottom.

func orient(p board.Point, viewer board.Color) board.Point {
	if viewer == board.Black {
		return p.Mirror()
	}
	return p
}

func toDTO(p board.Point) xiangqidto.Point { return xiangqidto.Point{X: p.X, Y: p.Y} }

func fromDTO(p xiangqidto.Point) board.Point { return board.Point{X: p.X, Y: p.Y} }

func clockView(st clock.State) xiangqidto.ClockView {
	return xiangqidto.ClockView{
		Red:   xiangqidto.SideClock{Total: st.Red.Total, Step: st.Red.Step},
		Black: xiangqidto.SideClock{Total: st.Black.Total, Step: st.Black.Step},
		ToAct: st.ToAct.String(),
	}
}

// recordClock is the clock as stored with a record, without elapsed time.
func recordClock(rec *store.MoveRecord) clock.State {
	return clock.State{Red: rec.Red, Black: rec.Black, ToAct: rec.ToAct(), AtStep: rec.Step}
}

// boardView renders the position for viewer. mine marks a participant view.
func boardView(s *session, st clock.State, viewer board.Color, mine bool) *xiangqidto.BoardView {
	pieces := s.pieces
	if viewer == board.Black {
		pieces = board.Mirror(pieces)
	}
	views := make([]xiangqidto.PieceView, 0, len(pieces))
	for _, pc := range pieces {
		views = append(views, xiangqidto.PieceView{
			ID:    pc.ID,
			Kind:  pc.Kind.String(),
			Color: pc.Color.String(),
			X:     pc.Pos.X,
			Y:     pc.Pos.Y,
		})
	}
	v := &xiangqidto.BoardView{
		MatchID:    s.match.ID,
		RoomID:     s.match.RoomID,
		Step:       s.last.Step,
		Position:   board.Encode(pieces, s.toAct()),
		Pieces:     views,
		ToAct:      s.toAct().String(),
		Annotation: s.last.Annotation,
		Clock:      clockView(st),
	}
	if mine {
		v.MyColor = viewer.String()
	}
	if s.last.From != nil && s.last.To != nil {
		from, to := toDTO(orient(*s.last.From, viewer)), toDTO(orient(*s.last.To, viewer))
		v.LastFrom, v.LastTo = &from, &to
	}
	return v
}

package rules

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-xiangqi/internal/board"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

func pt(x, y int) board.Point { return board.Point{X: x, Y: y} }

func pc(id string, k board.Kind, c board.Color, x, y int) board.Piece {
	return board.Piece{Pos: pt(x, y), Kind: k, Color: c, ID: id}
}

// two generals off each other's file, plus extras
func withGenerals(extra ...board.Piece) []board.Piece {
	ps := []board.Piece{
		pc("BJ", board.General, board.Black, 0, 3),
		pc("RJ", board.General, board.Red, 9, 5),
	}
	return append(ps, extra...)
}

func TestOpeningMoves(t *testing.T) {
	ps := board.InitialPieces()
	moves := LegalMoves(ps, board.Red)
	// standard opening move count for xiangqi
	assert.Len(t, moves, 44)
}

func TestHorseLegBlock(t *testing.T) {
	horse := pc("RM1", board.Horse, board.Red, 5, 4)
	ps := withGenerals(horse)
	assert.True(t, IsLegalMove(ps, horse, pt(3, 5)))
	assert.True(t, IsLegalMove(ps, horse, pt(6, 2)))
	assert.False(t, IsLegalMove(ps, horse, pt(4, 5)))

	blocked := withGenerals(horse, pc("BZ1", board.Soldier, board.Black, 4, 4))
	assert.False(t, IsLegalMove(blocked, horse, pt(3, 5)))
	assert.False(t, IsLegalMove(blocked, horse, pt(3, 3)))
	assert.True(t, IsLegalMove(blocked, horse, pt(6, 6)))
}

func TestElephantEyeAndRiver(t *testing.T) {
	el := pc("RX1", board.Elephant, board.Red, 5, 2)
	ps := withGenerals(el)
	assert.True(t, IsLegalMove(ps, el, pt(7, 4)))
	assert.True(t, IsLegalMove(ps, el, pt(7, 0)))
	assert.False(t, IsLegalMove(ps, el, pt(3, 4)), "elephant cannot cross the river")

	eye := withGenerals(el, pc("RZ1", board.Soldier, board.Red, 6, 3))
	assert.False(t, IsLegalMove(eye, el, pt(7, 4)))
}

func TestAdvisorAndGeneralPalace(t *testing.T) {
	adv := pc("RS1", board.Advisor, board.Red, 9, 3)
	ps := withGenerals(adv)
	assert.True(t, IsLegalMove(ps, adv, pt(8, 4)))
	assert.False(t, IsLegalMove(ps, adv, pt(8, 2)))
	assert.False(t, IsLegalMove(ps, adv, pt(9, 4)))

	gen := ps[1]
	assert.True(t, IsLegalMove(ps, gen, pt(8, 5)))
	assert.True(t, IsLegalMove(ps, gen, pt(9, 4)))
	assert.False(t, IsLegalMove(ps, gen, pt(9, 6)))
	assert.False(t, IsLegalMove(ps, gen, pt(8, 4)))
}

func TestCannonScreen(t *testing.T) {
	cannon := pc("RP1", board.Cannon, board.Red, 7, 1)
	ps := withGenerals(cannon,
		pc("BP1", board.Cannon, board.Black, 2, 1),
		pc("BM1", board.Horse, board.Black, 0, 1),
	)
	assert.True(t, IsLegalMove(ps, cannon, pt(0, 1)), "capture over one screen")
	assert.False(t, IsLegalMove(ps, cannon, pt(2, 1)), "no capture without a screen")
	assert.True(t, IsLegalMove(ps, cannon, pt(3, 1)))
	assert.False(t, IsLegalMove(ps, cannon, pt(1, 1)), "cannot slide past a piece")
	assert.True(t, IsLegalMove(ps, cannon, pt(7, 8)))
}

func TestSoldierDirection(t *testing.T) {
	red := pc("RZ1", board.Soldier, board.Red, 6, 0)
	ps := withGenerals(red)
	assert.True(t, IsLegalMove(ps, red, pt(5, 0)))
	assert.False(t, IsLegalMove(ps, red, pt(7, 0)), "no retreat")
	assert.False(t, IsLegalMove(ps, red, pt(6, 1)), "no sideways before the river")

	crossed := pc("RZ1", board.Soldier, board.Red, 4, 4)
	ps = withGenerals(crossed)
	assert.True(t, IsLegalMove(ps, crossed, pt(4, 5)))
	assert.True(t, IsLegalMove(ps, crossed, pt(3, 4)))
	assert.False(t, IsLegalMove(ps, crossed, pt(5, 4)))

	black := pc("BZ1", board.Soldier, board.Black, 3, 2)
	ps = withGenerals(black)
	assert.True(t, IsLegalMove(ps, black, pt(4, 2)))
	assert.False(t, IsLegalMove(ps, black, pt(3, 3)))
}

func TestSoldierDirectionOnMirroredBoard(t *testing.T) {
	ps := board.Mirror(board.InitialPieces())
	red, ok := board.FindByID(ps, "RZ1")
	require.True(t, ok)
	// red now sits on the low ranks and advances towards rank 9
	assert.True(t, IsLegalMove(ps, red, pt(red.Pos.X+1, red.Pos.Y)))
	assert.False(t, IsLegalMove(ps, red, pt(red.Pos.X-1, red.Pos.Y)))
}

func TestFlyingGeneralsRejected(t *testing.T) {
	ps := []board.Piece{
		pc("BJ", board.General, board.Black, 0, 4),
		pc("RJ", board.General, board.Red, 9, 4),
		pc("RC1", board.Rook, board.Red, 5, 4),
	}
	rook := ps[2]
	_, err := ValidateMove(ps, rook.Pos, pt(5, 0), board.Red)
	require.Error(t, err)
	assert.True(t, errors.Is(err, xiangqidto.ErrIllegalMove))

	_, err = ValidateMove(ps, rook.Pos, pt(2, 4), board.Red)
	assert.NoError(t, err)
}

func TestValidateMoveRejectsSelfCheck(t *testing.T) {
	ps := []board.Piece{
		pc("BJ", board.General, board.Black, 0, 3),
		pc("RJ", board.General, board.Red, 9, 4),
		pc("RX1", board.Elephant, board.Red, 7, 4),
		pc("BC1", board.Rook, board.Black, 2, 4),
	}
	_, err := ValidateMove(ps, pt(7, 4), pt(5, 2), board.Red)
	assert.ErrorIs(t, err, xiangqidto.ErrIllegalMove)

	_, err = ValidateMove(ps, pt(2, 4), pt(3, 4), board.Red)
	assert.ErrorIs(t, err, xiangqidto.ErrIllegalMove, "moving the opponent's piece")
}

func TestCheckmateAfterCapturingLastDefender(t *testing.T) {
	ps := []board.Piece{
		pc("BJ", board.General, board.Black, 0, 4),
		pc("BC1", board.Rook, board.Black, 0, 3),
		pc("BC2", board.Rook, board.Black, 0, 5),
		pc("BM1", board.Horse, board.Black, 1, 4),
		pc("RC1", board.Rook, board.Red, 5, 4),
		pc("RM1", board.Horse, board.Red, 3, 3),
		pc("RJ", board.General, board.Red, 9, 3),
	}
	before := JudgeOutcome(ps, board.Black)
	require.False(t, before.IsOver)

	moved, err := ValidateMove(ps, pt(5, 4), pt(1, 4), board.Red)
	require.NoError(t, err)
	require.Equal(t, "RC1", moved.ID)

	after := board.Apply(ps, pt(5, 4), pt(1, 4))
	out := JudgeOutcome(after, board.Red)
	assert.True(t, out.IsOver)
	assert.Equal(t, ReasonCheckmateOrStalemate, out.Reason)
	assert.True(t, out.InCheck)
}

func TestStalemateIsDecisive(t *testing.T) {
	ps := []board.Piece{
		pc("BJ", board.General, board.Black, 0, 3),
		pc("RC1", board.Rook, board.Red, 5, 4),
		pc("RC2", board.Rook, board.Red, 1, 8),
		pc("RJ", board.General, board.Red, 9, 5),
	}
	require.False(t, IsInCheck(ps, board.Black))
	out := JudgeOutcome(ps, board.Red)
	assert.True(t, out.IsOver)
	assert.Equal(t, ReasonCheckmateOrStalemate, out.Reason)
	assert.False(t, out.InCheck)
}

func TestNoAttackingPiecesIsDraw(t *testing.T) {
	ps := []board.Piece{
		pc("BJ", board.General, board.Black, 0, 4),
		pc("BS1", board.Advisor, board.Black, 1, 4),
		pc("RJ", board.General, board.Red, 9, 3),
		pc("RX1", board.Elephant, board.Red, 7, 4),
	}
	out := JudgeOutcome(ps, board.Red)
	assert.True(t, out.IsOver)
	assert.Equal(t, ReasonNoAttackingPieces, out.Reason)
}

func TestRandomPlayNeverLeavesMoverInCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ps := board.InitialPieces()
	toAct := board.Red
	for ply := 0; ply < 120; ply++ {
		moves := LegalMoves(ps, toAct)
		if len(moves) == 0 {
			break
		}
		mv := moves[rng.Intn(len(moves))]
		_, err := ValidateMove(ps, mv.From, mv.To, toAct)
		require.NoError(t, err)
		ps = board.Apply(ps, mv.From, mv.To)
		require.False(t, IsInCheck(ps, toAct), "ply %d left mover in check", ply)
		require.False(t, GeneralsFacing(ps), "ply %d left generals facing", ply)
		if JudgeOutcome(ps, toAct).IsOver {
			break
		}
		toAct = toAct.Opponent()
	}
}

func TestPerpetualTracker(t *testing.T) {
	tr := NewPerpetualTracker(3, 5)
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.Check("p1", "RC1"))
		tr.Observe("p1", "RC1", true)
	}
	assert.ErrorIs(t, tr.Check("p1", "RC1"), xiangqidto.ErrPerpetualCheck)

	require.NoError(t, tr.Check("p1", "RM1"))
	tr.Observe("p1", "RM1", true)
	tr.Observe("p1", "RM1", true)
	assert.ErrorIs(t, tr.Check("p1", "RP1"), xiangqidto.ErrPerpetualCheck, "aggregate limit")

	tr.Observe("p1", "RP1", false)
	assert.NoError(t, tr.Check("p1", "RC1"))
	single, total := tr.Counts("p1", "RC1")
	assert.Zero(t, single)
	assert.Zero(t, total)

	tr.Observe("p2", "BC1", true)
	tr.Reset("p2")
	_, total = tr.Counts("p2", "BC1")
	assert.Zero(t, total)
}

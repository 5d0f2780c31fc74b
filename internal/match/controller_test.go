package match

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-xiangqi/internal/board"
	"github.com/park285/cheese-xiangqi/internal/cache"
	"github.com/park285/cheese-xiangqi/internal/clock"
	"github.com/park285/cheese-xiangqi/internal/lock"
	"github.com/park285/cheese-xiangqi/internal/msgcat"
	"github.com/park285/cheese-xiangqi/internal/rules"
	"github.com/park285/cheese-xiangqi/internal/store"
	"github.com/park285/cheese-xiangqi/internal/store/memstore"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

type recorder struct {
	mu     sync.Mutex
	events []xiangqidto.Event
}

func (r *recorder) Publish(_ context.Context, ev xiangqidto.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) ofType(typ string) []xiangqidto.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []xiangqidto.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	c     *Controller
	st    store.Store
	locks *lock.Locker
	cache *cache.Cache
	rec   *recorder
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	f := &fixture{
		st:    memstore.New(),
		locks: lock.New(rdb, lock.WithRetry(5*time.Millisecond, 5*time.Millisecond), lock.WithWait(2*time.Second)),
		cache: cache.New(rdb),
		rec:   &recorder{},
		now:   time.Unix(1_700_000_000, 0),
	}
	f.c = NewController(f.st, f.locks, clock.NewRegistry(clock.DefaultLimits()), f.cache, f.rec, msgcat.MustDefault(), DefaultOptions())
	f.c.now = func() time.Time { return f.now }
	return f
}

// start seats "red" and "blk" in room r1 and creates their match.
func (f *fixture) start(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.st.SaveRoom(ctx, &store.Room{ID: "r1", Status: store.RoomInMatch}))
	var id string
	err := Run(ctx, f.locks, f.st, f.rec, []string{lock.RoomDomainKey}, func(ctx context.Context, ob *Outbox) error {
		m, err := f.c.Create(ctx, ob, "r1", "red", "blk")
		if err != nil {
			return err
		}
		id = m.ID
		for _, p := range []string{"red", "blk"} {
			if err := f.st.SavePlayer(ctx, &store.PlayerState{
				PlayerID: p, Status: store.PlayerInMatch, Page: store.PageBoard, RoomID: "r1", MatchID: m.ID,
				IsFirst: p == "red", IsRoomAdmin: p == "red",
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return id
}

// inject replaces the position with pieces, toAct to move next.
func (f *fixture) inject(t *testing.T, matchID string, pieces []board.Piece, toAct board.Color) {
	t.Helper()
	last, err := f.st.LatestMove(context.Background(), matchID)
	require.NoError(t, err)
	rec := *last
	rec.Step++
	rec.Position = board.Encode(pieces, toAct)
	rec.Acting = toAct.Opponent()
	rec.From, rec.To = &board.Point{}, &board.Point{}
	require.NoError(t, f.st.AppendMove(context.Background(), &rec))
}

func (f *fixture) move(matchID, player string, fx, fy, tx, ty int) (*xiangqidto.MoveResult, error) {
	return f.c.SubmitMove(context.Background(), matchID, player,
		xiangqidto.Point{X: fx, Y: fy}, xiangqidto.Point{X: tx, Y: ty}, "")
}

func piece(id string, k board.Kind, c board.Color, x, y int) board.Piece {
	return board.Piece{ID: id, Kind: k, Color: c, Pos: board.Point{X: x, Y: y}}
}

func TestSubmitMoveAlternatesTurns(t *testing.T) {
	f := newFixture(t)
	id := f.start(t)

	res, err := f.move(id, "red", 7, 1, 7, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Step)
	assert.Equal(t, "black", res.NextToAct)
	assert.False(t, res.IsOver)

	_, err = f.move(id, "red", 7, 4, 7, 3)
	assert.ErrorIs(t, err, xiangqidto.ErrTurnOwnership)

	// black plays from its own orientation: canonical (3,0) -> (4,0)
	res, err = f.move(id, "blk", 6, 8, 5, 8)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Step)
	assert.Equal(t, "red", res.NextToAct)

	last, err := f.st.LatestMove(context.Background(), id)
	require.NoError(t, err)
	pieces, toAct, err := board.Decode(last.Position)
	require.NoError(t, err)
	assert.Equal(t, board.Red, toAct)
	pc, ok := board.At(pieces, board.Point{X: 4, Y: 0})
	require.True(t, ok)
	assert.Equal(t, "BZ1", pc.ID)

	moves := f.rec.ofType(xiangqidto.EventMove)
	require.Len(t, moves, 6)
	forBlack := moves[1].Data.(xiangqidto.MoveEvent)
	assert.Equal(t, "blk", moves[1].Target)
	assert.Equal(t, xiangqidto.Point{X: 2, Y: 7}, forBlack.From)
	assert.Equal(t, xiangqidto.TargetWatchers, moves[2].TargetKind)

	st, ok := f.c.clocks.Get(id)
	require.True(t, ok)
	assert.Equal(t, board.Red, st.ToAct)
}

func TestSubmitMoveRejectsIllegalAndOutsiders(t *testing.T) {
	f := newFixture(t)
	id := f.start(t)

	_, err := f.move(id, "red", 9, 0, 5, 0)
	assert.ErrorIs(t, err, xiangqidto.ErrIllegalMove)

	_, err = f.move(id, "someone", 7, 1, 7, 4)
	assert.ErrorIs(t, err, xiangqidto.ErrValidation)

	_, err = f.move("missing", "red", 7, 1, 7, 4)
	assert.ErrorIs(t, err, xiangqidto.ErrNotFound)
}

func TestConcurrentMovesAreSerialised(t *testing.T) {
	f := newFixture(t)
	id := f.start(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, fy := range []int{1, 7} {
		wg.Add(1)
		go func(i, fy int) {
			defer wg.Done()
			_, errs[i] = f.move(id, "red", 7, fy, 7, 4)
		}(i, fy)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, xiangqidto.ErrTurnOwnership) || errors.Is(err, xiangqidto.ErrIllegalMove), "unexpected error %v", err)
	}
	assert.Equal(t, 1, ok)
	last, err := f.st.LatestMove(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, last.Step)
}

func TestResignSettlesOnceAndSwapsSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t)

	_, err := f.move(id, "red", 7, 1, 7, 4)
	require.NoError(t, err)
	_, err = f.move(id, "blk", 6, 8, 5, 8)
	require.NoError(t, err)
	_, err = f.move(id, "red", 7, 7, 7, 5)
	require.NoError(t, err)

	ev, err := f.c.Resign(ctx, id, "blk")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "red", ev.WinnerID)
	assert.Equal(t, "red", ev.WinColor)
	assert.Equal(t, 12, ev.WinScore)
	assert.Equal(t, -12, ev.LoseScore)
	assert.True(t, ev.ScoreCounts)
	assert.Equal(t, "blk 님이 기권했습니다.", ev.Message)

	again, err := f.c.Settle(ctx, id, ReasonResign, "blk")
	require.NoError(t, err)
	assert.Nil(t, again)

	m, err := f.st.GetMatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.MatchSettled, m.Status)
	assert.Equal(t, ReasonResign, m.ResultCode)

	red, _ := f.st.GetRating(ctx, "red")
	blk, _ := f.st.GetRating(ctx, "blk")
	assert.Equal(t, store.Rating{PlayerID: "red", Score: 12, Wins: 1, Games: 1}, *red)
	assert.Equal(t, store.Rating{PlayerID: "blk", Score: -12, Losses: 1, Games: 1}, *blk)

	redState, _ := f.st.GetPlayer(ctx, "red")
	blkState, _ := f.st.GetPlayer(ctx, "blk")
	assert.Equal(t, store.PlayerInRoom, redState.Status)
	assert.False(t, redState.IsFirst)
	assert.True(t, blkState.IsFirst)

	room, _ := f.st.GetRoom(ctx, "r1")
	assert.Equal(t, store.RoomMatchOver, room.Status)
	assert.Equal(t, 0, f.c.clocks.Len())
	assert.Len(t, f.rec.ofType(xiangqidto.EventSettlement), 3)

	_, err = f.move(id, "blk", 6, 0, 5, 0)
	assert.ErrorIs(t, err, xiangqidto.ErrStaleMatch)
}

func TestShortMatchIsNotScored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t)

	ev, err := f.c.Resign(ctx, id, "red")
	require.NoError(t, err)
	assert.Equal(t, "blk", ev.WinnerID)
	assert.False(t, ev.ScoreCounts)
	assert.Zero(t, ev.WinScore)

	r, _ := f.st.GetRating(ctx, "blk")
	assert.Zero(t, r.Games)
	redState, _ := f.st.GetPlayer(ctx, "red")
	assert.True(t, redState.IsFirst, "unscored match keeps seats")
}

func TestExpiryWinsOverLateMove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t)

	f.c.clocks.Put(id, clock.State{
		Red:   clock.Side{Total: 1000, Step: 1},
		Black: clock.Side{Total: 1200, Step: 120},
		ToAct: board.Red,
	})
	expired := f.c.clocks.Tick()
	require.Equal(t, []clock.Expiry{{MatchID: id, Loser: board.Red}}, expired)

	_, err := f.move(id, "red", 7, 1, 7, 4)
	assert.ErrorIs(t, err, xiangqidto.ErrStaleMatch)

	f.now = f.now.Add(120 * time.Second)

	require.NoError(t, f.c.ExpireTimeout(ctx, id, board.Red))
	require.NoError(t, f.c.ExpireTimeout(ctx, id, board.Red))

	m, _ := f.st.GetMatch(ctx, id)
	assert.Equal(t, store.MatchSettled, m.Status)
	assert.Equal(t, ReasonTimeout, m.ResultCode)
	assert.Equal(t, "blk", m.WinnerID)
	assert.Len(t, f.rec.ofType(xiangqidto.EventSettlement), 3)
}

func TestClockFromAnotherInstanceCannotForfeitWrongSide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t)

	other := NewController(f.st, f.locks, clock.NewRegistry(clock.DefaultLimits()), f.cache, f.rec, msgcat.MustDefault(), DefaultOptions())
	other.now = func() time.Time { return f.now }

	_, err := f.move(id, "red", 7, 1, 7, 4)
	require.NoError(t, err)
	_, err = other.SubmitMove(ctx, id, "blk", xiangqidto.Point{X: 6, Y: 8}, xiangqidto.Point{X: 5, Y: 8}, "")
	require.NoError(t, err)

	stale, _ := f.c.clocks.Get(id)
	require.Equal(t, board.Black, stale.ToAct)
	var expired []clock.Expiry
	for i := 0; i < 120 && len(expired) == 0; i++ {
		expired = f.c.clocks.Tick()
	}
	require.Equal(t, []clock.Expiry{{MatchID: id, Loser: board.Black}}, expired)

	f.c.OnExpire(ctx, id, board.Black)
	m, err := f.st.GetMatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.MatchActive, m.Status)
	assert.Empty(t, f.rec.ofType(xiangqidto.EventSettlement))

	readopted, ok := f.c.clocks.Get(id)
	require.True(t, ok)
	assert.True(t, readopted.Follows(2, board.Red))
	assert.False(t, readopted.Expired)

	// red moves through the instance whose clock had drifted
	_, err = f.move(id, "red", 6, 2, 5, 2)
	require.NoError(t, err)
	last, err := f.st.LatestMove(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, last.Step)

	// black really runs out, as seen from the record
	f.now = f.now.Add(121 * time.Second)
	require.NoError(t, other.ExpireTimeout(ctx, id, board.Black))
	m, err = f.st.GetMatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.MatchSettled, m.Status)
	assert.Equal(t, "red", m.WinnerID)
}

func TestExpiryAfterInTimeMoveIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t)

	f.now = f.now.Add(119 * time.Second)
	_, err := f.move(id, "red", 7, 1, 7, 4)
	require.NoError(t, err)

	require.NoError(t, f.c.ExpireTimeout(ctx, id, board.Red))
	m, _ := f.st.GetMatch(ctx, id)
	assert.Equal(t, store.MatchActive, m.Status)
	st, _ := f.c.clocks.Get(id)
	assert.True(t, st.Follows(1, board.Black))
}

func TestSettlingWaitsForRoomDomain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t)

	held, err := f.locks.Acquire(ctx, lock.RoomDomainKey)
	require.NoError(t, err)

	_, err = f.c.SyncMatch(ctx, id, "red")
	require.NoError(t, err, "reads only need the match key")

	done := make(chan error, 1)
	go func() {
		_, err := f.c.Resign(ctx, id, "red")
		done <- err
	}()
	select {
	case err := <-done:
		t.Fatalf("resign settled while room operations held the domain: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	require.NoError(t, held.Release(ctx))
	require.NoError(t, <-done)

	m, _ := f.st.GetMatch(ctx, id)
	assert.Equal(t, store.MatchSettled, m.Status)
}

func TestOfflineLoserGetsPendingSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t)

	ps, _ := f.st.GetPlayer(ctx, "red")
	at := f.now
	ps.DisconnectedAt = &at
	require.NoError(t, f.st.SavePlayer(ctx, ps))

	f.now = f.now.Add(121 * time.Second)
	require.NoError(t, f.c.ExpireTimeout(ctx, id, board.Red))
	ev, err := f.cache.PendingSettlement(ctx, "red")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "blk", ev.WinnerID)

	none, err := f.cache.PendingSettlement(ctx, "blk")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestDrawProposalFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t)

	require.NoError(t, f.c.ProposeDraw(ctx, id, "red"))
	assert.ErrorIs(t, f.c.ProposeDraw(ctx, id, "blk"), xiangqidto.ErrConflict)
	require.Len(t, f.rec.ofType(xiangqidto.EventProposal), 1)

	require.NoError(t, f.c.RespondDraw(ctx, id, "blk", false))
	assert.ErrorIs(t, f.c.ProposeDraw(ctx, id, "red"), xiangqidto.ErrRateLimited)

	f.now = f.now.Add(61 * time.Second)
	require.NoError(t, f.c.ProposeDraw(ctx, id, "red"))
	assert.ErrorIs(t, f.c.RespondDraw(ctx, id, "red", true), xiangqidto.ErrNotFound)
	require.NoError(t, f.c.RespondDraw(ctx, id, "blk", true))

	m, _ := f.st.GetMatch(ctx, id)
	assert.Equal(t, store.MatchSettled, m.Status)
	assert.Equal(t, ReasonDraw, m.ResultCode)
	assert.Empty(t, m.WinnerID)
	assert.ErrorIs(t, f.c.ProposeDraw(ctx, id, "blk"), xiangqidto.ErrStaleMatch)
}

func TestTakebackRestoresPreviousPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t)
	f.c.opts.MaxTakebacks = 1

	for i := 0; i < 30; i++ {
		f.c.clocks.Tick()
	}
	_, err := f.move(id, "red", 7, 1, 7, 4)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		f.c.clocks.Tick()
	}
	live, _ := f.c.clocks.Get(id)
	require.Equal(t, clock.Side{Total: 1170, Step: 90}, live.Red)
	require.Equal(t, clock.Side{Total: 1180, Step: 100}, live.Black)
	assert.ErrorIs(t, f.c.ProposeTakeback(ctx, id, "blk"), xiangqidto.ErrConflict)

	require.NoError(t, f.c.ProposeTakeback(ctx, id, "red"))
	assert.ErrorIs(t, f.c.RespondTakeback(ctx, id, "red", true), xiangqidto.ErrNotFound)
	require.NoError(t, f.c.RespondTakeback(ctx, id, "blk", true))

	last, err := f.st.LatestMove(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, last.Step)
	st, _ := f.c.clocks.Get(id)
	assert.Equal(t, board.Red, st.ToAct)
	assert.Equal(t, 0, st.AtStep)
	assert.Equal(t, clock.Side{Total: 1200, Step: 120}, st.Red, "red gets back the time spent on the undone move")
	assert.Equal(t, clock.Side{Total: 1200, Step: 120}, st.Black, "black gets back the time spent waiting to answer")
	assert.Len(t, f.rec.ofType(xiangqidto.EventBoard), 3)

	_, err = f.move(id, "red", 7, 7, 7, 4)
	require.NoError(t, err)
	f.now = f.now.Add(61 * time.Second)
	assert.ErrorIs(t, f.c.ProposeTakeback(ctx, id, "red"), xiangqidto.ErrConflict, "limit of one takeback")
}

func TestCheckmateSettlesAutomatically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t)
	f.inject(t, id, []board.Piece{
		piece("BJ", board.General, board.Black, 0, 4),
		piece("BC1", board.Rook, board.Black, 0, 3),
		piece("BC2", board.Rook, board.Black, 0, 5),
		piece("BM1", board.Horse, board.Black, 1, 4),
		piece("RC1", board.Rook, board.Red, 5, 4),
		piece("RM1", board.Horse, board.Red, 3, 3),
		piece("RJ", board.General, board.Red, 9, 3),
	}, board.Red)

	res, err := f.move(id, "red", 5, 4, 1, 4)
	require.NoError(t, err)
	assert.True(t, res.IsOver)
	assert.Equal(t, ReasonCheckmate, res.Reason)

	m, _ := f.st.GetMatch(ctx, id)
	assert.Equal(t, store.MatchSettled, m.Status)
	assert.Equal(t, "red", m.WinnerID)
}

func TestPerpetualCheckIsRejected(t *testing.T) {
	f := newFixture(t)
	id := f.start(t)
	f.c.perpetual = rules.NewPerpetualTracker(1, 10)
	f.inject(t, id, []board.Piece{
		piece("BJ", board.General, board.Black, 0, 4),
		piece("RC1", board.Rook, board.Red, 5, 0),
		piece("RJ", board.General, board.Red, 9, 3),
	}, board.Red)

	_, err := f.move(id, "red", 5, 0, 5, 4)
	require.NoError(t, err)
	// black general steps aside: canonical (0,4) -> (0,5)
	_, err = f.move(id, "blk", 9, 4, 9, 3)
	require.NoError(t, err)
	_, err = f.move(id, "red", 5, 4, 5, 5)
	assert.ErrorIs(t, err, xiangqidto.ErrPerpetualCheck)
}

func TestLeaveReturnsLeaverToPlatform(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t)

	ev, err := f.c.Leave(ctx, id, "red")
	require.NoError(t, err)
	assert.Equal(t, "blk", ev.WinnerID)

	red, _ := f.st.GetPlayer(ctx, "red")
	blk, _ := f.st.GetPlayer(ctx, "blk")
	assert.Equal(t, store.PlayerPlatform, red.Status)
	assert.Empty(t, red.RoomID)
	assert.True(t, blk.IsRoomAdmin)
	assert.True(t, blk.IsFirst)
	room, _ := f.st.GetRoom(ctx, "r1")
	assert.Equal(t, store.RoomWaiting, room.Status)
}

func TestStepConsistency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t)

	ok, view, err := f.c.CheckClientStepConsistency(ctx, id, "blk", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, view)

	ok, view, err = f.c.CheckClientStepConsistency(ctx, id, "blk", 4)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NotNil(t, view)
	assert.Equal(t, "black", view.MyColor)
	// black sees its own general at the bottom
	var general xiangqidto.PieceView
	for _, p := range view.Pieces {
		if p.ID == "BJ" {
			general = p
		}
	}
	assert.Equal(t, 9, general.X)
	assert.Len(t, f.rec.ofType(xiangqidto.EventBoard), 1)
}

func TestRecoverClocksRebuildsFromRecords(t *testing.T) {
	f := newFixture(t)
	id := f.start(t)
	f.c.clocks.Remove(id)

	f.now = f.now.Add(30 * time.Second)
	n, err := f.c.RecoverClocks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	st, ok := f.c.clocks.Get(id)
	require.True(t, ok)
	assert.Equal(t, clock.Side{Total: 1170, Step: 90}, st.Red)
	assert.Equal(t, board.Red, st.ToAct)
}

func TestScoreFromMaterial(t *testing.T) {
	pieces := board.InitialPieces()
	assert.Equal(t, 0, LostMaterial(pieces, board.Red))
	assert.Equal(t, 12, Score(pieces))

	var withoutRook []board.Piece
	for _, p := range pieces {
		if p.ID != "RC1" {
			withoutRook = append(withoutRook, p)
		}
	}
	assert.Equal(t, 10, LostMaterial(withoutRook, board.Red))
	assert.Equal(t, 22, Score(withoutRook))
}

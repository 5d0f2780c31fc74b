package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-xiangqi/internal/board"
	"github.com/park285/cheese-xiangqi/internal/clock"
	"github.com/park285/cheese-xiangqi/internal/store"
)

func TestTransitionMatchQueryIsConditional(t *testing.T) {
	now := time.Unix(1700000000, 0)
	sql, args, err := transitionMatchQuery("m1", store.MatchActive, store.MatchSettled,
		store.MatchResult{Code: "resign", Message: "resigned", WinnerID: "a"}, now).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "UPDATE xq_matches SET status = $1, updated_at = $2")
	assert.Contains(t, sql, "WHERE id = $6 AND status = $7")
	assert.Equal(t, []any{"settled", now, "resign", "resigned", "a", "m1", "active"}, args)
}

func TestTransitionMatchQueryWithoutResult(t *testing.T) {
	sql, args, err := transitionMatchQuery("m1", store.MatchActive, store.MatchTimedOut, store.MatchResult{}, time.Now()).ToSql()
	require.NoError(t, err)
	assert.NotContains(t, sql, "result_code")
	assert.Len(t, args, 4)
}

func TestInsertMoveQueryKeepsNullPoints(t *testing.T) {
	rec := &store.MoveRecord{
		MatchID:  "m1",
		Position: board.InitialPosition(),
		Red:      clock.Side{Total: 1200, Step: 120},
		Black:    clock.Side{Total: 1200, Step: 120},
	}
	sql, args, err := insertMoveQuery(rec).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "INSERT INTO xq_moves (match_id,step,position,acting")
	assert.Contains(t, sql, "$16")
	require.Len(t, args, 16)
	assert.Nil(t, args[8])
	assert.Nil(t, args[11])

	rec.Step = 1
	rec.Acting = board.Red
	rec.From = &board.Point{X: 7, Y: 1}
	rec.To = &board.Point{X: 7, Y: 4}
	_, args, err = insertMoveQuery(rec).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "red", args[3])
	assert.Equal(t, []any{7, 1, 7, 4}, args[8:12])
}

func TestDeleteLatestMoveQueryProtectsInitialRecord(t *testing.T) {
	sql, args, err := deleteLatestMoveQuery("m1").ToSql()
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM xq_moves WHERE match_id = $1 AND step > $2 AND step = (SELECT MAX(step) FROM xq_moves WHERE match_id = $3)", sql)
	assert.Equal(t, []any{"m1", 0, "m1"}, args)
}

func TestUpsertPlayerQuery(t *testing.T) {
	at := time.Unix(1700000000, 0)
	sql, args, err := upsertPlayerQuery(&store.PlayerState{PlayerID: "a", Status: store.PlayerInMatch, Page: store.PageBoard, DisconnectedAt: &at}).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "ON CONFLICT (player_id) DO UPDATE SET")
	assert.Equal(t, "inMatch", args[1])
	assert.Equal(t, at, args[9])
}

func TestDisconnectedBeforeQuery(t *testing.T) {
	cut := time.Unix(1700000000, 0)
	sql, args, err := disconnectedBeforeQuery(store.PlayerInMatch, cut).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE status = $1 AND disconnected_at < $2")
	assert.Equal(t, []any{"inMatch", cut}, args)
}

func TestRecordResultQueryAccumulates(t *testing.T) {
	sql, args, err := recordResultQuery("a", -14, store.OutcomeLoss).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "score = xq_ratings.score + EXCLUDED.score")
	assert.Equal(t, []any{"a", -14, 0, 1, 0, 1}, args)
}

func TestResolveProposalOnlyWhenPending(t *testing.T) {
	sql, _, err := resolveProposalQuery("p1", store.ProposalAccepted, time.Now()).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE id = $3 AND result = $4")
}

func TestSchemaDeclaresTables(t *testing.T) {
	for _, table := range []string{"xq_rooms", "xq_matches", "xq_participants", "xq_moves", "xq_players", "xq_proposals", "xq_ratings"} {
		assert.Contains(t, schemaSQL, "CREATE TABLE IF NOT EXISTS "+table)
	}
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/park285/cheese-xiangqi/internal/board"
	"github.com/park285/cheese-xiangqi/internal/store"
)

var matchColumns = []string{"id", "room_id", "status", "result_code", "result_message", "winner_id", "created_at", "updated_at"}

func insertMatchQuery(m *store.Match) squirrel.InsertBuilder {
	return sqlBuilder.Insert("xq_matches").
		Columns(matchColumns...).
		Values(m.ID, m.RoomID, string(m.Status), m.ResultCode, m.ResultMessage, m.WinnerID, m.CreatedAt, m.UpdatedAt)
}

func insertParticipantsQuery(parts []store.Participant) squirrel.InsertBuilder {
	q := sqlBuilder.Insert("xq_participants").Columns("match_id", "player_id", "opponent_id", "color", "score_delta")
	for _, p := range parts {
		q = q.Values(p.MatchID, p.PlayerID, p.OpponentID, p.Color.String(), p.ScoreDelta)
	}
	return q
}

func transitionMatchQuery(id string, from, to store.MatchStatus, res store.MatchResult, now time.Time) squirrel.UpdateBuilder {
	q := sqlBuilder.Update("xq_matches").Set("status", string(to)).Set("updated_at", now)
	if res.Code != "" {
		q = q.Set("result_code", res.Code).
			Set("result_message", res.Message).
			Set("winner_id", res.WinnerID)
	}
	return q.Where(squirrel.Eq{"id": id}).Where(squirrel.Eq{"status": string(from)})
}

func (r *Repository) CreateMatch(ctx context.Context, m *store.Match, parts []store.Participant) error {
	if m == nil {
		return fmt.Errorf("nil match payload")
	}
	return r.InTx(ctx, func(ctx context.Context) error {
		if _, err := r.exec(ctx, insertMatchQuery(m)); err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
		if len(parts) == 0 {
			return nil
		}
		if _, err := r.exec(ctx, insertParticipantsQuery(parts)); err != nil {
			return fmt.Errorf("insert participants: %w", err)
		}
		return nil
	})
}

func (r *Repository) GetMatch(ctx context.Context, id string) (*store.Match, error) {
	row, err := r.queryRow(ctx, sqlBuilder.Select(matchColumns...).From("xq_matches").Where(squirrel.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	var (
		m      store.Match
		status string
	)
	if err := row.Scan(&m.ID, &m.RoomID, &status, &m.ResultCode, &m.ResultMessage, &m.WinnerID, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("select match: %w", err)
	}
	m.Status = store.MatchStatus(status)
	return &m, nil
}

func (r *Repository) ActiveMatches(ctx context.Context) ([]store.Match, error) {
	rows, err := r.query(ctx, sqlBuilder.Select(matchColumns...).
		From("xq_matches").
		Where(squirrel.Eq{"status": string(store.MatchActive)}).
		OrderBy("id"))
	if err != nil {
		return nil, fmt.Errorf("select active matches: %w", err)
	}
	defer rows.Close()
	var out []store.Match
	for rows.Next() {
		var (
			m      store.Match
			status string
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &status, &m.ResultCode, &m.ResultMessage, &m.WinnerID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		m.Status = store.MatchStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) TransitionMatch(ctx context.Context, id string, from, to store.MatchStatus, result store.MatchResult) (bool, error) {
	res, err := r.exec(ctx, transitionMatchQuery(id, from, to, result, time.Now()))
	if err != nil {
		return false, fmt.Errorf("transition match: %w", err)
	}
	if affected(res) == 1 {
		return true, nil
	}
	if _, err := r.GetMatch(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *Repository) Participants(ctx context.Context, matchID string) ([]store.Participant, error) {
	rows, err := r.query(ctx, sqlBuilder.
		Select("match_id", "player_id", "opponent_id", "color", "score_delta").
		From("xq_participants").
		Where(squirrel.Eq{"match_id": matchID}).
		OrderBy("player_id"))
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}
	defer rows.Close()
	var parts []store.Participant
	for rows.Next() {
		var (
			p     store.Participant
			color string
		)
		if err := rows.Scan(&p.MatchID, &p.PlayerID, &p.OpponentID, &color, &p.ScoreDelta); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.Color, _ = board.ParseColor(color)
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, store.ErrNotFound
	}
	return parts, nil
}

func (r *Repository) SetScoreDelta(ctx context.Context, matchID, playerID string, delta int) error {
	res, err := r.exec(ctx, sqlBuilder.Update("xq_participants").
		Set("score_delta", delta).
		Where(squirrel.Eq{"match_id": matchID}).
		Where(squirrel.Eq{"player_id": playerID}))
	if err != nil {
		return fmt.Errorf("update score: %w", err)
	}
	if affected(res) == 0 {
		return store.ErrNotFound
	}
	return nil
}

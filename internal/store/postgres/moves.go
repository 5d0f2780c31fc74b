package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/park285/cheese-xiangqi/internal/board"
	"github.com/park285/cheese-xiangqi/internal/store"
)

var moveColumns = []string{
	"match_id", "step", "position", "acting",
	"red_total", "red_step", "black_total", "black_step",
	"from_x", "from_y", "to_x", "to_y",
	"moved_id", "annotation", "think_seconds", "created_at",
}

func pointArgs(p *board.Point) (any, any) {
	if p == nil {
		return nil, nil
	}
	return p.X, p.Y
}

func insertMoveQuery(rec *store.MoveRecord) squirrel.InsertBuilder {
	fx, fy := pointArgs(rec.From)
	tx, ty := pointArgs(rec.To)
	return sqlBuilder.Insert("xq_moves").
		Columns(moveColumns...).
		Values(rec.MatchID, rec.Step, rec.Position, rec.Acting.String(),
			rec.Red.Total, rec.Red.Step, rec.Black.Total, rec.Black.Step,
			fx, fy, tx, ty,
			rec.MovedID, rec.Annotation, rec.ThinkSeconds, rec.CreatedAt)
}

// deleteLatestMoveQuery never removes the initial record (step 0).
func deleteLatestMoveQuery(matchID string) squirrel.DeleteBuilder {
	return sqlBuilder.Delete("xq_moves").
		Where(squirrel.Eq{"match_id": matchID}).
		Where(squirrel.Gt{"step": 0}).
		Where("step = (SELECT MAX(step) FROM xq_moves WHERE match_id = ?)", matchID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMove(s rowScanner) (store.MoveRecord, error) {
	var (
		rec                    store.MoveRecord
		acting                 string
		fromX, fromY, toX, toY sql.NullInt64
	)
	err := s.Scan(&rec.MatchID, &rec.Step, &rec.Position, &acting,
		&rec.Red.Total, &rec.Red.Step, &rec.Black.Total, &rec.Black.Step,
		&fromX, &fromY, &toX, &toY,
		&rec.MovedID, &rec.Annotation, &rec.ThinkSeconds, &rec.CreatedAt)
	if err != nil {
		return rec, err
	}
	rec.Acting, _ = board.ParseColor(acting)
	if fromX.Valid && fromY.Valid {
		rec.From = &board.Point{X: int(fromX.Int64), Y: int(fromY.Int64)}
	}
	if toX.Valid && toY.Valid {
		rec.To = &board.Point{X: int(toX.Int64), Y: int(toY.Int64)}
	}
	return rec, nil
}

func (r *Repository) AppendMove(ctx context.Context, rec *store.MoveRecord) error {
	if rec == nil {
		return fmt.Errorf("nil move payload")
	}
	if _, err := r.exec(ctx, insertMoveQuery(rec)); err != nil {
		return fmt.Errorf("insert move: %w", err)
	}
	return nil
}

func (r *Repository) LatestMove(ctx context.Context, matchID string) (*store.MoveRecord, error) {
	row, err := r.queryRow(ctx, sqlBuilder.Select(moveColumns...).
		From("xq_moves").
		Where(squirrel.Eq{"match_id": matchID}).
		OrderBy("step DESC").
		Limit(1))
	if err != nil {
		return nil, err
	}
	rec, err := scanMove(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("select latest move: %w", err)
	}
	return &rec, nil
}

func (r *Repository) ListMoves(ctx context.Context, matchID string) ([]store.MoveRecord, error) {
	rows, err := r.query(ctx, sqlBuilder.Select(moveColumns...).
		From("xq_moves").
		Where(squirrel.Eq{"match_id": matchID}).
		OrderBy("step ASC"))
	if err != nil {
		return nil, fmt.Errorf("select moves: %w", err)
	}
	defer rows.Close()
	var out []store.MoveRecord
	for rows.Next() {
		rec, err := scanMove(rows)
		if err != nil {
			return nil, fmt.Errorf("scan move: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteLatestMove(ctx context.Context, matchID string) error {
	res, err := r.exec(ctx, deleteLatestMoveQuery(matchID))
	if err != nil {
		return fmt.Errorf("delete latest move: %w", err)
	}
	if affected(res) == 0 {
		return store.ErrNotFound
	}
	return nil
}

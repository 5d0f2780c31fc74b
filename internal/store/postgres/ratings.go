package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/park285/cheese-xiangqi/internal/store"
)

func recordResultQuery(playerID string, delta int, outcome store.GameOutcome) squirrel.InsertBuilder {
	var win, loss, draw int
	switch outcome {
	case store.OutcomeWin:
		win = 1
	case store.OutcomeLoss:
		loss = 1
	case store.OutcomeDraw:
		draw = 1
	}
	return sqlBuilder.Insert("xq_ratings").
		Columns("player_id", "score", "wins", "losses", "draws", "games").
		Values(playerID, delta, win, loss, draw, 1).
		Suffix(`ON CONFLICT (player_id) DO UPDATE SET
			score = xq_ratings.score + EXCLUDED.score,
			wins = xq_ratings.wins + EXCLUDED.wins,
			losses = xq_ratings.losses + EXCLUDED.losses,
			draws = xq_ratings.draws + EXCLUDED.draws,
			games = xq_ratings.games + 1`)
}

// GetRating returns a zero rating for players without results.
func (r *Repository) GetRating(ctx context.Context, playerID string) (*store.Rating, error) {
	row, err := r.queryRow(ctx, sqlBuilder.Select("player_id", "score", "wins", "losses", "draws", "games").
		From("xq_ratings").
		Where(squirrel.Eq{"player_id": playerID}))
	if err != nil {
		return nil, err
	}
	var rt store.Rating
	if err := row.Scan(&rt.PlayerID, &rt.Score, &rt.Wins, &rt.Losses, &rt.Draws, &rt.Games); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &store.Rating{PlayerID: playerID}, nil
		}
		return nil, fmt.Errorf("select rating: %w", err)
	}
	return &rt, nil
}

func (r *Repository) RecordResult(ctx context.Context, playerID string, delta int, outcome store.GameOutcome) error {
	if _, err := r.exec(ctx, recordResultQuery(playerID, delta, outcome)); err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	return nil
}

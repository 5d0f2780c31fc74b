package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/park285/cheese-xiangqi/internal/store"
)

func (r *Repository) GetRoom(ctx context.Context, id string) (*store.Room, error) {
	row, err := r.queryRow(ctx, sqlBuilder.Select("id", "status", "match_id", "created_at", "updated_at").
		From("xq_rooms").
		Where(squirrel.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	var (
		room   store.Room
		status string
	)
	if err := row.Scan(&room.ID, &status, &room.MatchID, &room.CreatedAt, &room.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("select room: %w", err)
	}
	room.Status = store.RoomStatus(status)
	return &room, nil
}

func (r *Repository) SaveRoom(ctx context.Context, room *store.Room) error {
	if room == nil {
		return fmt.Errorf("nil room payload")
	}
	_, err := r.exec(ctx, sqlBuilder.Insert("xq_rooms").
		Columns("id", "status", "match_id", "created_at", "updated_at").
		Values(room.ID, string(room.Status), room.MatchID, room.CreatedAt, room.UpdatedAt).
		Suffix("ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, match_id = EXCLUDED.match_id, updated_at = EXCLUDED.updated_at"))
	if err != nil {
		return fmt.Errorf("upsert room: %w", err)
	}
	return nil
}

func (r *Repository) CountOccupiedRooms(ctx context.Context) (int, error) {
	row, err := r.queryRow(ctx, sqlBuilder.Select("COUNT(*)").
		From("xq_rooms").
		Where(squirrel.NotEq{"status": string(store.RoomEmpty)}))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count rooms: %w", err)
	}
	return n, nil
}

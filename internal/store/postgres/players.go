package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/park285/cheese-xiangqi/internal/store"
)

var playerColumns = []string{
	"player_id", "status", "page", "room_id", "match_id", "join_type",
	"is_ready", "is_first", "is_room_admin", "disconnected_at", "action_at",
}

func upsertPlayerQuery(p *store.PlayerState) squirrel.InsertBuilder {
	var disconnected any
	if p.DisconnectedAt != nil {
		disconnected = *p.DisconnectedAt
	}
	return sqlBuilder.Insert("xq_players").
		Columns(playerColumns...).
		Values(p.PlayerID, string(p.Status), string(p.Page), p.RoomID, p.MatchID, p.JoinType,
			p.IsReady, p.IsFirst, p.IsRoomAdmin, disconnected, p.ActionAt).
		Suffix(`ON CONFLICT (player_id) DO UPDATE SET
			status = EXCLUDED.status,
			page = EXCLUDED.page,
			room_id = EXCLUDED.room_id,
			match_id = EXCLUDED.match_id,
			join_type = EXCLUDED.join_type,
			is_ready = EXCLUDED.is_ready,
			is_first = EXCLUDED.is_first,
			is_room_admin = EXCLUDED.is_room_admin,
			disconnected_at = EXCLUDED.disconnected_at,
			action_at = EXCLUDED.action_at`)
}

func scanPlayer(s rowScanner) (store.PlayerState, error) {
	var (
		p            store.PlayerState
		status, page string
		disconnected sql.NullTime
	)
	err := s.Scan(&p.PlayerID, &status, &page, &p.RoomID, &p.MatchID, &p.JoinType,
		&p.IsReady, &p.IsFirst, &p.IsRoomAdmin, &disconnected, &p.ActionAt)
	if err != nil {
		return p, err
	}
	p.Status = store.PlayerStatus(status)
	p.Page = store.Page(page)
	if disconnected.Valid {
		t := disconnected.Time
		p.DisconnectedAt = &t
	}
	return p, nil
}

func (r *Repository) GetPlayer(ctx context.Context, playerID string) (*store.PlayerState, error) {
	row, err := r.queryRow(ctx, sqlBuilder.Select(playerColumns...).From("xq_players").Where(squirrel.Eq{"player_id": playerID}))
	if err != nil {
		return nil, err
	}
	p, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("select player: %w", err)
	}
	return &p, nil
}

func (r *Repository) SavePlayer(ctx context.Context, p *store.PlayerState) error {
	if p == nil {
		return fmt.Errorf("nil player payload")
	}
	if _, err := r.exec(ctx, upsertPlayerQuery(p)); err != nil {
		return fmt.Errorf("upsert player: %w", err)
	}
	return nil
}

func (r *Repository) listPlayers(ctx context.Context, b squirrel.SelectBuilder) ([]store.PlayerState, error) {
	rows, err := r.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("select players: %w", err)
	}
	defer rows.Close()
	var out []store.PlayerState
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) PlayersInRoom(ctx context.Context, roomID string) ([]store.PlayerState, error) {
	return r.listPlayers(ctx, sqlBuilder.Select(playerColumns...).
		From("xq_players").
		Where(squirrel.Eq{"room_id": roomID}).
		Where(squirrel.Eq{"status": []string{string(store.PlayerInRoom), string(store.PlayerInMatch)}}).
		OrderBy("player_id"))
}

func (r *Repository) WatchersOf(ctx context.Context, roomID string) ([]store.PlayerState, error) {
	return r.listPlayers(ctx, sqlBuilder.Select(playerColumns...).
		From("xq_players").
		Where(squirrel.Eq{"room_id": roomID, "status": string(store.PlayerWatching)}).
		OrderBy("player_id"))
}

func disconnectedBeforeQuery(status store.PlayerStatus, before time.Time) squirrel.SelectBuilder {
	return sqlBuilder.Select(playerColumns...).
		From("xq_players").
		Where(squirrel.Eq{"status": string(status)}).
		Where(squirrel.Lt{"disconnected_at": before}).
		OrderBy("player_id")
}

func (r *Repository) DisconnectedBefore(ctx context.Context, status store.PlayerStatus, before time.Time) ([]store.PlayerState, error) {
	return r.listPlayers(ctx, disconnectedBeforeQuery(status, before))
}

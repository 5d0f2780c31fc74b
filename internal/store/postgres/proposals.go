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

var proposalColumns = []string{"id", "match_id", "player_id", "kind", "result", "step", "created_at", "responded_at"}

func scanProposal(s rowScanner) (*store.Proposal, error) {
	var (
		p            store.Proposal
		kind, result string
		responded    sql.NullTime
	)
	if err := s.Scan(&p.ID, &p.MatchID, &p.PlayerID, &kind, &result, &p.Step, &p.CreatedAt, &responded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan proposal: %w", err)
	}
	p.Kind = store.ProposalKind(kind)
	p.Result = store.ProposalResult(result)
	if responded.Valid {
		t := responded.Time
		p.RespondedAt = &t
	}
	return &p, nil
}

func (r *Repository) CreateProposal(ctx context.Context, p *store.Proposal) error {
	if p == nil {
		return fmt.Errorf("nil proposal payload")
	}
	_, err := r.exec(ctx, sqlBuilder.Insert("xq_proposals").
		Columns(proposalColumns...).
		Values(p.ID, p.MatchID, p.PlayerID, string(p.Kind), string(p.Result), p.Step, p.CreatedAt, nil))
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

func (r *Repository) latestProposal(ctx context.Context, where ...squirrel.Sqlizer) (*store.Proposal, error) {
	q := sqlBuilder.Select(proposalColumns...).From("xq_proposals")
	for _, w := range where {
		q = q.Where(w)
	}
	row, err := r.queryRow(ctx, q.OrderBy("created_at DESC").Limit(1))
	if err != nil {
		return nil, err
	}
	return scanProposal(row)
}

func (r *Repository) PendingProposal(ctx context.Context, matchID string, kind store.ProposalKind) (*store.Proposal, error) {
	return r.latestProposal(ctx,
		squirrel.Eq{"match_id": matchID},
		squirrel.Eq{"kind": string(kind)},
		squirrel.Eq{"result": string(store.ProposalPending)})
}

func (r *Repository) LastProposal(ctx context.Context, matchID, playerID string, kind store.ProposalKind) (*store.Proposal, error) {
	return r.latestProposal(ctx,
		squirrel.Eq{"match_id": matchID},
		squirrel.Eq{"player_id": playerID},
		squirrel.Eq{"kind": string(kind)})
}

func resolveProposalQuery(id string, result store.ProposalResult, at time.Time) squirrel.UpdateBuilder {
	return sqlBuilder.Update("xq_proposals").
		Set("result", string(result)).
		Set("responded_at", at).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.Eq{"result": string(store.ProposalPending)})
}

// ResolveProposal reports ErrConflict when the proposal is missing or was already answered.
func (r *Repository) ResolveProposal(ctx context.Context, id string, result store.ProposalResult, at time.Time) error {
	res, err := r.exec(ctx, resolveProposalQuery(id, result, at))
	if err != nil {
		return fmt.Errorf("resolve proposal: %w", err)
	}
	if affected(res) == 0 {
		return store.ErrConflict
	}
	return nil
}

func (r *Repository) CountProposals(ctx context.Context, matchID, playerID string, kind store.ProposalKind, result store.ProposalResult) (int, error) {
	row, err := r.queryRow(ctx, sqlBuilder.Select("COUNT(*)").
		From("xq_proposals").
		Where(squirrel.Eq{"match_id": matchID}).
		Where(squirrel.Eq{"player_id": playerID}).
		Where(squirrel.Eq{"kind": string(kind)}).
		Where(squirrel.Eq{"result": string(result)}))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count proposals: %w", err)
	}
	return n, nil
}

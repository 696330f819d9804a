package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"folio/internal/profile/models"
	id "folio/pkg/domain"
	"folio/pkg/platform/sentinel"
	"folio/pkg/platform/tx"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres persists live profiles in PostgreSQL. Reads inside a per-owner
// transaction take FOR UPDATE so the promotion decision sees a consistent
// snapshot of visibility and body.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) q(ctx context.Context) querier {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.pool
}

func (s *Postgres) FindByOwner(ctx context.Context, owner id.OwnerID) (*models.Profile, error) {
	query := `SELECT owner_id, body, visible, created_at, updated_at FROM profiles WHERE owner_id = $1`
	if _, inTx := tx.From(ctx); inTx {
		query += ` FOR UPDATE`
	}
	row := s.q(ctx).QueryRow(ctx, query, owner.String())

	var (
		p       models.Profile
		rawBody []byte
		ownerID string
	)
	if err := row.Scan(&ownerID, &rawBody, &p.Visible, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find profile: %w", err)
	}
	p.OwnerID = id.OwnerID(ownerID)
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &p.Body); err != nil {
			return nil, fmt.Errorf("unmarshal profile body: %w", err)
		}
	}
	return &p, nil
}

func (s *Postgres) Create(ctx context.Context, p *models.Profile) error {
	body, err := json.Marshal(p.Body)
	if err != nil {
		return fmt.Errorf("marshal profile body: %w", err)
	}
	_, err = s.q(ctx).Exec(ctx, `
		INSERT INTO profiles (owner_id, body, visible, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		p.OwnerID.String(), body, p.Visible, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (s *Postgres) Update(ctx context.Context, p *models.Profile) error {
	body, err := json.Marshal(p.Body)
	if err != nil {
		return fmt.Errorf("marshal profile body: %w", err)
	}
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE profiles SET body = $1, visible = $2, updated_at = $3 WHERE owner_id = $4`,
		body, p.Visible, p.UpdatedAt, p.OwnerID.String(),
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

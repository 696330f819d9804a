package version

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

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so statements run on
// the per-owner transaction when one is in context.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres persists versions in PostgreSQL with an optimistic revision
// column. Concurrent writers to the same version lose the revision check and
// get ErrConflict; the workflow retries with the merge re-applied.
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

const versionColumns = `id, owner_id, kind, body, changed_fields, status, submit_count, reviewer_id, comments, revision, created_at, updated_at`

func (s *Postgres) FindByID(ctx context.Context, versionID id.VersionID) (*models.Version, error) {
	row := s.q(ctx).QueryRow(ctx,
		`SELECT `+versionColumns+` FROM versions WHERE id = $1`, versionID.String())
	return scanVersion(row)
}

func (s *Postgres) FindByOwner(ctx context.Context, owner id.OwnerID, kind models.VersionKind) (*models.Version, error) {
	row := s.q(ctx).QueryRow(ctx,
		`SELECT `+versionColumns+` FROM versions WHERE owner_id = $1 AND kind = $2`,
		owner.String(), string(kind))
	return scanVersion(row)
}

func (s *Postgres) Create(ctx context.Context, v *models.Version) error {
	body, err := json.Marshal(v.Body)
	if err != nil {
		return fmt.Errorf("marshal version body: %w", err)
	}
	v.Revision = 1
	_, err = s.q(ctx).Exec(ctx, `
		INSERT INTO versions (id, owner_id, kind, body, changed_fields, status, submit_count, reviewer_id, comments, revision, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		v.ID.String(), v.OwnerID.String(), string(v.Kind), body, v.ChangedFields,
		string(v.Status), v.SubmitCount, v.ReviewerID.String(), v.Comments,
		v.Revision, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create version: %w", err)
	}
	return nil
}

func (s *Postgres) Update(ctx context.Context, v *models.Version) error {
	body, err := json.Marshal(v.Body)
	if err != nil {
		return fmt.Errorf("marshal version body: %w", err)
	}
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE versions
		SET body = $1, changed_fields = $2, status = $3, submit_count = $4,
		    reviewer_id = $5, comments = $6, revision = revision + 1, updated_at = $7
		WHERE id = $8 AND revision = $9`,
		body, v.ChangedFields, string(v.Status), v.SubmitCount,
		v.ReviewerID.String(), v.Comments, v.UpdatedAt,
		v.ID.String(), v.Revision,
	)
	if err != nil {
		return fmt.Errorf("update version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the row vanished or a concurrent writer bumped the revision.
		row := s.q(ctx).QueryRow(ctx, `SELECT 1 FROM versions WHERE id = $1`, v.ID.String())
		var one int
		if scanErr := row.Scan(&one); scanErr != nil {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	v.Revision++
	return nil
}

func scanVersion(row pgx.Row) (*models.Version, error) {
	var (
		v        models.Version
		rawID    string
		rawBody  []byte
		kind     string
		status   string
		owner    string
		reviewer string
	)
	err := row.Scan(&rawID, &owner, &kind, &rawBody, &v.ChangedFields, &status,
		&v.SubmitCount, &reviewer, &v.Comments, &v.Revision, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan version: %w", err)
	}
	versionID, err := id.ParseVersionID(rawID)
	if err != nil {
		return nil, err
	}
	v.ID = versionID
	v.OwnerID = id.OwnerID(owner)
	v.Kind = models.VersionKind(kind)
	v.Status = models.ReviewStatus(status)
	v.ReviewerID = id.ReviewerID(reviewer)
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &v.Body); err != nil {
			return nil, fmt.Errorf("unmarshal version body: %w", err)
		}
	}
	if v.ChangedFields == nil {
		v.ChangedFields = []string{}
	}
	return &v, nil
}

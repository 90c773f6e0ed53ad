package sensitivity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careledger/careledger/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type pgRepo struct{ pool *pgxpool.Pool }

func NewPGRepo(pool *pgxpool.Pool) Repository { return &pgRepo{pool: pool} }

func (r *pgRepo) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const tagCols = `id, resource_type, resource_id, level, category, created_at, updated_at`

func scanTag(row pgx.Row) (*Tag, error) {
	var t Tag
	err := row.Scan(&t.ID, &t.ResourceType, &t.ResourceID, &t.Level, &t.Category,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *pgRepo) Upsert(ctx context.Context, t *Tag) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO sensitivity_tag (id, resource_type, resource_id, level, category)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (resource_type, resource_id)
		DO UPDATE SET level = EXCLUDED.level, category = EXCLUDED.category, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		t.ID, t.ResourceType, t.ResourceID, t.Level, t.Category).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (r *pgRepo) GetByID(ctx context.Context, id uuid.UUID) (*Tag, error) {
	return scanTag(r.conn(ctx).QueryRow(ctx,
		`SELECT `+tagCols+` FROM sensitivity_tag WHERE id = $1`, id))
}

func (r *pgRepo) GetByResource(ctx context.Context, resourceType, resourceID string) (*Tag, error) {
	return scanTag(r.conn(ctx).QueryRow(ctx,
		`SELECT `+tagCols+` FROM sensitivity_tag WHERE resource_type = $1 AND resource_id = $2`,
		resourceType, resourceID))
}

func (r *pgRepo) List(ctx context.Context, limit, offset int) ([]*Tag, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM sensitivity_tag`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+tagCols+` FROM sensitivity_tag ORDER BY resource_type, resource_id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

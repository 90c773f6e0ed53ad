package breakglass

import (
	"context"
	"errors"
	"time"

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

const grantCols = `id, user_id, patient_id, reason, reason_category,
	approved_by, approved_at, access_granted_at, access_expires_at,
	revoked, revoked_by, revoked_at, created_at, updated_at`

func (r *pgRepo) scanGrant(row pgx.Row) (*Grant, error) {
	var g Grant
	err := row.Scan(&g.ID, &g.UserID, &g.PatientID, &g.Reason, &g.ReasonCategory,
		&g.ApprovedBy, &g.ApprovedAt, &g.AccessGrantedAt, &g.AccessExpiresAt,
		&g.Revoked, &g.RevokedBy, &g.RevokedAt, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

func (r *pgRepo) loadResources(ctx context.Context, g *Grant) error {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT resource_type, resource_id FROM break_glass_resource
		 WHERE grant_id = $1 ORDER BY recorded_at ASC`, g.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var ref ResourceRef
		if err := rows.Scan(&ref.Type, &ref.ID); err != nil {
			return err
		}
		g.ResourcesAccessed = append(g.ResourcesAccessed, ref)
	}
	return rows.Err()
}

func (r *pgRepo) Create(ctx context.Context, g *Grant) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO break_glass_grant (id, user_id, patient_id, reason, reason_category,
			access_granted_at, access_expires_at, revoked)
		VALUES ($1,$2,$3,$4,$5,$6,$7,false)`,
		g.ID, g.UserID, g.PatientID, g.Reason, g.ReasonCategory,
		g.AccessGrantedAt, g.AccessExpiresAt)
	return err
}

func (r *pgRepo) GetByID(ctx context.Context, id uuid.UUID) (*Grant, error) {
	g, err := r.scanGrant(r.conn(ctx).QueryRow(ctx,
		`SELECT `+grantCols+` FROM break_glass_grant WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadResources(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (r *pgRepo) FindActive(ctx context.Context, userID, patientID string, now time.Time) (*Grant, error) {
	g, err := r.scanGrant(r.conn(ctx).QueryRow(ctx, `
		SELECT `+grantCols+` FROM break_glass_grant
		WHERE user_id = $1 AND patient_id = $2 AND revoked = false
		  AND access_granted_at <= $3 AND access_expires_at > $3
		ORDER BY access_granted_at DESC LIMIT 1`,
		userID, patientID, now))
	if err != nil {
		return nil, err
	}
	if err := r.loadResources(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (r *pgRepo) AddResource(ctx context.Context, grantID uuid.UUID, ref ResourceRef) error {
	// ON CONFLICT keeps recordAccess idempotent under the unique
	// (grant_id, resource_type, resource_id) constraint.
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO break_glass_resource (grant_id, resource_type, resource_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (grant_id, resource_type, resource_id) DO NOTHING`,
		grantID, ref.Type, ref.ID)
	return err
}

func (r *pgRepo) Revoke(ctx context.Context, grantID uuid.UUID, revokedBy string, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE break_glass_grant
		SET revoked = true, revoked_by = $2, revoked_at = $3, updated_at = $3
		WHERE id = $1 AND revoked = false`,
		grantID, revokedBy, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already revoked; distinguish the two.
		var exists bool
		if err := r.conn(ctx).QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM break_glass_grant WHERE id = $1)`, grantID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (r *pgRepo) Approve(ctx context.Context, grantID uuid.UUID, approvedBy string, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE break_glass_grant
		SET approved_by = $2, approved_at = $3, updated_at = $3
		WHERE id = $1 AND approved_by IS NULL`,
		grantID, approvedBy, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.conn(ctx).QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM break_glass_grant WHERE id = $1)`, grantID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (r *pgRepo) List(ctx context.Context, limit, offset int) ([]*Grant, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM break_glass_grant`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+grantCols+` FROM break_glass_grant ORDER BY access_granted_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Grant
	for rows.Next() {
		g, err := r.scanGrant(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, g)
	}
	return items, total, rows.Err()
}

func (r *pgRepo) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Grant, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM break_glass_grant WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+grantCols+` FROM break_glass_grant WHERE patient_id = $1
		 ORDER BY access_granted_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Grant
	for rows.Next() {
		g, err := r.scanGrant(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, g)
	}
	return items, total, rows.Err()
}

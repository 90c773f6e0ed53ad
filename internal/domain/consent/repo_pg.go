package consent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careledger/careledger/internal/domain/sensitivity"
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

const directiveCols = `id, patient_id, type, status, scope, categories, permitted_roles,
	valid_from, valid_until, verified, verified_by, verified_at,
	revoked_by, revoked_at, created_at, updated_at`

func scanDirective(row pgx.Row) (*Directive, error) {
	var d Directive
	var categories []string
	err := row.Scan(&d.ID, &d.PatientID, &d.Type, &d.Status, &d.Scope, &categories, &d.PermittedRoles,
		&d.ValidFrom, &d.ValidUntil, &d.Verified, &d.VerifiedBy, &d.VerifiedAt,
		&d.RevokedBy, &d.RevokedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	for _, c := range categories {
		d.Categories = append(d.Categories, sensitivity.Category(c))
	}
	return &d, nil
}

func categoryStrings(categories []sensitivity.Category) []string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c)
	}
	return out
}

func (r *pgRepo) Create(ctx context.Context, d *Directive) error {
	roles := d.PermittedRoles
	if roles == nil {
		roles = []string{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO consent_directive
			(id, patient_id, type, status, scope, categories, permitted_roles, valid_from, valid_until, verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.PatientID, d.Type, d.Status, d.Scope, categoryStrings(d.Categories), roles,
		d.ValidFrom, d.ValidUntil, d.Verified)
	return err
}

func (r *pgRepo) GetByID(ctx context.Context, id uuid.UUID) (*Directive, error) {
	return scanDirective(r.conn(ctx).QueryRow(ctx,
		`SELECT `+directiveCols+` FROM consent_directive WHERE id = $1`, id))
}

func (r *pgRepo) ListActive(ctx context.Context, patientID string, now time.Time) ([]*Directive, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+directiveCols+`
		FROM consent_directive
		WHERE patient_id = $1
		  AND status = 'active'
		  AND (valid_from IS NULL OR valid_from <= $2)
		  AND (valid_until IS NULL OR valid_until >= $2)
		ORDER BY updated_at DESC`,
		patientID, now)
	if err != nil {
		return nil, err
	}
	return collectDirectives(rows)
}

func (r *pgRepo) ListByPatient(ctx context.Context, patientID string) ([]*Directive, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+directiveCols+` FROM consent_directive WHERE patient_id = $1 ORDER BY updated_at DESC`,
		patientID)
	if err != nil {
		return nil, err
	}
	return collectDirectives(rows)
}

func collectDirectives(rows pgx.Rows) ([]*Directive, error) {
	defer rows.Close()

	var out []*Directive
	for rows.Next() {
		d, err := scanDirective(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *pgRepo) Verify(ctx context.Context, id uuid.UUID, verifiedBy string, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consent_directive
		SET verified = true, verified_by = $2, verified_at = $3, updated_at = $3
		WHERE id = $1 AND verified = false`,
		id, verifiedBy, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.ensureExists(ctx, id)
	}
	return nil
}

func (r *pgRepo) Revoke(ctx context.Context, id uuid.UUID, revokedBy string, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consent_directive
		SET status = 'revoked', revoked_by = $2, revoked_at = $3, updated_at = $3
		WHERE id = $1 AND status <> 'revoked'`,
		id, revokedBy, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.ensureExists(ctx, id)
	}
	return nil
}

// ensureExists distinguishes a conditional update that matched nothing
// because the row is missing from one that matched nothing because the
// transition already happened.
func (r *pgRepo) ensureExists(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM consent_directive WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

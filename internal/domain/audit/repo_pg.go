package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careledger/careledger/internal/platform/crypto"
	"github.com/careledger/careledger/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type pgRepo struct{ pool *pgxpool.Pool }

// NewPGRepo creates a Postgres-backed ledger repository. The audit_event
// table carries triggers rejecting UPDATE/DELETE (see migrations), so even a
// buggy caller cannot rewrite history through this pool.
func NewPGRepo(pool *pgxpool.Pool) Repository { return &pgRepo{pool: pool} }

func (r *pgRepo) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const eventCols = `id, seq, ts, actor_id, actor_role, ip_address, action,
	resource_type, resource_id, endpoint, http_method, status_code,
	old_value_ciphertext, old_value_iv, old_value_tag,
	new_value_ciphertext, new_value_iv, new_value_tag,
	old_value_hash, new_value_hash,
	clinical_context, session_id, hash_previous, hash, created_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var (
		e                  Event
		oldCT, oldIV, oldTag []byte
		newCT, newIV, newTag []byte
	)
	err := row.Scan(&e.ID, &e.Seq, &e.Timestamp, &e.ActorID, &e.ActorRole, &e.IPAddress, &e.Action,
		&e.ResourceType, &e.ResourceID, &e.Endpoint, &e.HTTPMethod, &e.StatusCode,
		&oldCT, &oldIV, &oldTag,
		&newCT, &newIV, &newTag,
		&e.OldValueHash, &e.NewValueHash,
		&e.ClinicalContext, &e.SessionID, &e.HashPrevious, &e.Hash, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if oldIV != nil {
		e.OldValue = &crypto.Envelope{Ciphertext: oldCT, IV: oldIV, Tag: oldTag}
	}
	if newIV != nil {
		e.NewValue = &crypto.Envelope{Ciphertext: newCT, IV: newIV, Tag: newTag}
	}
	return &e, nil
}

func (r *pgRepo) Head(ctx context.Context) (Head, error) {
	var h Head
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT seq, hash FROM audit_ledger_head WHERE id = 1`).Scan(&h.Seq, &h.Hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Head{}, nil
		}
		return Head{}, fmt.Errorf("read ledger head: %w", err)
	}
	return h, nil
}

func (r *pgRepo) Append(ctx context.Context, e *Event, expected Head) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	// Advance the head only if nobody else has. The head row is the single
	// serialization point; losing this race means another append committed
	// and the caller must recompute against the fresh head.
	tag, err := tx.Exec(ctx,
		`UPDATE audit_ledger_head SET seq = $1, hash = $2 WHERE id = 1 AND seq = $3 AND hash = $4`,
		e.Seq, e.Hash, expected.Seq, expected.Hash)
	if err != nil {
		return fmt.Errorf("advance ledger head: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrHeadConflict
	}

	var (
		oldCT, oldIV, oldTag []byte
		newCT, newIV, newTag []byte
	)
	if e.OldValue != nil {
		oldCT, oldIV, oldTag = e.OldValue.Ciphertext, e.OldValue.IV, e.OldValue.Tag
	}
	if e.NewValue != nil {
		newCT, newIV, newTag = e.NewValue.Ciphertext, e.NewValue.IV, e.NewValue.Tag
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_event (id, seq, ts, actor_id, actor_role, ip_address, action,
			resource_type, resource_id, endpoint, http_method, status_code,
			old_value_ciphertext, old_value_iv, old_value_tag,
			new_value_ciphertext, new_value_iv, new_value_tag,
			old_value_hash, new_value_hash,
			clinical_context, session_id, hash_previous, hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		e.ID, e.Seq, e.Timestamp, e.ActorID, e.ActorRole, e.IPAddress, e.Action,
		e.ResourceType, e.ResourceID, e.Endpoint, e.HTTPMethod, e.StatusCode,
		oldCT, oldIV, oldTag,
		newCT, newIV, newTag,
		e.OldValueHash, e.NewValueHash,
		e.ClinicalContext, e.SessionID, e.HashPrevious, e.Hash)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func (r *pgRepo) ListRange(ctx context.Context, fromSeq, toSeq int64, limit int) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+eventCols+` FROM audit_event WHERE seq >= $1 AND seq <= $2 ORDER BY seq ASC LIMIT $3`,
		fromSeq, toSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *pgRepo) List(ctx context.Context, limit, offset int) ([]*Event, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM audit_event`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+eventCols+` FROM audit_event ORDER BY seq DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}

func (r *pgRepo) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	return scanEvent(r.conn(ctx).QueryRow(ctx,
		`SELECT `+eventCols+` FROM audit_event WHERE id = $1`, id))
}

package intake

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/intake/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type draftStorePG struct{ pool *pgxpool.Pool }

// NewDraftStorePG stores drafts in the intake_draft table of the tenant
// schema selected by the tenant middleware.
func NewDraftStorePG(pool *pgxpool.Pool) DraftStore {
	return &draftStorePG{pool: pool}
}

// with runs fn against the transaction or tenant connection carried by
// ctx. A context holding only a tenant gets a connection scoped to that
// tenant for the duration of fn.
func (r *draftStorePG) with(ctx context.Context, fn func(q queryable) error) error {
	if tx := db.TxFromContext(ctx); tx != nil {
		return fn(tx)
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return fn(c)
	}
	tenant := db.TenantFromContext(ctx)
	if tenant == "" {
		return fn(r.pool)
	}
	scoped, release, err := db.AcquireTenant(ctx, r.pool, tenant)
	if err != nil {
		return err
	}
	defer release()
	return fn(db.ConnFromContext(scoped))
}

func (r *draftStorePG) Put(ctx context.Context, d *StoredDraft) error {
	return r.with(ctx, func(q queryable) error {
		_, err := q.Exec(ctx, `
		INSERT INTO intake_draft (questionnaire_id, form_id, owner, user_id, payload, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		ON CONFLICT (questionnaire_id, form_id, owner) DO UPDATE
		SET user_id = EXCLUDED.user_id, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
			d.Key.QuestionnaireID, d.Key.FormID, d.Key.Owner, d.UserID, d.Payload, d.UpdatedAt)
		return err
	})
}

const draftCols = `questionnaire_id, form_id, owner, COALESCE(user_id, ''), payload, updated_at`

func scanDraft(row pgx.Row) (*StoredDraft, error) {
	var d StoredDraft
	err := row.Scan(&d.Key.QuestionnaireID, &d.Key.FormID, &d.Key.Owner, &d.UserID, &d.Payload, &d.UpdatedAt)
	return &d, err
}

func (r *draftStorePG) Get(ctx context.Context, key DraftKey) (*StoredDraft, error) {
	var d *StoredDraft
	err := r.with(ctx, func(q queryable) error {
		var err error
		d, err = scanDraft(q.QueryRow(ctx,
			`SELECT `+draftCols+` FROM intake_draft WHERE questionnaire_id = $1 AND form_id = $2 AND owner = $3`,
			key.QuestionnaireID, key.FormID, key.Owner))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *draftStorePG) Delete(ctx context.Context, key DraftKey) error {
	var tag pgconn.CommandTag
	err := r.with(ctx, func(q queryable) (err error) {
		tag, err = q.Exec(ctx,
			`DELETE FROM intake_draft WHERE questionnaire_id = $1 AND form_id = $2 AND owner = $3`,
			key.QuestionnaireID, key.FormID, key.Owner)
		return err
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDraftNotFound
	}
	return nil
}

func (r *draftStorePG) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var tag pgconn.CommandTag
	err := r.with(ctx, func(q queryable) (err error) {
		tag, err = q.Exec(ctx, `DELETE FROM intake_draft WHERE updated_at <= $1`, cutoff)
		return err
	})
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *draftStorePG) List(ctx context.Context, limit, offset int) ([]*StoredDraft, int, error) {
	var total int
	var items []*StoredDraft
	err := r.with(ctx, func(q queryable) error {
		if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM intake_draft`).Scan(&total); err != nil {
			return err
		}
		rows, err := q.Query(ctx,
			`SELECT `+draftCols+` FROM intake_draft ORDER BY updated_at DESC LIMIT $1 OFFSET $2`, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			d, err := scanDraft(rows)
			if err != nil {
				return err
			}
			items = append(items, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

package followup

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medisync/medisync/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const cols = `id, patient_id, worker_id, visit_date, notes, completed,
	version, created_at, updated_at`

func scan(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.PatientID, &v.WorkerID, &v.VisitDate, &v.Notes,
		&v.Completed, &v.Version, &v.CreatedAt, &v.UpdatedAt)
	return &v, err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM follow_up_visit WHERE id = $1`, id))
}

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO follow_up_visit (id, patient_id, worker_id, visit_date, notes, completed, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)`,
		v.ID, v.PatientID, v.WorkerID, v.VisitDate, v.Notes, v.Completed)
	return err
}

func (r *repoPG) UpdateCAS(ctx context.Context, v *Visit, expected int64) (int64, bool, error) {
	var newVersion int64
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE follow_up_visit
		SET patient_id=$2, worker_id=$3, visit_date=$4, notes=$5, completed=$6,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $7
		RETURNING version`,
		v.ID, v.PatientID, v.WorkerID, v.VisitDate, v.Notes, v.Completed, expected,
	).Scan(&newVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return newVersion, true, nil
}

func (r *repoPG) ListChanged(ctx context.Context, vis Visibility, since *time.Time, limit int) ([]*Visit, error) {
	query := `SELECT ` + cols + ` FROM follow_up_visit WHERE 1=1`
	args := []interface{}{}

	switch {
	case vis.All:
	case vis.PatientID != nil:
		args = append(args, *vis.PatientID)
		query += ` AND patient_id = $1`
	case vis.WorkerID != nil:
		args = append(args, *vis.WorkerID)
		query += ` AND worker_id = $1`
	default:
		return nil, nil
	}

	if since != nil {
		args = append(args, *since)
		query += ` AND updated_at > $` + strconv.Itoa(len(args))
	}
	args = append(args, limit)
	query += ` ORDER BY updated_at ASC LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Visit
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

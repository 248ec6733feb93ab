package appointment

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

const cols = `id, patient_id, doctor_id, worker_id, scheduled_at, status, reason,
	version, created_at, updated_at`

func scan(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.WorkerID, &a.ScheduledAt,
		&a.Status, &a.Reason, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM appointment WHERE id = $1`, id))
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, worker_id, scheduled_at, status, reason, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)`,
		a.ID, a.PatientID, a.DoctorID, a.WorkerID, a.ScheduledAt, a.Status, a.Reason)
	return err
}

func (r *repoPG) UpdateCAS(ctx context.Context, a *Appointment, expected int64) (int64, bool, error) {
	var newVersion int64
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment
		SET patient_id=$2, doctor_id=$3, worker_id=$4, scheduled_at=$5, status=$6, reason=$7,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $8
		RETURNING version`,
		a.ID, a.PatientID, a.DoctorID, a.WorkerID, a.ScheduledAt, a.Status, a.Reason, expected,
	).Scan(&newVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return newVersion, true, nil
}

func (r *repoPG) ListChanged(ctx context.Context, vis Visibility, since *time.Time, limit int) ([]*Appointment, error) {
	query := `SELECT ` + cols + ` FROM appointment WHERE 1=1`
	args := []interface{}{}

	switch {
	case vis.All:
	case vis.PatientID != nil:
		args = append(args, *vis.PatientID)
		query += ` AND patient_id = $1`
	case vis.DoctorID != nil:
		args = append(args, *vis.DoctorID)
		query += ` AND doctor_id = $1`
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

	var out []*Appointment
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

package clinicalrecord

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

const cols = `id, patient_id, created_by, creator_role, encounter_date, follow_up_date,
	diagnosis, notes, version, created_at, updated_at`

func scan(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.PatientID, &rec.CreatedBy, &rec.CreatorRole,
		&rec.EncounterDate, &rec.FollowUpDate, &rec.Diagnosis, &rec.Notes,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	return &rec, err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM clinical_record WHERE id = $1`, id))
}

func (r *repoPG) Create(ctx context.Context, rec *Record) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinical_record (id, patient_id, created_by, creator_role, encounter_date, follow_up_date, diagnosis, notes, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)`,
		rec.ID, rec.PatientID, rec.CreatedBy, rec.CreatorRole, rec.EncounterDate,
		rec.FollowUpDate, rec.Diagnosis, rec.Notes)
	return err
}

func (r *repoPG) UpdateCAS(ctx context.Context, rec *Record, expected int64) (int64, bool, error) {
	var newVersion int64
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE clinical_record
		SET patient_id=$2, encounter_date=$3, follow_up_date=$4, diagnosis=$5, notes=$6,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $7
		RETURNING version`,
		rec.ID, rec.PatientID, rec.EncounterDate, rec.FollowUpDate, rec.Diagnosis,
		rec.Notes, expected,
	).Scan(&newVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return newVersion, true, nil
}

func (r *repoPG) ListChanged(ctx context.Context, vis Visibility, since *time.Time, limit int) ([]*Record, error) {
	query := `SELECT ` + cols + ` FROM clinical_record WHERE 1=1`
	args := []interface{}{}

	switch {
	case vis.All:
	case vis.PatientID != nil:
		args = append(args, *vis.PatientID)
		query += ` AND patient_id = $1`
	case vis.CreatedBy != nil:
		args = append(args, *vis.CreatedBy)
		query += ` AND created_by = $1`
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

	var out []*Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

package triage

import (
	"context"
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

const cols = `id, patient_id, created_by, creator_role, severity, symptoms, outcome, created_at`

func scan(row pgx.Row) (*Log, error) {
	var l Log
	err := row.Scan(&l.ID, &l.PatientID, &l.CreatedBy, &l.CreatorRole,
		&l.Severity, &l.Symptoms, &l.Outcome, &l.CreatedAt)
	return &l, err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Log, error) {
	return scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM triage_log WHERE id = $1`, id))
}

func (r *repoPG) Create(ctx context.Context, l *Log) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO triage_log (id, patient_id, created_by, creator_role, severity, symptoms, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.PatientID, l.CreatedBy, l.CreatorRole, l.Severity, l.Symptoms, l.Outcome)
	return err
}

func (r *repoPG) ListChanged(ctx context.Context, vis Visibility, since *time.Time, limit int) ([]*Log, error) {
	query := `SELECT ` + cols + ` FROM triage_log WHERE 1=1`
	args := []interface{}{}

	switch {
	case vis.All:
	case vis.SubjectOrCreator != nil:
		args = append(args, *vis.SubjectOrCreator)
		query += ` AND (patient_id = $1 OR created_by = $1)`
	case vis.CreatorRole != nil:
		args = append(args, *vis.CreatorRole)
		query += ` AND creator_role = $1`
	default:
		return nil, nil
	}

	if since != nil {
		args = append(args, *since)
		query += ` AND created_at > $` + strconv.Itoa(len(args))
	}
	args = append(args, limit)
	query += ` ORDER BY created_at ASC LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Log
	for rows.Next() {
		l, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

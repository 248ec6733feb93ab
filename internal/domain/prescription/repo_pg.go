package prescription

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

const cols = `id, patient_id, doctor_id, notes, version, created_at, updated_at`

func scan(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PatientID, &p.DoctorID, &p.Notes, &p.Version,
		&p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM prescription WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	items, err := r.loadItems(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	p.Items = items[id]
	return p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	conn := r.conn(ctx)
	_, err := conn.Exec(ctx, `
		INSERT INTO prescription (id, patient_id, doctor_id, notes, version)
		VALUES ($1, $2, $3, $4, 1)`,
		p.ID, p.PatientID, p.DoctorID, p.Notes)
	if err != nil {
		return err
	}
	return r.insertItems(ctx, p.ID, p.Items)
}

func (r *repoPG) UpdateCAS(ctx context.Context, p *Prescription, expected int64) (int64, bool, error) {
	conn := r.conn(ctx)
	var newVersion int64
	err := conn.QueryRow(ctx, `
		UPDATE prescription
		SET patient_id=$2, doctor_id=$3, notes=$4, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $5
		RETURNING version`,
		p.ID, p.PatientID, p.DoctorID, p.Notes, expected,
	).Scan(&newVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	// Line-items are replaced wholesale, never merged.
	if _, err := conn.Exec(ctx, `DELETE FROM prescription_item WHERE prescription_id = $1`, p.ID); err != nil {
		return 0, false, err
	}
	if err := r.insertItems(ctx, p.ID, p.Items); err != nil {
		return 0, false, err
	}
	return newVersion, true, nil
}

func (r *repoPG) insertItems(ctx context.Context, id uuid.UUID, items []Item) error {
	conn := r.conn(ctx)
	for i, it := range items {
		_, err := conn.Exec(ctx, `
			INSERT INTO prescription_item (prescription_id, position, medicine, dosage, frequency, duration_days)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			id, i, it.Medicine, it.Dosage, it.Frequency, it.DurationDays)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) loadItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]Item, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT prescription_id, medicine, dosage, frequency, duration_days
		FROM prescription_item
		WHERE prescription_id = ANY($1)
		ORDER BY prescription_id, position`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]Item, len(ids))
	for rows.Next() {
		var pid uuid.UUID
		var it Item
		if err := rows.Scan(&pid, &it.Medicine, &it.Dosage, &it.Frequency, &it.DurationDays); err != nil {
			return nil, err
		}
		out[pid] = append(out[pid], it)
	}
	return out, rows.Err()
}

func (r *repoPG) ListChanged(ctx context.Context, vis Visibility, since *time.Time, limit int) ([]*Prescription, error) {
	query := `SELECT ` + cols + ` FROM prescription WHERE 1=1`
	args := []interface{}{}

	switch {
	case vis.All:
	case vis.PatientID != nil:
		args = append(args, *vis.PatientID)
		query += ` AND patient_id = $1`
	case vis.DoctorID != nil:
		args = append(args, *vis.DoctorID)
		query += ` AND doctor_id = $1`
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

	var out []*Prescription
	var ids []uuid.UUID
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if len(ids) > 0 {
		items, err := r.loadItems(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, p := range out {
			p.Items = items[p.ID]
		}
	}
	return out, nil
}

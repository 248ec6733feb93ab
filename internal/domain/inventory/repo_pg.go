package inventory

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

const cols = `id, pharmacy_id, sku, name, quantity, unit, reorder_level, deleted,
	version, created_at, updated_at`

func scan(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.PharmacyID, &it.SKU, &it.Name, &it.Quantity,
		&it.Unit, &it.ReorderLevel, &it.Deleted, &it.Version, &it.CreatedAt, &it.UpdatedAt)
	return &it, err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Item, error) {
	return scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM inventory_item WHERE id = $1`, id))
}

func (r *repoPG) GetBySKU(ctx context.Context, pharmacyID uuid.UUID, sku string) (*Item, error) {
	return scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cols+` FROM inventory_item WHERE pharmacy_id = $1 AND sku = $2`, pharmacyID, sku))
}

func (r *repoPG) Create(ctx context.Context, it *Item) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO inventory_item (id, pharmacy_id, sku, name, quantity, unit, reorder_level, deleted, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, 1)`,
		it.ID, it.PharmacyID, it.SKU, it.Name, it.Quantity, it.Unit, it.ReorderLevel)
	return err
}

func (r *repoPG) UpdateCAS(ctx context.Context, it *Item, expected int64) (int64, bool, error) {
	var newVersion int64
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE inventory_item
		SET name=$2, quantity=$3, unit=$4, reorder_level=$5,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $6 AND NOT deleted
		RETURNING version`,
		it.ID, it.Name, it.Quantity, it.Unit, it.ReorderLevel, expected,
	).Scan(&newVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return newVersion, true, nil
}

func (r *repoPG) SoftDeleteCAS(ctx context.Context, id uuid.UUID, expected int64) (int64, bool, error) {
	var newVersion int64
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE inventory_item
		SET deleted = TRUE, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND NOT deleted
		RETURNING version`,
		id, expected,
	).Scan(&newVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return newVersion, true, nil
}

func (r *repoPG) ListChanged(ctx context.Context, vis Visibility, since *time.Time, limit int) ([]*Item, error) {
	query := `SELECT ` + cols + ` FROM inventory_item WHERE NOT deleted`
	args := []interface{}{}

	switch {
	case vis.All:
	case vis.PharmacyID != nil:
		args = append(args, *vis.PharmacyID)
		query += ` AND pharmacy_id = $1`
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

	var out []*Item
	for rows.Next() {
		it, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medisync/medisync/internal/platform/db"
)

// Checkpoint is the per-(actor, device) sync bookkeeping row. Created on the
// device's first sync call, updated in place afterwards, never deleted.
type Checkpoint struct {
	ActorID      uuid.UUID  `json:"actor_id"`
	DeviceID     string     `json:"device_id"`
	LastPushedAt *time.Time `json:"last_pushed_at"`
	LastPulledAt *time.Time `json:"last_pulled_at"`
}

// CheckpointRepository persists sync checkpoints.
type CheckpointRepository interface {
	Get(ctx context.Context, actorID uuid.UUID, deviceID string) (*Checkpoint, error)
	MarkPushed(ctx context.Context, actorID uuid.UUID, deviceID string, at time.Time) error
	MarkPulled(ctx context.Context, actorID uuid.UUID, deviceID string, at time.Time) error
}

type checkpointRepoPG struct {
	pool *pgxpool.Pool
}

func NewCheckpointRepoPG(pool *pgxpool.Pool) CheckpointRepository {
	return &checkpointRepoPG{pool: pool}
}

func (r *checkpointRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *checkpointRepoPG) Get(ctx context.Context, actorID uuid.UUID, deviceID string) (*Checkpoint, error) {
	var cp Checkpoint
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT actor_id, device_id, last_pushed_at, last_pulled_at
		FROM sync_checkpoint WHERE actor_id = $1 AND device_id = $2`,
		actorID, deviceID,
	).Scan(&cp.ActorID, &cp.DeviceID, &cp.LastPushedAt, &cp.LastPulledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// first sync for this device: zero-value checkpoint
		return &Checkpoint{ActorID: actorID, DeviceID: deviceID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (r *checkpointRepoPG) MarkPushed(ctx context.Context, actorID uuid.UUID, deviceID string, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO sync_checkpoint (actor_id, device_id, last_pushed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (actor_id, device_id) DO UPDATE SET last_pushed_at = EXCLUDED.last_pushed_at`,
		actorID, deviceID, at)
	return err
}

func (r *checkpointRepoPG) MarkPulled(ctx context.Context, actorID uuid.UUID, deviceID string, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO sync_checkpoint (actor_id, device_id, last_pulled_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (actor_id, device_id) DO UPDATE SET last_pulled_at = EXCLUDED.last_pulled_at`,
		actorID, deviceID, at)
	return err
}

package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medisync/medisync/internal/platform/auth"
	"github.com/medisync/medisync/internal/platform/db"
)

// AuditEntry is one append-only record of a push or pull outcome.
type AuditEntry struct {
	ID        uuid.UUID              `json:"id"`
	ActorID   uuid.UUID              `json:"actor_id"`
	ActorRole auth.Role              `json:"actor_role"`
	DeviceID  string                 `json:"device_id"`
	Action    string                 `json:"action"` // push | pull
	Summary   map[string]interface{} `json:"summary"`
	CreatedAt time.Time              `json:"created_at"`
}

// AuditFilter narrows history listings.
type AuditFilter struct {
	ActorID  *uuid.UUID
	DeviceID string
	Action   string
}

// AuditSink persists sync audit entries. Writes happen inside the same
// transaction as the mutations they describe, so a crash mid-batch cannot
// leave applied mutations without an audit trail.
type AuditSink interface {
	Record(ctx context.Context, entry *AuditEntry) error
	List(ctx context.Context, filter AuditFilter, limit, offset int) ([]*AuditEntry, int, error)
}

type auditSinkPG struct {
	pool *pgxpool.Pool
}

func NewAuditSinkPG(pool *pgxpool.Pool) AuditSink {
	return &auditSinkPG{pool: pool}
}

func (s *auditSinkPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func (s *auditSinkPG) Record(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	summary, err := json.Marshal(entry.Summary)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).Exec(ctx, `
		INSERT INTO sync_audit (id, actor_id, actor_role, device_id, action, summary)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.ActorID, string(entry.ActorRole), entry.DeviceID, entry.Action, summary)
	return err
}

func (s *auditSinkPG) List(ctx context.Context, filter AuditFilter, limit, offset int) ([]*AuditEntry, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	n := 1
	if filter.ActorID != nil {
		where += " AND actor_id = $" + strconv.Itoa(n)
		args = append(args, *filter.ActorID)
		n++
	}
	if filter.DeviceID != "" {
		where += " AND device_id = $" + strconv.Itoa(n)
		args = append(args, filter.DeviceID)
		n++
	}
	if filter.Action != "" {
		where += " AND action = $" + strconv.Itoa(n)
		args = append(args, filter.Action)
		n++
	}

	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM sync_audit`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, actor_id, actor_role, device_id, action, summary, created_at
		FROM sync_audit` + where + ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(n) + ` OFFSET $` + strconv.Itoa(n+1)
	args = append(args, limit, offset)

	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var (
			e       AuditEntry
			role    string
			summary []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &role, &e.DeviceID, &e.Action, &summary, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.ActorRole = auth.Role(role)
		if len(summary) > 0 {
			if err := json.Unmarshal(summary, &e.Summary); err != nil {
				return nil, 0, err
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

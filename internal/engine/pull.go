package engine

import (
	"context"
	"fmt"
	"time"
)

// Pull assembles the incremental snapshot of everything the actor is allowed
// to see that changed strictly after since. Unlike push there is no per-item
// fault isolation: any failure fails the whole pull. The checkpoint update
// and audit entry join the same read transaction.
func (s *Service) Pull(ctx context.Context, actor Actor, deviceID string, since *time.Time) (*PullResult, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", ErrInvalidPayload)
	}

	result := &PullResult{
		Sets: make(map[EntityType][]interface{}, len(AllEntities)),
	}
	counts := make(map[string]interface{}, len(AllEntities))

	err := s.store.WithinTx(ctx, func(ctx context.Context, _ Session) error {
		for _, handler := range s.registry.Ordered() {
			rows, err := handler.Collect(ctx, actor, since, s.pullLimit)
			if err != nil {
				return fmt.Errorf("collect %s: %w", handler.Entity(), err)
			}
			if rows == nil {
				rows = []interface{}{}
			}
			result.Sets[handler.Entity()] = rows
			counts[string(handler.Entity())] = len(rows)
		}

		now := s.now()
		result.ServerTime = now
		if err := s.checkpoints.MarkPulled(ctx, actor.ID, deviceID, now); err != nil {
			return fmt.Errorf("mark pulled: %w", err)
		}
		if err := s.audit.Record(ctx, &AuditEntry{
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			DeviceID:  deviceID,
			Action:    "pull",
			Summary:   counts,
		}); err != nil {
			return fmt.Errorf("record pull audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Stringer("actor_id", actor.ID).
		Str("role", string(actor.Role)).
		Str("device_id", deviceID).
		Msg("pull processed")

	return result, nil
}

// Status returns the device's checkpoint row; devices that never synced get
// zero values rather than an error.
func (s *Service) Status(ctx context.Context, actor Actor, deviceID string) (*Checkpoint, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", ErrInvalidPayload)
	}
	return s.checkpoints.Get(ctx, actor.ID, deviceID)
}

// History lists audit entries for the administrative history endpoint.
func (s *Service) History(ctx context.Context, filter AuditFilter, limit, offset int) ([]*AuditEntry, int, error) {
	return s.audit.List(ctx, filter, limit, offset)
}

package engine

import (
	"context"
	"fmt"
)

// Push processes a batched upload of device mutations. Operations run
// sequentially in submitted order inside one storage transaction; each is
// bracketed by a savepoint so a failing operation is rolled back alone and
// reported as a conflict instead of aborting the batch. The device checkpoint
// and the audit entry are written in the same transaction.
func (s *Service) Push(ctx context.Context, actor Actor, req *PushRequest) (*PushResponse, error) {
	if err := validatePushRequest(req, s.batchLimit); err != nil {
		return nil, err
	}

	resp := &PushResponse{
		Applied:   []AppliedResult{},
		Conflicts: []Conflict{},
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, sess Session) error {
		for i, op := range req.Ops {
			outcome := s.applyOne(ctx, sess, actor, i, op)
			if outcome.conflict != nil {
				resp.Conflicts = append(resp.Conflicts, *outcome.conflict)
			} else {
				resp.Applied = append(resp.Applied, outcome.applied)
			}
		}

		now := s.now()
		if err := s.checkpoints.MarkPushed(ctx, actor.ID, req.DeviceID, now); err != nil {
			return fmt.Errorf("mark pushed: %w", err)
		}
		if err := s.audit.Record(ctx, &AuditEntry{
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			DeviceID:  req.DeviceID,
			Action:    "push",
			Summary: map[string]interface{}{
				"applied":   len(resp.Applied),
				"conflicts": len(resp.Conflicts),
			},
		}); err != nil {
			return fmt.Errorf("record push audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Stringer("actor_id", actor.ID).
		Str("role", string(actor.Role)).
		Str("device_id", req.DeviceID).
		Int("applied", len(resp.Applied)).
		Int("conflicts", len(resp.Conflicts)).
		Msg("push processed")

	return resp, nil
}

type opOutcome struct {
	applied  AppliedResult
	conflict *Conflict
}

// applyOne dispatches a single operation under savepoint isolation and
// converts every per-operation failure into a conflict.
func (s *Service) applyOne(ctx context.Context, sess Session, actor Actor, idx int, op Operation) opOutcome {
	rejected := func(reason error) opOutcome {
		s.logger.Debug().
			Str("op_id", op.OpID).
			Str("entity", string(op.Entity)).
			Err(reason).
			Msg("operation rejected")
		return opOutcome{conflict: &Conflict{
			OpID:          op.OpID,
			EntityID:      op.EntityID, // best effort; may be empty
			ServerVersion: 0,
			Reason:        ReasonRejected,
		}}
	}

	if op.OpID == "" {
		return rejected(fmt.Errorf("%w: op_id is required", ErrInvalidPayload))
	}
	if !op.Entity.Valid() {
		return rejected(fmt.Errorf("%w: unknown entity type %q", ErrInvalidPayload, op.Entity))
	}
	if !op.Action.Valid() {
		return rejected(fmt.Errorf("%w: unknown action %q", ErrInvalidPayload, op.Action))
	}

	handler, ok := s.registry.Get(op.Entity)
	if !ok {
		return rejected(fmt.Errorf("%w: no handler for entity %q", ErrUnsupported, op.Entity))
	}

	spName := fmt.Sprintf("op_%d", idx)
	if err := sess.Savepoint(ctx, spName); err != nil {
		return rejected(err)
	}

	applied, err := handler.Apply(ctx, actor, op)
	if err != nil {
		// Roll back whatever the handler touched; the rest of the batch
		// continues on the still-healthy transaction.
		if rbErr := sess.RollbackTo(ctx, spName); rbErr != nil {
			s.logger.Error().Err(rbErr).Str("op_id", op.OpID).Msg("savepoint rollback failed")
		}
		_ = sess.Release(ctx, spName)

		if vc, ok := AsVersionConflict(err); ok {
			// Prefer the id the handler resolved: a natural-key routed
			// upsert may arrive without a client entity_id at all.
			entityID := vc.EntityID
			if entityID == "" {
				entityID = op.EntityID
			}
			return opOutcome{conflict: &Conflict{
				OpID:          op.OpID,
				EntityID:      entityID,
				ServerVersion: vc.ServerVersion,
				Reason:        ReasonVersionMismatch,
				ServerData:    vc.ServerData,
			}}
		}
		return rejected(err)
	}

	if err := sess.Release(ctx, spName); err != nil {
		s.logger.Error().Err(err).Str("op_id", op.OpID).Msg("savepoint release failed")
	}
	return opOutcome{applied: applied}
}

// validatePushRequest rejects a malformed overall request before any entity
// processing. Per-operation problems are handled inside the batch instead.
func validatePushRequest(req *PushRequest, batchLimit int) error {
	if req.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidPayload)
	}
	if len(req.Ops) == 0 {
		return fmt.Errorf("%w: ops must not be empty", ErrInvalidPayload)
	}
	if len(req.Ops) > batchLimit {
		return fmt.Errorf("%w: batch of %d exceeds the %d operation cap", ErrInvalidPayload, len(req.Ops), batchLimit)
	}
	seen := make(map[string]bool, len(req.Ops))
	for _, op := range req.Ops {
		if op.OpID != "" && seen[op.OpID] {
			return fmt.Errorf("%w: duplicate op_id %q in batch", ErrInvalidPayload, op.OpID)
		}
		seen[op.OpID] = true
	}
	return nil
}

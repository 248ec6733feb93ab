package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medisync/medisync/internal/engine"
	"github.com/medisync/medisync/internal/platform/auth"
)

// SyncHandler applies push operations and collects pull rows for pharmacy
// inventory. Inventory is the only entity that supports delete through sync,
// implemented as a soft marker.
type SyncHandler struct {
	repo Repository
}

func NewSyncHandler(repo Repository) *SyncHandler {
	return &SyncHandler{repo: repo}
}

func (h *SyncHandler) Entity() engine.EntityType { return engine.EntityInventoryItem }

func (h *SyncHandler) Apply(ctx context.Context, actor auth.Actor, op engine.Operation) (engine.AppliedResult, error) {
	if op.Action == engine.ActionDelete {
		return h.delete(ctx, actor, op)
	}
	return h.upsert(ctx, actor, op)
}

func (h *SyncHandler) upsert(ctx context.Context, actor auth.Actor, op engine.Operation) (engine.AppliedResult, error) {
	var p Payload
	if err := engine.DecodePayload(op.Data, &p); err != nil {
		return engine.AppliedResult{}, err
	}
	pharmacyID, err := uuid.Parse(p.PharmacyID)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("%w: pharmacy_id: %v", engine.ErrInvalidPayload, err)
	}

	id, err := op.TargetID()
	if err != nil {
		return engine.AppliedResult{}, err
	}

	existing, err := h.fetch(ctx, op.EntityID != "", id, pharmacyID, p.SKU)
	if err != nil {
		return engine.AppliedResult{}, err
	}

	if existing == nil {
		return h.create(ctx, actor, op, &p, id, pharmacyID)
	}
	if existing.Deleted {
		return engine.AppliedResult{}, fmt.Errorf("%w: inventory item %s is deleted", engine.ErrUnsupported, existing.ID)
	}
	return h.update(ctx, actor, op, &p, existing)
}

// fetch resolves the target row: by id when the client supplied one, then by
// the (pharmacy, sku) unique key so an offline-created duplicate routes to
// the surviving row instead of violating the constraint.
func (h *SyncHandler) fetch(ctx context.Context, byID bool, id, pharmacyID uuid.UUID, sku string) (*Item, error) {
	if byID {
		it, err := h.repo.GetByID(ctx, id)
		if err == nil {
			return it, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("fetch inventory item: %w", err)
		}
	}
	it, err := h.repo.GetBySKU(ctx, pharmacyID, sku)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch inventory item by sku: %w", err)
	}
	return it, nil
}

func (h *SyncHandler) create(ctx context.Context, actor auth.Actor, op engine.Operation, p *Payload, id, pharmacyID uuid.UUID) (engine.AppliedResult, error) {
	owns := pharmacyID == actor.ID
	if err := engine.Authorize(engine.EntityInventoryItem, engine.KindCreate, actor, owns); err != nil {
		return engine.AppliedResult{}, err
	}

	it := &Item{
		ID:           id,
		PharmacyID:   pharmacyID,
		SKU:          p.SKU,
		Name:         p.Name,
		Quantity:     p.Quantity,
		Unit:         p.Unit,
		ReorderLevel: p.ReorderLevel,
	}
	if err := h.repo.Create(ctx, it); err != nil {
		return engine.AppliedResult{}, fmt.Errorf("create inventory item: %w", err)
	}
	return engine.AppliedResult{OpID: op.OpID, EntityID: id.String(), NewVersion: 1}, nil
}

func (h *SyncHandler) update(ctx context.Context, actor auth.Actor, op engine.Operation, p *Payload, existing *Item) (engine.AppliedResult, error) {
	if err := engine.GateVersion(op.BaseVersion, existing.Version, existing.ID.String(), project(existing)); err != nil {
		return engine.AppliedResult{}, err
	}
	owns := existing.PharmacyID == actor.ID
	if err := engine.Authorize(engine.EntityInventoryItem, engine.KindUpdate, actor, owns); err != nil {
		return engine.AppliedResult{}, err
	}

	// The (pharmacy, sku) key is immutable; only stock attributes change.
	next := &Item{
		ID:           existing.ID,
		Name:         p.Name,
		Quantity:     p.Quantity,
		Unit:         p.Unit,
		ReorderLevel: p.ReorderLevel,
	}
	newVersion, swapped, err := h.repo.UpdateCAS(ctx, next, existing.Version)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("update inventory item: %w", err)
	}
	if !swapped {
		return h.conflictFresh(ctx, existing.ID)
	}
	return engine.AppliedResult{OpID: op.OpID, EntityID: existing.ID.String(), NewVersion: newVersion}, nil
}

func (h *SyncHandler) delete(ctx context.Context, actor auth.Actor, op engine.Operation) (engine.AppliedResult, error) {
	if op.EntityID == "" {
		return engine.AppliedResult{}, fmt.Errorf("%w: delete requires entity_id", engine.ErrInvalidPayload)
	}
	id, err := op.TargetID()
	if err != nil {
		return engine.AppliedResult{}, err
	}

	existing, err := h.repo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.AppliedResult{}, fmt.Errorf("%w: inventory item %s", engine.ErrNotFound, id)
	}
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("fetch inventory item: %w", err)
	}
	owns := existing.PharmacyID == actor.ID
	if err := engine.Authorize(engine.EntityInventoryItem, engine.KindDelete, actor, owns); err != nil {
		return engine.AppliedResult{}, err
	}
	if existing.Deleted {
		// Repeat delete from another device is a no-op, not a conflict.
		return engine.AppliedResult{OpID: op.OpID, EntityID: id.String(), NewVersion: existing.Version}, nil
	}

	if err := engine.GateVersion(op.BaseVersion, existing.Version, existing.ID.String(), project(existing)); err != nil {
		return engine.AppliedResult{}, err
	}

	newVersion, swapped, err := h.repo.SoftDeleteCAS(ctx, id, existing.Version)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("delete inventory item: %w", err)
	}
	if !swapped {
		return h.conflictFresh(ctx, id)
	}
	return engine.AppliedResult{OpID: op.OpID, EntityID: id.String(), NewVersion: newVersion}, nil
}

func (h *SyncHandler) conflictFresh(ctx context.Context, id uuid.UUID) (engine.AppliedResult, error) {
	current, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("refetch inventory item after CAS miss: %w", err)
	}
	return engine.AppliedResult{}, &engine.VersionConflictError{EntityID: current.ID.String(), ServerVersion: current.Version, ServerData: project(current)}
}

func (h *SyncHandler) Collect(ctx context.Context, actor auth.Actor, since *time.Time, limit int) ([]interface{}, error) {
	vis := Visibility{}
	switch actor.Role {
	case auth.RoleAdmin:
		vis.All = true
	case auth.RolePharmacy:
		vis.PharmacyID = &actor.ID
	default:
		return nil, nil // inventory is pharmacy-internal
	}

	items, err := h.repo.ListChanged(ctx, vis, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list inventory items: %w", err)
	}
	out := make([]interface{}, 0, len(items))
	for _, it := range items {
		out = append(out, project(it))
	}
	return out, nil
}

func project(it *Item) *Wire {
	return &Wire{
		ID:           it.ID.String(),
		PharmacyID:   it.PharmacyID.String(),
		SKU:          it.SKU,
		Name:         it.Name,
		Quantity:     it.Quantity,
		Unit:         it.Unit,
		ReorderLevel: it.ReorderLevel,
		Version:      it.Version,
		UpdatedAt:    it.UpdatedAt,
	}
}

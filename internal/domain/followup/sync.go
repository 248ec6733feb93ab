package followup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medisync/medisync/internal/engine"
	"github.com/medisync/medisync/internal/platform/auth"
	"github.com/medisync/medisync/internal/platform/hipaa"
)

// SyncHandler applies push operations and collects pull rows for follow-up
// visits.
type SyncHandler struct {
	repo   Repository
	cipher *hipaa.FieldCipher
}

func NewSyncHandler(repo Repository, cipher *hipaa.FieldCipher) *SyncHandler {
	return &SyncHandler{repo: repo, cipher: cipher}
}

func (h *SyncHandler) Entity() engine.EntityType { return engine.EntityFollowUpVisit }

func (h *SyncHandler) Apply(ctx context.Context, actor auth.Actor, op engine.Operation) (engine.AppliedResult, error) {
	if op.Action == engine.ActionDelete {
		return engine.AppliedResult{}, fmt.Errorf("%w: follow-up visits cannot be deleted through sync", engine.ErrUnsupported)
	}

	var p Payload
	if err := engine.DecodePayload(op.Data, &p); err != nil {
		return engine.AppliedResult{}, err
	}
	visitDate, err := p.Date()
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("%w: %v", engine.ErrInvalidPayload, err)
	}
	patientID, err := uuid.Parse(p.PatientID)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("%w: patient_id: %v", engine.ErrInvalidPayload, err)
	}
	workerID, err := uuid.Parse(p.WorkerID)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("%w: worker_id: %v", engine.ErrInvalidPayload, err)
	}

	id, err := op.TargetID()
	if err != nil {
		return engine.AppliedResult{}, err
	}

	existing, err := h.repo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		existing = nil
	} else if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("fetch follow-up visit: %w", err)
	}

	if existing == nil {
		return h.create(ctx, actor, op, &p, id, patientID, workerID, visitDate)
	}
	return h.update(ctx, actor, op, &p, existing, patientID, workerID, visitDate)
}

func (h *SyncHandler) create(ctx context.Context, actor auth.Actor, op engine.Operation, p *Payload, id, patientID, workerID uuid.UUID, visitDate time.Time) (engine.AppliedResult, error) {
	owns := workerID == actor.ID
	if err := engine.Authorize(engine.EntityFollowUpVisit, engine.KindCreate, actor, owns); err != nil {
		return engine.AppliedResult{}, err
	}

	notes, err := h.cipher.EncryptPtr(p.Notes)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("encrypt notes: %w", err)
	}

	v := &Visit{
		ID:        id,
		PatientID: patientID,
		WorkerID:  workerID,
		VisitDate: visitDate,
		Notes:     notes,
		Completed: p.Completed,
	}
	if err := h.repo.Create(ctx, v); err != nil {
		return engine.AppliedResult{}, fmt.Errorf("create follow-up visit: %w", err)
	}
	return engine.AppliedResult{OpID: op.OpID, EntityID: id.String(), NewVersion: 1}, nil
}

func (h *SyncHandler) update(ctx context.Context, actor auth.Actor, op engine.Operation, p *Payload, existing *Visit, patientID, workerID uuid.UUID, visitDate time.Time) (engine.AppliedResult, error) {
	wire, err := h.project(existing)
	if err != nil {
		return engine.AppliedResult{}, err
	}
	if err := engine.GateVersion(op.BaseVersion, existing.Version, existing.ID.String(), wire); err != nil {
		return engine.AppliedResult{}, err
	}

	owns := existing.WorkerID == actor.ID
	if err := engine.Authorize(engine.EntityFollowUpVisit, engine.KindUpdate, actor, owns); err != nil {
		return engine.AppliedResult{}, err
	}
	// Only admin may reassign the responsible worker.
	if workerID != existing.WorkerID && !actor.IsAdmin() {
		return engine.AppliedResult{}, fmt.Errorf("%w: only admin may reassign a follow-up visit", engine.ErrForbidden)
	}

	notes, err := h.cipher.EncryptPtr(p.Notes)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("encrypt notes: %w", err)
	}

	next := &Visit{
		ID:        existing.ID,
		PatientID: patientID,
		WorkerID:  workerID,
		VisitDate: visitDate,
		Notes:     notes,
		Completed: p.Completed,
	}
	newVersion, swapped, err := h.repo.UpdateCAS(ctx, next, existing.Version)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("update follow-up visit: %w", err)
	}
	if !swapped {
		current, err := h.repo.GetByID(ctx, existing.ID)
		if err != nil {
			return engine.AppliedResult{}, fmt.Errorf("refetch follow-up visit after CAS miss: %w", err)
		}
		freshWire, err := h.project(current)
		if err != nil {
			return engine.AppliedResult{}, err
		}
		return engine.AppliedResult{}, &engine.VersionConflictError{EntityID: current.ID.String(), ServerVersion: current.Version, ServerData: freshWire}
	}
	return engine.AppliedResult{OpID: op.OpID, EntityID: existing.ID.String(), NewVersion: newVersion}, nil
}

func (h *SyncHandler) Collect(ctx context.Context, actor auth.Actor, since *time.Time, limit int) ([]interface{}, error) {
	vis := Visibility{}
	switch actor.Role {
	case auth.RoleAdmin:
		vis.All = true
	case auth.RolePatient:
		vis.PatientID = &actor.ID
	case auth.RoleHealthWorker:
		vis.WorkerID = &actor.ID
	default:
		return nil, nil // doctors and pharmacies have no follow-up visibility
	}

	items, err := h.repo.ListChanged(ctx, vis, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list follow-up visits: %w", err)
	}
	out := make([]interface{}, 0, len(items))
	for _, v := range items {
		w, err := h.project(v)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func (h *SyncHandler) project(v *Visit) (*Wire, error) {
	notes, err := h.cipher.DecryptPtr(v.Notes)
	if err != nil {
		return nil, fmt.Errorf("decrypt follow-up visit %s: %w", v.ID, err)
	}
	return &Wire{
		ID:        v.ID.String(),
		PatientID: v.PatientID.String(),
		WorkerID:  v.WorkerID.String(),
		VisitDate: v.VisitDate.UTC().Format(dateLayout),
		Notes:     notes,
		Completed: v.Completed,
		Version:   v.Version,
		UpdatedAt: v.UpdatedAt,
	}, nil
}

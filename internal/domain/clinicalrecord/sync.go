package clinicalrecord

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

// SyncHandler applies push operations and collects pull rows for clinical
// records.
type SyncHandler struct {
	repo   Repository
	cipher *hipaa.FieldCipher
}

func NewSyncHandler(repo Repository, cipher *hipaa.FieldCipher) *SyncHandler {
	return &SyncHandler{repo: repo, cipher: cipher}
}

func (h *SyncHandler) Entity() engine.EntityType { return engine.EntityClinicalRecord }

func (h *SyncHandler) Apply(ctx context.Context, actor auth.Actor, op engine.Operation) (engine.AppliedResult, error) {
	if op.Action == engine.ActionDelete {
		return engine.AppliedResult{}, fmt.Errorf("%w: clinical records cannot be deleted through sync", engine.ErrUnsupported)
	}

	var p Payload
	if err := engine.DecodePayload(op.Data, &p); err != nil {
		return engine.AppliedResult{}, err
	}
	encounterDate, followUpDate, err := p.Dates()
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("%w: %v", engine.ErrInvalidPayload, err)
	}
	patientID, err := uuid.Parse(p.PatientID)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("%w: patient_id: %v", engine.ErrInvalidPayload, err)
	}

	id, err := op.TargetID()
	if err != nil {
		return engine.AppliedResult{}, err
	}

	existing, err := h.repo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		existing = nil
	} else if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("fetch clinical record: %w", err)
	}

	if existing == nil {
		return h.create(ctx, actor, op, &p, id, patientID, encounterDate, followUpDate)
	}
	return h.update(ctx, actor, op, &p, existing, patientID, encounterDate, followUpDate)
}

func (h *SyncHandler) create(ctx context.Context, actor auth.Actor, op engine.Operation, p *Payload, id, patientID uuid.UUID, encounterDate time.Time, followUpDate *time.Time) (engine.AppliedResult, error) {
	if err := engine.Authorize(engine.EntityClinicalRecord, engine.KindCreate, actor, true); err != nil {
		return engine.AppliedResult{}, err
	}

	diagnosis, err := h.cipher.Encrypt(p.Diagnosis)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("encrypt diagnosis: %w", err)
	}
	notes, err := h.cipher.EncryptPtr(p.Notes)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("encrypt notes: %w", err)
	}

	rec := &Record{
		ID:            id,
		PatientID:     patientID,
		CreatedBy:     actor.ID,
		CreatorRole:   string(actor.Role),
		EncounterDate: encounterDate,
		FollowUpDate:  followUpDate,
		Diagnosis:     diagnosis,
		Notes:         notes,
	}
	if err := h.repo.Create(ctx, rec); err != nil {
		return engine.AppliedResult{}, fmt.Errorf("create clinical record: %w", err)
	}
	return engine.AppliedResult{OpID: op.OpID, EntityID: id.String(), NewVersion: 1}, nil
}

func (h *SyncHandler) update(ctx context.Context, actor auth.Actor, op engine.Operation, p *Payload, existing *Record, patientID uuid.UUID, encounterDate time.Time, followUpDate *time.Time) (engine.AppliedResult, error) {
	wire, err := h.project(existing)
	if err != nil {
		return engine.AppliedResult{}, err
	}
	if err := engine.GateVersion(op.BaseVersion, existing.Version, existing.ID.String(), wire); err != nil {
		return engine.AppliedResult{}, err
	}

	owns := existing.CreatedBy == actor.ID
	if err := engine.Authorize(engine.EntityClinicalRecord, engine.KindUpdate, actor, owns); err != nil {
		return engine.AppliedResult{}, err
	}

	diagnosis, err := h.cipher.Encrypt(p.Diagnosis)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("encrypt diagnosis: %w", err)
	}
	notes, err := h.cipher.EncryptPtr(p.Notes)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("encrypt notes: %w", err)
	}

	next := &Record{
		ID:            existing.ID,
		PatientID:     patientID,
		EncounterDate: encounterDate,
		FollowUpDate:  followUpDate,
		Diagnosis:     diagnosis,
		Notes:         notes,
	}
	newVersion, swapped, err := h.repo.UpdateCAS(ctx, next, existing.Version)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("update clinical record: %w", err)
	}
	if !swapped {
		current, err := h.repo.GetByID(ctx, existing.ID)
		if err != nil {
			return engine.AppliedResult{}, fmt.Errorf("refetch clinical record after CAS miss: %w", err)
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
	case auth.RoleDoctor, auth.RoleHealthWorker:
		vis.CreatedBy = &actor.ID
	default:
		return nil, nil // pharmacies have no clinical-record visibility
	}

	items, err := h.repo.ListChanged(ctx, vis, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list clinical records: %w", err)
	}
	out := make([]interface{}, 0, len(items))
	for _, rec := range items {
		w, err := h.project(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func (h *SyncHandler) project(rec *Record) (*Wire, error) {
	diagnosis, err := h.cipher.Decrypt(rec.Diagnosis)
	if err != nil {
		return nil, fmt.Errorf("decrypt clinical record %s: %w", rec.ID, err)
	}
	notes, err := h.cipher.DecryptPtr(rec.Notes)
	if err != nil {
		return nil, fmt.Errorf("decrypt clinical record %s: %w", rec.ID, err)
	}
	var followUp *string
	if rec.FollowUpDate != nil {
		s := rec.FollowUpDate.UTC().Format(dateLayout)
		followUp = &s
	}
	return &Wire{
		ID:            rec.ID.String(),
		PatientID:     rec.PatientID.String(),
		CreatedBy:     rec.CreatedBy.String(),
		CreatorRole:   rec.CreatorRole,
		EncounterDate: rec.EncounterDate.UTC().Format(dateLayout),
		FollowUpDate:  followUp,
		Diagnosis:     diagnosis,
		Notes:         notes,
		Version:       rec.Version,
		UpdatedAt:     rec.UpdatedAt,
	}, nil
}

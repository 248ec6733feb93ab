package prescription

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

// SyncHandler applies push operations and collects pull rows for
// prescriptions.
type SyncHandler struct {
	repo   Repository
	cipher *hipaa.FieldCipher
}

func NewSyncHandler(repo Repository, cipher *hipaa.FieldCipher) *SyncHandler {
	return &SyncHandler{repo: repo, cipher: cipher}
}

func (h *SyncHandler) Entity() engine.EntityType { return engine.EntityPrescription }

func (h *SyncHandler) Apply(ctx context.Context, actor auth.Actor, op engine.Operation) (engine.AppliedResult, error) {
	if op.Action == engine.ActionDelete {
		return engine.AppliedResult{}, fmt.Errorf("%w: prescriptions cannot be deleted through sync", engine.ErrUnsupported)
	}

	var p Payload
	if err := engine.DecodePayload(op.Data, &p); err != nil {
		return engine.AppliedResult{}, err
	}
	patientID, err := uuid.Parse(p.PatientID)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("%w: patient_id: %v", engine.ErrInvalidPayload, err)
	}
	doctorID, err := uuid.Parse(p.DoctorID)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("%w: doctor_id: %v", engine.ErrInvalidPayload, err)
	}

	id, err := op.TargetID()
	if err != nil {
		return engine.AppliedResult{}, err
	}

	existing, err := h.repo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		existing = nil
	} else if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("fetch prescription: %w", err)
	}

	if existing == nil {
		return h.create(ctx, actor, op, &p, id, patientID, doctorID)
	}
	return h.update(ctx, actor, op, &p, existing, patientID, doctorID)
}

func (h *SyncHandler) create(ctx context.Context, actor auth.Actor, op engine.Operation, p *Payload, id, patientID, doctorID uuid.UUID) (engine.AppliedResult, error) {
	if err := engine.Authorize(engine.EntityPrescription, engine.KindCreate, actor, true); err != nil {
		return engine.AppliedResult{}, err
	}
	// A doctor prescribes in their own name.
	if !actor.IsAdmin() && doctorID != actor.ID {
		return engine.AppliedResult{}, fmt.Errorf("%w: doctor_id must be the prescribing doctor", engine.ErrForbidden)
	}

	notes, err := h.cipher.EncryptPtr(p.Notes)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("encrypt notes: %w", err)
	}

	rx := &Prescription{
		ID:        id,
		PatientID: patientID,
		DoctorID:  doctorID,
		Notes:     notes,
		Items:     toItems(p.Items),
	}
	if err := h.repo.Create(ctx, rx); err != nil {
		return engine.AppliedResult{}, fmt.Errorf("create prescription: %w", err)
	}
	return engine.AppliedResult{OpID: op.OpID, EntityID: id.String(), NewVersion: 1}, nil
}

func (h *SyncHandler) update(ctx context.Context, actor auth.Actor, op engine.Operation, p *Payload, existing *Prescription, patientID, doctorID uuid.UUID) (engine.AppliedResult, error) {
	wire, err := h.project(existing)
	if err != nil {
		return engine.AppliedResult{}, err
	}
	if err := engine.GateVersion(op.BaseVersion, existing.Version, existing.ID.String(), wire); err != nil {
		return engine.AppliedResult{}, err
	}

	owns := existing.DoctorID == actor.ID
	if err := engine.Authorize(engine.EntityPrescription, engine.KindUpdate, actor, owns); err != nil {
		return engine.AppliedResult{}, err
	}

	notes, err := h.cipher.EncryptPtr(p.Notes)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("encrypt notes: %w", err)
	}

	next := &Prescription{
		ID:        existing.ID,
		PatientID: patientID,
		DoctorID:  doctorID,
		Notes:     notes,
		Items:     toItems(p.Items),
	}
	newVersion, swapped, err := h.repo.UpdateCAS(ctx, next, existing.Version)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("update prescription: %w", err)
	}
	if !swapped {
		current, err := h.repo.GetByID(ctx, existing.ID)
		if err != nil {
			return engine.AppliedResult{}, fmt.Errorf("refetch prescription after CAS miss: %w", err)
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
	case auth.RoleAdmin, auth.RolePharmacy:
		// Pharmacies dispense against any prescription.
		vis.All = true
	case auth.RolePatient:
		vis.PatientID = &actor.ID
	case auth.RoleDoctor:
		vis.DoctorID = &actor.ID
	default:
		return nil, nil // health workers have no prescription visibility
	}

	items, err := h.repo.ListChanged(ctx, vis, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	out := make([]interface{}, 0, len(items))
	for _, rx := range items {
		w, err := h.project(rx)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func (h *SyncHandler) project(rx *Prescription) (*Wire, error) {
	notes, err := h.cipher.DecryptPtr(rx.Notes)
	if err != nil {
		return nil, fmt.Errorf("decrypt prescription %s: %w", rx.ID, err)
	}
	items := rx.Items
	if items == nil {
		items = []Item{}
	}
	return &Wire{
		ID:        rx.ID.String(),
		PatientID: rx.PatientID.String(),
		DoctorID:  rx.DoctorID.String(),
		Notes:     notes,
		Items:     items,
		Version:   rx.Version,
		UpdatedAt: rx.UpdatedAt,
	}, nil
}

func toItems(in []ItemPayload) []Item {
	out := make([]Item, len(in))
	for i, it := range in {
		out[i] = Item{Medicine: it.Medicine, Dosage: it.Dosage, Frequency: it.Frequency, DurationDays: it.DurationDays}
	}
	return out
}

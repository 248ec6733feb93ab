package appointment

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
// appointments.
type SyncHandler struct {
	repo   Repository
	cipher *hipaa.FieldCipher
}

func NewSyncHandler(repo Repository, cipher *hipaa.FieldCipher) *SyncHandler {
	return &SyncHandler{repo: repo, cipher: cipher}
}

func (h *SyncHandler) Entity() engine.EntityType { return engine.EntityAppointment }

func (h *SyncHandler) Apply(ctx context.Context, actor auth.Actor, op engine.Operation) (engine.AppliedResult, error) {
	if op.Action == engine.ActionDelete {
		return engine.AppliedResult{}, fmt.Errorf("%w: appointments cannot be deleted through sync", engine.ErrUnsupported)
	}

	var p Payload
	if err := engine.DecodePayload(op.Data, &p); err != nil {
		return engine.AppliedResult{}, err
	}
	scheduledAt, err := p.ScheduleInstant()
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("%w: %v", engine.ErrInvalidPayload, err)
	}
	if p.Status != "" && !validStatuses[p.Status] {
		return engine.AppliedResult{}, fmt.Errorf("%w: invalid status %q", engine.ErrInvalidPayload, p.Status)
	}

	id, err := op.TargetID()
	if err != nil {
		return engine.AppliedResult{}, err
	}

	existing, err := h.repo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		existing = nil
	} else if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("fetch appointment: %w", err)
	}

	if existing == nil {
		return h.create(ctx, actor, op, &p, id, scheduledAt)
	}
	return h.update(ctx, actor, op, &p, existing, scheduledAt)
}

func (h *SyncHandler) create(ctx context.Context, actor auth.Actor, op engine.Operation, p *Payload, id uuid.UUID, scheduledAt time.Time) (engine.AppliedResult, error) {
	patientID, doctorID, workerID, err := p.participantIDs()
	if err != nil {
		return engine.AppliedResult{}, err
	}
	owns := participates(actor, patientID, doctorID, workerID)
	if err := engine.Authorize(engine.EntityAppointment, engine.KindCreate, actor, owns); err != nil {
		return engine.AppliedResult{}, err
	}

	reason, err := h.cipher.EncryptPtr(p.Reason)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("encrypt reason: %w", err)
	}
	status := p.Status
	if status == "" {
		status = "scheduled"
	}

	a := &Appointment{
		ID:          id,
		PatientID:   patientID,
		DoctorID:    doctorID,
		WorkerID:    workerID,
		ScheduledAt: scheduledAt,
		Status:      status,
		Reason:      reason,
	}
	if err := h.repo.Create(ctx, a); err != nil {
		return engine.AppliedResult{}, fmt.Errorf("create appointment: %w", err)
	}
	return engine.AppliedResult{OpID: op.OpID, EntityID: id.String(), NewVersion: 1}, nil
}

func (h *SyncHandler) update(ctx context.Context, actor auth.Actor, op engine.Operation, p *Payload, existing *Appointment, scheduledAt time.Time) (engine.AppliedResult, error) {
	wire, err := h.project(existing)
	if err != nil {
		return engine.AppliedResult{}, err
	}
	if err := engine.GateVersion(op.BaseVersion, existing.Version, existing.ID.String(), wire); err != nil {
		return engine.AppliedResult{}, err
	}

	owns := participates(actor, existing.PatientID, existing.DoctorID, existing.WorkerID)
	if err := engine.Authorize(engine.EntityAppointment, engine.KindUpdate, actor, owns); err != nil {
		return engine.AppliedResult{}, err
	}

	patientID, doctorID, workerID, err := p.participantIDs()
	if err != nil {
		return engine.AppliedResult{}, err
	}
	reason, err := h.cipher.EncryptPtr(p.Reason)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("encrypt reason: %w", err)
	}
	status := p.Status
	if status == "" {
		status = existing.Status
	}

	next := &Appointment{
		ID:          existing.ID,
		PatientID:   patientID,
		DoctorID:    doctorID,
		WorkerID:    workerID,
		ScheduledAt: scheduledAt,
		Status:      status,
		Reason:      reason,
	}
	newVersion, swapped, err := h.repo.UpdateCAS(ctx, next, existing.Version)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("update appointment: %w", err)
	}
	if !swapped {
		// Lost a race after the in-memory gate; report the fresh state.
		current, err := h.repo.GetByID(ctx, existing.ID)
		if err != nil {
			return engine.AppliedResult{}, fmt.Errorf("refetch appointment after CAS miss: %w", err)
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
	case auth.RoleDoctor:
		vis.DoctorID = &actor.ID
	case auth.RoleHealthWorker:
		vis.WorkerID = &actor.ID
	default:
		return nil, nil // pharmacies have no appointment visibility
	}

	items, err := h.repo.ListChanged(ctx, vis, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	out := make([]interface{}, 0, len(items))
	for _, a := range items {
		w, err := h.project(a)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// project decrypts the reason field and splits the scheduling instant back
// into wire date and time.
func (h *SyncHandler) project(a *Appointment) (*Wire, error) {
	reason, err := h.cipher.DecryptPtr(a.Reason)
	if err != nil {
		return nil, fmt.Errorf("decrypt appointment %s: %w", a.ID, err)
	}
	var workerID *string
	if a.WorkerID != nil {
		s := a.WorkerID.String()
		workerID = &s
	}
	return &Wire{
		ID:        a.ID.String(),
		PatientID: a.PatientID.String(),
		DoctorID:  a.DoctorID.String(),
		WorkerID:  workerID,
		Date:      a.ScheduledAt.UTC().Format("2006-01-02"),
		Time:      a.ScheduledAt.UTC().Format("15:04"),
		Status:    a.Status,
		Reason:    reason,
		Version:   a.Version,
		UpdatedAt: a.UpdatedAt,
	}, nil
}

func (p *Payload) participantIDs() (patientID, doctorID uuid.UUID, workerID *uuid.UUID, err error) {
	patientID, err = uuid.Parse(p.PatientID)
	if err != nil {
		return uuid.Nil, uuid.Nil, nil, fmt.Errorf("%w: patient_id: %v", engine.ErrInvalidPayload, err)
	}
	doctorID, err = uuid.Parse(p.DoctorID)
	if err != nil {
		return uuid.Nil, uuid.Nil, nil, fmt.Errorf("%w: doctor_id: %v", engine.ErrInvalidPayload, err)
	}
	if p.WorkerID != nil {
		w, werr := uuid.Parse(*p.WorkerID)
		if werr != nil {
			return uuid.Nil, uuid.Nil, nil, fmt.Errorf("%w: worker_id: %v", engine.ErrInvalidPayload, werr)
		}
		workerID = &w
	}
	return patientID, doctorID, workerID, nil
}

func participates(actor auth.Actor, patientID, doctorID uuid.UUID, workerID *uuid.UUID) bool {
	if actor.ID == patientID || actor.ID == doctorID {
		return true
	}
	return workerID != nil && actor.ID == *workerID
}

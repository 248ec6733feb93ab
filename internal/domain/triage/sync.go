package triage

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

// SyncHandler applies push operations and collects pull rows for triage
// logs. Logs are immutable: a repeat create for an id that already exists is
// a no-op success, so a device retrying after a dropped response converges
// instead of conflicting.
type SyncHandler struct {
	repo   Repository
	cipher *hipaa.FieldCipher
}

func NewSyncHandler(repo Repository, cipher *hipaa.FieldCipher) *SyncHandler {
	return &SyncHandler{repo: repo, cipher: cipher}
}

func (h *SyncHandler) Entity() engine.EntityType { return engine.EntityTriageLog }

func (h *SyncHandler) Apply(ctx context.Context, actor auth.Actor, op engine.Operation) (engine.AppliedResult, error) {
	if op.Action == engine.ActionDelete {
		return engine.AppliedResult{}, fmt.Errorf("%w: triage logs cannot be deleted through sync", engine.ErrUnsupported)
	}

	var p Payload
	if err := engine.DecodePayload(op.Data, &p); err != nil {
		return engine.AppliedResult{}, err
	}
	if !validSeverities[p.Severity] {
		return engine.AppliedResult{}, fmt.Errorf("%w: invalid severity %q", engine.ErrInvalidPayload, p.Severity)
	}
	var patientID *uuid.UUID
	if p.PatientID != nil {
		pid, err := uuid.Parse(*p.PatientID)
		if err != nil {
			return engine.AppliedResult{}, fmt.Errorf("%w: patient_id: %v", engine.ErrInvalidPayload, err)
		}
		patientID = &pid
	}

	id, err := op.TargetID()
	if err != nil {
		return engine.AppliedResult{}, err
	}

	if op.EntityID != "" {
		existing, err := h.repo.GetByID(ctx, id)
		if err == nil {
			// Already logged, likely a retry. Versionless entities report 1.
			return engine.AppliedResult{OpID: op.OpID, EntityID: existing.ID.String(), NewVersion: 1}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return engine.AppliedResult{}, fmt.Errorf("fetch triage log: %w", err)
		}
	}

	if err := engine.Authorize(engine.EntityTriageLog, engine.KindCreate, actor, true); err != nil {
		return engine.AppliedResult{}, err
	}

	symptoms, err := h.cipher.Encrypt(p.Symptoms)
	if err != nil {
		return engine.AppliedResult{}, fmt.Errorf("encrypt symptoms: %w", err)
	}

	l := &Log{
		ID:          id,
		PatientID:   patientID,
		CreatedBy:   actor.ID,
		CreatorRole: string(actor.Role),
		Severity:    p.Severity,
		Symptoms:    symptoms,
		Outcome:     p.Outcome,
	}
	if err := h.repo.Create(ctx, l); err != nil {
		return engine.AppliedResult{}, fmt.Errorf("create triage log: %w", err)
	}
	return engine.AppliedResult{OpID: op.OpID, EntityID: id.String(), NewVersion: 1}, nil
}

func (h *SyncHandler) Collect(ctx context.Context, actor auth.Actor, since *time.Time, limit int) ([]interface{}, error) {
	vis := Visibility{}
	switch actor.Role {
	case auth.RoleAdmin:
		vis.All = true
	case auth.RolePatient, auth.RolePharmacy:
		vis.SubjectOrCreator = &actor.ID
	case auth.RoleDoctor, auth.RoleHealthWorker:
		// Doctors see doctor-authored logs, health workers see
		// health-worker-authored logs; the asymmetry is policy.
		role := string(actor.Role)
		vis.CreatorRole = &role
	default:
		return nil, nil
	}

	items, err := h.repo.ListChanged(ctx, vis, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list triage logs: %w", err)
	}
	out := make([]interface{}, 0, len(items))
	for _, l := range items {
		w, err := h.project(l)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func (h *SyncHandler) project(l *Log) (*Wire, error) {
	symptoms, err := h.cipher.Decrypt(l.Symptoms)
	if err != nil {
		return nil, fmt.Errorf("decrypt triage log %s: %w", l.ID, err)
	}
	var patientID *string
	if l.PatientID != nil {
		s := l.PatientID.String()
		patientID = &s
	}
	return &Wire{
		ID:          l.ID.String(),
		PatientID:   patientID,
		CreatedBy:   l.CreatedBy.String(),
		CreatorRole: l.CreatorRole,
		Severity:    l.Severity,
		Symptoms:    symptoms,
		Outcome:     l.Outcome,
		CreatedAt:   l.CreatedAt,
	}, nil
}

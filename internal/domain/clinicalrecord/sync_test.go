package clinicalrecord

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medisync/medisync/internal/engine"
	"github.com/medisync/medisync/internal/platform/auth"
	"github.com/medisync/medisync/internal/platform/hipaa"
)

type mockRepo struct {
	store map[uuid.UUID]*Record
}

func newMockRepo() *mockRepo { return &mockRepo{store: make(map[uuid.UUID]*Record)} }

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	rec, ok := m.store[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *rec
	return &cp, nil
}

func (m *mockRepo) Create(_ context.Context, rec *Record) error {
	cp := *rec
	cp.Version = 1
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.store[rec.ID] = &cp
	return nil
}

func (m *mockRepo) UpdateCAS(_ context.Context, rec *Record, expected int64) (int64, bool, error) {
	cur, ok := m.store[rec.ID]
	if !ok || cur.Version != expected {
		return 0, false, nil
	}
	cp := *rec
	cp.CreatedBy = cur.CreatedBy
	cp.CreatorRole = cur.CreatorRole
	cp.Version = cur.Version + 1
	cp.CreatedAt = cur.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	m.store[rec.ID] = &cp
	return cp.Version, true, nil
}

func (m *mockRepo) ListChanged(_ context.Context, vis Visibility, since *time.Time, limit int) ([]*Record, error) {
	var out []*Record
	for _, rec := range m.store {
		switch {
		case vis.All:
		case vis.PatientID != nil && rec.PatientID == *vis.PatientID:
		case vis.CreatedBy != nil && rec.CreatedBy == *vis.CreatedBy:
		default:
			continue
		}
		if since != nil && !rec.UpdatedAt.After(*since) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func testHandler(t *testing.T) *SyncHandler {
	t.Helper()
	cipher, err := hipaa.NewFieldCipher([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	return NewSyncHandler(newMockRepo(), cipher)
}

func op(t *testing.T, opID, entityID string, base *int64, p Payload) engine.Operation {
	t.Helper()
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return engine.Operation{
		OpID: opID, Entity: engine.EntityClinicalRecord, Action: engine.ActionUpsert,
		EntityID: entityID, BaseVersion: base, Data: data, ClientTS: time.Now().UTC(),
	}
}

func int64p(v int64) *int64 { return &v }

func TestCreateStampsCreator(t *testing.T) {
	h := testHandler(t)
	doctor := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}
	p := Payload{PatientID: uuid.NewString(), EncounterDate: "2026-04-01", Diagnosis: "seasonal influenza"}

	res, err := h.Apply(context.Background(), doctor, op(t, "a", "", nil, p))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.NewVersion != 1 {
		t.Fatalf("new version = %d", res.NewVersion)
	}

	rows, err := h.Collect(context.Background(), doctor, nil, 500)
	if err != nil {
		t.Fatal(err)
	}
	wire := rows[0].(*Wire)
	if wire.CreatedBy != doctor.ID.String() || wire.CreatorRole != "doctor" {
		t.Errorf("creator not stamped: %+v", wire)
	}
	if wire.Diagnosis != "seasonal influenza" {
		t.Errorf("diagnosis not round-tripped: %q", wire.Diagnosis)
	}
}

func TestPatientCannotCreate(t *testing.T) {
	h := testHandler(t)
	patient := auth.Actor{ID: uuid.New(), Role: auth.RolePatient}
	p := Payload{PatientID: patient.ID.String(), EncounterDate: "2026-04-01", Diagnosis: "self-diagnosis"}
	_, err := h.Apply(context.Background(), patient, op(t, "a", "", nil, p))
	if !errors.Is(err, engine.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestUpdateRestrictedToCreator(t *testing.T) {
	h := testHandler(t)
	author := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}
	other := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}
	admin := auth.Actor{ID: uuid.New(), Role: auth.RoleAdmin}
	p := Payload{PatientID: uuid.NewString(), EncounterDate: "2026-04-01", Diagnosis: "fracture, left radius"}

	created, err := h.Apply(context.Background(), author, op(t, "a", "", nil, p))
	if err != nil {
		t.Fatal(err)
	}

	_, err = h.Apply(context.Background(), other, op(t, "b", created.EntityID, int64p(1), p))
	if !errors.Is(err, engine.ErrForbidden) {
		t.Fatalf("non-creator doctor should be forbidden, got %v", err)
	}
	if _, err := h.Apply(context.Background(), author, op(t, "c", created.EntityID, int64p(1), p)); err != nil {
		t.Fatalf("creator update failed: %v", err)
	}
	if _, err := h.Apply(context.Background(), admin, op(t, "d", created.EntityID, int64p(2), p)); err != nil {
		t.Fatalf("admin update failed: %v", err)
	}
}

func TestUnparseableDateIsStructural(t *testing.T) {
	h := testHandler(t)
	doctor := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}
	bad := "04/01/2026"
	for _, p := range []Payload{
		{PatientID: uuid.NewString(), EncounterDate: bad, Diagnosis: "x"},
		{PatientID: uuid.NewString(), EncounterDate: "2026-04-01", FollowUpDate: &bad, Diagnosis: "x"},
	} {
		_, err := h.Apply(context.Background(), doctor, op(t, "a", "", nil, p))
		if !errors.Is(err, engine.ErrInvalidPayload) {
			t.Fatalf("expected ErrInvalidPayload for %+v, got %v", p, err)
		}
	}
}

func TestStaleUpdateConflicts(t *testing.T) {
	h := testHandler(t)
	author := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}
	p := Payload{PatientID: uuid.NewString(), EncounterDate: "2026-04-01", Diagnosis: "migraine"}

	created, err := h.Apply(context.Background(), author, op(t, "a", "", nil, p))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Apply(context.Background(), author, op(t, "b", created.EntityID, int64p(1), p)); err != nil {
		t.Fatal(err)
	}

	_, err = h.Apply(context.Background(), author, op(t, "c", created.EntityID, int64p(1), p))
	vc, ok := engine.AsVersionConflict(err)
	if !ok || vc.ServerVersion != 2 {
		t.Fatalf("expected version conflict at 2, got %v", err)
	}
	if wire, ok := vc.ServerData.(*Wire); !ok || wire.Diagnosis != "migraine" {
		t.Errorf("conflict projection not decrypted: %+v", vc.ServerData)
	}
}

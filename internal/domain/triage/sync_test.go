package triage

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
	store map[uuid.UUID]*Log
}

func newMockRepo() *mockRepo { return &mockRepo{store: make(map[uuid.UUID]*Log)} }

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Log, error) {
	l, ok := m.store[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *l
	return &cp, nil
}

func (m *mockRepo) Create(_ context.Context, l *Log) error {
	cp := *l
	cp.CreatedAt = time.Now().UTC()
	m.store[l.ID] = &cp
	return nil
}

func (m *mockRepo) ListChanged(_ context.Context, vis Visibility, since *time.Time, limit int) ([]*Log, error) {
	var out []*Log
	for _, l := range m.store {
		switch {
		case vis.All:
		case vis.SubjectOrCreator != nil &&
			((l.PatientID != nil && *l.PatientID == *vis.SubjectOrCreator) || l.CreatedBy == *vis.SubjectOrCreator):
		case vis.CreatorRole != nil && l.CreatorRole == *vis.CreatorRole:
		default:
			continue
		}
		if since != nil && !l.CreatedAt.After(*since) {
			continue
		}
		cp := *l
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func testHandler(t *testing.T) (*SyncHandler, *mockRepo) {
	t.Helper()
	cipher, err := hipaa.NewFieldCipher([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	repo := newMockRepo()
	return NewSyncHandler(repo, cipher), repo
}

func op(t *testing.T, opID, entityID string, p Payload) engine.Operation {
	t.Helper()
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return engine.Operation{
		OpID: opID, Entity: engine.EntityTriageLog, Action: engine.ActionUpsert,
		EntityID: entityID, Data: data, ClientTS: time.Now().UTC(),
	}
}

func TestRepeatCreateIsNoOp(t *testing.T) {
	h, repo := testHandler(t)
	worker := auth.Actor{ID: uuid.New(), Role: auth.RoleHealthWorker}
	id := uuid.NewString()
	p := Payload{Severity: "high", Symptoms: "fever, stiff neck", Outcome: "referred to district hospital"}

	first, err := h.Apply(context.Background(), worker, op(t, "a", id, p))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := h.Apply(context.Background(), worker, op(t, "b", id, p))
	if err != nil {
		t.Fatalf("repeat create should be a no-op success, got %v", err)
	}
	if second.EntityID != first.EntityID || second.NewVersion != 1 {
		t.Fatalf("repeat create result: %+v", second)
	}
	if len(repo.store) != 1 {
		t.Fatalf("expected 1 stored log, have %d", len(repo.store))
	}
}

func TestAnyRoleMayLogTriage(t *testing.T) {
	h, _ := testHandler(t)
	p := Payload{Severity: "low", Symptoms: "mild headache", Outcome: "advised rest"}
	for _, role := range []auth.Role{auth.RolePatient, auth.RoleDoctor, auth.RolePharmacy, auth.RoleHealthWorker, auth.RoleAdmin} {
		actor := auth.Actor{ID: uuid.New(), Role: role}
		if _, err := h.Apply(context.Background(), actor, op(t, uuid.NewString(), "", p)); err != nil {
			t.Fatalf("role %s could not log triage: %v", role, err)
		}
	}
}

func TestInvalidSeverityIsStructural(t *testing.T) {
	h, _ := testHandler(t)
	worker := auth.Actor{ID: uuid.New(), Role: auth.RoleHealthWorker}
	p := Payload{Severity: "catastrophic", Symptoms: "x", Outcome: "y"}
	_, err := h.Apply(context.Background(), worker, op(t, "a", "", p))
	if !errors.Is(err, engine.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestDeleteUnsupported(t *testing.T) {
	h, _ := testHandler(t)
	worker := auth.Actor{ID: uuid.New(), Role: auth.RoleHealthWorker}
	o := engine.Operation{OpID: "a", Entity: engine.EntityTriageLog, Action: engine.ActionDelete, EntityID: uuid.NewString()}
	_, err := h.Apply(context.Background(), worker, o)
	if !errors.Is(err, engine.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestVisibilityAsymmetry(t *testing.T) {
	h, _ := testHandler(t)
	doctor := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}
	worker := auth.Actor{ID: uuid.New(), Role: auth.RoleHealthWorker}

	p := Payload{Severity: "medium", Symptoms: "persistent cough", Outcome: "scheduled follow-up"}
	if _, err := h.Apply(context.Background(), doctor, op(t, "a", "", p)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Apply(context.Background(), worker, op(t, "b", "", p)); err != nil {
		t.Fatal(err)
	}

	docRows, err := h.Collect(context.Background(), doctor, nil, 500)
	if err != nil {
		t.Fatal(err)
	}
	workerRows, err := h.Collect(context.Background(), worker, nil, 500)
	if err != nil {
		t.Fatal(err)
	}
	if len(docRows) != 1 || docRows[0].(*Wire).CreatorRole != "doctor" {
		t.Errorf("doctor visibility leaked across roles: %d rows", len(docRows))
	}
	if len(workerRows) != 1 || workerRows[0].(*Wire).CreatorRole != "health_worker" {
		t.Errorf("health-worker visibility leaked across roles: %d rows", len(workerRows))
	}
}

func TestPharmacySeesOwnLogsOnly(t *testing.T) {
	h, _ := testHandler(t)
	pharmacy := auth.Actor{ID: uuid.New(), Role: auth.RolePharmacy}
	worker := auth.Actor{ID: uuid.New(), Role: auth.RoleHealthWorker}

	own := Payload{Severity: "low", Symptoms: "mild rash", Outcome: "sold antihistamine"}
	other := Payload{Severity: "medium", Symptoms: "fever", Outcome: "referred"}
	if _, err := h.Apply(context.Background(), pharmacy, op(t, "a", "", own)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Apply(context.Background(), worker, op(t, "b", "", other)); err != nil {
		t.Fatal(err)
	}

	rows, err := h.Collect(context.Background(), pharmacy, nil, 500)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("pharmacy sees %d triage logs, want only its own", len(rows))
	}
	if w := rows[0].(*Wire); w.CreatedBy != pharmacy.ID.String() {
		t.Errorf("pharmacy pulled a log it did not create: created_by=%s", w.CreatedBy)
	}
}

func TestPatientSeesLogsAboutThem(t *testing.T) {
	h, _ := testHandler(t)
	worker := auth.Actor{ID: uuid.New(), Role: auth.RoleHealthWorker}
	patient := auth.Actor{ID: uuid.New(), Role: auth.RolePatient}

	pid := patient.ID.String()
	about := Payload{PatientID: &pid, Severity: "high", Symptoms: "chest pain", Outcome: "referred"}
	anon := Payload{Severity: "low", Symptoms: "sprained ankle", Outcome: "bandaged"}
	if _, err := h.Apply(context.Background(), worker, op(t, "a", "", about)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Apply(context.Background(), worker, op(t, "b", "", anon)); err != nil {
		t.Fatal(err)
	}

	rows, err := h.Collect(context.Background(), patient, nil, 500)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("patient sees %d triage logs, want 1", len(rows))
	}
	if w := rows[0].(*Wire); w.Symptoms != "chest pain" {
		t.Errorf("symptoms not decrypted: %q", w.Symptoms)
	}
}

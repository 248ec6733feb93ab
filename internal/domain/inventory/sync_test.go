package inventory

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
)

type skuKey struct {
	pharmacy uuid.UUID
	sku      string
}

type mockRepo struct {
	byID  map[uuid.UUID]*Item
	bySKU map[skuKey]uuid.UUID
}

func newMockRepo() *mockRepo {
	return &mockRepo{byID: make(map[uuid.UUID]*Item), bySKU: make(map[skuKey]uuid.UUID)}
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Item, error) {
	it, ok := m.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *it
	return &cp, nil
}

func (m *mockRepo) GetBySKU(_ context.Context, pharmacyID uuid.UUID, sku string) (*Item, error) {
	id, ok := m.bySKU[skuKey{pharmacyID, sku}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *mockRepo) Create(_ context.Context, it *Item) error {
	cp := *it
	cp.Version = 1
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.byID[it.ID] = &cp
	m.bySKU[skuKey{it.PharmacyID, it.SKU}] = it.ID
	return nil
}

func (m *mockRepo) UpdateCAS(_ context.Context, it *Item, expected int64) (int64, bool, error) {
	cur, ok := m.byID[it.ID]
	if !ok || cur.Version != expected || cur.Deleted {
		return 0, false, nil
	}
	cur.Name = it.Name
	cur.Quantity = it.Quantity
	cur.Unit = it.Unit
	cur.ReorderLevel = it.ReorderLevel
	cur.Version++
	cur.UpdatedAt = time.Now().UTC()
	return cur.Version, true, nil
}

func (m *mockRepo) SoftDeleteCAS(_ context.Context, id uuid.UUID, expected int64) (int64, bool, error) {
	cur, ok := m.byID[id]
	if !ok || cur.Version != expected || cur.Deleted {
		return 0, false, nil
	}
	cur.Deleted = true
	cur.Version++
	cur.UpdatedAt = time.Now().UTC()
	return cur.Version, true, nil
}

func (m *mockRepo) ListChanged(_ context.Context, vis Visibility, since *time.Time, limit int) ([]*Item, error) {
	var out []*Item
	for _, it := range m.byID {
		if it.Deleted {
			continue
		}
		switch {
		case vis.All:
		case vis.PharmacyID != nil && it.PharmacyID == *vis.PharmacyID:
		default:
			continue
		}
		if since != nil && !it.UpdatedAt.After(*since) {
			continue
		}
		cp := *it
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func op(t *testing.T, opID string, action engine.Action, entityID string, base *int64, p *Payload) engine.Operation {
	t.Helper()
	var data json.RawMessage
	if p != nil {
		var err error
		data, err = json.Marshal(p)
		if err != nil {
			t.Fatal(err)
		}
	}
	return engine.Operation{
		OpID: opID, Entity: engine.EntityInventoryItem, Action: action,
		EntityID: entityID, BaseVersion: base, Data: data, ClientTS: time.Now().UTC(),
	}
}

func int64p(v int64) *int64 { return &v }

func stock(pharmacy uuid.UUID) Payload {
	return Payload{
		PharmacyID: pharmacy.String(), SKU: "AMOX-500", Name: "Amoxicillin 500mg",
		Quantity: 120, Unit: "capsule", ReorderLevel: 30,
	}
}

func TestOwningPharmacyCreatesAndDeletes(t *testing.T) {
	repo := newMockRepo()
	h := NewSyncHandler(repo)
	pharmacy := auth.Actor{ID: uuid.New(), Role: auth.RolePharmacy}

	p := stock(pharmacy.ID)
	created, err := h.Apply(context.Background(), pharmacy, op(t, "a", engine.ActionUpsert, "", nil, &p))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := h.Apply(context.Background(), pharmacy, op(t, "b", engine.ActionDelete, created.EntityID, int64p(1), nil))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.NewVersion != 2 {
		t.Fatalf("delete version = %d, want 2", res.NewVersion)
	}

	rows, err := h.Collect(context.Background(), pharmacy, nil, 500)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("deleted item still pulled: %d rows", len(rows))
	}
}

func TestNonOwningPharmacyRejected(t *testing.T) {
	repo := newMockRepo()
	h := NewSyncHandler(repo)
	owner := auth.Actor{ID: uuid.New(), Role: auth.RolePharmacy}
	other := auth.Actor{ID: uuid.New(), Role: auth.RolePharmacy}

	p := stock(owner.ID)
	created, err := h.Apply(context.Background(), owner, op(t, "a", engine.ActionUpsert, "", nil, &p))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := h.Apply(context.Background(), other, op(t, "b", engine.ActionDelete, created.EntityID, int64p(1), nil)); !errors.Is(err, engine.ErrForbidden) {
		t.Fatalf("foreign delete should be forbidden, got %v", err)
	}
	if _, err := h.Apply(context.Background(), other, op(t, "c", engine.ActionUpsert, created.EntityID, int64p(1), &p)); !errors.Is(err, engine.ErrForbidden) {
		t.Fatalf("foreign update should be forbidden, got %v", err)
	}
}

func TestUpsertRoutesToExistingSKU(t *testing.T) {
	repo := newMockRepo()
	h := NewSyncHandler(repo)
	pharmacy := auth.Actor{ID: uuid.New(), Role: auth.RolePharmacy}

	p := stock(pharmacy.ID)
	created, err := h.Apply(context.Background(), pharmacy, op(t, "a", engine.ActionUpsert, "", nil, &p))
	if err != nil {
		t.Fatal(err)
	}

	// Another device created the same SKU offline under a different id;
	// the upsert lands on the surviving row.
	p.Quantity = 90
	res, err := h.Apply(context.Background(), pharmacy, op(t, "b", engine.ActionUpsert, "", nil, &p))
	if err != nil {
		t.Fatalf("sku-routed upsert: %v", err)
	}
	if res.EntityID != created.EntityID {
		t.Fatalf("upsert created a duplicate row: %s vs %s", res.EntityID, created.EntityID)
	}
	if res.NewVersion != 2 {
		t.Fatalf("new version = %d, want 2", res.NewVersion)
	}
}

func TestSKURoutedConflictCarriesResolvedID(t *testing.T) {
	repo := newMockRepo()
	h := NewSyncHandler(repo)
	pharmacy := auth.Actor{ID: uuid.New(), Role: auth.RolePharmacy}

	p := stock(pharmacy.ID)
	created, err := h.Apply(context.Background(), pharmacy, op(t, "a", engine.ActionUpsert, "", nil, &p))
	if err != nil {
		t.Fatal(err)
	}
	p.Quantity = 90
	if _, err := h.Apply(context.Background(), pharmacy, op(t, "b", engine.ActionUpsert, created.EntityID, int64p(1), &p)); err != nil {
		t.Fatal(err)
	}

	// A second device's stale upsert with no entity_id routes by SKU; the
	// conflict must still name the row it landed on.
	p.Quantity = 70
	_, err = h.Apply(context.Background(), pharmacy, op(t, "c", engine.ActionUpsert, "", int64p(1), &p))
	vc, ok := engine.AsVersionConflict(err)
	if !ok {
		t.Fatalf("stale sku-routed upsert: got %v, want version conflict", err)
	}
	if vc.EntityID != created.EntityID {
		t.Fatalf("conflict entity id = %q, want %q", vc.EntityID, created.EntityID)
	}
	if vc.ServerVersion != 2 {
		t.Fatalf("conflict server version = %d, want 2", vc.ServerVersion)
	}
}

func TestRepeatDeleteIsNoOp(t *testing.T) {
	repo := newMockRepo()
	h := NewSyncHandler(repo)
	pharmacy := auth.Actor{ID: uuid.New(), Role: auth.RolePharmacy}

	p := stock(pharmacy.ID)
	created, err := h.Apply(context.Background(), pharmacy, op(t, "a", engine.ActionUpsert, "", nil, &p))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Apply(context.Background(), pharmacy, op(t, "b", engine.ActionDelete, created.EntityID, int64p(1), nil)); err != nil {
		t.Fatal(err)
	}

	res, err := h.Apply(context.Background(), pharmacy, op(t, "c", engine.ActionDelete, created.EntityID, int64p(1), nil))
	if err != nil {
		t.Fatalf("repeat delete should be a no-op success, got %v", err)
	}
	if res.NewVersion != 2 {
		t.Fatalf("repeat delete version = %d, want 2", res.NewVersion)
	}
}

func TestRepeatDeleteByNonOwnerForbidden(t *testing.T) {
	repo := newMockRepo()
	h := NewSyncHandler(repo)
	pharmacy := auth.Actor{ID: uuid.New(), Role: auth.RolePharmacy}
	other := auth.Actor{ID: uuid.New(), Role: auth.RolePharmacy}
	patient := auth.Actor{ID: uuid.New(), Role: auth.RolePatient}

	p := stock(pharmacy.ID)
	created, err := h.Apply(context.Background(), pharmacy, op(t, "a", engine.ActionUpsert, "", nil, &p))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Apply(context.Background(), pharmacy, op(t, "b", engine.ActionDelete, created.EntityID, int64p(1), nil)); err != nil {
		t.Fatal(err)
	}

	// The idempotent no-op is for the owner; everyone else is turned away
	// before learning the row exists at all.
	for _, actor := range []auth.Actor{other, patient} {
		if _, err := h.Apply(context.Background(), actor, op(t, "c", engine.ActionDelete, created.EntityID, int64p(1), nil)); !errors.Is(err, engine.ErrForbidden) {
			t.Fatalf("role %s deleting another pharmacy's deleted item: got %v, want forbidden", actor.Role, err)
		}
	}
}

func TestUpsertOnDeletedItemRejected(t *testing.T) {
	repo := newMockRepo()
	h := NewSyncHandler(repo)
	pharmacy := auth.Actor{ID: uuid.New(), Role: auth.RolePharmacy}

	p := stock(pharmacy.ID)
	created, err := h.Apply(context.Background(), pharmacy, op(t, "a", engine.ActionUpsert, "", nil, &p))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Apply(context.Background(), pharmacy, op(t, "b", engine.ActionDelete, created.EntityID, int64p(1), nil)); err != nil {
		t.Fatal(err)
	}

	_, err = h.Apply(context.Background(), pharmacy, op(t, "c", engine.ActionUpsert, created.EntityID, nil, &p))
	if !errors.Is(err, engine.ErrUnsupported) {
		t.Fatalf("upsert on deleted item should be rejected, got %v", err)
	}
}

func TestDoctorHasNoInventoryAccess(t *testing.T) {
	repo := newMockRepo()
	h := NewSyncHandler(repo)
	pharmacy := auth.Actor{ID: uuid.New(), Role: auth.RolePharmacy}
	doctor := auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor}

	p := stock(pharmacy.ID)
	if _, err := h.Apply(context.Background(), pharmacy, op(t, "a", engine.ActionUpsert, "", nil, &p)); err != nil {
		t.Fatal(err)
	}

	if _, err := h.Apply(context.Background(), doctor, op(t, "b", engine.ActionUpsert, "", nil, &p)); !errors.Is(err, engine.ErrForbidden) {
		t.Fatalf("doctor mutation should be forbidden, got %v", err)
	}
	rows, err := h.Collect(context.Background(), doctor, nil, 500)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("doctor pulled %d inventory rows", len(rows))
	}
}

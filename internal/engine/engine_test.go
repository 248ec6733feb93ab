package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medisync/medisync/internal/platform/auth"
)

// =========== Fakes ===========

// fakeStore runs the transaction function directly and records savepoint
// traffic so tests can assert on fault isolation.
type fakeStore struct {
	sess *fakeSession
}

func newFakeStore() *fakeStore {
	return &fakeStore{sess: &fakeSession{}}
}

func (s *fakeStore) WithinTx(ctx context.Context, fn func(ctx context.Context, sess Session) error) error {
	return fn(ctx, s.sess)
}

type fakeSession struct {
	savepoints []string
	rollbacks  []string
	releases   []string
	failNext   bool
}

func (s *fakeSession) Savepoint(_ context.Context, name string) error {
	if s.failNext {
		s.failNext = false
		return fmt.Errorf("savepoint %s failed", name)
	}
	s.savepoints = append(s.savepoints, name)
	return nil
}

func (s *fakeSession) RollbackTo(_ context.Context, name string) error {
	s.rollbacks = append(s.rollbacks, name)
	return nil
}

func (s *fakeSession) Release(_ context.Context, name string) error {
	s.releases = append(s.releases, name)
	return nil
}

type fakeCheckpoints struct {
	mu   sync.Mutex
	rows map[string]*Checkpoint
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{rows: make(map[string]*Checkpoint)}
}

func cpKey(actorID uuid.UUID, deviceID string) string {
	return actorID.String() + "/" + deviceID
}

func (f *fakeCheckpoints) Get(_ context.Context, actorID uuid.UUID, deviceID string) (*Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cp, ok := f.rows[cpKey(actorID, deviceID)]; ok {
		copied := *cp
		return &copied, nil
	}
	return &Checkpoint{ActorID: actorID, DeviceID: deviceID}, nil
}

func (f *fakeCheckpoints) MarkPushed(_ context.Context, actorID uuid.UUID, deviceID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.row(actorID, deviceID)
	cp.LastPushedAt = &at
	return nil
}

func (f *fakeCheckpoints) MarkPulled(_ context.Context, actorID uuid.UUID, deviceID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.row(actorID, deviceID)
	cp.LastPulledAt = &at
	return nil
}

func (f *fakeCheckpoints) row(actorID uuid.UUID, deviceID string) *Checkpoint {
	key := cpKey(actorID, deviceID)
	if _, ok := f.rows[key]; !ok {
		f.rows[key] = &Checkpoint{ActorID: actorID, DeviceID: deviceID}
	}
	return f.rows[key]
}

type fakeAudit struct {
	entries []*AuditEntry
}

func (f *fakeAudit) Record(_ context.Context, entry *AuditEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) List(_ context.Context, filter AuditFilter, limit, offset int) ([]*AuditEntry, int, error) {
	var out []*AuditEntry
	for _, e := range f.entries {
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.DeviceID != "" && e.DeviceID != filter.DeviceID {
			continue
		}
		if filter.ActorID != nil && e.ActorID != *filter.ActorID {
			continue
		}
		out = append(out, e)
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

// scriptedHandler returns canned outcomes keyed by op_id, and canned rows on
// Collect.
type scriptedHandler struct {
	entity    EntityType
	outcomes  map[string]outcome
	rows      []interface{}
	applied   []Operation
	collects  int
	lastSince *time.Time
	lastLimit int
}

type outcome struct {
	result AppliedResult
	err    error
}

func newScriptedHandler(entity EntityType) *scriptedHandler {
	return &scriptedHandler{entity: entity, outcomes: make(map[string]outcome)}
}

func (h *scriptedHandler) Entity() EntityType { return h.entity }

func (h *scriptedHandler) Apply(_ context.Context, _ auth.Actor, op Operation) (AppliedResult, error) {
	if o, ok := h.outcomes[op.OpID]; ok {
		if o.err != nil {
			return AppliedResult{}, o.err
		}
		h.applied = append(h.applied, op)
		return o.result, nil
	}
	h.applied = append(h.applied, op)
	return AppliedResult{OpID: op.OpID, EntityID: op.EntityID, NewVersion: 1}, nil
}

func (h *scriptedHandler) Collect(_ context.Context, _ auth.Actor, since *time.Time, limit int) ([]interface{}, error) {
	h.collects++
	h.lastSince = since
	h.lastLimit = limit
	return h.rows, nil
}

// Package engine implements the push/pull reconciliation protocol for
// offline-first device sync: per-entity optimistic concurrency control,
// role-scoped authorization, conflict surfacing, and per-device checkpoints.
package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medisync/medisync/internal/platform/auth"
)

// EntityType identifies one of the six syncable record types.
type EntityType string

const (
	EntityAppointment    EntityType = "appointment"
	EntityClinicalRecord EntityType = "clinical_record"
	EntityPrescription   EntityType = "prescription"
	EntityInventoryItem  EntityType = "inventory_item"
	EntityTriageLog      EntityType = "triage_log"
	EntityFollowUpVisit  EntityType = "follow_up_visit"
)

// AllEntities lists every syncable entity in the order pull responses are
// assembled. Push processing follows the client's submitted order instead.
var AllEntities = []EntityType{
	EntityAppointment,
	EntityClinicalRecord,
	EntityPrescription,
	EntityInventoryItem,
	EntityTriageLog,
	EntityFollowUpVisit,
}

func (e EntityType) Valid() bool {
	switch e {
	case EntityAppointment, EntityClinicalRecord, EntityPrescription,
		EntityInventoryItem, EntityTriageLog, EntityFollowUpVisit:
		return true
	}
	return false
}

// Action is the requested mutation kind for a push operation.
type Action string

const (
	ActionUpsert Action = "upsert"
	ActionDelete Action = "delete"
)

func (a Action) Valid() bool {
	return a == ActionUpsert || a == ActionDelete
}

// Conflict reasons surfaced to clients.
const (
	ReasonVersionMismatch = "VERSION_MISMATCH"
	ReasonRejected        = "REJECTED"
)

// MaxBatchSize is the hard cap on operations per push request.
const MaxBatchSize = 500

// MaxPullRows is the per-entity row cap for a single pull.
const MaxPullRows = 500

// Operation is one client-side mutation submitted in a push batch. It is
// never persisted verbatim; only its effects are.
type Operation struct {
	OpID        string          `json:"op_id"`
	Entity      EntityType      `json:"entity"`
	Action      Action          `json:"action"`
	EntityID    string          `json:"entity_id,omitempty"`
	BaseVersion *int64          `json:"base_version,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	ClientTS    time.Time       `json:"client_ts"`
}

// TargetID parses the operation's entity id, generating a fresh id when the
// client did not supply one (pure create).
func (op Operation) TargetID() (uuid.UUID, error) {
	if op.EntityID == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(op.EntityID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: entity_id %q is not a UUID", ErrInvalidPayload, op.EntityID)
	}
	return id, nil
}

// AppliedResult is emitted for every accepted operation.
type AppliedResult struct {
	OpID       string `json:"op_id"`
	EntityID   string `json:"entity_id"`
	NewVersion int64  `json:"new_version"`
}

// Conflict is emitted for every rejected operation. ServerData carries the
// current server projection only for version mismatches, so the client can
// show what changed before re-submitting.
type Conflict struct {
	OpID          string      `json:"op_id"`
	EntityID      string      `json:"entity_id"`
	ServerVersion int64       `json:"server_version"`
	Reason        string      `json:"reason"`
	ServerData    interface{} `json:"server_data,omitempty"`
}

// PushRequest is the batched upload of pending device mutations.
type PushRequest struct {
	DeviceID string      `json:"device_id"`
	Ops      []Operation `json:"ops"`
}

// PushResponse reports a structured per-operation outcome; one bad operation
// never turns into a transport error for the whole batch.
type PushResponse struct {
	Applied   []AppliedResult `json:"applied"`
	Conflicts []Conflict      `json:"conflicts"`
}

// PullResult is the consolidated since-checkpoint snapshot for one actor.
// Sets holds decrypted wire projections keyed by entity type.
type PullResult struct {
	ServerTime time.Time
	Sets       map[EntityType][]interface{}
}

// MarshalJSON flattens the entity sets next to server_time, producing
// {"server_time": ..., "appointment": [...], "clinical_record": [...], ...}.
func (r *PullResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Sets)+1)
	out["server_time"] = r.ServerTime.UTC().Format(time.RFC3339Nano)
	for _, entity := range AllEntities {
		rows := r.Sets[entity]
		if rows == nil {
			rows = []interface{}{}
		}
		out[string(entity)] = rows
	}
	return json.Marshal(out)
}

// Actor is re-exported for handler implementations.
type Actor = auth.Actor

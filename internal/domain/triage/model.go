package triage

import (
	"time"

	"github.com/google/uuid"
)

// Log maps to the triage_log table. Triage logs are immutable observations:
// create-only, no version column, filtered by created_at on pull.
// creator_role drives the asymmetric visibility between doctors and health
// workers.
type Log struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	CreatedBy   uuid.UUID  `db:"created_by" json:"created_by"`
	CreatorRole string     `db:"creator_role" json:"creator_role"`
	Severity    string     `db:"severity" json:"severity"`
	Symptoms    string     `db:"symptoms" json:"-"` // ciphertext
	Outcome     string     `db:"outcome" json:"outcome"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

var validSeverities = map[string]bool{
	"low": true, "medium": true, "high": true, "critical": true,
}

// Payload is the entity-shaped data of a sync upsert. patient_id is optional
// so an anonymous walk-in triage can still be logged.
type Payload struct {
	PatientID *string `json:"patient_id,omitempty" validate:"omitempty,uuid"`
	Severity  string  `json:"severity" validate:"required"`
	Symptoms  string  `json:"symptoms" validate:"required"`
	Outcome   string  `json:"outcome" validate:"required"`
}

// Wire is the decrypted projection returned to clients.
type Wire struct {
	ID          string    `json:"id"`
	PatientID   *string   `json:"patient_id,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatorRole string    `json:"creator_role"`
	Severity    string    `json:"severity"`
	Symptoms    string    `json:"symptoms"`
	Outcome     string    `json:"outcome"`
	CreatedAt   time.Time `json:"created_at"`
}

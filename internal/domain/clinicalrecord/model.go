package clinicalrecord

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record maps to the clinical_record table. Diagnosis and notes are stored
// encrypted. creator_role is captured at write time so authorship survives
// role changes.
type Record struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	CreatedBy     uuid.UUID  `db:"created_by" json:"created_by"`
	CreatorRole   string     `db:"creator_role" json:"creator_role"`
	EncounterDate time.Time  `db:"encounter_date" json:"encounter_date"`
	FollowUpDate  *time.Time `db:"follow_up_date" json:"follow_up_date,omitempty"`
	Diagnosis     string     `db:"diagnosis" json:"-"` // ciphertext
	Notes         *string    `db:"notes" json:"-"`     // ciphertext
	Version       int64      `db:"version" json:"version"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Payload is the entity-shaped data of a sync upsert.
type Payload struct {
	PatientID     string  `json:"patient_id" validate:"required,uuid"`
	EncounterDate string  `json:"encounter_date" validate:"required"`
	FollowUpDate  *string `json:"follow_up_date,omitempty"`
	Diagnosis     string  `json:"diagnosis" validate:"required"`
	Notes         *string `json:"notes,omitempty"`
}

const dateLayout = "2006-01-02"

// Dates parses the encounter and optional follow-up dates. An unparseable
// date is a structural failure of the payload, not a concurrency matter.
func (p *Payload) Dates() (encounter time.Time, followUp *time.Time, err error) {
	encounter, err = time.Parse(dateLayout, p.EncounterDate)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("invalid encounter_date %q: %w", p.EncounterDate, err)
	}
	if p.FollowUpDate != nil {
		f, ferr := time.Parse(dateLayout, *p.FollowUpDate)
		if ferr != nil {
			return time.Time{}, nil, fmt.Errorf("invalid follow_up_date %q: %w", *p.FollowUpDate, ferr)
		}
		followUp = &f
	}
	return encounter.UTC(), followUp, nil
}

// Wire is the decrypted projection returned to clients.
type Wire struct {
	ID            string    `json:"id"`
	PatientID     string    `json:"patient_id"`
	CreatedBy     string    `json:"created_by"`
	CreatorRole   string    `json:"creator_role"`
	EncounterDate string    `json:"encounter_date"`
	FollowUpDate  *string   `json:"follow_up_date,omitempty"`
	Diagnosis     string    `json:"diagnosis"`
	Notes         *string   `json:"notes,omitempty"`
	Version       int64     `json:"version"`
	UpdatedAt     time.Time `json:"updated_at"`
}

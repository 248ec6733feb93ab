package prescription

import (
	"time"

	"github.com/google/uuid"
)

// Prescription maps to the prescription table; its medicine line-items live
// in prescription_item and are replaced wholesale on every accepted update.
type Prescription struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Notes     *string   `db:"notes" json:"-"` // ciphertext
	Version   int64     `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
	Items     []Item    `db:"-" json:"items"`
}

// Item is one medicine line of a prescription. Position preserves the
// prescriber's ordering.
type Item struct {
	Medicine     string `db:"medicine" json:"medicine"`
	Dosage       string `db:"dosage" json:"dosage"`
	Frequency    string `db:"frequency" json:"frequency"`
	DurationDays int    `db:"duration_days" json:"duration_days"`
}

// Payload is the entity-shaped data of a sync upsert.
type Payload struct {
	PatientID string        `json:"patient_id" validate:"required,uuid"`
	DoctorID  string        `json:"doctor_id" validate:"required,uuid"`
	Notes     *string       `json:"notes,omitempty"`
	Items     []ItemPayload `json:"items" validate:"required,min=1,dive"`
}

type ItemPayload struct {
	Medicine     string `json:"medicine" validate:"required"`
	Dosage       string `json:"dosage" validate:"required"`
	Frequency    string `json:"frequency" validate:"required"`
	DurationDays int    `json:"duration_days" validate:"gte=0"`
}

// Wire is the decrypted projection returned to clients.
type Wire struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	DoctorID  string    `json:"doctor_id"`
	Notes     *string   `json:"notes,omitempty"`
	Items     []Item    `json:"items"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

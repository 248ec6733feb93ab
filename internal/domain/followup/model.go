package followup

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Visit maps to the follow_up_visit table: a community follow-up assigned to
// one health worker.
type Visit struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	WorkerID  uuid.UUID `db:"worker_id" json:"worker_id"`
	VisitDate time.Time `db:"visit_date" json:"visit_date"`
	Notes     *string   `db:"notes" json:"-"` // ciphertext
	Completed bool      `db:"completed" json:"completed"`
	Version   int64     `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Payload is the entity-shaped data of a sync upsert.
type Payload struct {
	PatientID string  `json:"patient_id" validate:"required,uuid"`
	WorkerID  string  `json:"worker_id" validate:"required,uuid"`
	VisitDate string  `json:"visit_date" validate:"required"`
	Notes     *string `json:"notes,omitempty"`
	Completed bool    `json:"completed"`
}

const dateLayout = "2006-01-02"

func (p *Payload) Date() (time.Time, error) {
	d, err := time.Parse(dateLayout, p.VisitDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid visit_date %q: %w", p.VisitDate, err)
	}
	return d.UTC(), nil
}

// Wire is the decrypted projection returned to clients.
type Wire struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	WorkerID  string    `json:"worker_id"`
	VisitDate string    `json:"visit_date"`
	Notes     *string   `json:"notes,omitempty"`
	Completed bool      `json:"completed"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

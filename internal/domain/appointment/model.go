package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Appointment maps to the appointment table. The reason field is stored
// encrypted; scheduling is stored as a single UTC instant and split back into
// date and time on projection.
type Appointment struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID    uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	WorkerID    *uuid.UUID `db:"worker_id" json:"worker_id,omitempty"`
	ScheduledAt time.Time  `db:"scheduled_at" json:"scheduled_at"`
	Status      string     `db:"status" json:"status"`
	Reason      *string    `db:"reason" json:"-"` // ciphertext
	Version     int64      `db:"version" json:"version"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

var validStatuses = map[string]bool{
	"scheduled": true, "confirmed": true, "completed": true, "cancelled": true,
}

// Payload is the entity-shaped data of a sync upsert.
type Payload struct {
	PatientID string  `json:"patient_id" validate:"required,uuid"`
	DoctorID  string  `json:"doctor_id" validate:"required,uuid"`
	WorkerID  *string `json:"worker_id,omitempty" validate:"omitempty,uuid"`
	Date      string  `json:"date" validate:"required"`
	Time      string  `json:"time" validate:"required"`
	Status    string  `json:"status,omitempty"`
	Reason    *string `json:"reason,omitempty"`
}

// ScheduleInstant combines the payload's date and time fields into one UTC
// scheduling instant.
func (p *Payload) ScheduleInstant() (time.Time, error) {
	at, err := time.Parse("2006-01-02 15:04", p.Date+" "+p.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q %q: %w", p.Date, p.Time, err)
	}
	return at.UTC(), nil
}

// Wire is the decrypted projection returned to clients in pull responses and
// version-mismatch conflicts.
type Wire struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	DoctorID  string    `json:"doctor_id"`
	WorkerID  *string   `json:"worker_id,omitempty"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Status    string    `json:"status"`
	Reason    *string   `json:"reason,omitempty"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

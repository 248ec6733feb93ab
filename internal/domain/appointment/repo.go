package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Visibility is the role-scoped filter for pull listings. Exactly one field
// is set for non-admin actors; All is reserved for admin.
type Visibility struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	WorkerID  *uuid.UUID
	All       bool
}

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Create(ctx context.Context, a *Appointment) error
	// UpdateCAS applies the update only when the stored version still equals
	// expected, returning the new version and whether the swap happened.
	UpdateCAS(ctx context.Context, a *Appointment, expected int64) (int64, bool, error)
	ListChanged(ctx context.Context, vis Visibility, since *time.Time, limit int) ([]*Appointment, error)
}

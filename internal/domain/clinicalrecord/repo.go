package clinicalrecord

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Visibility is the role-scoped filter for pull listings. Patients see
// records about them, clinicians see records they authored, admin sees all.
type Visibility struct {
	PatientID *uuid.UUID
	CreatedBy *uuid.UUID
	All       bool
}

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	Create(ctx context.Context, rec *Record) error
	// UpdateCAS applies the update only when the stored version still equals
	// expected, returning the new version and whether the swap happened.
	UpdateCAS(ctx context.Context, rec *Record, expected int64) (int64, bool, error)
	ListChanged(ctx context.Context, vis Visibility, since *time.Time, limit int) ([]*Record, error)
}

package followup

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Visibility is the role-scoped filter for pull listings.
type Visibility struct {
	PatientID *uuid.UUID
	WorkerID  *uuid.UUID
	All       bool
}

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	Create(ctx context.Context, v *Visit) error
	// UpdateCAS applies the update only when the stored version still equals
	// expected, returning the new version and whether the swap happened.
	UpdateCAS(ctx context.Context, v *Visit, expected int64) (int64, bool, error)
	ListChanged(ctx context.Context, vis Visibility, since *time.Time, limit int) ([]*Visit, error)
}

package prescription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Visibility is the role-scoped filter for pull listings. Pharmacies see all
// prescriptions (they dispense against them), so All covers both pharmacy and
// admin.
type Visibility struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	All       bool
}

type Repository interface {
	// GetByID returns the prescription with its line-items loaded.
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	Create(ctx context.Context, p *Prescription) error
	// UpdateCAS applies the update only when the stored version still equals
	// expected; on success the line-items are deleted and re-inserted in
	// payload order.
	UpdateCAS(ctx context.Context, p *Prescription, expected int64) (int64, bool, error)
	ListChanged(ctx context.Context, vis Visibility, since *time.Time, limit int) ([]*Prescription, error)
}

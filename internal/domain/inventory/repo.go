package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Visibility is the role-scoped filter for pull listings. Only pharmacies and
// admin ever see inventory.
type Visibility struct {
	PharmacyID *uuid.UUID
	All        bool
}

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Item, error)
	// GetBySKU resolves the (pharmacy, sku) unique key, including
	// soft-deleted rows so an upsert can be routed to the surviving id.
	GetBySKU(ctx context.Context, pharmacyID uuid.UUID, sku string) (*Item, error)
	Create(ctx context.Context, it *Item) error
	// UpdateCAS applies the update only when the stored version still equals
	// expected, returning the new version and whether the swap happened.
	UpdateCAS(ctx context.Context, it *Item, expected int64) (int64, bool, error)
	// SoftDeleteCAS marks the row deleted under the same version discipline
	// as updates.
	SoftDeleteCAS(ctx context.Context, id uuid.UUID, expected int64) (int64, bool, error)
	// ListChanged excludes soft-deleted rows.
	ListChanged(ctx context.Context, vis Visibility, since *time.Time, limit int) ([]*Item, error)
}

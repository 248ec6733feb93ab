package triage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Visibility is the role-scoped filter for pull listings. SubjectOrCreator
// matches logs about the actor or authored by them; CreatorRole restricts a
// clinician to logs written by their own role.
type Visibility struct {
	SubjectOrCreator *uuid.UUID
	CreatorRole      *string
	All              bool
}

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Log, error)
	Create(ctx context.Context, l *Log) error
	// ListChanged filters strictly-greater-than on created_at; triage logs
	// are never updated.
	ListChanged(ctx context.Context, vis Visibility, since *time.Time, limit int) ([]*Log, error)
}

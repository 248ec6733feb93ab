package auth

import (
	"context"

	"github.com/google/uuid"
)

// Role is the actor role carried in the JWT and used for sync authorization.
type Role string

const (
	RolePatient      Role = "patient"
	RoleDoctor       Role = "doctor"
	RolePharmacy     Role = "pharmacy"
	RoleHealthWorker Role = "health_worker"
	RoleAdmin        Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RolePharmacy, RoleHealthWorker, RoleAdmin:
		return true
	}
	return false
}

// Actor is the trusted identity resolved by the authentication layer before
// the sync engine runs.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type contextKey string

const actorKey contextKey = "actor"

// WithActor returns a context carrying the authenticated actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the authenticated actor from context. The second
// return value is false when no authentication middleware has run.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

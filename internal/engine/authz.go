package engine

import (
	"fmt"

	"github.com/medisync/medisync/internal/platform/auth"
)

// ActionKind is the resolved mutation kind after the entity handler has
// decided between create and update.
type ActionKind int

const (
	KindCreate ActionKind = iota
	KindUpdate
	KindDelete
)

func (k ActionKind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	}
	return "unknown"
}

// authzRule is one cell of the authorization matrix: which roles may perform
// an action on an entity, and whether non-admins must own (or participate in)
// the target record. The handler computes the ownership relation from the
// record it fetched; the matrix only combines the two.
type authzRule struct {
	roles     map[auth.Role]bool
	ownerOnly bool
}

func roles(rs ...auth.Role) map[auth.Role]bool {
	m := make(map[auth.Role]bool, len(rs))
	for _, r := range rs {
		m[r] = true
	}
	return m
}

// The rules are data, not procedure. A missing cell means the action is not
// supported for that entity through this protocol.
var authzMatrix = map[EntityType]map[ActionKind]authzRule{
	EntityAppointment: {
		KindCreate: {roles: roles(auth.RolePatient, auth.RoleDoctor, auth.RoleHealthWorker, auth.RoleAdmin), ownerOnly: true},
		KindUpdate: {roles: roles(auth.RolePatient, auth.RoleDoctor, auth.RoleHealthWorker, auth.RoleAdmin), ownerOnly: true},
		// no delete: appointments are never deleted through sync
	},
	EntityClinicalRecord: {
		KindCreate: {roles: roles(auth.RoleDoctor, auth.RoleHealthWorker, auth.RoleAdmin)},
		KindUpdate: {roles: roles(auth.RoleDoctor, auth.RoleHealthWorker, auth.RoleAdmin), ownerOnly: true},
	},
	EntityPrescription: {
		KindCreate: {roles: roles(auth.RoleDoctor, auth.RoleAdmin)},
		KindUpdate: {roles: roles(auth.RoleDoctor, auth.RoleAdmin), ownerOnly: true},
	},
	EntityInventoryItem: {
		KindCreate: {roles: roles(auth.RolePharmacy, auth.RoleAdmin), ownerOnly: true},
		KindUpdate: {roles: roles(auth.RolePharmacy, auth.RoleAdmin), ownerOnly: true},
		KindDelete: {roles: roles(auth.RolePharmacy, auth.RoleAdmin), ownerOnly: true},
	},
	EntityTriageLog: {
		// any authenticated actor may log a triage result
		KindCreate: {roles: roles(auth.RolePatient, auth.RoleDoctor, auth.RolePharmacy, auth.RoleHealthWorker, auth.RoleAdmin)},
	},
	EntityFollowUpVisit: {
		KindCreate: {roles: roles(auth.RoleHealthWorker, auth.RoleAdmin), ownerOnly: true},
		KindUpdate: {roles: roles(auth.RoleHealthWorker, auth.RoleAdmin), ownerOnly: true},
	},
}

// Authorize applies the authorization matrix. owns is the actor's relation to
// the target record as computed by the entity handler (creator, participant,
// owning pharmacy, assigned worker). Admin bypasses the ownership requirement
// but never the entity-type role gate. A denial here must short-circuit the
// operation before any storage mutation.
func Authorize(entity EntityType, kind ActionKind, actor auth.Actor, owns bool) error {
	rule, ok := authzMatrix[entity][kind]
	if !ok {
		return fmt.Errorf("%w: %s does not support %s", ErrUnsupported, entity, kind)
	}
	if !rule.roles[actor.Role] {
		return fmt.Errorf("%w: role %s may not %s %s", ErrForbidden, actor.Role, kind, entity)
	}
	if rule.ownerOnly && !actor.IsAdmin() && !owns {
		return fmt.Errorf("%w: %s %s is restricted to the record's owner", ErrForbidden, entity, kind)
	}
	return nil
}

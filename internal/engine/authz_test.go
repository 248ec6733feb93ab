package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/medisync/medisync/internal/platform/auth"
)

func actorWith(role auth.Role) auth.Actor {
	return auth.Actor{ID: uuid.New(), Role: role}
}

func TestAuthorizeRoleGate(t *testing.T) {
	cases := []struct {
		name   string
		entity EntityType
		kind   ActionKind
		role   auth.Role
		owns   bool
		want   error
	}{
		{"patient creates own appointment", EntityAppointment, KindCreate, auth.RolePatient, true, nil},
		{"pharmacy cannot touch appointments", EntityAppointment, KindCreate, auth.RolePharmacy, true, ErrForbidden},
		{"health worker cannot prescribe", EntityPrescription, KindCreate, auth.RoleHealthWorker, true, ErrForbidden},
		{"patient cannot author clinical record", EntityClinicalRecord, KindCreate, auth.RolePatient, true, ErrForbidden},
		{"pharmacy mutates own inventory", EntityInventoryItem, KindUpdate, auth.RolePharmacy, true, nil},
		{"doctor cannot mutate inventory", EntityInventoryItem, KindUpdate, auth.RoleDoctor, true, ErrForbidden},
		{"anyone logs triage", EntityTriageLog, KindCreate, auth.RolePharmacy, false, nil},
		{"doctor cannot create follow-up", EntityFollowUpVisit, KindCreate, auth.RoleDoctor, true, ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Authorize(tc.entity, tc.kind, actorWith(tc.role), tc.owns)
			if tc.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestAuthorizeOwnership(t *testing.T) {
	// a non-owner with the right role is still denied on owner-only cells
	err := Authorize(EntityAppointment, KindUpdate, actorWith(auth.RoleDoctor), false)
	assert.ErrorIs(t, err, ErrForbidden)

	// admin bypasses ownership
	assert.NoError(t, Authorize(EntityAppointment, KindUpdate, actorWith(auth.RoleAdmin), false))
	assert.NoError(t, Authorize(EntityInventoryItem, KindDelete, actorWith(auth.RoleAdmin), false))
}

func TestAuthorizeMissingCellIsUnsupported(t *testing.T) {
	assert.ErrorIs(t, Authorize(EntityAppointment, KindDelete, actorWith(auth.RoleAdmin), true), ErrUnsupported)
	assert.ErrorIs(t, Authorize(EntityTriageLog, KindUpdate, actorWith(auth.RoleAdmin), true), ErrUnsupported)
	assert.ErrorIs(t, Authorize(EntityClinicalRecord, KindDelete, actorWith(auth.RoleAdmin), true), ErrUnsupported)
}

func TestAdminNeverBypassesEntityGate(t *testing.T) {
	// admin is listed on every supported cell today; the gate still applies
	// to unsupported actions, which is the part worth pinning down
	assert.Error(t, Authorize(EntityPrescription, KindDelete, actorWith(auth.RoleAdmin), true))
}

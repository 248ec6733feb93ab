package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateVersionNilBaseProceeds(t *testing.T) {
	assert.NoError(t, GateVersion(nil, 7, "r1", nil))
}

func TestGateVersionMatchProceeds(t *testing.T) {
	base := int64(3)
	assert.NoError(t, GateVersion(&base, 3, "r1", nil))
}

func TestGateVersionStaleBaseConflicts(t *testing.T) {
	base := int64(1)
	serverRow := map[string]interface{}{"id": "x"}
	err := GateVersion(&base, 2, "r1", serverRow)
	vc, ok := AsVersionConflict(err)
	require.True(t, ok)
	assert.Equal(t, "r1", vc.EntityID)
	assert.EqualValues(t, 2, vc.ServerVersion)
	assert.Equal(t, serverRow, vc.ServerData)
}

func TestGateVersionFutureBaseConflicts(t *testing.T) {
	// a client claiming a version the server has never issued is stale too
	base := int64(9)
	err := GateVersion(&base, 2, "r1", nil)
	_, ok := AsVersionConflict(err)
	assert.True(t, ok)
}

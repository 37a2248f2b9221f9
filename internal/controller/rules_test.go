package controller

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxirmx/fuelflux-sub000/internal/types"
)

func TestValidateVolumeRejectsNonPositive(t *testing.T) {
	require.False(t, validateVolume(0, 0, types.RoleCustomer, 100))
	require.False(t, validateVolume(-5, 0, types.RoleCustomer, 100))
}

func TestValidateVolumeRejectsOverCapacityWhenKnown(t *testing.T) {
	require.False(t, validateVolume(60, 50, types.RoleOperator, 1000))
	require.True(t, validateVolume(40, 50, types.RoleOperator, 1000))
}

func TestValidateVolumeIgnoresCapacityWhenUnknown(t *testing.T) {
	require.True(t, validateVolume(1000, 0, types.RoleOperator, 1000))
}

func TestValidateVolumeRejectsOverAllowanceForCustomerOnly(t *testing.T) {
	require.False(t, validateVolume(30, 0, types.RoleCustomer, 20))
	require.True(t, validateVolume(30, 0, types.RoleOperator, 20), "allowance only bounds customers")
}

func TestDeductAllowanceClampsAtZero(t *testing.T) {
	require.Equal(t, types.Volume(5), deductAllowance(20, 15))
	require.Equal(t, types.Volume(0), deductAllowance(10, 15))
	require.Equal(t, types.Volume(0), deductAllowance(0, 5))
}

func TestShouldAutoStopPump(t *testing.T) {
	require.True(t, shouldAutoStopPump(10, 10))
	require.True(t, shouldAutoStopPump(11, 10))
	require.False(t, shouldAutoStopPump(9, 10))
	require.False(t, shouldAutoStopPump(10, 0), "target 0 means no target set yet")
}

package controller

import "github.com/maxirmx/fuelflux-sub000/internal/types"

// validateVolume applies the customer volume-entry rule: reject if v is
// non-positive, exceeds a known tank capacity, or (for customers) exceeds
// the session allowance. capacity <= 0 means "unknown, don't check".
func validateVolume(v types.Volume, capacity types.Volume, role types.Role, allowance types.Volume) bool {
	if v <= 0 {
		return false
	}
	if capacity > 0 && v > capacity {
		return false
	}
	if role == types.RoleCustomer && v > allowance {
		return false
	}
	return true
}

// deductAllowance applies a successful refuel's volume to allowance,
// clamped at zero.
func deductAllowance(allowance, v types.Volume) types.Volume {
	allowance -= v
	if allowance < 0 {
		return 0
	}
	return allowance
}

// shouldAutoStopPump reports whether dispensed current should stop the
// pump given a positive target volume.
func shouldAutoStopPump(current, target types.Volume) bool {
	return target > 0 && current >= target
}

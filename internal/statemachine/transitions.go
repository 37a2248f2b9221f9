package statemachine

import "github.com/maxirmx/fuelflux-sub000/internal/types"

type transitionKey struct {
	state types.State
	event types.Event
}

// rule describes one non-self-loop transition. target is the next
// state; branch, when set, overrides target based on the session role
// (used only by TankSelection's TankSelected). recover marks the
// Error-state recovery transitions, whose actual target (Waiting on
// success, Error on failure) is resolved by Dispatch via
// Actions.ReinitializeDevice. action, when set, is the Mealy
// transition action tied to this specific (state, event) pair rather
// than to the state entered — used by VolumeEntry+VolumeEntered to
// start the pump.
type rule struct {
	target  types.State
	branch  func(types.Role) types.State
	recover bool
	action  func(Actions)
}

func (r rule) next(in DispatchInput) types.State {
	if r.branch != nil {
		return r.branch(in.Role)
	}
	return r.target
}

// activeStates are every state but Waiting, Refueling and Error:
// CancelPressed from any of them ends the session and returns to
// Waiting. Refueling is handled separately below, since dispensed fuel
// must still be reported through RefuelDataTransmission, and Error's
// CancelPressed is its recovery rule.
var activeStates = []types.State{
	types.PinEntry,
	types.Authorization,
	types.NotAuthorized,
	types.TankSelection,
	types.VolumeEntry,
	types.RefuelDataTransmission,
	types.RefuelingComplete,
	types.IntakeDirectionSelection,
	types.IntakeVolumeEntry,
	types.IntakeDataTransmission,
	types.IntakeComplete,
}

// timeoutSourceStates are the states Timeout can fire from per the
// inactivity timer's own gating (kept here too so the table is total
// and self-consistent even if Timeout is posted from elsewhere).
var timeoutSourceStates = []types.State{
	types.PinEntry,
	types.NotAuthorized,
	types.TankSelection,
	types.VolumeEntry,
	types.RefuelingComplete,
	types.IntakeDirectionSelection,
	types.IntakeVolumeEntry,
	types.IntakeComplete,
	types.Error,
}

var transitions = buildTransitions()

func buildTransitions() map[transitionKey]rule {
	t := map[transitionKey]rule{
		{types.Waiting, types.CardPresented}:           {target: types.Authorization},
		{types.RefuelingComplete, types.CardPresented}: {target: types.Authorization},
		{types.Waiting, types.PinEntryStarted}:         {target: types.PinEntry},
		{types.PinEntry, types.PinEntered}:              {target: types.Authorization},

		{types.Authorization, types.AuthorizationSuccess}: {target: types.TankSelection},
		{types.Authorization, types.AuthorizationFailed}:  {target: types.NotAuthorized},

		{types.TankSelection, types.TankSelected}: {branch: func(role types.Role) types.State {
			if role == types.RoleOperator {
				return types.IntakeDirectionSelection
			}
			return types.VolumeEntry
		}},

		{types.VolumeEntry, types.VolumeEntered}: {target: types.Refueling, action: func(a Actions) { a.StartRefueling() }},

		{types.Refueling, types.RefuelingStopped}: {target: types.RefuelDataTransmission},
		{types.Refueling, types.CancelPressed}:    {target: types.RefuelDataTransmission},
		{types.Refueling, types.CancelNoFuel}:     {target: types.RefuelDataTransmission},

		{types.RefuelDataTransmission, types.DataTransmissionComplete}: {target: types.RefuelingComplete},

		{types.IntakeDirectionSelection, types.IntakeDirectionSelected}: {target: types.IntakeVolumeEntry},
		{types.IntakeVolumeEntry, types.IntakeVolumeEntered}:            {target: types.IntakeDataTransmission},
		{types.IntakeDataTransmission, types.DataTransmissionComplete}:  {target: types.IntakeComplete},

		{types.Error, types.CancelPressed}: {target: types.Error, recover: true},
		{types.Error, types.ErrorRecovery}: {target: types.Error, recover: true},
	}

	for _, s := range activeStates {
		t[transitionKey{s, types.CancelPressed}] = rule{target: types.Waiting}
	}
	for _, s := range timeoutSourceStates {
		t[transitionKey{s, types.Timeout}] = rule{target: types.Waiting}
	}

	// ErrorEvent is a global fault signal: any state (including Error
	// itself, idempotently) may transition to Error.
	for _, s := range allStates {
		t[transitionKey{s, types.ErrorEvent}] = rule{target: types.Error}
	}

	return t
}

var allStates = []types.State{
	types.Waiting,
	types.PinEntry,
	types.Authorization,
	types.NotAuthorized,
	types.TankSelection,
	types.VolumeEntry,
	types.Refueling,
	types.RefuelDataTransmission,
	types.RefuelingComplete,
	types.IntakeDirectionSelection,
	types.IntakeVolumeEntry,
	types.IntakeDataTransmission,
	types.IntakeComplete,
	types.Error,
}

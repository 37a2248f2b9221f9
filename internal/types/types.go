// Package types defines the core data model shared by every FuelFlux
// component: roles, states, events, session data and transaction payloads.
package types

import "fmt"

// UID identifies a cardholder or PIN holder as reported by the card
// reader or keypad, and as sent to the backend.
type UID = string

// TankNumber identifies a fuel tank on the forecourt.
type TankNumber = int

// Volume is a quantity of fuel in liters.
type Volume = float64

// Price is a per-liter price.
type Price = float64

// Role is the authorization role returned by the backend.
type Role int

const (
	RoleUnknown Role = iota
	RoleCustomer
	RoleOperator
	RoleController
)

func (r Role) String() string {
	switch r {
	case RoleCustomer:
		return "Customer"
	case RoleOperator:
		return "Operator"
	case RoleController:
		return "Controller"
	default:
		return "Unknown"
	}
}

// RoleFromID converts the backend's numeric RoleId into a Role.
func RoleFromID(id int) Role {
	switch id {
	case 1:
		return RoleCustomer
	case 2:
		return RoleOperator
	case 3:
		return RoleController
	default:
		return RoleUnknown
	}
}

// IntakeDirection distinguishes fuel being added to versus removed from
// a tank during an operator intake operation.
type IntakeDirection int

const (
	IntakeDirectionUnset IntakeDirection = 0
	IntakeIn             IntakeDirection = 1
	IntakeOut            IntakeDirection = 2
)

func (d IntakeDirection) String() string {
	switch d {
	case IntakeIn:
		return "In"
	case IntakeOut:
		return "Out"
	default:
		return "Unset"
	}
}

// State is one of the Mealy machine's system states.
type State int

const (
	Waiting State = iota
	PinEntry
	Authorization
	NotAuthorized
	TankSelection
	VolumeEntry
	Refueling
	RefuelDataTransmission
	RefuelingComplete
	IntakeDirectionSelection
	IntakeVolumeEntry
	IntakeDataTransmission
	IntakeComplete
	Error
)

var stateNames = map[State]string{
	Waiting:                  "Waiting",
	PinEntry:                 "PinEntry",
	Authorization:            "Authorization",
	NotAuthorized:            "NotAuthorized",
	TankSelection:            "TankSelection",
	VolumeEntry:              "VolumeEntry",
	Refueling:                "Refueling",
	RefuelDataTransmission:   "RefuelDataTransmission",
	RefuelingComplete:        "RefuelingComplete",
	IntakeDirectionSelection: "IntakeDirectionSelection",
	IntakeVolumeEntry:        "IntakeVolumeEntry",
	IntakeDataTransmission:   "IntakeDataTransmission",
	IntakeComplete:           "IntakeComplete",
	Error:                    "Error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Event is one of the inputs the state machine reacts to.
type Event int

const (
	CardPresented Event = iota
	PinEntryStarted
	PinEntered
	InputUpdated
	AuthorizationSuccess
	AuthorizationFailed
	TankSelected
	VolumeEntered
	AmountEntered
	RefuelingStarted
	RefuelingStopped
	DataTransmissionComplete
	IntakeSelected
	IntakeDirectionSelected
	IntakeVolumeEntered
	IntakeCompleteEvent
	CancelPressed
	CancelNoFuel
	Timeout
	ErrorEvent
	ErrorRecovery
	DisplayReset
)

var eventNames = map[Event]string{
	CardPresented:            "CardPresented",
	PinEntryStarted:          "PinEntryStarted",
	PinEntered:               "PinEntered",
	InputUpdated:             "InputUpdated",
	AuthorizationSuccess:     "AuthorizationSuccess",
	AuthorizationFailed:      "AuthorizationFailed",
	TankSelected:             "TankSelected",
	VolumeEntered:            "VolumeEntered",
	AmountEntered:            "AmountEntered",
	RefuelingStarted:         "RefuelingStarted",
	RefuelingStopped:         "RefuelingStopped",
	DataTransmissionComplete: "DataTransmissionComplete",
	IntakeSelected:           "IntakeSelected",
	IntakeDirectionSelected:  "IntakeDirectionSelected",
	IntakeVolumeEntered:      "IntakeVolumeEntered",
	IntakeCompleteEvent:      "IntakeComplete",
	CancelPressed:            "CancelPressed",
	CancelNoFuel:             "CancelNoFuel",
	Timeout:                  "Timeout",
	ErrorEvent:               "Error",
	ErrorRecovery:            "ErrorRecovery",
	DisplayReset:             "DisplayReset",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// KeyCode is a logical keypad key.
type KeyCode int

const (
	Key0 KeyCode = iota
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	KeyClear // '#'
	KeyMax   // '*'
	KeyStart // 'A'
	KeyStop  // 'B'
	KeyDisplayReset
)

// Digit reports the numeral a KeyCode represents, if any.
func (k KeyCode) Digit() (byte, bool) {
	if k >= Key0 && k <= Key9 {
		return byte('0' + int(k)), true
	}
	return 0, false
}

// TankInfo is a tank the backend authorized for the current session.
type TankInfo struct {
	ID   TankNumber
	Name string
}

// UserSession is the in-memory state of the currently authorized user.
// At most one exists at a time; it is owned exclusively by the event-loop
// goroutine.
type UserSession struct {
	UID                 UID
	Role                Role
	Allowance           Volume
	Price               Price
	AvailableTanks      []TankInfo
	AuthorizedFromCache bool
}

// HasTank reports whether tankID is in the session's authorized tank
// list. Cache-authorized sessions carry no tank list and accept any
// positive tank number, per spec.
func (s *UserSession) HasTank(tankID TankNumber) bool {
	if s.AuthorizedFromCache {
		return tankID > 0
	}
	for _, t := range s.AvailableTanks {
		if t.ID == tankID {
			return true
		}
	}
	return false
}

// Deduct reduces the session allowance by v, clamped to zero.
func (s *UserSession) Deduct(v Volume) {
	s.Allowance -= v
	if s.Allowance < 0 {
		s.Allowance = 0
	}
}

// RefuelTransaction is a completed (or partially completed, on cancel)
// customer refuel.
type RefuelTransaction struct {
	UID         UID
	TankNumber  TankNumber
	Volume      Volume
	TimestampMS int64
}

// IntakeTransaction is a completed operator fuel intake/removal.
type IntakeTransaction struct {
	UID         UID
	TankNumber  TankNumber
	Volume      Volume
	Direction   IntakeDirection
	TimestampMS int64
}

// DisplayMessage is the four-line content shown on the device display.
type DisplayMessage struct {
	Line1 string
	Line2 string
	Line3 string
	Line4 string
}

// MessageMethod distinguishes the two transaction kinds carried through
// the durable store's backlog/dead queues.
type MessageMethod int

const (
	MethodRefuel MessageMethod = iota
	MethodIntake
)

func (m MessageMethod) String() string {
	if m == MethodIntake {
		return "Intake"
	}
	return "Refuel"
}

// MessageMethodFromString parses the string form written to storage.
func MessageMethodFromString(s string) (MessageMethod, bool) {
	switch s {
	case "Refuel":
		return MethodRefuel, true
	case "Intake":
		return MethodIntake, true
	default:
		return 0, false
	}
}

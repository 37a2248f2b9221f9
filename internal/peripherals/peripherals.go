// Package peripherals defines the hardware-facing capability
// interfaces the controller drives: display, keyboard, card reader,
// pump, and flow meter. Real GPIO/SPI/I2C drivers are out of scope;
// internal/peripherals/console provides the one concrete
// implementation used by tests and the default binary.
package peripherals

import "github.com/maxirmx/fuelflux-sub000/internal/types"

// Display shows four lines of UTF-8 text. Shutdown followed by
// Initialize must restore a working display.
type Display interface {
	Show(msg types.DisplayMessage)
	Clear()
	SetBacklight(on bool)
	Shutdown()
	Initialize() error
}

// Keyboard delivers key press events to a registered callback.
// Reading can be toggled independently of the callback registration.
type Keyboard interface {
	OnKey(fn func(types.KeyCode))
	Enable()
	Disable()
}

// CardReader delivers presented-card UIDs to a registered callback.
// The controller enables reading only in Waiting and RefuelingComplete.
type CardReader interface {
	OnCard(fn func(uid string))
	Enable()
	Disable()
}

// Pump is the fuel dispensing relay. Start/Stop must be idempotent;
// Shutdown must leave the relay off.
type Pump interface {
	Start()
	Stop()
	IsRunning() bool
	OnStateChange(fn func(running bool))
	Shutdown()
}

// FlowMeter measures dispensed volume during a pump run. CurrentVolume
// resets to zero on Reset; TotalVolume accumulates across runs until
// the next Reset.
type FlowMeter interface {
	StartMeasurement()
	StopMeasurement()
	Reset()
	CurrentVolume() types.Volume
	TotalVolume() types.Volume
	OnFlow(fn func(volume types.Volume))
}

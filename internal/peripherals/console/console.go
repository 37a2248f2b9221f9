// Package console provides an in-memory, fully-functional
// implementation of every peripheral capability, suitable for tests
// and for running the controller without physical hardware attached.
// Key/card injection happens through exported methods rather than a
// real keypad or RFID reader; pump/flow-meter state is simulated and
// can be driven programmatically to exercise the state machine.
package console

import (
	"sync"

	"github.com/maxirmx/fuelflux-sub000/internal/logging"
	"github.com/maxirmx/fuelflux-sub000/internal/types"
)

// Display is a 4-line in-memory display buffer. It also logs every
// shown message, standing in for the physical panel during
// development and in tests.
type Display struct {
	mu        sync.Mutex
	lines     [4]string
	backlight bool
	alive     bool
	log       *logging.Logger
}

// NewDisplay creates an initialized console display.
func NewDisplay(log *logging.Logger) *Display {
	d := &Display{log: log}
	d.alive = true
	return d
}

func (d *Display) Show(msg types.DisplayMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = [4]string{msg.Line1, msg.Line2, msg.Line3, msg.Line4}
	if d.log != nil {
		d.log.WithFields(map[string]interface{}{
			"line1": msg.Line1, "line2": msg.Line2, "line3": msg.Line3, "line4": msg.Line4,
		}).Debug("display")
	}
}

func (d *Display) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = [4]string{}
}

func (d *Display) SetBacklight(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backlight = on
}

func (d *Display) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alive = false
	d.lines = [4]string{}
}

func (d *Display) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alive = true
	d.lines = [4]string{}
	return nil
}

// Lines returns a snapshot of the four display lines, for tests.
func (d *Display) Lines() [4]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lines
}

// Keyboard is a synthetic keypad: tests (or a terminal front-end)
// inject key presses via Press; the controller subscribes via OnKey.
type Keyboard struct {
	mu      sync.Mutex
	enabled bool
	handler func(types.KeyCode)
}

func NewKeyboard() *Keyboard { return &Keyboard{} }

func (k *Keyboard) OnKey(fn func(types.KeyCode)) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.handler = fn
}

func (k *Keyboard) Enable() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.enabled = true
}

func (k *Keyboard) Disable() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.enabled = false
}

// Press injects a key event if the keyboard is currently enabled.
func (k *Keyboard) Press(code types.KeyCode) {
	k.mu.Lock()
	enabled, handler := k.enabled, k.handler
	k.mu.Unlock()
	if enabled && handler != nil {
		handler(code)
	}
}

// CardReader is a synthetic RFID reader: tests inject presented cards
// via Present; the controller subscribes via OnCard.
type CardReader struct {
	mu      sync.Mutex
	enabled bool
	handler func(string)
}

func NewCardReader() *CardReader { return &CardReader{} }

func (r *CardReader) OnCard(fn func(string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = fn
}

func (r *CardReader) Enable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = true
}

func (r *CardReader) Disable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = false
}

// Present injects a card UID if reading is currently enabled.
func (r *CardReader) Present(uid string) {
	r.mu.Lock()
	enabled, handler := r.enabled, r.handler
	r.mu.Unlock()
	if enabled && handler != nil {
		handler(uid)
	}
}

// Pump is a simulated dispensing relay. Start/Stop are idempotent;
// state-change callbacks fire only on an actual transition.
type Pump struct {
	mu      sync.Mutex
	running bool
	handler func(bool)
}

func NewPump() *Pump { return &Pump{} }

func (p *Pump) Start() {
	p.mu.Lock()
	wasRunning := p.running
	p.running = true
	handler := p.handler
	p.mu.Unlock()
	if !wasRunning && handler != nil {
		handler(true)
	}
}

func (p *Pump) Stop() {
	p.mu.Lock()
	wasRunning := p.running
	p.running = false
	handler := p.handler
	p.mu.Unlock()
	if wasRunning && handler != nil {
		handler(false)
	}
}

func (p *Pump) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pump) OnStateChange(fn func(bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = fn
}

func (p *Pump) Shutdown() {
	p.Stop()
}

// FlowMeter is a simulated flow sensor. Tests drive dispensed volume
// via AddVolume while the pump is conceptually running.
type FlowMeter struct {
	mu      sync.Mutex
	running bool
	current types.Volume
	total   types.Volume
	handler func(types.Volume)
}

func NewFlowMeter() *FlowMeter { return &FlowMeter{} }

func (f *FlowMeter) StartMeasurement() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
}

func (f *FlowMeter) StopMeasurement() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *FlowMeter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = 0
	f.total = 0
}

func (f *FlowMeter) CurrentVolume() types.Volume {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FlowMeter) TotalVolume() types.Volume {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func (f *FlowMeter) OnFlow(fn func(types.Volume)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

// AddVolume simulates dispensed fuel while measurement is running,
// accumulating into both current and total, and firing OnFlow.
func (f *FlowMeter) AddVolume(delta types.Volume) {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.current += delta
	f.total += delta
	current := f.current
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(current)
	}
}

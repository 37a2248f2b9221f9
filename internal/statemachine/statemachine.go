// Package statemachine implements the Mealy-style transaction state
// machine: a dense (state, event) -> (next state, action) table, the
// inactivity timer that ages out an idle session, and the display
// message generator. All session-mutating work happens on the
// Controller's event-loop goroutine; Dispatch is never called
// concurrently with itself.
package statemachine

import (
	"sync"
	"time"

	"github.com/maxirmx/fuelflux-sub000/internal/logging"
	"github.com/maxirmx/fuelflux-sub000/internal/types"
)

// Actions are the state-entry and transition side effects the
// Controller implements. They run with no state-machine lock held.
type Actions interface {
	EnableCardReading()
	DisableCardReading()
	RequestAuthorization(uid string)
	// StartRefueling is the VolumeEntry+VolumeEntered transition action:
	// it starts the pump so fuel actually begins to flow.
	StartRefueling()
	CompleteRefueling()
	CompleteIntakeOperation()
	// ReinitializeDevice tears down and re-initializes peripherals. It
	// reports whether recovery succeeded.
	ReinitializeDevice() bool
}

// DispatchInput carries everything a single Dispatch call needs: the
// event plus enough session context to branch (role) and to identify
// the authorizing card (uid), and to render the post-transition
// display.
type DispatchInput struct {
	Event   types.Event
	Role    types.Role // used only by TankSelection's TankSelected branch
	UID     string     // used only when entering Authorization
	Display DisplayContext
}

// timeoutExemptStates are the states the inactivity timer never times
// out of: Waiting, Authorization, Refueling, and the two
// *DataTransmission states, which are either already idle (Waiting) or
// mid-operation.
var timeoutExemptStates = map[types.State]bool{
	types.Waiting:                true,
	types.Authorization:          true,
	types.Refueling:              true,
	types.RefuelDataTransmission: true,
	types.IntakeDataTransmission: true,
}

const defaultInactivityTimeout = 30 * time.Second

// StateMachine holds the current logical state and dispatches events
// through the transition table.
type StateMachine struct {
	mu           sync.Mutex
	state        types.State
	lastActivity time.Time

	actions   Actions
	postEvent func(types.Event)
	onDisplay func(types.DisplayMessage)
	log       *logging.Logger

	inactivityTimeout time.Duration
	pollInterval      time.Duration
	stopCh            chan struct{}
	doneCh            chan struct{}
}

// New builds a StateMachine starting in Waiting.
func New(actions Actions, postEvent func(types.Event), onDisplay func(types.DisplayMessage), log *logging.Logger) *StateMachine {
	if log == nil {
		log = logging.NewFromEnv("statemachine")
	}
	return &StateMachine{
		state:             types.Waiting,
		lastActivity:      time.Now(),
		actions:           actions,
		postEvent:         postEvent,
		onDisplay:         onDisplay,
		log:               log,
		inactivityTimeout: defaultInactivityTimeout,
		pollInterval:      time.Second,
	}
}

// SetInactivityTimeout overrides the default 30s idle timeout.
func (sm *StateMachine) SetInactivityTimeout(d time.Duration) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.inactivityTimeout = d
}

// SetPollInterval overrides the inactivity timer's 1s poll cadence;
// exported for tests that cannot wait a full 30s.
func (sm *StateMachine) SetPollInterval(d time.Duration) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.pollInterval = d
}

// State returns the current logical state.
func (sm *StateMachine) State() types.State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// UpdateActivityTime resets the idle clock; called on every key press.
func (sm *StateMachine) UpdateActivityTime() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.lastActivity = time.Now()
}

// StartInactivityTimer launches the once-per-second idle watchdog.
// Stop must be called to release it.
func (sm *StateMachine) StartInactivityTimer() {
	sm.mu.Lock()
	sm.stopCh = make(chan struct{})
	sm.doneCh = make(chan struct{})
	interval := sm.pollInterval
	sm.mu.Unlock()

	go func() {
		defer close(sm.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-sm.stopCh:
				return
			case <-ticker.C:
				sm.checkInactivity()
			}
		}
	}()
}

// Stop halts the inactivity timer and waits for its goroutine to exit.
func (sm *StateMachine) Stop() {
	sm.mu.Lock()
	stopCh := sm.stopCh
	doneCh := sm.doneCh
	sm.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (sm *StateMachine) checkInactivity() {
	sm.mu.Lock()
	state := sm.state
	idle := time.Since(sm.lastActivity)
	timeout := sm.inactivityTimeout
	sm.mu.Unlock()

	if timeoutExemptStates[state] {
		return
	}
	if idle >= timeout {
		sm.postEvent(types.Timeout)
	}
}

// Dispatch processes one event against the current state: it looks up
// the transition rule, applies any role-dependent branch, runs device
// recovery when the rule calls for it (success overrides the target to
// Waiting), updates the logical state, runs the rule's own transition
// action if it carries one (e.g. starting the pump on
// VolumeEntry+VolumeEntered), runs the entry side effects that fire on
// every dispatch (card-reading gate, display refresh), and — only on an
// actual state change — runs the state-specific entry action
// (requestAuthorization, completeRefueling, completeIntakeOperation).
func (sm *StateMachine) Dispatch(in DispatchInput) types.State {
	sm.mu.Lock()
	from := sm.state
	sm.mu.Unlock()

	next := from
	needsRecovery := false
	var transitionAction func(Actions)
	if r, ok := transitions[transitionKey{from, in.Event}]; ok {
		next = r.next(in)
		needsRecovery = r.recover
		transitionAction = r.action
	}

	if needsRecovery && next == types.Error {
		// reinitializeDevice runs with no lock held, per the Actions
		// contract; on success the override target is Waiting.
		if sm.actions != nil && sm.actions.ReinitializeDevice() {
			next = types.Waiting
		}
	}

	sm.mu.Lock()
	sm.state = next
	sm.mu.Unlock()

	if sm.actions != nil {
		if next == types.Waiting || next == types.RefuelingComplete {
			sm.actions.EnableCardReading()
		} else {
			sm.actions.DisableCardReading()
		}
		if transitionAction != nil {
			transitionAction(sm.actions)
		}
	}
	if sm.onDisplay != nil {
		sm.onDisplay(GetDisplayMessage(next, in.Display))
	}

	if next != from {
		sm.runEntryAction(next, in)
	}

	return next
}

func (sm *StateMachine) runEntryAction(entered types.State, in DispatchInput) {
	if sm.actions == nil {
		return
	}
	switch entered {
	case types.Authorization:
		sm.actions.RequestAuthorization(in.UID)
	case types.RefuelDataTransmission:
		sm.actions.CompleteRefueling()
		if sm.postEvent != nil {
			sm.postEvent(types.DataTransmissionComplete)
		}
	case types.IntakeDataTransmission:
		sm.actions.CompleteIntakeOperation()
		if sm.postEvent != nil {
			sm.postEvent(types.DataTransmissionComplete)
		}
	}
}

// Package controller wires every component together: peripherals, the
// backend client, the durable store, the cache manager, and the
// transaction state machine, and owns the single event-loop goroutine
// that is the sole mutator of session state. Every other goroutine
// (peripheral callbacks, timers, watchdogs) only ever calls postEvent.
package controller

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maxirmx/fuelflux-sub000/internal/backend"
	"github.com/maxirmx/fuelflux-sub000/internal/cachemgr"
	"github.com/maxirmx/fuelflux-sub000/internal/logging"
	"github.com/maxirmx/fuelflux-sub000/internal/metrics"
	"github.com/maxirmx/fuelflux-sub000/internal/peripherals"
	"github.com/maxirmx/fuelflux-sub000/internal/statemachine"
	"github.com/maxirmx/fuelflux-sub000/internal/store"
	"github.com/maxirmx/fuelflux-sub000/internal/types"
)

const (
	maxInputLen           = 10
	requestTimeout        = 16 * time.Second
	defaultNoFlowTimeout  = 30 * time.Second
	noFlowPollInterval    = 200 * time.Millisecond
	queueWaitPollInterval = 100 * time.Millisecond
)

// session is the in-memory state of the current transaction. It is
// touched only from the event-loop goroutine.
type session struct {
	types.UserSession
	SelectedTank  types.TankNumber
	TargetVolume  types.Volume
	CurrentVolume types.Volume
	Direction     types.IntakeDirection
	InputBuffer   string
	Deauthorized  bool
}

func (s *session) reset() { *s = session{} }

// ctrlKind distinguishes the payload carried by a queued event: a plain
// state-machine event, or one of the three inputs that need extra data
// the event-loop goroutine must apply to session state itself (the
// card UID, the pressed key, or the latest flow reading).
type ctrlKind int

const (
	kindStateMachine ctrlKind = iota
	kindCard
	kindKey
	kindFlow
)

type ctrlEvent struct {
	kind    ctrlKind
	smEvent types.Event
	uid     string
	key     types.KeyCode
	volume  types.Volume
}

// Controller owns the state machine, the peripherals, the backend
// client, the durable store, and the cache manager, and drives the
// single serialized event queue described by the concurrency model.
type Controller struct {
	sm    *statemachine.StateMachine
	be    backend.Backend
	store *store.Store
	cache *cachemgr.Manager

	display    peripherals.Display
	keyboard   peripherals.Keyboard
	cardReader peripherals.CardReader
	pump       peripherals.Pump
	meter      peripherals.FlowMeter

	deviceSerial  string
	noFlowTimeout time.Duration
	log           *logging.Logger
	metrics       *metrics.Metrics

	sess           session
	pendingAuthUID string

	qmu    sync.Mutex
	queue  []ctrlEvent
	notify chan struct{}

	stopCh chan struct{}
	doneCh chan struct{}

	flowMu         sync.Mutex
	lastFlowUpdate time.Time
	noFlowPosted   bool
	watchdogDoneCh chan struct{}
}

// New builds a Controller. Initialize must be called before Run.
func New(
	be backend.Backend,
	st *store.Store,
	cache *cachemgr.Manager,
	display peripherals.Display,
	keyboard peripherals.Keyboard,
	cardReader peripherals.CardReader,
	pump peripherals.Pump,
	meter peripherals.FlowMeter,
	deviceSerial string,
	noFlowTimeout time.Duration,
	log *logging.Logger,
) *Controller {
	if log == nil {
		log = logging.NewFromEnv("controller")
	}
	if noFlowTimeout <= 0 {
		noFlowTimeout = defaultNoFlowTimeout
	}
	c := &Controller{
		be:            be,
		store:         st,
		cache:         cache,
		display:       display,
		keyboard:      keyboard,
		cardReader:    cardReader,
		pump:          pump,
		meter:         meter,
		deviceSerial:  deviceSerial,
		noFlowTimeout: noFlowTimeout,
		log:           log,
		notify:        make(chan struct{}, 1),
	}
	c.sm = statemachine.New(c, c.postSMEvent, c.onDisplay, log)
	return c
}

// State reports the state machine's current logical state.
func (c *Controller) State() types.State { return c.sm.State() }

// SetMetrics attaches a metrics collector. Safe to call only before Run
// starts, since the event loop reads c.metrics without a lock.
func (c *Controller) SetMetrics(m *metrics.Metrics) { c.metrics = m }

// QueueDepth reports the number of events currently queued, used by the
// diagnostics surface and the metrics sampler.
func (c *Controller) QueueDepth() int {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	return len(c.queue)
}

// Initialize wires peripheral callbacks and brings up the display. A
// peripheral failure is logged and drives the machine into Error, but
// Initialize always returns so the process still enters Run.
func (c *Controller) Initialize() {
	c.wireCallbacks()
	c.keyboard.Enable()

	if err := c.display.Initialize(); err != nil {
		c.log.WithError(err).Error("display initialize failed, entering error state")
		c.postSMEvent(types.ErrorEvent)
		return
	}

	// Waiting's entry effects never ran on construction, since the state
	// machine starts in Waiting without an actual Dispatch call.
	c.cardReader.Enable()
	c.refreshDisplay()
}

func (c *Controller) wireCallbacks() {
	c.cardReader.OnCard(c.onCardPresented)
	c.keyboard.OnKey(c.onKey)
	c.pump.OnStateChange(c.handlePumpStateChanged)
	c.meter.OnFlow(c.handleFlowUpdate)
}

// Run starts the inactivity timer, the no-flow watchdog, and processes
// events until ctx is cancelled or Shutdown is called.
func (c *Controller) Run(ctx context.Context) {
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.watchdogDoneCh = make(chan struct{})

	c.sm.StartInactivityTimer()
	go c.runNoFlowWatchdog()

	defer close(c.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		ev, ok := c.popEvent(queueWaitPollInterval)
		if !ok {
			continue
		}
		c.discardPendingInputUpdatedEvents()
		c.processEvent(ev)
	}
}

// Shutdown stops the event loop, the inactivity timer, and the no-flow
// watchdog, and waits briefly for the event loop to drain.
func (c *Controller) Shutdown() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	select {
	case <-c.doneCh:
	case <-time.After(2 * time.Second):
		c.log.Warn("event loop did not drain within shutdown grace period")
	}
	<-c.watchdogDoneCh
	c.sm.Stop()
}

func (c *Controller) enqueue(ev ctrlEvent) {
	c.qmu.Lock()
	c.queue = append(c.queue, ev)
	c.qmu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// postSMEvent enqueues a plain state-machine event. Safe to call from
// any goroutine; it is also what the state machine itself uses to
// re-post DataTransmissionComplete after an entry action runs.
func (c *Controller) postSMEvent(e types.Event) {
	c.enqueue(ctrlEvent{kind: kindStateMachine, smEvent: e})
}

func (c *Controller) postCard(uid string) { c.enqueue(ctrlEvent{kind: kindCard, uid: uid}) }
func (c *Controller) postKey(k types.KeyCode) { c.enqueue(ctrlEvent{kind: kindKey, key: k}) }
func (c *Controller) postFlow(v types.Volume) { c.enqueue(ctrlEvent{kind: kindFlow, volume: v}) }

// popEvent waits up to timeout for an event, returning ok=false if none
// arrived (the event loop then re-checks its stop conditions).
func (c *Controller) popEvent(timeout time.Duration) (ctrlEvent, bool) {
	c.qmu.Lock()
	if len(c.queue) > 0 {
		ev := c.queue[0]
		c.queue = c.queue[1:]
		c.qmu.Unlock()
		return ev, true
	}
	c.qmu.Unlock()

	select {
	case <-c.notify:
		return c.popEvent(0)
	case <-time.After(timeout):
		return ctrlEvent{}, false
	}
}

// discardPendingInputUpdatedEvents drops queued InputUpdated events and
// every queued flow reading except the most recent one behind the event
// just popped: every dispatched event refreshes the display on entry,
// so a burst of coalesced flow updates need not each be processed
// individually, while the newest reading still reaches processFlow.
func (c *Controller) discardPendingInputUpdatedEvents() {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	lastFlow := -1
	for i, ev := range c.queue {
		if ev.kind == kindFlow {
			lastFlow = i
		}
	}
	kept := c.queue[:0]
	for i, ev := range c.queue {
		if ev.kind == kindFlow && i != lastFlow {
			continue
		}
		if ev.kind == kindStateMachine && ev.smEvent == types.InputUpdated {
			continue
		}
		kept = append(kept, ev)
	}
	c.queue = kept
}

func (c *Controller) processEvent(ev ctrlEvent) {
	switch ev.kind {
	case kindCard:
		c.processCardPresented(ev.uid)
	case kindKey:
		c.processKey(ev.key)
	case kindFlow:
		c.processFlow(ev.volume)
	default:
		c.dispatch(ev.smEvent)
	}
}

func (c *Controller) dispatch(e types.Event) types.State {
	prev := c.sm.State()
	in := statemachine.DispatchInput{
		Event:   e,
		Role:    c.sess.Role,
		UID:     c.pendingAuthUID,
		Display: c.displayContext(),
	}
	next := c.sm.Dispatch(in)
	if c.metrics != nil {
		c.metrics.RecordTransition(prev.String(), e.String(), next.String())
	}
	if next == types.Waiting && prev != types.Waiting {
		c.endCurrentSession()
	}
	return next
}

func (c *Controller) displayContext() statemachine.DisplayContext {
	return statemachine.DisplayContext{
		Role:                c.sess.Role,
		Allowance:           c.sess.Allowance,
		Price:               c.sess.Price,
		SelectedTank:        c.sess.SelectedTank,
		EnteredVolume:       c.sess.TargetVolume,
		CurrentVolume:       c.sess.CurrentVolume,
		IntakeDirection:     c.sess.Direction,
		InputBuffer:         c.sess.InputBuffer,
		DeviceSerial:        c.deviceSerial,
		LastError:           c.be.LastError(),
		AuthorizedFromCache: c.sess.AuthorizedFromCache,
	}
}

func (c *Controller) onDisplay(msg types.DisplayMessage) { c.display.Show(msg) }

func (c *Controller) refreshDisplay() {
	c.onDisplay(statemachine.GetDisplayMessage(c.sm.State(), c.displayContext()))
}

// --- peripheral callbacks (may run on a peripheral-driver goroutine) ---

func (c *Controller) onCardPresented(uid string) { c.postCard(uid) }

func (c *Controller) onKey(code types.KeyCode) {
	c.sm.UpdateActivityTime()
	c.postKey(code)
}

func (c *Controller) handlePumpStateChanged(running bool) {
	c.flowMu.Lock()
	if running {
		c.lastFlowUpdate = time.Now()
		c.noFlowPosted = false
	}
	c.flowMu.Unlock()

	if running {
		c.meter.Reset()
		c.meter.StartMeasurement()
	} else {
		c.meter.StopMeasurement()
		c.postSMEvent(types.RefuelingStopped)
	}
}

func (c *Controller) handleFlowUpdate(vol types.Volume) {
	c.flowMu.Lock()
	c.lastFlowUpdate = time.Now()
	c.flowMu.Unlock()
	c.postFlow(vol)
}

// --- event-loop-only processing (single goroutine, no locks needed on sess) ---

func (c *Controller) processCardPresented(uid string) {
	state := c.sm.State()
	if state != types.Waiting && state != types.RefuelingComplete {
		return // card reading is only enabled in these two states anyway
	}
	if state == types.RefuelingComplete {
		// The finished session was already reported and deauthorized by
		// CompleteRefueling; the new card starts from a clean session.
		c.sess.reset()
	}
	c.pendingAuthUID = uid
	c.dispatch(types.CardPresented)
}

func (c *Controller) processFlow(vol types.Volume) {
	c.sess.CurrentVolume = vol
	if shouldAutoStopPump(vol, c.sess.TargetVolume) {
		c.pump.Stop()
	}
	c.dispatch(types.InputUpdated)
}

func (c *Controller) processKey(code types.KeyCode) {
	state := c.sm.State()

	switch code {
	case types.KeyStop:
		c.dispatch(types.CancelPressed)
		return
	case types.KeyDisplayReset:
		// DisplayReset is handled out-of-band: it refreshes the display
		// without going through the state machine and without changing
		// logical state.
		c.refreshDisplay()
		return
	case types.KeyMax:
		c.sess.InputBuffer = ""
		c.dispatch(types.InputUpdated)
		return
	case types.KeyStart:
		if state == types.Waiting {
			c.dispatch(types.PinEntryStarted)
		}
		return
	case types.KeyClear:
		c.processNumericInput(state)
		return
	}

	digit, isDigit := code.Digit()
	if !isDigit {
		return
	}

	if state == types.IntakeDirectionSelection {
		c.selectIntakeDirection(digit)
		return
	}

	switch state {
	case types.PinEntry, types.TankSelection, types.VolumeEntry, types.IntakeVolumeEntry:
		if len(c.sess.InputBuffer) < maxInputLen {
			c.sess.InputBuffer += string(digit)
		}
		c.dispatch(types.InputUpdated)
	}
}

func (c *Controller) selectIntakeDirection(digit byte) {
	switch digit {
	case '1':
		c.sess.Direction = types.IntakeIn
	case '2':
		c.sess.Direction = types.IntakeOut
	default:
		return
	}
	c.dispatch(types.IntakeDirectionSelected)
}

// processNumericInput parses and validates the input buffer for the
// confirming state, then either posts the state's completion event or
// clears the buffer and leaves the state unchanged.
func (c *Controller) processNumericInput(state types.State) {
	buf := strings.TrimSpace(c.sess.InputBuffer)

	switch state {
	case types.PinEntry:
		c.pendingAuthUID = buf
		c.sess.InputBuffer = ""
		c.dispatch(types.PinEntered)

	case types.TankSelection:
		tank, err := strconv.Atoi(buf)
		if err != nil || !c.sess.HasTank(tank) {
			c.sess.InputBuffer = ""
			c.dispatch(types.InputUpdated)
			return
		}
		c.sess.SelectedTank = tank
		c.sess.InputBuffer = ""
		c.dispatch(types.TankSelected)

	case types.VolumeEntry:
		c.confirmVolume(buf, types.VolumeEntered)

	case types.IntakeVolumeEntry:
		c.confirmVolume(buf, types.IntakeVolumeEntered)
	}
}

func (c *Controller) confirmVolume(buf string, onValid types.Event) {
	v, err := strconv.ParseFloat(buf, 64)
	// Tank capacity is never tracked by this deployment (only id/name are
	// known), so the capacity bound of validateVolume is always skipped.
	if err != nil || !validateVolume(v, 0, c.sess.Role, c.sess.Allowance) {
		c.sess.InputBuffer = ""
		c.dispatch(types.InputUpdated)
		return
	}
	c.sess.TargetVolume = v
	c.sess.InputBuffer = ""
	c.dispatch(onValid)
}

// --- statemachine.Actions implementation ---

// EnableCardReading implements statemachine.Actions.
func (c *Controller) EnableCardReading() { c.cardReader.Enable() }

// DisableCardReading implements statemachine.Actions.
func (c *Controller) DisableCardReading() { c.cardReader.Disable() }

// RequestAuthorization implements statemachine.Actions. It runs
// synchronously on the event-loop goroutine, as the concurrency model
// permits for short HTTP calls initiated from within an entry action.
func (c *Controller) RequestAuthorization(uid string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	sess, err := c.be.Authorize(ctx, uid)
	if err == nil {
		c.sess.UserSession = sess
		if c.cache != nil {
			c.cache.UpdateCacheEntry(ctx, uid, sess.Allowance, roleID(sess.Role))
		}
		c.postSMEvent(types.AuthorizationSuccess)
		return
	}
	c.recordBackendError(err)

	if backend.IsNetworkError(err) && c.cache != nil {
		if entry, ok := c.cache.Lookup(ctx, uid); ok {
			c.sess.UserSession = types.UserSession{
				UID:                 uid,
				Role:                types.RoleFromID(entry.RoleID),
				Allowance:           entry.Allowance,
				AuthorizedFromCache: true,
			}
			c.postSMEvent(types.AuthorizationSuccess)
			return
		}
	}

	c.log.WithContext(ctx).WithError(err).Warn("authorization failed")
	c.postSMEvent(types.AuthorizationFailed)
}

// StartRefueling implements statemachine.Actions: it is the
// VolumeEntry+VolumeEntered transition action and starts the pump.
// handlePumpStateChanged, already wired via pump.OnStateChange, resets
// and starts the meter synchronously once the pump actually reports
// running.
func (c *Controller) StartRefueling() {
	c.pump.Start()
}

// CompleteRefueling implements statemachine.Actions: it runs on entering
// RefuelDataTransmission, stops the pump/meter if they are still
// running (the Cancel paths route here without an intervening
// RefuelingStopped), reports the transaction, and — unless the session
// was authorized from the offline cache — deauthorizes, so a second
// customer can authorize immediately after this one's refuel completes.
func (c *Controller) CompleteRefueling() {
	c.pump.Stop()
	c.meter.StopMeasurement()
	c.logRefuelTransaction(c.sess.SelectedTank, c.sess.CurrentVolume)
	c.maybeDeauthorize()
}

// CompleteIntakeOperation implements statemachine.Actions: it runs on
// entering IntakeDataTransmission.
func (c *Controller) CompleteIntakeOperation() {
	c.logIntakeTransaction(c.sess.SelectedTank, c.sess.TargetVolume, c.sess.Direction)
}

// ReinitializeDevice implements statemachine.Actions: it tears down and
// re-initializes peripherals, rewires callbacks, and silently resets
// session data, reporting whether recovery succeeded.
func (c *Controller) ReinitializeDevice() bool {
	c.pump.Shutdown()
	c.display.Shutdown()
	err := c.display.Initialize()
	c.wireCallbacks()
	c.sess.reset()
	c.pendingAuthUID = ""
	if err != nil {
		c.log.WithError(err).Warn("reinitializeDevice: display reinitialize failed")
		return false
	}
	return true
}

// --- transaction reporting & session teardown ---

func (c *Controller) logRefuelTransaction(tank types.TankNumber, volume types.Volume) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if c.sess.AuthorizedFromCache {
		c.persistCacheAuthorizedTransaction(ctx, types.MethodRefuel, map[string]interface{}{
			"TankNumber": tank,
			"FuelVolume": volume,
			"TimeAt":     time.Now().UnixMilli(),
		})
		if c.sess.Role == types.RoleCustomer && c.cache != nil {
			c.cache.DeductAllowance(ctx, c.sess.UID, volume)
		}
		c.sess.Allowance = deductAllowance(c.sess.Allowance, volume)
		return
	}

	if err := c.be.Refuel(ctx, tank, volume); err == nil {
		c.sess.Allowance = deductAllowance(c.sess.Allowance, volume)
	} else {
		c.recordBackendError(err)
		c.log.WithContext(ctx).WithError(err).Warn("refuel report failed")
	}
}

func (c *Controller) logIntakeTransaction(tank types.TankNumber, volume types.Volume, dir types.IntakeDirection) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if c.sess.AuthorizedFromCache {
		c.persistCacheAuthorizedTransaction(ctx, types.MethodIntake, map[string]interface{}{
			"TankNumber":   tank,
			"IntakeVolume": volume,
			"Direction":    int(dir),
			"TimeAt":       time.Now().UnixMilli(),
		})
		return
	}

	if err := c.be.Intake(ctx, tank, volume, dir); err != nil {
		c.recordBackendError(err)
		c.log.WithContext(ctx).WithError(err).Warn("intake report failed")
	}
}

// recordBackendError classifies err and increments the matching metrics
// counter, a no-op if no metrics collector is attached.
func (c *Controller) recordBackendError(err error) {
	if c.metrics == nil || err == nil {
		return
	}
	switch {
	case backend.IsNetworkError(err):
		c.metrics.RecordBackendError("network")
	case backend.IsApplicationError(err):
		c.metrics.RecordBackendError("application")
	default:
		c.metrics.RecordBackendError("forbidden")
	}
}

func (c *Controller) persistCacheAuthorizedTransaction(ctx context.Context, method types.MessageMethod, body map[string]interface{}) {
	if c.store == nil {
		return
	}
	payload, err := json.Marshal(body)
	if err != nil {
		c.log.WithContext(ctx).WithError(err).Warn("encode cache-authorized transaction failed")
		return
	}
	c.store.AddBacklog(ctx, c.sess.UID, method, string(payload))
}

// endCurrentSession resets session data, stops the pump and meter, and
// deauthorizes if CompleteRefueling hasn't already done so (e.g. a
// session cancelled before ever reaching RefuelDataTransmission).
func (c *Controller) endCurrentSession() {
	c.pump.Stop()
	c.meter.StopMeasurement()
	c.maybeDeauthorize()
	c.sess.reset()
	c.pendingAuthUID = ""
}

// maybeDeauthorize issues an async deauthorize for the current session,
// unless it was authorized from the offline cache (the backend was
// never told it was authorized) or it has already been deauthorized.
func (c *Controller) maybeDeauthorize() {
	if c.sess.Deauthorized {
		return
	}
	if !c.sess.AuthorizedFromCache && c.sess.UID != "" {
		c.be.Deauthorize()
	}
	c.sess.Deauthorized = true
}

// --- no-flow watchdog ---

func (c *Controller) runNoFlowWatchdog() {
	defer close(c.watchdogDoneCh)
	ticker := time.NewTicker(noFlowPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.checkNoFlow()
		}
	}
}

func (c *Controller) checkNoFlow() {
	if c.sm.State() != types.Refueling {
		return
	}
	c.flowMu.Lock()
	idle := time.Since(c.lastFlowUpdate)
	shouldPost := !c.noFlowPosted && idle >= c.noFlowTimeout
	if shouldPost {
		c.noFlowPosted = true
	}
	c.flowMu.Unlock()
	if shouldPost {
		c.postSMEvent(types.CancelNoFuel)
	}
}

func roleID(r types.Role) int {
	switch r {
	case types.RoleCustomer:
		return 1
	case types.RoleOperator:
		return 2
	case types.RoleController:
		return 3
	default:
		return 0
	}
}

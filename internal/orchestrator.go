package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Phase is the orchestrator's top-level state.
type Phase string

const (
	PhaseBootstrapping Phase = "bootstrapping"
	PhaseAwaitingStart Phase = "awaiting_start"
	PhaseAcquiring     Phase = "acquiring"
	PhaseActive        Phase = "active"
	PhaseEnding        Phase = "ending"
	PhaseError         Phase = "error"
)

// ErrWrongPhase is returned for an operation the current phase does not allow.
var ErrWrongPhase = errors.New("operation not allowed in current phase")

// Acquirer obtains session credentials.
type Acquirer interface {
	Acquire(ctx context.Context, workflowID string, resumeStep *int) (*SessionCredential, error)
}

// OrchestratorDeps are the collaborators of a cook session.
type OrchestratorDeps struct {
	Recipes     RecipeSource
	Tokens      Acquirer
	Checkpoints CheckpointStore
	NewRoom     RoomFactory
	Devices     MediaDevices
	Capture     CaptureConfig
	Lifecycle   LifecycleSource

	Clock        func() time.Time
	TickInterval time.Duration
	EndingDelay  time.Duration

	// OnChange is called after every state change, outside the lock.
	OnChange func(Snapshot)
}

// Snapshot is a consistent view of the session for rendering.
type Snapshot struct {
	Phase          Phase
	RecipeID       string
	Title          string
	StepIndex      int
	TotalSteps     int
	Step           *RecipeStep
	ElapsedSeconds int
	Offer          *Checkpoint
	Attempt        int
	MaxAttempts    int
	Connection     ConnectionState
	Activity       AssistantActivity
	Presentation   Presentation
	Capture        CaptureState
	Flipping       bool
	ConfirmingEnd  bool
	Error          string
	RateLimited    bool
	TimerRunning   bool
}

// Orchestrator runs one cook session for one recipe.
type Orchestrator struct {
	recipeID    string
	deps        OrchestratorDeps
	capture     *CaptureController
	broadcaster *Broadcaster
	now         func() time.Time

	mu            sync.Mutex
	phase         Phase
	recipe        *Recipe
	nav           *StepNavigator
	elapsed       int
	offer         *Checkpoint
	attempt       int
	maxAttempts   int
	conn          ConnectionState
	activity      AssistantActivity
	errMsg        string
	rateLimited   bool
	confirmingEnd bool
	room          Room
	tickStop      chan struct{}
	gen           int
	closed        bool
	events        []SessionEvent

	done       chan struct{}
	closeOnce  sync.Once
	unregister func()
}

// NewOrchestrator creates an orchestrator in the bootstrapping phase.
func NewOrchestrator(recipeID string, deps OrchestratorDeps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.TickInterval <= 0 {
		deps.TickInterval = time.Second
	}
	if deps.EndingDelay < 0 {
		deps.EndingDelay = 0
	}

	broadcaster := NewBroadcaster(ControlTopic)
	capture := NewCaptureController(deps.Devices, broadcaster, deps.Capture)
	capture.SetClock(deps.Clock)

	o := &Orchestrator{
		recipeID:    recipeID,
		deps:        deps,
		capture:     capture,
		broadcaster: broadcaster,
		now:         deps.Clock,
		phase:       PhaseBootstrapping,
		conn:        ConnectionDisconnected,
		activity:    ActivityIdle,
		done:        make(chan struct{}),
	}
	if deps.Lifecycle != nil {
		o.unregister = deps.Lifecycle.Register(o)
	}
	return o
}

// RecipeID returns the workflow this session runs.
func (o *Orchestrator) RecipeID() string { return o.recipeID }

// Done is closed once the session has been torn down.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Bootstrap loads the recipe and any resumable checkpoint. Calling it again
// after a failure retries the whole load.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrWrongPhase
	}
	if o.phase != PhaseBootstrapping && o.phase != PhaseError {
		o.mu.Unlock()
		return ErrWrongPhase
	}
	o.phase = PhaseBootstrapping
	o.errMsg = ""
	o.mu.Unlock()
	o.notify()

	recipe, err := o.deps.Recipes.Recipe(ctx, o.recipeID)
	if err == nil && len(recipe.Steps) == 0 {
		err = &RecipeError{RecipeID: o.recipeID, Err: fmt.Errorf("recipe has no steps")}
	}
	if err != nil {
		LogError("Failed to load recipe %s: %v", o.recipeID, err)
		o.mu.Lock()
		o.phase = PhaseError
		o.errMsg = err.Error()
		o.mu.Unlock()
		o.notify()
		return err
	}

	offer, ok := o.deps.Checkpoints.Load(o.recipeID)
	if ok {
		offer.CurrentStep = clampStep(offer.CurrentStep, len(recipe.Steps))
		LogInfo("Found checkpoint for %s at step %d", o.recipeID, offer.ResumeStep())
	} else {
		offer = nil
	}

	o.mu.Lock()
	o.recipe = recipe
	o.offer = offer
	o.phase = PhaseAwaitingStart
	o.mu.Unlock()
	o.notify()
	return nil
}

// Start begins a session from the first step. Any offered checkpoint is discarded.
func (o *Orchestrator) Start(ctx context.Context) error {
	return o.StartFresh(ctx)
}

// StartFresh clears any checkpoint and starts from the first step.
func (o *Orchestrator) StartFresh(ctx context.Context) error {
	o.mu.Lock()
	if o.phase != PhaseAwaitingStart {
		o.mu.Unlock()
		return ErrWrongPhase
	}
	hadOffer := o.offer != nil
	o.offer = nil
	o.mu.Unlock()

	if hadOffer {
		o.deps.Checkpoints.Clear(o.recipeID)
	}
	return o.begin(ctx, nil)
}

// Resume continues from the offered checkpoint.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	if o.phase != PhaseAwaitingStart || o.offer == nil {
		o.mu.Unlock()
		return ErrWrongPhase
	}
	cp := *o.offer
	o.mu.Unlock()
	return o.begin(ctx, &cp)
}

func (o *Orchestrator) begin(ctx context.Context, cp *Checkpoint) error {
	o.mu.Lock()
	if o.phase != PhaseAwaitingStart || o.closed {
		o.mu.Unlock()
		return ErrWrongPhase
	}
	o.phase = PhaseAcquiring
	o.attempt = 0
	o.errMsg = ""
	o.rateLimited = false
	o.gen++
	gen := o.gen
	o.mu.Unlock()
	o.notify()

	var resumeStep *int
	if cp != nil {
		step := cp.ResumeStep()
		resumeStep = &step
	}

	cred, err := o.deps.Tokens.Acquire(ctx, o.recipeID, resumeStep)

	o.mu.Lock()
	if o.closed || gen != o.gen {
		o.mu.Unlock()
		LogDebug("Ignoring token result for %s: session torn down", o.recipeID)
		return nil
	}
	if err != nil {
		o.phase = PhaseAwaitingStart
		o.attempt = 0
		o.rateLimited = IsRateLimited(err)
		var acqErr *AcquisitionError
		if errors.As(err, &acqErr) {
			o.errMsg = acqErr.UserMessage()
		} else {
			o.errMsg = err.Error()
		}
		o.recordLocked("acquire_failed", 0, err.Error())
		o.mu.Unlock()
		o.notify()
		return err
	}

	total := len(o.recipe.Steps)
	if cp != nil {
		o.nav = NewStepNavigator(total, cp.CurrentStep)
		o.elapsed = cp.ElapsedSeconds
		o.recordLocked("resumed", o.nav.Number(), "")
	} else {
		o.nav = NewStepNavigator(total, 0)
		o.elapsed = 0
		o.recordLocked("started", 1, "")
	}
	o.offer = nil
	o.attempt = 0
	o.errMsg = ""
	o.phase = PhaseActive
	o.conn = ConnectionConnecting
	o.activity = ActivityIdle
	room := o.deps.NewRoom()
	o.room = room
	o.broadcaster.Attach(room)
	o.mu.Unlock()
	o.notify()

	go o.pump(room, gen)

	if err := room.Connect(ctx, cred.ServiceURL, cred.AccessToken); err != nil {
		connErr := &ConnectionError{State: ConnectionFailed, Err: err}
		LogError("Failed to join room %s: %v", cred.RoomName, err)
		o.applyConnection(gen, ConnectionFailed, connErr)
		return connErr
	}
	LogInfo("Joined room %s", cred.RoomName)
	o.applyConnection(gen, room.ConnectionState(), nil)
	return nil
}

// TrackAttempt records the live token attempt count. Wire it to TokenAcquirer.OnAttempt.
func (o *Orchestrator) TrackAttempt(attempt, max int) {
	o.mu.Lock()
	if o.phase != PhaseAcquiring {
		o.mu.Unlock()
		return
	}
	o.attempt = attempt
	o.maxAttempts = max
	o.mu.Unlock()
	o.notify()
}

// TrackRetry shows a transient acquisition failure while the next attempt waits.
func (o *Orchestrator) TrackRetry(err *AcquisitionError, wait time.Duration) {
	o.mu.Lock()
	if o.phase != PhaseAcquiring {
		o.mu.Unlock()
		return
	}
	o.errMsg = err.UserMessage()
	o.recordLocked("acquire_retry", 0, err.Error())
	o.mu.Unlock()
	LogDebug("Token retry for %s in %s", o.recipeID, wait)
	o.notify()
}

func (o *Orchestrator) pump(room Room, gen int) {
	for ev := range room.Events() {
		switch ev := ev.(type) {
		case ConnectionChanged:
			o.applyConnection(gen, ev.State, ev.Err)
		case ActivityChanged:
			o.applyActivity(gen, ev.Activity)
		case DataReceived:
			o.applyData(gen, ev)
		}
	}
}

func (o *Orchestrator) applyConnection(gen int, state ConnectionState, cause error) {
	o.mu.Lock()
	if gen != o.gen || o.phase != PhaseActive {
		o.mu.Unlock()
		return
	}
	if state == o.conn && cause == nil {
		o.mu.Unlock()
		return
	}
	o.conn = state
	o.stopTimerLocked()
	switch state {
	case ConnectionConnected:
		o.errMsg = ""
		o.startTimerLocked()
		if o.room != nil {
			o.capture.Attach(o.room.LocalParticipant())
		}
		o.recordLocked("connected", o.nav.Number(), "")
	case ConnectionFailed, ConnectionDisconnected:
		o.activity = ActivityIdle
		if cause != nil {
			o.errMsg = cause.Error()
		}
		o.recordLocked(string(state), o.nav.Number(), o.errMsg)
	}
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) applyActivity(gen int, activity AssistantActivity) {
	o.mu.Lock()
	if gen != o.gen || o.phase != PhaseActive || o.activity == activity {
		o.mu.Unlock()
		return
	}
	o.activity = activity
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) applyData(gen int, ev DataReceived) {
	if ev.Topic != ControlTopic {
		return
	}
	msg, err := DecodeInboundControl(ev.Payload)
	if err != nil {
		LogDebug("Ignoring control message from %s: %v", ev.From, err)
		return
	}
	o.mu.Lock()
	stale := gen != o.gen
	o.mu.Unlock()
	if stale {
		return
	}
	if msg.Type == ControlGoToStep {
		o.GoToStep(msg.Step - 1)
	}
}

func (o *Orchestrator) startTimerLocked() {
	stop := make(chan struct{})
	o.tickStop = stop
	ticker := time.NewTicker(o.deps.TickInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.tick(stop)
			case <-stop:
				return
			}
		}
	}()
}

func (o *Orchestrator) stopTimerLocked() {
	if o.tickStop != nil {
		close(o.tickStop)
		o.tickStop = nil
	}
}

// tick adds one elapsed second while the room is connected. A tick from a
// stopped timer is dropped.
func (o *Orchestrator) tick(stop chan struct{}) {
	o.mu.Lock()
	if o.tickStop != stop || o.phase != PhaseActive || o.conn != ConnectionConnected {
		o.mu.Unlock()
		return
	}
	o.elapsed++
	o.mu.Unlock()
	o.notify()
}

// Next advances one step.
func (o *Orchestrator) Next() bool {
	return o.navigate(func(n *StepNavigator) bool { return n.Advance() })
}

// Previous goes back one step.
func (o *Orchestrator) Previous() bool {
	return o.navigate(func(n *StepNavigator) bool { return n.Retreat() })
}

// GoToStep jumps to the 0-based index, clamped.
func (o *Orchestrator) GoToStep(index int) bool {
	return o.navigate(func(n *StepNavigator) bool { return n.GoTo(index) })
}

func (o *Orchestrator) navigate(move func(*StepNavigator) bool) bool {
	o.mu.Lock()
	if o.phase != PhaseActive || o.nav == nil {
		o.mu.Unlock()
		return false
	}
	changed := move(o.nav)
	if changed {
		o.recordLocked("step", o.nav.Number(), "")
	}
	o.mu.Unlock()
	if changed {
		o.notify()
	}
	return changed
}

// ToggleMicrophone mutes or unmutes the microphone.
func (o *Orchestrator) ToggleMicrophone(ctx context.Context) error {
	if !o.isActive() {
		return ErrWrongPhase
	}
	err := o.capture.SetMicrophone(ctx, !o.capture.State().MicrophoneMuted)
	o.notify()
	return err
}

// ToggleCamera turns the camera on or off using the stored facing preference.
func (o *Orchestrator) ToggleCamera(ctx context.Context) error {
	if !o.isActive() {
		return ErrWrongPhase
	}
	err := o.capture.SetCamera(ctx, !o.capture.State().CameraEnabled, "")
	o.notify()
	return err
}

// FlipCamera switches between the front and back camera.
func (o *Orchestrator) FlipCamera(ctx context.Context) error {
	if !o.isActive() {
		return ErrWrongPhase
	}
	done := make(chan error, 1)
	go func() { done <- o.capture.FlipFacing(ctx) }()
	o.notify()
	err := <-done
	o.notify()
	return err
}

// Pause saves a checkpoint, leaves the room and offers to resume.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	if o.phase != PhaseActive {
		o.mu.Unlock()
		return ErrWrongPhase
	}
	cp := o.checkpointLocked()
	o.deps.Checkpoints.Save(cp)
	o.recordLocked("paused", cp.ResumeStep(), "")
	room := o.leaveActiveLocked()
	o.phase = PhaseAwaitingStart
	o.offer = &cp
	o.mu.Unlock()

	o.release(room)
	o.notify()
	return nil
}

// RequestEnd asks for confirmation before ending.
func (o *Orchestrator) RequestEnd() error {
	o.mu.Lock()
	if o.phase != PhaseActive {
		o.mu.Unlock()
		return ErrWrongPhase
	}
	o.confirmingEnd = true
	o.mu.Unlock()
	o.notify()
	return nil
}

// CancelEnd dismisses the end confirmation.
func (o *Orchestrator) CancelEnd() {
	o.mu.Lock()
	changed := o.confirmingEnd
	o.confirmingEnd = false
	o.mu.Unlock()
	if changed {
		o.notify()
	}
}

// ConfirmEnd deletes the checkpoint, leaves the room and tears the session
// down after the ending delay.
func (o *Orchestrator) ConfirmEnd(ctx context.Context) error {
	o.mu.Lock()
	if o.phase != PhaseActive || !o.confirmingEnd {
		o.mu.Unlock()
		return ErrWrongPhase
	}
	o.confirmingEnd = false
	o.deps.Checkpoints.Clear(o.recipeID)
	o.recordLocked("ended", o.nav.Number(), "")
	room := o.leaveActiveLocked()
	o.phase = PhaseEnding
	o.mu.Unlock()

	o.release(room)
	o.notify()

	if o.deps.EndingDelay > 0 {
		select {
		case <-time.After(o.deps.EndingDelay):
		case <-ctx.Done():
		}
	}
	o.Close()
	return nil
}

// OnLifecycle saves a checkpoint when the host is hidden or unloading.
func (o *Orchestrator) OnLifecycle(event LifecycleEvent) {
	if event != PageHidden && event != PageUnload {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != PhaseActive || o.closed {
		return
	}
	cp := o.checkpointLocked()
	o.deps.Checkpoints.Save(cp)
	LogDebug("Checkpoint saved on %s", event)
}

// Close tears the session down. A token request still running is not
// aborted, but its result is ignored.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		room := o.leaveActiveLocked()
		o.mu.Unlock()

		o.release(room)
		if o.unregister != nil {
			o.unregister()
		}
		close(o.done)
	})
}

// leaveActiveLocked stops the timer and detaches the room. The caller
// releases the returned room after unlocking.
func (o *Orchestrator) leaveActiveLocked() Room {
	o.stopTimerLocked()
	o.gen++
	room := o.room
	o.room = nil
	o.conn = ConnectionDisconnected
	o.activity = ActivityIdle
	o.confirmingEnd = false
	o.broadcaster.Attach(nil)
	return room
}

// release stops local capture and leaves room.
func (o *Orchestrator) release(room Room) {
	o.capture.Release()
	if room == nil {
		return
	}
	if err := room.Disconnect(); err != nil {
		LogWarn("Room disconnect failed: %v", err)
	}
}

func (o *Orchestrator) checkpointLocked() Checkpoint {
	return Checkpoint{
		WorkflowID:     o.recipeID,
		CurrentStep:    o.nav.Index(),
		ElapsedSeconds: o.elapsed,
		PausedAt:       o.now().UnixMilli(),
	}
}

func (o *Orchestrator) recordLocked(kind string, step int, detail string) {
	o.events = append(o.events, SessionEvent{At: o.now().UTC(), Kind: kind, Step: step, Detail: detail})
}

func (o *Orchestrator) isActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase == PhaseActive
}

func (o *Orchestrator) timerRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tickStop != nil
}

// Snapshot returns the current view.
func (o *Orchestrator) Snapshot() Snapshot {
	capture := o.capture.State()
	flipping := o.capture.Flipping()

	o.mu.Lock()
	defer o.mu.Unlock()

	s := Snapshot{
		Phase:          o.phase,
		RecipeID:       o.recipeID,
		ElapsedSeconds: o.elapsed,
		Attempt:        o.attempt,
		MaxAttempts:    o.maxAttempts,
		Connection:     o.conn,
		Activity:       o.activity,
		Presentation:   DerivePresentation(o.conn, SignalsFor(o.activity)),
		Capture:        capture,
		Flipping:       flipping,
		ConfirmingEnd:  o.confirmingEnd,
		Error:          o.errMsg,
		RateLimited:    o.rateLimited,
		TimerRunning:   o.tickStop != nil,
	}
	if o.recipe != nil {
		s.Title = o.recipe.Title
		s.TotalSteps = len(o.recipe.Steps)
	}
	if o.offer != nil {
		cp := *o.offer
		s.Offer = &cp
	}
	if o.nav != nil && o.recipe != nil {
		s.StepIndex = o.nav.Index()
		step := o.recipe.Steps[o.nav.Index()]
		s.Step = &step
	}
	return s
}

// Report summarises the session so far.
func (o *Orchestrator) Report() *SessionReport {
	o.mu.Lock()
	defer o.mu.Unlock()

	r := &SessionReport{
		RecipeID:       o.recipeID,
		Status:         ReportInProgress,
		ElapsedSeconds: o.elapsed,
		Events:         append([]SessionEvent(nil), o.events...),
	}
	if o.recipe != nil {
		r.Title = o.recipe.Title
		r.TotalSteps = len(o.recipe.Steps)
	}
	if o.nav != nil {
		r.CurrentStep = o.nav.Number()
	}
	switch {
	case o.phase == PhaseEnding:
		r.Status = ReportCompleted
	case o.offer != nil:
		r.Status = ReportPaused
		paused := o.offer.PausedTime().UTC()
		r.PausedAt = &paused
		r.CurrentStep = o.offer.ResumeStep()
	}
	return r
}

func (o *Orchestrator) notify() {
	if o.deps.OnChange != nil {
		o.deps.OnChange(o.Snapshot())
	}
}

func clampStep(index, total int) int {
	if index >= total {
		index = total - 1
	}
	if index < 0 {
		index = 0
	}
	return index
}

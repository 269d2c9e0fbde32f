package internal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type orchFixture struct {
	log     *callLog
	recipes *fakeRecipes
	tokens  *fakeAcquirer
	kv      *MemoryKV
	store   *Checkpoints
	clock   *manualClock
	hub     *LifecycleHub
	orch    *Orchestrator

	mu          sync.Mutex
	rooms       []*fakeRoom
	connectErr  error
	holdConnect bool
}

func newOrchFixture(t *testing.T, steps int) *orchFixture {
	t.Helper()
	clock := newManualClock(time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC))
	kv := NewMemoryKV()
	store := NewCheckpoints(kv, "", 0)
	store.SetClock(clock.Now)

	f := &orchFixture{
		log:     &callLog{},
		recipes: &fakeRecipes{recipes: map[string]*Recipe{"r1": CreateTestRecipe("r1", steps)}},
		tokens:  &fakeAcquirer{},
		kv:      kv,
		store:   store,
		clock:   clock,
		hub:     NewLifecycleHub(),
	}
	f.orch = NewOrchestrator("r1", OrchestratorDeps{
		Recipes:      f.recipes,
		Tokens:       f.tokens,
		Checkpoints:  store,
		NewRoom:      f.newRoom,
		Devices:      &fakeDevices{log: f.log},
		Capture:      DefaultConfig().Capture,
		Lifecycle:    f.hub,
		Clock:        clock.Now,
		TickInterval: 5 * time.Millisecond,
	})
	t.Cleanup(f.orch.Close)
	return f
}

func (f *orchFixture) newRoom() Room {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := newFakeRoom(f.log)
	r.connectErr = f.connectErr
	r.holdConnect = f.holdConnect
	f.rooms = append(f.rooms, r)
	return r
}

func (f *orchFixture) room() *fakeRoom {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rooms) == 0 {
		return nil
	}
	return f.rooms[len(f.rooms)-1]
}

func (f *orchFixture) roomCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rooms)
}

// started bootstraps and starts a fresh session.
func (f *orchFixture) started(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := f.orch.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOrchestrator_BootstrapFailureAndRetry(t *testing.T) {
	f := newOrchFixture(t, 3)
	f.recipes.err = errors.New("service unavailable")

	ctx := context.Background()
	if err := f.orch.Bootstrap(ctx); err == nil {
		t.Fatal("Bootstrap() should fail")
	}
	snap := f.orch.Snapshot()
	if snap.Phase != PhaseError {
		t.Errorf("Phase = %s, want %s", snap.Phase, PhaseError)
	}
	if snap.Error == "" {
		t.Error("Error should describe the failure")
	}
	if err := f.orch.Start(ctx); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("Start() in error phase = %v, want ErrWrongPhase", err)
	}

	f.recipes.mu.Lock()
	f.recipes.err = nil
	f.recipes.mu.Unlock()

	if err := f.orch.Bootstrap(ctx); err != nil {
		t.Fatalf("retry Bootstrap() error = %v", err)
	}
	snap = f.orch.Snapshot()
	if snap.Phase != PhaseAwaitingStart {
		t.Errorf("Phase = %s, want %s", snap.Phase, PhaseAwaitingStart)
	}
	if snap.Error != "" {
		t.Errorf("Error = %q, want cleared", snap.Error)
	}
	if snap.TotalSteps != 3 {
		t.Errorf("TotalSteps = %d, want 3", snap.TotalSteps)
	}
	if f.recipes.calls != 2 {
		t.Errorf("recipe loads = %d, want 2", f.recipes.calls)
	}

	if err := f.orch.Bootstrap(ctx); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("Bootstrap() after success = %v, want ErrWrongPhase", err)
	}
}

func TestOrchestrator_BootstrapRejectsEmptyRecipe(t *testing.T) {
	f := newOrchFixture(t, 0)

	err := f.orch.Bootstrap(context.Background())
	var recipeErr *RecipeError
	if !errors.As(err, &recipeErr) {
		t.Fatalf("Bootstrap() error = %v, want RecipeError", err)
	}
	if f.orch.Snapshot().Phase != PhaseError {
		t.Errorf("Phase = %s, want %s", f.orch.Snapshot().Phase, PhaseError)
	}
}

func TestOrchestrator_BootstrapOffer(t *testing.T) {
	tests := []struct {
		name      string
		saved     *Checkpoint
		age       time.Duration
		wantOffer bool
		wantStep  int
	}{
		{name: "no checkpoint"},
		{
			name:      "resumable",
			saved:     &Checkpoint{WorkflowID: "r1", CurrentStep: 2, ElapsedSeconds: 60},
			age:       time.Hour,
			wantOffer: true,
			wantStep:  2,
		},
		{
			name:      "step past the end is clamped",
			saved:     &Checkpoint{WorkflowID: "r1", CurrentStep: 9, ElapsedSeconds: 60},
			wantOffer: true,
			wantStep:  4,
		},
		{
			name:  "expired",
			saved: &Checkpoint{WorkflowID: "r1", CurrentStep: 2, ElapsedSeconds: 60},
			age:   4*time.Hour + time.Minute,
		},
		{
			name:  "other recipe",
			saved: &Checkpoint{WorkflowID: "r2", CurrentStep: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchFixture(t, 5)
			if tt.saved != nil {
				cp := *tt.saved
				cp.PausedAt = f.clock.Now().UnixMilli()
				f.store.Save(cp)
				f.clock.Advance(tt.age)
			}

			if err := f.orch.Bootstrap(context.Background()); err != nil {
				t.Fatalf("Bootstrap() error = %v", err)
			}
			offer := f.orch.Snapshot().Offer
			if (offer != nil) != tt.wantOffer {
				t.Fatalf("Offer = %+v, wantOffer %v", offer, tt.wantOffer)
			}
			if offer != nil && offer.CurrentStep != tt.wantStep {
				t.Errorf("Offer.CurrentStep = %d, want %d", offer.CurrentStep, tt.wantStep)
			}
		})
	}
}

func TestOrchestrator_Start(t *testing.T) {
	f := newOrchFixture(t, 5)
	f.started(t)

	snap := f.orch.Snapshot()
	if snap.Phase != PhaseActive {
		t.Fatalf("Phase = %s, want %s", snap.Phase, PhaseActive)
	}
	if snap.StepIndex != 0 || snap.Step == nil || snap.Step.Number != 1 {
		t.Errorf("step = %d (%+v), want first step", snap.StepIndex, snap.Step)
	}
	if snap.Connection != ConnectionConnected {
		t.Errorf("Connection = %s, want %s", snap.Connection, ConnectionConnected)
	}
	if !snap.TimerRunning {
		t.Error("timer should run once connected")
	}

	steps := f.tokens.resumeSteps()
	if len(steps) != 1 || steps[0] != nil {
		t.Errorf("Acquire resume steps = %v, want [nil]", steps)
	}
	room := f.room()
	if room.serviceURL != "ws://rtc.test" || room.token != "tok" {
		t.Errorf("Connect(%q, %q), want credential values", room.serviceURL, room.token)
	}

	eventually(t, "elapsed time", func() bool { return f.orch.Snapshot().ElapsedSeconds >= 2 })
}

func TestOrchestrator_ResumeContinuesFromCheckpoint(t *testing.T) {
	f := newOrchFixture(t, 5)
	f.store.Save(Checkpoint{WorkflowID: "r1", CurrentStep: 2, ElapsedSeconds: 120, PausedAt: f.clock.Now().UnixMilli()})

	ctx := context.Background()
	if err := f.orch.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if err := f.orch.Resume(ctx); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}

	snap := f.orch.Snapshot()
	if snap.StepIndex != 2 {
		t.Errorf("StepIndex = %d, want 2", snap.StepIndex)
	}
	if snap.ElapsedSeconds < 120 {
		t.Errorf("ElapsedSeconds = %d, want >= 120", snap.ElapsedSeconds)
	}
	if snap.Offer != nil {
		t.Error("offer should be consumed")
	}
	steps := f.tokens.resumeSteps()
	if len(steps) != 1 || steps[0] == nil || *steps[0] != 3 {
		t.Errorf("Acquire resume step = %v, want 3", steps)
	}
}

func TestOrchestrator_ResumeWithoutOffer(t *testing.T) {
	f := newOrchFixture(t, 3)
	if err := f.orch.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if err := f.orch.Resume(context.Background()); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("Resume() = %v, want ErrWrongPhase", err)
	}
}

func TestOrchestrator_StartFreshClearsCheckpoint(t *testing.T) {
	f := newOrchFixture(t, 5)
	f.store.Save(Checkpoint{WorkflowID: "r1", CurrentStep: 3, ElapsedSeconds: 90, PausedAt: f.clock.Now().UnixMilli()})

	ctx := context.Background()
	if err := f.orch.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if err := f.orch.StartFresh(ctx); err != nil {
		t.Fatalf("StartFresh() error = %v", err)
	}
	if _, ok := f.store.Load("r1"); ok {
		t.Error("checkpoint should be cleared")
	}
	snap := f.orch.Snapshot()
	if snap.StepIndex != 0 {
		t.Errorf("StepIndex = %d, want 0", snap.StepIndex)
	}
	if snap.ElapsedSeconds > 1 {
		t.Errorf("ElapsedSeconds = %d, want a fresh clock", snap.ElapsedSeconds)
	}
}

func TestOrchestrator_TimerWaitsForConnection(t *testing.T) {
	f := newOrchFixture(t, 3)
	f.holdConnect = true
	f.started(t)

	snap := f.orch.Snapshot()
	if snap.Connection != ConnectionConnecting {
		t.Fatalf("Connection = %s, want %s", snap.Connection, ConnectionConnecting)
	}
	if f.orch.timerRunning() {
		t.Error("timer should not run before the room connects")
	}
	time.Sleep(30 * time.Millisecond)
	if got := f.orch.Snapshot().ElapsedSeconds; got != 0 {
		t.Errorf("ElapsedSeconds = %d while connecting, want 0", got)
	}

	f.room().markConnected()
	eventually(t, "timer start", f.orch.timerRunning)
	eventually(t, "elapsed time", func() bool { return f.orch.Snapshot().ElapsedSeconds > 0 })

	f.room().setState(ConnectionReconnecting, nil)
	eventually(t, "timer stop", func() bool { return !f.orch.timerRunning() })
	frozen := f.orch.Snapshot().ElapsedSeconds
	time.Sleep(30 * time.Millisecond)
	if got := f.orch.Snapshot().ElapsedSeconds; got != frozen {
		t.Errorf("ElapsedSeconds moved from %d to %d while reconnecting", frozen, got)
	}
}

func TestOrchestrator_ConnectFailure(t *testing.T) {
	f := newOrchFixture(t, 3)
	f.connectErr = errors.New("dial refused")

	ctx := context.Background()
	if err := f.orch.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	err := f.orch.Start(ctx)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Start() error = %v, want ConnectionError", err)
	}

	snap := f.orch.Snapshot()
	if snap.Phase != PhaseActive {
		t.Errorf("Phase = %s, want %s", snap.Phase, PhaseActive)
	}
	if snap.Connection != ConnectionFailed {
		t.Errorf("Connection = %s, want %s", snap.Connection, ConnectionFailed)
	}
	if snap.TimerRunning {
		t.Error("timer should not run after a failed connect")
	}
	if f.roomCount() != 1 {
		t.Errorf("rooms = %d, want no automatic retry", f.roomCount())
	}
}

func TestOrchestrator_AcquireFailure(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		rateLimited bool
		wantMsg     string
	}{
		{
			name:        "rate limited",
			err:         &AcquisitionError{Kind: AcquisitionRateLimited, WorkflowID: "r1", Attempts: 1, StatusCode: 429, Err: errors.New("slow down")},
			rateLimited: true,
			wantMsg:     "Too many sessions started recently. Wait a minute, then try again.",
		},
		{
			name:    "exhausted",
			err:     &AcquisitionError{Kind: AcquisitionExhausted, WorkflowID: "r1", Attempts: 3, Err: errors.New("boom")},
			wantMsg: "Could not start the session: boom",
		},
		{
			name:    "plain error",
			err:     errors.New("no route"),
			wantMsg: "no route",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchFixture(t, 3)
			f.tokens.push(acquireResult{err: tt.err})

			ctx := context.Background()
			if err := f.orch.Bootstrap(ctx); err != nil {
				t.Fatalf("Bootstrap() error = %v", err)
			}
			if err := f.orch.Start(ctx); err == nil {
				t.Fatal("Start() should fail")
			}

			snap := f.orch.Snapshot()
			if snap.Phase != PhaseAwaitingStart {
				t.Errorf("Phase = %s, want %s", snap.Phase, PhaseAwaitingStart)
			}
			if snap.Error != tt.wantMsg {
				t.Errorf("Error = %q, want %q", snap.Error, tt.wantMsg)
			}
			if snap.RateLimited != tt.rateLimited {
				t.Errorf("RateLimited = %v, want %v", snap.RateLimited, tt.rateLimited)
			}
			if f.roomCount() != 0 {
				t.Error("no room should be created")
			}

			// The retry control is Start again.
			if err := f.orch.Start(ctx); err != nil {
				t.Fatalf("second Start() error = %v", err)
			}
			if f.orch.Snapshot().Error != "" {
				t.Error("error should clear on a successful start")
			}
		})
	}
}

func TestOrchestrator_TrackAttempt(t *testing.T) {
	f := newOrchFixture(t, 3)
	gate := make(chan struct{})
	f.tokens.push(acquireResult{cred: testCredential(), gate: gate})

	ctx := context.Background()
	if err := f.orch.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	f.orch.TrackAttempt(2, 3)
	if f.orch.Snapshot().Attempt != 0 {
		t.Error("attempts outside acquiring should be ignored")
	}

	errc := make(chan error, 1)
	go func() { errc <- f.orch.Start(ctx) }()
	eventually(t, "token request", func() bool { return len(f.tokens.resumeSteps()) == 1 })

	f.orch.TrackAttempt(2, 3)
	snap := f.orch.Snapshot()
	if snap.Phase != PhaseAcquiring || snap.Attempt != 2 || snap.MaxAttempts != 3 {
		t.Errorf("snapshot = %s attempt %d/%d, want acquiring 2/3", snap.Phase, snap.Attempt, snap.MaxAttempts)
	}

	close(gate)
	if err := <-errc; err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if f.orch.Snapshot().Attempt != 0 {
		t.Error("attempt should reset once active")
	}
}

func TestOrchestrator_LateTokenIgnoredAfterClose(t *testing.T) {
	f := newOrchFixture(t, 3)
	gate := make(chan struct{})
	f.tokens.push(acquireResult{cred: testCredential(), gate: gate})

	ctx := context.Background()
	if err := f.orch.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- f.orch.Start(ctx) }()
	eventually(t, "token request", func() bool { return len(f.tokens.resumeSteps()) == 1 })

	f.orch.Close()
	close(gate)

	if err := <-errc; err != nil {
		t.Errorf("Start() = %v, want nil for a discarded result", err)
	}
	if f.roomCount() != 0 {
		t.Errorf("rooms = %d, want none after close", f.roomCount())
	}
	select {
	case <-f.orch.Done():
	default:
		t.Error("Done() should be closed")
	}
}

func TestOrchestrator_Navigation(t *testing.T) {
	f := newOrchFixture(t, 5)

	if f.orch.Next() {
		t.Error("Next() before the session starts should do nothing")
	}
	f.started(t)

	if f.orch.Previous() {
		t.Error("Previous() on the first step should do nothing")
	}
	if !f.orch.Next() || !f.orch.Next() {
		t.Fatal("Next() should advance")
	}
	if got := f.orch.Snapshot().StepIndex; got != 2 {
		t.Errorf("StepIndex = %d, want 2", got)
	}
	if !f.orch.GoToStep(99) {
		t.Fatal("GoToStep(99) should clamp to the last step")
	}
	if got := f.orch.Snapshot().StepIndex; got != 4 {
		t.Errorf("StepIndex = %d, want 4", got)
	}
	if f.orch.Next() {
		t.Error("Next() on the last step should do nothing")
	}
	if !f.orch.Previous() {
		t.Error("Previous() should go back")
	}
}

func TestOrchestrator_GoToStepFromAssistant(t *testing.T) {
	f := newOrchFixture(t, 5)
	f.started(t)
	room := f.room()

	room.emit(DataReceived{Topic: "other", Payload: []byte(`{"type":"go_to_step","step":2}`)})
	room.emit(DataReceived{Topic: ControlTopic, Payload: []byte(`not json`)})
	room.emit(DataReceived{Topic: ControlTopic, Payload: []byte(`{"type":"go_to_step","step":0}`)})
	room.emit(DataReceived{Topic: ControlTopic, Payload: []byte(`{"type":"go_to_step","step":4}`)})

	eventually(t, "assistant step change", func() bool { return f.orch.Snapshot().StepIndex == 3 })
}

func TestOrchestrator_ActivityDrivesPresentation(t *testing.T) {
	f := newOrchFixture(t, 3)
	f.started(t)

	f.room().emit(ActivityChanged{Activity: ActivitySpeaking})
	eventually(t, "speaking", func() bool { return f.orch.Snapshot().Activity == ActivitySpeaking })

	snap := f.orch.Snapshot()
	if want := DerivePresentation(ConnectionConnected, SignalsFor(ActivitySpeaking)); snap.Presentation != want {
		t.Errorf("Presentation = %+v, want %+v", snap.Presentation, want)
	}
}

func TestOrchestrator_CameraPublishesControlEvent(t *testing.T) {
	f := newOrchFixture(t, 3)
	f.started(t)
	ctx := context.Background()

	if err := f.orch.ToggleCamera(ctx); err != nil {
		t.Fatalf("ToggleCamera() error = %v", err)
	}
	if !f.orch.Snapshot().Capture.CameraEnabled {
		t.Error("camera should be on")
	}
	sent := f.room().participant.sent()
	if len(sent) != 1 || sent[0].Type != ControlCameraState || !sent[0].On {
		t.Errorf("sent = %+v, want one camera_state on event", sent)
	}

	if err := f.orch.ToggleMicrophone(ctx); err != nil {
		t.Fatalf("ToggleMicrophone() error = %v", err)
	}
	if !f.orch.Snapshot().Capture.MicrophoneMuted {
		t.Error("microphone should be muted")
	}
}

func TestOrchestrator_CaptureRequiresActive(t *testing.T) {
	f := newOrchFixture(t, 3)
	ctx := context.Background()

	for name, op := range map[string]func(context.Context) error{
		"mic":  f.orch.ToggleMicrophone,
		"cam":  f.orch.ToggleCamera,
		"flip": f.orch.FlipCamera,
	} {
		if err := op(ctx); !errors.Is(err, ErrWrongPhase) {
			t.Errorf("%s before start = %v, want ErrWrongPhase", name, err)
		}
	}
}

func TestOrchestrator_Pause(t *testing.T) {
	f := newOrchFixture(t, 5)
	f.started(t)
	f.orch.Next()
	f.orch.Next()
	eventually(t, "elapsed time", func() bool { return f.orch.Snapshot().ElapsedSeconds > 0 })

	if err := f.orch.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}

	cp, ok := f.store.Load("r1")
	if !ok {
		t.Fatal("Pause() should save a checkpoint")
	}
	if cp.CurrentStep != 2 {
		t.Errorf("checkpoint step = %d, want 2", cp.CurrentStep)
	}
	if cp.ElapsedSeconds == 0 {
		t.Error("checkpoint should carry elapsed time")
	}
	if cp.PausedAt != f.clock.Now().UnixMilli() {
		t.Errorf("PausedAt = %d, want %d", cp.PausedAt, f.clock.Now().UnixMilli())
	}

	snap := f.orch.Snapshot()
	if snap.Phase != PhaseAwaitingStart {
		t.Errorf("Phase = %s, want %s", snap.Phase, PhaseAwaitingStart)
	}
	if snap.Offer == nil || snap.Offer.ResumeStep() != 3 {
		t.Errorf("Offer = %+v, want resume at step 3", snap.Offer)
	}
	if snap.TimerRunning {
		t.Error("timer should stop on pause")
	}
	if !f.room().wasDisconnected() {
		t.Error("room should be left on pause")
	}

	report := f.orch.Report()
	if report.Status != ReportPaused || report.CurrentStep != 3 || report.PausedAt == nil {
		t.Errorf("Report = %+v, want paused at step 3", report)
	}

	if err := f.orch.Pause(); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("second Pause() = %v, want ErrWrongPhase", err)
	}

	// Resume reconnects through a fresh room.
	if err := f.orch.Resume(context.Background()); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if f.roomCount() != 2 {
		t.Errorf("rooms = %d, want 2", f.roomCount())
	}
	if got := f.orch.Snapshot().StepIndex; got != 2 {
		t.Errorf("resumed StepIndex = %d, want 2", got)
	}
}

func TestOrchestrator_EndFlow(t *testing.T) {
	f := newOrchFixture(t, 3)
	f.store.Save(Checkpoint{WorkflowID: "r1", CurrentStep: 1, PausedAt: f.clock.Now().UnixMilli()})
	ctx := context.Background()
	if err := f.orch.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if err := f.orch.Resume(ctx); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	f.orch.OnLifecycle(PageHidden)

	if err := f.orch.ConfirmEnd(ctx); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("ConfirmEnd() without request = %v, want ErrWrongPhase", err)
	}

	if err := f.orch.RequestEnd(); err != nil {
		t.Fatalf("RequestEnd() error = %v", err)
	}
	if !f.orch.Snapshot().ConfirmingEnd {
		t.Error("ConfirmingEnd should be set")
	}
	f.orch.CancelEnd()
	if f.orch.Snapshot().ConfirmingEnd {
		t.Error("CancelEnd() should dismiss the confirmation")
	}
	if f.orch.Snapshot().Phase != PhaseActive {
		t.Error("cancelling should keep the session active")
	}

	if err := f.orch.RequestEnd(); err != nil {
		t.Fatalf("RequestEnd() error = %v", err)
	}
	if err := f.orch.ConfirmEnd(ctx); err != nil {
		t.Fatalf("ConfirmEnd() error = %v", err)
	}

	if _, ok := f.store.Load("r1"); ok {
		t.Error("ending should delete the checkpoint")
	}
	if f.orch.Snapshot().Phase != PhaseEnding {
		t.Errorf("Phase = %s, want %s", f.orch.Snapshot().Phase, PhaseEnding)
	}
	select {
	case <-f.orch.Done():
	default:
		t.Error("Done() should be closed after ending")
	}
	if !f.room().wasDisconnected() {
		t.Error("room should be left")
	}
	if got := f.orch.Report().Status; got != ReportCompleted {
		t.Errorf("Report status = %s, want %s", got, ReportCompleted)
	}
}

func TestOrchestrator_LifecycleSavesCheckpoint(t *testing.T) {
	tests := []struct {
		name   string
		event  LifecycleEvent
		active bool
		saved  bool
	}{
		{name: "hidden while active", event: PageHidden, active: true, saved: true},
		{name: "unload while active", event: PageUnload, active: true, saved: true},
		{name: "visible while active", event: PageVisible, active: true},
		{name: "hidden before start", event: PageHidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchFixture(t, 4)
			if tt.active {
				f.started(t)
				f.orch.Next()
			} else if err := f.orch.Bootstrap(context.Background()); err != nil {
				t.Fatalf("Bootstrap() error = %v", err)
			}

			f.hub.Emit(tt.event)

			cp, ok := f.store.Load("r1")
			if ok != tt.saved {
				t.Fatalf("checkpoint saved = %v, want %v", ok, tt.saved)
			}
			if ok && cp.CurrentStep != 1 {
				t.Errorf("checkpoint step = %d, want 1", cp.CurrentStep)
			}
			if tt.active && f.orch.Snapshot().Phase != PhaseActive {
				t.Error("a lifecycle save should not leave the session")
			}
		})
	}
}

func TestOrchestrator_CloseUnregistersLifecycle(t *testing.T) {
	f := newOrchFixture(t, 3)
	f.started(t)
	f.orch.Close()

	f.hub.Emit(PageHidden)
	if _, ok := f.store.Load("r1"); ok {
		t.Error("closed session should not save on lifecycle events")
	}
	if !f.room().wasDisconnected() {
		t.Error("Close() should leave the room")
	}
	if f.orch.timerRunning() {
		t.Error("Close() should stop the timer")
	}
	if err := f.orch.Bootstrap(context.Background()); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("Bootstrap() after Close = %v, want ErrWrongPhase", err)
	}
}

func TestOrchestrator_OnChange(t *testing.T) {
	var mu sync.Mutex
	var phases []Phase
	f := newOrchFixture(t, 2)
	f.orch.deps.OnChange = func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if len(phases) == 0 || phases[len(phases)-1] != s.Phase {
			phases = append(phases, s.Phase)
		}
	}
	f.started(t)

	mu.Lock()
	defer mu.Unlock()
	want := []Phase{PhaseBootstrapping, PhaseAwaitingStart, PhaseAcquiring, PhaseActive}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phases[%d] = %s, want %s", i, phases[i], want[i])
		}
	}
}

func TestClampStep(t *testing.T) {
	tests := []struct {
		index, total, want int
	}{
		{0, 5, 0},
		{4, 5, 4},
		{5, 5, 4},
		{-1, 5, 0},
		{3, 1, 0},
	}
	for _, tt := range tests {
		if got := clampStep(tt.index, tt.total); got != tt.want {
			t.Errorf("clampStep(%d, %d) = %d, want %d", tt.index, tt.total, got, tt.want)
		}
	}
}

func TestOrchestrator_MuteDoesNotCarryIntoResumedRoom(t *testing.T) {
	f := newOrchFixture(t, 4)
	f.started(t)
	ctx := context.Background()

	if err := f.orch.ToggleMicrophone(ctx); err != nil {
		t.Fatalf("ToggleMicrophone() error = %v", err)
	}
	if err := f.orch.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if err := f.orch.Resume(ctx); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	eventually(t, "resumed connection", func() bool { return f.orch.Snapshot().Connection == ConnectionConnected })

	muted := f.orch.Snapshot().Capture.MicrophoneMuted
	if micOn := f.room().participant.micOn(); muted == micOn {
		t.Errorf("snapshot muted = %t but participant mic on = %t", muted, micOn)
	}

	// Muting again reaches the new participant.
	if err := f.orch.ToggleMicrophone(ctx); err != nil {
		t.Fatalf("ToggleMicrophone() error = %v", err)
	}
	if !f.orch.Snapshot().Capture.MicrophoneMuted || f.room().participant.micOn() {
		t.Error("mute should apply to the resumed room")
	}
}

func TestOrchestrator_TickFromStoppedTimerIgnored(t *testing.T) {
	f := newOrchFixture(t, 3)
	f.orch.deps.TickInterval = time.Hour
	f.started(t)
	eventually(t, "timer start", f.orch.timerRunning)

	f.orch.tick(make(chan struct{}))
	if got := f.orch.Snapshot().ElapsedSeconds; got != 0 {
		t.Errorf("ElapsedSeconds = %d after a stale tick, want 0", got)
	}

	f.orch.mu.Lock()
	current := f.orch.tickStop
	f.orch.mu.Unlock()
	f.orch.tick(current)
	if got := f.orch.Snapshot().ElapsedSeconds; got != 1 {
		t.Errorf("ElapsedSeconds = %d after a live tick, want 1", got)
	}
}

func TestOrchestrator_TrackRetry(t *testing.T) {
	f := newOrchFixture(t, 3)
	gate := make(chan struct{})
	f.tokens.push(acquireResult{cred: testCredential(), gate: gate})
	ctx := context.Background()
	if err := f.orch.Bootstrap(ctx); err != nil {
		t.Fatal(err)
	}

	transient := &AcquisitionError{Kind: AcquisitionTransient, WorkflowID: "r1", Attempts: 1, Err: errors.New("503")}
	f.orch.TrackRetry(transient, time.Second)
	if f.orch.Snapshot().Error != "" {
		t.Error("retries outside acquiring should be ignored")
	}

	errc := make(chan error, 1)
	go func() { errc <- f.orch.Start(ctx) }()
	eventually(t, "token request", func() bool { return len(f.tokens.resumeSteps()) == 1 })

	f.orch.TrackRetry(transient, time.Second)
	if got := f.orch.Snapshot().Error; got != "Connection hiccup, retrying..." {
		t.Errorf("Error = %q while retrying", got)
	}

	close(gate)
	if err := <-errc; err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := f.orch.Snapshot().Error; got != "" {
		t.Errorf("Error = %q once active, want cleared", got)
	}
}

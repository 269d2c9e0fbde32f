package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// callLog records the order of device and room calls across fakes.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
}

type fakeTrack struct {
	id     string
	source TrackSource
	facing FacingMode
	log    *callLog

	mu      sync.Mutex
	stopped bool
}

func (t *fakeTrack) ID() string          { return t.id }
func (t *fakeTrack) Source() TrackSource { return t.source }

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.log.add("stop %s", t.id)
	return nil
}

func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeDevices struct {
	log *callLog

	mu      sync.Mutex
	n       int
	failErr error
	created []*fakeTrack
	// entered receives once per call and gate then holds the call open.
	entered chan struct{}
	gate    chan struct{}
}

func (d *fakeDevices) CreateCameraTrack(ctx context.Context, opts CaptureOptions) (LocalTrack, error) {
	d.mu.Lock()
	entered, gate := d.entered, d.gate
	d.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.log.add("create %s", opts.FacingMode)
	if d.failErr != nil {
		return nil, d.failErr
	}
	d.n++
	t := &fakeTrack{id: fmt.Sprintf("cam-%d", d.n), source: SourceCamera, facing: opts.FacingMode, log: d.log}
	d.created = append(d.created, t)
	return t, nil
}

// hold makes the next camera requests wait until the returned release is called.
func (d *fakeDevices) hold() (entered <-chan struct{}, release func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entered = make(chan struct{}, 4)
	d.gate = make(chan struct{})
	gate := d.gate
	return d.entered, func() { close(gate) }
}

func (d *fakeDevices) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failErr = err
}

type fakeParticipant struct {
	log *callLog

	mu           sync.Mutex
	published    map[TrackSource]LocalTrack
	micEnabled   bool
	data         []ControlEvent
	publishErr   error
	unpublishErr error
	micErr       error
	dataErr      error
}

func newFakeParticipant(log *callLog) *fakeParticipant {
	return &fakeParticipant{log: log, published: make(map[TrackSource]LocalTrack), micEnabled: true}
}

func (p *fakeParticipant) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log.add("mic %t", enabled)
	if p.micErr != nil {
		return p.micErr
	}
	p.micEnabled = enabled
	return nil
}

func (p *fakeParticipant) PublishTrack(ctx context.Context, track LocalTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log.add("publish %s", track.ID())
	if p.publishErr != nil {
		return p.publishErr
	}
	p.published[track.Source()] = track
	return nil
}

func (p *fakeParticipant) UnpublishTrack(ctx context.Context, track LocalTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log.add("unpublish %s", track.ID())
	if p.unpublishErr != nil {
		return p.unpublishErr
	}
	delete(p.published, track.Source())
	return nil
}

func (p *fakeParticipant) PublishedTrack(source TrackSource) (LocalTrack, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.published[source]
	return t, ok
}

func (p *fakeParticipant) PublishData(ctx context.Context, payload []byte, topic string, reliable bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dataErr != nil {
		return p.dataErr
	}
	ev, err := decodeControlEvent(payload)
	if err != nil {
		return err
	}
	p.log.add("data %s %s on=%t reliable=%t", topic, ev.Type, ev.On, reliable)
	p.data = append(p.data, ev)
	return nil
}

func (p *fakeParticipant) micOn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.micEnabled
}

func (p *fakeParticipant) hasCamera() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.published[SourceCamera]
	return ok
}

func (p *fakeParticipant) sent() []ControlEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ControlEvent(nil), p.data...)
}

// fakeRoom connects immediately unless connectErr is set, and closes its
// events channel on Disconnect.
type fakeRoom struct {
	participant *fakeParticipant
	connectErr  error
	// holdConnect keeps Connect from reporting connected until markConnected.
	holdConnect bool

	mu           sync.Mutex
	state        ConnectionState
	events       chan RoomEvent
	closed       bool
	disconnected bool
	serviceURL   string
	token        string
}

func newFakeRoom(log *callLog) *fakeRoom {
	return &fakeRoom{
		participant: newFakeParticipant(log),
		state:       ConnectionDisconnected,
		events:      make(chan RoomEvent, 64),
	}
}

func (r *fakeRoom) Connect(ctx context.Context, serviceURL, token string) error {
	r.mu.Lock()
	r.serviceURL = serviceURL
	r.token = token
	r.mu.Unlock()

	if r.connectErr != nil {
		r.setState(ConnectionFailed, r.connectErr)
		return r.connectErr
	}
	if r.holdConnect {
		r.setState(ConnectionConnecting, nil)
		return nil
	}
	r.setState(ConnectionConnected, nil)
	return nil
}

func (r *fakeRoom) Disconnect() error {
	r.mu.Lock()
	r.disconnected = true
	r.mu.Unlock()
	r.setState(ConnectionDisconnected, nil)
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	return nil
}

func (r *fakeRoom) ConnectionState() ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *fakeRoom) LocalParticipant() LocalParticipant { return r.participant }

func (r *fakeRoom) Events() <-chan RoomEvent { return r.events }

func (r *fakeRoom) setState(state ConnectionState, err error) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
	r.emit(ConnectionChanged{State: state, Err: err})
}

func (r *fakeRoom) emit(ev RoomEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.events <- ev
}

func (r *fakeRoom) markConnected() {
	r.setState(ConnectionConnected, nil)
}

func (r *fakeRoom) wasDisconnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnected
}

// fakeRecipes serves recipes from a map.
type fakeRecipes struct {
	mu      sync.Mutex
	recipes map[string]*Recipe
	err     error
	calls   int
}

func (f *fakeRecipes) Recipe(ctx context.Context, id string) (*Recipe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.recipes[id]
	if !ok {
		return nil, &RecipeError{RecipeID: id, Err: errors.New("recipe not found")}
	}
	return r, nil
}

// fakeAcquirer returns queued results. A result with a non-nil gate blocks
// until the gate is closed.
type fakeAcquirer struct {
	mu      sync.Mutex
	results []acquireResult
	calls   []*int
}

type acquireResult struct {
	cred *SessionCredential
	err  error
	gate chan struct{}
}

func (f *fakeAcquirer) push(r acquireResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
}

func (f *fakeAcquirer) Acquire(ctx context.Context, workflowID string, resumeStep *int) (*SessionCredential, error) {
	f.mu.Lock()
	f.calls = append(f.calls, resumeStep)
	var r acquireResult
	if len(f.results) > 0 {
		r = f.results[0]
		f.results = f.results[1:]
	} else {
		r = acquireResult{cred: testCredential()}
	}
	f.mu.Unlock()

	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.cred, r.err
}

func (f *fakeAcquirer) resumeSteps() []*int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*int(nil), f.calls...)
}

func testCredential() *SessionCredential {
	return &SessionCredential{AccessToken: "tok", RoomName: "cook-test", ServiceURL: "ws://rtc.test"}
}

// manualClock is a settable time source.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(t time.Time) *manualClock { return &manualClock{now: t} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingPublisher captures control events instead of sending them.
type recordingPublisher struct {
	mu     sync.Mutex
	events []ControlEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, ev ControlEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return true
}

func (p *recordingPublisher) list() []ControlEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ControlEvent(nil), p.events...)
}

func decodeControlEvent(payload []byte) (ControlEvent, error) {
	var ev ControlEvent
	err := json.Unmarshal(payload, &ev)
	return ev, err
}

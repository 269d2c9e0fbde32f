package rtc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iksnae/yeschef-session/internal"
)

const (
	defaultJoinTimeout = 10 * time.Second
	eventBuffer        = 64
)

// Room is an internal.Room over a websocket relay.
type Room struct {
	dialer      *websocket.Dialer
	joinTimeout time.Duration

	mu       sync.Mutex
	state    internal.ConnectionState
	conn     *websocket.Conn
	name     string
	identity string
	closing  bool

	writeMu sync.Mutex

	eventsMu     sync.Mutex
	events       chan internal.RoomEvent
	eventsClosed bool

	participant *Participant
}

// NewRoom creates a disconnected room.
func NewRoom() *Room {
	r := &Room{
		dialer:      websocket.DefaultDialer,
		joinTimeout: defaultJoinTimeout,
		state:       internal.ConnectionDisconnected,
		events:      make(chan internal.RoomEvent, eventBuffer),
	}
	r.participant = &Participant{room: r, tracks: make(map[internal.TrackSource]internal.LocalTrack)}
	return r
}

// Factory returns an internal.RoomFactory building websocket rooms.
func Factory() internal.RoomFactory {
	return func() internal.Room { return NewRoom() }
}

// Name returns the joined room name.
func (r *Room) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

func (r *Room) ConnectionState() internal.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Room) LocalParticipant() internal.LocalParticipant {
	return r.participant
}

func (r *Room) Events() <-chan internal.RoomEvent {
	return r.events
}

// Connect dials serviceURL with token and waits for the relay's joined frame.
func (r *Room) Connect(ctx context.Context, serviceURL, token string) error {
	r.mu.Lock()
	if r.conn != nil || r.closing {
		r.mu.Unlock()
		return fmt.Errorf("room already used")
	}
	r.mu.Unlock()

	r.setState(internal.ConnectionConnecting, nil)

	endpoint, err := withAccessToken(serviceURL, token)
	if err != nil {
		r.fail(err)
		return err
	}

	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, r.joinTimeout)
		defer cancel()
	}

	conn, resp, err := r.dialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		r.fail(err)
		return err
	}

	_ = conn.SetReadDeadline(time.Now().Add(r.joinTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		err = fmt.Errorf("read joined frame: %w", err)
		r.fail(err)
		return err
	}
	_ = conn.SetReadDeadline(time.Time{})

	frame, err := DecodeFrame(data)
	if err == nil && frame.Type == FrameError {
		err = errors.New(frame.Message)
	} else if err == nil && frame.Type != FrameJoined {
		err = fmt.Errorf("unexpected first frame %q", frame.Type)
	}
	if err != nil {
		_ = conn.Close()
		r.fail(err)
		return err
	}

	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		_ = conn.Close()
		r.setState(internal.ConnectionDisconnected, nil)
		r.closeEvents()
		return fmt.Errorf("room disconnected while joining")
	}
	r.conn = conn
	r.name = frame.Room
	r.identity = frame.Identity
	r.mu.Unlock()

	internal.LogDebug("Joined room %s as %s", frame.Room, frame.Identity)
	r.setState(internal.ConnectionConnected, nil)
	go r.readLoop(conn)
	return nil
}

// Disconnect closes the socket. Events is closed once the read loop exits.
func (r *Room) Disconnect() error {
	r.mu.Lock()
	r.closing = true
	conn := r.conn
	r.mu.Unlock()

	if conn == nil {
		r.setState(internal.ConnectionDisconnected, nil)
		r.closeEvents()
		return nil
	}

	r.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
	r.writeMu.Unlock()
	return conn.Close()
}

func (r *Room) readLoop(conn *websocket.Conn) {
	defer r.closeEvents()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			closing := r.closing
			r.mu.Unlock()
			if closing || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.setState(internal.ConnectionDisconnected, nil)
				return
			}
			internal.LogWarn("Room connection lost: %v", err)
			r.setState(internal.ConnectionFailed, err)
			return
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			internal.LogDebug("Ignoring room frame: %v", err)
			continue
		}
		switch frame.Type {
		case FrameData:
			r.emit(internal.DataReceived{Topic: frame.Topic, Payload: frame.Payload, From: frame.From})
		case FrameAgentState:
			r.emit(internal.ActivityChanged{Activity: internal.AssistantActivity(frame.State)})
		case FrameError:
			internal.LogWarn("Room relay error: %s", frame.Message)
		}
	}
}

func (r *Room) setState(state internal.ConnectionState, err error) {
	r.mu.Lock()
	if r.state == state {
		r.mu.Unlock()
		return
	}
	r.state = state
	r.mu.Unlock()
	r.emit(internal.ConnectionChanged{State: state, Err: err})
}

func (r *Room) fail(err error) {
	r.setState(internal.ConnectionFailed, err)
	r.closeEvents()
}

func (r *Room) emit(ev internal.RoomEvent) {
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()
	if r.eventsClosed {
		return
	}
	select {
	case r.events <- ev:
	default:
		internal.LogDebug("Room event dropped: consumer not keeping up")
	}
}

func (r *Room) closeEvents() {
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()
	if !r.eventsClosed {
		r.eventsClosed = true
		close(r.events)
	}
}

func (r *Room) send(f Frame) error {
	r.mu.Lock()
	conn := r.conn
	state := r.state
	r.mu.Unlock()
	if conn == nil || state != internal.ConnectionConnected {
		return internal.ErrNotConnected
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return conn.WriteJSON(f)
}

func withAccessToken(serviceURL, token string) (string, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return "", fmt.Errorf("invalid service url %q: %w", serviceURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported service url scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Participant is the local side of a Room.
type Participant struct {
	room *Room

	mu     sync.Mutex
	tracks map[internal.TrackSource]internal.LocalTrack
}

func (p *Participant) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	return p.room.send(Frame{Type: FrameMicrophone, Enabled: &enabled})
}

func (p *Participant) PublishTrack(ctx context.Context, track internal.LocalTrack) error {
	f := Frame{Type: FrameTrackPublished, TrackID: track.ID(), Source: string(track.Source())}
	if ft, ok := track.(interface{ Facing() internal.FacingMode }); ok {
		f.Facing = string(ft.Facing())
	}
	if err := p.room.send(f); err != nil {
		return err
	}
	p.mu.Lock()
	p.tracks[track.Source()] = track
	p.mu.Unlock()
	return nil
}

func (p *Participant) UnpublishTrack(ctx context.Context, track internal.LocalTrack) error {
	p.mu.Lock()
	if cur, ok := p.tracks[track.Source()]; ok && cur.ID() == track.ID() {
		delete(p.tracks, track.Source())
	}
	p.mu.Unlock()
	return p.room.send(Frame{Type: FrameTrackUnpublished, TrackID: track.ID(), Source: string(track.Source())})
}

func (p *Participant) PublishedTrack(source internal.TrackSource) (internal.LocalTrack, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tracks[source]
	return t, ok
}

func (p *Participant) PublishData(ctx context.Context, payload []byte, topic string, reliable bool) error {
	return p.room.send(Frame{Type: FramePublishData, Topic: topic, Payload: payload, Reliable: reliable})
}

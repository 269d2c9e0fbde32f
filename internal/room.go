package internal

import (
	"context"
)

// ConnectionState is the transport state reported by a Room.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionReconnecting ConnectionState = "reconnecting"
	ConnectionFailed       ConnectionState = "failed"
)

// AssistantActivity is what the remote assistant is doing right now.
type AssistantActivity string

const (
	ActivityIdle      AssistantActivity = "idle"
	ActivityListening AssistantActivity = "listening"
	ActivityThinking  AssistantActivity = "thinking"
	ActivitySpeaking  AssistantActivity = "speaking"
)

// TrackSource identifies what a published track carries.
type TrackSource string

const (
	SourceMicrophone TrackSource = "microphone"
	SourceCamera     TrackSource = "camera"
)

// FacingMode selects the front or back camera.
type FacingMode string

const (
	FacingEnvironment FacingMode = "environment"
	FacingUser        FacingMode = "user"
)

// Flipped returns the opposite facing mode.
func (f FacingMode) Flipped() FacingMode {
	if f == FacingUser {
		return FacingEnvironment
	}
	return FacingUser
}

// Valid reports whether f is a known facing mode.
func (f FacingMode) Valid() bool {
	return f == FacingEnvironment || f == FacingUser
}

// CaptureOptions are the constraints passed to the camera.
type CaptureOptions struct {
	Width      int
	Height     int
	FrameRate  float64
	FacingMode FacingMode
}

// LocalTrack is a capture track owned by this participant.
type LocalTrack interface {
	ID() string
	Source() TrackSource
	// Stop releases the underlying capturer.
	Stop() error
}

// MediaDevices hands out capture tracks.
type MediaDevices interface {
	CreateCameraTrack(ctx context.Context, opts CaptureOptions) (LocalTrack, error)
}

// LocalParticipant is the publishing side of a Room.
type LocalParticipant interface {
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	PublishTrack(ctx context.Context, track LocalTrack) error
	UnpublishTrack(ctx context.Context, track LocalTrack) error
	// PublishedTrack returns the published track for source, if any.
	PublishedTrack(source TrackSource) (LocalTrack, bool)
	PublishData(ctx context.Context, payload []byte, topic string, reliable bool) error
}

// RoomEvent is delivered on Room.Events.
type RoomEvent interface {
	roomEvent()
}

// ConnectionChanged reports a new transport state.
type ConnectionChanged struct {
	State ConnectionState
	Err   error
}

// ActivityChanged reports the assistant's new activity.
type ActivityChanged struct {
	Activity AssistantActivity
}

// DataReceived carries a side-channel message from another participant.
type DataReceived struct {
	Topic   string
	Payload []byte
	From    string
}

func (ConnectionChanged) roomEvent() {}
func (ActivityChanged) roomEvent()   {}
func (DataReceived) roomEvent()      {}

// Room is the realtime transport the session runs over. Connection state and
// assistant activity are owned by the Room; the session only observes them.
type Room interface {
	Connect(ctx context.Context, serviceURL, token string) error
	Disconnect() error
	ConnectionState() ConnectionState
	LocalParticipant() LocalParticipant
	// Events is closed once the room is disconnected.
	Events() <-chan RoomEvent
}

// RoomFactory builds a fresh Room for one connection attempt.
type RoomFactory func() Room

// Package rtc is a small websocket realtime room transport: a room client for
// the cook session and the frame types shared with the gateway relay.
package rtc

import (
	"encoding/json"
	"fmt"
)

// Frame types.
const (
	// client -> relay
	FramePublishData      = "publish_data"
	FrameTrackPublished   = "track_published"
	FrameTrackUnpublished = "track_unpublished"
	FrameMicrophone       = "mic"

	// relay -> client; agents also send agent_state upstream
	FrameJoined     = "joined"
	FrameData       = "data"
	FrameAgentState = "agent_state"
	FrameError      = "error"
)

// Frame is one JSON message on the room socket.
type Frame struct {
	Type     string `json:"type"`
	Room     string `json:"room,omitempty"`
	Identity string `json:"identity,omitempty"`

	Topic    string `json:"topic,omitempty"`
	Payload  []byte `json:"payload,omitempty"`
	Reliable bool   `json:"reliable,omitempty"`
	From     string `json:"from,omitempty"`

	TrackID string `json:"track_id,omitempty"`
	Source  string `json:"source,omitempty"`
	Facing  string `json:"facing,omitempty"`

	Enabled *bool  `json:"enabled,omitempty"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
}

// DecodeFrame parses a text message.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return f, fmt.Errorf("decode frame: missing type")
	}
	return f, nil
}

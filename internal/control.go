package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Control message types carried on ControlTopic.
const (
	ControlCameraState = "camera_state"
	ControlGoToStep    = "go_to_step"
)

// ControlEvent is a side-channel message sent to the assistant.
type ControlEvent struct {
	Type string `json:"type"`
	On   bool   `json:"on"`
	TS   int64  `json:"ts"`
}

// CameraStateEvent builds a camera_state event stamped at now.
func CameraStateEvent(on bool, now time.Time) ControlEvent {
	return ControlEvent{Type: ControlCameraState, On: on, TS: now.UnixMilli()}
}

// Broadcaster sends control events to the assistant over the room's data channel.
type Broadcaster struct {
	mu    sync.RWMutex
	room  Room
	topic string
}

// NewBroadcaster creates a broadcaster for topic. An empty topic means ControlTopic.
func NewBroadcaster(topic string) *Broadcaster {
	if topic == "" {
		topic = ControlTopic
	}
	return &Broadcaster{topic: topic}
}

// Attach sets the room events are published to; nil detaches.
func (b *Broadcaster) Attach(room Room) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.room = room
}

// Publish sends event reliably. It reports whether the event was handed to the
// room; nothing is sent unless the room is connected, and failures are only logged.
func (b *Broadcaster) Publish(ctx context.Context, event ControlEvent) bool {
	b.mu.RLock()
	room := b.room
	b.mu.RUnlock()

	if room == nil || room.ConnectionState() != ConnectionConnected {
		LogDebug("Dropping %s event: room not connected", event.Type)
		return false
	}
	participant := room.LocalParticipant()
	if participant == nil {
		return false
	}

	payload, err := json.Marshal(event)
	if err != nil {
		LogWarn("Failed to encode %s event: %v", event.Type, err)
		return false
	}
	if err := participant.PublishData(ctx, payload, b.topic, true); err != nil {
		LogWarn("Failed to publish %s event: %v", event.Type, err)
		return false
	}
	Logger().Debug().Str("type", event.Type).Bool("on", event.On).Msg("Published control event")
	return true
}

// InboundControl is a control message received from the assistant.
type InboundControl struct {
	Type string `json:"type"`
	Step int    `json:"step,omitempty"` // 1-based
}

// DecodeInboundControl parses a message received on the control topic.
func DecodeInboundControl(payload []byte) (InboundControl, error) {
	var msg InboundControl
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("invalid control message: %w", err)
	}
	if msg.Type == "" {
		return msg, fmt.Errorf("control message missing type")
	}
	if msg.Type == ControlGoToStep && msg.Step < 1 {
		return msg, fmt.Errorf("go_to_step requires step >= 1, got %d", msg.Step)
	}
	return msg, nil
}

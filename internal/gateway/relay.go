package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iksnae/yeschef-session/internal"
	"github.com/iksnae/yeschef-session/internal/rtc"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Relay forwards data and assistant-state frames between participants of the same room.
type Relay struct {
	issuer  *TokenIssuer
	metrics *Metrics

	mu    sync.Mutex
	rooms map[string]map[string]*peer
}

type peer struct {
	identity string
	role     string
	room     string
	conn     *websocket.Conn
	writeMu  sync.Mutex
}

func (p *peer) send(f rtc.Frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteJSON(f)
}

// NewRelay creates an empty relay.
func NewRelay(issuer *TokenIssuer, metrics *Metrics) *Relay {
	return &Relay{issuer: issuer, metrics: metrics, rooms: make(map[string]map[string]*peer)}
}

// Participants returns the identities currently in room.
func (rl *Relay) Participants(room string) []string {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	var ids []string
	for id := range rl.rooms[room] {
		ids = append(ids, id)
	}
	return ids
}

func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("access_token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	claims, err := rl.issuer.Verify(token)
	if err != nil {
		internal.LogWarn("Rejected relay join: %v", err)
		writeError(w, http.StatusUnauthorized, "authentication_error", "invalid access token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		internal.LogWarn("Relay upgrade failed: %v", err)
		return
	}

	p := &peer{
		identity: claims.Subject,
		role:     claims.Role(),
		room:     claims.Video.Room,
		conn:     conn,
	}
	rl.join(p)
	defer rl.leave(p)

	if err := p.send(rtc.Frame{Type: rtc.FrameJoined, Room: p.room, Identity: p.identity}); err != nil {
		return
	}
	internal.Logger().Info().Str("room", p.room).Str("identity", p.identity).Str("role", p.role).Msg("Participant joined")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				internal.LogDebug("Relay read from %s ended: %v", p.identity, err)
			}
			return
		}
		frame, err := rtc.DecodeFrame(data)
		if err != nil {
			_ = p.send(rtc.Frame{Type: rtc.FrameError, Message: err.Error()})
			continue
		}
		rl.handle(p, frame)
	}
}

func (rl *Relay) handle(from *peer, f rtc.Frame) {
	switch f.Type {
	case rtc.FramePublishData:
		if f.Topic == internal.ControlTopic {
			rl.observeControl(from, f.Payload)
		}
		rl.broadcast(from, rtc.Frame{Type: rtc.FrameData, Topic: f.Topic, Payload: f.Payload, From: from.identity})
	case rtc.FrameAgentState:
		if from.role != "agent" {
			internal.LogDebug("Ignoring agent_state from non-agent %s", from.identity)
			return
		}
		rl.broadcast(from, rtc.Frame{Type: rtc.FrameAgentState, State: f.State, From: from.identity})
	case rtc.FrameTrackPublished, rtc.FrameTrackUnpublished:
		internal.Logger().Debug().Str("room", from.room).Str("identity", from.identity).
			Str("track", f.TrackID).Str("source", f.Source).Str("facing", f.Facing).Msg(f.Type)
	case rtc.FrameMicrophone:
		if f.Enabled != nil {
			internal.LogDebug("%s microphone enabled=%t", from.identity, *f.Enabled)
		}
	default:
		_ = from.send(rtc.Frame{Type: rtc.FrameError, Message: "unknown frame type " + f.Type})
	}
}

func (rl *Relay) observeControl(from *peer, payload []byte) {
	var msg struct {
		Type string `json:"type"`
		On   bool   `json:"on"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Type == "" {
		return
	}
	rl.metrics.controlEvent(msg.Type)
	if msg.Type == internal.ControlCameraState {
		internal.Logger().Info().Str("room", from.room).Str("identity", from.identity).Bool("on", msg.On).Msg("Camera state changed")
	}
}

func (rl *Relay) broadcast(from *peer, f rtc.Frame) {
	rl.mu.Lock()
	targets := make([]*peer, 0, len(rl.rooms[from.room]))
	for id, p := range rl.rooms[from.room] {
		if id != from.identity {
			targets = append(targets, p)
		}
	}
	rl.mu.Unlock()

	for _, p := range targets {
		if err := p.send(f); err != nil {
			internal.LogDebug("Relay write to %s failed: %v", p.identity, err)
		}
	}
}

func (rl *Relay) join(p *peer) {
	rl.mu.Lock()
	room, ok := rl.rooms[p.room]
	if !ok {
		room = make(map[string]*peer)
		rl.rooms[p.room] = room
	}
	old := room[p.identity]
	room[p.identity] = p
	rl.mu.Unlock()

	if old != nil {
		internal.LogDebug("Replacing existing connection for %s", p.identity)
		_ = old.conn.Close()
	}
	rl.metrics.join(p.role)
}

func (rl *Relay) leave(p *peer) {
	rl.mu.Lock()
	if room, ok := rl.rooms[p.room]; ok && room[p.identity] == p {
		delete(room, p.identity)
		if len(room) == 0 {
			delete(rl.rooms, p.room)
		}
	}
	rl.mu.Unlock()

	_ = p.conn.Close()
	rl.metrics.leave()
	internal.Logger().Info().Str("room", p.room).Str("identity", p.identity).Msg("Participant left")
}

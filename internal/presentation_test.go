package internal

import (
	"strings"
	"testing"
)

func TestDerivePresentation(t *testing.T) {
	tests := []struct {
		name          string
		conn          ConnectionState
		signals       ActivitySignals
		wantLabel     string
		wantConnected bool
	}{
		{"speaking beats everything", ConnectionConnected, ActivitySignals{Speaking: true, Listening: true, Thinking: true}, LabelSpeaking, true},
		{"listening beats thinking", ConnectionConnected, ActivitySignals{Listening: true, Thinking: true}, LabelListening, true},
		{"thinking", ConnectionConnected, ActivitySignals{Thinking: true}, LabelThinking, true},
		{"connected idle", ConnectionConnected, ActivitySignals{}, LabelReady, true},
		{"connecting", ConnectionConnecting, ActivitySignals{}, LabelConnecting, false},
		{"reconnecting", ConnectionReconnecting, ActivitySignals{}, LabelReconnecting, false},
		{"failed", ConnectionFailed, ActivitySignals{}, LabelFailed, false},
		{"disconnected", ConnectionDisconnected, ActivitySignals{}, LabelDisconnected, false},
		{"activity while reconnecting", ConnectionReconnecting, ActivitySignals{Speaking: true}, LabelSpeaking, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DerivePresentation(tt.conn, tt.signals)
			if got.Label != tt.wantLabel {
				t.Errorf("Label = %q, want %q", got.Label, tt.wantLabel)
			}
			if got.Connected != tt.wantConnected {
				t.Errorf("Connected = %v, want %v", got.Connected, tt.wantConnected)
			}
		})
	}
}

func TestSignalsFor(t *testing.T) {
	tests := []struct {
		activity AssistantActivity
		want     ActivitySignals
	}{
		{ActivitySpeaking, ActivitySignals{Speaking: true}},
		{ActivityListening, ActivitySignals{Listening: true}},
		{ActivityThinking, ActivitySignals{Thinking: true}},
		{ActivityIdle, ActivitySignals{}},
	}
	for _, tt := range tests {
		if got := SignalsFor(tt.activity); got != tt.want {
			t.Errorf("SignalsFor(%s) = %+v, want %+v", tt.activity, got, tt.want)
		}
	}
}

func TestPresentation_Render(t *testing.T) {
	out := DerivePresentation(ConnectionConnected, SignalsFor(ActivityListening)).Render()
	if !strings.Contains(out, LabelListening) {
		t.Errorf("Render() = %q, want it to contain %q", out, LabelListening)
	}
}

package rtc

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/iksnae/yeschef-session/internal"
)

func TestSimulatedDevices(t *testing.T) {
	d := NewSimulatedDevices()
	ctx := context.Background()
	opts := internal.CaptureOptions{Width: 1280, Height: 720, FrameRate: 15, FacingMode: internal.FacingEnvironment}

	first, err := d.CreateCameraTrack(ctx, opts)
	if err != nil {
		t.Fatalf("CreateCameraTrack() error = %v", err)
	}
	second, err := d.CreateCameraTrack(ctx, opts)
	if err != nil {
		t.Fatalf("CreateCameraTrack() error = %v", err)
	}
	if first.ID() == second.ID() || !strings.HasPrefix(first.ID(), "TR_") {
		t.Errorf("track ids %q and %q should be distinct TR_ ids", first.ID(), second.ID())
	}
	if first.Source() != internal.SourceCamera {
		t.Errorf("Source() = %s", first.Source())
	}
	if got := first.(*SimulatedTrack).Facing(); got != internal.FacingEnvironment {
		t.Errorf("Facing() = %s", got)
	}
	if d.Open() != 2 {
		t.Errorf("Open() = %d, want 2", d.Open())
	}

	_ = first.Stop()
	_ = first.Stop()
	if d.Open() != 1 {
		t.Errorf("Open() after double Stop = %d, want 1", d.Open())
	}
}

func TestSimulatedDevices_Failures(t *testing.T) {
	d := NewSimulatedDevices()
	d.SetFailure(internal.ErrPermissionDenied)
	if _, err := d.CreateCameraTrack(context.Background(), internal.CaptureOptions{}); !errors.Is(err, internal.ErrPermissionDenied) {
		t.Errorf("CreateCameraTrack() error = %v, want permission denied", err)
	}
	d.SetFailure(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.CreateCameraTrack(ctx, internal.CaptureOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("CreateCameraTrack() error = %v, want context.Canceled", err)
	}
	if d.Open() != 0 {
		t.Errorf("Open() = %d, want 0", d.Open())
	}
}

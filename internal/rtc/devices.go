package rtc

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/iksnae/yeschef-session/internal"
)

// SimulatedDevices stands in for a camera on terminals that have none.
type SimulatedDevices struct {
	mu   sync.Mutex
	fail error
	open int
}

func NewSimulatedDevices() *SimulatedDevices {
	return &SimulatedDevices{}
}

// SetFailure makes CreateCameraTrack return err until cleared with nil.
func (d *SimulatedDevices) SetFailure(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

func (d *SimulatedDevices) CreateCameraTrack(ctx context.Context, opts internal.CaptureOptions) (internal.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	d.open++
	internal.LogDebug("Simulated camera opened: %dx%d@%.0f %s", opts.Width, opts.Height, opts.FrameRate, opts.FacingMode)
	return &SimulatedTrack{
		id:      "TR_" + uuid.NewString()[:12],
		source:  internal.SourceCamera,
		options: opts,
		devices: d,
	}, nil
}

// Open returns the number of tracks not yet stopped.
func (d *SimulatedDevices) Open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// SimulatedTrack is a capture track with no real capturer behind it.
type SimulatedTrack struct {
	id      string
	source  internal.TrackSource
	options internal.CaptureOptions
	devices *SimulatedDevices
	stopped sync.Once
}

func (t *SimulatedTrack) ID() string                   { return t.id }
func (t *SimulatedTrack) Source() internal.TrackSource { return t.source }
func (t *SimulatedTrack) Facing() internal.FacingMode  { return t.options.FacingMode }

func (t *SimulatedTrack) Stop() error {
	t.stopped.Do(func() {
		t.devices.mu.Lock()
		t.devices.open--
		t.devices.mu.Unlock()
	})
	return nil
}

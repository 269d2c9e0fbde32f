package internal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// CaptureState is the local microphone and camera state.
type CaptureState struct {
	MicrophoneMuted bool       `json:"microphoneMuted"`
	CameraEnabled   bool       `json:"cameraEnabled"`
	FacingMode      FacingMode `json:"facingMode"`
}

// ControlPublisher sends control events to the assistant.
type ControlPublisher interface {
	Publish(ctx context.Context, event ControlEvent) bool
}

// CaptureController owns CaptureState and drives the local participant's
// microphone and camera.
type CaptureController struct {
	devices   MediaDevices
	publisher ControlPublisher
	config    CaptureConfig
	now       func() time.Time

	// flipping guards every camera sequence, not only flips.
	flipping atomic.Bool

	mu          sync.Mutex
	participant LocalParticipant
	state       CaptureState
	camera      LocalTrack
}

// NewCaptureController creates a controller with the microphone live and the camera off.
func NewCaptureController(devices MediaDevices, publisher ControlPublisher, cfg CaptureConfig) *CaptureController {
	facing := cfg.DefaultFacing
	if !facing.Valid() {
		facing = FacingEnvironment
	}
	return &CaptureController{
		devices:   devices,
		publisher: publisher,
		config:    cfg,
		now:       time.Now,
		state:     CaptureState{FacingMode: facing},
	}
}

// SetClock replaces the time source used to stamp control events.
func (c *CaptureController) SetClock(now func() time.Time) {
	c.now = now
}

// Attach binds the controller to a participant. Attaching nil forgets the
// camera track; the facing preference is kept.
func (c *CaptureController) Attach(p LocalParticipant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participant = p
	if p == nil {
		c.camera = nil
		c.state.CameraEnabled = false
	}
}

// Release stops any camera track and detaches from the participant. The next
// room joins with a live microphone, so the mute flag is reset too.
func (c *CaptureController) Release() {
	c.mu.Lock()
	track := c.camera
	c.camera = nil
	c.participant = nil
	c.state.CameraEnabled = false
	c.state.MicrophoneMuted = false
	c.mu.Unlock()

	if track != nil {
		if err := track.Stop(); err != nil {
			LogWarn("Stopping camera failed: %v", err)
		}
	}
}

// State returns a copy of the current capture state.
func (c *CaptureController) State() CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Flipping reports whether a camera sequence is running.
func (c *CaptureController) Flipping() bool {
	return c.flipping.Load()
}

// SetMicrophone mutes or unmutes. State is unchanged on failure.
func (c *CaptureController) SetMicrophone(ctx context.Context, muted bool) error {
	p := c.currentParticipant()
	if p == nil {
		return ErrNotConnected
	}
	if err := p.SetMicrophoneEnabled(ctx, !muted); err != nil {
		LogWarn("Microphone change failed: %v", err)
		return newDeviceError("microphone", "set_enabled", err)
	}
	c.mu.Lock()
	c.state.MicrophoneMuted = muted
	c.mu.Unlock()
	return nil
}

// SetCamera turns the camera on or off. A non-empty facing updates the
// preference before enabling. A failed enable leaves the camera disabled.
func (c *CaptureController) SetCamera(ctx context.Context, enabled bool, facing FacingMode) error {
	if !c.flipping.CompareAndSwap(false, true) {
		return ErrFlipInProgress
	}
	defer c.flipping.Store(false)

	p := c.currentParticipant()
	if p == nil {
		return ErrNotConnected
	}

	if !enabled {
		c.disableCamera(ctx, p)
		return nil
	}

	c.mu.Lock()
	if facing.Valid() {
		c.state.FacingMode = facing
	}
	preferred := c.state.FacingMode
	already := c.state.CameraEnabled
	c.mu.Unlock()

	if already {
		return nil
	}

	track, err := c.startCamera(ctx, p, preferred)
	if err != nil {
		c.markCameraOff()
		LogWarn("Camera enable failed: %v", err)
		return err
	}
	if err := c.adopt(ctx, p, track); err != nil {
		return err
	}

	c.broadcast(ctx, true)
	return nil
}

// FlipFacing toggles between the front and back camera. With the camera off
// only the preference changes. With it on the track is republished:
// unpublish, stop, create, publish. A failure part way leaves the camera off.
func (c *CaptureController) FlipFacing(ctx context.Context) error {
	if !c.flipping.CompareAndSwap(false, true) {
		return ErrFlipInProgress
	}
	defer c.flipping.Store(false)

	c.mu.Lock()
	next := c.state.FacingMode.Flipped()
	c.state.FacingMode = next
	enabled := c.state.CameraEnabled
	p := c.participant
	old := c.camera
	c.mu.Unlock()

	if !enabled {
		LogDebug("Camera off, facing preference now %s", next)
		return nil
	}
	if p == nil {
		return ErrNotConnected
	}

	if old == nil {
		if t, ok := p.PublishedTrack(SourceCamera); ok {
			old = t
		}
	}
	if old == nil {
		return c.failFlip(ctx, newDeviceError("camera", "flip", ErrNoCameraTrack))
	}

	if err := p.UnpublishTrack(ctx, old); err != nil {
		_ = old.Stop()
		return c.failFlip(ctx, newDeviceError("camera", "unpublish", err))
	}
	if err := old.Stop(); err != nil {
		LogWarn("Stopping old camera track failed: %v", err)
	}

	track, err := c.devices.CreateCameraTrack(ctx, c.config.CaptureOptions(next))
	if err != nil {
		return c.failFlip(ctx, newDeviceError("camera", "create", err))
	}
	if err := p.PublishTrack(ctx, track); err != nil {
		_ = track.Stop()
		return c.failFlip(ctx, newDeviceError("camera", "publish", err))
	}
	if err := c.adopt(ctx, p, track); err != nil {
		return err
	}
	LogInfo("Camera flipped to %s", next)
	return nil
}

func (c *CaptureController) failFlip(ctx context.Context, err error) error {
	LogWarn("Camera flip failed, camera turned off: %v", err)
	c.markCameraOff()
	c.broadcast(ctx, false)
	return err
}

func (c *CaptureController) startCamera(ctx context.Context, p LocalParticipant, facing FacingMode) (LocalTrack, error) {
	track, err := c.devices.CreateCameraTrack(ctx, c.config.CaptureOptions(facing))
	if err != nil {
		return nil, newDeviceError("camera", "create", err)
	}
	if err := p.PublishTrack(ctx, track); err != nil {
		_ = track.Stop()
		return nil, newDeviceError("camera", "publish", err)
	}
	return track, nil
}

func (c *CaptureController) disableCamera(ctx context.Context, p LocalParticipant) {
	c.mu.Lock()
	track := c.camera
	enabled := c.state.CameraEnabled
	c.mu.Unlock()

	if track == nil {
		if t, ok := p.PublishedTrack(SourceCamera); ok {
			track = t
		}
	}
	if track == nil && !enabled {
		return
	}
	if track != nil {
		if err := p.UnpublishTrack(ctx, track); err != nil {
			LogWarn("Unpublishing camera failed: %v", err)
		}
		if err := track.Stop(); err != nil {
			LogWarn("Stopping camera failed: %v", err)
		}
	}

	c.markCameraOff()
	c.broadcast(ctx, false)
}

// adopt records track as the live camera if p is still the attached
// participant. Otherwise the session was left while the device was opening
// and the track is withdrawn and stopped.
func (c *CaptureController) adopt(ctx context.Context, p LocalParticipant, track LocalTrack) error {
	c.mu.Lock()
	if c.participant == p {
		c.camera = track
		c.state.CameraEnabled = true
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	LogDebug("Participant left during camera start, stopping %s", track.ID())
	if err := p.UnpublishTrack(ctx, track); err != nil {
		LogWarn("Unpublishing stale camera failed: %v", err)
	}
	if err := track.Stop(); err != nil {
		LogWarn("Stopping stale camera failed: %v", err)
	}
	return ErrNotConnected
}

func (c *CaptureController) markCameraOff() {
	c.mu.Lock()
	c.camera = nil
	c.state.CameraEnabled = false
	c.mu.Unlock()
}

func (c *CaptureController) broadcast(ctx context.Context, on bool) {
	if c.publisher != nil {
		c.publisher.Publish(ctx, CameraStateEvent(on, c.now()))
	}
}

func (c *CaptureController) currentParticipant() LocalParticipant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participant
}

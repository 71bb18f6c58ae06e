package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"safewalk/models"
	"safewalk/utils"

	"github.com/sirupsen/logrus"
)

const (
	DefaultFlashlightInterval = 500 * time.Millisecond
	DefaultSirenAsset         = "siren.mp3"
	defaultDeviceTimeout      = 5 * time.Second
)

var discreetVibration = []time.Duration{200 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}

// AudioCapture is the microphone. Start begins capture into the named
// artifact and returns a stream handle.
type AudioCapture interface {
	Start(ctx context.Context, artifactName string) (string, error)
	Stop(ctx context.Context, handle string) (string, error)
}

// Torch returns utils.ErrHardwareUnsupported when the device has no torch.
type Torch interface {
	SetState(ctx context.Context, on bool) error
}

type AudioOutput interface {
	PlayAsset(ctx context.Context, assetID string) (string, error)
	SynthesizeTone(ctx context.Context, pattern models.TonePattern) (string, error)
	Stop(ctx context.Context, handle string) error
}

type Vibrator interface {
	Vibrate(ctx context.Context, pattern []time.Duration) error
}

// DeviceSet is the hardware one user's coordinator drives. Nil members are
// treated as unsupported.
type DeviceSet struct {
	Capture  AudioCapture
	Torch    Torch
	Audio    AudioOutput
	Vibrator Vibrator
}

type EffectsConfig struct {
	FlashlightInterval time.Duration
	SirenAsset         string
	SirenTone          models.TonePattern
	DeviceTimeout      time.Duration
}

func (c EffectsConfig) withDefaults() EffectsConfig {
	if c.FlashlightInterval <= 0 {
		c.FlashlightInterval = DefaultFlashlightInterval
	}
	if c.SirenAsset == "" {
		c.SirenAsset = DefaultSirenAsset
	}
	if c.SirenTone == (models.TonePattern{}) {
		c.SirenTone = models.DefaultSirenTone
	}
	if c.DeviceTimeout <= 0 {
		c.DeviceTimeout = defaultDeviceTimeout
	}
	return c
}

// SideEffectCoordinator owns the recording, flashlight and siren of one
// user. Each effect has its own lock and handle so the three never contend.
type SideEffectCoordinator struct {
	userID  string
	devices DeviceSet
	cfg     EffectsConfig

	capsMu   sync.RWMutex
	caps     models.DeviceCapabilities
	detected bool

	recMu     sync.Mutex
	recHandle string

	flashMu   sync.Mutex
	flashStop chan struct{}
	flashDone chan struct{}

	sirenMu       sync.Mutex
	sirenHandle   string
	sirenFallback bool
}

func NewSideEffectCoordinator(userID string, devices DeviceSet, cfg EffectsConfig) *SideEffectCoordinator {
	return &SideEffectCoordinator{
		userID:  userID,
		devices: devices,
		cfg:     cfg.withDefaults(),
		caps:    models.UnknownCapabilities(),
	}
}

// SetCapabilities stores the capability report. Only the first report is kept;
// later reports are ignored until ResetCapabilities.
func (c *SideEffectCoordinator) SetCapabilities(caps models.DeviceCapabilities) bool {
	c.capsMu.Lock()
	defer c.capsMu.Unlock()
	if c.detected {
		return false
	}
	c.caps = caps.Normalize()
	if c.caps.DetectedAt.IsZero() {
		c.caps.DetectedAt = time.Now()
	}
	c.detected = true
	return true
}

// ResetCapabilities forgets the capability report, e.g. when the user switches device.
func (c *SideEffectCoordinator) ResetCapabilities() {
	c.capsMu.Lock()
	c.caps = models.UnknownCapabilities()
	c.detected = false
	c.capsMu.Unlock()
}

func (c *SideEffectCoordinator) Capabilities() models.DeviceCapabilities {
	c.capsMu.RLock()
	defer c.capsMu.RUnlock()
	return c.caps
}

// Flags reports which effects are currently on.
func (c *SideEffectCoordinator) Flags() models.SideEffectFlags {
	c.recMu.Lock()
	recording := c.recHandle != ""
	c.recMu.Unlock()

	c.flashMu.Lock()
	flashlight := c.flashStop != nil
	c.flashMu.Unlock()

	c.sirenMu.Lock()
	siren := c.sirenHandle != ""
	c.sirenMu.Unlock()

	return models.SideEffectFlags{Recording: recording, Flashlight: flashlight, Siren: siren}
}

// ApplyMode starts the effects the alert mode calls for, concurrently.
// Loud starts all three, Discreet only a vibration cue, Silent nothing.
func (c *SideEffectCoordinator) ApplyMode(ctx context.Context, mode models.AlertMode) []models.EffectOutcome {
	switch mode {
	case models.AlertModeLoud:
		return c.runAll(ctx, c.StartRecording, c.StartFlashlight, c.StartSiren)
	case models.AlertModeDiscreet:
		return []models.EffectOutcome{c.VibrationCue(ctx)}
	default:
		return []models.EffectOutcome{}
	}
}

// StopAll stops every effect regardless of how it was started.
func (c *SideEffectCoordinator) StopAll(ctx context.Context) []models.EffectOutcome {
	return c.runAll(ctx, c.StopRecording, c.StopFlashlight, c.StopSiren)
}

func (c *SideEffectCoordinator) runAll(ctx context.Context, fns ...func(context.Context) models.EffectOutcome) []models.EffectOutcome {
	outcomes := make([]models.EffectOutcome, len(fns))
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func(i int, fn func(context.Context) models.EffectOutcome) {
			defer wg.Done()
			outcomes[i] = fn(ctx)
		}(i, fn)
	}
	wg.Wait()
	return outcomes
}

// StartEffect and StopEffect serve manual control outside the mode policy.
func (c *SideEffectCoordinator) StartEffect(ctx context.Context, effect models.EffectName) (models.EffectOutcome, error) {
	switch effect {
	case models.EffectRecording:
		return c.StartRecording(ctx), nil
	case models.EffectFlashlight:
		return c.StartFlashlight(ctx), nil
	case models.EffectSiren:
		return c.StartSiren(ctx), nil
	case models.EffectVibration:
		return c.VibrationCue(ctx), nil
	default:
		return models.EffectOutcome{}, utils.NewBadRequestError(fmt.Sprintf("unknown effect %q", effect))
	}
}

func (c *SideEffectCoordinator) StopEffect(ctx context.Context, effect models.EffectName) (models.EffectOutcome, error) {
	switch effect {
	case models.EffectRecording:
		return c.StopRecording(ctx), nil
	case models.EffectFlashlight:
		return c.StopFlashlight(ctx), nil
	case models.EffectSiren:
		return c.StopSiren(ctx), nil
	default:
		return models.EffectOutcome{}, utils.NewBadRequestError(fmt.Sprintf("unknown effect %q", effect))
	}
}

// =================== RECORDING ===================

func (c *SideEffectCoordinator) StartRecording(ctx context.Context) models.EffectOutcome {
	c.recMu.Lock()
	defer c.recMu.Unlock()

	if c.recHandle != "" {
		return outcome(models.EffectRecording, models.EffectAlreadyActive, c.recHandle)
	}
	caps := c.Capabilities()
	if c.devices.Capture == nil || caps.Microphone == models.CapabilityUnsupported {
		return outcome(models.EffectRecording, models.EffectUnsupported, "no microphone")
	}
	if caps.PermissionDenied(models.PermissionMicrophone) {
		return outcome(models.EffectRecording, models.EffectPermissionDenied, "microphone permission denied")
	}

	artifact := fmt.Sprintf("sos-%s-%s.webm", c.userID, time.Now().UTC().Format("20060102T150405Z"))
	var handle string
	err := c.deviceCall(ctx, func(ctx context.Context) error {
		var err error
		handle, err = c.devices.Capture.Start(ctx, artifact)
		return err
	})
	if err != nil {
		return c.failure(models.EffectRecording, err)
	}

	c.recHandle = handle
	if c.recHandle == "" {
		c.recHandle = artifact
	}
	c.logEffect(models.EffectRecording, models.EffectActivated)
	res := outcome(models.EffectRecording, models.EffectActivated, c.recHandle)
	res.Artifact = artifact
	return res
}

func (c *SideEffectCoordinator) StopRecording(ctx context.Context) models.EffectOutcome {
	c.recMu.Lock()
	defer c.recMu.Unlock()

	if c.recHandle == "" {
		return outcome(models.EffectRecording, models.EffectNotActive, "")
	}

	handle := c.recHandle
	c.recHandle = ""

	var artifact string
	err := c.deviceCall(ctx, func(ctx context.Context) error {
		var err error
		artifact, err = c.devices.Capture.Stop(ctx, handle)
		return err
	})
	if err != nil {
		return c.failure(models.EffectRecording, err)
	}
	c.logEffect(models.EffectRecording, models.EffectStopped)
	res := outcome(models.EffectRecording, models.EffectStopped, "")
	res.Artifact = artifact
	return res
}

// =================== FLASHLIGHT ===================

func (c *SideEffectCoordinator) StartFlashlight(ctx context.Context) models.EffectOutcome {
	c.flashMu.Lock()
	defer c.flashMu.Unlock()

	if c.flashStop != nil {
		return outcome(models.EffectFlashlight, models.EffectAlreadyActive, "")
	}
	caps := c.Capabilities()
	if c.devices.Torch == nil || caps.Torch == models.CapabilityUnsupported {
		return outcome(models.EffectFlashlight, models.EffectUnsupported, "no torch")
	}
	if caps.PermissionDenied(models.PermissionCamera) {
		return outcome(models.EffectFlashlight, models.EffectPermissionDenied, "camera permission denied")
	}

	err := c.deviceCall(ctx, func(ctx context.Context) error {
		return c.devices.Torch.SetState(ctx, true)
	})
	if err != nil {
		return c.failure(models.EffectFlashlight, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	c.flashStop = stop
	c.flashDone = done
	go c.flashLoop(stop, done)

	c.logEffect(models.EffectFlashlight, models.EffectActivated)
	return outcome(models.EffectFlashlight, models.EffectActivated, "")
}

// flashLoop toggles the torch until stop is closed, then leaves it off.
func (c *SideEffectCoordinator) flashLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.FlashlightInterval)
	defer ticker.Stop()

	on := true
	for {
		select {
		case <-stop:
			if err := c.deviceCall(context.Background(), func(ctx context.Context) error {
				return c.devices.Torch.SetState(ctx, false)
			}); err != nil {
				logrus.WithField("userId", c.userID).Warnf("Failed to switch torch off: %v", err)
			}
			return
		case <-ticker.C:
			on = !on
			state := on
			if err := c.deviceCall(context.Background(), func(ctx context.Context) error {
				return c.devices.Torch.SetState(ctx, state)
			}); err != nil {
				logrus.WithField("userId", c.userID).Debugf("Torch toggle failed: %v", err)
			}
		}
	}
}

func (c *SideEffectCoordinator) StopFlashlight(ctx context.Context) models.EffectOutcome {
	c.flashMu.Lock()
	defer c.flashMu.Unlock()

	if c.flashStop == nil {
		return outcome(models.EffectFlashlight, models.EffectNotActive, "")
	}

	close(c.flashStop)
	done := c.flashDone
	c.flashStop = nil
	c.flashDone = nil

	select {
	case <-done:
	case <-ctx.Done():
		// the loop still exits on its own once its last device call returns
	}

	c.logEffect(models.EffectFlashlight, models.EffectStopped)
	return outcome(models.EffectFlashlight, models.EffectStopped, "")
}

// =================== SIREN ===================

func (c *SideEffectCoordinator) StartSiren(ctx context.Context) models.EffectOutcome {
	c.sirenMu.Lock()
	defer c.sirenMu.Unlock()

	if c.sirenHandle != "" {
		res := outcome(models.EffectSiren, models.EffectAlreadyActive, c.sirenHandle)
		res.Fallback = c.sirenFallback
		return res
	}
	if c.devices.Audio == nil || c.Capabilities().Audio == models.CapabilityUnsupported {
		return outcome(models.EffectSiren, models.EffectUnsupported, "no audio output")
	}

	var handle string
	playErr := c.deviceCall(ctx, func(ctx context.Context) error {
		var err error
		handle, err = c.devices.Audio.PlayAsset(ctx, c.cfg.SirenAsset)
		return err
	})
	if playErr == nil {
		c.sirenHandle = nonEmpty(handle, c.cfg.SirenAsset)
		c.sirenFallback = false
		c.logEffect(models.EffectSiren, models.EffectActivated)
		return outcome(models.EffectSiren, models.EffectActivated, c.sirenHandle)
	}

	logrus.WithField("userId", c.userID).Warnf("Siren asset failed, falling back to tone: %v", playErr)

	toneErr := c.deviceCall(ctx, func(ctx context.Context) error {
		var err error
		handle, err = c.devices.Audio.SynthesizeTone(ctx, c.cfg.SirenTone)
		return err
	})
	if toneErr != nil {
		return c.failure(models.EffectSiren, fmt.Errorf("asset: %v; tone: %w", playErr, toneErr))
	}

	c.sirenHandle = nonEmpty(handle, "tone")
	c.sirenFallback = true
	c.logEffect(models.EffectSiren, models.EffectActivated)
	res := outcome(models.EffectSiren, models.EffectActivated, c.sirenHandle)
	res.Fallback = true
	return res
}

func (c *SideEffectCoordinator) StopSiren(ctx context.Context) models.EffectOutcome {
	c.sirenMu.Lock()
	defer c.sirenMu.Unlock()

	if c.sirenHandle == "" {
		return outcome(models.EffectSiren, models.EffectNotActive, "")
	}

	handle := c.sirenHandle
	c.sirenHandle = ""
	c.sirenFallback = false

	err := c.deviceCall(ctx, func(ctx context.Context) error {
		return c.devices.Audio.Stop(ctx, handle)
	})
	if err != nil {
		return c.failure(models.EffectSiren, err)
	}
	c.logEffect(models.EffectSiren, models.EffectStopped)
	return outcome(models.EffectSiren, models.EffectStopped, "")
}

// =================== VIBRATION ===================

// VibrationCue is a one-shot silent cue; there is nothing to stop.
func (c *SideEffectCoordinator) VibrationCue(ctx context.Context) models.EffectOutcome {
	if c.devices.Vibrator == nil || c.Capabilities().Vibration == models.CapabilityUnsupported {
		return outcome(models.EffectVibration, models.EffectUnsupported, "no vibration motor")
	}
	err := c.deviceCall(ctx, func(ctx context.Context) error {
		return c.devices.Vibrator.Vibrate(ctx, discreetVibration)
	})
	if err != nil {
		return c.failure(models.EffectVibration, err)
	}
	return outcome(models.EffectVibration, models.EffectActivated, "")
}

// =================== HELPERS ===================

// deviceCall bounds a device call and turns a panic into an error.
func (c *SideEffectCoordinator) deviceCall(ctx context.Context, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DeviceTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = &utils.PanicError{Value: r}
		}
	}()
	return fn(ctx)
}

func (c *SideEffectCoordinator) failure(effect models.EffectName, err error) models.EffectOutcome {
	status := models.EffectFailed
	switch {
	case errors.Is(err, utils.ErrHardwareUnsupported):
		status = models.EffectUnsupported
	case errors.Is(err, utils.ErrPermissionDenied):
		status = models.EffectPermissionDenied
	}
	c.logEffect(effect, status)
	return outcome(effect, status, err.Error())
}

func (c *SideEffectCoordinator) logEffect(effect models.EffectName, status models.EffectStatus) {
	entry := logrus.WithFields(logrus.Fields{
		"userId": c.userID,
		"effect": effect,
		"status": status,
	})
	if status == models.EffectFailed {
		entry.Warn("Side effect failed")
		return
	}
	entry.Debug("Side effect updated")
}

func outcome(effect models.EffectName, status models.EffectStatus, detail string) models.EffectOutcome {
	return models.EffectOutcome{Effect: effect, Status: status, Detail: detail}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

package websocket

import (
	"context"
	"errors"
	"time"

	"safewalk/models"
	"safewalk/utils"
)

// deviceBridge drives a user's hardware through device.command messages.
// Each call waits for the matching device.ack.
type deviceBridge struct {
	hub    *Hub
	userID string
}

func (b *deviceBridge) call(ctx context.Context, command string, params map[string]interface{}) (models.DeviceAck, error) {
	ack, err := b.hub.SendCommand(ctx, b.userID, command, params)
	if err != nil {
		return ack, err
	}
	return ack, ackError(ack)
}

// ackError maps a negative ack to the engine's error kinds.
func ackError(ack models.DeviceAck) error {
	switch {
	case ack.Unsupported:
		return utils.ErrHardwareUnsupported
	case ack.Denied:
		return utils.ErrPermissionDenied
	case !ack.OK:
		if ack.Error != "" {
			return errors.New(ack.Error)
		}
		return errors.New("device reported failure")
	}
	return nil
}

type captureBridge struct{ *deviceBridge }

func (c captureBridge) Start(ctx context.Context, artifactName string) (string, error) {
	ack, err := c.call(ctx, models.DeviceCmdRecordingStart, map[string]interface{}{"artifact": artifactName})
	if err != nil {
		return "", err
	}
	return ack.Handle, nil
}

func (c captureBridge) Stop(ctx context.Context, handle string) (string, error) {
	ack, err := c.call(ctx, models.DeviceCmdRecordingStop, map[string]interface{}{"handle": handle})
	if err != nil {
		return "", err
	}
	return ack.Artifact, nil
}

type torchBridge struct{ *deviceBridge }

func (t torchBridge) SetState(ctx context.Context, on bool) error {
	_, err := t.call(ctx, models.DeviceCmdTorchSet, map[string]interface{}{"on": on})
	return err
}

type audioBridge struct{ *deviceBridge }

func (a audioBridge) PlayAsset(ctx context.Context, assetID string) (string, error) {
	ack, err := a.call(ctx, models.DeviceCmdSirenPlay, map[string]interface{}{"asset": assetID, "loop": true})
	if err != nil {
		return "", err
	}
	return ack.Handle, nil
}

func (a audioBridge) SynthesizeTone(ctx context.Context, pattern models.TonePattern) (string, error) {
	ack, err := a.call(ctx, models.DeviceCmdSirenTone, map[string]interface{}{
		"lowHz":      pattern.LowHz,
		"highHz":     pattern.HighHz,
		"intervalMs": pattern.Interval.Milliseconds(),
	})
	if err != nil {
		return "", err
	}
	return ack.Handle, nil
}

func (a audioBridge) Stop(ctx context.Context, handle string) error {
	_, err := a.call(ctx, models.DeviceCmdSirenStop, map[string]interface{}{"handle": handle})
	return err
}

type vibratorBridge struct{ *deviceBridge }

func (v vibratorBridge) Vibrate(ctx context.Context, pattern []time.Duration) error {
	ms := make([]int64, len(pattern))
	for i, d := range pattern {
		ms[i] = d.Milliseconds()
	}
	_, err := v.call(ctx, models.DeviceCmdVibrate, map[string]interface{}{"pattern": ms})
	return err
}

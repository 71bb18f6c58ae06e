// models/device.go
package models

import "time"

// CapabilityStatus is the result of the one-time capability detection.
type CapabilityStatus string

const (
	CapabilityUnknown     CapabilityStatus = "unknown"
	CapabilitySupported   CapabilityStatus = "supported"
	CapabilityUnsupported CapabilityStatus = "unsupported"
)

// Permission names the client may report as denied
const (
	PermissionMicrophone = "microphone"
	PermissionCamera     = "camera"
	PermissionLocation   = "location"
)

// DeviceCapabilities is reported once by the client when it connects.
type DeviceCapabilities struct {
	Microphone        CapabilityStatus `json:"microphone" validate:"omitempty,oneof=supported unsupported unknown"`
	Torch             CapabilityStatus `json:"torch" validate:"omitempty,oneof=supported unsupported unknown"`
	Audio             CapabilityStatus `json:"audio" validate:"omitempty,oneof=supported unsupported unknown"`
	Vibration         CapabilityStatus `json:"vibration" validate:"omitempty,oneof=supported unsupported unknown"`
	DeniedPermissions []string         `json:"deniedPermissions,omitempty"`
	DetectedAt        time.Time        `json:"detectedAt"`
}

// UnknownCapabilities is what a coordinator assumes before any capability report.
func UnknownCapabilities() DeviceCapabilities {
	return DeviceCapabilities{
		Microphone: CapabilityUnknown,
		Torch:      CapabilityUnknown,
		Audio:      CapabilityUnknown,
		Vibration:  CapabilityUnknown,
	}
}

// Normalize replaces empty statuses with unknown.
func (c DeviceCapabilities) Normalize() DeviceCapabilities {
	for _, s := range []*CapabilityStatus{&c.Microphone, &c.Torch, &c.Audio, &c.Vibration} {
		if *s == "" {
			*s = CapabilityUnknown
		}
	}
	return c
}

func (c DeviceCapabilities) PermissionDenied(permission string) bool {
	for _, p := range c.DeniedPermissions {
		if p == permission {
			return true
		}
	}
	return false
}

// Device bridge commands sent to the client
const (
	DeviceCmdTorchSet       = "torch.set"
	DeviceCmdRecordingStart = "recording.start"
	DeviceCmdRecordingStop  = "recording.stop"
	DeviceCmdSirenPlay      = "siren.play"
	DeviceCmdSirenTone      = "siren.tone"
	DeviceCmdSirenStop      = "siren.stop"
	DeviceCmdVibrate        = "vibrate"
)

// DeviceCommand is sent to the client inside a device.command message.
type DeviceCommand struct {
	RequestID string                 `json:"requestId"`
	Command   string                 `json:"command"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

// DeviceAck is the client's reply to a DeviceCommand.
type DeviceAck struct {
	RequestID   string `json:"requestId"`
	OK          bool   `json:"ok"`
	Unsupported bool   `json:"unsupported,omitempty"`
	Denied      bool   `json:"denied,omitempty"`
	Error       string `json:"error,omitempty"`
	Handle      string `json:"handle,omitempty"`
	Artifact    string `json:"artifact,omitempty"`
}

// TonePattern describes an alternating two-tone siren.
type TonePattern struct {
	LowHz    float64       `json:"lowHz"`
	HighHz   float64       `json:"highHz"`
	Interval time.Duration `json:"interval"`
}

// DefaultSirenTone alternates 600/1200 Hz every half second.
var DefaultSirenTone = TonePattern{LowHz: 600, HighHz: 1200, Interval: 500 * time.Millisecond}

// models/alert.go
package models

import (
	"time"
)

type SessionState string

const (
	SessionStateIdle      SessionState = "idle"
	SessionStateCountdown SessionState = "countdown"
	SessionStateExecuting SessionState = "executing"
	SessionStateCompleted SessionState = "completed"
	SessionStateCancelled SessionState = "cancelled"
	SessionStateError     SessionState = "error"
)

// IsActive reports whether the session still holds the user's single slot.
func (s SessionState) IsActive() bool {
	return s == SessionStateCountdown || s == SessionStateExecuting
}

// IsTerminal reports whether the session has ended.
func (s SessionState) IsTerminal() bool {
	return s == SessionStateCompleted || s == SessionStateCancelled || s == SessionStateError
}

type AlertMode string

const (
	AlertModeSilent   AlertMode = "silent"
	AlertModeDiscreet AlertMode = "discreet"
	AlertModeLoud     AlertMode = "loud"
)

type AlertSeverity string

const (
	SeverityLow    AlertSeverity = "low"
	SeverityMedium AlertSeverity = "medium"
	SeverityHigh   AlertSeverity = "high"
)

// Channel types
const (
	ChannelTypeSMS            = "sms"
	ChannelTypeCall           = "call"
	ChannelTypePush           = "push"
	ChannelTypeTelegram       = "telegram"
	ChannelTypeSlack          = "slack"
	ChannelTypeDiscord        = "discord"
	ChannelTypeDispatchCenter = "dispatch_center"
	ChannelTypeManualCopy     = "manual_copy"
)

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// ChannelResult is the outcome of one configured channel for one session.
type ChannelResult struct {
	ChannelType string            `json:"channelType" bson:"channelType"`
	Target      string            `json:"target" bson:"target"`
	Status      DeliveryStatus    `json:"status" bson:"status"`
	Timestamp   time.Time         `json:"timestamp" bson:"timestamp"`
	ErrorReason string            `json:"errorReason,omitempty" bson:"errorReason,omitempty"`
	Deliveries  []DeliveryAttempt `json:"deliveries,omitempty" bson:"deliveries,omitempty"`
}

// DeliveryAttempt is one channel call for one target.
type DeliveryAttempt struct {
	Target      string         `json:"target" bson:"target"`
	Status      DeliveryStatus `json:"status" bson:"status"`
	Duration    time.Duration  `json:"duration" bson:"duration"`
	ErrorReason string         `json:"errorReason,omitempty" bson:"errorReason,omitempty"`
}

// ManualAction is the always-available fallback the UI surfaces next to the
// automated outcomes: a copy-ready message and numbers to dial by hand.
type ManualAction struct {
	CopyText    string   `json:"copyText" bson:"copyText"`
	DialNumbers []string `json:"dialNumbers" bson:"dialNumbers"`
	DialLinks   []string `json:"dialLinks" bson:"dialLinks"`
	Required    bool     `json:"required" bson:"required"`
}

// DispatchResult keeps the per-channel breakdown; Success is derived from it.
type DispatchResult struct {
	Results  []ChannelResult `json:"results" bson:"results"`
	Success  bool            `json:"success" bson:"success"`
	Fallback ManualAction    `json:"fallback" bson:"fallback"`
}

type SideEffectFlags struct {
	Recording  bool `json:"recording" bson:"recording"`
	Flashlight bool `json:"flashlight" bson:"flashlight"`
	Siren      bool `json:"siren" bson:"siren"`
}

type EffectName string

const (
	EffectRecording  EffectName = "recording"
	EffectFlashlight EffectName = "flashlight"
	EffectSiren      EffectName = "siren"
	EffectVibration  EffectName = "vibration"
)

type EffectStatus string

const (
	EffectActivated        EffectStatus = "activated"
	EffectAlreadyActive    EffectStatus = "already_active"
	EffectStopped          EffectStatus = "stopped"
	EffectNotActive        EffectStatus = "not_active"
	EffectUnsupported      EffectStatus = "unsupported"
	EffectPermissionDenied EffectStatus = "permission_denied"
	EffectFailed           EffectStatus = "failed"
)

// EffectOutcome is the itemized result of starting or stopping one effect.
type EffectOutcome struct {
	Effect   EffectName   `json:"effect" bson:"effect"`
	Status   EffectStatus `json:"status" bson:"status"`
	Detail   string       `json:"detail,omitempty" bson:"detail,omitempty"`
	Artifact string       `json:"artifact,omitempty" bson:"artifact,omitempty"`
	Fallback bool         `json:"fallback,omitempty" bson:"fallback,omitempty"`
}

// AlertSession is one trigger attempt from press to completion or
// cancellation. It is owned by a single trigger controller.
type AlertSession struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"userId"`
	CreatedAt          time.Time       `json:"createdAt"`
	State              SessionState    `json:"state"`
	CountdownRemaining int             `json:"countdownRemaining"`
	Mode               AlertMode       `json:"mode"`
	Severity           AlertSeverity   `json:"severity"`
	PresetID           string          `json:"presetId,omitempty"`
	CustomMessage      string          `json:"customMessage,omitempty"`
	MessageBody        string          `json:"messageBody,omitempty"`
	LocationSnapshot   *LocationSample `json:"locationSnapshot,omitempty"`
	ChannelResults     []ChannelResult `json:"channelResults,omitempty"`
	Dispatch           *DispatchResult `json:"dispatch,omitempty"`
	SideEffects        SideEffectFlags `json:"sideEffects"`
	EffectOutcomes     []EffectOutcome `json:"effectOutcomes,omitempty"`
	Warnings           []string        `json:"warnings,omitempty"`
	ErrorReason        string          `json:"errorReason,omitempty"`
	ExecutedAt         *time.Time      `json:"executedAt,omitempty"`
	EndedAt            *time.Time      `json:"endedAt,omitempty"`
}

// Clone returns a deep copy safe to hand outside the controller.
func (s *AlertSession) Clone() AlertSession {
	c := *s
	if s.LocationSnapshot != nil {
		loc := *s.LocationSnapshot
		c.LocationSnapshot = &loc
	}
	if s.ChannelResults != nil {
		c.ChannelResults = append([]ChannelResult(nil), s.ChannelResults...)
	}
	if s.Dispatch != nil {
		d := *s.Dispatch
		d.Results = append([]ChannelResult(nil), s.Dispatch.Results...)
		c.Dispatch = &d
	}
	if s.EffectOutcomes != nil {
		c.EffectOutcomes = append([]EffectOutcome(nil), s.EffectOutcomes...)
	}
	if s.Warnings != nil {
		c.Warnings = append([]string(nil), s.Warnings...)
	}
	return c
}

// HistoryRecord is the immutable persisted projection of a completed session.
type HistoryRecord struct {
	ID             string          `json:"id" bson:"_id"`
	SessionID      string          `json:"sessionId" bson:"sessionId"`
	UserID         string          `json:"userId" bson:"userId"`
	Message        string          `json:"message" bson:"message"`
	Mode           AlertMode       `json:"mode" bson:"mode"`
	Severity       AlertSeverity   `json:"severity" bson:"severity"`
	Location       *LocationSample `json:"location,omitempty" bson:"location,omitempty"`
	Contacted      []string        `json:"contacted" bson:"contacted"`
	ChannelResults []ChannelResult `json:"channelResults" bson:"channelResults"`
	Success        bool            `json:"success" bson:"success"`
	SideEffects    SideEffectFlags `json:"sideEffects" bson:"sideEffects"`
	TriggeredAt    time.Time       `json:"triggeredAt" bson:"triggeredAt"`
	ExecutedAt     time.Time       `json:"executedAt" bson:"executedAt"`
	CompletedAt    time.Time       `json:"completedAt" bson:"completedAt"`
}

// Contact is read-only to the engine; it is maintained by the settings side.
type Contact struct {
	ID             string `json:"id" bson:"_id,omitempty"`
	UserID         string `json:"userId" bson:"userId"`
	Name           string `json:"name" bson:"name"`
	Phone          string `json:"phone,omitempty" bson:"phone,omitempty"`
	TelegramChatID string `json:"telegramChatId,omitempty" bson:"telegramChatId,omitempty"`
	PushToken      string `json:"pushToken,omitempty" bson:"pushToken,omitempty"`
	Priority       int    `json:"priority" bson:"priority"`
}

// AlertMessage is what the dispatcher hands to every channel.
type AlertMessage struct {
	SessionID string          `json:"sessionId"`
	UserID    string          `json:"userId"`
	Body      string          `json:"body"`
	Severity  AlertSeverity   `json:"severity"`
	Location  *LocationSample `json:"location,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Request models
type TriggerSOSRequest struct {
	Mode             AlertMode     `json:"mode" validate:"omitempty,oneof=silent discreet loud"`
	Severity         AlertSeverity `json:"severity" validate:"omitempty,oneof=low medium high"`
	PresetID         string        `json:"presetId,omitempty" validate:"omitempty,preset_id"`
	CustomMessage    string        `json:"customMessage,omitempty" validate:"omitempty,max=500"`
	CountdownSeconds *int          `json:"countdownSeconds,omitempty" validate:"omitempty,gte=0,lte=60"`
}

// EffectPath binds the :effect route parameter.
type EffectPath struct {
	Effect string `uri:"effect" json:"effect" validate:"required,effect_name"`
}

type HistoryQuery struct {
	Limit int `form:"limit" validate:"omitempty,min=1,max=100"`
}

// Response models
type SOSStatusResponse struct {
	Active  bool            `json:"active"`
	Session *AlertSession   `json:"session,omitempty"`
	Latest  *LocationSample `json:"latestLocation,omitempty"`
}

type SOSPresetsResponse struct {
	Default string            `json:"default"`
	Presets map[string]string `json:"presets"`
}

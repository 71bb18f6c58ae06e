package services

import (
	"fmt"
	"strings"
	"time"

	"safewalk/models"
	"safewalk/utils"
)

const DefaultAlertMessage = "EMERGENCY: I need help."

const locationUnknownLine = "Location: unable to determine"

// MessageTemplates holds the configured default body and named presets.
type MessageTemplates struct {
	Default string
	Presets map[string]string
}

// TriggerOptions is what the user picked when pressing SOS.
type TriggerOptions struct {
	Mode             models.AlertMode
	Severity         models.AlertSeverity
	PresetID         string
	CustomMessage    string
	CountdownSeconds *int
}

func TriggerOptionsFromRequest(req models.TriggerSOSRequest) TriggerOptions {
	return TriggerOptions{
		Mode:             req.Mode,
		Severity:         req.Severity,
		PresetID:         req.PresetID,
		CustomMessage:    strings.TrimSpace(utils.SanitizeInput(req.CustomMessage)),
		CountdownSeconds: req.CountdownSeconds,
	}
}

// withDefaults fills mode and severity when the caller left them empty.
func (o TriggerOptions) withDefaults() TriggerOptions {
	if o.Mode == "" {
		o.Mode = models.AlertModeLoud
	}
	if o.Severity == "" {
		o.Severity = models.SeverityHigh
	}
	return o
}

// CheckPreset rejects an unknown preset before a countdown starts.
func (t MessageTemplates) CheckPreset(presetID string) error {
	if presetID == "" {
		return nil
	}
	if _, ok := t.Presets[presetID]; !ok {
		return utils.ErrUnknownPreset
	}
	return nil
}

// Compose builds the alert body: severity prefix, then the custom message,
// the preset or the default, then the location line.
func (t MessageTemplates) Compose(opts TriggerOptions, loc *models.LocationSample) (string, error) {
	body := strings.TrimSpace(opts.CustomMessage)
	if body == "" && opts.PresetID != "" {
		preset, ok := t.Presets[opts.PresetID]
		if !ok {
			return "", fmt.Errorf("compose message: preset %q: %w", opts.PresetID, utils.ErrUnknownPreset)
		}
		body = preset
	}
	if body == "" {
		body = t.Default
	}
	if body == "" {
		body = DefaultAlertMessage
	}

	var sb strings.Builder
	if prefix := severityPrefix(opts.Severity); prefix != "" {
		sb.WriteString(prefix)
		sb.WriteString(" ")
	}
	sb.WriteString(body)
	sb.WriteString("\n")
	sb.WriteString(LocationLine(loc))
	return sb.String(), nil
}

func severityPrefix(severity models.AlertSeverity) string {
	switch severity {
	case models.SeverityHigh:
		return "[URGENT]"
	case models.SeverityMedium:
		return "[ALERT]"
	default:
		return ""
	}
}

// LocationLine renders a fix for humans, with a map link. A missing fix is
// stated explicitly rather than omitted.
func LocationLine(loc *models.LocationSample) string {
	if loc == nil {
		return locationUnknownLine
	}
	return fmt.Sprintf("Location: %.6f,%.6f (±%.0fm, %s, %s) https://maps.google.com/?q=%.6f,%.6f",
		loc.Latitude, loc.Longitude,
		loc.AccuracyMeters, loc.Tier(), loc.Timestamp.UTC().Format(time.RFC3339),
		loc.Latitude, loc.Longitude,
	)
}

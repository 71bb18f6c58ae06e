// models/location.go
package models

import (
	"time"
)

// LocationSample is a single fix reported by a location source. Samples are
// never mutated after they are published.
type LocationSample struct {
	Latitude       float64   `json:"latitude" bson:"latitude" validate:"latitude"`
	Longitude      float64   `json:"longitude" bson:"longitude" validate:"longitude"`
	AccuracyMeters float64   `json:"accuracyMeters" bson:"accuracyMeters" validate:"gte=0"`
	Timestamp      time.Time `json:"timestamp" bson:"timestamp"`
	Speed          *float64  `json:"speed,omitempty" bson:"speed,omitempty"`
	Heading        *float64  `json:"heading,omitempty" bson:"heading,omitempty"`
}

type AccuracyTier string

const (
	AccuracyExcellent AccuracyTier = "excellent"
	AccuracyGood      AccuracyTier = "good"
	AccuracyPoor      AccuracyTier = "poor"
)

const (
	excellentAccuracyMeters = 10.0
	goodAccuracyMeters      = 50.0
)

// ClassifyAccuracy maps a fix's accuracy radius to a display tier.
func ClassifyAccuracy(accuracyMeters float64) AccuracyTier {
	switch {
	case accuracyMeters <= excellentAccuracyMeters:
		return AccuracyExcellent
	case accuracyMeters <= goodAccuracyMeters:
		return AccuracyGood
	default:
		return AccuracyPoor
	}
}

// Tier returns the accuracy tier of the sample.
func (s LocationSample) Tier() AccuracyTier {
	return ClassifyAccuracy(s.AccuracyMeters)
}

// Location error codes reported by sources
const (
	LocationErrPermissionDenied    = "permission_denied"
	LocationErrPositionUnavailable = "position_unavailable"
	LocationErrTimeout             = "timeout"
)

// LocationStatus is what the UI polls to decide which remediation to show.
type LocationStatus struct {
	Latest      *LocationSample `json:"latest,omitempty"`
	Tier        AccuracyTier    `json:"tier,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
	ErrorAt     *time.Time      `json:"errorAt,omitempty"`
	TrailSize   int             `json:"trailSize"`
	TrailMeters float64         `json:"trailMeters"` // path length of the trail
}

// Request models
type LocationSampleRequest struct {
	Latitude       float64    `json:"latitude" validate:"latitude"`
	Longitude      float64    `json:"longitude" validate:"longitude"`
	AccuracyMeters float64    `json:"accuracyMeters" validate:"gte=0"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	Speed          *float64   `json:"speed,omitempty" validate:"omitempty,gte=0"`
	Heading        *float64   `json:"heading,omitempty" validate:"omitempty,gte=0,lt=360"`
	Error          string     `json:"error,omitempty" validate:"omitempty,oneof=permission_denied position_unavailable timeout"`
}

// ToSample converts a request to a sample, stamping it with now when the
// client omitted a timestamp.
func (r LocationSampleRequest) ToSample(now time.Time) LocationSample {
	ts := now
	if r.Timestamp != nil && !r.Timestamp.IsZero() {
		ts = *r.Timestamp
	}
	return LocationSample{
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		AccuracyMeters: r.AccuracyMeters,
		Timestamp:      ts,
		Speed:          r.Speed,
		Heading:        r.Heading,
	}
}

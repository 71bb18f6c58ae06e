package websocket

import (
	"encoding/json"
	"errors"
	"time"

	"safewalk/models"
	"safewalk/utils"
)

var validation = utils.NewValidationService()

// decodeLocationSample validates a location.sample payload and converts it.
// A client that omits the timestamp gets now.
func decodeLocationSample(data map[string]interface{}, now time.Time) (models.LocationSample, error) {
	var req models.LocationSampleRequest
	if err := unmarshalMapToStruct(data, &req); err != nil {
		return models.LocationSample{}, errors.New("invalid location data")
	}
	if _, hasLat := data["latitude"]; !hasLat {
		return models.LocationSample{}, errors.New("latitude is required")
	}
	if _, hasLng := data["longitude"]; !hasLng {
		return models.LocationSample{}, errors.New("longitude is required")
	}
	if errs := validation.ValidateStruct(req); len(errs) > 0 {
		return models.LocationSample{}, errors.New(utils.ValidationSummary(errs))
	}
	return req.ToSample(now), nil
}

func decodeCapabilities(data map[string]interface{}) (models.DeviceCapabilities, error) {
	var caps models.DeviceCapabilities
	if err := unmarshalMapToStruct(data, &caps); err != nil {
		return caps, err
	}
	if errs := validation.ValidateStruct(caps); len(errs) > 0 {
		return caps, errors.New(utils.ValidationSummary(errs))
	}
	if caps.DetectedAt.IsZero() {
		caps.DetectedAt = time.Now()
	}
	return caps.Normalize(), nil
}

// Utility functions
func unmarshalMapToStruct(data map[string]interface{}, target interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, target)
}

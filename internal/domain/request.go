package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AlertRequest is normalized inbound alert from the monitoring platform.
// Params: event timestamp, classification, driver/vehicle identity, and metadata.
// Returns: validated creation payload for the ingestion boundary.
type AlertRequest struct {
	DT         int64          `json:"dt"`
	SourceType SourceType     `json:"source_type"`
	Severity   Severity       `json:"severity"`
	DriverID   string         `json:"driver_id"`
	VehicleID  string         `json:"vehicle_id"`
	Metadata   map[string]any `json:"metadata"`
}

// EventTime converts milliseconds unix timestamp into UTC time.
// Params: request timestamp in unix milliseconds.
// Returns: converted UTC time, zero when dt is unset.
func (r AlertRequest) EventTime() time.Time {
	if r.DT == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.DT).UTC()
}

// DecodeAlertRequest decodes and validates one alert payload.
// Params: JSON document bytes.
// Returns: validated request or decode/validation error.
func DecodeAlertRequest(raw []byte) (AlertRequest, error) {
	var request AlertRequest
	if err := json.Unmarshal(raw, &request); err != nil {
		return AlertRequest{}, fmt.Errorf("decode alert request: %w", err)
	}
	if err := request.Validate(); err != nil {
		return AlertRequest{}, err
	}
	return request, nil
}

// DecodeAlertRequests decodes and validates one batch of alert payloads.
// Params: reader with one JSON array of requests.
// Returns: validated requests slice or decode/validation error.
func DecodeAlertRequests(reader *json.Decoder) ([]AlertRequest, error) {
	var requests []AlertRequest
	if err := reader.Decode(&requests); err != nil {
		return nil, fmt.Errorf("decode alert batch: %w", err)
	}
	if len(requests) == 0 {
		return nil, errors.New("alert batch must contain at least one request")
	}
	for i := range requests {
		if err := requests[i].Validate(); err != nil {
			return nil, fmt.Errorf("alert[%d]: %w", i, err)
		}
	}
	return requests, nil
}

// Validate validates one alert request against the contract.
// Params: request fields parsed from transport.
// Returns: validation error when schema is violated.
func (r AlertRequest) Validate() error {
	if r.DT < 0 {
		return errors.New("dt must be >=0")
	}
	if !r.SourceType.Valid() {
		return fmt.Errorf("unsupported source_type %q", r.SourceType)
	}
	if r.Severity != "" && !r.Severity.Valid() {
		return fmt.Errorf("unsupported severity %q", r.Severity)
	}
	if strings.TrimSpace(r.DriverID) == "" {
		return errors.New("driver_id is required")
	}
	return nil
}

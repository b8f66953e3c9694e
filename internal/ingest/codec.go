package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"fleetwatch/internal/domain"
)

// AlertSink receives validated alert requests from ingest interfaces.
// Params: context and validated creation payload.
// Returns: created alert or processing error.
type AlertSink interface {
	CreateAlert(ctx context.Context, request domain.AlertRequest) (domain.Alert, error)
}

// decodeAlertPayload auto-detects batch vs single payload.
// Params: raw JSON bytes with one object or array.
// Returns: validated request slice owned by the caller.
func decodeAlertPayload(raw []byte) ([]domain.AlertRequest, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	if payload[0] == '[' {
		decoder := json.NewDecoder(bytes.NewReader(payload))
		requests, err := domain.DecodeAlertRequests(decoder)
		if err != nil {
			return nil, err
		}
		if err := ensureJSONEOF(decoder); err != nil {
			return nil, err
		}
		return requests, nil
	}
	request, err := domain.DecodeAlertRequest(payload)
	if err != nil {
		return nil, err
	}
	return []domain.AlertRequest{request}, nil
}

// ensureJSONEOF rejects trailing tokens after a decoded JSON payload.
// Params: decoder positioned after primary decode.
// Returns: nil on EOF or error on trailing tokens.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode trailing json: %w", err)
	}
	return errors.New("unexpected trailing json tokens")
}

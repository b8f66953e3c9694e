package ingest

import (
	"encoding/json"
	"io"
	"net/http"

	"fleetwatch/internal/metrics"
)

// HTTPHandler decodes JSON alert payloads and forwards them to sink.
// Params: sink receives validated requests, max body limits payload size.
// Returns: HTTP handler for the alert ingest endpoint.
type HTTPHandler struct {
	sink        AlertSink
	maxBodySize int64
}

// NewHTTPHandler creates the alert ingest HTTP handler.
// Params: sink and max request body size in bytes.
// Returns: configured handler.
func NewHTTPHandler(sink AlertSink, maxBodySize int64) *HTTPHandler {
	return &HTTPHandler{sink: sink, maxBodySize: maxBodySize}
}

type ingestResponse struct {
	Accepted int      `json:"accepted"`
	AlertIDs []string `json:"alert_ids"`
}

// ServeHTTP handles one incoming alert request, single or batch.
// Params: HTTP request/response writer pair.
// Returns: 202 with created alert ids, 400 on malformed payloads, or
// 503 when the sink cannot persist.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	requests, err := decodeAlertPayload(body)
	if err != nil {
		metrics.IngestAlertsTotal.WithLabelValues("unknown", "rejected").Inc()
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(writer).Encode(map[string]string{"error": err.Error()})
		return
	}

	response := ingestResponse{AlertIDs: make([]string, 0, len(requests))}
	for _, req := range requests {
		alert, err := h.sink.CreateAlert(request.Context(), req)
		if err != nil {
			metrics.IngestAlertsTotal.WithLabelValues(string(req.SourceType), "failed").Inc()
			writer.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		metrics.IngestAlertsTotal.WithLabelValues(string(req.SourceType), "accepted").Inc()
		response.Accepted++
		response.AlertIDs = append(response.AlertIDs, alert.ID)
	}

	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(writer).Encode(response)
}

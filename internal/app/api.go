package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"fleetwatch/internal/domain"
	"fleetwatch/internal/scheduler"
	"fleetwatch/internal/store"
)

const maxOperatorBodyBytes = 1 << 20

func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}

func writeError(writer http.ResponseWriter, status int, err error) {
	writeJSON(writer, status, map[string]string{"error": err.Error()})
}

func decodeBody(writer http.ResponseWriter, request *http.Request, target any) bool {
	request.Body = http.MaxBytesReader(writer, request.Body, maxOperatorBodyBytes)
	defer request.Body.Close()
	if err := json.NewDecoder(request.Body).Decode(target); err != nil {
		writeError(writer, http.StatusBadRequest, err)
		return false
	}
	return true
}

// handleListActive serves active alerts filtered by query parameters.
// Params: optional status/source_type/driver_id/limit query parameters.
// Returns: 200 with the alert list or 500 on store failure.
func (s *Service) handleListActive(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	query := store.AlertQuery{
		Statuses:    []domain.AlertStatus{domain.AlertStatusOpen, domain.AlertStatusEscalated},
		OldestFirst: true,
	}
	params := request.URL.Query()
	if status := params.Get("status"); status != "" {
		query.Statuses = []domain.AlertStatus{domain.AlertStatus(status)}
	}
	query.SourceType = domain.SourceType(params.Get("source_type"))
	query.DriverID = params.Get("driver_id")

	alerts, err := s.manager.ListActiveAlerts(request.Context(), query)
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	writeJSON(writer, http.StatusOK, alerts)
}

type resolveRequest struct {
	AlertID string `json:"alert_id"`
	UserID  string `json:"user_id"`
	Notes   string `json:"notes"`
}

// handleResolve applies a manual resolution from an operator.
// Params: JSON body with alert_id, user_id, and notes.
// Returns: 200 with the resolved alert, 404 for unknown ids.
func (s *Service) handleResolve(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body resolveRequest
	if !decodeBody(writer, request, &body) {
		return
	}
	if body.AlertID == "" || body.UserID == "" {
		writeError(writer, http.StatusBadRequest, errors.New("alert_id and user_id are required"))
		return
	}

	alert, err := s.manager.ResolveAlert(request.Context(), body.AlertID, body.UserID, body.Notes)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(writer, http.StatusNotFound, err)
			return
		}
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	writeJSON(writer, http.StatusOK, alert)
}

// handleDashboard serves the cached active-alert summary.
// Params: none beyond the request context.
// Returns: 200 with status/source counts or 500 on store failure.
func (s *Service) handleDashboard(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	summary, err := s.manager.Summary(request.Context())
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	writeJSON(writer, http.StatusOK, summary)
}

// handleUpsertRule creates or updates one rule.
// Params: JSON rule body; a missing id creates a new rule.
// Returns: 200 with the rule id, 400 on validation failure.
func (s *Service) handleUpsertRule(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var rule domain.Rule
	if !decodeBody(writer, request, &rule) {
		return
	}
	stored, err := s.manager.UpsertRule(request.Context(), rule)
	if err != nil {
		writeError(writer, http.StatusBadRequest, err)
		return
	}
	writeJSON(writer, http.StatusOK, map[string]string{"rule_id": stored.ID})
}

type deleteRuleRequest struct {
	RuleID string `json:"rule_id"`
}

// handleDeleteRule removes one rule by id; deletion is idempotent.
// Params: JSON body with rule_id.
// Returns: 200 on success, even for already-absent ids.
func (s *Service) handleDeleteRule(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body deleteRuleRequest
	if !decodeBody(writer, request, &body) {
		return
	}
	if body.RuleID == "" {
		writeError(writer, http.StatusBadRequest, errors.New("rule_id is required"))
		return
	}
	if err := s.manager.DeleteRule(request.Context(), body.RuleID); err != nil {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	writeJSON(writer, http.StatusOK, map[string]string{"rule_id": body.RuleID})
}

// sweepHandler triggers one sweep manually over the scheduled code path.
// Params: the sweep run function shared with the scheduler ticks.
// Returns: 200 with run stats or 500 when the run aborts.
func (s *Service) sweepHandler(run func(context.Context) (scheduler.SweepStats, error)) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost {
			writer.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		stats, err := run(request.Context())
		if err != nil {
			writeError(writer, http.StatusInternalServerError, err)
			return
		}
		writeJSON(writer, http.StatusOK, stats)
	}
}

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mkarlsen/shipwatch/internal/bucket"
	"github.com/mkarlsen/shipwatch/internal/domain"
	"github.com/mkarlsen/shipwatch/internal/engine"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) listTransports(w http.ResponseWriter, r *http.Request) {
	transports, err := s.catalog.Transports(r.Context())
	if err != nil {
		slog.Error("list transports failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, transports)
}

// latest returns the newest position of a transport with custom fields
// overlaid, as a flat field map.
func (s *Server) latest(w http.ResponseWriter, r *http.Request) {
	id := domain.TransportID(r.PathValue("id"))
	sample, fields, err := s.buckets.Latest(r.Context(), id, time.Time{})
	if errors.Is(err, bucket.ErrNoBucket) {
		writeError(w, http.StatusNotFound, "no telemetry for transport")
		return
	}
	if err != nil {
		slog.Error("latest lookup failed", "transport_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transport_id": id,
		"timestamp":    sample.Timestamp,
		"fields":       fields,
	})
}

func (s *Server) samplesOn(w http.ResponseWriter, r *http.Request) {
	id := domain.TransportID(r.PathValue("id"))
	day, err := parseDay(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	samples, err := s.buckets.SamplesOn(r.Context(), id, day)
	if errors.Is(err, bucket.ErrNoBucket) {
		writeError(w, http.StatusNotFound, "no telemetry for transport")
		return
	}
	if err != nil {
		slog.Error("samples lookup failed", "transport_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

type customFieldRequest struct {
	Name  string `json:"field_name"`
	Value string `json:"value"`
}

func (s *Server) appendCustomField(w http.ResponseWriter, r *http.Request) {
	id := domain.TransportID(r.PathValue("id"))
	var req customFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "field_name required")
		return
	}

	err := s.buckets.AppendCustomField(r.Context(), id, req.Name, req.Value, time.Now().UTC())
	if errors.Is(err, bucket.ErrNoBucket) {
		writeError(w, http.StatusConflict, "no open bucket for transport")
		return
	}
	if err != nil {
		slog.Error("append custom field failed", "transport_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) createAlertRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(rule.Criteria) == 0 {
		writeError(w, http.StatusBadRequest, "at least one criterion required")
		return
	}
	if rule.ID == "" {
		rule.ID = domain.AlertID(s.newID())
	}
	rule.Active = true

	if err := s.catalog.PutAlertRule(r.Context(), rule); err != nil {
		slog.Error("create alert rule failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// deleteAlertRule removes the rule and, through the store, every latch and
// geofence reference to it.
func (s *Server) deleteAlertRule(w http.ResponseWriter, r *http.Request) {
	id := domain.AlertID(r.PathValue("id"))
	err := s.catalog.DeleteAlertRule(r.Context(), id)
	if errors.Is(err, engine.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown alert rule")
		return
	}
	if err != nil {
		slog.Error("delete alert rule failed", "alert_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createGeofence(w http.ResponseWriter, r *http.Request) {
	var fence domain.Geofence
	if err := json.NewDecoder(r.Body).Decode(&fence); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(fence.Ring) < 3 {
		writeError(w, http.StatusBadRequest, "ring needs at least three vertices")
		return
	}
	if fence.ID == "" {
		fence.ID = domain.GeofenceID(s.newID())
	}
	fence.Active = true

	if err := s.catalog.PutGeofence(r.Context(), fence); err != nil {
		slog.Error("create geofence failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, fence)
}

func (s *Server) deleteGeofence(w http.ResponseWriter, r *http.Request) {
	id := domain.GeofenceID(r.PathValue("id"))
	err := s.catalog.DeleteGeofence(r.Context(), id)
	if errors.Is(err, engine.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown geofence")
		return
	}
	if err != nil {
		slog.Error("delete geofence failed", "geo_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	user := domain.UserID(r.PathValue("id"))
	notes, err := s.catalog.Notifications(r.Context(), user)
	if err != nil {
		slog.Error("list notifications failed", "user_id", user, "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if notes == nil {
		notes = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, notes)
}

// Package api is the HTTP surface of the tracker: telemetry queries, rule
// and geofence management, notifications and the live WebSocket feed.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkarlsen/shipwatch/internal/bucket"
	"github.com/mkarlsen/shipwatch/internal/domain"
	"github.com/mkarlsen/shipwatch/internal/live"
)

// Catalog is the storage surface the handlers need.
type Catalog interface {
	Transports(ctx context.Context) ([]domain.Transport, error)
	Transport(ctx context.Context, id domain.TransportID) (domain.Transport, error)
	PutAlertRule(ctx context.Context, a domain.AlertRule) error
	DeleteAlertRule(ctx context.Context, id domain.AlertID) error
	PutGeofence(ctx context.Context, g domain.Geofence) error
	DeleteGeofence(ctx context.Context, id domain.GeofenceID) error
	Notifications(ctx context.Context, user domain.UserID) ([]domain.Notification, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	buckets *bucket.Service
	catalog Catalog
	health  Pinger
	hub     *live.Hub
	newID   func() string
}

func NewServer(buckets *bucket.Service, catalog Catalog, health Pinger, hub *live.Hub) *Server {
	return &Server{
		buckets: buckets,
		catalog: catalog,
		health:  health,
		hub:     hub,
		newID:   uuid.NewString,
	}
}

// Routes builds the mux. Method-qualified patterns need Go 1.22+.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/transports", s.listTransports)
	mux.HandleFunc("GET /api/transports/{id}/latest", s.latest)
	mux.HandleFunc("GET /api/transports/{id}/samples", s.samplesOn)
	mux.HandleFunc("POST /api/transports/{id}/fields", s.appendCustomField)

	mux.HandleFunc("POST /api/alerts", s.createAlertRule)
	mux.HandleFunc("DELETE /api/alerts/{id}", s.deleteAlertRule)
	mux.HandleFunc("POST /api/geofences", s.createGeofence)
	mux.HandleFunc("DELETE /api/geofences/{id}", s.deleteGeofence)

	mux.HandleFunc("GET /api/users/{id}/notifications", s.listNotifications)

	if s.hub != nil {
		mux.HandleFunc("GET /api/track/{id}", func(w http.ResponseWriter, r *http.Request) {
			s.hub.ServeWS(w, r, domain.TransportID(r.PathValue("id")))
		})
	}

	mux.HandleFunc("GET /health", s.healthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			http.Error(w, "storage unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// parseDay reads a YYYY-MM-DD query parameter, defaulting to today.
func parseDay(r *http.Request) (time.Time, error) {
	day := r.URL.Query().Get("date")
	if day == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse("2006-01-02", day)
}

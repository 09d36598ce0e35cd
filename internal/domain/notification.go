package domain

import "time"

// Notification event kinds published to the notification topic.
const (
	EventAlert         = "alert"
	EventGeofenceEnter = "geofence_enter"
	EventGeofenceExit  = "geofence_exit"
	EventGeofenceAlert = "geofence_alert"
)

// NotificationEvent is emitted once per alarm firing or containment
// transition. Terminal from the engine's perspective: the notifier consumes
// it, the engine never reads it back.
type NotificationEvent struct {
	ID            string      `json:"id"`
	Kind          string      `json:"kind"`
	Title         string      `json:"title"`
	Message       string      `json:"message"`
	UserID        UserID      `json:"user_id"`
	Email         string      `json:"email"`
	TransportID   TransportID `json:"transport_id"`
	TransportName string      `json:"transport_name"`
	IMO           int64       `json:"imo_number"`
	GeofenceName  string      `json:"geofence_name,omitempty"`
	NotifyEmail   bool        `json:"notify_email"`
	NotifyPush    bool        `json:"notify_push"`
	Timestamp     time.Time   `json:"timestamp"`
}

// EmailLog records one outbound email, for auditing deliveries.
type EmailLog struct {
	EventID   string    `json:"event_id"`
	Kind      string    `json:"kind"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	SentAt    time.Time `json:"sent_at"`
}

// Notification is the persisted in-app record of a delivered event.
type Notification struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	Type          string    `json:"type"`
	TransportName string    `json:"transport_name"`
	IMO           int64     `json:"imo_number"`
	UserID        UserID    `json:"user_id"`
	Read          bool      `json:"is_read"`
	CreatedAt     time.Time `json:"created_at"`
}

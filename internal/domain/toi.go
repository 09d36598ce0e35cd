package domain

// GeoBinding binds a transport of interest to a geofence, carrying the
// containment flag and one latch per alert rule attached to the geofence.
type GeoBinding struct {
	GeofenceID GeofenceID   `json:"geo_id"`
	Entered    bool         `json:"is_enter"`
	Alerts     []AlertLatch `json:"geo_alerts"`
}

// TOIBinding is a user's subscription to one transport: alert latches,
// geofence bindings and a UI selection flag the engine ignores.
type TOIBinding struct {
	TransportID TransportID  `json:"transport_id"`
	Selected    bool         `json:"is_selected"`
	Alerts      []AlertLatch `json:"alerts"`
	Geofences   []GeoBinding `json:"geofences"`
}

// User is the slice of an account the engine needs: identity, delivery
// address and transport-of-interest bindings.
type User struct {
	ID    UserID       `json:"id"`
	Email string       `json:"email"`
	Name  string       `json:"name"`
	TOI   []TOIBinding `json:"toi"`
}

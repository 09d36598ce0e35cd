package domain

// GeofenceID identifies a named polygon.
type GeofenceID string

// Point is a [lon, lat] coordinate pair, GeoJSON order.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// FenceBinding is the per-transport state an active-for-all geofence keeps
// on itself: whether the transport was inside at the last evaluation, and
// one latch per attached alert rule.
type FenceBinding struct {
	TransportID TransportID  `json:"transport_id"`
	Entered     bool         `json:"entered"`
	Alerts      []AlertLatch `json:"alerts"`
}

// Geofence is a named polygon ring with referenced alert rules. When
// ActiveForAll is set it applies to every transport the owner tracks and
// carries its own binding state; otherwise binding state lives on the
// user's TOI entries.
type Geofence struct {
	ID           GeofenceID     `json:"id"`
	Name         string         `json:"name"`
	OwnerID      UserID         `json:"owner_id"`
	Ring         []Point        `json:"ring"`
	AlertIDs     []AlertID      `json:"alert_ids"`
	ActiveForAll bool           `json:"active_for_all"`
	Bindings     []FenceBinding `json:"bindings"`
	NotifyEmail  bool           `json:"notify_email"`
	NotifyPush   bool           `json:"notify_push"`
	Active       bool           `json:"active"`
	Deleted      bool           `json:"deleted"`
}

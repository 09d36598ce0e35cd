package domain

// UserID identifies an account in the surrounding application.
type UserID string

// AlertID identifies a user-defined alert rule.
type AlertID string

// Criterion is one field comparison of an alert rule. Immutable.
type Criterion struct {
	FieldName string `json:"field_name"`
	Condition string `json:"condition"`
	Value     string `json:"value"`
}

// AlertRule is an ordered set of criteria with delivery flags. Owned by the
// user who created it; geofences and TOI bindings reference it by id only.
type AlertRule struct {
	ID          AlertID     `json:"id"`
	Name        string      `json:"name"`
	OwnerID     UserID      `json:"owner_id"`
	Criteria    []Criterion `json:"criteria"`
	NotifyEmail bool        `json:"notify_email"`
	NotifyPush  bool        `json:"notify_push"`
	Active      bool        `json:"active"`
	Deleted     bool        `json:"deleted"`
}

// AlertLatch pairs a rule reference with its latch state for one subject.
// Suppressed=false means the latch is armed and ready to fire.
type AlertLatch struct {
	AlertID    AlertID `json:"alert_id"`
	Suppressed bool    `json:"suppressed"`
}

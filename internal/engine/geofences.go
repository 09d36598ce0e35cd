package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mkarlsen/shipwatch/internal/alarm"
	"github.com/mkarlsen/shipwatch/internal/bucket"
	"github.com/mkarlsen/shipwatch/internal/domain"
	"github.com/mkarlsen/shipwatch/internal/geo"
)

// evaluateUserGeofences walks one user's TOI geofence bindings: containment
// transitions first, then the attached rules while the transport is inside.
func (e *Evaluator) evaluateUserGeofences(ctx context.Context, user domain.User) {
	for _, toi := range user.TOI {
		if len(toi.Geofences) == 0 {
			continue
		}

		transport, err := e.catalog.Transport(ctx, toi.TransportID)
		if err != nil {
			slog.Error("transport lookup failed", "transport_id", toi.TransportID, "error", err)
			continue
		}

		sample, fields, err := e.buckets.Latest(ctx, toi.TransportID, e.now())
		if errors.Is(err, bucket.ErrNoBucket) {
			continue
		}
		if err != nil {
			slog.Error("latest sample lookup failed", "transport_id", toi.TransportID, "error", err)
			continue
		}

		for _, gb := range toi.Geofences {
			fence, err := e.catalog.Geofence(ctx, gb.GeofenceID)
			if errors.Is(err, ErrNotFound) {
				slog.Warn("geofence gone, skipping binding", "geo_id", gb.GeofenceID)
				continue
			}
			if err != nil {
				slog.Error("geofence lookup failed", "geo_id", gb.GeofenceID, "error", err)
				continue
			}
			if fence.Deleted || !fence.Active {
				continue
			}

			inside := geo.Contains(domain.Point{Lon: sample.Lon, Lat: sample.Lat}, fence.Ring)

			switch {
			case inside && !gb.Entered:
				e.emit(ctx, e.fenceEvent(domain.EventGeofenceEnter, user, transport, fence))
				err := e.latches.SetTOIGeoEntered(ctx, user.ID, toi.TransportID, fence.ID, true)
				logNoMatch(err, "toi containment flag update",
					"user_id", user.ID, "transport_id", toi.TransportID, "geo_id", fence.ID)
			case !inside && gb.Entered:
				e.emit(ctx, e.fenceEvent(domain.EventGeofenceExit, user, transport, fence))
				err := e.latches.SetTOIGeoEntered(ctx, user.ID, toi.TransportID, fence.ID, false)
				logNoMatch(err, "toi containment flag update",
					"user_id", user.ID, "transport_id", toi.TransportID, "geo_id", fence.ID)
			}

			if !inside {
				continue
			}

			e.evaluateFenceRules(ctx, user, transport, fence, gb.Alerts, fields,
				func(alert domain.AlertID, suppressed bool) error {
					return e.latches.SetTOIGeoAlertLatch(ctx, user.ID, toi.TransportID, fence.ID, alert, suppressed)
				})
		}
	}
}

// evaluateActiveForAll evaluates the geofences a user owns that auto-apply
// to every tracked transport, with binding state stored on the geofence.
func (e *Evaluator) evaluateActiveForAll(ctx context.Context, user domain.User) {
	fences, err := e.catalog.ActiveForAllGeofences(ctx, user.ID)
	if err != nil {
		slog.Error("active-for-all geofence lookup failed", "user_id", user.ID, "error", err)
		return
	}

	for _, fence := range fences {
		if fence.Deleted || !fence.Active {
			continue
		}
		for _, binding := range fence.Bindings {
			transport, err := e.catalog.Transport(ctx, binding.TransportID)
			if err != nil {
				slog.Error("transport lookup failed", "transport_id", binding.TransportID, "error", err)
				continue
			}

			sample, fields, err := e.buckets.Latest(ctx, binding.TransportID, e.now())
			if errors.Is(err, bucket.ErrNoBucket) {
				continue
			}
			if err != nil {
				slog.Error("latest sample lookup failed", "transport_id", binding.TransportID, "error", err)
				continue
			}

			inside := geo.Contains(domain.Point{Lon: sample.Lon, Lat: sample.Lat}, fence.Ring)

			switch {
			case inside && !binding.Entered:
				e.emit(ctx, e.fenceEvent(domain.EventGeofenceEnter, user, transport, fence))
				err := e.latches.SetFenceEntered(ctx, fence.ID, binding.TransportID, true)
				logNoMatch(err, "fence containment flag update",
					"geo_id", fence.ID, "transport_id", binding.TransportID)
			case !inside && binding.Entered:
				e.emit(ctx, e.fenceEvent(domain.EventGeofenceExit, user, transport, fence))
				err := e.latches.SetFenceEntered(ctx, fence.ID, binding.TransportID, false)
				logNoMatch(err, "fence containment flag update",
					"geo_id", fence.ID, "transport_id", binding.TransportID)
			}

			if !inside {
				continue
			}

			e.evaluateFenceRules(ctx, user, transport, fence, binding.Alerts, fields,
				func(alert domain.AlertID, suppressed bool) error {
					return e.latches.SetFenceAlertLatch(ctx, fence.ID, binding.TransportID, alert, suppressed)
				})
		}
	}
}

// evaluateFenceRules runs every rule attached to a geofence against the
// overlaid field map, stepping the per-binding latch found in latchRows and
// persisting transitions through setLatch.
func (e *Evaluator) evaluateFenceRules(
	ctx context.Context,
	user domain.User,
	transport domain.Transport,
	fence domain.Geofence,
	latchRows []domain.AlertLatch,
	fields map[string]any,
	setLatch func(alert domain.AlertID, suppressed bool) error,
) {
	for _, alertID := range fence.AlertIDs {
		rule, err := e.catalog.AlertRule(ctx, alertID)
		if errors.Is(err, ErrNotFound) {
			slog.Warn("geofence rule gone, skipping", "alert_id", alertID, "geo_id", fence.ID)
			continue
		}
		if err != nil {
			slog.Error("alert rule lookup failed", "alert_id", alertID, "error", err)
			continue
		}
		if !rule.Active || rule.Deleted {
			continue
		}

		state, found := latchState(latchRows, alertID)
		if !found {
			slog.Warn("no latch row for geofence rule", "alert_id", alertID, "geo_id", fence.ID)
			continue
		}

		for _, crit := range rule.Criteria {
			res, fired := e.stepCriterion(state, crit, fields)
			if fired != nil {
				e.emit(ctx, e.fenceAlertEvent(user, transport, fence, rule, *fired))
			}
			if res.Changed {
				err := setLatch(rule.ID, res.Next == alarm.Suppressed)
				logNoMatch(err, "geofence alert latch update",
					"geo_id", fence.ID, "transport_id", transport.ID, "alert_id", rule.ID)
			}
			state = res.Next
		}
	}
}

func latchState(rows []domain.AlertLatch, id domain.AlertID) (alarm.State, bool) {
	for _, row := range rows {
		if row.AlertID == id {
			return alarm.StateOf(row.Suppressed), true
		}
	}
	return alarm.Armed, false
}

func (e *Evaluator) fenceEvent(kind string, user domain.User, transport domain.Transport, fence domain.Geofence) domain.NotificationEvent {
	verb := "entered"
	if kind == domain.EventGeofenceExit {
		verb = "exited"
	}
	return domain.NotificationEvent{
		ID:            e.newID(),
		Kind:          kind,
		Title:         "Geofence Alert Notification",
		Message:       fmt.Sprintf("Transport %s has %s the geofence %s.", transport.Name, verb, fence.Name),
		UserID:        user.ID,
		Email:         user.Email,
		TransportID:   transport.ID,
		TransportName: transport.Name,
		IMO:           transport.IMO,
		GeofenceName:  fence.Name,
		NotifyEmail:   fence.NotifyEmail,
		NotifyPush:    fence.NotifyPush,
		Timestamp:     e.now(),
	}
}

func (e *Evaluator) fenceAlertEvent(user domain.User, transport domain.Transport, fence domain.Geofence, rule domain.AlertRule, f firedCriterion) domain.NotificationEvent {
	return domain.NotificationEvent{
		ID:            e.newID(),
		Kind:          domain.EventGeofenceAlert,
		Title:         "Geofence Alert Notification",
		Message:       criterionMessage(f, transport.Name),
		UserID:        user.ID,
		Email:         user.Email,
		TransportID:   transport.ID,
		TransportName: transport.Name,
		IMO:           transport.IMO,
		GeofenceName:  fence.Name,
		NotifyEmail:   rule.NotifyEmail,
		NotifyPush:    rule.NotifyPush,
		Timestamp:     e.now(),
	}
}

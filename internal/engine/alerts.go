package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mkarlsen/shipwatch/internal/alarm"
	"github.com/mkarlsen/shipwatch/internal/bucket"
	"github.com/mkarlsen/shipwatch/internal/domain"
)

// opPhrase renders an operator for notification messages.
var opPhrase = map[string]string{
	alarm.OpEqual:              "is equal to",
	alarm.OpNotEqual:           "is not equal to",
	alarm.OpGreaterThan:        "is greater than",
	alarm.OpGreaterThanOrEqual: "is greater than or equal to",
	alarm.OpLessThan:           "is less than",
	alarm.OpLessThanOrEqual:    "is less than or equal to",
}

// evaluateUserAlerts walks one user's TOI alert bindings. A transport
// without an open bucket is skipped; everything else keeps going.
func (e *Evaluator) evaluateUserAlerts(ctx context.Context, user domain.User) {
	for _, toi := range user.TOI {
		if len(toi.Alerts) == 0 {
			continue
		}

		transport, err := e.catalog.Transport(ctx, toi.TransportID)
		if err != nil {
			slog.Error("transport lookup failed", "transport_id", toi.TransportID, "error", err)
			continue
		}

		_, fields, err := e.buckets.Latest(ctx, toi.TransportID, e.now())
		if errors.Is(err, bucket.ErrNoBucket) {
			continue
		}
		if err != nil {
			slog.Error("latest sample lookup failed", "transport_id", toi.TransportID, "error", err)
			continue
		}

		for _, latch := range toi.Alerts {
			rule, err := e.catalog.AlertRule(ctx, latch.AlertID)
			if errors.Is(err, ErrNotFound) {
				slog.Warn("alert rule gone, skipping binding", "alert_id", latch.AlertID)
				continue
			}
			if err != nil {
				slog.Error("alert rule lookup failed", "alert_id", latch.AlertID, "error", err)
				continue
			}
			if !rule.Active || rule.Deleted {
				continue
			}

			state := alarm.StateOf(latch.Suppressed)
			for _, crit := range rule.Criteria {
				res, fired := e.stepCriterion(state, crit, fields)
				if fired != nil {
					e.emit(ctx, e.alertEvent(user, transport, rule, *fired))
				}
				if res.Changed {
					err := e.latches.SetTOIAlertLatch(ctx, user.ID, toi.TransportID, rule.ID, res.Next == alarm.Suppressed)
					logNoMatch(err, "toi alert latch update",
						"user_id", user.ID, "transport_id", toi.TransportID, "alert_id", rule.ID)
				}
				state = res.Next
			}
		}
	}
}

// firedCriterion carries what a fired criterion observed, for the message.
type firedCriterion struct {
	crit     domain.Criterion
	observed any
}

// stepCriterion evaluates one criterion and advances the latch. Unsupported
// operators are logged and leave the latch untouched.
func (e *Evaluator) stepCriterion(state alarm.State, crit domain.Criterion, fields map[string]any) (alarm.Result, *firedCriterion) {
	observed := fields[crit.FieldName]
	holds, err := alarm.Holds(crit.Condition, observed, crit.Value)
	if err != nil {
		slog.Warn("unsupported criterion operator", "condition", crit.Condition, "field", crit.FieldName)
		return alarm.Result{Next: state}, nil
	}
	res := alarm.Step(state, holds)
	if res.Fired {
		return res, &firedCriterion{crit: crit, observed: observed}
	}
	return res, nil
}

func (e *Evaluator) alertEvent(user domain.User, transport domain.Transport, rule domain.AlertRule, f firedCriterion) domain.NotificationEvent {
	return domain.NotificationEvent{
		ID:            e.newID(),
		Kind:          domain.EventAlert,
		Title:         "Alert Notification",
		Message:       criterionMessage(f, transport.Name),
		UserID:        user.ID,
		Email:         user.Email,
		TransportID:   transport.ID,
		TransportName: transport.Name,
		IMO:           transport.IMO,
		NotifyEmail:   rule.NotifyEmail,
		NotifyPush:    rule.NotifyPush,
		Timestamp:     e.now(),
	}
}

func criterionMessage(f firedCriterion, transportName string) string {
	phrase := opPhrase[f.crit.Condition]
	return fmt.Sprintf("The %s %v of transport %s %s %s.",
		f.crit.FieldName, f.observed, transportName, phrase, f.crit.Value)
}

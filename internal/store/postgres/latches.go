package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mkarlsen/shipwatch/internal/domain"
	"github.com/mkarlsen/shipwatch/internal/engine"
)

// --- engine.LatchStore ---
//
// Every update targets exactly one row by its full key. A zero-row result
// means the binding vanished mid-tick and surfaces as engine.ErrNoMatch.

func (s *Store) SetTOIAlertLatch(ctx context.Context, user domain.UserID, transport domain.TransportID, alert domain.AlertID, suppressed bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE toi_alert_latches SET suppressed = $4
		  WHERE user_id = $1 AND transport_id = $2 AND alert_id = $3`,
		string(user), string(transport), string(alert), suppressed)
	if err != nil {
		return fmt.Errorf("update toi alert latch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrNoMatch
	}
	return nil
}

func (s *Store) SetTOIGeoEntered(ctx context.Context, user domain.UserID, transport domain.TransportID, geo domain.GeofenceID, entered bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE toi_geo_bindings SET entered = $4
		  WHERE user_id = $1 AND transport_id = $2 AND geofence_id = $3`,
		string(user), string(transport), string(geo), entered)
	if err != nil {
		return fmt.Errorf("update toi geo binding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrNoMatch
	}
	return nil
}

func (s *Store) SetTOIGeoAlertLatch(ctx context.Context, user domain.UserID, transport domain.TransportID, geo domain.GeofenceID, alert domain.AlertID, suppressed bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE toi_geo_alert_latches SET suppressed = $5
		  WHERE user_id = $1 AND transport_id = $2 AND geofence_id = $3 AND alert_id = $4`,
		string(user), string(transport), string(geo), string(alert), suppressed)
	if err != nil {
		return fmt.Errorf("update toi geo alert latch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrNoMatch
	}
	return nil
}

func (s *Store) SetFenceEntered(ctx context.Context, geo domain.GeofenceID, transport domain.TransportID, entered bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fence_bindings SET entered = $3
		  WHERE geofence_id = $1 AND transport_id = $2`,
		string(geo), string(transport), entered)
	if err != nil {
		return fmt.Errorf("update fence binding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrNoMatch
	}
	return nil
}

func (s *Store) SetFenceAlertLatch(ctx context.Context, geo domain.GeofenceID, transport domain.TransportID, alert domain.AlertID, suppressed bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fence_alert_latches SET suppressed = $4
		  WHERE geofence_id = $1 AND transport_id = $2 AND alert_id = $3`,
		string(geo), string(transport), string(alert), suppressed)
	if err != nil {
		return fmt.Errorf("update fence alert latch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrNoMatch
	}
	return nil
}

// --- catalog writes ---

func (s *Store) PutTransport(ctx context.Context, t domain.Transport) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transports (id, name, imo_number) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = $2, imo_number = $3`,
		string(t.ID), t.Name, t.IMO)
	if err != nil {
		return fmt.Errorf("upsert transport: %w", err)
	}
	return nil
}

func (s *Store) PutUser(ctx context.Context, u domain.User) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO users (id, email, name) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET email = $2, name = $3`,
			string(u.ID), u.Email, u.Name); err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		for _, toi := range u.TOI {
			if _, err := tx.Exec(ctx,
				`INSERT INTO toi_bindings (user_id, transport_id, selected) VALUES ($1, $2, $3)
				 ON CONFLICT (user_id, transport_id) DO UPDATE SET selected = $3`,
				string(u.ID), string(toi.TransportID), toi.Selected); err != nil {
				return fmt.Errorf("upsert toi binding: %w", err)
			}
			for _, l := range toi.Alerts {
				if _, err := tx.Exec(ctx,
					`INSERT INTO toi_alert_latches (user_id, transport_id, alert_id, suppressed)
					 VALUES ($1, $2, $3, $4)
					 ON CONFLICT (user_id, transport_id, alert_id) DO NOTHING`,
					string(u.ID), string(toi.TransportID), string(l.AlertID), l.Suppressed); err != nil {
					return fmt.Errorf("insert toi alert latch: %w", err)
				}
			}
			for _, gb := range toi.Geofences {
				if _, err := tx.Exec(ctx,
					`INSERT INTO toi_geo_bindings (user_id, transport_id, geofence_id, entered)
					 VALUES ($1, $2, $3, $4)
					 ON CONFLICT (user_id, transport_id, geofence_id) DO NOTHING`,
					string(u.ID), string(toi.TransportID), string(gb.GeofenceID), gb.Entered); err != nil {
					return fmt.Errorf("insert toi geo binding: %w", err)
				}
				for _, l := range gb.Alerts {
					if _, err := tx.Exec(ctx,
						`INSERT INTO toi_geo_alert_latches
						        (user_id, transport_id, geofence_id, alert_id, suppressed)
						 VALUES ($1, $2, $3, $4, $5)
						 ON CONFLICT (user_id, transport_id, geofence_id, alert_id) DO NOTHING`,
						string(u.ID), string(toi.TransportID), string(gb.GeofenceID),
						string(l.AlertID), l.Suppressed); err != nil {
						return fmt.Errorf("insert toi geo alert latch: %w", err)
					}
				}
			}
		}
		return nil
	})
}

func (s *Store) PutAlertRule(ctx context.Context, a domain.AlertRule) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO alert_rules (id, name, owner_id, notify_email, notify_push, active, deleted)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE SET
			     name = $2, notify_email = $4, notify_push = $5, active = $6, deleted = $7`,
			string(a.ID), a.Name, string(a.OwnerID), a.NotifyEmail, a.NotifyPush,
			a.Active, a.Deleted); err != nil {
			return fmt.Errorf("upsert alert rule: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM alert_criteria WHERE alert_id = $1`, string(a.ID)); err != nil {
			return fmt.Errorf("clear criteria: %w", err)
		}
		for i, c := range a.Criteria {
			if _, err := tx.Exec(ctx,
				`INSERT INTO alert_criteria (alert_id, position, field_name, condition, value)
				 VALUES ($1, $2, $3, $4, $5)`,
				string(a.ID), i, c.FieldName, c.Condition, c.Value); err != nil {
				return fmt.Errorf("insert criterion: %w", err)
			}
		}
		return nil
	})
}

// PutGeofence stores the fence. For an active-for-all fence with no
// bindings yet, one armed binding per transport the owner tracks is seeded
// inside the same transaction.
func (s *Store) PutGeofence(ctx context.Context, g domain.Geofence) error {
	ring, err := json.Marshal(g.Ring)
	if err != nil {
		return fmt.Errorf("encode ring: %w", err)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO geofences
			        (id, name, owner_id, ring, active_for_all, notify_email, notify_push, active, deleted)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO UPDATE SET
			     name = $2, ring = $4, active_for_all = $5, notify_email = $6,
			     notify_push = $7, active = $8, deleted = $9`,
			string(g.ID), g.Name, string(g.OwnerID), ring, g.ActiveForAll,
			g.NotifyEmail, g.NotifyPush, g.Active, g.Deleted); err != nil {
			return fmt.Errorf("upsert geofence: %w", err)
		}
		for _, aid := range g.AlertIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO geofence_alerts (geofence_id, alert_id) VALUES ($1, $2)
				 ON CONFLICT DO NOTHING`,
				string(g.ID), string(aid)); err != nil {
				return fmt.Errorf("insert geofence alert: %w", err)
			}
		}

		if !g.ActiveForAll {
			return nil
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO fence_bindings (geofence_id, transport_id)
			 SELECT $1, transport_id FROM toi_bindings WHERE user_id = $2
			 ON CONFLICT DO NOTHING`,
			string(g.ID), string(g.OwnerID)); err != nil {
			return fmt.Errorf("seed fence bindings: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO fence_alert_latches (geofence_id, transport_id, alert_id)
			 SELECT fb.geofence_id, fb.transport_id, ga.alert_id
			   FROM fence_bindings fb
			   JOIN geofence_alerts ga ON ga.geofence_id = fb.geofence_id
			  WHERE fb.geofence_id = $1
			 ON CONFLICT DO NOTHING`,
			string(g.ID)); err != nil {
			return fmt.Errorf("seed fence alert latches: %w", err)
		}
		return nil
	})
}

// --- cascading deletes ---

// DeleteAlertRule removes the rule; the schema's ON DELETE CASCADE
// constraints prune every latch row and geofence reference with it.
func (s *Store) DeleteAlertRule(ctx context.Context, id domain.AlertID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM alert_rules WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("delete alert rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrNotFound
	}
	return nil
}

// DeleteGeofence removes the fence; TOI geofence bindings and fence
// bindings cascade away with it.
func (s *Store) DeleteGeofence(ctx context.Context, id domain.GeofenceID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM geofences WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("delete geofence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrNotFound
	}
	return nil
}

// --- notifications ---

func (s *Store) AddNotification(ctx context.Context, n domain.Notification) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications
		        (id, title, message, type, transport_name, imo_number, user_id, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.Title, n.Message, n.Type, n.TransportName, n.IMO,
		string(n.UserID), n.Read, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Store) Notifications(ctx context.Context, user domain.UserID) ([]domain.Notification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, message, type, transport_name, imo_number, user_id, is_read, created_at
		   FROM notifications WHERE user_id = $1 ORDER BY created_at DESC`,
		string(user))
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.Title, &n.Message, &n.Type, &n.TransportName,
			&n.IMO, &n.UserID, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) RecordEmail(ctx context.Context, log domain.EmailLog) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO email_logs (event_id, kind, recipient, subject, sent_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		log.EventID, log.Kind, log.Recipient, log.Subject, log.SentAt)
	if err != nil {
		return fmt.Errorf("insert email log: %w", err)
	}
	return nil
}

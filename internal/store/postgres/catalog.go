package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mkarlsen/shipwatch/internal/domain"
	"github.com/mkarlsen/shipwatch/internal/engine"
)

// --- engine.Catalog ---

// UsersWithBindings loads every user with the full binding graph: TOI rows,
// their alert latches, geofence bindings and geo alert latches. Four set
// queries instead of nested per-user round trips.
func (s *Store) UsersWithBindings(ctx context.Context) ([]domain.User, error) {
	users := make(map[domain.UserID]*domain.User)
	var order []domain.UserID

	rows, err := s.pool.Query(ctx, `SELECT id, email, name FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users[u.ID] = &u
		order = append(order, u.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// TOI bindings, keyed for latch attachment below.
	type toiKey struct {
		user      domain.UserID
		transport domain.TransportID
	}
	toiIdx := make(map[toiKey]int)

	rows, err = s.pool.Query(ctx,
		`SELECT user_id, transport_id, selected FROM toi_bindings ORDER BY user_id, transport_id`)
	if err != nil {
		return nil, fmt.Errorf("select toi bindings: %w", err)
	}
	for rows.Next() {
		var (
			uid domain.UserID
			b   domain.TOIBinding
		)
		if err := rows.Scan(&uid, &b.TransportID, &b.Selected); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan toi binding: %w", err)
		}
		u, ok := users[uid]
		if !ok {
			continue
		}
		toiIdx[toiKey{uid, b.TransportID}] = len(u.TOI)
		u.TOI = append(u.TOI, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT user_id, transport_id, alert_id, suppressed
		   FROM toi_alert_latches ORDER BY user_id, transport_id, alert_id`)
	if err != nil {
		return nil, fmt.Errorf("select toi alert latches: %w", err)
	}
	for rows.Next() {
		var (
			uid domain.UserID
			tid domain.TransportID
			l   domain.AlertLatch
		)
		if err := rows.Scan(&uid, &tid, &l.AlertID, &l.Suppressed); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan toi alert latch: %w", err)
		}
		if i, ok := toiIdx[toiKey{uid, tid}]; ok {
			u := users[uid]
			u.TOI[i].Alerts = append(u.TOI[i].Alerts, l)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	type geoKey struct {
		user      domain.UserID
		transport domain.TransportID
		geo       domain.GeofenceID
	}
	geoIdx := make(map[geoKey]int)

	rows, err = s.pool.Query(ctx,
		`SELECT user_id, transport_id, geofence_id, entered
		   FROM toi_geo_bindings ORDER BY user_id, transport_id, geofence_id`)
	if err != nil {
		return nil, fmt.Errorf("select toi geo bindings: %w", err)
	}
	for rows.Next() {
		var (
			uid domain.UserID
			tid domain.TransportID
			gb  domain.GeoBinding
		)
		if err := rows.Scan(&uid, &tid, &gb.GeofenceID, &gb.Entered); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan toi geo binding: %w", err)
		}
		if i, ok := toiIdx[toiKey{uid, tid}]; ok {
			u := users[uid]
			geoIdx[geoKey{uid, tid, gb.GeofenceID}] = len(u.TOI[i].Geofences)
			u.TOI[i].Geofences = append(u.TOI[i].Geofences, gb)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT user_id, transport_id, geofence_id, alert_id, suppressed
		   FROM toi_geo_alert_latches
		  ORDER BY user_id, transport_id, geofence_id, alert_id`)
	if err != nil {
		return nil, fmt.Errorf("select toi geo alert latches: %w", err)
	}
	for rows.Next() {
		var (
			uid domain.UserID
			tid domain.TransportID
			gid domain.GeofenceID
			l   domain.AlertLatch
		)
		if err := rows.Scan(&uid, &tid, &gid, &l.AlertID, &l.Suppressed); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan toi geo alert latch: %w", err)
		}
		if j, ok := geoIdx[geoKey{uid, tid, gid}]; ok {
			u := users[uid]
			if i, ok := toiIdx[toiKey{uid, tid}]; ok {
				u.TOI[i].Geofences[j].Alerts = append(u.TOI[i].Geofences[j].Alerts, l)
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.User, 0, len(order))
	for _, id := range order {
		out = append(out, *users[id])
	}
	return out, nil
}

func (s *Store) Transport(ctx context.Context, id domain.TransportID) (domain.Transport, error) {
	var t domain.Transport
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, imo_number FROM transports WHERE id = $1`, string(id),
	).Scan(&t.ID, &t.Name, &t.IMO)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transport{}, engine.ErrNotFound
	}
	if err != nil {
		return domain.Transport{}, fmt.Errorf("select transport: %w", err)
	}
	return t, nil
}

func (s *Store) Transports(ctx context.Context) ([]domain.Transport, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, imo_number FROM transports ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select transports: %w", err)
	}
	defer rows.Close()

	var out []domain.Transport
	for rows.Next() {
		var t domain.Transport
		if err := rows.Scan(&t.ID, &t.Name, &t.IMO); err != nil {
			return nil, fmt.Errorf("scan transport: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) AlertRule(ctx context.Context, id domain.AlertID) (domain.AlertRule, error) {
	var a domain.AlertRule
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, owner_id, notify_email, notify_push, active, deleted
		   FROM alert_rules WHERE id = $1`, string(id),
	).Scan(&a.ID, &a.Name, &a.OwnerID, &a.NotifyEmail, &a.NotifyPush, &a.Active, &a.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AlertRule{}, engine.ErrNotFound
	}
	if err != nil {
		return domain.AlertRule{}, fmt.Errorf("select alert rule: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT field_name, condition, value FROM alert_criteria
		  WHERE alert_id = $1 ORDER BY position`, string(id))
	if err != nil {
		return domain.AlertRule{}, fmt.Errorf("select criteria: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c domain.Criterion
		if err := rows.Scan(&c.FieldName, &c.Condition, &c.Value); err != nil {
			return domain.AlertRule{}, fmt.Errorf("scan criterion: %w", err)
		}
		a.Criteria = append(a.Criteria, c)
	}
	return a, rows.Err()
}

func (s *Store) Geofence(ctx context.Context, id domain.GeofenceID) (domain.Geofence, error) {
	var (
		g    domain.Geofence
		ring []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, owner_id, ring, active_for_all, notify_email,
		        notify_push, active, deleted
		   FROM geofences WHERE id = $1`, string(id),
	).Scan(&g.ID, &g.Name, &g.OwnerID, &ring, &g.ActiveForAll,
		&g.NotifyEmail, &g.NotifyPush, &g.Active, &g.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Geofence{}, engine.ErrNotFound
	}
	if err != nil {
		return domain.Geofence{}, fmt.Errorf("select geofence: %w", err)
	}
	if err := json.Unmarshal(ring, &g.Ring); err != nil {
		return domain.Geofence{}, fmt.Errorf("decode ring: %w", err)
	}

	if g.AlertIDs, err = s.fenceAlertIDs(ctx, g.ID); err != nil {
		return domain.Geofence{}, err
	}
	if g.Bindings, err = s.fenceBindings(ctx, g.ID); err != nil {
		return domain.Geofence{}, err
	}
	return g, nil
}

func (s *Store) ActiveForAllGeofences(ctx context.Context, owner domain.UserID) ([]domain.Geofence, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM geofences
		  WHERE owner_id = $1 AND active_for_all AND NOT deleted ORDER BY id`,
		string(owner))
	if err != nil {
		return nil, fmt.Errorf("select active-for-all geofences: %w", err)
	}
	var ids []domain.GeofenceID
	for rows.Next() {
		var id domain.GeofenceID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan geofence id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Geofence, 0, len(ids))
	for _, id := range ids {
		g, err := s.Geofence(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *Store) fenceAlertIDs(ctx context.Context, id domain.GeofenceID) ([]domain.AlertID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT alert_id FROM geofence_alerts WHERE geofence_id = $1 ORDER BY alert_id`,
		string(id))
	if err != nil {
		return nil, fmt.Errorf("select geofence alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertID
	for rows.Next() {
		var aid domain.AlertID
		if err := rows.Scan(&aid); err != nil {
			return nil, fmt.Errorf("scan geofence alert: %w", err)
		}
		out = append(out, aid)
	}
	return out, rows.Err()
}

func (s *Store) fenceBindings(ctx context.Context, id domain.GeofenceID) ([]domain.FenceBinding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT transport_id, entered FROM fence_bindings
		  WHERE geofence_id = $1 ORDER BY transport_id`, string(id))
	if err != nil {
		return nil, fmt.Errorf("select fence bindings: %w", err)
	}
	var bindings []domain.FenceBinding
	idx := make(map[domain.TransportID]int)
	for rows.Next() {
		var b domain.FenceBinding
		if err := rows.Scan(&b.TransportID, &b.Entered); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan fence binding: %w", err)
		}
		idx[b.TransportID] = len(bindings)
		bindings = append(bindings, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT transport_id, alert_id, suppressed FROM fence_alert_latches
		  WHERE geofence_id = $1 ORDER BY transport_id, alert_id`, string(id))
	if err != nil {
		return nil, fmt.Errorf("select fence alert latches: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			tid domain.TransportID
			l   domain.AlertLatch
		)
		if err := rows.Scan(&tid, &l.AlertID, &l.Suppressed); err != nil {
			return nil, fmt.Errorf("scan fence alert latch: %w", err)
		}
		if i, ok := idx[tid]; ok {
			bindings[i].Alerts = append(bindings[i].Alerts, l)
		}
	}
	return bindings, rows.Err()
}

// Package memory is an in-process implementation of the engine's storage
// interfaces. Tests and local development use it in place of Postgres.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mkarlsen/shipwatch/internal/bucket"
	"github.com/mkarlsen/shipwatch/internal/domain"
	"github.com/mkarlsen/shipwatch/internal/engine"
)

// Store holds every record type behind one mutex. Reads hand out copies so
// callers never observe concurrent latch updates mid-slice.
type Store struct {
	mu         sync.RWMutex
	buckets    map[string]*domain.Bucket
	byTrans    map[domain.TransportID][]string
	transports map[domain.TransportID]domain.Transport
	users      map[domain.UserID]*domain.User
	alerts     map[domain.AlertID]*domain.AlertRule
	fences     map[domain.GeofenceID]*domain.Geofence
	notes      []domain.Notification
	emails     []domain.EmailLog
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		buckets:    make(map[string]*domain.Bucket),
		byTrans:    make(map[domain.TransportID][]string),
		transports: make(map[domain.TransportID]domain.Transport),
		users:      make(map[domain.UserID]*domain.User),
		alerts:     make(map[domain.AlertID]*domain.AlertRule),
		fences:     make(map[domain.GeofenceID]*domain.Geofence),
	}
}

var (
	_ bucket.Repo       = (*Store)(nil)
	_ engine.Catalog    = (*Store)(nil)
	_ engine.LatchStore = (*Store)(nil)
)

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// --- bucket.Repo ---

func (s *Store) BucketAt(ctx context.Context, id domain.TransportID, at time.Time) (domain.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, bid := range s.byTrans[id] {
		b := s.buckets[bid]
		if b.Covers(at) {
			return copyBucket(b), nil
		}
	}
	return domain.Bucket{}, bucket.ErrNoBucket
}

func (s *Store) CreateBucket(ctx context.Context, b domain.Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyBucket(&b)
	s.buckets[b.ID] = &cp
	s.byTrans[b.TransportID] = append(s.byTrans[b.TransportID], b.ID)
	return nil
}

func (s *Store) AppendSamples(ctx context.Context, bucketID string, samples []domain.PositionSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[bucketID]
	if !ok {
		return bucket.ErrNoBucket
	}
	b.Samples = append(b.Samples, samples...)
	return nil
}

func (s *Store) AppendCustomField(ctx context.Context, bucketID string, f domain.CustomField) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[bucketID]
	if !ok {
		return bucket.ErrNoBucket
	}
	b.CustomFields = append(b.CustomFields, f)
	return nil
}

func copyBucket(b *domain.Bucket) domain.Bucket {
	cp := *b
	cp.Samples = append([]domain.PositionSample(nil), b.Samples...)
	cp.CustomFields = append([]domain.CustomField(nil), b.CustomFields...)
	return cp
}

// --- seeding ---

func (s *Store) PutTransport(ctx context.Context, t domain.Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transports[t.ID] = t
	return nil
}

func (s *Store) PutUser(ctx context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyUser(&u)
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) PutAlertRule(ctx context.Context, a domain.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := a
	cp.Criteria = append([]domain.Criterion(nil), a.Criteria...)
	s.alerts[a.ID] = &cp
	return nil
}

// PutGeofence stores a geofence. When ActiveForAll is set and the fence has
// no bindings yet, a binding row (not entered, all latches armed) is seeded
// for every transport the owner tracks.
func (s *Store) PutGeofence(ctx context.Context, g domain.Geofence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyFence(&g)
	if cp.ActiveForAll && len(cp.Bindings) == 0 {
		if owner, ok := s.users[cp.OwnerID]; ok {
			for _, toi := range owner.TOI {
				binding := domain.FenceBinding{TransportID: toi.TransportID}
				for _, aid := range cp.AlertIDs {
					binding.Alerts = append(binding.Alerts, domain.AlertLatch{AlertID: aid})
				}
				cp.Bindings = append(cp.Bindings, binding)
			}
		}
	}
	s.fences[g.ID] = &cp
	return nil
}

// --- engine.Catalog ---

func (s *Store) UsersWithBindings(ctx context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, copyUser(u))
	}
	return out, nil
}

func (s *Store) Transport(ctx context.Context, id domain.TransportID) (domain.Transport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transports[id]
	if !ok {
		return domain.Transport{}, engine.ErrNotFound
	}
	return t, nil
}

func (s *Store) AlertRule(ctx context.Context, id domain.AlertID) (domain.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return domain.AlertRule{}, engine.ErrNotFound
	}
	cp := *a
	cp.Criteria = append([]domain.Criterion(nil), a.Criteria...)
	return cp, nil
}

func (s *Store) Geofence(ctx context.Context, id domain.GeofenceID) (domain.Geofence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.fences[id]
	if !ok {
		return domain.Geofence{}, engine.ErrNotFound
	}
	return copyFence(g), nil
}

func (s *Store) ActiveForAllGeofences(ctx context.Context, owner domain.UserID) ([]domain.Geofence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Geofence
	for _, g := range s.fences {
		if g.ActiveForAll && g.OwnerID == owner && !g.Deleted {
			out = append(out, copyFence(g))
		}
	}
	return out, nil
}

// Transports lists the catalog, for ingestion fan-out.
func (s *Store) Transports(ctx context.Context) ([]domain.Transport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Transport, 0, len(s.transports))
	for _, t := range s.transports {
		out = append(out, t)
	}
	return out, nil
}

// --- engine.LatchStore ---

func (s *Store) SetTOIAlertLatch(ctx context.Context, user domain.UserID, transport domain.TransportID, alert domain.AlertID, suppressed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[user]
	if !ok {
		return engine.ErrNoMatch
	}
	for i := range u.TOI {
		if u.TOI[i].TransportID != transport {
			continue
		}
		for j := range u.TOI[i].Alerts {
			if u.TOI[i].Alerts[j].AlertID == alert {
				u.TOI[i].Alerts[j].Suppressed = suppressed
				return nil
			}
		}
	}
	return engine.ErrNoMatch
}

func (s *Store) SetTOIGeoEntered(ctx context.Context, user domain.UserID, transport domain.TransportID, geoID domain.GeofenceID, entered bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[user]
	if !ok {
		return engine.ErrNoMatch
	}
	for i := range u.TOI {
		if u.TOI[i].TransportID != transport {
			continue
		}
		for j := range u.TOI[i].Geofences {
			if u.TOI[i].Geofences[j].GeofenceID == geoID {
				u.TOI[i].Geofences[j].Entered = entered
				return nil
			}
		}
	}
	return engine.ErrNoMatch
}

func (s *Store) SetTOIGeoAlertLatch(ctx context.Context, user domain.UserID, transport domain.TransportID, geoID domain.GeofenceID, alert domain.AlertID, suppressed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[user]
	if !ok {
		return engine.ErrNoMatch
	}
	for i := range u.TOI {
		if u.TOI[i].TransportID != transport {
			continue
		}
		for j := range u.TOI[i].Geofences {
			if u.TOI[i].Geofences[j].GeofenceID != geoID {
				continue
			}
			for k := range u.TOI[i].Geofences[j].Alerts {
				if u.TOI[i].Geofences[j].Alerts[k].AlertID == alert {
					u.TOI[i].Geofences[j].Alerts[k].Suppressed = suppressed
					return nil
				}
			}
		}
	}
	return engine.ErrNoMatch
}

func (s *Store) SetFenceEntered(ctx context.Context, geoID domain.GeofenceID, transport domain.TransportID, entered bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.fences[geoID]
	if !ok {
		return engine.ErrNoMatch
	}
	for i := range g.Bindings {
		if g.Bindings[i].TransportID == transport {
			g.Bindings[i].Entered = entered
			return nil
		}
	}
	return engine.ErrNoMatch
}

func (s *Store) SetFenceAlertLatch(ctx context.Context, geoID domain.GeofenceID, transport domain.TransportID, alert domain.AlertID, suppressed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.fences[geoID]
	if !ok {
		return engine.ErrNoMatch
	}
	for i := range g.Bindings {
		if g.Bindings[i].TransportID != transport {
			continue
		}
		for j := range g.Bindings[i].Alerts {
			if g.Bindings[i].Alerts[j].AlertID == alert {
				g.Bindings[i].Alerts[j].Suppressed = suppressed
				return nil
			}
		}
	}
	return engine.ErrNoMatch
}

// --- cascading deletes ---

// DeleteAlertRule removes the rule and every reference to it: TOI alert
// latches, TOI geofence latches, geofence rule lists and active-for-all
// binding latches.
func (s *Store) DeleteAlertRule(ctx context.Context, id domain.AlertID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[id]; !ok {
		return engine.ErrNotFound
	}
	delete(s.alerts, id)

	for _, u := range s.users {
		for i := range u.TOI {
			u.TOI[i].Alerts = pruneLatches(u.TOI[i].Alerts, id)
			for j := range u.TOI[i].Geofences {
				u.TOI[i].Geofences[j].Alerts = pruneLatches(u.TOI[i].Geofences[j].Alerts, id)
			}
		}
	}
	for _, g := range s.fences {
		kept := g.AlertIDs[:0]
		for _, aid := range g.AlertIDs {
			if aid != id {
				kept = append(kept, aid)
			}
		}
		g.AlertIDs = kept
		for i := range g.Bindings {
			g.Bindings[i].Alerts = pruneLatches(g.Bindings[i].Alerts, id)
		}
	}
	return nil
}

// DeleteGeofence removes the geofence and prunes every TOI binding that
// references it.
func (s *Store) DeleteGeofence(ctx context.Context, id domain.GeofenceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fences[id]; !ok {
		return engine.ErrNotFound
	}
	delete(s.fences, id)

	for _, u := range s.users {
		for i := range u.TOI {
			kept := u.TOI[i].Geofences[:0]
			for _, gb := range u.TOI[i].Geofences {
				if gb.GeofenceID != id {
					kept = append(kept, gb)
				}
			}
			u.TOI[i].Geofences = kept
		}
	}
	return nil
}

func pruneLatches(rows []domain.AlertLatch, id domain.AlertID) []domain.AlertLatch {
	kept := rows[:0]
	for _, row := range rows {
		if row.AlertID != id {
			kept = append(kept, row)
		}
	}
	return kept
}

// --- notifications ---

func (s *Store) AddNotification(ctx context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, n)
	return nil
}

func (s *Store) Notifications(ctx context.Context, user domain.UserID) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Notification
	for _, n := range s.notes {
		if n.UserID == user {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Store) RecordEmail(ctx context.Context, log domain.EmailLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails = append(s.emails, log)
	return nil
}

func (s *Store) EmailLogs(ctx context.Context) ([]domain.EmailLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.EmailLog(nil), s.emails...), nil
}

func copyUser(u *domain.User) domain.User {
	cp := *u
	cp.TOI = make([]domain.TOIBinding, len(u.TOI))
	for i, toi := range u.TOI {
		tc := toi
		tc.Alerts = append([]domain.AlertLatch(nil), toi.Alerts...)
		tc.Geofences = make([]domain.GeoBinding, len(toi.Geofences))
		for j, gb := range toi.Geofences {
			gc := gb
			gc.Alerts = append([]domain.AlertLatch(nil), gb.Alerts...)
			tc.Geofences[j] = gc
		}
		cp.TOI[i] = tc
	}
	return cp
}

func copyFence(g *domain.Geofence) domain.Geofence {
	cp := *g
	cp.Ring = append([]domain.Point(nil), g.Ring...)
	cp.AlertIDs = append([]domain.AlertID(nil), g.AlertIDs...)
	cp.Bindings = make([]domain.FenceBinding, len(g.Bindings))
	for i, b := range g.Bindings {
		bc := b
		bc.Alerts = append([]domain.AlertLatch(nil), b.Alerts...)
		cp.Bindings[i] = bc
	}
	return cp
}

// Package engine evaluates user-defined rules against the latest telemetry
// and drives the per-binding alarm latches.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkarlsen/shipwatch/internal/domain"
	"github.com/mkarlsen/shipwatch/internal/metrics"
)

// ErrNoMatch is returned by latch updates that touched zero rows: the
// binding was removed while the tick was running. Logged, never retried.
var ErrNoMatch = errors.New("no binding matched the update")

// ErrNotFound is returned by catalog lookups for unknown ids.
var ErrNotFound = errors.New("not found")

// LatestReader resolves the newest overlaid sample for a transport.
// Implemented by bucket.Service.
type LatestReader interface {
	Latest(ctx context.Context, id domain.TransportID, at time.Time) (domain.PositionSample, map[string]any, error)
}

// Catalog resolves ids to records. Containers hold ids only; the engine
// resolves them at evaluation time.
type Catalog interface {
	UsersWithBindings(ctx context.Context) ([]domain.User, error)
	Transport(ctx context.Context, id domain.TransportID) (domain.Transport, error)
	AlertRule(ctx context.Context, id domain.AlertID) (domain.AlertRule, error)
	Geofence(ctx context.Context, id domain.GeofenceID) (domain.Geofence, error)
	ActiveForAllGeofences(ctx context.Context, owner domain.UserID) ([]domain.Geofence, error)
}

// LatchStore applies targeted latch and containment-flag updates. Every
// method is scoped to one exact binding element so concurrent evaluations
// of sibling bindings never clobber each other.
type LatchStore interface {
	SetTOIAlertLatch(ctx context.Context, user domain.UserID, transport domain.TransportID, alert domain.AlertID, suppressed bool) error
	SetTOIGeoEntered(ctx context.Context, user domain.UserID, transport domain.TransportID, geo domain.GeofenceID, entered bool) error
	SetTOIGeoAlertLatch(ctx context.Context, user domain.UserID, transport domain.TransportID, geo domain.GeofenceID, alert domain.AlertID, suppressed bool) error
	SetFenceEntered(ctx context.Context, geo domain.GeofenceID, transport domain.TransportID, entered bool) error
	SetFenceAlertLatch(ctx context.Context, geo domain.GeofenceID, transport domain.TransportID, alert domain.AlertID, suppressed bool) error
}

// Emitter forwards fired notification events to delivery.
type Emitter interface {
	Emit(ctx context.Context, ev domain.NotificationEvent) error
}

// Evaluator runs the three rule scopes each tick: TOI alert bindings, TOI
// geofence bindings and active-for-all geofences.
type Evaluator struct {
	catalog Catalog
	latches LatchStore
	buckets LatestReader
	emitter Emitter
	now     func() time.Time
	newID   func() string
}

// Option tweaks an Evaluator.
type Option func(*Evaluator)

// WithClock injects a deterministic clock.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithIDGen injects a deterministic event-id generator.
func WithIDGen(gen func() string) Option {
	return func(e *Evaluator) { e.newID = gen }
}

// New builds an Evaluator.
func New(catalog Catalog, latches LatchStore, buckets LatestReader, emitter Emitter, opts ...Option) *Evaluator {
	e := &Evaluator{
		catalog: catalog,
		latches: latches,
		buckets: buckets,
		emitter: emitter,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateAll runs one full evaluation tick, fanning out concurrently over
// users. Per-user failures are logged and isolated; only failure to list
// the users themselves is tick-fatal.
func (e *Evaluator) EvaluateAll(ctx context.Context) error {
	start := time.Now()
	users, err := e.catalog.UsersWithBindings(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, user := range users {
		wg.Add(1)
		go func(u domain.User) {
			defer wg.Done()
			e.evaluateUserAlerts(ctx, u)
			e.evaluateUserGeofences(ctx, u)
			e.evaluateActiveForAll(ctx, u)
		}(user)
	}
	wg.Wait()
	metrics.EvalTicks.Inc()
	metrics.EvalDuration.Observe(time.Since(start).Seconds())
	return nil
}

// emit forwards one event; delivery failures never abort the tick.
func (e *Evaluator) emit(ctx context.Context, ev domain.NotificationEvent) {
	metrics.AlarmsFired.WithLabelValues(ev.Kind).Inc()
	if err := e.emitter.Emit(ctx, ev); err != nil {
		slog.Error("emit notification event failed",
			"kind", ev.Kind,
			"transport_id", ev.TransportID,
			"error", err,
		)
	}
}

// logNoMatch logs a zero-row update as a concurrent-delete race and moves on.
func logNoMatch(err error, what string, args ...any) {
	if errors.Is(err, ErrNoMatch) {
		slog.Warn(what+" skipped, binding removed concurrently", args...)
		return
	}
	if err != nil {
		slog.Error(what+" failed", append(args, "error", err)...)
	}
}

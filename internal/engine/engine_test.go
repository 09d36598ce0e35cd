package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mkarlsen/shipwatch/internal/alarm"
	"github.com/mkarlsen/shipwatch/internal/bucket"
	"github.com/mkarlsen/shipwatch/internal/domain"
	"github.com/mkarlsen/shipwatch/internal/engine"
	"github.com/mkarlsen/shipwatch/internal/store/memory"
)

var tick = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type captureEmitter struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
}

func (c *captureEmitter) Emit(ctx context.Context, ev domain.NotificationEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureEmitter) byKind(kind string) []domain.NotificationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.NotificationEvent
	for _, ev := range c.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (c *captureEmitter) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

type fixture struct {
	store   *memory.Store
	buckets *bucket.Service
	emitter *captureEmitter
	eval    *engine.Evaluator
	now     *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	now := tick
	clock := func() time.Time { return now }
	ids := 0
	buckets := bucket.New(store, time.Hour, clock, func() string { ids++; return fmt.Sprintf("b-%d", ids) })
	emitter := &captureEmitter{}
	evIDs := 0
	eval := engine.New(store, store, buckets, emitter,
		engine.WithClock(clock),
		engine.WithIDGen(func() string { evIDs++; return fmt.Sprintf("ev-%d", evIDs) }),
	)
	f := &fixture{store: store, buckets: buckets, emitter: emitter, eval: eval}
	f.now = &now
	return f
}

func (f *fixture) seedSpeedAlert(t *testing.T) {
	t.Helper()
	f.store.PutTransport(context.Background(), domain.Transport{ID: "tr-1", Name: "MV Aurora", IMO: 9319466})
	f.store.PutAlertRule(context.Background(), domain.AlertRule{
		ID: "al-1", Name: "overspeed", OwnerID: "u-1", Active: true,
		NotifyEmail: true, NotifyPush: true,
		Criteria: []domain.Criterion{{FieldName: "speed", Condition: alarm.OpGreaterThan, Value: "10"}},
	})
	f.store.PutUser(context.Background(), domain.User{
		ID: "u-1", Email: "ops@example.com", Name: "Ops",
		TOI: []domain.TOIBinding{{
			TransportID: "tr-1",
			Alerts:      []domain.AlertLatch{{AlertID: "al-1"}},
		}},
	})
}

func (f *fixture) ingest(t *testing.T, id domain.TransportID, s domain.PositionSample) {
	t.Helper()
	if err := f.buckets.Ingest(context.Background(), id, s); err != nil {
		t.Fatalf("ingest: %v", err)
	}
}

func speedSample(speed float64) domain.PositionSample {
	return domain.PositionSample{Timestamp: tick, Speed: speed, Lat: 5, Lon: 5}
}

func positioned(lon, lat float64) domain.PositionSample {
	return domain.PositionSample{Timestamp: tick, Lat: lat, Lon: lon, Speed: 4}
}

func (f *fixture) runTick(t *testing.T) {
	t.Helper()
	if err := f.eval.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
}

func TestAlertFiresOncePerTrueInterval(t *testing.T) {
	f := newFixture(t)
	f.seedSpeedAlert(t)
	f.ingest(t, "tr-1", speedSample(15))

	for i := 0; i < 5; i++ {
		f.runTick(t)
	}

	fired := f.emitter.byKind(domain.EventAlert)
	if len(fired) != 1 {
		t.Fatalf("got %d alert events over 5 true ticks, want 1", len(fired))
	}
	ev := fired[0]
	if ev.TransportName != "MV Aurora" || ev.Email != "ops@example.com" {
		t.Errorf("event carries wrong identity: %+v", ev)
	}
	if !ev.NotifyEmail || !ev.NotifyPush {
		t.Error("delivery flags not copied from the rule")
	}

	users, _ := f.store.UsersWithBindings(context.Background())
	if !users[0].TOI[0].Alerts[0].Suppressed {
		t.Error("latch should end suppressed while condition holds")
	}
}

func TestAlertLatchResetsSilently(t *testing.T) {
	f := newFixture(t)
	f.seedSpeedAlert(t)
	f.ingest(t, "tr-1", speedSample(15))
	f.runTick(t)
	f.emitter.reset()

	// Condition clears: newer slow sample in the same bucket.
	f.ingest(t, "tr-1", domain.PositionSample{Timestamp: tick.Add(time.Minute), Speed: 3, Lat: 5, Lon: 5})
	f.runTick(t)

	if n := len(f.emitter.byKind(domain.EventAlert)); n != 0 {
		t.Fatalf("reset produced %d events, want 0", n)
	}
	users, _ := f.store.UsersWithBindings(context.Background())
	if users[0].TOI[0].Alerts[0].Suppressed {
		t.Error("latch should rearm after the condition clears")
	}

	// And a fresh true interval fires exactly once more.
	f.ingest(t, "tr-1", domain.PositionSample{Timestamp: tick.Add(2 * time.Minute), Speed: 20, Lat: 5, Lon: 5})
	f.runTick(t)
	f.runTick(t)
	if n := len(f.emitter.byKind(domain.EventAlert)); n != 1 {
		t.Fatalf("rearmed latch fired %d times, want 1", n)
	}
}

func TestAlertUnsupportedOperatorIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.store.PutTransport(context.Background(), domain.Transport{ID: "tr-1", Name: "MV Aurora"})
	f.store.PutAlertRule(context.Background(), domain.AlertRule{
		ID: "al-1", OwnerID: "u-1", Active: true, NotifyPush: true,
		Criteria: []domain.Criterion{{FieldName: "speed", Condition: "matches", Value: "10"}},
	})
	f.store.PutUser(context.Background(), domain.User{
		ID: "u-1",
		TOI: []domain.TOIBinding{{TransportID: "tr-1", Alerts: []domain.AlertLatch{{AlertID: "al-1"}}}},
	})
	f.ingest(t, "tr-1", speedSample(15))

	f.runTick(t)

	if n := len(f.emitter.events); n != 0 {
		t.Fatalf("unsupported operator produced %d events, want 0", n)
	}
	users, _ := f.store.UsersWithBindings(context.Background())
	if users[0].TOI[0].Alerts[0].Suppressed {
		t.Error("unsupported operator must leave the latch untouched")
	}
}

func TestMissingBucketSkipsOnlyThatTransport(t *testing.T) {
	f := newFixture(t)
	f.store.PutTransport(context.Background(), domain.Transport{ID: "tr-1", Name: "MV Aurora"})
	f.store.PutTransport(context.Background(), domain.Transport{ID: "tr-2", Name: "MV Borealis"})
	f.store.PutAlertRule(context.Background(), domain.AlertRule{
		ID: "al-1", OwnerID: "u-1", Active: true, NotifyPush: true,
		Criteria: []domain.Criterion{{FieldName: "speed", Condition: alarm.OpGreaterThan, Value: "10"}},
	})
	f.store.PutUser(context.Background(), domain.User{
		ID: "u-1",
		TOI: []domain.TOIBinding{
			{TransportID: "tr-1", Alerts: []domain.AlertLatch{{AlertID: "al-1"}}},
			{TransportID: "tr-2", Alerts: []domain.AlertLatch{{AlertID: "al-1"}}},
		},
	})
	// Only tr-2 has telemetry.
	f.ingest(t, "tr-2", speedSample(30))

	f.runTick(t)

	fired := f.emitter.byKind(domain.EventAlert)
	if len(fired) != 1 || fired[0].TransportID != "tr-2" {
		t.Fatalf("want exactly one event for tr-2, got %+v", fired)
	}
}

func seedGeofenceFixture(t *testing.T, f *fixture, withRule bool) {
	t.Helper()
	f.store.PutTransport(context.Background(), domain.Transport{ID: "tr-1", Name: "MV Aurora", IMO: 9319466})
	var alertIDs []domain.AlertID
	var latches []domain.AlertLatch
	if withRule {
		f.store.PutAlertRule(context.Background(), domain.AlertRule{
			ID: "al-1", OwnerID: "u-1", Active: true, NotifyEmail: true,
			Criteria: []domain.Criterion{{FieldName: "speed", Condition: alarm.OpLessThan, Value: "5"}},
		})
		alertIDs = []domain.AlertID{"al-1"}
		latches = []domain.AlertLatch{{AlertID: "al-1"}}
	}
	f.store.PutUser(context.Background(), domain.User{
		ID: "u-1", Email: "ops@example.com",
		TOI: []domain.TOIBinding{{
			TransportID: "tr-1",
			Geofences:   []domain.GeoBinding{{GeofenceID: "geo-1", Alerts: latches}},
		}},
	})
	f.store.PutGeofence(context.Background(), domain.Geofence{
		ID: "geo-1", Name: "Port of Rotterdam", OwnerID: "u-1", Active: true,
		NotifyEmail: true, NotifyPush: true,
		AlertIDs: alertIDs,
		Ring: []domain.Point{
			{Lon: 0, Lat: 0}, {Lon: 0, Lat: 10}, {Lon: 10, Lat: 10}, {Lon: 10, Lat: 0}, {Lon: 0, Lat: 0},
		},
	})
}

func TestGeofenceEntryExitEvents(t *testing.T) {
	f := newFixture(t)
	seedGeofenceFixture(t, f, false)

	// Outside: nothing fires.
	f.ingest(t, "tr-1", positioned(20, 20))
	f.runTick(t)
	if n := len(f.emitter.events); n != 0 {
		t.Fatalf("outside with no prior entry fired %d events", n)
	}

	// Moves inside: exactly one entry event.
	f.ingest(t, "tr-1", domain.PositionSample{Timestamp: tick.Add(time.Minute), Lat: 5, Lon: 5})
	f.runTick(t)
	if n := len(f.emitter.byKind(domain.EventGeofenceEnter)); n != 1 {
		t.Fatalf("entry fired %d events, want 1", n)
	}

	// Still inside: no repeat.
	f.runTick(t)
	if n := len(f.emitter.byKind(domain.EventGeofenceEnter)); n != 1 {
		t.Fatalf("repeat tick inside fired extra entry events: %d", n)
	}

	// Leaves: exactly one exit event.
	f.ingest(t, "tr-1", domain.PositionSample{Timestamp: tick.Add(2 * time.Minute), Lat: 20, Lon: 20})
	f.runTick(t)
	if n := len(f.emitter.byKind(domain.EventGeofenceExit)); n != 1 {
		t.Fatalf("exit fired %d events, want 1", n)
	}
}

func TestGeofenceRuleLatchWhileInside(t *testing.T) {
	f := newFixture(t)
	seedGeofenceFixture(t, f, true)

	// Inside and slow: entry event plus one geo-alert fire.
	f.ingest(t, "tr-1", positioned(5, 5))
	f.runTick(t)
	f.runTick(t)

	if n := len(f.emitter.byKind(domain.EventGeofenceAlert)); n != 1 {
		t.Fatalf("geo alert fired %d times over 2 inside ticks, want 1", n)
	}
	ev := f.emitter.byKind(domain.EventGeofenceAlert)[0]
	if ev.GeofenceName != "Port of Rotterdam" {
		t.Errorf("event geofence name = %q", ev.GeofenceName)
	}

	users, _ := f.store.UsersWithBindings(context.Background())
	if !users[0].TOI[0].Geofences[0].Alerts[0].Suppressed {
		t.Error("geo alert latch should be suppressed while condition holds")
	}

	// Condition clears while inside: silent rearm.
	f.emitter.reset()
	f.ingest(t, "tr-1", domain.PositionSample{Timestamp: tick.Add(time.Minute), Lat: 5, Lon: 5, Speed: 9})
	f.runTick(t)
	if n := len(f.emitter.byKind(domain.EventGeofenceAlert)); n != 0 {
		t.Fatalf("rearm fired %d events, want 0", n)
	}
	users, _ = f.store.UsersWithBindings(context.Background())
	if users[0].TOI[0].Geofences[0].Alerts[0].Suppressed {
		t.Error("geo alert latch should rearm when the condition clears")
	}
}

func TestActiveForAllGeofence(t *testing.T) {
	f := newFixture(t)
	f.store.PutTransport(context.Background(), domain.Transport{ID: "tr-1", Name: "MV Aurora"})
	f.store.PutTransport(context.Background(), domain.Transport{ID: "tr-2", Name: "MV Borealis"})
	f.store.PutAlertRule(context.Background(), domain.AlertRule{
		ID: "al-1", OwnerID: "u-1", Active: true, NotifyPush: true,
		Criteria: []domain.Criterion{{FieldName: "speed", Condition: alarm.OpLessThan, Value: "5"}},
	})
	f.store.PutUser(context.Background(), domain.User{
		ID: "u-1", Email: "ops@example.com",
		TOI: []domain.TOIBinding{
			{TransportID: "tr-1"},
			{TransportID: "tr-2"},
		},
	})
	// Seeds one binding per tracked transport.
	f.store.PutGeofence(context.Background(), domain.Geofence{
		ID: "geo-all", Name: "ECA Zone", OwnerID: "u-1", Active: true,
		ActiveForAll: true, NotifyPush: true,
		AlertIDs: []domain.AlertID{"al-1"},
		Ring: []domain.Point{
			{Lon: 0, Lat: 0}, {Lon: 0, Lat: 10}, {Lon: 10, Lat: 10}, {Lon: 10, Lat: 0}, {Lon: 0, Lat: 0},
		},
	})

	// tr-1 inside and slow, tr-2 outside.
	f.ingest(t, "tr-1", positioned(5, 5))
	f.ingest(t, "tr-2", positioned(20, 20))
	f.runTick(t)
	f.runTick(t)

	enters := f.emitter.byKind(domain.EventGeofenceEnter)
	if len(enters) != 1 || enters[0].TransportID != "tr-1" {
		t.Fatalf("want one entry event for tr-1, got %+v", enters)
	}
	if n := len(f.emitter.byKind(domain.EventGeofenceAlert)); n != 1 {
		t.Fatalf("active-for-all geo alert fired %d times, want 1", n)
	}

	fence, err := f.store.Geofence(context.Background(), "geo-all")
	if err != nil {
		t.Fatalf("Geofence: %v", err)
	}
	for _, b := range fence.Bindings {
		switch b.TransportID {
		case "tr-1":
			if !b.Entered {
				t.Error("tr-1 binding should record entry on the geofence itself")
			}
			if !b.Alerts[0].Suppressed {
				t.Error("tr-1 latch should be suppressed")
			}
		case "tr-2":
			if b.Entered || b.Alerts[0].Suppressed {
				t.Error("tr-2 binding must be untouched")
			}
		}
	}
}

func TestCascadingDeletePrunesEveryReference(t *testing.T) {
	f := newFixture(t)
	f.store.PutAlertRule(context.Background(), domain.AlertRule{ID: "al-1", OwnerID: "u-1", Active: true})
	for i := 1; i <= 3; i++ {
		f.store.PutUser(context.Background(), domain.User{
			ID: domain.UserID(fmt.Sprintf("u-%d", i)),
			TOI: []domain.TOIBinding{{
				TransportID: "tr-1",
				Alerts:      []domain.AlertLatch{{AlertID: "al-1"}, {AlertID: "al-other"}},
				Geofences: []domain.GeoBinding{{
					GeofenceID: "geo-1",
					Alerts:     []domain.AlertLatch{{AlertID: "al-1"}},
				}},
			}},
		})
	}
	f.store.PutGeofence(context.Background(), domain.Geofence{
		ID: "geo-1", OwnerID: "u-1", Active: true,
		AlertIDs: []domain.AlertID{"al-1", "al-other"},
		Bindings: []domain.FenceBinding{{
			TransportID: "tr-1",
			Alerts:      []domain.AlertLatch{{AlertID: "al-1"}},
		}},
	})

	if err := f.store.DeleteAlertRule(context.Background(), "al-1"); err != nil {
		t.Fatalf("DeleteAlertRule: %v", err)
	}

	users, _ := f.store.UsersWithBindings(context.Background())
	for _, u := range users {
		for _, toi := range u.TOI {
			for _, l := range toi.Alerts {
				if l.AlertID == "al-1" {
					t.Errorf("user %s still references al-1 in TOI alerts", u.ID)
				}
			}
			for _, gb := range toi.Geofences {
				for _, l := range gb.Alerts {
					if l.AlertID == "al-1" {
						t.Errorf("user %s still references al-1 in geofence latches", u.ID)
					}
				}
			}
		}
	}
	fence, _ := f.store.Geofence(context.Background(), "geo-1")
	for _, id := range fence.AlertIDs {
		if id == "al-1" {
			t.Error("geofence still lists al-1")
		}
	}
	for _, b := range fence.Bindings {
		for _, l := range b.Alerts {
			if l.AlertID == "al-1" {
				t.Error("geofence binding still holds an al-1 latch")
			}
		}
	}
	// Unrelated references survive.
	if len(fence.AlertIDs) != 1 || fence.AlertIDs[0] != "al-other" {
		t.Errorf("unrelated alert reference was pruned: %v", fence.AlertIDs)
	}
}

// vanishedBindingLatches simulates a binding deleted between catalog load
// and latch write: updates for one alert hit zero rows.
type vanishedBindingLatches struct {
	engine.LatchStore
	gone domain.AlertID
}

func (l vanishedBindingLatches) SetTOIAlertLatch(ctx context.Context, user domain.UserID, transport domain.TransportID, alert domain.AlertID, suppressed bool) error {
	if alert == l.gone {
		return engine.ErrNoMatch
	}
	return l.LatchStore.SetTOIAlertLatch(ctx, user, transport, alert, suppressed)
}

func TestRemovedBindingDoesNotAbortSiblingLatches(t *testing.T) {
	f := newFixture(t)
	f.store.PutTransport(context.Background(), domain.Transport{ID: "tr-1", Name: "MV Aurora"})
	for _, id := range []domain.AlertID{"al-gone", "al-kept"} {
		f.store.PutAlertRule(context.Background(), domain.AlertRule{
			ID: id, OwnerID: "u-1", Active: true, NotifyPush: true,
			Criteria: []domain.Criterion{{FieldName: "speed", Condition: alarm.OpGreaterThan, Value: "10"}},
		})
	}
	f.store.PutUser(context.Background(), domain.User{
		ID: "u-1",
		TOI: []domain.TOIBinding{{
			TransportID: "tr-1",
			Alerts:      []domain.AlertLatch{{AlertID: "al-gone"}, {AlertID: "al-kept"}},
		}},
	})
	f.ingest(t, "tr-1", speedSample(15))

	eval := engine.New(f.store, vanishedBindingLatches{LatchStore: f.store, gone: "al-gone"},
		f.buckets, f.emitter,
		engine.WithClock(func() time.Time { return tick }),
		engine.WithIDGen(func() string { return "ev-x" }),
	)
	if err := eval.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}

	// Both latches were armed when the tick loaded them, so both fire; the
	// refused write is logged and skipped, never retried and never fatal.
	if n := len(f.emitter.byKind(domain.EventAlert)); n != 2 {
		t.Fatalf("got %d alert events, want 2 (sibling binding must still evaluate)", n)
	}
	users, _ := f.store.UsersWithBindings(context.Background())
	latches := users[0].TOI[0].Alerts
	if latches[0].Suppressed {
		t.Error("refused update must leave the al-gone latch as stored")
	}
	if !latches[1].Suppressed {
		t.Error("al-kept latch should persist suppressed despite the sibling no-match")
	}
}

func TestDeleteGeofencePrunesTOIBindings(t *testing.T) {
	f := newFixture(t)
	f.store.PutUser(context.Background(), domain.User{
		ID: "u-1",
		TOI: []domain.TOIBinding{{
			TransportID: "tr-1",
			Geofences: []domain.GeoBinding{
				{GeofenceID: "geo-1"},
				{GeofenceID: "geo-2"},
			},
		}},
	})
	f.store.PutGeofence(context.Background(), domain.Geofence{ID: "geo-1", OwnerID: "u-1", Active: true})

	if err := f.store.DeleteGeofence(context.Background(), "geo-1"); err != nil {
		t.Fatalf("DeleteGeofence: %v", err)
	}

	users, _ := f.store.UsersWithBindings(context.Background())
	gbs := users[0].TOI[0].Geofences
	if len(gbs) != 1 || gbs[0].GeofenceID != "geo-2" {
		t.Errorf("TOI geofence bindings after delete = %+v, want only geo-2", gbs)
	}
}

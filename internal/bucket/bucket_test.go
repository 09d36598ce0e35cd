package bucket_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mkarlsen/shipwatch/internal/bucket"
	"github.com/mkarlsen/shipwatch/internal/domain"
	"github.com/mkarlsen/shipwatch/internal/store/memory"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sample(ts time.Time, speed float64) domain.PositionSample {
	return domain.PositionSample{Timestamp: ts, Speed: speed, Lat: 1, Lon: 2}
}

func setup(window time.Duration) (*bucket.Service, *memory.Store, *time.Time) {
	store := memory.New()
	now := base
	ids := 0
	clock := func() time.Time { return now }
	svc := bucket.New(store, window, clock, func() string { ids++; return fmt.Sprintf("bucket-%d", ids) })
	return svc, store, &now
}

func TestIngestCreatesBucketOnFirstSample(t *testing.T) {
	svc, store, _ := setup(10 * time.Minute)
	ctx := context.Background()

	if err := svc.Ingest(ctx, "tr-1", sample(base, 5)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	b, err := store.BucketAt(ctx, "tr-1", base)
	if err != nil {
		t.Fatalf("BucketAt: %v", err)
	}
	if !b.Start.Equal(base) {
		t.Errorf("bucket start = %v, want %v", b.Start, base)
	}
	if !b.End.Equal(base.Add(10 * time.Minute)) {
		t.Errorf("bucket end = %v, want start+window", b.End)
	}
	if len(b.Samples) != 1 {
		t.Errorf("bucket holds %d samples, want 1", len(b.Samples))
	}
}

func TestIngestAppendsToOpenBucket(t *testing.T) {
	svc, store, now := setup(10 * time.Minute)
	ctx := context.Background()

	if err := svc.Ingest(ctx, "tr-1", sample(base, 5)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	*now = base.Add(3 * time.Minute)
	if err := svc.Ingest(ctx, "tr-1", sample(*now, 6)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	b, err := store.BucketAt(ctx, "tr-1", *now)
	if err != nil {
		t.Fatalf("BucketAt: %v", err)
	}
	if len(b.Samples) != 2 {
		t.Errorf("open bucket holds %d samples, want 2", len(b.Samples))
	}
}

func TestIngestRollsToNewBucketAfterWindow(t *testing.T) {
	svc, store, now := setup(10 * time.Minute)
	ctx := context.Background()

	if err := svc.Ingest(ctx, "tr-1", sample(base, 5)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	*now = base.Add(11 * time.Minute)
	if err := svc.Ingest(ctx, "tr-1", sample(*now, 6)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	first, err := store.BucketAt(ctx, "tr-1", base)
	if err != nil {
		t.Fatalf("first bucket: %v", err)
	}
	second, err := store.BucketAt(ctx, "tr-1", *now)
	if err != nil {
		t.Fatalf("second bucket: %v", err)
	}
	if first.ID == second.ID {
		t.Error("sample after window elapsed landed in the old bucket")
	}
	if !second.Start.Equal(*now) {
		t.Errorf("new bucket start = %v, want ingest time %v", second.Start, *now)
	}
}

func TestLatestPicksMaxTimestamp(t *testing.T) {
	svc, _, _ := setup(time.Hour)
	ctx := context.Background()

	err := svc.Ingest(ctx, "tr-1",
		sample(base.Add(2*time.Minute), 7),
		sample(base.Add(5*time.Minute), 9),
		sample(base.Add(1*time.Minute), 3),
	)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	latest, fields, err := svc.Latest(ctx, "tr-1", base.Add(6*time.Minute))
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Speed != 9 {
		t.Errorf("latest speed = %v, want 9 (max timestamp sample)", latest.Speed)
	}
	if fields["speed"] != 9.0 {
		t.Errorf("fields[speed] = %v, want 9", fields["speed"])
	}
}

func TestLatestOverlaysCustomFields(t *testing.T) {
	svc, _, _ := setup(time.Hour)
	ctx := context.Background()

	if err := svc.Ingest(ctx, "tr-1", sample(base, 5)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := svc.AppendCustomField(ctx, "tr-1", "speed", "99", base); err != nil {
		t.Fatalf("AppendCustomField: %v", err)
	}
	if err := svc.AppendCustomField(ctx, "tr-1", "cargo", "grain", base); err != nil {
		t.Fatalf("AppendCustomField: %v", err)
	}

	_, fields, err := svc.Latest(ctx, "tr-1", base)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if fields["speed"] != "99" {
		t.Errorf("custom field must shadow sample field, got %v", fields["speed"])
	}
	if fields["cargo"] != "grain" {
		t.Errorf("fields[cargo] = %v, want grain", fields["cargo"])
	}
}

func TestLatestNoBucket(t *testing.T) {
	svc, _, _ := setup(time.Hour)
	_, _, err := svc.Latest(context.Background(), "tr-unknown", base)
	if !errors.Is(err, bucket.ErrNoBucket) {
		t.Errorf("err = %v, want ErrNoBucket", err)
	}
}

func TestAppendCustomFieldRequiresBucket(t *testing.T) {
	svc, _, _ := setup(time.Hour)
	err := svc.AppendCustomField(context.Background(), "tr-1", "cargo", "grain", base)
	if !errors.Is(err, bucket.ErrNoBucket) {
		t.Errorf("err = %v, want ErrNoBucket (bucket is not created implicitly)", err)
	}
}

func TestNilIDGeneratorDefaultsToUUID(t *testing.T) {
	store := memory.New()
	svc := bucket.New(store, time.Hour, func() time.Time { return base }, nil)
	ctx := context.Background()

	if err := svc.Ingest(ctx, "tr-1", sample(base, 5)); err != nil {
		t.Fatalf("Ingest with default id generator: %v", err)
	}
	b, err := store.BucketAt(ctx, "tr-1", base)
	if err != nil {
		t.Fatalf("BucketAt: %v", err)
	}
	if b.ID == "" {
		t.Error("bucket created with an empty id")
	}
}

func TestSamplesOnFiltersByDate(t *testing.T) {
	svc, _, now := setup(48 * time.Hour)
	ctx := context.Background()

	err := svc.Ingest(ctx, "tr-1",
		sample(base, 1),
		sample(base.Add(2*time.Hour), 2),
		sample(base.Add(26*time.Hour), 3),
	)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	*now = base.Add(26 * time.Hour)

	got, err := svc.SamplesOn(ctx, "tr-1", base)
	if err != nil {
		t.Fatalf("SamplesOn: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("SamplesOn returned %d samples for the first day, want 2", len(got))
	}
}

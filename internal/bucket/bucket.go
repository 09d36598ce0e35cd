// Package bucket implements the time-windowed telemetry store: samples are
// appended to at most one open bucket per transport, and reads resolve the
// latest sample with custom fields overlaid.
package bucket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mkarlsen/shipwatch/internal/domain"
)

// ErrNoBucket is returned when no bucket window covers the requested
// instant for a transport. Evaluators treat it as "skip this transport".
var ErrNoBucket = errors.New("no bucket covers the requested time")

// Repo is the persistence surface the service needs. Implementations must
// return buckets with their samples and custom fields loaded.
type Repo interface {
	// BucketAt returns the bucket whose window covers at, or ErrNoBucket.
	BucketAt(ctx context.Context, id domain.TransportID, at time.Time) (domain.Bucket, error)
	CreateBucket(ctx context.Context, b domain.Bucket) error
	AppendSamples(ctx context.Context, bucketID string, samples []domain.PositionSample) error
	AppendCustomField(ctx context.Context, bucketID string, f domain.CustomField) error
}

// Service owns bucket windowing on top of a Repo.
type Service struct {
	repo   Repo
	window time.Duration
	now    func() time.Time
	newID  func() string
}

// New builds a Service. window is the configured bucket duration; now and
// newID are injectable for tests and default to the real clock and uuid.
func New(repo Repo, window time.Duration, now func() time.Time, newID func() string) *Service {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &Service{repo: repo, window: window, now: now, newID: newID}
}

// Ingest appends samples to the bucket covering the current time, creating
// a fresh [now, now+window) bucket when none covers it. Passing zero
// samples is a no-op.
func (s *Service) Ingest(ctx context.Context, id domain.TransportID, samples ...domain.PositionSample) error {
	if len(samples) == 0 {
		return nil
	}
	now := s.now()

	b, err := s.repo.BucketAt(ctx, id, now)
	switch {
	case err == nil:
		if err := s.repo.AppendSamples(ctx, b.ID, samples); err != nil {
			return fmt.Errorf("append samples: %w", err)
		}
		return nil
	case errors.Is(err, ErrNoBucket):
		b = domain.Bucket{
			ID:          s.newID(),
			TransportID: id,
			Start:       now,
			End:         now.Add(s.window),
			Samples:     samples,
		}
		if err := s.repo.CreateBucket(ctx, b); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("find bucket: %w", err)
	}
}

// Latest returns the newest sample of the bucket covering at, plus the
// sample's field map with the bucket's custom fields overlaid on top
// (custom fields shadow same-named sample fields).
func (s *Service) Latest(ctx context.Context, id domain.TransportID, at time.Time) (domain.PositionSample, map[string]any, error) {
	if at.IsZero() {
		at = s.now()
	}
	b, err := s.repo.BucketAt(ctx, id, at)
	if err != nil {
		return domain.PositionSample{}, nil, err
	}
	latest, ok := b.Latest()
	if !ok {
		return domain.PositionSample{}, nil, ErrNoBucket
	}
	fields := latest.Fields()
	for _, f := range b.CustomFields {
		fields[f.Name] = f.Value
	}
	return latest, fields, nil
}

// SamplesOn returns the samples of the currently open bucket whose
// timestamps fall on the given UTC date.
func (s *Service) SamplesOn(ctx context.Context, id domain.TransportID, date time.Time) ([]domain.PositionSample, error) {
	b, err := s.repo.BucketAt(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	y, m, d := date.UTC().Date()
	var out []domain.PositionSample
	for _, sample := range b.Samples {
		sy, sm, sd := sample.Timestamp.UTC().Date()
		if sy == y && sm == m && sd == d {
			out = append(out, sample)
		}
	}
	return out, nil
}

// AppendCustomField attaches an ad-hoc field to the currently open bucket.
// The bucket must already exist; ErrNoBucket otherwise.
func (s *Service) AppendCustomField(ctx context.Context, id domain.TransportID, name, value string, ts time.Time) error {
	b, err := s.repo.BucketAt(ctx, id, s.now())
	if err != nil {
		return err
	}
	f := domain.CustomField{Name: name, Value: value, Timestamp: ts}
	if err := s.repo.AppendCustomField(ctx, b.ID, f); err != nil {
		return fmt.Errorf("append custom field: %w", err)
	}
	return nil
}

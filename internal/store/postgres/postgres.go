// Package postgres is the production storage layer, backed by pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkarlsen/shipwatch/internal/bucket"
	"github.com/mkarlsen/shipwatch/internal/domain"
	"github.com/mkarlsen/shipwatch/internal/engine"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var (
	_ bucket.Repo       = (*Store)(nil)
	_ engine.Catalog    = (*Store)(nil)
	_ engine.LatchStore = (*Store)(nil)
)

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- bucket.Repo ---

const sampleColumns = `mmsi, ts, lat, lon, course, speed, heading, navstat, imo,
	name, callsign, ship_type, dim_a, dim_b, dim_c, dim_d, draught,
	destination, locode, eta, src, zone, eca, distance_remaining, eta_predicted`

func (s *Store) BucketAt(ctx context.Context, id domain.TransportID, at time.Time) (domain.Bucket, error) {
	var b domain.Bucket
	err := s.pool.QueryRow(ctx,
		`SELECT id, transport_id, start_date, end_date
		   FROM buckets
		  WHERE transport_id = $1 AND start_date <= $2 AND end_date > $2`,
		string(id), at,
	).Scan(&b.ID, &b.TransportID, &b.Start, &b.End)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bucket{}, bucket.ErrNoBucket
	}
	if err != nil {
		return domain.Bucket{}, fmt.Errorf("select bucket: %w", err)
	}

	if b.Samples, err = s.bucketSamples(ctx, b.ID); err != nil {
		return domain.Bucket{}, err
	}
	if b.CustomFields, err = s.bucketCustomFields(ctx, b.ID); err != nil {
		return domain.Bucket{}, err
	}
	return b, nil
}

func (s *Store) bucketSamples(ctx context.Context, bucketID string) ([]domain.PositionSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sampleColumns+` FROM samples WHERE bucket_id = $1 ORDER BY seq`,
		bucketID,
	)
	if err != nil {
		return nil, fmt.Errorf("select samples: %w", err)
	}
	defer rows.Close()

	var samples []domain.PositionSample
	for rows.Next() {
		var p domain.PositionSample
		if err := rows.Scan(
			&p.MMSI, &p.Timestamp, &p.Lat, &p.Lon, &p.Course, &p.Speed,
			&p.Heading, &p.NavStat, &p.IMO, &p.Name, &p.Callsign, &p.ShipType,
			&p.DimA, &p.DimB, &p.DimC, &p.DimD, &p.Draught, &p.Destination,
			&p.Locode, &p.ETA, &p.Source, &p.Zone, &p.ECA, &p.DistanceRem,
			&p.ETAPred,
		); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, p)
	}
	return samples, rows.Err()
}

func (s *Store) bucketCustomFields(ctx context.Context, bucketID string) ([]domain.CustomField, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT field_name, value, ts FROM custom_fields WHERE bucket_id = $1 ORDER BY seq`,
		bucketID,
	)
	if err != nil {
		return nil, fmt.Errorf("select custom fields: %w", err)
	}
	defer rows.Close()

	var fields []domain.CustomField
	for rows.Next() {
		var f domain.CustomField
		if err := rows.Scan(&f.Name, &f.Value, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("scan custom field: %w", err)
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

func (s *Store) CreateBucket(ctx context.Context, b domain.Bucket) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO buckets (id, transport_id, start_date, end_date) VALUES ($1, $2, $3, $4)`,
		b.ID, string(b.TransportID), b.Start, b.End,
	)
	if err != nil {
		return fmt.Errorf("insert bucket: %w", err)
	}
	if len(b.Samples) > 0 {
		return s.AppendSamples(ctx, b.ID, b.Samples)
	}
	return nil
}

// AppendSamples bulk-copies sample rows. COPY beats row-at-a-time inserts
// once the satellite fetch returns full track histories.
func (s *Store) AppendSamples(ctx context.Context, bucketID string, samples []domain.PositionSample) error {
	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"samples"},
		[]string{"bucket_id", "mmsi", "ts", "lat", "lon", "course", "speed",
			"heading", "navstat", "imo", "name", "callsign", "ship_type",
			"dim_a", "dim_b", "dim_c", "dim_d", "draught", "destination",
			"locode", "eta", "src", "zone", "eca", "distance_remaining",
			"eta_predicted"},
		pgx.CopyFromSlice(len(samples), func(i int) ([]any, error) {
			p := samples[i]
			return []any{bucketID, p.MMSI, p.Timestamp, p.Lat, p.Lon, p.Course,
				p.Speed, p.Heading, p.NavStat, p.IMO, p.Name, p.Callsign,
				p.ShipType, p.DimA, p.DimB, p.DimC, p.DimD, p.Draught,
				p.Destination, p.Locode, p.ETA, p.Source, p.Zone, p.ECA,
				p.DistanceRem, p.ETAPred}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy samples: %w", err)
	}
	return nil
}

func (s *Store) AppendCustomField(ctx context.Context, bucketID string, f domain.CustomField) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO custom_fields (bucket_id, field_name, value, ts)
		 SELECT $1, $2, $3, $4 WHERE EXISTS (SELECT 1 FROM buckets WHERE id = $1)`,
		bucketID, f.Name, f.Value, f.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert custom field: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bucket.ErrNoBucket
	}
	return nil
}

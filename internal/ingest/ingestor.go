package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mkarlsen/shipwatch/internal/domain"
	"github.com/mkarlsen/shipwatch/internal/metrics"
)

// TransportLister enumerates the catalog for fan-out.
type TransportLister interface {
	Transports(ctx context.Context) ([]domain.Transport, error)
}

// Appender stores fetched samples. Implemented by bucket.Service.
type Appender interface {
	Ingest(ctx context.Context, id domain.TransportID, samples ...domain.PositionSample) error
}

// LiveUpdater receives the freshest sample for real-time fan-out. Optional.
type LiveUpdater interface {
	Update(ctx context.Context, id domain.TransportID, s domain.PositionSample) error
}

// Ingestor fetches reports for every cataloged transport concurrently.
// A failing transport is logged and skipped so the rest of the fleet still
// gets data.
type Ingestor struct {
	catalog TransportLister
	source  Source
	buckets Appender
	live    LiveUpdater
}

func New(catalog TransportLister, source Source, buckets Appender, live LiveUpdater) *Ingestor {
	return &Ingestor{catalog: catalog, source: source, buckets: buckets, live: live}
}

// Run performs one fetch round. Only catalog listing is fatal.
func (in *Ingestor) Run(ctx context.Context, satellite bool) error {
	transports, err := in.catalog.Transports(ctx)
	if err != nil {
		return fmt.Errorf("list transports: %w", err)
	}
	if len(transports) == 0 {
		slog.Warn("no transports to ingest")
		return nil
	}

	var wg sync.WaitGroup
	for _, tr := range transports {
		wg.Add(1)
		go func(tr domain.Transport) {
			defer wg.Done()
			in.ingestOne(ctx, tr, satellite)
		}(tr)
	}
	wg.Wait()
	return nil
}

func (in *Ingestor) ingestOne(ctx context.Context, tr domain.Transport, satellite bool) {
	samples, err := in.source.Fetch(ctx, tr.IMO, satellite)
	if err != nil {
		metrics.FetchFailures.Inc()
		slog.Error("fetch failed", "transport_id", tr.ID, "imo", tr.IMO, "error", err)
		return
	}
	if len(samples) == 0 {
		slog.Debug("no reports", "transport_id", tr.ID)
		return
	}

	if err := in.buckets.Ingest(ctx, tr.ID, samples...); err != nil {
		slog.Error("store samples failed", "transport_id", tr.ID, "error", err)
		return
	}
	for _, s := range samples {
		metrics.SamplesIngested.WithLabelValues(s.Source).Inc()
	}

	if in.live != nil {
		latest := samples[0]
		for _, s := range samples[1:] {
			if s.Timestamp.After(latest.Timestamp) {
				latest = s
			}
		}
		if err := in.live.Update(ctx, tr.ID, latest); err != nil {
			slog.Warn("live update failed", "transport_id", tr.ID, "error", err)
		}
	}
}

// Package ingest pulls AIS position reports into the bucket store.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/mkarlsen/shipwatch/internal/domain"
)

// Source produces the freshest position reports for a vessel.
type Source interface {
	Fetch(ctx context.Context, imo int64, satellite bool) ([]domain.PositionSample, error)
}

// AISClient queries a VesselTracker-compatible HTTP API. The provider wraps
// each report in an envelope with an AIS object holding upper-case field
// names.
type AISClient struct {
	baseURL string
	userKey string
	client  *http.Client
}

func NewAISClient(baseURL, userKey string, client *http.Client) *AISClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &AISClient{baseURL: baseURL, userKey: userKey, client: client}
}

type aisEnvelope struct {
	AIS aisRecord `json:"AIS"`
}

type aisRecord struct {
	MMSI         int64   `json:"MMSI"`
	Timestamp    string  `json:"TIMESTAMP"`
	Latitude     float64 `json:"LATITUDE"`
	Longitude    float64 `json:"LONGITUDE"`
	Course       float64 `json:"COURSE"`
	Speed        float64 `json:"SPEED"`
	Heading      float64 `json:"HEADING"`
	NavStat      int     `json:"NAVSTAT"`
	IMO          int64   `json:"IMO"`
	Name         string  `json:"NAME"`
	Callsign     string  `json:"CALLSIGN"`
	Type         int     `json:"TYPE"`
	A            int     `json:"A"`
	B            int     `json:"B"`
	C            int     `json:"C"`
	D            int     `json:"D"`
	Draught      float64 `json:"DRAUGHT"`
	Destination  string  `json:"DESTINATION"`
	Locode       string  `json:"LOCODE"`
	ETA          string  `json:"ETA"`
	Src          string  `json:"SRC"`
	Zone         string  `json:"ZONE"`
	ECA          bool    `json:"ECA"`
	DistanceRem  float64 `json:"DISTANCE_REMAINING"`
	ETAPredicted string  `json:"ETA_PREDICTED"`
}

// Fetch queries the vessels endpoint. satellite selects the receiver
// network: sat=1 for satellite reports, sat=0 for terrestrial.
func (c *AISClient) Fetch(ctx context.Context, imo int64, satellite bool) ([]domain.PositionSample, error) {
	sat := "0"
	if satellite {
		sat = "1"
	}
	q := url.Values{}
	q.Set("userkey", c.userKey)
	q.Set("imo", strconv.FormatInt(imo, 10))
	q.Set("sat", sat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"vessels?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch vessels: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch vessels: unexpected status %d", resp.StatusCode)
	}

	var envelopes []aisEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelopes); err != nil {
		return nil, fmt.Errorf("decode vessels response: %w", err)
	}

	samples := make([]domain.PositionSample, 0, len(envelopes))
	for _, env := range envelopes {
		samples = append(samples, env.AIS.toSample())
	}
	return samples, nil
}

func (r aisRecord) toSample() domain.PositionSample {
	ts, err := time.Parse(time.RFC3339, r.Timestamp)
	if err != nil {
		// Some providers report without a zone designator.
		ts, err = time.Parse("2006-01-02 15:04:05", r.Timestamp)
		if err != nil {
			ts = time.Now().UTC()
		}
	}
	return domain.PositionSample{
		MMSI:        r.MMSI,
		Timestamp:   ts.UTC(),
		Lat:         r.Latitude,
		Lon:         r.Longitude,
		Course:      r.Course,
		Speed:       r.Speed,
		Heading:     r.Heading,
		NavStat:     r.NavStat,
		IMO:         r.IMO,
		Name:        r.Name,
		Callsign:    r.Callsign,
		ShipType:    r.Type,
		DimA:        r.A,
		DimB:        r.B,
		DimC:        r.C,
		DimD:        r.D,
		Draught:     r.Draught,
		Destination: r.Destination,
		Locode:      r.Locode,
		ETA:         r.ETA,
		Source:      r.Src,
		Zone:        r.Zone,
		ECA:         r.ECA,
		DistanceRem: r.DistanceRem,
		ETAPred:     r.ETAPredicted,
	}
}

// FakeSource synthesizes plausible reports for local development, one per
// Fetch call.
type FakeSource struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

func NewFakeSource(seed int64, now func() time.Time) *FakeSource {
	if now == nil {
		now = time.Now
	}
	return &FakeSource{rng: rand.New(rand.NewSource(seed)), now: now}
}

func (f *FakeSource) Fetch(ctx context.Context, imo int64, satellite bool) ([]domain.PositionSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := domain.SourceTerrestrial
	if satellite {
		src = domain.SourceSatellite
	}
	s := domain.PositionSample{
		MMSI:        200000000 + f.rng.Int63n(100000000),
		Timestamp:   f.now().UTC(),
		Lat:         -90 + f.rng.Float64()*180,
		Lon:         -180 + f.rng.Float64()*360,
		Course:      f.rng.Float64() * 360,
		Speed:       f.rng.Float64() * 20,
		Heading:     f.rng.Float64() * 360,
		NavStat:     f.rng.Intn(16),
		IMO:         imo,
		Name:        fmt.Sprintf("TEST VESSEL %d", imo%1000),
		Callsign:    fmt.Sprintf("TC%04d", f.rng.Intn(10000)),
		ShipType:    70 + f.rng.Intn(20),
		Draught:     f.rng.Float64() * 15,
		Destination: "ROTTERDAM",
		Locode:      "NLRTM",
		ETA:         f.now().Add(72 * time.Hour).UTC().Format(time.RFC3339),
		Source:      src,
		DistanceRem: f.rng.Float64() * 1000,
		ETAPred:     f.now().Add(70 * time.Hour).UTC().Format(time.RFC3339),
	}
	return []domain.PositionSample{s}, nil
}

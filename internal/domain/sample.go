package domain

import "time"

// TransportID identifies a tracked vessel or truck in the catalog.
type TransportID string

// Transport is a catalog entry for a trackable vessel.
type Transport struct {
	ID   TransportID `json:"id"`
	Name string      `json:"name"`
	IMO  int64       `json:"imo_number"`
}

// SampleSource tells which receiver network produced a sample.
const (
	SourceTerrestrial = "TER"
	SourceSatellite   = "SAT"
)

// PositionSample is one AIS position report. Immutable once ingested.
type PositionSample struct {
	MMSI        int64     `json:"mmsi"`
	Timestamp   time.Time `json:"timestamp"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Course      float64   `json:"course"`
	Speed       float64   `json:"speed"`
	Heading     float64   `json:"heading"`
	NavStat     int       `json:"navstat"`
	IMO         int64     `json:"imo"`
	Name        string    `json:"name"`
	Callsign    string    `json:"callsign"`
	ShipType    int       `json:"ship_type"`
	DimA        int       `json:"dim_a"`
	DimB        int       `json:"dim_b"`
	DimC        int       `json:"dim_c"`
	DimD        int       `json:"dim_d"`
	Draught     float64   `json:"draught"`
	Destination string    `json:"destination"`
	Locode      string    `json:"locode"`
	ETA         string    `json:"eta"`
	Source      string    `json:"src"`
	Zone        string    `json:"zone"`
	ECA         bool      `json:"eca"`
	DistanceRem float64   `json:"distance_remaining"`
	ETAPred     string    `json:"eta_predicted"`
}

// Fields returns the sample as a name → value map for criteria lookup.
// Keys match the JSON field names used by rule criteria.
func (s PositionSample) Fields() map[string]any {
	return map[string]any{
		"mmsi":               s.MMSI,
		"timestamp":          s.Timestamp,
		"lat":                s.Lat,
		"lon":                s.Lon,
		"course":             s.Course,
		"speed":              s.Speed,
		"heading":            s.Heading,
		"navstat":            s.NavStat,
		"imo":                s.IMO,
		"name":               s.Name,
		"callsign":           s.Callsign,
		"ship_type":          s.ShipType,
		"dim_a":              s.DimA,
		"dim_b":              s.DimB,
		"dim_c":              s.DimC,
		"dim_d":              s.DimD,
		"draught":            s.Draught,
		"destination":        s.Destination,
		"locode":             s.Locode,
		"eta":                s.ETA,
		"src":                s.Source,
		"zone":               s.Zone,
		"eca":                s.ECA,
		"distance_remaining": s.DistanceRem,
		"eta_predicted":      s.ETAPred,
	}
}

// CustomField is an ad-hoc value attached to a bucket by the surrounding
// application. On read it shadows a sample field of the same name.
type CustomField struct {
	Name      string    `json:"field_name"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Bucket holds the position samples of one transport for a fixed time
// window [Start, End). At most one bucket per transport covers any instant.
type Bucket struct {
	ID           string           `json:"id"`
	TransportID  TransportID      `json:"transport_id"`
	Start        time.Time        `json:"start_date"`
	End          time.Time        `json:"end_date"`
	Samples      []PositionSample `json:"samples"`
	CustomFields []CustomField    `json:"custom_fields"`
}

// Covers reports whether t falls inside the bucket window.
func (b Bucket) Covers(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

// Latest returns the sample with the maximum timestamp. The second return
// is false for an empty bucket. Ties keep the earliest-appended sample, so
// the choice is deterministic for a fixed ingest order.
func (b Bucket) Latest() (PositionSample, bool) {
	if len(b.Samples) == 0 {
		return PositionSample{}, false
	}
	latest := b.Samples[0]
	for _, s := range b.Samples[1:] {
		if s.Timestamp.After(latest.Timestamp) {
			latest = s
		}
	}
	return latest, true
}

package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/dispatch-console/internal/models"
)

// Index is an in-memory candidate pool fed by driver telemetry.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverTelemetry
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.DriverTelemetry)}
}

func (g *Index) Upsert(ctx context.Context, d models.DriverTelemetry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	g.drivers[d.ID] = d
	return nil
}

// naive scan; in prod use geo-hash or H3
func (g *Index) Candidates(ctx context.Context, near models.Coord, limit int) ([]models.CandidateDriver, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.CandidateDriver, 0, len(g.drivers))
	for _, d := range g.drivers {
		if !d.Online {
			continue
		}
		out = append(out, Candidate(d, Haversine(near.Lat, near.Lon, d.Loc.Lat, d.Loc.Lon)/1000))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Online counts drivers currently reporting online.
func (g *Index) Online() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, d := range g.drivers {
		if d.Online {
			n++
		}
	}
	return n
}

// Candidate projects telemetry into matching input at the given distance.
func Candidate(d models.DriverTelemetry, distanceKm float64) models.CandidateDriver {
	return models.CandidateDriver{
		ID:              d.ID,
		DistanceKm:      math.Round(distanceKm*100) / 100,
		BatteryPct:      d.BatteryPct,
		ActiveTripCount: d.ActiveTripCount,
		VehicleLabel:    d.VehicleLabel,
	}
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

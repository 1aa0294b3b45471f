package eta

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/example/dispatch-console/internal/models"
)

// Router is the interface used by the estimator to get road distances.
type Router interface {
	Route(ctx context.Context, from, to models.Coord) (Route, error)
}

type Route struct {
	DistanceKm  float64
	DurationMin float64
}

// Cache is a tiny in-memory cache for route lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  Route
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (Route, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return Route{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return Route{}, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.Coord, v Route) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// Field names the estimator reads from a draft.
const (
	FieldTripDistanceKm = "tripDistanceKm"
	FieldEstDurationMin = "estDurationMin"
	FieldPickupLat      = "pickupLat"
	FieldPickupLng      = "pickupLng"
	FieldDropoffLat     = "dropoffLat"
	FieldDropoffLng     = "dropoffLng"
)

// Estimator derives trip parameters from draft fields.
type Estimator struct {
	Router            Router // optional OSRM client
	Cache             *Cache // optional route cache
	SpeedKmh          float64
	DefaultDistanceKm float64
	DetourFactor      float64 // straight line to road distance
}

func NewEstimator(speedKmh float64) *Estimator {
	return &Estimator{SpeedKmh: speedKmh, DefaultDistanceKm: 5, DetourFactor: 1.3}
}

// Trip resolves distance then duration: explicit fields win, then the router,
// then straight-line distance, then DefaultDistanceKm.
func (e *Estimator) Trip(ctx context.Context, f models.Fields) models.TripParams {
	var trip models.TripParams
	dist, hasDist := Number(f[FieldTripDistanceKm])
	dur, hasDur := Number(f[FieldEstDurationMin])
	if hasDist && dist >= 0 {
		trip.DistanceKm = dist
	}
	from, okFrom := coord(f, FieldPickupLat, FieldPickupLng)
	to, okTo := coord(f, FieldDropoffLat, FieldDropoffLng)

	if !hasDist && okFrom && okTo {
		if r, ok := e.route(ctx, from, to); ok {
			trip.DistanceKm = r.DistanceKm
			if !hasDur {
				dur, hasDur = r.DurationMin, true
			}
		} else {
			factor := e.DetourFactor
			if factor <= 0 {
				factor = 1
			}
			trip.DistanceKm = haversine(from.Lat, from.Lon, to.Lat, to.Lon) / 1000 * factor
		}
		hasDist = true
	}
	if !hasDist {
		trip.DistanceKm = e.DefaultDistanceKm
	}
	if hasDur && dur >= 0 {
		trip.EstDurationMin = dur
	} else {
		trip.EstDurationMin = EstimateMinutes(trip.DistanceKm, e.SpeedKmh)
	}
	trip.DistanceKm = round2(trip.DistanceKm)
	trip.EstDurationMin = round2(trip.EstDurationMin)
	return trip
}

func (e *Estimator) route(ctx context.Context, from, to models.Coord) (Route, bool) {
	if e.Router == nil {
		return Route{}, false
	}
	if e.Cache != nil {
		if r, ok := e.Cache.Get(from, to); ok {
			return r, true
		}
	}
	r, err := e.Router.Route(ctx, from, to)
	if err != nil {
		return Route{}, false
	}
	if e.Cache != nil {
		e.Cache.Set(from, to, r)
	}
	return r, true
}

// Pickup returns the pickup coordinate of a draft, if it carries one.
func Pickup(f models.Fields) (models.Coord, bool) {
	return coord(f, FieldPickupLat, FieldPickupLng)
}

// Naive ETA: distance / speed. In prod use a routing engine.
func EstimateMinutes(distanceKm, speedKmh float64) float64 {
	if speedKmh <= 0 {
		speedKmh = 28.8 // default city speed
	}
	return distanceKm / speedKmh * 60
}

// Number accepts JSON numbers and numeric strings from form inputs.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func coord(f models.Fields, latKey, lngKey string) (models.Coord, bool) {
	lat, ok1 := Number(f[latKey])
	lng, ok2 := Number(f[lngKey])
	if !ok1 || !ok2 {
		return models.Coord{}, false
	}
	return models.Coord{Lat: lat, Lon: lng}, true
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// local haversine to avoid import cycle
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

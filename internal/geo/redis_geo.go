package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/dispatch-console/internal/models"
)

// RedisPool implements the candidate pool using Redis GEO commands, so every
// server replica and the telemetry consumer share one fleet view.
type RedisPool struct {
	client   *redis.Client
	key      string
	radiusKm float64
}

func NewRedisPool(client *redis.Client, key string, radiusKm float64) *RedisPool {
	if radiusKm <= 0 {
		radiusKm = 15
	}
	return &RedisPool{client: client, key: key, radiusKm: radiusKm}
}

// Upsert records d's position and metadata. An offline driver leaves the GEO
// set so radius queries only rank drivers who can take a trip.
func (r *RedisPool) Upsert(ctx context.Context, d models.DriverTelemetry) error {
	if d.Online {
		if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: d.ID}).Err(); err != nil {
			return fmt.Errorf("geoadd %s: %w", d.ID, err)
		}
	} else if err := r.client.ZRem(ctx, r.key, d.ID).Err(); err != nil {
		return fmt.Errorf("geo remove %s: %w", d.ID, err)
	}
	return r.client.HSet(ctx, MetaKey(d.ID), MetaFields(d)).Err()
}

func (r *RedisPool) Candidates(ctx context.Context, near models.Coord, limit int) ([]models.CandidateDriver, error) {
	res, err := r.client.GeoRadius(ctx, r.key, near.Lon, near.Lat, &redis.GeoRadiusQuery{Radius: r.radiusKm, Unit: "km", WithDist: true, Count: overfetch(limit), Sort: "ASC"}).Result()
	if err != nil {
		return nil, err
	}
	return collectOnline(res, func(id string) (map[string]string, error) {
		return r.client.HGetAll(ctx, MetaKey(id)).Result()
	}, limit)
}

// overfetch widens the GEO query so entries written offline by an older
// consumer do not crowd out online drivers.
func overfetch(limit int) int {
	if limit <= 0 {
		return 0
	}
	return limit * 3
}

// collectOnline keeps online drivers from a distance-sorted GEO result, up to
// limit when limit is positive.
func collectOnline(res []redis.GeoLocation, meta func(id string) (map[string]string, error), limit int) ([]models.CandidateDriver, error) {
	out := make([]models.CandidateDriver, 0, len(res))
	for _, g := range res {
		if limit > 0 && len(out) == limit {
			break
		}
		m, err := meta(g.Name)
		if err != nil {
			return nil, fmt.Errorf("driver meta %s: %w", g.Name, err)
		}
		d := ParseMeta(g.Name, m)
		if !d.Online {
			continue
		}
		out = append(out, Candidate(d, g.Dist))
	}
	return out, nil
}

func MetaKey(id string) string { return "driver:meta:" + id }

// MetaFields is the hash stored next to a driver's GEO entry.
func MetaFields(d models.DriverTelemetry) map[string]interface{} {
	return map[string]interface{}{
		"battery_pct":  strconv.FormatFloat(d.BatteryPct, 'f', -1, 64),
		"active_trips": strconv.Itoa(d.ActiveTripCount),
		"vehicle":      d.VehicleLabel,
		"online":       strconv.FormatBool(d.Online),
		"updated":      time.Now().Format(time.RFC3339),
	}
}

// ParseMeta is the inverse of MetaFields; unparsable values read as zero.
func ParseMeta(id string, m map[string]string) models.DriverTelemetry {
	d := models.DriverTelemetry{ID: id, VehicleLabel: m["vehicle"], Online: m["online"] == "true"}
	if f, err := strconv.ParseFloat(m["battery_pct"], 64); err == nil {
		d.BatteryPct = f
	}
	if n, err := strconv.Atoi(m["active_trips"]); err == nil {
		d.ActiveTripCount = n
	}
	if t, err := time.Parse(time.RFC3339, m["updated"]); err == nil {
		d.Updated = t
	}
	return d
}

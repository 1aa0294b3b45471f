package eta

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dispatch-console/internal/models"
)

type countingRouter struct {
	calls int
	route Route
	err   error
}

func (c *countingRouter) Route(ctx context.Context, from, to models.Coord) (Route, error) {
	c.calls++
	return c.route, c.err
}

func TestTripExplicitFieldsWin(t *testing.T) {
	e := NewEstimator(30)
	trip := e.Trip(context.Background(), models.Fields{"tripDistanceKm": 12.0, "estDurationMin": "18"})
	assert.Equal(t, models.TripParams{DistanceKm: 12, EstDurationMin: 18}, trip)
}

func TestTripDefaultsWithoutHints(t *testing.T) {
	e := NewEstimator(30)
	trip := e.Trip(context.Background(), models.Fields{"pickup": "Nakasero Hill"})
	assert.Equal(t, 5.0, trip.DistanceKm)
	assert.Equal(t, 10.0, trip.EstDurationMin)
}

func TestTripUsesRouterAndCache(t *testing.T) {
	r := &countingRouter{route: Route{DistanceKm: 7.5, DurationMin: 21}}
	e := NewEstimator(30)
	e.Router = r
	e.Cache = NewCache(time.Minute)
	f := models.Fields{"pickupLat": 0.31, "pickupLng": 32.58, "dropoffLat": 0.32, "dropoffLng": 32.62}

	for i := 0; i < 3; i++ {
		trip := e.Trip(context.Background(), f)
		assert.Equal(t, models.TripParams{DistanceKm: 7.5, EstDurationMin: 21}, trip)
	}
	assert.Equal(t, 1, r.calls)
}

func TestTripFallsBackToStraightLine(t *testing.T) {
	e := NewEstimator(60)
	e.Router = &countingRouter{err: errors.New("osrm down")}
	e.DetourFactor = 1
	f := models.Fields{"pickupLat": 0.0, "pickupLng": 32.0, "dropoffLat": 0.1, "dropoffLng": 32.0}

	trip := e.Trip(context.Background(), f)
	assert.InDelta(t, 11.12, trip.DistanceKm, 0.01)
	assert.InDelta(t, 11.12, trip.EstDurationMin, 0.01)
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(time.Nanosecond)
	a, b := models.Coord{Lat: 1}, models.Coord{Lat: 2}
	c.Set(a, b, Route{DistanceKm: 1})
	time.Sleep(time.Millisecond)
	_, ok := c.Get(a, b)
	assert.False(t, ok)
}

func TestOSRMClientRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/route/v1/driving/32.580000,0.310000;32.620000,0.320000") {
			http.Error(w, "bad path "+r.URL.Path, http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":8200,"duration":900}]}`))
	}))
	defer srv.Close()

	c := NewOSRMClient(srv.URL)
	r, err := c.Route(context.Background(), models.Coord{Lat: 0.31, Lon: 32.58}, models.Coord{Lat: 0.32, Lon: 32.62})
	require.NoError(t, err)
	assert.Equal(t, 8.2, r.DistanceKm)
	assert.Equal(t, 15.0, r.DurationMin)
}

func TestNumber(t *testing.T) {
	for _, v := range []any{3.0, 3, int64(3), "3"} {
		n, ok := Number(v)
		assert.True(t, ok)
		assert.Equal(t, 3.0, n)
	}
	_, ok := Number("three")
	assert.False(t, ok)
	_, ok = Number(nil)
	assert.False(t, ok)
}

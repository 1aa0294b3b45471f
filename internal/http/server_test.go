package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dispatch-console/internal/dispatch"
	"github.com/example/dispatch-console/internal/geo"
	"github.com/example/dispatch-console/internal/intake"
	"github.com/example/dispatch-console/internal/logging"
	"github.com/example/dispatch-console/internal/matcher"
	"github.com/example/dispatch-console/internal/models"
	"github.com/example/dispatch-console/internal/storage"
)

var depot = models.Coord{Lat: 0.3136, Lon: 32.5811}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	idx := geo.NewIndex()
	for _, d := range []models.DriverTelemetry{
		{ID: "D1", Loc: models.Coord{Lat: 0.3236, Lon: 32.5811}, BatteryPct: 78, Online: true},
		{ID: "D2", Loc: models.Coord{Lat: 0.3336, Lon: 32.5811}, BatteryPct: 32, ActiveTripCount: 1, Online: true},
		{ID: "D3", Loc: models.Coord{Lat: 0.3186, Lon: 32.5811}, BatteryPct: 22, ActiveTripCount: 2, Online: true},
	} {
		require.NoError(t, idx.Upsert(ctx, d))
	}
	log := logging.Discard()
	srv := NewServer(Options{
		Store: storage.NewMemoryStore(),
		Intake: intake.Deps{
			Matcher:  &matcher.Service{Pool: idx, Engine: matcher.NewEngine(nil, matcher.DefaultWeights(), log)},
			Depot:    depot,
			Notifier: dispatch.LogNotifier{Logger: log},
		},
		Fleet:  idx,
		Logger: log,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, ts *httptest.Server, method, path, session string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func rideFields() models.Fields {
	return models.Fields{
		"riderName":  "Sarah K.",
		"riderPhone": "+256700000000",
		"pickup":     "Nakasero Hill",
		"dropoff":    "Bugolobi Flats",
		"timeMode":   "now",
	}
}

func TestIntakeFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	const sid = "op-1"

	code, _ := call(t, ts, http.MethodPost, "/api/v1/intake/service", sid, map[string]any{"serviceType": "ride"})
	require.Equal(t, http.StatusCreated, code)

	incomplete := rideFields()
	delete(incomplete, "dropoff")
	code, body := call(t, ts, http.MethodPost, "/api/v1/intake/details", sid, map[string]any{"fields": incomplete})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	var eb errorBody
	require.NoError(t, json.Unmarshal(body, &eb))
	require.Len(t, eb.Fields, 1)
	assert.Equal(t, "dropoff", eb.Fields[0].Field)

	code, _ = call(t, ts, http.MethodPost, "/api/v1/intake/details", sid, map[string]any{"fields": rideFields()})
	require.Equal(t, http.StatusOK, code)

	code, body = call(t, ts, http.MethodGet, "/api/v1/intake/drivers", sid, nil)
	require.Equal(t, http.StatusOK, code)
	var a intake.Assignment
	require.NoError(t, json.Unmarshal(body, &a))
	assert.Equal(t, "D1", a.Result.Default)
	require.Len(t, a.Result.Verdicts, 3)

	code, _ = call(t, ts, http.MethodPost, "/api/v1/intake/driver", sid, map[string]any{"driverId": "D3"})
	assert.Equal(t, http.StatusConflict, code)
	code, _ = call(t, ts, http.MethodPost, "/api/v1/intake/driver", sid, map[string]any{"driverId": "D3", "override": true})
	require.Equal(t, http.StatusOK, code)

	code, body = call(t, ts, http.MethodPost, "/api/v1/intake/confirm", sid, nil)
	require.Equal(t, http.StatusCreated, code)
	var b models.Booking
	require.NoError(t, json.Unmarshal(body, &b))
	assert.Equal(t, "D3", b.DriverID)
	assert.True(t, b.DriverOverride)

	code, body = call(t, ts, http.MethodGet, "/api/v1/bookings", sid, nil)
	require.Equal(t, http.StatusOK, code)
	var list []models.Booking
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)

	code, _ = call(t, ts, http.MethodPost, "/api/v1/intake/confirm", sid, nil)
	assert.Equal(t, http.StatusConflict, code)

	// other sessions see nothing
	code, body = call(t, ts, http.MethodGet, "/api/v1/bookings", "op-2", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, "[]", string(body))
}

func TestResumeWithoutDraftFallsBack(t *testing.T) {
	ts := newTestServer(t)
	code, body := call(t, ts, http.MethodGet, "/api/v1/intake/draft", "fresh", nil)
	require.Equal(t, http.StatusOK, code)
	var snap intake.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.True(t, snap.FellBack)
	assert.Equal(t, models.ServiceRide, snap.Draft.ServiceType)
}

func TestSessionIDIssuedWhenMissing(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/intake/draft")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get(SessionHeader))
}

func TestSavedDrafts(t *testing.T) {
	ts := newTestServer(t)
	const sid = "op-3"
	code, _ := call(t, ts, http.MethodPost, "/api/v1/drafts", sid, map[string]any{"title": "none yet"})
	assert.Equal(t, http.StatusConflict, code)

	call(t, ts, http.MethodPost, "/api/v1/intake/service", sid, map[string]any{"serviceType": "ems"})
	call(t, ts, http.MethodPatch, "/api/v1/intake/draft/fields", sid, models.Fields{"patient": "J. Okello"})
	code, body := call(t, ts, http.MethodPost, "/api/v1/drafts", sid, map[string]any{"title": "Okello transfer"})
	require.Equal(t, http.StatusCreated, code)
	var sd models.SavedDraft
	require.NoError(t, json.Unmarshal(body, &sd))

	call(t, ts, http.MethodDelete, "/api/v1/intake/draft", sid, nil)
	code, body = call(t, ts, http.MethodPost, "/api/v1/drafts/"+sd.ID+"/restore", sid, nil)
	require.Equal(t, http.StatusOK, code)
	var d models.Draft
	require.NoError(t, json.Unmarshal(body, &d))
	assert.Equal(t, "J. Okello", d.Fields["patient"])

	code, _ = call(t, ts, http.MethodDelete, "/api/v1/drafts/"+sd.ID, sid, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = call(t, ts, http.MethodDelete, "/api/v1/drafts/"+sd.ID, sid, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestBoardReadStateAcrossRequests(t *testing.T) {
	ts := newTestServer(t)
	const sid = "op-4"
	code, _ := call(t, ts, http.MethodPost, "/api/v1/views/bookings/read/BK-2048", sid, nil)
	require.Equal(t, http.StatusNoContent, code)

	code, body := call(t, ts, http.MethodGet, "/api/v1/views/bookings/read", sid, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"class":"bookings","ids":["BK-2048"]}`, string(body))

	code, _ = call(t, ts, http.MethodDelete, "/api/v1/views/bookings/read", sid, nil)
	require.Equal(t, http.StatusNoContent, code)
	_, body = call(t, ts, http.MethodGet, "/api/v1/views/bookings/read", sid, nil)
	assert.JSONEq(t, `{"class":"bookings","ids":[]}`, string(body))

	code, _ = call(t, ts, http.MethodGet, "/api/v1/views/payroll/read", sid, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestConcurrentMarksInOneSession(t *testing.T) {
	ts := newTestServer(t)
	const sid = "op-5"
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/v1/views/bookings/read/BK-%04d", ts.URL, i), nil)
			if !assert.NoError(t, err) {
				return
			}
			req.Header.Set(SessionHeader, sid)
			resp, err := http.DefaultClient.Do(req)
			if assert.NoError(t, err) {
				resp.Body.Close()
				assert.Equal(t, http.StatusNoContent, resp.StatusCode)
			}
		}(i)
	}
	wg.Wait()

	_, body := call(t, ts, http.MethodGet, "/api/v1/views/bookings/read", sid, nil)
	var out struct {
		IDs []string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Len(t, out.IDs, 20)
}

func TestCaseStatusMonotonicOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	const sid = "op-5"
	code, _ := call(t, ts, http.MethodPut, "/api/v1/views/onboarding/status/C-1", sid, map[string]any{"status": "Approved"})
	require.Equal(t, http.StatusOK, code)
	code, _ = call(t, ts, http.MethodPut, "/api/v1/views/onboarding/status/C-1", sid, map[string]any{"status": "Under Review"})
	assert.Equal(t, http.StatusConflict, code)
	code, _ = call(t, ts, http.MethodPut, "/api/v1/views/onboarding/status/C-1", sid, map[string]any{"status": "Pending"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	_, body := call(t, ts, http.MethodGet, "/api/v1/views/onboarding/status", sid, nil)
	assert.JSONEq(t, `{"C-1":"Approved"}`, string(body))

	code, _ = call(t, ts, http.MethodPut, "/api/v1/views/onboarding/status/C-1", sid, map[string]any{"status": "Under Review", "reset": true})
	assert.Equal(t, http.StatusOK, code)
}

func TestTelemetryUpdatesPool(t *testing.T) {
	ts := newTestServer(t)
	code, _ := call(t, ts, http.MethodPost, "/internal/driver/telemetry", "", models.DriverTelemetry{ID: "D9", Loc: depot, BatteryPct: 95, Online: true})
	require.Equal(t, http.StatusNoContent, code)
	code, _ = call(t, ts, http.MethodPost, "/internal/driver/telemetry", "", models.DriverTelemetry{ID: "D10", BatteryPct: 140})
	assert.Equal(t, http.StatusBadRequest, code)

	call(t, ts, http.MethodPost, "/api/v1/intake/service", "op-6", map[string]any{"serviceType": "ride"})
	call(t, ts, http.MethodPost, "/api/v1/intake/details", "op-6", map[string]any{"fields": rideFields()})
	_, body := call(t, ts, http.MethodGet, "/api/v1/intake/drivers", "op-6", nil)
	var a intake.Assignment
	require.NoError(t, json.Unmarshal(body, &a))
	assert.Equal(t, "D9", a.Result.Default)
}

func TestRequirementsAndHealth(t *testing.T) {
	ts := newTestServer(t)
	code, body := call(t, ts, http.MethodGet, "/api/v1/intake/requirements/ems", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"serviceType":"ems","required":["patient","incidentType","priority","pickup"]}`, string(body))

	code, _ = call(t, ts, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

package matcher

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/example/dispatch-console/internal/logging"
	"github.com/example/dispatch-console/internal/models"
	"github.com/example/dispatch-console/internal/observability"
)

// Engine turns a candidate pool into ordered suitability verdicts.
type Engine struct {
	Policy  Policy
	Weights Weights
	log     *slog.Logger
}

func NewEngine(p Policy, w Weights, logger *slog.Logger) *Engine {
	if p == nil {
		p = DefaultBands()
	}
	return &Engine{Policy: p, Weights: w, log: logging.OrDiscard(logger)}
}

// Result is the engine output. Included verdicts come first, best first;
// excluded ones follow for display. Default is empty when nobody qualifies.
type Result struct {
	Trip     models.TripParams `json:"trip"`
	Verdicts []models.Verdict  `json:"verdicts"`
	Default  string            `json:"defaultDriverId,omitempty"`
}

func (r Result) Lookup(driverID string) (models.Verdict, bool) {
	return lookup(r.Verdicts, driverID)
}

// NoDrivers means the pool was empty.
func (r Result) NoDrivers() bool { return len(r.Verdicts) == 0 }

// NoSuitable means nobody in the pool was included.
func (r Result) NoSuitable() bool { return r.Default == "" }

func lookup(verdicts []models.Verdict, driverID string) (models.Verdict, bool) {
	for _, v := range verdicts {
		if v.DriverID == driverID {
			return v, true
		}
	}
	return models.Verdict{}, false
}

// Lookup finds a driver's verdict in a persisted verdict list.
func Lookup(verdicts []models.Verdict, driverID string) (models.Verdict, bool) {
	return lookup(verdicts, driverID)
}

// Evaluate never caches: every call recomputes from trip and pool.
func (e *Engine) Evaluate(trip models.TripParams, pool []models.CandidateDriver) Result {
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	type scored struct {
		d models.CandidateDriver
		v models.Verdict
	}
	list := make([]scored, 0, len(pool))
	for _, d := range pool {
		included, reason := e.Policy.Evaluate(trip, d)
		v := models.Verdict{DriverID: d.ID, Included: included, Reason: reason, Score: e.Weights.Score(d)}
		list = append(list, scored{d, v})
		observability.Verdicts.WithLabelValues(boolLabel(included)).Inc()
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.v.Included != b.v.Included {
			return a.v.Included
		}
		if a.v.Included && a.v.Score != b.v.Score {
			return a.v.Score > b.v.Score
		}
		if a.d.DistanceKm != b.d.DistanceKm {
			return a.d.DistanceKm < b.d.DistanceKm
		}
		return a.d.ID < b.d.ID
	})

	res := Result{Trip: trip, Verdicts: make([]models.Verdict, 0, len(list))}
	for _, s := range list {
		res.Verdicts = append(res.Verdicts, s.v)
	}
	if len(res.Verdicts) > 0 && res.Verdicts[0].Included {
		res.Default = res.Verdicts[0].DriverID
	}
	e.log.Debug("drivers_evaluated", "candidates", len(pool), "default_driver", res.Default)
	return res
}

// Pool supplies candidates near a pickup point.
type Pool interface {
	Candidates(ctx context.Context, near models.Coord, limit int) ([]models.CandidateDriver, error)
}

// Service looks candidates up in a pool and ranks them.
type Service struct {
	Pool   Pool
	Engine *Engine
	TopN   int
}

// Match evaluates the TopN nearest candidates. A pool error is returned; an
// empty pool is a valid result with no default.
func (s *Service) Match(ctx context.Context, near models.Coord, trip models.TripParams) (Result, error) {
	topN := s.TopN
	if topN <= 0 {
		topN = 10
	}
	cands, err := s.Pool.Candidates(ctx, near, topN)
	if err != nil {
		return Result{Trip: trip, Verdicts: []models.Verdict{}}, err
	}
	return s.Engine.Evaluate(trip, cands), nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

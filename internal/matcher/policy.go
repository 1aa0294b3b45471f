package matcher

import (
	"fmt"

	"github.com/example/dispatch-console/internal/models"
)

const (
	ReasonBatteryTooLow = "battery too low for requested distance"
	ReasonLimitedBuffer = "limited buffer for return trip"
)

// Policy decides whether a candidate can take a trip at all.
type Policy interface {
	Evaluate(trip models.TripParams, d models.CandidateDriver) (included bool, reason string)
}

type PolicyFunc func(trip models.TripParams, d models.CandidateDriver) (bool, string)

func (f PolicyFunc) Evaluate(trip models.TripParams, d models.CandidateDriver) (bool, string) {
	return f(trip, d)
}

// BatteryBands excludes on fixed battery thresholds and ignores the trip.
type BatteryBands struct {
	FloorPct  float64 `yaml:"floorPct"`
	BufferPct float64 `yaml:"bufferPct"`
}

func DefaultBands() BatteryBands { return BatteryBands{FloorPct: 30, BufferPct: 40} }

func (b BatteryBands) Evaluate(_ models.TripParams, d models.CandidateDriver) (bool, string) {
	switch {
	case d.BatteryPct < b.FloorPct:
		return false, ReasonBatteryTooLow
	case d.BatteryPct < b.BufferPct:
		return false, ReasonLimitedBuffer
	}
	return true, ""
}

// RangeAware derives the required charge from the pickup leg and trip
// distance. A driver must reach the dropoff with ReservePct left, and make it
// back the trip distance again to avoid the buffer exclusion.
type RangeAware struct {
	KmPerPct   float64 `yaml:"kmPerPct"`
	ReservePct float64 `yaml:"reservePct"`
}

func DefaultRangeAware() RangeAware { return RangeAware{KmPerPct: 2.5, ReservePct: 10} }

func (r RangeAware) Evaluate(trip models.TripParams, d models.CandidateDriver) (bool, string) {
	kmPerPct := r.KmPerPct
	if kmPerPct <= 0 {
		kmPerPct = DefaultRangeAware().KmPerPct
	}
	oneWay := d.DistanceKm + trip.DistanceKm
	needOneWay := oneWay/kmPerPct + r.ReservePct
	needRound := (oneWay+trip.DistanceKm)/kmPerPct + r.ReservePct
	switch {
	case d.BatteryPct < needOneWay:
		return false, ReasonBatteryTooLow
	case d.BatteryPct < needRound:
		return false, ReasonLimitedBuffer
	}
	return true, ""
}

// Weights scale the three ranking inputs. Score rises as the driver is
// closer, has fewer active trips and has more battery.
type Weights struct {
	Distance    float64 `yaml:"distance"`
	ActiveTrips float64 `yaml:"activeTrips"`
	Battery     float64 `yaml:"battery"`
}

func DefaultWeights() Weights { return Weights{Distance: 10, ActiveTrips: 15, Battery: 20} }

// Validate rejects negative weights, which would reward distance, load or a
// drained battery.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{"distance": w.Distance, "activeTrips": w.ActiveTrips, "battery": w.Battery} {
		if v < 0 {
			return fmt.Errorf("weight %s is negative: %g", name, v)
		}
	}
	return nil
}

func (w Weights) Score(d models.CandidateDriver) float64 {
	return w.Battery*d.BatteryPct/100 - w.Distance*d.DistanceKm - w.ActiveTrips*float64(d.ActiveTripCount)
}

// Package intake walks a booking through service selection, details,
// driver assignment and confirmation.
//
// Next is a pure transition function over State. Workflow is the adapter
// that loads the persisted draft, applies Next, and writes the result back;
// it keeps nothing in memory between calls, so each stage can run on its own.
package intake

import (
	"errors"
	"fmt"

	"github.com/example/dispatch-console/internal/draft"
	"github.com/example/dispatch-console/internal/matcher"
	"github.com/example/dispatch-console/internal/models"
)

var (
	ErrUnknownService    = errors.New("intake: unknown service type")
	ErrInvalidTransition = errors.New("intake: transition not allowed from this stage")
	ErrTerminal          = errors.New("intake: booking already finished")
	ErrNotEvaluated      = errors.New("intake: drivers have not been evaluated for the current details")
	ErrUnknownDriver     = errors.New("intake: driver is not in the evaluated pool")
	ErrDriverExcluded    = errors.New("intake: driver excluded by suitability policy")
	ErrNoDriverSelected  = errors.New("intake: no driver selected")
)

type State interface {
	Stage() models.Stage
}

type SelectingService struct{}

type FillingDetails struct {
	Service models.ServiceType
	Fields  models.Fields
}

type AssigningDriver struct {
	Service   models.ServiceType
	Fields    models.Fields
	Verdicts  []models.Verdict
	Evaluated bool
	DriverID  string
	Override  bool
}

type Confirmed struct {
	BookingID string
	DriverID  string
	Override  bool
}

type Cancelled struct{}

func (SelectingService) Stage() models.Stage { return models.StageSelectingService }
func (FillingDetails) Stage() models.Stage   { return models.StageFillingDetails }
func (AssigningDriver) Stage() models.Stage  { return models.StageAssigningDriver }
func (Confirmed) Stage() models.Stage        { return models.StageConfirmed }
func (Cancelled) Stage() models.Stage        { return models.StageCancelled }

type Event interface {
	event()
}

type ChooseService struct{ Service models.ServiceType }

type SubmitDetails struct{ Fields models.Fields }

type Evaluated struct{ Result matcher.Result }

type SelectDriver struct {
	DriverID string
	Override bool
}

type Confirm struct{ BookingID string }

type Cancel struct{}

func (ChooseService) event() {}
func (SubmitDetails) event() {}
func (Evaluated) event()     {}
func (SelectDriver) event()  {}
func (Confirm) event()       {}
func (Cancel) event()        {}

// Next returns the state reached by applying ev to s. On error s is unchanged.
func Next(s State, ev Event) (State, error) {
	if s.Stage().Terminal() {
		return s, ErrTerminal
	}
	if _, ok := ev.(Cancel); ok {
		return Cancelled{}, nil
	}

	switch cur := s.(type) {
	case SelectingService:
		if e, ok := ev.(ChooseService); ok {
			if _, ok := requirements[e.Service]; !ok {
				return s, fmt.Errorf("%w: %q", ErrUnknownService, e.Service)
			}
			return FillingDetails{Service: e.Service, Fields: models.Fields{}}, nil
		}

	case FillingDetails:
		if e, ok := ev.(SubmitDetails); ok {
			return submit(cur.Service, cur.Fields, e.Fields, s)
		}

	case AssigningDriver:
		switch e := ev.(type) {
		case SubmitDetails:
			// back to the form: new details invalidate verdicts and selection
			return submit(cur.Service, cur.Fields, e.Fields, s)
		case Evaluated:
			return cur.evaluated(e.Result), nil
		case SelectDriver:
			return cur.selectDriver(e)
		case Confirm:
			return cur.confirm(e)
		}
	}
	return s, fmt.Errorf("%w: %T in %s", ErrInvalidTransition, ev, s.Stage())
}

func submit(st models.ServiceType, have, incoming models.Fields, s State) (State, error) {
	merged := draft.Merge(have, incoming)
	if err := Validate(st, merged); err != nil {
		return s, err
	}
	return AssigningDriver{Service: st, Fields: merged}, nil
}

// evaluated keeps the current selection when it is still valid under the new
// verdicts and otherwise falls back to the engine's default.
func (a AssigningDriver) evaluated(r matcher.Result) AssigningDriver {
	a.Verdicts = r.Verdicts
	a.Evaluated = true
	if a.DriverID != "" {
		if v, ok := r.Lookup(a.DriverID); ok && (v.Included || a.Override) {
			return a
		}
	}
	a.DriverID = r.Default
	a.Override = false
	return a
}

func (a AssigningDriver) selectDriver(e SelectDriver) (State, error) {
	if !a.Evaluated {
		return a, ErrNotEvaluated
	}
	v, ok := matcher.Lookup(a.Verdicts, e.DriverID)
	if !ok {
		return a, fmt.Errorf("%w: %s", ErrUnknownDriver, e.DriverID)
	}
	if !v.Included && !e.Override {
		return a, fmt.Errorf("%w: %s: %s", ErrDriverExcluded, e.DriverID, v.Reason)
	}
	a.DriverID = e.DriverID
	a.Override = !v.Included
	return a, nil
}

func (a AssigningDriver) confirm(e Confirm) (State, error) {
	if a.DriverID == "" {
		return a, ErrNoDriverSelected
	}
	if !a.Evaluated {
		return a, ErrNotEvaluated
	}
	v, ok := matcher.Lookup(a.Verdicts, a.DriverID)
	if !ok {
		return a, fmt.Errorf("%w: %s", ErrUnknownDriver, a.DriverID)
	}
	if !v.Included && !a.Override {
		return a, fmt.Errorf("%w: %s: %s", ErrDriverExcluded, a.DriverID, v.Reason)
	}
	if err := Validate(a.Service, a.Fields); err != nil {
		return a, err
	}
	if e.BookingID == "" {
		return a, fmt.Errorf("%w: confirm without booking id", ErrInvalidTransition)
	}
	return Confirmed{BookingID: e.BookingID, DriverID: a.DriverID, Override: a.Override}, nil
}

// FromDraft rebuilds the machine state persisted in d.
func FromDraft(d models.Draft) State {
	switch d.Stage {
	case models.StageFillingDetails:
		return FillingDetails{Service: d.ServiceType, Fields: d.Fields}
	case models.StageAssigningDriver:
		verdicts, current := d.CurrentVerdicts()
		return AssigningDriver{
			Service:   d.ServiceType,
			Fields:    d.Fields,
			Verdicts:  verdicts,
			Evaluated: current,
			DriverID:  d.AssignedDriverID,
			Override:  d.AssignmentOverride,
		}
	case models.StageConfirmed:
		return Confirmed{DriverID: d.AssignedDriverID, Override: d.AssignmentOverride}
	case models.StageCancelled:
		return Cancelled{}
	}
	return SelectingService{}
}

// DefaultDraft is what a stage works with when nothing is persisted.
func DefaultDraft() models.Draft {
	return models.Draft{ServiceType: models.ServiceRide, Fields: models.Fields{}, Stage: models.StageFillingDetails}
}

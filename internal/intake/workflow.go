package intake

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/dispatch-console/internal/bookings"
	"github.com/example/dispatch-console/internal/draft"
	"github.com/example/dispatch-console/internal/eta"
	"github.com/example/dispatch-console/internal/logging"
	"github.com/example/dispatch-console/internal/matcher"
	"github.com/example/dispatch-console/internal/models"
	"github.com/example/dispatch-console/internal/observability"
	"github.com/example/dispatch-console/internal/storage"
)

// BookingPublisher announces confirmed bookings (Kafka in production).
type BookingPublisher interface {
	PublishBooking(ctx context.Context, b models.Booking) error
}

// DriverNotifier tells the assigned driver about a confirmed booking.
type DriverNotifier interface {
	BookingAssigned(ctx context.Context, b models.Booking) error
}

// Deps are the session-independent collaborators shared by every Workflow.
type Deps struct {
	Matcher   *matcher.Service
	Estimator *eta.Estimator
	// Depot is the search origin when a draft has no pickup coordinates.
	Depot     models.Coord
	Publisher BookingPublisher
	Notifier  DriverNotifier
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

// Workflow drives one session's booking through the intake stages.
type Workflow struct {
	kv     storage.KV
	drafts *draft.Store
	deps   Deps
	log    *slog.Logger
}

func NewWorkflow(kv storage.KV, deps Deps) *Workflow {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = bookings.NewID
	}
	if deps.Estimator == nil {
		deps.Estimator = eta.NewEstimator(0)
	}
	log := logging.OrDiscard(deps.Logger)
	return &Workflow{kv: kv, drafts: draft.New(kv, log, draft.WithClock(deps.Now)), deps: deps, log: log}
}

// Drafts exposes the underlying draft store for saved-draft operations.
func (w *Workflow) Drafts() *draft.Store { return w.drafts }

// Snapshot is what a stage renders on mount.
type Snapshot struct {
	Draft    models.Draft `json:"draft"`
	Stage    models.Stage `json:"stage"`
	FellBack bool         `json:"fellBack"`
}

// Resume reads the persisted draft. Without one it returns DefaultDraft and
// writes nothing.
func (w *Workflow) Resume(ctx context.Context) Snapshot {
	d, ok := w.drafts.ReadDraft(ctx)
	if !ok {
		d = DefaultDraft()
		return Snapshot{Draft: d, Stage: d.Stage, FellBack: true}
	}
	return Snapshot{Draft: d, Stage: FromDraft(d).Stage()}
}

// Start begins a new booking for st, discarding any unfinished draft.
func (w *Workflow) Start(ctx context.Context, st models.ServiceType) (models.Draft, error) {
	if _, err := Next(SelectingService{}, ChooseService{Service: st}); err != nil {
		return models.Draft{}, err
	}
	return w.drafts.StartDraft(ctx, st)
}

// SaveProgress merges partial form input without validating it, so a stage
// can autosave while the operator types. Edits made during driver assignment
// send the draft back to the form, and SubmitDetails must pass again.
func (w *Workflow) SaveProgress(ctx context.Context, fields models.Fields) (models.Draft, error) {
	d, ok := w.drafts.ReadDraft(ctx)
	if !ok {
		return models.Draft{}, draft.ErrNoActiveDraft
	}
	if d.Stage != models.StageFillingDetails && d.Stage != models.StageAssigningDriver {
		return models.Draft{}, ErrInvalidTransition
	}
	saved, err := w.drafts.MergeFields(ctx, fields)
	if err != nil || saved.Stage != models.StageAssigningDriver {
		return saved, err
	}
	return w.drafts.SetStage(ctx, models.StageFillingDetails)
}

// SubmitDetails validates the form and moves the draft to driver assignment.
// A *ValidationError leaves the draft untouched.
func (w *Workflow) SubmitDetails(ctx context.Context, fields models.Fields) (models.Draft, error) {
	d, ok := w.drafts.ReadDraft(ctx)
	if !ok {
		return models.Draft{}, draft.ErrNoActiveDraft
	}
	if _, err := Next(FromDraft(d), SubmitDetails{Fields: fields}); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			observability.ValidationFailures.WithLabelValues(string(d.ServiceType)).Inc()
			w.log.Info("details_rejected", "draft_id", d.ID, "service_type", d.ServiceType, "missing", len(verr.Errors))
		}
		return d, err
	}
	if _, err := w.drafts.MergeFields(ctx, fields); err != nil {
		return d, err
	}
	return w.drafts.SetStage(ctx, models.StageAssigningDriver)
}

// Assignment is the driver-assignment stage's view.
type Assignment struct {
	Draft    models.Draft   `json:"draft"`
	Result   matcher.Result `json:"result"`
	FellBack bool           `json:"fellBack"`
}

// Evaluate ranks the pool for the draft's trip and records the verdicts. With
// no persisted draft it ranks for DefaultDraft and records nothing.
func (w *Workflow) Evaluate(ctx context.Context) (Assignment, error) {
	d, ok := w.drafts.ReadDraft(ctx)
	fellBack := !ok
	if fellBack {
		d = DefaultDraft()
	}
	near := w.deps.Depot
	if p, ok := eta.Pickup(d.Fields); ok {
		near = p
	}
	trip := w.deps.Estimator.Trip(ctx, d.Fields)
	res, err := w.deps.Matcher.Match(ctx, near, trip)
	if err != nil {
		w.log.Error("candidate_pool_failed", "error", err)
		return Assignment{Draft: d, Result: res, FellBack: fellBack}, err
	}
	if fellBack {
		return Assignment{Draft: d, Result: res, FellBack: true}, nil
	}
	return w.record(ctx, d, res)
}

// EvaluateCandidates is Evaluate against an explicit pool.
func (w *Workflow) EvaluateCandidates(ctx context.Context, pool []models.CandidateDriver) (Assignment, error) {
	d, ok := w.drafts.ReadDraft(ctx)
	if !ok {
		d = DefaultDraft()
		res := w.deps.Matcher.Engine.Evaluate(w.deps.Estimator.Trip(ctx, d.Fields), pool)
		return Assignment{Draft: d, Result: res, FellBack: true}, nil
	}
	res := w.deps.Matcher.Engine.Evaluate(w.deps.Estimator.Trip(ctx, d.Fields), pool)
	return w.record(ctx, d, res)
}

func (w *Workflow) record(ctx context.Context, d models.Draft, res matcher.Result) (Assignment, error) {
	next, err := Next(FromDraft(d), Evaluated{Result: res})
	if err != nil {
		return Assignment{Draft: d, Result: res}, err
	}
	a := next.(AssigningDriver)
	d, err = w.drafts.RecordVerdicts(ctx, res.Verdicts)
	if err != nil {
		return Assignment{Draft: d, Result: res}, err
	}
	if a.DriverID != d.AssignedDriverID || a.Override != d.AssignmentOverride {
		if d, err = w.drafts.SetAssignedDriver(ctx, a.DriverID, a.Override); err != nil {
			return Assignment{Draft: d, Result: res}, err
		}
	}
	if res.NoDrivers() {
		w.log.Info("no_drivers_available", "draft_id", d.ID)
	}
	return Assignment{Draft: d, Result: res}, nil
}

// AssignDriver selects driverID. An excluded driver needs override, which is
// recorded on the draft and logged separately from a normal assignment.
func (w *Workflow) AssignDriver(ctx context.Context, driverID string, override bool) (models.Draft, error) {
	d, ok := w.drafts.ReadDraft(ctx)
	if !ok {
		return models.Draft{}, draft.ErrNoActiveDraft
	}
	next, err := Next(FromDraft(d), SelectDriver{DriverID: driverID, Override: override})
	if err != nil {
		if errors.Is(err, ErrDriverExcluded) {
			w.log.Warn("driver_assignment_rejected", "draft_id", d.ID, "driver_id", driverID, "error", err)
		}
		return d, err
	}
	a := next.(AssigningDriver)
	d, err = w.drafts.SetAssignedDriver(ctx, a.DriverID, a.Override)
	if err != nil {
		return d, err
	}
	if a.Override {
		observability.AssignmentOverride.Inc()
		v, _ := matcher.Lookup(a.Verdicts, a.DriverID)
		w.log.Warn("driver_assignment_override", "draft_id", d.ID, "driver_id", a.DriverID, "excluded_reason", v.Reason)
	} else {
		w.log.Info("driver_assigned", "draft_id", d.ID, "driver_id", a.DriverID)
	}
	return d, nil
}

// Confirm turns the draft into a booking record. The append and the draft
// clear are committed together when the substrate supports batches.
func (w *Workflow) Confirm(ctx context.Context) (models.Booking, error) {
	d, ok := w.drafts.ReadDraft(ctx)
	if !ok {
		return models.Booking{}, draft.ErrNoActiveDraft
	}
	next, err := Next(FromDraft(d), Confirm{BookingID: w.deps.NewID()})
	if err != nil {
		return models.Booking{}, err
	}
	c := next.(Confirmed)
	b := models.Booking{
		ID:             c.BookingID,
		DraftID:        d.ID,
		ServiceType:    d.ServiceType,
		Fields:         d.Fields,
		DriverID:       c.DriverID,
		DriverOverride: c.Override,
		CreatedAt:      w.deps.Now(),
	}
	atomic, err := storage.RunAtomic(ctx, w.kv, func(tx storage.KV) error {
		stored, err := bookings.New(tx).Append(ctx, b)
		if err != nil {
			return err
		}
		b = stored
		return draft.New(tx, w.log).ClearDraft(ctx)
	})
	if err != nil {
		w.log.Error("booking_confirm_failed", "draft_id", d.ID, "error", err)
		return models.Booking{}, err
	}
	observability.BookingsConfirmed.WithLabelValues(string(b.ServiceType)).Inc()
	w.log.Info("booking_confirmed", "booking_id", b.ID, "draft_id", d.ID, "driver_id", b.DriverID, "override", b.DriverOverride, "atomic", atomic)

	if w.deps.Publisher != nil {
		if err := w.deps.Publisher.PublishBooking(ctx, b); err != nil {
			w.log.Warn("booking_publish_failed", "booking_id", b.ID, "error", err)
		}
	}
	if w.deps.Notifier != nil {
		if err := w.deps.Notifier.BookingAssigned(ctx, b); err != nil {
			w.log.Warn("driver_notify_failed", "booking_id", b.ID, "driver_id", b.DriverID, "error", err)
		}
	}
	return b, nil
}

// Cancel discards the draft. Cancelling with nothing in progress is a no-op.
func (w *Workflow) Cancel(ctx context.Context) error {
	d, ok := w.drafts.ReadDraft(ctx)
	if !ok {
		return nil
	}
	if _, err := Next(FromDraft(d), Cancel{}); err != nil {
		return err
	}
	if err := w.drafts.ClearDraft(ctx); err != nil {
		return err
	}
	w.log.Info("draft_cancelled", "draft_id", d.ID)
	return nil
}

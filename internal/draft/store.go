// Package draft persists the single in-progress booking of a session and the
// operator's named, saved snapshots of it.
package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/dispatch-console/internal/logging"
	"github.com/example/dispatch-console/internal/models"
	"github.com/example/dispatch-console/internal/observability"
	"github.com/example/dispatch-console/internal/storage"
)

var (
	ErrNoActiveDraft      = errors.New("draft: no active draft")
	ErrServiceTypeLocked  = errors.New("draft: service type cannot change once set")
	ErrSavedDraftNotFound = errors.New("draft: saved draft not found")
)

// Store is safe to construct per request: it holds no state besides the
// substrate handle.
type Store struct {
	kv    storage.KV
	log   *slog.Logger
	now   func() time.Time
	newID func() string
}

type Option func(*Store)

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func WithIDs(newID func() string) Option { return func(s *Store) { s.newID = newID } }

func New(kv storage.KV, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{kv: kv, log: logging.OrDiscard(logger), now: time.Now, newID: uuid.NewString}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StartDraft replaces any active draft with a fresh one for st.
func (s *Store) StartDraft(ctx context.Context, st models.ServiceType) (models.Draft, error) {
	now := s.now()
	d := models.Draft{
		ID:          s.newID(),
		ServiceType: st,
		Fields:      models.Fields{},
		Stage:       models.StageFillingDetails,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := storage.SaveJSON(ctx, s.kv, storage.KeyDraft, d); err != nil {
		return models.Draft{}, err
	}
	observability.DraftsStarted.WithLabelValues(string(st)).Inc()
	s.log.Info("draft_started", "draft_id", d.ID, "service_type", st)
	return d, nil
}

// ReadDraft returns the active draft. Missing or unreadable state reads as none.
func (s *Store) ReadDraft(ctx context.Context) (models.Draft, bool) {
	var d models.Draft
	err := storage.LoadJSON(ctx, s.kv, storage.KeyDraft, &d)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return models.Draft{}, false
	case errors.Is(err, storage.ErrCorrupt):
		s.log.Warn("draft_unreadable", "error", err)
		return models.Draft{}, false
	case err != nil:
		s.log.Error("draft_read_failed", "error", err)
		return models.Draft{}, false
	}
	if d.ServiceType == "" {
		return models.Draft{}, false
	}
	if d.Fields == nil {
		d.Fields = models.Fields{}
	}
	return d, true
}

// MergeFields deep-merges partial into the draft's fields. Keys absent from
// partial are kept. Any earlier verdicts and assignment are dropped because
// the trip they were computed for may have changed.
func (s *Store) MergeFields(ctx context.Context, partial models.Fields) (models.Draft, error) {
	return s.update(ctx, "merge_fields", func(d *models.Draft) error {
		if v, ok := partial["serviceType"]; ok {
			if fmt.Sprint(v) != string(d.ServiceType) {
				return ErrServiceTypeLocked
			}
		}
		incoming := make(models.Fields, len(partial))
		for k, v := range partial {
			if k != "serviceType" {
				incoming[k] = v
			}
		}
		d.Fields = Merge(d.Fields, incoming)
		d.Revision++
		d.Verdicts = nil
		d.VerdictRevision = 0
		d.AssignedDriverID = ""
		d.AssignmentOverride = false
		return nil
	})
}

// SetAssignedDriver records the chosen driver. Suitability is the caller's
// responsibility.
func (s *Store) SetAssignedDriver(ctx context.Context, driverID string, override bool) (models.Draft, error) {
	return s.update(ctx, "set_assigned_driver", func(d *models.Draft) error {
		d.AssignedDriverID = driverID
		d.AssignmentOverride = override
		return nil
	})
}

func (s *Store) SetStage(ctx context.Context, stage models.Stage) (models.Draft, error) {
	return s.update(ctx, "set_stage", func(d *models.Draft) error {
		d.Stage = stage
		return nil
	})
}

// RecordVerdicts stores the verdicts computed for the draft's current revision.
func (s *Store) RecordVerdicts(ctx context.Context, verdicts []models.Verdict) (models.Draft, error) {
	return s.update(ctx, "record_verdicts", func(d *models.Draft) error {
		d.Verdicts = append([]models.Verdict{}, verdicts...)
		d.VerdictRevision = d.Revision
		return nil
	})
}

// ClearDraft removes the active draft. Clearing twice is fine.
func (s *Store) ClearDraft(ctx context.Context) error {
	return s.kv.Remove(ctx, storage.KeyDraft)
}

func (s *Store) update(ctx context.Context, op string, fn func(*models.Draft) error) (models.Draft, error) {
	d, ok := s.ReadDraft(ctx)
	if !ok {
		s.log.Warn("draft_op_without_draft", "op", op)
		return models.Draft{}, ErrNoActiveDraft
	}
	if err := fn(&d); err != nil {
		return models.Draft{}, err
	}
	d.UpdatedAt = s.now()
	if err := storage.SaveJSON(ctx, s.kv, storage.KeyDraft, d); err != nil {
		return models.Draft{}, err
	}
	return d, nil
}

// SaveNamedDraft snapshots the active draft into the saved list. The active
// draft is left in place.
func (s *Store) SaveNamedDraft(ctx context.Context, title string) (models.SavedDraft, error) {
	d, ok := s.ReadDraft(ctx)
	if !ok {
		return models.SavedDraft{}, ErrNoActiveDraft
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = fmt.Sprintf("%s draft", d.ServiceType)
	}
	d.Verdicts = nil
	d.VerdictRevision = 0
	saved := models.SavedDraft{
		ID:        s.newID(),
		Type:      d.ServiceType,
		Title:     title,
		CreatedAt: s.now(),
		Data:      d,
	}
	list := append([]models.SavedDraft{saved}, s.ListSavedDrafts(ctx)...)
	if err := storage.SaveJSON(ctx, s.kv, storage.KeySavedDrafts, list); err != nil {
		return models.SavedDraft{}, err
	}
	s.log.Info("draft_saved", "saved_id", saved.ID, "draft_id", d.ID, "title", title)
	return saved, nil
}

// ListSavedDrafts returns saved drafts, newest first.
func (s *Store) ListSavedDrafts(ctx context.Context) []models.SavedDraft {
	var list []models.SavedDraft
	if err := storage.LoadJSON(ctx, s.kv, storage.KeySavedDrafts, &list); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("saved_drafts_unreadable", "error", err)
		}
		return []models.SavedDraft{}
	}
	return list
}

func (s *Store) DeleteSavedDraft(ctx context.Context, id string) error {
	list := s.ListSavedDrafts(ctx)
	out := list[:0]
	found := false
	for _, sd := range list {
		if sd.ID == id {
			found = true
			continue
		}
		out = append(out, sd)
	}
	if !found {
		return ErrSavedDraftNotFound
	}
	return storage.SaveJSON(ctx, s.kv, storage.KeySavedDrafts, out)
}

// RestoreSavedDraft makes a saved snapshot the active draft again. It gets a
// new draft id so a booking confirmed from the original is not mistaken for
// this one.
func (s *Store) RestoreSavedDraft(ctx context.Context, id string) (models.Draft, error) {
	for _, sd := range s.ListSavedDrafts(ctx) {
		if sd.ID != id {
			continue
		}
		d := sd.Data
		d.ID = s.newID()
		d.Verdicts = nil
		d.VerdictRevision = 0
		d.AssignedDriverID = ""
		d.AssignmentOverride = false
		if d.Stage.Terminal() || d.Stage == models.StageSelectingService || d.Stage == "" {
			d.Stage = models.StageFillingDetails
		}
		if d.Fields == nil {
			d.Fields = models.Fields{}
		}
		d.UpdatedAt = s.now()
		if err := storage.SaveJSON(ctx, s.kv, storage.KeyDraft, d); err != nil {
			return models.Draft{}, err
		}
		s.log.Info("draft_restored", "saved_id", id, "draft_id", d.ID)
		return d, nil
	}
	return models.Draft{}, ErrSavedDraftNotFound
}

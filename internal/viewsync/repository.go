// Package viewsync keeps board read-state and onboarding case status
// consistent across independently mounted views of one operator session.
//
// The authoritative copy lives in the session's storage.KV. Views hold local
// caches and re-read on Wake (focus, visibility, pull-to-refresh) or on a
// poll interval through a Syncer.
package viewsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/example/dispatch-console/internal/logging"
	"github.com/example/dispatch-console/internal/models"
	"github.com/example/dispatch-console/internal/observability"
	"github.com/example/dispatch-console/internal/storage"
)

var (
	ErrTerminalStatus = errors.New("viewsync: case status is final; reset required")
	ErrInvalidStatus  = errors.New("viewsync: invalid case status")
	ErrUnknownClass   = errors.New("viewsync: unknown entity class")
)

// EntityClass scopes read-state and status to one kind of list.
type EntityClass string

const (
	ClassBookings   EntityClass = "bookings"
	ClassOnboarding EntityClass = "onboarding"
)

func ParseClass(s string) (EntityClass, error) {
	switch EntityClass(s) {
	case ClassBookings, ClassOnboarding:
		return EntityClass(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownClass, s)
}

var allowedTransitions = map[models.CaseStatus]map[models.CaseStatus]bool{
	models.CaseUnderReview: {models.CaseNeedsInfo: true, models.CaseApproved: true, models.CaseRejected: true},
	models.CaseNeedsInfo:   {models.CaseUnderReview: true, models.CaseApproved: true, models.CaseRejected: true},
	models.CaseApproved:    {}, // reset only
	models.CaseRejected:    {},
}

// CanTransition reports whether a case may move from one status to another
// without a reset.
func CanTransition(from, to models.CaseStatus) bool {
	return allowedTransitions[from][to]
}

// readSet is the persisted read-state. Epoch advances on every reset so a
// view holding older marks knows to drop them instead of merging them back.
type readSet struct {
	Epoch int      `json:"epoch"`
	IDs   []string `json:"ids"`
}

// Repository is the persisted side of view sync for one session. Its
// read-modify-write operations hold mu, which is private to the instance
// unless a shared lock is passed with WithLock.
type Repository struct {
	kv  storage.KV
	log *slog.Logger
	mu  sync.Locker
}

func NewRepository(kv storage.KV, logger *slog.Logger) *Repository {
	return &Repository{kv: kv, log: logging.OrDiscard(logger), mu: &sync.Mutex{}}
}

// WithLock makes r serialize on mu, so short-lived repositories over the same
// session exclude each other.
func (r *Repository) WithLock(mu sync.Locker) *Repository {
	r.mu = mu
	return r
}

const stripeCount = 64

// Stripes is a fixed pool of session locks. Memory stays constant no matter
// how many sessions come through; unrelated sessions may share a stripe.
type Stripes struct {
	mu [stripeCount]sync.Mutex
}

// For returns the lock that guards sessionID.
func (s *Stripes) For(sessionID string) *sync.Mutex {
	return &s.mu[xxhash.Sum64String(sessionID)%stripeCount]
}

func (r *Repository) loadRead(ctx context.Context, class EntityClass) (readSet, error) {
	var rs readSet
	err := storage.LoadJSON(ctx, r.kv, storage.BoardReadKey(string(class)), &rs)
	if storage.NoData(err) {
		if errors.Is(err, storage.ErrCorrupt) {
			r.log.Warn("read_state_unreadable", "class", class, "error", err)
		}
		return readSet{}, nil
	}
	return rs, err
}

// ReadSet returns the persisted epoch and read ids.
func (r *Repository) ReadSet(ctx context.Context, class EntityClass) (int, []string, error) {
	rs, err := r.loadRead(ctx, class)
	return rs.Epoch, rs.IDs, err
}

// MarkRead adds id to the persisted set and returns the result.
func (r *Repository) MarkRead(ctx context.Context, class EntityClass, id string) (int, []string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, err := r.loadRead(ctx, class)
	if err != nil {
		return 0, nil, err
	}
	for _, have := range rs.IDs {
		if have == id {
			return rs.Epoch, rs.IDs, nil
		}
	}
	rs.IDs = append(rs.IDs, id)
	sort.Strings(rs.IDs)
	if err := storage.SaveJSON(ctx, r.kv, storage.BoardReadKey(string(class)), rs); err != nil {
		return 0, nil, err
	}
	return rs.Epoch, rs.IDs, nil
}

// ResetRead empties the read set and advances its epoch.
func (r *Repository) ResetRead(ctx context.Context, class EntityClass) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, err := r.loadRead(ctx, class)
	if err != nil {
		return 0, err
	}
	next := readSet{Epoch: rs.Epoch + 1, IDs: []string{}}
	if err := storage.SaveJSON(ctx, r.kv, storage.BoardReadKey(string(class)), next); err != nil {
		return 0, err
	}
	r.log.Info("read_state_reset", "class", class, "epoch", next.Epoch)
	return next.Epoch, nil
}

// Statuses returns the persisted status map. Entries with unknown values are
// dropped.
func (r *Repository) Statuses(ctx context.Context, class EntityClass) (map[string]models.CaseStatus, error) {
	raw := map[string]string{}
	err := storage.LoadJSON(ctx, r.kv, storage.CaseStatusKey(string(class)), &raw)
	if storage.NoData(err) {
		if errors.Is(err, storage.ErrCorrupt) {
			r.log.Warn("case_status_unreadable", "class", class, "error", err)
		}
		return map[string]models.CaseStatus{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.CaseStatus, len(raw))
	for id, v := range raw {
		st, err := models.ParseCaseStatus(v)
		if err != nil {
			r.log.Warn("case_status_dropped", "class", class, "case_id", id, "error", err)
			continue
		}
		out[id] = st
	}
	return out, nil
}

// SetStatus stores status for id unless the move is out of a terminal status
// without reset. The returned status is the one stored afterwards.
func (r *Repository) SetStatus(ctx context.Context, class EntityClass, id string, status models.CaseStatus, reset bool) (models.CaseStatus, error) {
	if _, err := models.ParseCaseStatus(string(status)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	all, err := r.Statuses(ctx, class)
	if err != nil {
		return "", err
	}
	cur, ok := all[id]
	switch {
	case ok && cur == status:
		return cur, nil
	case ok && !reset && cur.Terminal():
		observability.StatusRejected.WithLabelValues(string(class)).Inc()
		r.log.Warn("case_status_rejected", "class", class, "case_id", id, "from", cur, "to", status)
		return cur, fmt.Errorf("%w: %s is %s", ErrTerminalStatus, id, cur)
	case ok && !reset && !CanTransition(cur, status):
		observability.StatusRejected.WithLabelValues(string(class)).Inc()
		return cur, fmt.Errorf("%w: %s to %s", ErrInvalidStatus, cur, status)
	}
	all[id] = status
	if err := storage.SaveJSON(ctx, r.kv, storage.CaseStatusKey(string(class)), all); err != nil {
		return cur, err
	}
	r.log.Info("case_status_set", "class", class, "case_id", id, "from", cur, "to", status, "reset", reset)
	return status, nil
}

// Package bookings is the persisted collection of confirmed booking records
// read by the dispatch board and "my bookings" views.
package bookings

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/example/dispatch-console/internal/models"
	"github.com/example/dispatch-console/internal/storage"
)

var ErrNotFound = errors.New("bookings: booking not found")

type Repo struct {
	kv storage.KV
}

func New(kv storage.KV) *Repo { return &Repo{kv: kv} }

// NewID returns a booking id of the form BK-1A2B3C4D.
func NewID() string {
	return "BK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Append adds b to the collection. A booking for a draft that already has one
// is not added again; the existing record is returned instead.
func (r *Repo) Append(ctx context.Context, b models.Booking) (models.Booking, error) {
	list, err := r.load(ctx)
	if err != nil {
		return models.Booking{}, err
	}
	if b.DraftID != "" {
		for _, existing := range list {
			if existing.DraftID == b.DraftID {
				return existing, nil
			}
		}
	}
	list = append([]models.Booking{b}, list...)
	if err := storage.SaveJSON(ctx, r.kv, storage.KeyBookings, list); err != nil {
		return models.Booking{}, err
	}
	return b, nil
}

// List returns bookings newest first. Unreadable state reads as empty.
func (r *Repo) List(ctx context.Context) []models.Booking {
	list, err := r.load(ctx)
	if err != nil {
		return []models.Booking{}
	}
	return list
}

func (r *Repo) ListByService(ctx context.Context, st models.ServiceType) []models.Booking {
	out := []models.Booking{}
	for _, b := range r.List(ctx) {
		if b.ServiceType == st {
			out = append(out, b)
		}
	}
	return out
}

func (r *Repo) Get(ctx context.Context, id string) (models.Booking, error) {
	for _, b := range r.List(ctx) {
		if b.ID == id {
			return b, nil
		}
	}
	return models.Booking{}, ErrNotFound
}

// load treats missing and corrupt state as an empty collection but surfaces
// substrate failures, so Append never overwrites data it could not read.
func (r *Repo) load(ctx context.Context) ([]models.Booking, error) {
	var list []models.Booking
	if err := storage.LoadJSON(ctx, r.kv, storage.KeyBookings, &list); err != nil {
		if storage.NoData(err) {
			return []models.Booking{}, nil
		}
		return nil, err
	}
	return list, nil
}

package bookings

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dispatch-console/internal/models"
	"github.com/example/dispatch-console/internal/storage"
)

func TestNewID(t *testing.T) {
	re := regexp.MustCompile(`^BK-[0-9A-F]{8}$`)
	a, b := NewID(), NewID()
	assert.Regexp(t, re, a)
	assert.NotEqual(t, a, b)
}

func TestAppendIsIdempotentPerDraft(t *testing.T) {
	ctx := context.Background()
	r := New(storage.NewMemoryStore())

	first, err := r.Append(ctx, models.Booking{ID: "BK-1", DraftID: "d1", ServiceType: models.ServiceRide})
	require.NoError(t, err)
	again, err := r.Append(ctx, models.Booking{ID: "BK-2", DraftID: "d1", ServiceType: models.ServiceRide})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = r.Append(ctx, models.Booking{ID: "BK-3", DraftID: "d2", ServiceType: models.ServiceEMS})
	require.NoError(t, err)

	list := r.List(ctx)
	require.Len(t, list, 2)
	assert.Equal(t, "BK-3", list[0].ID)
	assert.Len(t, r.ListByService(ctx, models.ServiceEMS), 1)

	got, err := r.Get(ctx, "BK-1")
	require.NoError(t, err)
	assert.Equal(t, "d1", got.DraftID)
	_, err = r.Get(ctx, "BK-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCorruptCollectionReadsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, storage.KeyBookings, []byte("nope")))

	r := New(kv)
	assert.Empty(t, r.List(ctx))
	_, err := r.Append(ctx, models.Booking{ID: "BK-1", DraftID: "d1"})
	require.NoError(t, err)
	assert.Len(t, r.List(ctx), 1)
}

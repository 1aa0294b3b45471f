package viewsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dispatch-console/internal/logging"
	"github.com/example/dispatch-console/internal/models"
	"github.com/example/dispatch-console/internal/storage"
)

func newRepo(t *testing.T) (*Repository, storage.KV) {
	t.Helper()
	kv := storage.Scoped(storage.NewMemoryStore(), "op-1")
	return NewRepository(kv, logging.Discard()), kv
}

func TestMarkReadVisibleToOtherViewAfterWake(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	board := NewReadView(repo, ClassBookings)
	other := NewReadView(repo, ClassBookings)
	syncer := NewSyncer(logging.Discard())
	syncer.Register(other)

	require.NoError(t, other.Refresh(ctx))
	require.NoError(t, board.MarkRead(ctx, "BK-2048"))
	assert.True(t, board.IsRead("BK-2048"))
	assert.False(t, other.IsRead("BK-2048"))

	require.NoError(t, syncer.Wake(ctx))
	assert.True(t, other.IsRead("BK-2048"))
}

func TestReadStateIsMonotonicAcrossRefresh(t *testing.T) {
	ctx := context.Background()
	repo, kv := newRepo(t)
	v := NewReadView(repo, ClassBookings)
	require.NoError(t, v.MarkRead(ctx, "BK-1"))

	// an older writer on the same epoch drops BK-1 from storage
	require.NoError(t, storage.SaveJSON(ctx, kv, storage.BoardReadKey(string(ClassBookings)), readSet{IDs: []string{"BK-2"}}))
	require.NoError(t, v.Refresh(ctx))
	assert.Equal(t, []string{"BK-1", "BK-2"}, v.ReadIDs())
}

func TestResetPropagatesThroughEpoch(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	a := NewReadView(repo, ClassBookings)
	b := NewReadView(repo, ClassBookings)
	require.NoError(t, a.MarkRead(ctx, "BK-1"))
	require.NoError(t, b.Refresh(ctx))
	require.True(t, b.IsRead("BK-1"))

	require.NoError(t, a.Reset(ctx))
	assert.Empty(t, a.ReadIDs())
	require.NoError(t, b.Refresh(ctx))
	assert.False(t, b.IsRead("BK-1"))

	require.NoError(t, b.MarkRead(ctx, "BK-3"))
	require.NoError(t, a.Refresh(ctx))
	assert.Equal(t, []string{"BK-3"}, a.ReadIDs())
}

func TestClassesAreIndependent(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	require.NoError(t, NewReadView(repo, ClassBookings).MarkRead(ctx, "X"))
	o := NewReadView(repo, ClassOnboarding)
	require.NoError(t, o.Refresh(ctx))
	assert.False(t, o.IsRead("X"))
}

func TestCorruptReadStateReadsEmpty(t *testing.T) {
	ctx := context.Background()
	repo, kv := newRepo(t)
	require.NoError(t, kv.Set(ctx, storage.BoardReadKey(string(ClassBookings)), []byte("{not json")))
	v := NewReadView(repo, ClassBookings)
	require.NoError(t, v.Refresh(ctx))
	assert.Empty(t, v.ReadIDs())
	require.NoError(t, v.MarkRead(ctx, "BK-9"))
	assert.True(t, v.IsRead("BK-9"))
}

func TestApprovedCannotReturnToReview(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	v := NewStatusView(repo, ClassOnboarding)

	require.NoError(t, v.SetStatus(ctx, "C-1", models.CaseApproved, false))
	err := v.SetStatus(ctx, "C-1", models.CaseUnderReview, false)
	assert.ErrorIs(t, err, ErrTerminalStatus)

	st, ok := v.GetStatus("C-1")
	require.True(t, ok)
	assert.Equal(t, models.CaseApproved, st)
	all, err := repo.Statuses(ctx, ClassOnboarding)
	require.NoError(t, err)
	assert.Equal(t, models.CaseApproved, all["C-1"])
}

func TestResetReopensTerminalStatus(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	v := NewStatusView(repo, ClassOnboarding)
	require.NoError(t, v.SetStatus(ctx, "C-1", models.CaseRejected, false))
	require.NoError(t, v.SetStatus(ctx, "C-1", models.CaseUnderReview, true))
	st, _ := v.GetStatus("C-1")
	assert.Equal(t, models.CaseUnderReview, st)
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to models.CaseStatus
		ok       bool
	}{
		{models.CaseUnderReview, models.CaseNeedsInfo, true},
		{models.CaseNeedsInfo, models.CaseUnderReview, true},
		{models.CaseNeedsInfo, models.CaseApproved, true},
		{models.CaseUnderReview, models.CaseRejected, true},
		{models.CaseApproved, models.CaseRejected, false},
		{models.CaseRejected, models.CaseNeedsInfo, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestSameStatusIsNoop(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	_, err := repo.SetStatus(ctx, ClassOnboarding, "C-1", models.CaseApproved, false)
	require.NoError(t, err)
	st, err := repo.SetStatus(ctx, ClassOnboarding, "C-1", models.CaseApproved, false)
	require.NoError(t, err)
	assert.Equal(t, models.CaseApproved, st)
}

func TestUnknownStatusRejected(t *testing.T) {
	_, err := NewRepository(storage.NewMemoryStore(), nil).SetStatus(context.Background(), ClassOnboarding, "C-1", "Pending", false)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestStatusViewSeesOtherViewAfterRefresh(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	queue := NewStatusView(repo, ClassOnboarding)
	detail := NewStatusView(repo, ClassOnboarding)
	require.NoError(t, queue.Refresh(ctx))

	require.NoError(t, detail.SetStatus(ctx, "C-7", models.CaseNeedsInfo, false))
	_, ok := queue.GetStatus("C-7")
	assert.False(t, ok)

	require.NoError(t, queue.Refresh(ctx))
	st, _ := queue.GetStatus("C-7")
	assert.Equal(t, models.CaseNeedsInfo, st)
}

func TestStaleCacheCorrectedOnRejectedWrite(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	stale := NewStatusView(repo, ClassOnboarding)
	require.NoError(t, stale.SetStatus(ctx, "C-2", models.CaseUnderReview, false))

	_, err := repo.SetStatus(ctx, ClassOnboarding, "C-2", models.CaseApproved, false)
	require.NoError(t, err)

	err = stale.SetStatus(ctx, "C-2", models.CaseNeedsInfo, false)
	assert.ErrorIs(t, err, ErrTerminalStatus)
	st, _ := stale.GetStatus("C-2")
	assert.Equal(t, models.CaseApproved, st)
}

func TestParseClass(t *testing.T) {
	c, err := ParseClass("onboarding")
	require.NoError(t, err)
	assert.Equal(t, ClassOnboarding, c)
	_, err = ParseClass("payroll")
	assert.ErrorIs(t, err, ErrUnknownClass)
}

type countingRefresher struct {
	n   atomic.Int32
	err error
}

func (c *countingRefresher) Refresh(context.Context) error {
	c.n.Add(1)
	return c.err
}

func TestSyncerUnregisterAndErrors(t *testing.T) {
	ctx := context.Background()
	s := NewSyncer(nil)
	good := &countingRefresher{}
	bad := &countingRefresher{err: errors.New("storage offline")}
	s.Register(good)
	unregister := s.Register(bad)

	err := s.Wake(ctx)
	assert.ErrorContains(t, err, "storage offline")
	assert.EqualValues(t, 1, good.n.Load())

	unregister()
	unregister()
	assert.NoError(t, s.Wake(ctx))
	assert.EqualValues(t, 2, good.n.Load())
	assert.EqualValues(t, 1, bad.n.Load())
}

func TestPollStopsOnCancel(t *testing.T) {
	s := NewSyncer(nil)
	r := &countingRefresher{}
	s.Register(r)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Poll(ctx, 5*time.Millisecond) }()
	require.Eventually(t, func() bool { return r.n.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Poll did not return after cancel")
	}
}

func TestStripesAreStableAndBounded(t *testing.T) {
	var s Stripes
	assert.Same(t, s.For("op-1"), s.For("op-1"))

	seen := map[*sync.Mutex]bool{}
	for i := 0; i < 10000; i++ {
		seen[s.For(fmt.Sprintf("session-%d", i))] = true
	}
	assert.LessOrEqual(t, len(seen), stripeCount)
}

func TestSharedLockSerializesRepositories(t *testing.T) {
	ctx := context.Background()
	kv := storage.Scoped(storage.NewMemoryStore(), "op-1")
	var stripes Stripes

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			repo := NewRepository(kv, logging.Discard()).WithLock(stripes.For("op-1"))
			_, _, err := repo.MarkRead(ctx, ClassBookings, fmt.Sprintf("BK-%04d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	_, ids, err := NewRepository(kv, logging.Discard()).ReadSet(ctx, ClassBookings)
	require.NoError(t, err)
	assert.Len(t, ids, 50)
}

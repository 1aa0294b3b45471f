package viewsync

import (
	"context"
	"sort"
	"sync"

	"github.com/example/dispatch-console/internal/models"
)

// ReadView is one mounted view's copy of a class's read-state. Marks are
// never lost on refresh except when another view reset the set.
type ReadView struct {
	repo  *Repository
	class EntityClass

	mu    sync.Mutex
	epoch int
	ids   map[string]struct{}
}

func NewReadView(repo *Repository, class EntityClass) *ReadView {
	return &ReadView{repo: repo, class: class, ids: map[string]struct{}{}}
}

// Refresh merges the persisted set into the view. A newer persisted epoch
// replaces local state instead.
func (v *ReadView) Refresh(ctx context.Context) error {
	epoch, ids, err := v.repo.ReadSet(ctx, v.class)
	if err != nil {
		return err
	}
	v.apply(epoch, ids)
	return nil
}

func (v *ReadView) apply(epoch int, ids []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if epoch > v.epoch {
		v.ids = make(map[string]struct{}, len(ids))
		v.epoch = epoch
	}
	for _, id := range ids {
		v.ids[id] = struct{}{}
	}
}

func (v *ReadView) MarkRead(ctx context.Context, id string) error {
	epoch, ids, err := v.repo.MarkRead(ctx, v.class, id)
	if err != nil {
		// this view still shows it read
		v.mu.Lock()
		v.ids[id] = struct{}{}
		v.mu.Unlock()
		return err
	}
	v.apply(epoch, ids)
	return nil
}

func (v *ReadView) IsRead(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.ids[id]
	return ok
}

// ReadIDs returns the read ids in sorted order.
func (v *ReadView) ReadIDs() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.ids))
	for id := range v.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Reset clears the read-state for every view of the class.
func (v *ReadView) Reset(ctx context.Context) error {
	epoch, err := v.repo.ResetRead(ctx, v.class)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.epoch = epoch
	v.ids = map[string]struct{}{}
	v.mu.Unlock()
	return nil
}

// StatusView is a read-through cache of a class's case statuses.
type StatusView struct {
	repo  *Repository
	class EntityClass

	mu    sync.Mutex
	cache map[string]models.CaseStatus
}

func NewStatusView(repo *Repository, class EntityClass) *StatusView {
	return &StatusView{repo: repo, class: class, cache: map[string]models.CaseStatus{}}
}

// Refresh replaces the cache with the persisted map.
func (v *StatusView) Refresh(ctx context.Context) error {
	all, err := v.repo.Statuses(ctx, v.class)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.cache = all
	v.mu.Unlock()
	return nil
}

func (v *StatusView) GetStatus(id string) (models.CaseStatus, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.cache[id]
	return st, ok
}

// Statuses returns a copy of the cached map.
func (v *StatusView) Statuses() map[string]models.CaseStatus {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]models.CaseStatus, len(v.cache))
	for id, st := range v.cache {
		out[id] = st
	}
	return out
}

// SetStatus writes through to the repository. A rejected change still
// updates the cache with the stored value, which may have been set by
// another view.
func (v *StatusView) SetStatus(ctx context.Context, id string, status models.CaseStatus, reset bool) error {
	stored, err := v.repo.SetStatus(ctx, v.class, id, status, reset)
	if stored != "" {
		v.mu.Lock()
		v.cache[id] = stored
		v.mu.Unlock()
	}
	return err
}

package viewsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/dispatch-console/internal/logging"
	"github.com/example/dispatch-console/internal/observability"
)

// Refresher is anything that re-reads persisted state, usually a ReadView or
// StatusView.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Syncer fans a wake signal out to every registered view.
type Syncer struct {
	log *slog.Logger

	mu   sync.Mutex
	next int
	subs map[int]Refresher
}

func NewSyncer(logger *slog.Logger) *Syncer {
	return &Syncer{log: logging.OrDiscard(logger), subs: map[int]Refresher{}}
}

// Register adds r and returns a func that removes it again.
func (s *Syncer) Register(r Refresher) (unregister func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = r
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Wake refreshes every registered view. A failing view does not stop the
// others; all failures are returned joined.
func (s *Syncer) Wake(ctx context.Context) error {
	return s.refresh(ctx, "wake")
}

func (s *Syncer) refresh(ctx context.Context, trigger string) error {
	s.mu.Lock()
	subs := make([]Refresher, 0, len(s.subs))
	for _, r := range s.subs {
		subs = append(subs, r)
	}
	s.mu.Unlock()

	observability.ViewRefreshes.WithLabelValues(trigger).Inc()
	var errs []error
	for _, r := range subs {
		if err := r.Refresh(ctx); err != nil {
			s.log.Warn("view_refresh_failed", "trigger", trigger, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Poll refreshes on every tick until ctx is done. Refresh errors are logged
// and polling continues.
func (s *Syncer) Poll(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			_ = s.refresh(ctx, "poll")
		}
	}
}

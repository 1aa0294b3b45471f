package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/dispatch-console/internal/logging"
	"github.com/example/dispatch-console/internal/storage"
	"github.com/example/dispatch-console/internal/viewsync"
)

type viewsOptions struct {
	sqlitePath string
	session    string
	class      string
	interval   time.Duration
}

func newViewsCmd() *cobra.Command {
	o := &viewsOptions{}
	cmd := &cobra.Command{
		Use:   "views",
		Short: "Inspect a session's board read-state and case statuses",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&o.sqlitePath, "sqlite", "dispatch-console.db", "sqlite store written by the server")
	pf.StringVar(&o.session, "session", "", "operator session id (required)")
	pf.StringVar(&o.class, "class", string(viewsync.ClassBookings), "entity class: bookings or onboarding")
	_ = cmd.MarkPersistentFlagRequired("session")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the current state once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withViews(cmd.Context(), o, func(p *printer) error {
				return p.Refresh(cmd.Context())
			}, cmd.OutOrStdout())
		},
	}
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Print the state on every poll until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withViews(cmd.Context(), o, func(p *printer) error {
				syncer := viewsync.NewSyncer(logging.NewLogger("warn"))
				syncer.Register(p)
				if err := syncer.Wake(cmd.Context()); err != nil {
					return err
				}
				err := syncer.Poll(cmd.Context(), o.interval)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}, cmd.OutOrStdout())
		},
	}
	watch.Flags().DurationVar(&o.interval, "interval", 2*time.Second, "poll interval")
	cmd.AddCommand(show, watch)
	return cmd
}

func withViews(ctx context.Context, o *viewsOptions, fn func(*printer) error, out io.Writer) error {
	class, err := viewsync.ParseClass(o.class)
	if err != nil {
		return err
	}
	ss, err := storage.OpenSQL("sqlite", o.sqlitePath)
	if err != nil {
		return err
	}
	defer ss.Close()
	if err := ss.Migrate(ctx); err != nil {
		return err
	}
	repo := viewsync.NewRepository(storage.Scoped(ss, o.session), nil)
	return fn(&printer{
		out:    out,
		read:   viewsync.NewReadView(repo, class),
		status: viewsync.NewStatusView(repo, class),
	})
}

// printer refreshes both views of a class and prints what changed.
type printer struct {
	out    io.Writer
	read   *viewsync.ReadView
	status *viewsync.StatusView
	last   string
}

func (p *printer) Refresh(ctx context.Context) error {
	if err := errors.Join(p.read.Refresh(ctx), p.status.Refresh(ctx)); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "read: %s\n", strings.Join(p.read.ReadIDs(), ", "))
	statuses := p.status.Statuses()
	ids := make([]string, 0, len(statuses))
	for id := range statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "status %s: %s\n", id, statuses[id])
	}
	if s := b.String(); s != p.last {
		p.last = s
		_, err := io.WriteString(p.out, s)
		return err
	}
	return nil
}

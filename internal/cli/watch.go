package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skohara/lanekeeper/internal/watch"
)

// WatchCmd runs the maintenance daemon.
func WatchCmd() *cobra.Command {
	var (
		projectRoot string
		autoRepair  bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the state dir and report (optionally repair) inconsistencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(projectRoot)
			if err != nil {
				return err
			}

			w := watch.New(p.cfg, p.layout, p.store, p.scanner, p.repairs, autoRepair, p.logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return w.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&projectRoot, "project-root", "", "project root (defaults to upward search)")
	cmd.Flags().BoolVar(&autoRepair, "repair", false, "apply auto-repairs on every failing scan")
	return cmd
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/curio-sh/curio/internal/config"
	"github.com/curio-sh/curio/internal/discovery"
	"github.com/curio-sh/curio/internal/entities"
)

var discoverCmd = &cobra.Command{
	Use:   "discover <category>",
	Short: "Discover entities across configured repositories",
	Long: `Discover fetches every configured repository for a category in parallel,
extracts its installable entities, and merges them into the persistent
registry. Category is one of: skills, agents, plugins.

With --watch the command keeps running and rediscovers on the configured
interval until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().Int("workers", 0, "Parallel repository fetches (0 uses the configured default)")
	discoverCmd.Flags().Bool("refresh", false, "Drop cached fetches before discovering")
	discoverCmd.Flags().Bool("watch", false, "Keep running and rediscover on the configured interval")
	discoverCmd.Flags().String("output", outputTable, "Output format (table|json)")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	category, err := entities.ParseCategory(args[0])
	if err != nil {
		return err
	}
	output, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	workers, err := cmd.Flags().GetInt("workers")
	if err != nil {
		return fmt.Errorf("failed to read workers flag: %w", err)
	}
	refresh, err := cmd.Flags().GetBool("refresh")
	if err != nil {
		return fmt.Errorf("failed to read refresh flag: %w", err)
	}
	watch, err := cmd.Flags().GetBool("watch")
	if err != nil {
		return fmt.Errorf("failed to read watch flag: %w", err)
	}

	svc, cfg, err := newService()
	if err != nil {
		return err
	}

	if refresh {
		removed, err := svc.PurgeCache()
		if err != nil {
			return fmt.Errorf("failed to purge cache: %w", err)
		}
		slog.Info("Purged cache before discovery", "entries", removed)
	}

	if watch {
		return runWatch(cmd.Context(), svc, cfg, category, workers)
	}

	found, err := svc.FetchAllEntities(cmd.Context(), category, workers)
	if err != nil {
		return err
	}
	return renderEntities(cmd.OutOrStdout(), output, found)
}

// runWatch drives the discovery coordinator until the process is signalled
func runWatch(
	ctx context.Context,
	svc discovery.Service,
	cfg *config.Config,
	category entities.Category,
	workers int,
) error {
	coordinator := discovery.NewCoordinator(svc, []entities.Category{category}, cfg.GetInterval(), workers)

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- coordinator.Start(watchCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
		slog.Info("Shutting down discovery watch")
		if err := coordinator.Stop(); err != nil {
			return err
		}
		return <-errCh
	}
}

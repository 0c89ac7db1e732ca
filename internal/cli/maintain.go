package cli

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/observability"
	"github.com/mnemo-ai/mnemo/internal/tracing"
	"github.com/mnemo-ai/mnemo/pkg/maintenance"
)

var maintainMetricsAddr string

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run the maintenance service in the foreground",
	Long: `Run scheduled consolidation and change-driven re-indexing until
interrupted. The schedule and watched project roots come from the
maintenance section of the configuration.`,
	Args: cobra.NoArgs,
	RunE: runMaintain,
}

func init() {
	maintainCmd.Flags().StringVar(&maintainMetricsAddr, "metrics", "", "serve prometheus metrics on this address (e.g. localhost:9091)")
	rootCmd.AddCommand(maintainCmd)
}

func runMaintain(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := tracing.Init(); err != nil {
		return err
	}
	defer tracing.Shutdown(cmd.Context())

	svc := maintenance.New(maintenance.Config{
		ConsolidateExpr:      a.cfg.Maintenance.ConsolidateCron,
		ConsolidateThreshold: a.cfg.Consolidation.SimilarityThreshold,
		ReindexExpr:          a.cfg.Maintenance.ReindexCron,
		WatchRoots:           a.cfg.Maintenance.WatchRoots,
	}, a.mems, a.idx, a.logger())

	if err := svc.Start(cmd.Context()); err != nil {
		return err
	}
	defer svc.Stop()

	if maintainMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		lg := a.logger()
		go func() {
			if err := http.ListenAndServe(maintainMetricsAddr, mux); err != nil {
				lg.Error().Err(err).Str("addr", maintainMetricsAddr).Msg("Metrics server stopped")
			}
		}()
		lg.Info().Str("addr", maintainMetricsAddr).Msg("Serving prometheus metrics")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-cmd.Context().Done():
	}
	return nil
}

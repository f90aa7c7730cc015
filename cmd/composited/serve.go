package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/jihwankim/compositeworker/pkg/cache"
	"github.com/jihwankim/compositeworker/pkg/composite"
	"github.com/jihwankim/compositeworker/pkg/funcengine"
	"github.com/jihwankim/compositeworker/pkg/lifecycle"
	"github.com/jihwankim/compositeworker/pkg/logging"
	"github.com/jihwankim/compositeworker/pkg/metrics"
	"github.com/jihwankim/compositeworker/pkg/pipeline"
	"github.com/jihwankim/compositeworker/pkg/scanengine"
	"github.com/jihwankim/compositeworker/pkg/transport"
	"github.com/jihwankim/compositeworker/pkg/valengine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Args:  cobra.NoArgs,
	Short: "Run the composite data worker's RPC server",
	Long:  `Loads the worker configuration and composite definitions, then serves inbound RPC requests until a termination signal arrives.`,
	RunE:  runServe,
}

// runServe wires the bootstrap logger and signal-aware lifecycle controller,
// then hands the entire startup-through-serve sequence to Supervise. Any
// failure in that sequence — a bad config file, a malformed composites XML,
// a panic during engine construction, or the serve loop itself exiting — is
// logged and retried after a short sleep rather than exiting the process
// (spec.md §6).
func runServe(cmd *cobra.Command, args []string) error {
	bootLog := logging.New(logging.Config{Output: os.Stdout})
	lc := lifecycle.New(bootLog)
	ctx := lc.WithSignals(cmd.Context())

	lc.Supervise(ctx, func(ctx context.Context) error {
		return serveOnce(ctx, bootLog)
	})

	bootLog.Info("composited stopped")
	return nil
}

// serveOnce loads configuration and composite definitions, builds the
// engines and transport server, and runs the serve loop until ctx is
// cancelled or it fails. Called repeatedly by Supervise on failure.
func serveOnce(ctx context.Context, bootLog *logging.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logLevel := logging.Level(cfg.Framework.LogLevel)
	if verbose {
		logLevel = logging.LevelDebug
	}
	log := logging.New(logging.Config{
		Level:  logLevel,
		Format: logging.Format(cfg.Framework.LogFormat),
		Output: os.Stdout,
	})
	log.Info("composited starting", "version", version)

	doc, err := composite.Load(cfg.Framework.CompositesPath)
	if err != nil {
		return fmt.Errorf("failed to load composite definitions: %w", err)
	}
	log.Info("composite definitions loaded", "path", cfg.Framework.CompositesPath, "count", len(doc.Composites))

	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.New()
	}

	cacheClient := cache.NewHTTPClient(cfg.Cache.URL, cfg.Cache.Timeout, reg)
	scanEngine := scanengine.New(cacheClient, log, cfg.Pipeline.ScanWorkers)
	valEngine := valengine.New(cacheClient, log, cfg.Pipeline.ValWorkers)
	funcEngine := funcengine.New(log, reg)
	pipe := pipeline.New(scanEngine, valEngine, funcEngine, log, reg)

	server := transport.New(doc, pipe, log)

	if reg != nil {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", reg.Handler())
			log.Info("metrics listening", "addr", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server exited", "err", err)
			}
		}()
	}

	return transport.Serve(ctx, cfg.Transport.Addr, server, log)
}

package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/yapay-ai/usage-sentinel/internal/metrics"
	"github.com/yapay-ai/usage-sentinel/internal/server"
	"github.com/yapay-ai/usage-sentinel/internal/source"
	"github.com/yapay-ai/usage-sentinel/pkg/engine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the alerting daemon",
	Long: `Run the long-lived daemon: polls the usage source on an interval, evaluates
samples against thresholds, dispatches alerts, serves the HTTP API and
Prometheus metrics, and prunes old history on a schedule.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "Listen address (default from config)")
	serveCmd.Flags().Bool("mock-source", false, "Feed synthetic usage data instead of running the source command")
	serveCmd.Flags().Bool("no-source", false, "Disable the usage poller; only push ingestion via the API")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	listen, _ := cmd.Flags().GetString("listen")
	if listen != "" {
		cfg.Server.Listen = listen
	}
	if mock, _ := cmd.Flags().GetBool("mock-source"); mock {
		cfg.Source.Mock = true
	}
	if noSource, _ := cmd.Flags().GetBool("no-source"); noSource {
		cfg.Source.Enabled = false
	}

	logger := newLogger(cfg)

	reg := prometheus.NewRegistry()
	engMetrics := engine.NewMetrics(reg)
	srvMetrics := metrics.NewServerMetrics(reg)

	eng, store, err := initEngine(cfg, engMetrics)
	if err != nil {
		return err
	}
	defer store.Close()
	defer eng.Close()

	apiServer := server.NewServer(eng, metrics.Handler(reg), srvMetrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var collectorDone chan struct{}
	if cfg.Source.Enabled {
		interval, _ := time.ParseDuration(cfg.Source.Interval)
		timeout, _ := time.ParseDuration(cfg.Source.Timeout)

		collector := source.NewCollector(source.Config{
			Command:  cfg.Source.Command,
			Args:     cfg.Source.Args,
			Interval: interval,
			Timeout:  timeout,
			Mock:     cfg.Source.Mock,
		}, eng, logger, metrics.NewSourceMetrics(reg))

		collectorDone = make(chan struct{})
		go func() {
			defer close(collectorDone)
			collector.Run(ctx)
		}()
	}

	maint := cron.New()
	_, err = maint.AddFunc("@every "+cfg.History.PruneInterval, func() {
		maxAge, _ := time.ParseDuration(cfg.History.MaxAge)
		pruned, err := eng.PruneHistory(ctx, cfg.History.Keep, maxAge)
		if err != nil {
			logger.Error("prune history", "error", err)
		} else if pruned > 0 {
			logger.Info("pruned history", "records", pruned)
		}
		if swept := eng.SweepSuppressions(); swept > 0 {
			logger.Debug("swept suppressions", "expired", swept)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	maint.Start()

	readTimeout, _ := time.ParseDuration(cfg.Server.ReadTimeout)
	if readTimeout == 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout, _ := time.ParseDuration(cfg.Server.WriteTimeout)
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Second
	}

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      apiServer.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("daemon started", "listen", cfg.Server.Listen, "source", cfg.Source.Enabled, "mock", cfg.Source.Mock)
		fmt.Fprintf(os.Stderr, "Usage Sentinel listening on %s\n", cfg.Server.Listen)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	cancel()
	if collectorDone != nil {
		<-collectorDone
	}

	cronCtx := maint.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(5 * time.Second):
		logger.Warn("timeout waiting for maintenance jobs")
	}

	logger.Info("daemon stopped")
	return nil
}

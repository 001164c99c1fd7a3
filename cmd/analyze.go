package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stratolab.dev/sondetrack/internal/analyzer"
	"stratolab.dev/sondetrack/internal/store"
	"stratolab.dev/sondetrack/pkg/logger"
	"stratolab.dev/sondetrack/pkg/metrics"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the flight analysis loop",
	Long: `Run the analysis loop that:
- Tracks flight phase with hysteresis
- Detects burst and release events
- Maintains extremes, gauges, and alert states per flight`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	addDBFlags(analyzeCmd, "analyze")
	analyzeCmd.Flags().Duration("interval", 3*time.Second, "wait between analysis passes")
	_ = viper.BindPFlag("analyze.interval", analyzeCmd.Flags().Lookup("interval"))
}

func runAnalyze(_ *cobra.Command, _ []string) error {
	log := logger.WithComponent(GetLogger(), "analyzer")
	log.Info("starting analyze service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, st, err := openStore(log, "analyze")
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		return err
	}
	defer func() { _ = store.CloseDB(db, log) }()

	an, err := analyzer.New(&analyzer.Config{
		Logger:   log,
		Store:    st,
		Metrics:  metrics.NewAnalyzerMetrics(metricsNamespace),
		Interval: viper.GetDuration("analyze.interval"),
	})
	if err != nil {
		log.Error("failed to create analyzer", "error", err)
		return err
	}

	if err := an.Run(ctx); err != nil {
		log.Error("analyze service error", "error", err)
		return err
	}
	log.Info("analyze service stopped")
	return nil
}

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"stratolab.dev/sondetrack/internal/analyzer"
	"stratolab.dev/sondetrack/internal/api"
	"stratolab.dev/sondetrack/internal/audit"
	"stratolab.dev/sondetrack/internal/decoder"
	"stratolab.dev/sondetrack/internal/ingest"
	"stratolab.dev/sondetrack/internal/store"
	"stratolab.dev/sondetrack/internal/weather"
	"stratolab.dev/sondetrack/pkg/logger"
	"stratolab.dev/sondetrack/pkg/metrics"
)

// supervisionInterval is how often the liveness row is refreshed.
const supervisionInterval = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline in one process",
	Long: `Run ingest, decode, analyze, and the HTTP API in one process,
plus a supervisor that maintains the system liveness row.`,
	RunE: runAll,
}

func init() {
	rootCmd.AddCommand(runCmd)

	addDBFlags(runCmd, "run")
	addMQFlags(runCmd, "run")
	runCmd.Flags().Int("port", 8080, "HTTP listen port")
	runCmd.Flags().String("weather-api-key", "", "reference conditions API key (empty disables lookup)")
	_ = viper.BindPFlag("run.port", runCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("run.weather.api_key", runCmd.Flags().Lookup("weather-api-key"))
}

func runAll(_ *cobra.Command, _ []string) error {
	log := GetLogger()
	log.Info("starting sondetrack pipeline")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, st, err := openStore(log, "run")
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		return err
	}
	defer func() { _ = store.CloseDB(db, log) }()

	consumer, err := ingest.NewConsumer(&ingest.ConsumerConfig{
		Logger:      logger.WithComponent(log, "ingest"),
		Store:       st,
		Metrics:     metrics.NewIngestMetrics(metricsNamespace),
		RabbitMQURL: viper.GetString("run.rabbitmq.url"),
		QueueName:   viper.GetString("run.rabbitmq.queue_name"),
	})
	if err != nil {
		return err
	}

	dec, err := decoder.New(&decoder.Config{
		Logger:  logger.WithComponent(log, "decoder"),
		Store:   st,
		Metrics: metrics.NewDecoderMetrics(metricsNamespace),
	})
	if err != nil {
		return err
	}

	an, err := analyzer.New(&analyzer.Config{
		Logger:  logger.WithComponent(log, "analyzer"),
		Store:   st,
		Metrics: metrics.NewAnalyzerMetrics(metricsNamespace),
	})
	if err != nil {
		return err
	}

	checker, err := audit.New(st)
	if err != nil {
		return err
	}
	weatherClient, err := weather.New(&weather.Config{
		Logger: logger.WithComponent(log, "weather"),
		APIKey: viper.GetString("run.weather.api_key"),
	})
	if err != nil {
		return err
	}
	handlers, err := api.NewHandlers(&api.HandlersConfig{
		Logger:  logger.WithComponent(log, "api"),
		Store:   st,
		Audit:   checker,
		Weather: weatherClient,
		Metrics: metrics.NewAPIMetrics(metricsNamespace),
	})
	if err != nil {
		return err
	}
	server, err := api.NewServer(&api.ServerConfig{
		Logger:   logger.WithComponent(log, "api"),
		Handlers: handlers,
		Port:     viper.GetInt("run.port"),
	})
	if err != nil {
		return err
	}

	if err := consumer.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dec.Run(gctx) })
	g.Go(func() error { return an.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return supervise(gctx, log, st) })

	err = g.Wait()

	if stopErr := consumer.Stop(); stopErr != nil {
		log.Error("ingest consumer shutdown error", "error", stopErr)
	}
	if err != nil {
		log.Error("pipeline error", "error", err)
		return err
	}
	log.Info("sondetrack pipeline stopped")
	return nil
}

// supervise maintains the singleton liveness row while the loops run,
// and marks them stopped on the way out.
func supervise(ctx context.Context, log *slog.Logger, st *store.Store) error {
	log = logger.WithComponent(log, "supervisor")

	ticker := time.NewTicker(supervisionInterval)
	defer ticker.Stop()

	for {
		if err := st.UpsertSystemStatus(ctx, store.ProcessRunning, store.ProcessRunning); err != nil {
			log.Error("liveness update failed", "error", err)
		}

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := st.UpsertSystemStatus(shutdownCtx, store.ProcessStopped, store.ProcessStopped); err != nil {
				log.Error("final liveness update failed", "error", err)
			}
			return nil
		case <-ticker.C:
		}
	}
}

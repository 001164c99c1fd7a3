package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stratolab.dev/sondetrack/internal/ingest"
	"stratolab.dev/sondetrack/internal/store"
	"stratolab.dev/sondetrack/pkg/logger"
	"stratolab.dev/sondetrack/pkg/metrics"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the raw packet ingest consumer",
	Long: `Run the ingest consumer that:
- Consumes receiver envelopes from RabbitMQ
- Appends them to the raw packet log, untouched`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	addDBFlags(ingestCmd, "ingest")
	addMQFlags(ingestCmd, "ingest")
}

func runIngest(_ *cobra.Command, _ []string) error {
	log := logger.WithComponent(GetLogger(), "ingest")
	log.Info("starting ingest service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, st, err := openStore(log, "ingest")
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		return err
	}
	defer func() { _ = store.CloseDB(db, log) }()

	consumer, err := ingest.NewConsumer(&ingest.ConsumerConfig{
		Logger:      log,
		Store:       st,
		Metrics:     metrics.NewIngestMetrics(metricsNamespace),
		RabbitMQURL: viper.GetString("ingest.rabbitmq.url"),
		QueueName:   viper.GetString("ingest.rabbitmq.queue_name"),
	})
	if err != nil {
		log.Error("failed to create ingest consumer", "error", err)
		return err
	}

	if err := consumer.Start(ctx); err != nil {
		log.Error("failed to start ingest consumer", "error", err)
		return err
	}

	<-ctx.Done()

	if err := consumer.Stop(); err != nil {
		log.Error("ingest consumer shutdown error", "error", err)
		return err
	}
	log.Info("ingest service stopped")
	return nil
}

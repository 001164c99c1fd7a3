package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stratolab.dev/sondetrack/internal/decoder"
	"stratolab.dev/sondetrack/internal/store"
	"stratolab.dev/sondetrack/pkg/logger"
	"stratolab.dev/sondetrack/pkg/metrics"
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Run the telemetry decode loop",
	Long: `Run the decode loop that:
- Polls the raw packet log for unconsumed packets
- Authenticates lines against active flights
- Derives ascent rate, ground speed, and dew point
- Inserts enriched telemetry samples`,
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)

	addDBFlags(decodeCmd, "decode")
	decodeCmd.Flags().Duration("poll-interval", 2*time.Second, "idle wait between batches")
	decodeCmd.Flags().Int("batch-size", 100, "max unconsumed packets per batch")
	_ = viper.BindPFlag("decode.poll_interval", decodeCmd.Flags().Lookup("poll-interval"))
	_ = viper.BindPFlag("decode.batch_size", decodeCmd.Flags().Lookup("batch-size"))
}

func runDecode(_ *cobra.Command, _ []string) error {
	log := logger.WithComponent(GetLogger(), "decoder")
	log.Info("starting decode service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, st, err := openStore(log, "decode")
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		return err
	}
	defer func() { _ = store.CloseDB(db, log) }()

	dec, err := decoder.New(&decoder.Config{
		Logger:       log,
		Store:        st,
		Metrics:      metrics.NewDecoderMetrics(metricsNamespace),
		PollInterval: viper.GetDuration("decode.poll_interval"),
		BatchSize:    viper.GetInt("decode.batch_size"),
	})
	if err != nil {
		log.Error("failed to create decoder", "error", err)
		return err
	}

	if err := dec.Run(ctx); err != nil {
		log.Error("decode service error", "error", err)
		return err
	}
	log.Info("decode service stopped")
	return nil
}

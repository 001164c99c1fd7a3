package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stratolab.dev/sondetrack/internal/api"
	"stratolab.dev/sondetrack/internal/audit"
	"stratolab.dev/sondetrack/internal/store"
	"stratolab.dev/sondetrack/internal/weather"
	"stratolab.dev/sondetrack/pkg/logger"
	"stratolab.dev/sondetrack/pkg/metrics"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the HTTP API server",
	Long: `Run the HTTP API server that:
- Manages the flight registry and lifecycle commands
- Serves status, telemetry, GPS path, log, and audit endpoints
- Exposes Prometheus metrics on /metrics`,
	RunE: runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)

	addDBFlags(apiCmd, "api")
	apiCmd.Flags().Int("port", 8080, "HTTP listen port")
	apiCmd.Flags().String("weather-api-key", "", "reference conditions API key (empty disables lookup)")
	apiCmd.Flags().String("weather-url", "", "reference conditions endpoint override")
	_ = viper.BindPFlag("api.port", apiCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("api.weather.api_key", apiCmd.Flags().Lookup("weather-api-key"))
	_ = viper.BindPFlag("api.weather.url", apiCmd.Flags().Lookup("weather-url"))
}

func runAPI(_ *cobra.Command, _ []string) error {
	log := logger.WithComponent(GetLogger(), "api")
	log.Info("starting api service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, st, err := openStore(log, "api")
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		return err
	}
	defer func() { _ = store.CloseDB(db, log) }()

	checker, err := audit.New(st)
	if err != nil {
		return err
	}
	weatherClient, err := weather.New(&weather.Config{
		Logger:  log,
		APIKey:  viper.GetString("api.weather.api_key"),
		BaseURL: viper.GetString("api.weather.url"),
	})
	if err != nil {
		return err
	}

	handlers, err := api.NewHandlers(&api.HandlersConfig{
		Logger:  log,
		Store:   st,
		Audit:   checker,
		Weather: weatherClient,
		Metrics: metrics.NewAPIMetrics(metricsNamespace),
	})
	if err != nil {
		return err
	}

	server, err := api.NewServer(&api.ServerConfig{
		Logger:   log,
		Handlers: handlers,
		Port:     viper.GetInt("api.port"),
	})
	if err != nil {
		return err
	}

	if err := server.Run(ctx); err != nil {
		log.Error("api service error", "error", err)
		return err
	}
	log.Info("api service stopped")
	return nil
}

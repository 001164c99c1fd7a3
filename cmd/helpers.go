// Package main provides the unified CLI entry point for the sondetrack services.
package main

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"stratolab.dev/sondetrack/internal/store"
)

// metricsNamespace prefixes every Prometheus metric.
const metricsNamespace = "sondetrack"

// addDBFlags registers the PostgreSQL flags on a command under the given
// viper key prefix.
func addDBFlags(cmd *cobra.Command, prefix string) {
	cmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	cmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	cmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	cmd.Flags().String("db-password", "", "PostgreSQL password")
	cmd.Flags().String("db-name", "sondetrack", "PostgreSQL database name")
	cmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")

	_ = viper.BindPFlag(prefix+".db.host", cmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag(prefix+".db.port", cmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag(prefix+".db.user", cmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag(prefix+".db.password", cmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag(prefix+".db.name", cmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag(prefix+".db.sslmode", cmd.Flags().Lookup("db-sslmode"))
}

// addMQFlags registers the RabbitMQ flags on a command under the given
// viper key prefix.
func addMQFlags(cmd *cobra.Command, prefix string) {
	cmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	cmd.Flags().String("queue-name", "sonde-packets", "RabbitMQ queue name for receiver envelopes")

	_ = viper.BindPFlag(prefix+".rabbitmq.url", cmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag(prefix+".rabbitmq.queue_name", cmd.Flags().Lookup("queue-name"))
}

// openStore connects to PostgreSQL using the flags bound under prefix
// and wraps the handle in a Store. Migrations run on connect.
func openStore(log *slog.Logger, prefix string) (*gorm.DB, *store.Store, error) {
	db, err := store.NewDB(&store.DBConfig{
		Logger:   log,
		Host:     viper.GetString(prefix + ".db.host"),
		Port:     viper.GetInt(prefix + ".db.port"),
		User:     viper.GetString(prefix + ".db.user"),
		Password: viper.GetString(prefix + ".db.password"),
		DBName:   viper.GetString(prefix + ".db.name"),
		SSLMode:  viper.GetString(prefix + ".db.sslmode"),
	})
	if err != nil {
		return nil, nil, err
	}
	return db, store.New(db), nil
}

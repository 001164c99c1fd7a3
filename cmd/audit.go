package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"stratolab.dev/sondetrack/internal/audit"
	"stratolab.dev/sondetrack/internal/store"
	"stratolab.dev/sondetrack/pkg/logger"
)

var auditCmd = &cobra.Command{
	Use:   "audit <flight-id>",
	Short: "Audit a flight's telemetry for gaps and outliers",
	Args:  cobra.ExactArgs(1),
	RunE:  runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	addDBFlags(auditCmd, "audit")
}

func runAudit(_ *cobra.Command, args []string) error {
	log := logger.WithComponent(GetLogger(), "audit")

	flightID, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid flight id %q", args[0])
	}

	db, st, err := openStore(log, "audit")
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		return err
	}
	defer func() { _ = store.CloseDB(db, log) }()

	checker, err := audit.New(st)
	if err != nil {
		return err
	}

	report, err := checker.Audit(context.Background(), uint(flightID))
	if err != nil {
		log.Error("audit failed", "flight_id", flightID, "error", err)
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

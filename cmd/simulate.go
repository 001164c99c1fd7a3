package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stratolab.dev/sondetrack/internal/simulate"
	"stratolab.dev/sondetrack/pkg/logger"
	"stratolab.dev/sondetrack/pkg/mq"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Publish a synthetic sonde flight",
	Long: `Publish a synthetic sonde flight through RabbitMQ so the full
pipeline can be exercised without radio hardware. The stage is driven
interactively: ground | calibrate | release | burst | exit.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	addMQFlags(simulateCmd, "simulate")
	simulateCmd.Flags().String("serial", "11951", "device serial (hex)")
	simulateCmd.Flags().String("mask", simulate.DefaultMask, "flight auth mask (hex)")
	simulateCmd.Flags().Duration("interval", 2*time.Second, "wait between packets")
	simulateCmd.Flags().Float64("latitude", 0, "launch site latitude")
	simulateCmd.Flags().Float64("longitude", 0, "launch site longitude")
	simulateCmd.Flags().Float64("elevation", 0, "launch site elevation in meters")
	_ = viper.BindPFlag("simulate.serial", simulateCmd.Flags().Lookup("serial"))
	_ = viper.BindPFlag("simulate.mask", simulateCmd.Flags().Lookup("mask"))
	_ = viper.BindPFlag("simulate.interval", simulateCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("simulate.latitude", simulateCmd.Flags().Lookup("latitude"))
	_ = viper.BindPFlag("simulate.longitude", simulateCmd.Flags().Lookup("longitude"))
	_ = viper.BindPFlag("simulate.elevation", simulateCmd.Flags().Lookup("elevation"))
}

func runSimulate(_ *cobra.Command, _ []string) error {
	log := logger.WithComponent(GetLogger(), "simulator")

	serial, err := strconv.ParseUint(viper.GetString("simulate.serial"), 16, 32)
	if err != nil {
		return fmt.Errorf("invalid serial %q", viper.GetString("simulate.serial"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := mq.New(
		viper.GetString("simulate.rabbitmq.queue_name"),
		viper.GetString("simulate.rabbitmq.url"),
		log,
	)
	defer func() { _ = client.Close() }()

	sim, err := simulate.New(&simulate.Config{
		Logger:         log,
		Publisher:      client,
		Serial:         uint32(serial),
		Mask:           viper.GetString("simulate.mask"),
		Interval:       viper.GetDuration("simulate.interval"),
		GroundElev:     viper.GetFloat64("simulate.elevation"),
		StartLatitude:  viper.GetFloat64("simulate.latitude"),
		StartLongitude: viper.GetFloat64("simulate.longitude"),
	})
	if err != nil {
		return err
	}

	go func() { _ = sim.Run(ctx) }()

	fmt.Printf("Simulating device %s, token %06X\n", sim.Serial(), sim.Token())
	fmt.Println("Commands: ground | calibrate | release | burst | exit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		var stageErr error
		switch cmd := strings.ToLower(strings.TrimSpace(scanner.Text())); cmd {
		case "ground", "calibrate":
			stageErr = sim.SetStage(simulate.StageGround)
		case "release":
			stageErr = sim.SetStage(simulate.StageAscent)
		case "burst":
			stageErr = sim.SetStage(simulate.StageDescent)
		case "exit", "quit":
			fmt.Println("Exiting...")
			return nil
		case "":
		default:
			fmt.Println("Unknown. Valid: ground, calibrate, release, burst, exit")
		}
		if stageErr != nil {
			fmt.Println(stageErr)
			continue
		}
		if stage := sim.Stage(); stage != "" {
			fmt.Printf("stage: %s\n", stage)
		}
	}
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MellowMango/email-campaign-automation-sub001/internal/app"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/config"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reset messages stuck in processing",
	Long:  `Find messages that have been in the processing state longer than the configured bound, mark them failed and schedule retries.`,
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer application.Close()

	swept, err := application.RunSweepOnce(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Swept %d stale messages\n", swept)
	return nil
}
